// Package upload sends user attachments through the relay and turns them into
// file references for the next chat request.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/lhdbsbz/citychat/internal/dify"
)

// MaxFileBytes is the largest accepted attachment. A file of exactly this size is allowed.
const MaxFileBytes int64 = 15 * 1024 * 1024

var (
	ErrFileTooLarge = errors.New("file exceeds upload limit")
	ErrNoUser       = errors.New("user id is required")
)

// UploadedFile is an attachment accepted upstream. ID is the opaque upstream handle.
type UploadedFile struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Size int64    `json:"size"`
	Type FileType `json:"type"`
}

// Ref is the chat request entry for f.
func (f UploadedFile) Ref() dify.FileRef {
	return dify.FileRef{Type: string(f.Type), TransferMethod: dify.TransferLocalFile, UploadFileID: f.ID}
}

// Refs converts a batch of uploads for a chat request.
func Refs(files []UploadedFile) []dify.FileRef {
	if len(files) == 0 {
		return nil
	}
	refs := make([]dify.FileRef, len(files))
	for i, f := range files {
		refs[i] = f.Ref()
	}
	return refs
}

// File is a local attachment waiting to be uploaded.
type File struct {
	Name string
	MIME string
	Size int64
	Body io.Reader
}

// OpenFile opens path as a File, sniffing its MIME type. The caller closes the returned file.
func OpenFile(path string) (File, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, nil, fmt.Errorf("open attachment: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return File{}, nil, fmt.Errorf("stat attachment: %w", err)
	}
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return File{}, nil, fmt.Errorf("detect mime type: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return File{}, nil, fmt.Errorf("rewind attachment: %w", err)
	}
	return File{Name: filepath.Base(path), MIME: mt.String(), Size: info.Size(), Body: f}, f, nil
}

// Adapter uploads files to the relay's /api/upload endpoint.
type Adapter struct {
	Endpoint   string
	HTTPClient *http.Client
	// Cookies are attached to each request, normally the session cookie.
	Cookies  []*http.Cookie
	MaxBytes int64
}

func NewAdapter(relayURL string, cookies ...*http.Cookie) *Adapter {
	return &Adapter{
		Endpoint:   strings.TrimRight(relayURL, "/") + "/api/upload",
		HTTPClient: http.DefaultClient,
		Cookies:    cookies,
		MaxBytes:   MaxFileBytes,
	}
}

// CheckSize rejects files over limit before anything is sent.
func CheckSize(name string, size, limit int64) error {
	if size > limit {
		return fmt.Errorf("%s is %s, over the %s limit: %w",
			name, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limit)), ErrFileTooLarge)
	}
	return nil
}

// Upload sends f for userID and returns the upstream handle.
func (a *Adapter) Upload(ctx context.Context, f File, userID string) (*UploadedFile, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	limit := a.MaxBytes
	if limit <= 0 {
		limit = MaxFileBytes
	}
	if err := CheckSize(f.Name, f.Size, limit); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(f.Name)))
	ct := f.MIME
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, io.LimitReader(f.Body, limit+1)); err != nil {
		return nil, fmt.Errorf("copy attachment: %w", err)
	}
	if err := mw.WriteField("user", userID); err != nil {
		return nil, fmt.Errorf("write user field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for _, c := range a.Cookies {
		req.AddCookie(c)
	}

	client := a.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		ID      string `json:"id"`
		Error   string `json:"error"`
		Details any    `json:"details"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode upload response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := result.Error
		if result.Details != nil {
			msg = fmt.Sprint(result.Details)
		}
		return nil, fmt.Errorf("upload failed for %s: %s", f.Name, msg)
	}
	if result.ID == "" {
		return nil, fmt.Errorf("upload failed for %s: no file id returned", f.Name)
	}

	return &UploadedFile{
		ID:   result.ID,
		Name: f.Name,
		Size: f.Size,
		Type: ClassifyFile(f.Name, f.MIME),
	}, nil
}

// UploadAll uploads files in order. Failed files are left out and reported
// as warnings; the caller goes on with whatever succeeded.
func (a *Adapter) UploadAll(ctx context.Context, files []File, userID string) ([]UploadedFile, []string) {
	var ok []UploadedFile
	var warnings []string
	for _, f := range files {
		uf, err := a.Upload(ctx, f, userID)
		if err != nil {
			slog.Warn("attachment upload failed", "file", f.Name, "error", err)
			warnings = append(warnings, err.Error())
			continue
		}
		ok = append(ok, *uf)
	}
	return ok, warnings
}

func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}
