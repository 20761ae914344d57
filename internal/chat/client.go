package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/lhdbsbz/citychat/internal/dify"
	"github.com/lhdbsbz/citychat/internal/message"
	"github.com/lhdbsbz/citychat/internal/tts"
	"github.com/lhdbsbz/citychat/internal/upload"
)

// ErrBusy is returned when Send is called while an exchange is streaming.
var ErrBusy = errors.New("an exchange is already in progress")

// Request is the relay's POST /api/chat body.
type Request struct {
	Query          string         `json:"query"`
	ConversationID string         `json:"conversation_id,omitempty"`
	User           string         `json:"user,omitempty"`
	Files          []dify.FileRef `json:"files,omitempty"`
}

// RelayError is a non-2xx answer from the relay.
type RelayError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *RelayError) Error() string {
	if e.Details != "" {
		return e.Message + " - " + e.Details
	}
	return e.Message
}

// Client is one chat session against the relay. It owns the transcript and
// the conversation id, and allows one exchange at a time.
type Client struct {
	RelayURL   string
	UserID     string
	HTTPClient *http.Client
	Cookies    []*http.Cookie
	Uploads    *upload.Adapter

	mu             sync.Mutex
	busy           bool
	conversationID string
	transcript     *message.Transcript
}

func NewClient(relayURL, userID string, cookies ...*http.Cookie) *Client {
	relayURL = strings.TrimRight(relayURL, "/")
	return &Client{
		RelayURL:   relayURL,
		UserID:     userID,
		HTTPClient: http.DefaultClient,
		Cookies:    cookies,
		Uploads:    upload.NewAdapter(relayURL, cookies...),
		transcript: message.NewTranscript(),
	}
}

// ConversationID returns the captured upstream conversation, or "".
func (c *Client) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// SetConversationID resumes an earlier conversation.
func (c *Client) SetConversationID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = id
}

// Transcript returns the live transcript.
func (c *Client) Transcript() *message.Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript
}

// NewChat forgets the conversation and starts an empty transcript.
func (c *Client) NewChat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = ""
	c.transcript = message.NewTranscript()
}

// Send runs one exchange: uploads attachments, records the user turn, posts
// it and consumes the answer. A request that fails before streaming is
// recorded as an assistant "Error: ..." message and returned as an error.
func (c *Client) Send(ctx context.Context, text string, files []upload.File, sink EventSink) (*Result, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.busy = true
	tr := c.transcript
	convID := c.conversationID
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	emit := NewEventEmitter(uuid.NewString(), sink)

	uploaded, warnings := c.Uploads.UploadAll(ctx, files, c.UserID)
	for _, w := range warnings {
		emit.Emit(EventWarning, func(e *Event) { e.Text = w })
	}
	tr.AddUserMessage(text, uploaded)

	resp, err := c.post(ctx, Request{
		Query:          text,
		ConversationID: convID,
		User:           c.UserID,
		Files:          upload.Refs(uploaded),
	})
	if err != nil {
		msg := tr.AddAssistantMessage("Error: " + err.Error())
		emit.Emit(EventError, func(e *Event) {
			e.MessageID = msg.ID
			e.Error = err.Error()
		})
		return nil, err
	}

	res := Consume(ctx, resp.Body, tr, emit)
	if res.ConversationID != "" {
		c.mu.Lock()
		if c.conversationID == "" && c.transcript == tr {
			c.conversationID = res.ConversationID
		}
		c.mu.Unlock()
	}
	return res, nil
}

func (c *Client) newRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.RelayURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for _, ck := range c.Cookies {
		req.AddCookie(ck)
	}
	return req, nil
}

func (c *Client) post(ctx context.Context, body Request) (*http.Response, error) {
	req, err := c.newRequest(ctx, "/api/chat", body)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readRelayError(resp)
	}
	return resp, nil
}

func readRelayError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	re := &RelayError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("HTTP error! status: %d", resp.StatusCode)}
	var body struct {
		Error   string          `json:"error"`
		Details json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		re.Details = strings.TrimSpace(string(data))
		return re
	}
	if body.Error != "" {
		re.Message = body.Error
	}
	if len(body.Details) > 0 {
		var s string
		if json.Unmarshal(body.Details, &s) == nil {
			re.Details = s
		} else {
			re.Details = string(body.Details)
		}
	} else {
		re.Details = string(data)
	}
	return re
}

// Speak fetches MPEG audio for text from the relay. Text is cleaned first;
// it returns (nil, nil) when too little is left to say.
func (c *Client) Speak(ctx context.Context, text, voiceID string) ([]byte, error) {
	cleaned := tts.CleanText(text)
	if !tts.Speakable(cleaned) {
		return nil, nil
	}
	req, err := c.newRequest(ctx, "/api/tts", map[string]string{"text": cleaned, "voiceId": voiceID})
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readRelayError(resp)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return audio, nil
}
