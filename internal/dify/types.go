package dify

import (
	"encoding/json"
	"fmt"
)

// TransferLocalFile is the only transfer method the relay forwards.
const TransferLocalFile = "local_file"

// FileRef points a chat request at a previously uploaded file.
type FileRef struct {
	Type           string `json:"type" binding:"required" validate:"required"`
	TransferMethod string `json:"transfer_method" binding:"required,eq=local_file" validate:"required,eq=local_file"`
	UploadFileID   string `json:"upload_file_id" binding:"required" validate:"required"`
}

// ChatRequest is the body of POST /chat-messages.
type ChatRequest struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	ResponseMode   string         `json:"response_mode"`
	User           string         `json:"user"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Files          []FileRef      `json:"files,omitempty"`
}

// UploadResult is the subset of the /files/upload response the relay reads.
type UploadResult struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Extension string `json:"extension"`
	MimeType  string `json:"mime_type"`
	CreatedBy string `json:"created_by"`
	CreatedAt int64  `json:"created_at"`
}

// APIError is a non-2xx answer from Dify. Body holds the full response body.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dify api error (status %d): %s", e.StatusCode, e.Body)
}

// Details returns the body as decoded JSON when it parses, else the raw text.
func (e *APIError) Details() any {
	var v any
	if err := json.Unmarshal([]byte(e.Body), &v); err == nil {
		return v
	}
	return e.Body
}
