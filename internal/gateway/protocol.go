package gateway

import (
	"encoding/json"

	"github.com/lhdbsbz/citychat/internal/dify"
)

// Frame is the universal WebSocket message format.
// Three types: "req" (client→server), "res" (server→client), "event" (server→client push).
type Frame struct {
	Type    string          `json:"type"`              // "req" | "res" | "event"
	ID      string          `json:"id,omitempty"`      // request/response correlation ID
	Method  string          `json:"method,omitempty"`  // for req: method name
	Params  json.RawMessage `json:"params,omitempty"`  // for req: method parameters
	OK      *bool           `json:"ok,omitempty"`      // for res: success flag
	Payload json.RawMessage `json:"payload,omitempty"` // for res: response data
	Error   *ErrorPayload   `json:"error,omitempty"`   // for res: error details
	Event   string          `json:"event,omitempty"`   // for event: event name
	Seq     int             `json:"seq,omitempty"`     // for event: sequence number
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Methods
const (
	MethodConnect     = "connect"
	MethodChatSend    = "chat.send"
	MethodChatHistory = "chat.history"
	MethodChatNew     = "chat.new"
)

// Events
const (
	EventChatDelta = "chat.delta"
	EventChatError = "chat.error"
	EventChatDone  = "chat.done"
)

// Error codes
const (
	CodeHandshakeRequired = "HANDSHAKE_REQUIRED"
	CodeInvalidParams     = "INVALID_PARAMS"
	CodeAuthFailed        = "AUTH_FAILED"
	CodeUnknownMethod     = "UNKNOWN_METHOD"
	CodeBusy              = "BUSY"
	CodeUpstream          = "UPSTREAM_ERROR"
	CodeRateLimited       = "RATE_LIMITED"
)

// ConnectParams is sent by the client during handshake. Token falls back to
// the session cookie of the upgrade request.
type ConnectParams struct {
	Token  string `json:"token,omitempty"`
	Client string `json:"client,omitempty"` // free-form client name, logged only
	// Viewport selects how embeds are rendered in chat.done and chat.history:
	// "narrow" boxes them by aspect ratio, anything else by pixel size.
	Viewport string `json:"viewport,omitempty"`
}

// ChatSendParams mirrors the /api/chat body.
type ChatSendParams struct {
	Query          string         `json:"query"`
	ConversationID string         `json:"conversationId,omitempty"`
	User           string         `json:"user,omitempty"`
	Files          []dify.FileRef `json:"files,omitempty" binding:"omitempty,dive"`
}

// Helper to create response frames

func ResOK(id string, payload any) Frame {
	data, _ := json.Marshal(payload)
	ok := true
	return Frame{Type: "res", ID: id, OK: &ok, Payload: data}
}

func ResErr(id string, code, message string) Frame {
	ok := false
	return Frame{Type: "res", ID: id, OK: &ok, Error: &ErrorPayload{Code: code, Message: message}}
}

func EventFrame(event string, seq int, payload any) Frame {
	data, _ := json.Marshal(payload)
	return Frame{Type: "event", Event: event, Seq: seq, Payload: data}
}
