package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Upstream event names the decoder understands.
const (
	EventMessage      = "message"
	EventAgentMessage = "agent_message"
	EventError        = "error"
)

// DefaultErrorMessage annotates an error event that carries no message.
const DefaultErrorMessage = "Unknown error from API during response generation"

// ErrEmptyFrame is returned for a data line with nothing after the prefix.
var ErrEmptyFrame = errors.New("empty frame")

// ErrInvalidFrame wraps frames whose fields do not fit their event.
var ErrInvalidFrame = errors.New("invalid frame")

// Frame is a decoded upstream event: *Delta or *Annotation.
type Frame interface {
	frame()
}

// Delta carries a content fragment for the in-flight assistant message.
type Delta struct {
	Event string
	Text  string
}

// Annotation carries an upstream error to append to the assistant message.
type Annotation struct {
	Event   string
	Message string
}

func (*Delta) frame()      {}
func (*Annotation) frame() {}

// wireHeader is read from every frame before the event picks a variant.
type wireHeader struct {
	Event          string `json:"event" validate:"required"`
	ConversationID string `json:"conversation_id"`
}

type wireMessage struct {
	Event  string `json:"event" validate:"required,oneof=message agent_message"`
	Answer string `json:"answer" validate:"required"`
}

type wireError struct {
	Event   string `json:"event" validate:"required,eq=error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Decoder classifies framed data lines. It holds the conversation id of the
// stream and is owned by a single consumer.
type Decoder struct {
	validate       *validator.Validate
	conversationID string
}

func NewDecoder() *Decoder {
	return &Decoder{validate: validator.New()}
}

// ConversationID returns the first conversation id seen on the stream.
func (d *Decoder) ConversationID() string {
	return d.conversationID
}

// Decode parses one data line. It returns (nil, nil) for events that carry
// nothing for the transcript and a non-nil error for frames that must be
// skipped. Neither case should end the stream.
func (d *Decoder) Decode(line string) (Frame, error) {
	payload := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "data:"))
	if payload == "" {
		return nil, ErrEmptyFrame
	}
	data := []byte(payload)

	var hdr wireHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}
	if d.conversationID == "" && hdr.ConversationID != "" {
		d.conversationID = hdr.ConversationID
	}
	if err := d.check(&hdr); err != nil {
		return nil, err
	}

	switch hdr.Event {
	case EventMessage, EventAgentMessage:
		var wm wireMessage
		if err := d.decodeVariant(data, &wm); err != nil {
			return nil, err
		}
		text := wm.Answer
		if inner, ok := TryUnwrapActionInput(text); ok {
			text = inner
		}
		return &Delta{Event: wm.Event, Text: text}, nil
	case EventError:
		var we wireError
		if err := d.decodeVariant(data, &we); err != nil {
			return nil, err
		}
		msg := we.Message
		if msg == "" {
			msg = DefaultErrorMessage
		}
		return &Annotation{Event: we.Event, Message: msg}, nil
	default:
		return nil, nil
	}
}

func (d *Decoder) decodeVariant(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	return d.check(v)
}

func (d *Decoder) check(v any) error {
	if err := d.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	return nil
}
