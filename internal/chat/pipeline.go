// Package chat runs the caller side of an exchange: it posts the turn to the
// relay and folds the streamed answer into a transcript.
package chat

import (
	"context"
	"io"
	"log/slog"

	"github.com/lhdbsbz/citychat/internal/content"
	"github.com/lhdbsbz/citychat/internal/message"
	"github.com/lhdbsbz/citychat/internal/stream"
)

// StreamFailureNotice is appended when the transport breaks mid-answer.
const StreamFailureNotice = "\n\nError receiving response stream."

// Result summarizes one consumed stream.
type Result struct {
	MessageID      string
	ConversationID string
	Message        message.Message
	Frames         int
	Skipped        int
	// StreamErr is the transport failure, if the stream broke.
	StreamErr error
}

// Consume reads an SSE body into a new assistant message of tr. Frames are
// applied in arrival order; bad frames are skipped. The message is finalized
// however the stream ends. Cancelling ctx closes body.
func Consume(ctx context.Context, body io.ReadCloser, tr *message.Transcript, emit *EventEmitter) *Result {
	res := &Result{MessageID: tr.BeginAssistantMessage()}
	emit.Emit(EventStreamStart, func(e *Event) { e.MessageID = res.MessageID })

	dec := stream.NewDecoder()
	for line := range stream.ReadLines(ctx, body) {
		if line.Err != nil {
			res.StreamErr = line.Err
			slog.Warn("response stream failed", "message", res.MessageID, "error", line.Err)
			if err := tr.AppendDelta(res.MessageID, StreamFailureNotice); err != nil {
				slog.Warn("append failure notice failed", "message", res.MessageID, "error", err)
			}
			emit.Emit(EventError, func(e *Event) {
				e.MessageID = res.MessageID
				e.Error = line.Err.Error()
			})
			break
		}

		f, err := dec.Decode(line.Text)
		if err != nil {
			res.Skipped++
			slog.Debug("frame skipped", "message", res.MessageID, "error", err)
			continue
		}
		if f == nil {
			continue
		}
		res.Frames++

		switch f := f.(type) {
		case *stream.Delta:
			if err := tr.AppendDelta(res.MessageID, f.Text); err != nil {
				slog.Warn("append delta failed", "message", res.MessageID, "error", err)
				continue
			}
			emit.Emit(EventDelta, func(e *Event) {
				e.MessageID = res.MessageID
				e.Text = f.Text
			})
		case *stream.Annotation:
			slog.Warn("upstream stream error event", "message", res.MessageID, "error", f.Message)
			if err := tr.AppendErrorAnnotation(res.MessageID, f.Message); err != nil {
				slog.Warn("append error annotation failed", "message", res.MessageID, "error", err)
				continue
			}
			emit.Emit(EventAnnotation, func(e *Event) {
				e.MessageID = res.MessageID
				e.Text = f.Message
			})
		}
	}

	if err := tr.Finalize(res.MessageID); err != nil {
		slog.Warn("finalize message failed", "message", res.MessageID, "error", err)
	}
	res.ConversationID = dec.ConversationID()
	var ok bool
	if res.Message, ok = tr.Get(res.MessageID); !ok {
		slog.Warn("assistant message missing after stream", "message", res.MessageID)
	}

	seg := content.Split(res.Message.Content)
	emit.Emit(EventDone, func(e *Event) {
		e.MessageID = res.MessageID
		e.ConversationID = res.ConversationID
		e.Content = res.Message.Content
		e.Parts = seg.Parts
	})
	return res
}
