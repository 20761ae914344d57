package chat

import (
	"time"

	"github.com/lhdbsbz/citychat/internal/content"
)

// EventType constants
const (
	EventStreamStart = "stream_start"
	EventDelta       = "delta"
	EventAnnotation  = "annotation"
	EventWarning     = "warning"
	EventError       = "error"
	EventDone        = "done"
)

// Event is emitted while one exchange is processed.
type Event struct {
	Type           string    `json:"type"`
	RunID          string    `json:"runId"`
	MessageID      string    `json:"messageId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Seq            int       `json:"seq"`
	Timestamp      time.Time `json:"timestamp"`

	// For delta / annotation / warning
	Text string `json:"text,omitempty"`

	// For error
	Error string `json:"error,omitempty"`

	// For done
	Content string         `json:"content,omitempty"`
	Parts   []content.Part `json:"parts,omitempty"`
}

// EventSink receives events from the pipeline.
type EventSink func(Event)

// EventEmitter provides sequential event emission for a single run.
type EventEmitter struct {
	runID string
	sink  EventSink
	seq   int
}

func NewEventEmitter(runID string, sink EventSink) *EventEmitter {
	return &EventEmitter{runID: runID, sink: sink}
}

func (e *EventEmitter) Emit(eventType string, mutators ...func(*Event)) {
	if e == nil || e.sink == nil {
		return
	}
	e.seq++
	evt := Event{
		Type:      eventType,
		RunID:     e.runID,
		Seq:       e.seq,
		Timestamp: time.Now(),
	}
	for _, m := range mutators {
		m(&evt)
	}
	e.sink(evt)
}
