package message

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lhdbsbz/citychat/internal/content"
	"github.com/lhdbsbz/citychat/internal/stream"
	"github.com/lhdbsbz/citychat/internal/upload"
)

// SplitOffset separates synthetic messages cut from one parent.
const SplitOffset = time.Millisecond

var (
	ErrUnknownMessage = errors.New("unknown message")
	ErrFinalized      = errors.New("message already finalized")
)

// Transcript is the ordered, append-only list of messages in a chat. Each
// in-flight assistant message is written by one exchange; separate exchanges
// keep separate messages.
type Transcript struct {
	mu    sync.Mutex
	msgs  []*Message
	index map[string]*Message
	now   func() time.Time
}

func NewTranscript() *Transcript {
	return &Transcript{index: make(map[string]*Message), now: time.Now}
}

func (t *Transcript) add(m *Message) Message {
	t.msgs = append(t.msgs, m)
	t.index[m.ID] = m
	return *m
}

// AddUserMessage records a submitted utterance. It never changes afterwards.
func (t *Transcript) AddUserMessage(text string, files []upload.UploadedFile) Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.add(&Message{
		ID:            NewID(),
		Role:          RoleUser,
		Content:       text,
		Timestamp:     t.now(),
		AttachedFiles: append([]upload.UploadedFile(nil), files...),
	})
}

// AddAssistantMessage records a finished assistant reply, used for whole
// request failures.
func (t *Transcript) AddAssistantMessage(text string) Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.add(&Message{
		ID:        NewID(),
		Role:      RoleAssistant,
		Content:   text,
		Timestamp: t.now(),
		Final:     true,
	})
}

// BeginAssistantMessage opens an empty assistant message for a stream.
func (t *Transcript) BeginAssistantMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.add(&Message{ID: NewID(), Role: RoleAssistant, Timestamp: t.now()})
	return m.ID
}

func (t *Transcript) open(id string) (*Message, error) {
	m, ok := t.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	if m.Final {
		return nil, fmt.Errorf("%w: %s", ErrFinalized, id)
	}
	return m, nil
}

// AppendDelta appends text to the message. When nothing has arrived yet and
// text is a whole action_input envelope, the content is set to its value.
func (t *Transcript) AppendDelta(id, text string) error {
	if text == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m, err := t.open(id)
	if err != nil {
		return err
	}
	if m.Content == "" {
		if inner, ok := stream.TryUnwrapActionInput(text); ok {
			m.Content = inner
			return nil
		}
	}
	m.Content += text
	return nil
}

// AppendErrorAnnotation appends an upstream error notice to the message.
func (t *Transcript) AppendErrorAnnotation(id, msg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, err := t.open(id)
	if err != nil {
		return err
	}
	m.Content += "\n\n[API Error: " + msg + "]"
	return nil
}

// Finalize unwraps a whole-content envelope once and closes the message.
// Calling it again is a no-op.
func (t *Transcript) Finalize(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	if m.Final {
		return nil
	}
	if inner, ok := stream.TryUnwrapActionInput(m.Content); ok {
		m.Content = inner
	}
	m.Final = true
	return nil
}

// Get returns a copy of one message.
func (t *Transcript) Get(id string) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.index[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Messages returns a snapshot in insertion order.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.msgs))
	for i, m := range t.msgs {
		out[i] = *m
	}
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.msgs)
}

// Expand returns the snapshot with every assistant message holding iframes
// replaced by one message per prose run or embed, in order. Each piece gets
// the parent timestamp plus its position times SplitOffset.
func (t *Transcript) Expand() []Message {
	var out []Message
	for _, m := range t.Messages() {
		out = append(out, ExpandMessage(m)...)
	}
	return out
}

// ExpandMessage splits one message. Messages without embeds come back as is.
func ExpandMessage(m Message) []Message {
	if m.Role != RoleAssistant {
		return []Message{m}
	}
	seg := content.Split(m.Content)
	if !seg.HasEmbeds() {
		return []Message{m}
	}
	out := make([]Message, 0, len(seg.Parts))
	for i, p := range seg.Parts {
		out = append(out, Message{
			ID:        fmt.Sprintf("%s-p%d", m.ID, i),
			Role:      m.Role,
			Content:   p.Text,
			Timestamp: m.Timestamp.Add(time.Duration(i+1) * SplitOffset),
			Final:     m.Final,
			Embed:     p.Kind == content.PartEmbed,
		})
	}
	return out
}
