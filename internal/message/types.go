package message

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lhdbsbz/citychat/internal/upload"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry.
type Message struct {
	ID            string                `json:"id"`
	Role          Role                  `json:"role"`
	Content       string                `json:"content"`
	Timestamp     time.Time             `json:"timestamp"`
	AttachedFiles []upload.UploadedFile `json:"attachedFiles,omitempty"`
	// Final is set once the assistant message will take no more deltas.
	Final bool `json:"final,omitempty"`
	// Embed is set on messages produced by Expand that hold a single iframe.
	Embed bool `json:"embed,omitempty"`
}

var idSeq atomic.Uint64

// NewID returns a process-unique message id.
func NewID() string {
	return fmt.Sprintf("m%d-%d", time.Now().UnixMilli(), idSeq.Add(1))
}
