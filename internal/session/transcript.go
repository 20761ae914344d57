package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lhdbsbz/citychat/internal/message"
)

// TranscriptEntry is a single line in the JSONL transcript file.
type TranscriptEntry struct {
	Type      string           `json:"type"` // "message" | "reset"
	Timestamp time.Time        `json:"timestamp"`
	Message   *message.Message `json:"message,omitempty"`
}

// Transcript manages append-only JSONL transcript files.
type Transcript struct {
	path string
}

func NewTranscript(path string) *Transcript {
	return &Transcript{path: path}
}

func (t *Transcript) Path() string { return t.path }

// Append writes message entries to the transcript file.
func (t *Transcript) Append(msgs ...message.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for i := range msgs {
		data, err := json.Marshal(TranscriptEntry{Type: "message", Timestamp: time.Now(), Message: &msgs[i]})
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

// Load reads all messages from the transcript. Malformed lines are skipped.
func (t *Transcript) Load() ([]message.Message, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var messages []message.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry TranscriptEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue // skip malformed lines
		}
		if entry.Type == "message" && entry.Message != nil {
			messages = append(messages, *entry.Message)
		}
	}
	return messages, scanner.Err()
}
