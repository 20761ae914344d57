package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Entry holds metadata for a single terminal chat session.
type Entry struct {
	Name           string    `json:"name"`
	ConversationID string    `json:"conversationId,omitempty"`
	UserID         string    `json:"userId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	Exchanges      int       `json:"exchanges"`
}

// Store manages session metadata and provides session lookup/creation.
type Store struct {
	mu       sync.RWMutex
	baseDir  string
	sessions map[string]*Entry // name → entry
}

func NewStore(baseDir string) *Store {
	return &Store{
		baseDir:  baseDir,
		sessions: make(map[string]*Entry),
	}
}

// Load reads session metadata from disk.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.metaPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read session store: %w", err)
	}

	var entries map[string]*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse session store: %w", err)
	}
	if entries == nil {
		entries = make(map[string]*Entry)
	}
	s.sessions = entries
	return nil
}

// Save persists session metadata to disk (atomic write).
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metaPath := s.metaPath()
	if err := os.MkdirAll(filepath.Dir(metaPath), 0755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session store: %w", err)
	}

	tmpPath := metaPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write session store: %w", err)
	}
	return os.Rename(tmpPath, metaPath)
}

// Get returns a copy of an existing session entry.
func (s *Store) Get(name string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// GetOrCreate returns an existing session or creates a new one.
func (s *Store) GetOrCreate(name, userID string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.sessions[name]; ok {
		return *entry
	}
	now := time.Now()
	entry := &Entry{Name: name, UserID: userID, CreatedAt: now, UpdatedAt: now}
	s.sessions[name] = entry
	return *entry
}

// RecordExchange stores the conversation id after a completed exchange.
func (s *Store) RecordExchange(name, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.sessions[name]; ok {
		if conversationID != "" {
			entry.ConversationID = conversationID
		}
		entry.Exchanges++
		entry.UpdatedAt = time.Now()
	}
}

// Reset clears the conversation of a session and drops its transcript.
func (s *Store) Reset(name string) error {
	s.mu.Lock()
	if entry, ok := s.sessions[name]; ok {
		entry.ConversationID = ""
		entry.Exchanges = 0
		entry.UpdatedAt = time.Now()
	}
	s.mu.Unlock()

	if err := os.Remove(s.TranscriptPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove transcript: %w", err)
	}
	return s.Save()
}

// List returns all session entries, most recently used first.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UpdatedAt.After(entries[j].UpdatedAt) })
	return entries
}

// Delete removes a session entry and its transcript.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	delete(s.sessions, name)
	s.mu.Unlock()

	if err := os.Remove(s.TranscriptPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove transcript: %w", err)
	}
	return s.Save()
}

// TranscriptPath returns the file path for a session's transcript.
func (s *Store) TranscriptPath(name string) string {
	return filepath.Join(s.baseDir, safeFileName(name)+".jsonl")
}

func (s *Store) metaPath() string {
	return filepath.Join(s.baseDir, "meta.json")
}

// safeFileName converts a session name to a safe filename.
func safeFileName(key string) string {
	safe := make([]byte, 0, len(key))
	for _, c := range []byte(key) {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.' {
			safe = append(safe, c)
		} else {
			safe = append(safe, '_')
		}
	}
	return string(safe)
}
