// Package store persists conversation metadata and runtime configuration
// as JSON files under the data directory.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrConversationNotFound is returned for unknown conversation IDs.
var ErrConversationNotFound = errors.New("conversation not found")

// DefaultConversationTitle is used when a conversation is created untitled.
const DefaultConversationTitle = "New Conversation"

// ConversationMetadata describes one conversation.
type ConversationMetadata struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

type conversationsFile struct {
	Conversations []ConversationMetadata `json:"conversations"`
}

// ConversationStore reads and writes conversation metadata to a JSON file.
// All operations are whole-file read-modify-write under a lock; the store
// is safe for concurrent use within one process.
type ConversationStore struct {
	mu   sync.Mutex
	path string
}

// NewConversationStore opens the store at path, creating the parent
// directory and an empty file when missing.
func NewConversationStore(path string) (*ConversationStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	s := &ConversationStore{path: path}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.save(nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *ConversationStore) save(conversations []ConversationMetadata) error {
	if conversations == nil {
		conversations = []ConversationMetadata{}
	}
	data, err := json.MarshalIndent(conversationsFile{Conversations: conversations}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding conversations: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing conversations file: %w", err)
	}
	return nil
}

// load returns the stored conversations, resetting the file when corrupt.
func (s *ConversationStore) load() []ConversationMetadata {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}

	var file conversationsFile
	if err := json.Unmarshal(data, &file); err != nil {
		slog.Error("Conversations file is corrupt, resetting", "path", s.path, "error", err)
		if err := s.save(nil); err != nil {
			slog.Error("Failed to reset conversations file", "error", err)
		}
		return nil
	}
	return file.Conversations
}

// List returns all conversations, most recently updated first.
func (s *ConversationStore) List() []ConversationMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversations := s.load()
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})
	return conversations
}

// Get returns one conversation by ID.
func (s *ConversationStore) Get(id string) (*ConversationMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conv := range s.load() {
		if conv.ID == id {
			c := conv
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
}

// Create adds a new conversation. An empty title gets the default.
func (s *ConversationStore) Create(title string) (*ConversationMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if title == "" {
		title = DefaultConversationTitle
	}

	now := time.Now().UTC()
	conv := ConversationMetadata{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	conversations := append(s.load(), conv)
	if err := s.save(conversations); err != nil {
		return nil, err
	}

	slog.Info("Created conversation", "id", conv.ID, "title", conv.Title)
	return &conv, nil
}

// Update changes a conversation's title and/or bumps its message count.
// A nil title leaves the title untouched. updated_at is always refreshed.
func (s *ConversationStore) Update(id string, title *string, incrementMessageCount bool) (*ConversationMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversations := s.load()
	for i := range conversations {
		if conversations[i].ID != id {
			continue
		}
		if title != nil {
			conversations[i].Title = *title
		}
		if incrementMessageCount {
			conversations[i].MessageCount++
		}
		conversations[i].UpdatedAt = time.Now().UTC()

		if err := s.save(conversations); err != nil {
			return nil, err
		}
		conv := conversations[i]
		return &conv, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
}

// Delete removes a conversation.
func (s *ConversationStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversations := s.load()
	kept := conversations[:0]
	for _, conv := range conversations {
		if conv.ID != id {
			kept = append(kept, conv)
		}
	}
	if len(kept) == len(conversations) {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}

	if err := s.save(kept); err != nil {
		return err
	}
	slog.Info("Deleted conversation", "id", id)
	return nil
}
