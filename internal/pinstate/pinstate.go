// Package pinstate persists the identity of the pinned status message across
// process restarts.
//
// The record is the daemon's only durable state. Its absence is a valid
// initial condition, and the daemon never deletes it on its own: the only
// deletion path is a manual operator action.
package pinstate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/TorbenWetter/openclaw-status-pin/internal/atomicfile"
)

// Record identifies the pinned message. If present it refers to a message
// that either still exists or has been superseded by a freshly created one
// written atomically in its place.
type Record struct {
	// MessageID is the Telegram message identity of the pinned message.
	MessageID int64 `json:"message_id"`
	// ChatID is the chat the message lives in. A chat mismatch at publish
	// time invalidates the record.
	ChatID string `json:"chat_id"`
	// SessionFile is the transcript path that was being monitored when the
	// message was created.
	SessionFile string `json:"session_file"`
}

// Store reads and writes the pin record at a fixed path.
type Store struct {
	path string
}

// NewStore creates a store persisting to the given path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the persisted record, or (nil, nil) when no record exists.
// An unreadable or corrupt record is an error; the publisher then behaves
// as if no record existed rather than guessing at a message identity.
func (s *Store) Load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pin record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse pin record: %w", err)
	}
	if rec.MessageID == 0 || rec.ChatID == "" {
		return nil, fmt.Errorf("pin record at %s is incomplete", s.path)
	}
	return &rec, nil
}

// Save atomically overwrites the record.
func (s *Store) Save(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("pin record is nil")
	}
	return atomicfile.WriteJSON(s.path, rec, 0o644)
}
