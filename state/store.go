// Package state checkpoints the market process's mutable state into a
// key-value database so a restarted process resumes with its ledger, friend
// registry and pending sagas intact.
package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"lomarket/storage"
)

// Store persists JSON-encoded state records.
type Store struct {
	db storage.Database
}

// NewStore wraps the given database.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Save writes v under key, JSON encoded.
func (s *Store) Save(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.db.Put([]byte(key), raw); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

// Load reads key into the value pointed to by into. The boolean reports
// whether the key existed.
func (s *Store) Load(key string, into any) (bool, error) {
	raw, err := s.db.Get([]byte(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Delete removes key.
func (s *Store) Delete(key string) error {
	return s.db.Delete([]byte(key))
}
