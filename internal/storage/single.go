package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SingleStore persists exactly one value of T, replaced atomically on every
// save. Used for the paired bridge connection record.
type SingleStore[T any] struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSingleStore creates a single-slot store over the bridge_connection table.
func NewSingleStore[T any](db *sql.DB) *SingleStore[T] {
	return &SingleStore[T]{db: db}
}

// Load retrieves the stored value. Returns ok=false if nothing is stored.
// A corrupt payload is cleared and reported as absent.
func (s *SingleStore[T]) Load() (value T, ok bool, err error) {
	s.mu.RLock()
	var payload string
	scanErr := s.db.QueryRow(`SELECT payload FROM bridge_connection WHERE slot = 1`).Scan(&payload)
	s.mu.RUnlock()

	if scanErr == sql.ErrNoRows {
		return value, false, nil
	}
	if scanErr != nil {
		return value, false, scanErr
	}

	if err := json.Unmarshal([]byte(payload), &value); err != nil {
		log.Warn().Err(err).Msg("Discarding corrupt connection record")
		var zero T
		return zero, false, s.Clear()
	}

	return value, true, nil
}

// Save stores the value, replacing any previous one.
func (s *SingleStore[T]) Save(value T) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal connection record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Unix()
	_, err = s.db.Exec(`
		INSERT INTO bridge_connection (slot, payload, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, string(payload), now)

	return err
}

// Clear removes the stored value.
func (s *SingleStore[T]) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM bridge_connection WHERE slot = 1`)
	return err
}
