package storage

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

// TypedStore wraps Store with JSON marshaling for a specific type.
// Each cached resource kind uses its own TypedStore instance.
type TypedStore[T any] struct {
	store *Store
	kind  string
}

// NewTypedStore creates a new typed store wrapper for the given kind.
func NewTypedStore[T any](store *Store, kind string) *TypedStore[T] {
	return &TypedStore[T]{
		store: store,
		kind:  kind,
	}
}

// Kind returns the resource kind this store handles.
func (s *TypedStore[T]) Kind() string {
	return s.kind
}

// Get retrieves and unmarshals the state for an ID.
// Returns the zero value and ok=false if not found. A corrupt payload is
// cleared and reported as not found.
func (s *TypedStore[T]) Get(id string) (value T, ok bool, err error) {
	payload, _, err := s.store.Get(s.kind, id)
	if err != nil {
		return value, false, err
	}

	if payload == nil {
		return value, false, nil
	}

	if err := json.Unmarshal(payload, &value); err != nil {
		log.Warn().Err(err).Str("kind", s.kind).Str("id", id).Msg("Discarding corrupt stored state")
		var zero T
		return zero, false, s.store.Delete(s.kind, id)
	}

	return value, true, nil
}

// Set marshals and stores the state for an ID.
func (s *TypedStore[T]) Set(id string, value T) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	return s.store.Set(s.kind, id, payload)
}

// Delete removes the state for an ID.
func (s *TypedStore[T]) Delete(id string) error {
	return s.store.Delete(s.kind, id)
}

// Clear removes all state for this kind.
func (s *TypedStore[T]) Clear() error {
	return s.store.Clear(s.kind)
}

// GetAll retrieves all entries for this kind, skipping corrupt payloads.
func (s *TypedStore[T]) GetAll() (map[string]T, error) {
	payloads, err := s.store.GetAll(s.kind)
	if err != nil {
		return nil, err
	}

	values := make(map[string]T, len(payloads))
	for id, payload := range payloads {
		var value T
		if err := json.Unmarshal(payload, &value); err != nil {
			log.Warn().Err(err).Str("kind", s.kind).Str("id", id).Msg("Discarding corrupt stored state")
			if err := s.store.Delete(s.kind, id); err != nil {
				return nil, err
			}
			continue
		}
		values[id] = value
	}

	return values, nil
}
