package app

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/luxlab/huelink/internal/storage"
)

const identityKind = "identity"

// Identity supplies the devicetype instance suffix used during pairing.
// A configured device name takes precedence; otherwise a generated id is
// persisted so the bridge sees the same installation across restarts.
type Identity struct {
	name  string
	store *storage.TypedStore[string]

	mu     sync.Mutex
	cached string
}

// NewIdentity creates an identity. name may be empty.
func NewIdentity(store *storage.Store, name string) *Identity {
	return &Identity{
		name:  name,
		store: storage.NewTypedStore[string](store, identityKind),
	}
}

// DeviceID returns the stable installation identifier.
func (i *Identity) DeviceID() (string, bool) {
	if i.name != "" {
		return i.name, true
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cached != "" {
		return i.cached, true
	}

	id, ok, err := i.store.Get("device")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load device identity")
		return "", false
	}
	if !ok {
		id = uuid.NewString()
		if err := i.store.Set("device", id); err != nil {
			log.Warn().Err(err).Msg("Failed to persist device identity")
		}
	}

	i.cached = id
	return id, true
}
