package state

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Change identifies a cache entry whose user-visible projection changed.
type Change struct {
	Kind string // "grouping" or "scene"
	ID   string
}

// Notifier broadcasts cache changes to subscribers. Delivery is best-effort:
// a subscriber that stops draining its channel loses changes rather than
// blocking the cache.
type Notifier struct {
	mu   sync.Mutex
	subs map[int]chan Change
	next int
}

// NewNotifier creates a notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Change)}
}

// Subscribe registers a subscriber. The returned func unsubscribes and
// closes the channel.
func (n *Notifier) Subscribe() (<-chan Change, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	ch := make(chan Change, 16)
	n.subs[id] = ch

	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
	}
}

// Publish broadcasts a change to all subscribers.
func (n *Notifier) Publish(change Change) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs {
		select {
		case ch <- change:
		default:
			log.Debug().Str("kind", change.Kind).Str("id", change.ID).Msg("Dropping change for slow subscriber")
		}
	}
}
