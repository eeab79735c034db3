package storage

import (
	"database/sql"
	"sync"
	"time"
)

// DiscoveryCache persists raw cloud discovery responses keyed by endpoint,
// together with the fetch timestamp used for freshness checks.
type DiscoveryCache struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewDiscoveryCache creates a discovery cache over the discovery_cache table.
func NewDiscoveryCache(db *sql.DB) *DiscoveryCache {
	return &DiscoveryCache{db: db}
}

// Load returns the cached payload and its fetch time for an endpoint.
// ok=false when no entry exists.
func (c *DiscoveryCache) Load(endpoint string) (payload []byte, fetchedAt time.Time, ok bool, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var payloadStr string
	var fetched int64
	scanErr := c.db.QueryRow(`
		SELECT payload, fetched_at FROM discovery_cache WHERE endpoint = ?
	`, endpoint).Scan(&payloadStr, &fetched)

	if scanErr == sql.ErrNoRows {
		return nil, time.Time{}, false, nil
	}
	if scanErr != nil {
		return nil, time.Time{}, false, scanErr
	}

	return []byte(payloadStr), time.Unix(fetched, 0).UTC(), true, nil
}

// Save stores the raw response for an endpoint with the given fetch time.
func (c *DiscoveryCache) Save(endpoint string, payload []byte, fetchedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(`
		INSERT INTO discovery_cache (endpoint, payload, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			payload = excluded.payload,
			fetched_at = excluded.fetched_at
	`, endpoint, string(payload), fetchedAt.UTC().Unix())

	return err
}

// Delete removes the cached response for an endpoint.
func (c *DiscoveryCache) Delete(endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(`DELETE FROM discovery_cache WHERE endpoint = ?`, endpoint)
	return err
}
