package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/luxlab/huelink/internal/storage"
)

// ErrDiscoveryUnavailable marks a cloud discovery failure (network error or a
// non-200 response). Callers fall back to manual entry when they see it.
var ErrDiscoveryUnavailable = errors.New("cloud discovery unavailable")

// cloudEntry is one bridge record as returned by the discovery endpoint.
type cloudEntry struct {
	ID      string `json:"id"`
	Address string `json:"internalipaddress"`
	Port    int    `json:"port"`
}

// CloudLocator resolves bridges via the vendor's discovery endpoint. The raw
// response body is cached in the database and reused within the TTL, so
// repeated passes inside the window never hit the network.
type CloudLocator struct {
	endpoint   string
	ttl        time.Duration
	cache      *storage.DiscoveryCache
	httpClient *http.Client

	// now is swappable for tests.
	now func() time.Time
}

// NewCloudLocator creates a cloud locator. cache may be nil to disable
// response caching entirely.
func NewCloudLocator(endpoint string, ttl time.Duration, cache *storage.DiscoveryCache, httpClient *http.Client) *CloudLocator {
	return &CloudLocator{
		endpoint:   endpoint,
		ttl:        ttl,
		cache:      cache,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Discover returns bridge candidates from the discovery endpoint, serving
// from cache when a fresh entry exists. Network and HTTP failures wrap
// ErrDiscoveryUnavailable.
func (l *CloudLocator) Discover(ctx context.Context) ([]Candidate, error) {
	if raw, ok := l.loadCached(); ok {
		if candidates, err := parseCloudResponse(raw); err == nil {
			return candidates, nil
		}
		// Cached body no longer parses; treat as absent and refetch.
		log.Warn().Str("endpoint", l.endpoint).Msg("Discarding corrupt discovery cache entry")
		if err := l.cache.Delete(l.endpoint); err != nil {
			log.Warn().Err(err).Msg("Failed to delete discovery cache entry")
		}
	}

	raw, err := l.fetch(ctx)
	if err != nil {
		return nil, err
	}

	candidates, err := parseCloudResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryUnavailable, err)
	}

	if l.cache != nil {
		if err := l.cache.Save(l.endpoint, raw, l.now()); err != nil {
			log.Warn().Err(err).Msg("Failed to cache discovery response")
		}
	}

	return candidates, nil
}

func (l *CloudLocator) loadCached() ([]byte, bool) {
	if l.cache == nil {
		return nil, false
	}
	raw, fetchedAt, ok, err := l.cache.Load(l.endpoint)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read discovery cache")
		return nil, false
	}
	if !ok || l.now().Sub(fetchedAt) >= l.ttl {
		return nil, false
	}
	return raw, true
}

func (l *CloudLocator) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: endpoint returned status %d", ErrDiscoveryUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryUnavailable, err)
	}
	return raw, nil
}

func parseCloudResponse(raw []byte) ([]Candidate, error) {
	var entries []cloudEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(entries))
	for _, entry := range entries {
		if entry.ID == "" || entry.Address == "" {
			continue
		}
		port := entry.Port
		if port == 0 {
			port = 443
		}
		candidates = append(candidates, Candidate{
			ID:      entry.ID,
			Address: entry.Address,
			Port:    port,
		})
	}
	return candidates, nil
}
