package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxlab/huelink/internal/db"
	"github.com/luxlab/huelink/internal/storage"
)

func newCloudFixture(t *testing.T, body string, status int) (*CloudLocator, *atomic.Int32, *time.Time) {
	t.Helper()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	database, err := db.Open(filepath.Join(t.TempDir(), "huelink.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	locator := NewCloudLocator(server.URL, 15*time.Minute, storage.NewDiscoveryCache(database.DB), server.Client())
	now := time.Now()
	locator.now = func() time.Time { return now }

	return locator, &calls, &now
}

func TestCloudDiscoverParsesEntries(t *testing.T) {
	locator, _, _ := newCloudFixture(t, `[
		{"id": "ecb5fafffe000001", "internalipaddress": "192.168.1.10", "port": 443},
		{"id": "ecb5fafffe000002", "internalipaddress": "192.168.1.11"}
	]`, http.StatusOK)

	candidates, err := locator.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	require.Equal(t, "ecb5fafffe000001", candidates[0].ID)
	require.Equal(t, "192.168.1.10", candidates[0].Address)
	require.Equal(t, 443, candidates[1].Port) // default when omitted
}

func TestCloudDiscoverServesFromCacheWithinTTL(t *testing.T) {
	locator, calls, now := newCloudFixture(t, `[{"id": "abc", "internalipaddress": "192.168.1.10"}]`, http.StatusOK)
	ctx := context.Background()

	_, err := locator.Discover(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, calls.Load())

	// Within the TTL repeated passes never hit the network.
	*now = now.Add(14 * time.Minute)
	_, err = locator.Discover(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, calls.Load())

	// Past the TTL the next pass refetches.
	*now = now.Add(2 * time.Minute)
	candidates, err := locator.Discover(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
	require.Len(t, candidates, 1)
}

func TestCloudDiscoverEndpointFailure(t *testing.T) {
	locator, _, _ := newCloudFixture(t, "rate limited", http.StatusTooManyRequests)

	_, err := locator.Discover(context.Background())
	require.ErrorIs(t, err, ErrDiscoveryUnavailable)
}

func TestCloudDiscoverUnparsableResponse(t *testing.T) {
	locator, _, _ := newCloudFixture(t, "<html>oops</html>", http.StatusOK)

	_, err := locator.Discover(context.Background())
	require.ErrorIs(t, err, ErrDiscoveryUnavailable)
}

func TestCloudDiscoverCorruptCacheIsRefetched(t *testing.T) {
	locator, calls, _ := newCloudFixture(t, `[{"id": "abc", "internalipaddress": "192.168.1.10"}]`, http.StatusOK)
	ctx := context.Background()

	// Plant a cache entry that no longer parses.
	require.NoError(t, locator.cache.Save(locator.endpoint, []byte("{{corrupt"), locator.now()))

	candidates, err := locator.Discover(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.EqualValues(t, 1, calls.Load())
}

func TestCloudDiscoverWithoutCache(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`[{"id": "abc", "internalipaddress": "192.168.1.10"}]`))
	}))
	defer server.Close()

	locator := NewCloudLocator(server.URL, 15*time.Minute, nil, server.Client())

	for i := 0; i < 2; i++ {
		_, err := locator.Discover(context.Background())
		require.NoError(t, err)
	}
	require.EqualValues(t, 2, calls.Load())
}
