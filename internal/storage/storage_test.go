package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxlab/huelink/internal/db"
)

type record struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "huelink.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestStoreVersionIncrements(t *testing.T) {
	store := NewStore(openTestDB(t).DB)

	require.NoError(t, store.Set("grouping", "r1", []byte(`{"a":1}`)))
	_, version, err := store.Get("grouping", "r1")
	require.NoError(t, err)
	require.EqualValues(t, 1, version)

	require.NoError(t, store.Set("grouping", "r1", []byte(`{"a":2}`)))
	payload, version, err := store.Get("grouping", "r1")
	require.NoError(t, err)
	require.EqualValues(t, 2, version)
	require.JSONEq(t, `{"a":2}`, string(payload))
}

func TestTypedStoreRoundTrip(t *testing.T) {
	store := NewStore(openTestDB(t).DB)
	typed := NewTypedStore[record](store, "grouping")

	require.NoError(t, typed.Set("r1", record{Name: "Living Room", Value: 42}))

	got, ok, err := typed.Get("r1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record{Name: "Living Room", Value: 42}, got)

	_, ok, err = typed.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTypedStoreCorruptPayloadTreatedAsAbsent(t *testing.T) {
	store := NewStore(openTestDB(t).DB)
	typed := NewTypedStore[record](store, "grouping")

	require.NoError(t, store.Set("grouping", "r1", []byte("{{ not json")))

	_, ok, err := typed.Get("r1")
	require.NoError(t, err)
	require.False(t, ok)

	// The corrupt row is gone, not just skipped.
	payload, _, err := store.Get("grouping", "r1")
	require.NoError(t, err)
	require.Nil(t, payload)
}

func TestTypedStoreGetAllSkipsCorruptRows(t *testing.T) {
	store := NewStore(openTestDB(t).DB)
	typed := NewTypedStore[record](store, "grouping")

	require.NoError(t, typed.Set("r1", record{Name: "ok"}))
	require.NoError(t, store.Set("grouping", "r2", []byte("broken")))

	all, err := typed.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "ok", all["r1"].Name)
}

func TestTypedStoreKindsAreIsolated(t *testing.T) {
	store := NewStore(openTestDB(t).DB)
	groupings := NewTypedStore[record](store, "grouping")
	scenes := NewTypedStore[record](store, "scene")

	require.NoError(t, groupings.Set("x", record{Name: "grouping"}))
	require.NoError(t, scenes.Set("x", record{Name: "scene"}))

	require.NoError(t, groupings.Clear())

	_, ok, err := groupings.Get("x")
	require.NoError(t, err)
	require.False(t, ok)

	got, ok, err := scenes.Get("x")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "scene", got.Name)
}

func TestSingleStoreRoundTrip(t *testing.T) {
	single := NewSingleStore[record](openTestDB(t).DB)

	_, ok, err := single.Load()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, single.Save(record{Name: "bridge", Value: 1}))
	got, ok, err := single.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bridge", got.Name)

	// Save replaces wholesale.
	require.NoError(t, single.Save(record{Name: "other", Value: 2}))
	got, ok, err = single.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "other", got.Name)

	require.NoError(t, single.Clear())
	_, ok, err = single.Load()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSingleStoreCorruptRecordTreatedAsAbsent(t *testing.T) {
	database := openTestDB(t)
	single := NewSingleStore[record](database.DB)

	_, err := database.Exec(`
		INSERT INTO bridge_connection (slot, payload, updated_at) VALUES (1, 'garbage', ?)
	`, time.Now().Unix())
	require.NoError(t, err)

	_, ok, err := single.Load()
	require.NoError(t, err)
	require.False(t, ok)

	// The record was cleared, a later load stays absent without warning.
	_, ok, err = single.Load()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDiscoveryCacheRoundTrip(t *testing.T) {
	cache := NewDiscoveryCache(openTestDB(t).DB)

	_, _, ok, err := cache.Load("https://example.test")
	require.NoError(t, err)
	require.False(t, ok)

	fetched := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	require.NoError(t, cache.Save("https://example.test", []byte(`[{"id":"abc"}]`), fetched))

	payload, at, ok, err := cache.Load("https://example.test")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `[{"id":"abc"}]`, string(payload))
	require.Equal(t, fetched, at)

	require.NoError(t, cache.Delete("https://example.test"))
	_, _, ok, err = cache.Load("https://example.test")
	require.NoError(t, err)
	require.False(t, ok)
}
