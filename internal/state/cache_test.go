package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxlab/huelink/internal/bridge"
	"github.com/luxlab/huelink/internal/db"
	"github.com/luxlab/huelink/internal/sse"
	"github.com/luxlab/huelink/internal/storage"
)

func newTestCache() (*Cache, *Notifier) {
	notifier := NewNotifier()
	return NewCache(notifier, nil, nil), notifier
}

func room(id, name, groupedLightID string) bridge.Grouping {
	return bridge.Grouping{
		ID:       id,
		Type:     "room",
		Metadata: bridge.Metadata{Name: name},
		Services: []bridge.ResourceRef{{RID: groupedLightID, RType: "grouped_light"}},
	}
}

func groupedLight(id string, on bool, brightness float64) bridge.GroupedLight {
	return bridge.GroupedLight{
		ID:      id,
		On:      &bridge.OnState{On: on},
		Dimming: &bridge.Dimming{Brightness: brightness},
	}
}

func drain(ch <-chan Change) []Change {
	var out []Change
	for {
		select {
		case c := <-ch:
			out = append(out, c)
		default:
			return out
		}
	}
}

func TestRefreshPreservesObservedState(t *testing.T) {
	cache, _ := newTestCache()

	cache.ApplyGroupings([]bridge.Grouping{room("r1", "Living Room", "gl-1")})
	cache.ApplyGroupedLights([]bridge.GroupedLight{groupedLight("gl-1", true, 65)})

	// A later grouping refresh must not blank the observed light state.
	cache.ApplyGroupings([]bridge.Grouping{room("r1", "Living Room", "gl-1")})

	g, ok := cache.Grouping("r1")
	require.True(t, ok)
	require.NotNil(t, g.On)
	require.True(t, *g.On)
	require.NotNil(t, g.Brightness)
	require.InDelta(t, 65, *g.Brightness, 0.001)
}

func TestRefreshRemovesVanishedGroupings(t *testing.T) {
	cache, _ := newTestCache()

	cache.ApplyGroupings([]bridge.Grouping{
		room("r1", "Living Room", "gl-1"),
		room("r2", "Bedroom", "gl-2"),
	})
	cache.ApplyGroupings([]bridge.Grouping{room("r1", "Living Room", "gl-1")})

	_, ok := cache.Grouping("r2")
	require.False(t, ok)
	require.Len(t, cache.Groupings(), 1)
}

func TestDeltaPatchesOnlyPresentFields(t *testing.T) {
	cache, _ := newTestCache()
	cache.ApplyGroupings([]bridge.Grouping{room("r1", "Living Room", "gl-1")})
	cache.ApplyGroupedLights([]bridge.GroupedLight{groupedLight("gl-1", true, 65)})

	cache.ApplyDeltas([]sse.ResourceDelta{{
		ID:      "gl-1",
		Type:    "grouped_light",
		Dimming: &bridge.Dimming{Brightness: 20},
	}})

	g, _ := cache.Grouping("r1")
	require.InDelta(t, 20, *g.Brightness, 0.001)
	// Power was absent from the delta and stays as observed.
	require.True(t, *g.On)
}

func TestDeltaForUnknownIDCreatesPlaceholder(t *testing.T) {
	cache, _ := newTestCache()

	cache.ApplyDeltas([]sse.ResourceDelta{{
		ID:   "gl-new",
		Type: "grouped_light",
		On:   &bridge.OnState{On: true},
	}})

	g, ok := cache.Grouping("gl-new")
	require.True(t, ok)
	require.Equal(t, "gl-new", g.GroupedLightID)
	require.True(t, *g.On)
}

func TestRefreshAdoptsPlaceholderFromEarlierDelta(t *testing.T) {
	cache, _ := newTestCache()

	// A delta arrives before the first refresh ever mentioned gl-1.
	cache.ApplyDeltas([]sse.ResourceDelta{{
		ID:   "gl-1",
		Type: "grouped_light",
		On:   &bridge.OnState{On: true},
	}})

	cache.ApplyGroupings([]bridge.Grouping{room("r1", "Living Room", "gl-1")})

	// The placeholder is gone and its observed state moved into the room.
	_, ok := cache.Grouping("gl-1")
	require.False(t, ok)
	g, ok := cache.Grouping("r1")
	require.True(t, ok)
	require.NotNil(t, g.On)
	require.True(t, *g.On)

	// Confirmed state still routes to the room through the grouped-light id.
	cache.ApplyGroupedLights([]bridge.GroupedLight{groupedLight("gl-1", false, 40)})
	g, _ = cache.Grouping("r1")
	require.False(t, *g.On)
	require.InDelta(t, 40, *g.Brightness, 0.001)

	// And later deltas patch the room instead of respawning a placeholder.
	cache.ApplyDeltas([]sse.ResourceDelta{{
		ID:   "gl-1",
		Type: "grouped_light",
		On:   &bridge.OnState{On: true},
	}})
	_, ok = cache.Grouping("gl-1")
	require.False(t, ok)
	g, _ = cache.Grouping("r1")
	require.True(t, *g.On)
}

func TestLoadWithPartialStores(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "state.sqlite"))
	require.NoError(t, err)
	defer database.Close()
	store := storage.NewStore(database.DB)

	groupingStore := storage.NewTypedStore[Grouping](store, KindGrouping)
	require.NoError(t, groupingStore.Set("r1", Grouping{ID: "r1", Name: "Living Room", GroupedLightID: "gl-1"}))

	cache := NewCache(NewNotifier(), groupingStore, nil)
	require.NoError(t, cache.Load())
	g, ok := cache.Grouping("r1")
	require.True(t, ok)
	require.Equal(t, "Living Room", g.Name)

	sceneStore := storage.NewTypedStore[Scene](store, KindScene)
	require.NoError(t, sceneStore.Set("s1", Scene{ID: "s1", GroupID: "r1", Name: "Relax"}))

	sceneOnly := NewCache(NewNotifier(), nil, sceneStore)
	require.NoError(t, sceneOnly.Load())
	require.Len(t, sceneOnly.Scenes("r1"), 1)
}

func TestConfirmedStateSupersedesOptimistic(t *testing.T) {
	cache, _ := newTestCache()
	cache.ApplyGroupings([]bridge.Grouping{room("r1", "Living Room", "gl-1")})

	cache.OptimisticBrightness("r1", 80)
	g, _ := cache.Grouping("r1")
	require.InDelta(t, 80, *g.Brightness, 0.001)

	cache.ApplyGroupedLights([]bridge.GroupedLight{groupedLight("gl-1", true, 30)})
	g, _ = cache.Grouping("r1")
	require.InDelta(t, 30, *g.Brightness, 0.001)
}

func TestOptimisticPowerTurnsVisibleImmediately(t *testing.T) {
	cache, notifier := newTestCache()
	cache.ApplyGroupings([]bridge.Grouping{room("r1", "Living Room", "gl-1")})

	ch, unsubscribe := notifier.Subscribe()
	defer unsubscribe()

	cache.OptimisticPower("r1", true)

	g, _ := cache.Grouping("r1")
	require.True(t, *g.On)
	changes := drain(ch)
	require.Len(t, changes, 1)
	require.Equal(t, Change{Kind: KindGrouping, ID: "r1"}, changes[0])
}

func TestNoNotificationWithoutProjectionChange(t *testing.T) {
	cache, notifier := newTestCache()
	cache.ApplyGroupings([]bridge.Grouping{room("r1", "Living Room", "gl-1")})
	cache.ApplyGroupedLights([]bridge.GroupedLight{groupedLight("gl-1", true, 65)})

	ch, unsubscribe := notifier.Subscribe()
	defer unsubscribe()

	// Same values again: the projection is unchanged, nothing fires.
	cache.ApplyGroupedLights([]bridge.GroupedLight{groupedLight("gl-1", true, 65)})
	require.Empty(t, drain(ch))

	cache.ApplyGroupedLights([]bridge.GroupedLight{groupedLight("gl-1", true, 66)})
	require.Len(t, drain(ch), 1)
}

func TestSceneActivationIsExclusiveWithinGroup(t *testing.T) {
	cache, _ := newTestCache()
	cache.ApplyScenes([]bridge.Scene{
		{ID: "s1", Metadata: bridge.Metadata{Name: "Relax"}, Group: bridge.ResourceRef{RID: "r1"}, Status: &bridge.SceneStatus{Active: "active"}},
		{ID: "s2", Metadata: bridge.Metadata{Name: "Focus"}, Group: bridge.ResourceRef{RID: "r1"}},
		{ID: "s3", Metadata: bridge.Metadata{Name: "Other"}, Group: bridge.ResourceRef{RID: "r2"}, Status: &bridge.SceneStatus{Active: "active"}},
	})

	cache.ApplyDeltas([]sse.ResourceDelta{{
		ID:     "s2",
		Type:   "scene",
		Status: &bridge.SceneStatus{Active: "active"},
	}})

	scenes := cache.Scenes("r1")
	require.Len(t, scenes, 2)
	for _, s := range scenes {
		switch s.ID {
		case "s1":
			require.False(t, s.Active)
		case "s2":
			require.True(t, s.Active)
		}
	}

	// The other group's active scene is untouched.
	other := cache.Scenes("r2")
	require.Len(t, other, 1)
	require.True(t, other[0].Active)
}

func TestLightsIndexedAcrossGroupings(t *testing.T) {
	cache, _ := newTestCache()
	cache.ApplyGroupings([]bridge.Grouping{
		room("r1", "Living Room", "gl-1"),
		room("r2", "Bedroom", "gl-2"),
	})

	on := true
	cache.ApplyLights("r1", []bridge.Light{
		{ID: "l1", Metadata: bridge.Metadata{Name: "Ceiling"}, On: &bridge.OnState{On: on}},
	})
	cache.ApplyLights("r2", []bridge.Light{
		{ID: "l2", Metadata: bridge.Metadata{Name: "Bedside"}},
	})

	l, ok := cache.Light("l1")
	require.True(t, ok)
	require.Equal(t, "Ceiling", l.Name)
	require.True(t, *l.On)

	_, ok = cache.Light("l2")
	require.True(t, ok)
	_, ok = cache.Light("unknown")
	require.False(t, ok)
}

func TestGroupingsSortedByName(t *testing.T) {
	cache, _ := newTestCache()
	cache.ApplyGroupings([]bridge.Grouping{
		room("r1", "Kitchen", "gl-1"),
		room("r2", "Bedroom", "gl-2"),
		room("r3", "Attic", "gl-3"),
	})

	groupings := cache.Groupings()
	require.Equal(t, []string{"Attic", "Bedroom", "Kitchen"}, []string{groupings[0].Name, groupings[1].Name, groupings[2].Name})
}

func TestClearWipesEverything(t *testing.T) {
	cache, _ := newTestCache()
	cache.ApplyGroupings([]bridge.Grouping{room("r1", "Living Room", "gl-1")})
	cache.ApplyScenes([]bridge.Scene{{ID: "s1", Group: bridge.ResourceRef{RID: "r1"}}})

	cache.Clear()

	require.Empty(t, cache.Groupings())
	require.Empty(t, cache.Scenes(""))
}
