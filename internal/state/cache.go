// Package state holds the local cache of bridge resources: the merge rules
// for REST refreshes and stream deltas, optimistic command echoes, change
// notification and the per-resource command throttle.
package state

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/luxlab/huelink/internal/bridge"
	"github.com/luxlab/huelink/internal/sse"
	"github.com/luxlab/huelink/internal/storage"
)

// Persistence kinds in the resource_state table.
const (
	KindGrouping = "grouping"
	KindScene    = "scene"
)

// Light is the cached view of one bulb inside a grouping.
type Light struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	On         *bool    `json:"on,omitempty"`
	Brightness *float64 `json:"brightness,omitempty"`
}

// Grouping is the cached view of a room or zone together with its aggregate
// light state. State fields are pointers: nil means never observed.
type Grouping struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Name           string `json:"name"`
	GroupedLightID string `json:"grouped_light_id,omitempty"`

	On         *bool      `json:"on,omitempty"`
	Brightness *float64   `json:"brightness,omitempty"`
	Mirek      *int       `json:"mirek,omitempty"`
	XY         *bridge.XY `json:"xy,omitempty"`

	Lights []Light `json:"lights,omitempty"`

	// optimistic marks state echoed from an unconfirmed command. It is
	// deliberately unexported so persisted records only ever hold
	// bridge-confirmed state.
	optimistic bool
}

// Scene is the cached view of a scene.
type Scene struct {
	ID      string `json:"id"`
	GroupID string `json:"group_id"`
	Name    string `json:"name"`
	Active  bool   `json:"active"`
}

// projection is the comparable slice of a grouping that subscribers render.
// Notifications fire only when it changes.
type projection struct {
	name     string
	on       bool
	hasOn    bool
	bri      float64
	hasBri   bool
	mirek    int
	hasMirek bool
	xy       bridge.XY
	hasXY    bool
}

func project(g *Grouping) projection {
	p := projection{name: g.Name}
	if g.On != nil {
		p.on, p.hasOn = *g.On, true
	}
	if g.Brightness != nil {
		p.bri, p.hasBri = *g.Brightness, true
	}
	if g.Mirek != nil {
		p.mirek, p.hasMirek = *g.Mirek, true
	}
	if g.XY != nil {
		p.xy, p.hasXY = *g.XY, true
	}
	return p
}

// Cache is the authoritative local copy of bridge state. All mutation goes
// through Apply* and Optimistic* methods; reads return copies.
type Cache struct {
	mu sync.RWMutex

	groupings      map[string]*Grouping
	byGroupedLight map[string]string // grouped_light id -> grouping id
	scenes         map[string]*Scene
	lights         map[string]Light // flat index across groupings

	notifier      *Notifier
	groupingStore *storage.TypedStore[Grouping]
	sceneStore    *storage.TypedStore[Scene]
}

// NewCache creates a cache. Stores may be nil for a memory-only cache.
func NewCache(notifier *Notifier, groupingStore *storage.TypedStore[Grouping], sceneStore *storage.TypedStore[Scene]) *Cache {
	return &Cache{
		groupings:      make(map[string]*Grouping),
		byGroupedLight: make(map[string]string),
		scenes:         make(map[string]*Scene),
		lights:         make(map[string]Light),
		notifier:       notifier,
		groupingStore:  groupingStore,
		sceneStore:     sceneStore,
	}
}

// Load hydrates the cache from persisted state. Corrupt records were already
// dropped by the store, so whatever loads is usable as-is.
func (c *Cache) Load() error {
	var groupings map[string]Grouping
	var scenes map[string]Scene
	var err error

	if c.groupingStore != nil {
		if groupings, err = c.groupingStore.GetAll(); err != nil {
			return err
		}
	}
	if c.sceneStore != nil {
		if scenes, err = c.sceneStore.GetAll(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, g := range groupings {
		entry := g
		c.groupings[id] = &entry
		if entry.GroupedLightID != "" {
			c.byGroupedLight[entry.GroupedLightID] = id
		}
		for _, l := range entry.Lights {
			c.lights[l.ID] = l
		}
	}
	for id, s := range scenes {
		entry := s
		c.scenes[id] = &entry
	}
	return nil
}

// ApplyGroupings replaces the grouping set from a REST refresh. Entries
// carry over their previously observed light state and resolved lights, so a
// refresh never blanks state the stream already confirmed.
func (c *Cache) ApplyGroupings(groupings []bridge.Grouping) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool, len(groupings))
	for i := range groupings {
		incoming := &groupings[i]
		seen[incoming.ID] = true

		existing, ok := c.groupings[incoming.ID]
		if !ok {
			existing = &Grouping{ID: incoming.ID}
			c.groupings[incoming.ID] = existing
		}
		before := project(existing)

		existing.Type = incoming.Type
		existing.Name = incoming.Metadata.Name
		if id := incoming.GroupedLightID(); id != "" {
			// A stream delta may have parked observed state in a
			// placeholder keyed by this grouped-light id. Carry it over
			// before the removal pass drops the placeholder.
			if prev := c.lookupByGroupedLight(id); prev != nil && prev != existing {
				if existing.On == nil {
					existing.On = prev.On
				}
				if existing.Brightness == nil {
					existing.Brightness = prev.Brightness
				}
				if existing.Mirek == nil {
					existing.Mirek = prev.Mirek
				}
				if existing.XY == nil {
					existing.XY = prev.XY
				}
			}
			existing.GroupedLightID = id
			c.byGroupedLight[id] = incoming.ID
		}

		c.persistGrouping(existing)
		c.notifyGrouping(existing, before)
	}

	for id, g := range c.groupings {
		if seen[id] {
			continue
		}
		delete(c.groupings, id)
		// The reverse mapping may already point at another grouping that
		// claimed this grouped-light id during the pass above.
		if g.GroupedLightID != "" && c.byGroupedLight[g.GroupedLightID] == id {
			delete(c.byGroupedLight, g.GroupedLightID)
		}
		c.deleteGrouping(id)
	}
}

// ApplyGroupedLights merges aggregate light state from a REST refresh.
// Confirmed state supersedes any optimistic echo.
func (c *Cache) ApplyGroupedLights(states []bridge.GroupedLight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range states {
		gl := &states[i]
		g := c.lookupByGroupedLight(gl.ID)
		if g == nil {
			continue
		}
		before := project(g)

		if gl.On != nil {
			on := gl.On.On
			g.On = &on
		}
		if gl.Dimming != nil {
			bri := gl.Dimming.Brightness
			g.Brightness = &bri
		}
		if gl.ColorTemperature != nil && gl.ColorTemperature.Mirek != nil {
			mirek := *gl.ColorTemperature.Mirek
			g.Mirek = &mirek
		}
		if gl.Color != nil {
			xy := gl.Color.XY
			g.XY = &xy
		}
		g.optimistic = false

		c.persistGrouping(g)
		c.notifyGrouping(g, before)
	}
}

// ApplyLights attaches resolved lights to a grouping.
func (c *Cache) ApplyLights(groupingID string, lights []bridge.Light) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.groupings[groupingID]
	if !ok {
		return
	}

	cached := make([]Light, 0, len(lights))
	for i := range lights {
		l := &lights[i]
		entry := Light{ID: l.ID, Name: l.Metadata.Name}
		if l.On != nil {
			on := l.On.On
			entry.On = &on
		}
		if l.Dimming != nil {
			bri := l.Dimming.Brightness
			entry.Brightness = &bri
		}
		cached = append(cached, entry)
		c.lights[entry.ID] = entry
	}
	g.Lights = cached

	c.persistGrouping(g)
}

// ApplyScenes replaces the scene set from a REST refresh.
func (c *Cache) ApplyScenes(scenes []bridge.Scene) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool, len(scenes))
	for i := range scenes {
		incoming := &scenes[i]
		seen[incoming.ID] = true

		s, ok := c.scenes[incoming.ID]
		if !ok {
			s = &Scene{ID: incoming.ID}
			c.scenes[incoming.ID] = s
		}
		wasActive := s.Active

		s.GroupID = incoming.Group.RID
		s.Name = incoming.Metadata.Name
		if incoming.Status != nil {
			s.Active = incoming.Status.Active == "active"
		}

		c.persistScene(s)
		if s.Active != wasActive {
			c.notifier.Publish(Change{Kind: KindScene, ID: s.ID})
		}
	}

	for id := range c.scenes {
		if !seen[id] {
			delete(c.scenes, id)
			c.deleteScene(id)
		}
	}
}

// ApplyDeltas merges stream deltas in arrival order. Present fields patch
// the entry; absent fields are left alone. A delta for an id the cache has
// never seen creates a minimal entry that the next refresh completes.
func (c *Cache) ApplyDeltas(deltas []sse.ResourceDelta) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range deltas {
		delta := &deltas[i]
		switch delta.Type {
		case "grouped_light":
			c.applyGroupedLightDelta(delta)
		case "room", "zone":
			c.applyGroupingDelta(delta)
		case "scene":
			c.applySceneDelta(delta)
		}
	}
}

func (c *Cache) applyGroupedLightDelta(delta *sse.ResourceDelta) {
	g := c.lookupByGroupedLight(delta.ID)
	if g == nil {
		g = &Grouping{ID: delta.ID, GroupedLightID: delta.ID}
		c.groupings[delta.ID] = g
		c.byGroupedLight[delta.ID] = delta.ID
		log.Debug().Str("grouped_light", delta.ID).Msg("Stream delta for unknown grouped light, creating placeholder")
	}
	before := project(g)

	if delta.On != nil {
		on := delta.On.On
		g.On = &on
	}
	if delta.Dimming != nil {
		bri := delta.Dimming.Brightness
		g.Brightness = &bri
	}
	if delta.ColorTemperature != nil && delta.ColorTemperature.Mirek != nil {
		mirek := *delta.ColorTemperature.Mirek
		g.Mirek = &mirek
	}
	if delta.Color != nil {
		xy := delta.Color.XY
		g.XY = &xy
	}
	g.optimistic = false

	c.persistGrouping(g)
	c.notifyGrouping(g, before)
}

func (c *Cache) applyGroupingDelta(delta *sse.ResourceDelta) {
	g, ok := c.groupings[delta.ID]
	if !ok {
		g = &Grouping{ID: delta.ID, Type: delta.Type}
		c.groupings[delta.ID] = g
	}
	before := project(g)

	if delta.Metadata != nil {
		g.Name = delta.Metadata.Name
	}

	c.persistGrouping(g)
	c.notifyGrouping(g, before)
}

func (c *Cache) applySceneDelta(delta *sse.ResourceDelta) {
	s, ok := c.scenes[delta.ID]
	if !ok {
		s = &Scene{ID: delta.ID}
		c.scenes[delta.ID] = s
	}
	wasActive := s.Active

	if delta.Metadata != nil {
		s.Name = delta.Metadata.Name
	}
	if delta.Status != nil {
		s.Active = delta.Status.Active == "active"
		// A scene going active deactivates its siblings in the same group.
		if s.Active {
			for _, other := range c.scenes {
				if other.ID != s.ID && other.GroupID == s.GroupID && other.Active {
					other.Active = false
					c.persistScene(other)
					c.notifier.Publish(Change{Kind: KindScene, ID: other.ID})
				}
			}
		}
	}

	c.persistScene(s)
	if s.Active != wasActive {
		c.notifier.Publish(Change{Kind: KindScene, ID: s.ID})
	}
}

// OptimisticPower echoes a power command into the cache before the bridge
// confirms it. Optimistic state is visible but never persisted; the next
// confirmed delta or refresh supersedes it.
func (c *Cache) OptimisticPower(groupingID string, on bool) {
	c.optimistic(groupingID, func(g *Grouping) {
		g.On = &on
	})
}

// OptimisticBrightness echoes an absolute brightness command.
func (c *Cache) OptimisticBrightness(groupingID string, brightness float64) {
	c.optimistic(groupingID, func(g *Grouping) {
		g.Brightness = &brightness
		if brightness > 0 {
			on := true
			g.On = &on
		}
	})
}

// OptimisticMirek echoes a color temperature command.
func (c *Cache) OptimisticMirek(groupingID string, mirek int) {
	c.optimistic(groupingID, func(g *Grouping) {
		g.Mirek = &mirek
	})
}

// OptimisticXY echoes a color command.
func (c *Cache) OptimisticXY(groupingID string, xy bridge.XY) {
	c.optimistic(groupingID, func(g *Grouping) {
		g.XY = &xy
	})
}

func (c *Cache) optimistic(groupingID string, apply func(*Grouping)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.groupings[groupingID]
	if !ok {
		return
	}
	before := project(g)
	apply(g)
	g.optimistic = true
	c.notifyGrouping(g, before)
}

// Groupings returns a snapshot of all groupings sorted by name.
func (c *Cache) Groupings() []Grouping {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Grouping, 0, len(c.groupings))
	for _, g := range c.groupings {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Light returns one light from the flat index, regardless of which grouping
// it was resolved through.
func (c *Cache) Light(id string) (Light, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	l, ok := c.lights[id]
	return l, ok
}

// Grouping returns a snapshot of one grouping.
func (c *Cache) Grouping(id string) (Grouping, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	g, ok := c.groupings[id]
	if !ok {
		return Grouping{}, false
	}
	return *g, true
}

// Scenes returns a snapshot of the scenes belonging to a grouping, sorted
// by name. An empty groupingID returns all scenes.
func (c *Cache) Scenes(groupingID string) []Scene {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Scene, 0, len(c.scenes))
	for _, s := range c.scenes {
		if groupingID != "" && s.GroupID != groupingID {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Clear wipes the cache and its persisted copy. Used on disconnect.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.groupings = make(map[string]*Grouping)
	c.byGroupedLight = make(map[string]string)
	c.scenes = make(map[string]*Scene)
	c.lights = make(map[string]Light)

	if c.groupingStore != nil {
		if err := c.groupingStore.Clear(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear persisted groupings")
		}
	}
	if c.sceneStore != nil {
		if err := c.sceneStore.Clear(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear persisted scenes")
		}
	}
}

func (c *Cache) lookupByGroupedLight(groupedLightID string) *Grouping {
	id, ok := c.byGroupedLight[groupedLightID]
	if !ok {
		return nil
	}
	return c.groupings[id]
}

func (c *Cache) notifyGrouping(g *Grouping, before projection) {
	if project(g) != before {
		c.notifier.Publish(Change{Kind: KindGrouping, ID: g.ID})
	}
}

func (c *Cache) persistGrouping(g *Grouping) {
	if c.groupingStore == nil || g.optimistic {
		return
	}
	if err := c.groupingStore.Set(g.ID, *g); err != nil {
		log.Warn().Err(err).Str("grouping", g.ID).Msg("Failed to persist grouping")
	}
}

func (c *Cache) deleteGrouping(id string) {
	if c.groupingStore == nil {
		return
	}
	if err := c.groupingStore.Delete(id); err != nil {
		log.Warn().Err(err).Str("grouping", id).Msg("Failed to delete persisted grouping")
	}
}

func (c *Cache) persistScene(s *Scene) {
	if c.sceneStore == nil {
		return
	}
	if err := c.sceneStore.Set(s.ID, *s); err != nil {
		log.Warn().Err(err).Str("scene", s.ID).Msg("Failed to persist scene")
	}
}

func (c *Cache) deleteScene(id string) {
	if c.sceneStore == nil {
		return
	}
	if err := c.sceneStore.Delete(id); err != nil {
		log.Warn().Err(err).Str("scene", id).Msg("Failed to delete persisted scene")
	}
}
