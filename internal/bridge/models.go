package bridge

import "time"

// CLIP v2 wire types. Optional sub-states are pointers so that partial
// payloads (and SSE deltas) can distinguish "absent" from zero values.

// ResourceRef points at another resource by id and type.
type ResourceRef struct {
	RID   string `json:"rid"`
	RType string `json:"rtype"`
}

// Metadata carries the user-visible name of a resource.
type Metadata struct {
	Name      string `json:"name"`
	Archetype string `json:"archetype,omitempty"`
}

// OnState is the on/off sub-state.
type OnState struct {
	On bool `json:"on"`
}

// Dimming is the brightness sub-state, in percent [0,100].
type Dimming struct {
	Brightness float64 `json:"brightness"`
}

// ColorTemperature is the mirek sub-state.
type ColorTemperature struct {
	Mirek      *int  `json:"mirek,omitempty"`
	MirekValid *bool `json:"mirek_valid,omitempty"`
}

// XY is a CIE color coordinate pair.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Color is the xy color sub-state.
type Color struct {
	XY XY `json:"xy"`
}

// Grouping is a room or zone. Groupings never reference lights directly:
// children are device refs (rooms) or light service refs (zones), and the
// aggregate light state lives behind the grouped_light service.
type Grouping struct {
	ID       string        `json:"id"`
	IDV1     string        `json:"id_v1,omitempty"`
	Type     string        `json:"type"`
	Metadata Metadata      `json:"metadata"`
	Children []ResourceRef `json:"children"`
	Services []ResourceRef `json:"services"`
}

// GroupedLightID returns the id of the grouping's grouped_light service,
// or "" if it has none.
func (g *Grouping) GroupedLightID() string {
	for _, svc := range g.Services {
		if svc.RType == "grouped_light" {
			return svc.RID
		}
	}
	return ""
}

// GroupedLight is the aggregate light state of a room or zone.
type GroupedLight struct {
	ID               string            `json:"id"`
	Owner            *ResourceRef      `json:"owner,omitempty"`
	On               *OnState          `json:"on,omitempty"`
	Dimming          *Dimming          `json:"dimming,omitempty"`
	Color            *Color            `json:"color,omitempty"`
	ColorTemperature *ColorTemperature `json:"color_temperature,omitempty"`
}

// Light is an individual bulb.
type Light struct {
	ID               string            `json:"id"`
	Owner            *ResourceRef      `json:"owner,omitempty"`
	Metadata         Metadata          `json:"metadata"`
	On               *OnState          `json:"on,omitempty"`
	Dimming          *Dimming          `json:"dimming,omitempty"`
	Color            *Color            `json:"color,omitempty"`
	ColorTemperature *ColorTemperature `json:"color_temperature,omitempty"`
}

// Device groups the services (light, button, ...) of a physical product.
type Device struct {
	ID       string        `json:"id"`
	Metadata Metadata      `json:"metadata"`
	Services []ResourceRef `json:"services"`
}

// LightServiceID returns the id of the device's light service, or "".
func (d *Device) LightServiceID() string {
	for _, svc := range d.Services {
		if svc.RType == "light" {
			return svc.RID
		}
	}
	return ""
}

// SceneStatus reports whether a scene is active ("active", "inactive",
// "dynamic_palette").
type SceneStatus struct {
	Active string `json:"active"`
}

// SceneAction is one target/state pair inside a scene.
type SceneAction struct {
	Target ResourceRef `json:"target"`
	Action ActionData  `json:"action"`
}

// ActionData is the state a scene applies to a target light.
type ActionData struct {
	On               *OnState  `json:"on,omitempty"`
	Dimming          *Dimming  `json:"dimming,omitempty"`
	ColorTemperature *struct { //nolint:revive
		Mirek int `json:"mirek"`
	} `json:"color_temperature,omitempty"`
	Color *Color `json:"color,omitempty"`
}

// Scene belongs to exactly one room or zone via Group.
type Scene struct {
	ID       string        `json:"id"`
	Metadata Metadata      `json:"metadata"`
	Group    ResourceRef   `json:"group"`
	Actions  []SceneAction `json:"actions"`
	Status   *SceneStatus  `json:"status,omitempty"`
}

// Connection is the durable record of a paired bridge. Exactly one may be
// active at a time; it is owned by the session and persisted via storage.
type Connection struct {
	BridgeID       string    `json:"bridge_id"`
	Address        string    `json:"address"`
	ApplicationKey string    `json:"application_key"`
	ClientKey      string    `json:"client_key,omitempty"`
	PairedAt       time.Time `json:"paired_at"`
}
