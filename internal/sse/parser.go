// Package sse implements the bridge's server-sent event stream: wire framing,
// typed delta decoding and an explicitly stated connection lifecycle.
package sse

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/luxlab/huelink/internal/bridge"
)

// ResourceDelta is one decoded resource change from the event stream. Only
// the fields present on the wire are non-nil; absent fields carry no meaning.
type ResourceDelta struct {
	ID               string
	Type             string
	On               *bridge.OnState
	Dimming          *bridge.Dimming
	ColorTemperature *bridge.ColorTemperature
	Color            *bridge.Color
	Metadata         *bridge.Metadata
	Status           *bridge.SceneStatus
}

// streamEvent is one element of the JSON array carried by a data frame.
type streamEvent struct {
	Type string           `json:"type"`
	Data []resourceChange `json:"data"`
}

type resourceChange struct {
	ID               string                   `json:"id"`
	Type             string                   `json:"type"`
	On               *bridge.OnState          `json:"on"`
	Dimming          *bridge.Dimming          `json:"dimming"`
	ColorTemperature *bridge.ColorTemperature `json:"color_temperature"`
	Color            *bridge.Color            `json:"color"`
	Metadata         *bridge.Metadata         `json:"metadata"`
	Status           *bridge.SceneStatus      `json:"status"`
}

// relevantTypes lists the resource types the cache consumes. Everything else
// on the stream (buttons, sensors, connectivity) is dropped at the parser.
var relevantTypes = map[string]bool{
	"grouped_light": true,
	"room":          true,
	"zone":          true,
	"scene":         true,
}

// parseFrame decodes one complete data frame (a JSON array of events) into
// ordered resource deltas. A malformed frame is logged and yields nothing;
// the stream itself stays healthy.
func parseFrame(data string) []ResourceDelta {
	var events []streamEvent
	if err := json.Unmarshal([]byte(data), &events); err != nil {
		log.Warn().Err(err).Str("data", data).Msg("Failed to parse event frame")
		return nil
	}

	var deltas []ResourceDelta
	for _, event := range events {
		if event.Type != "update" && event.Type != "add" && event.Type != "delete" {
			continue
		}
		for _, change := range event.Data {
			if !relevantTypes[change.Type] || change.ID == "" {
				continue
			}
			deltas = append(deltas, ResourceDelta{
				ID:               change.ID,
				Type:             change.Type,
				On:               change.On,
				Dimming:          change.Dimming,
				ColorTemperature: change.ColorTemperature,
				Color:            change.Color,
				Metadata:         change.Metadata,
				Status:           change.Status,
			})
		}
	}
	return deltas
}

// frameReader accumulates SSE lines into complete data frames. The bridge
// sends "data:" payload lines, ": hi" style comments as keepalive, and
// optional "event:"/"id:" fields that carry nothing we use; a blank line
// terminates the frame.
type frameReader struct {
	buf strings.Builder
}

// feed consumes one line and returns a completed frame when the line was a
// terminator for buffered data.
func (r *frameReader) feed(line string) (string, bool) {
	switch {
	case line == "":
		if r.buf.Len() == 0 {
			return "", false
		}
		frame := r.buf.String()
		r.buf.Reset()
		return frame, true
	case strings.HasPrefix(line, ":"):
		// Comment, used by the bridge as a greeting and keepalive.
		return "", false
	case strings.HasPrefix(line, "data:"):
		r.buf.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		return "", false
	case strings.HasPrefix(line, "event:"), strings.HasPrefix(line, "id:"):
		// Recognized fields we have no use for.
		return "", false
	default:
		log.Debug().Str("line", line).Msg("Skipping unrecognized stream line")
		return "", false
	}
}
