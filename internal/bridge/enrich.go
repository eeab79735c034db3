package bridge

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// ResolveLights resolves the lights behind a grouping. Groupings never
// reference lights directly: room children are devices, so each device child
// is fetched, its light service located, and that light fetched by id.
// Zone children reference light services directly and skip the device hop.
func (c *Client) ResolveLights(ctx context.Context, grouping *Grouping) ([]Light, error) {
	lights := make([]Light, 0, len(grouping.Children))
	for _, child := range grouping.Children {
		switch child.RType {
		case "device":
			device, err := c.Device(ctx, child.RID)
			if err != nil {
				return lights, err
			}
			lightID := device.LightServiceID()
			if lightID == "" {
				continue
			}
			light, err := c.Light(ctx, lightID)
			if err != nil {
				return lights, err
			}
			lights = append(lights, *light)
		case "light":
			light, err := c.Light(ctx, child.RID)
			if err != nil {
				return lights, err
			}
			lights = append(lights, *light)
		}
	}
	return lights, nil
}

// ResolveAllLights resolves lights for each grouping concurrently. Each
// grouping's resolution chain stays sequential, but groupings are
// independent, so they fan out; result ordering is not preserved and the
// caller serializes cache writes. Groupings that fail to resolve are logged
// and omitted from the result.
func (c *Client) ResolveAllLights(ctx context.Context, groupings []Grouping) map[string][]Light {
	type resolved struct {
		groupingID string
		lights     []Light
	}

	results := make(chan resolved, len(groupings))
	var wg sync.WaitGroup
	for i := range groupings {
		grouping := &groupings[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			lights, err := c.ResolveLights(ctx, grouping)
			if err != nil {
				log.Warn().Err(err).Str("grouping", grouping.ID).Msg("Failed to resolve grouping lights")
				return
			}
			results <- resolved{groupingID: grouping.ID, lights: lights}
		}()
	}
	wg.Wait()
	close(results)

	byGrouping := make(map[string][]Light, len(groupings))
	for r := range results {
		byGrouping[r.groupingID] = r.lights
	}
	return byGrouping
}
