// Package bridge implements the Hue CLIP v2 REST surface: pairing, typed
// resource fetches, control writes and connection validation.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// ApplicationKeyHeader authenticates requests against a paired bridge.
const ApplicationKeyHeader = "hue-application-key"

// Client provides typed access to the bridge's CLIP v2 resource API.
// It is a stateless pipe: all caching happens in the state layer.
type Client struct {
	address    string
	key        string
	httpClient *http.Client

	lastGood atomic.Bool
}

// NewClient creates a client for a paired bridge. The httpClient must have
// TLS verification disabled for the bridge's self-signed cert.
func NewClient(address, applicationKey string, httpClient *http.Client) *Client {
	return &Client{
		address:    address,
		key:        applicationKey,
		httpClient: httpClient,
	}
}

// Address returns the bridge address.
func (c *Client) Address() string {
	return c.address
}

// ApplicationKey returns the application key (also used by the event stream).
func (c *Client) ApplicationKey() string {
	return c.key
}

// Close closes idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("https://%s/clip/v2/%s", c.address, path)
}

// do performs a request and returns the raw body. Statuses outside [200,300)
// surface as *HTTPError.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set(ApplicationKeyHeader, c.key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Debug().Int("status", resp.StatusCode).Str("path", path).Str("body", string(raw)).Msg("Bridge request failed")
		return raw, &HTTPError{Status: resp.StatusCode}
	}

	return raw, nil
}

// envelope is the CLIP v2 response wrapper. The bridge embeds application
// errors here even on HTTP 200.
type envelope[T any] struct {
	Errors []struct {
		Description string `json:"description"`
	} `json:"errors"`
	Data []T `json:"data"`
}

// decodeEnvelope unwraps a {errors, data} response. Decode failures keep the
// raw body; a non-empty errors array is a *BridgeError regardless of status.
func decodeEnvelope[T any](raw []byte) ([]T, error) {
	var env envelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, newDecodeError(raw, err)
	}
	if len(env.Errors) > 0 {
		return nil, &BridgeError{Description: env.Errors[0].Description}
	}
	return env.Data, nil
}

func fetch[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeEnvelope[T](raw)
}

func fetchOne[T any](ctx context.Context, c *Client, path, id string) (*T, error) {
	items, err := fetch[T](ctx, c, path+"/"+id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("resource '%s' not found at %s", id, path)
	}
	return &items[0], nil
}

// put performs a minimal-body PUT and checks the response envelope for
// embedded errors.
func (c *Client) put(ctx context.Context, path string, body any) error {
	raw, err := c.do(ctx, http.MethodPut, path, body)
	if err != nil {
		return err
	}
	_, err = decodeEnvelope[json.RawMessage](raw)
	return err
}

// Rooms fetches all rooms.
func (c *Client) Rooms(ctx context.Context) ([]Grouping, error) {
	return fetch[Grouping](ctx, c, "resource/room")
}

// Zones fetches all zones.
func (c *Client) Zones(ctx context.Context) ([]Grouping, error) {
	return fetch[Grouping](ctx, c, "resource/zone")
}

// GroupedLights fetches all grouped-light aggregates.
func (c *Client) GroupedLights(ctx context.Context) ([]GroupedLight, error) {
	return fetch[GroupedLight](ctx, c, "resource/grouped_light")
}

// GroupedLight fetches a single grouped-light aggregate.
func (c *Client) GroupedLight(ctx context.Context, id string) (*GroupedLight, error) {
	return fetchOne[GroupedLight](ctx, c, "resource/grouped_light", id)
}

// Scenes fetches all scenes.
func (c *Client) Scenes(ctx context.Context) ([]Scene, error) {
	return fetch[Scene](ctx, c, "resource/scene")
}

// Device fetches a single device.
func (c *Client) Device(ctx context.Context, id string) (*Device, error) {
	return fetchOne[Device](ctx, c, "resource/device", id)
}

// Light fetches a single light.
func (c *Client) Light(ctx context.Context, id string) (*Light, error) {
	return fetchOne[Light](ctx, c, "resource/light", id)
}

// SetPower switches a grouped light on or off.
func (c *Client) SetPower(ctx context.Context, groupedLightID string, on bool) error {
	body := map[string]any{"on": map[string]bool{"on": on}}
	return c.put(ctx, "resource/grouped_light/"+groupedLightID, body)
}

// SetBrightness sets an absolute grouped-light brightness in percent.
func (c *Client) SetBrightness(ctx context.Context, groupedLightID string, brightness float64) error {
	body := map[string]any{"dimming": map[string]float64{"brightness": brightness}}
	return c.put(ctx, "resource/grouped_light/"+groupedLightID, body)
}

// AdjustBrightness applies a signed relative brightness delta.
func (c *Client) AdjustBrightness(ctx context.Context, groupedLightID string, delta float64) error {
	action := "up"
	if delta < 0 {
		action = "down"
		delta = -delta
	}
	body := map[string]any{
		"dimming_delta": map[string]any{
			"action":           action,
			"brightness_delta": delta,
		},
	}
	return c.put(ctx, "resource/grouped_light/"+groupedLightID, body)
}

// SetColorXY sets a grouped-light color by CIE coordinates.
func (c *Client) SetColorXY(ctx context.Context, groupedLightID string, x, y float64) error {
	body := map[string]any{"color": map[string]any{"xy": map[string]float64{"x": x, "y": y}}}
	return c.put(ctx, "resource/grouped_light/"+groupedLightID, body)
}

// SetColorTemperature sets a grouped-light color temperature in mirek.
func (c *Client) SetColorTemperature(ctx context.Context, groupedLightID string, mirek int) error {
	body := map[string]any{"color_temperature": map[string]int{"mirek": mirek}}
	return c.put(ctx, "resource/grouped_light/"+groupedLightID, body)
}

// ActivateScene recalls a scene.
func (c *Client) ActivateScene(ctx context.Context, sceneID string) error {
	body := map[string]any{"recall": map[string]string{"action": "active"}}
	return c.put(ctx, "resource/scene/"+sceneID, body)
}
