package bridge

import (
	"context"
	"encoding/json"
	"net/http"
)

// Validate performs a lightweight liveness check: an authenticated GET of the
// resource root. The bridge embeds application errors inside HTTP 200
// responses, so a non-empty errors array fails validation despite the 2xx
// status; an undecodable envelope is a *DecodeError, distinct from network
// failures. Safe to call repeatedly and concurrently - the only shared state
// it touches is the last-known-good flag.
func (c *Client) Validate(ctx context.Context) error {
	raw, err := c.do(ctx, http.MethodGet, "resource", nil)
	if err != nil {
		c.lastGood.Store(false)
		return err
	}

	if _, err := decodeEnvelope[json.RawMessage](raw); err != nil {
		c.lastGood.Store(false)
		return err
	}

	c.lastGood.Store(true)
	return nil
}

// LastKnownGood reports the outcome of the most recent Validate call.
func (c *Client) LastKnownGood() bool {
	return c.lastGood.Load()
}
