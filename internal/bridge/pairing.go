package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// appID prefixes the devicetype sent during registration.
const appID = "huelink"

// linkButtonErrorType is the bridge's "press the link button" error.
const linkButtonErrorType = 101

// maxInstanceLen caps the devicetype instance suffix per bridge rules.
const maxInstanceLen = 19

// DeviceIdentifier supplies an opaque per-installation identifier used as
// the devicetype instance suffix. Implementations are platform-specific and
// injected by the caller.
type DeviceIdentifier interface {
	DeviceID() (string, bool)
}

type registrationRequest struct {
	DeviceType        string `json:"devicetype"`
	GenerateClientKey bool   `json:"generateclientkey"`
}

// The registration endpoint responds with a bare single-element array, not
// the v2 envelope.
type registrationReply struct {
	Error *struct {
		Type        int    `json:"type"`
		Description string `json:"description"`
	} `json:"error,omitempty"`
	Success *struct {
		Username  string `json:"username"`
		ClientKey string `json:"clientkey"`
	} `json:"success,omitempty"`
}

// Register performs the device-registration handshake against the bridge at
// address. Error type 101 surfaces as *LinkButtonError so the caller can
// prompt and retry the identical request; it is not terminal. Any other
// bridge error or an unrecognized response shape is terminal.
func Register(ctx context.Context, httpClient *http.Client, address string, ident DeviceIdentifier) (*Connection, error) {
	instance := "huelinkd"
	if id, ok := ident.DeviceID(); ok && id != "" {
		instance = id
	}
	if len(instance) > maxInstanceLen {
		instance = instance[:maxInstanceLen]
	}

	payload, err := json.Marshal(registrationRequest{
		DeviceType:        appID + "#" + instance,
		GenerateClientKey: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("https://%s/api", address), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode}
	}

	var replies []registrationReply
	if err := json.Unmarshal(raw, &replies); err != nil {
		return nil, newDecodeError(raw, err)
	}
	if len(replies) == 0 {
		return nil, newDecodeError(raw, fmt.Errorf("empty registration response"))
	}

	reply := replies[0]
	switch {
	case reply.Error != nil:
		if reply.Error.Type == linkButtonErrorType {
			return nil, &LinkButtonError{Description: reply.Error.Description}
		}
		return nil, &BridgeError{Type: reply.Error.Type, Description: reply.Error.Description}
	case reply.Success != nil:
		log.Info().Str("address", address).Msg("Registered with bridge")
		return &Connection{
			Address:        address,
			ApplicationKey: reply.Success.Username,
			ClientKey:      reply.Success.ClientKey,
			PairedAt:       time.Now().UTC(),
		}, nil
	default:
		return nil, newDecodeError(raw, fmt.Errorf("registration response matches neither error nor success"))
	}
}
