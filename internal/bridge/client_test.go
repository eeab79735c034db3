package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// testBridge serves canned CLIP v2 responses over TLS, capturing requests.
type testBridge struct {
	server *httptest.Server

	lastMethod string
	lastPath   string
	lastKey    string
	lastBody   []byte

	status int
	body   string
}

func newTestBridge(status int, body string) *testBridge {
	b := &testBridge{status: status, body: body}
	b.server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.lastMethod = r.Method
		b.lastPath = r.URL.Path
		b.lastKey = r.Header.Get(ApplicationKeyHeader)
		b.lastBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(b.status)
		w.Write([]byte(b.body))
	}))
	return b
}

func (b *testBridge) client() *Client {
	return NewClient(b.server.Listener.Addr().String(), "test-key", b.server.Client())
}

func TestClientFetchRooms(t *testing.T) {
	bridge := newTestBridge(http.StatusOK, `{
		"errors": [],
		"data": [{
			"id": "room-1",
			"type": "room",
			"metadata": {"name": "Living Room"},
			"children": [{"rid": "dev-1", "rtype": "device"}],
			"services": [{"rid": "gl-1", "rtype": "grouped_light"}]
		}]
	}`)
	defer bridge.server.Close()

	rooms, err := bridge.client().Rooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	require.Equal(t, "room-1", rooms[0].ID)
	require.Equal(t, "Living Room", rooms[0].Metadata.Name)
	require.Equal(t, "gl-1", rooms[0].GroupedLightID())

	require.Equal(t, http.MethodGet, bridge.lastMethod)
	require.Equal(t, "/clip/v2/resource/room", bridge.lastPath)
	require.Equal(t, "test-key", bridge.lastKey)
}

func TestClientHTTPError(t *testing.T) {
	bridge := newTestBridge(http.StatusServiceUnavailable, "")
	defer bridge.server.Close()

	_, err := bridge.client().Rooms(context.Background())
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusServiceUnavailable, httpErr.Status)
}

func TestClientBridgeErrorInOKResponse(t *testing.T) {
	bridge := newTestBridge(http.StatusOK, `{"errors": [{"description": "resource not available"}], "data": []}`)
	defer bridge.server.Close()

	_, err := bridge.client().Scenes(context.Background())
	var bridgeErr *BridgeError
	require.ErrorAs(t, err, &bridgeErr)
	require.Equal(t, "resource not available", bridgeErr.Description)
}

func TestClientDecodeErrorKeepsRawBody(t *testing.T) {
	bridge := newTestBridge(http.StatusOK, `<html>not json</html>`)
	defer bridge.server.Close()

	_, err := bridge.client().Rooms(context.Background())
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	require.Contains(t, string(decodeErr.Raw), "not json")
}

func TestClientFetchOneNotFound(t *testing.T) {
	bridge := newTestBridge(http.StatusOK, `{"errors": [], "data": []}`)
	defer bridge.server.Close()

	_, err := bridge.client().Light(context.Background(), "missing")
	require.ErrorContains(t, err, "not found")
}

func TestSetPowerBody(t *testing.T) {
	bridge := newTestBridge(http.StatusOK, `{"errors": [], "data": []}`)
	defer bridge.server.Close()

	err := bridge.client().SetPower(context.Background(), "gl-1", true)
	require.NoError(t, err)
	require.Equal(t, http.MethodPut, bridge.lastMethod)
	require.Equal(t, "/clip/v2/resource/grouped_light/gl-1", bridge.lastPath)
	require.JSONEq(t, `{"on": {"on": true}}`, string(bridge.lastBody))
}

func TestAdjustBrightnessSendsDirectionAndMagnitude(t *testing.T) {
	bridge := newTestBridge(http.StatusOK, `{"errors": [], "data": []}`)
	defer bridge.server.Close()

	err := bridge.client().AdjustBrightness(context.Background(), "gl-1", -15)
	require.NoError(t, err)
	require.JSONEq(t, `{"dimming_delta": {"action": "down", "brightness_delta": 15}}`, string(bridge.lastBody))
}

func TestActivateSceneBody(t *testing.T) {
	bridge := newTestBridge(http.StatusOK, `{"errors": [], "data": []}`)
	defer bridge.server.Close()

	err := bridge.client().ActivateScene(context.Background(), "scene-1")
	require.NoError(t, err)
	require.Equal(t, "/clip/v2/resource/scene/scene-1", bridge.lastPath)

	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(bridge.lastBody, &body))
	require.Equal(t, "active", body["recall"]["action"])
}
