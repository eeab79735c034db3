// Package session owns the lifecycle of the single active bridge connection:
// pairing, restore from the persisted record, the event stream with
// reconnect backoff, periodic refresh and validation, and control writes.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/luxlab/huelink/internal/bridge"
	"github.com/luxlab/huelink/internal/discovery"
	"github.com/luxlab/huelink/internal/sse"
	"github.com/luxlab/huelink/internal/state"
	"github.com/luxlab/huelink/internal/storage"
)

// ErrNotConnected is returned by operations that need an active connection.
var ErrNotConnected = errors.New("no active bridge connection")

// Config carries the session timing knobs.
type Config struct {
	PairRetryInterval time.Duration

	MinBackoff time.Duration
	MaxBackoff time.Duration
	Multiplier float64

	RefreshInterval time.Duration
	ValidateEvery   time.Duration
}

// Session manages at most one bridge connection at a time. Connecting while
// connected is rejected; callers disconnect first.
type Session struct {
	cfg          Config
	restClient   *http.Client
	streamClient *http.Client
	connStore    *storage.SingleStore[bridge.Connection]
	cache        *state.Cache
	throttle     *state.Throttle
	ident        bridge.DeviceIdentifier

	mu     sync.Mutex
	conn   *bridge.Connection
	client *bridge.Client
	stream *sse.Stream
	paused bool
	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}

	streamState chan sse.State
}

// New creates a session. Nothing connects until Restore or Pair is called.
func New(cfg Config, restClient, streamClient *http.Client, connStore *storage.SingleStore[bridge.Connection], cache *state.Cache, throttle *state.Throttle, ident bridge.DeviceIdentifier) *Session {
	return &Session{
		cfg:          cfg,
		restClient:   restClient,
		streamClient: streamClient,
		connStore:    connStore,
		cache:        cache,
		throttle:     throttle,
		ident:        ident,
		streamState:  make(chan sse.State, 8),
	}
}

// Restore attaches to the bridge recorded by a previous run. It returns
// false without error when no usable record exists; a record that fails
// validation is surfaced so the caller can decide between retry and re-pair.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	conn, ok, err := s.connStore.Load()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	log.Info().Str("address", conn.Address).Str("bridge", conn.BridgeID).Msg("Restoring bridge connection")
	if err := s.attach(ctx, &conn); err != nil {
		return true, err
	}
	return true, nil
}

// Pair registers with the bridge at address and attaches on success. The
// "link button not pressed" reply is not terminal: the identical request is
// retried at the configured interval until the button is pressed or ctx ends.
func (s *Session) Pair(ctx context.Context, address string) error {
	s.mu.Lock()
	if s.conn != nil {
		active := s.conn.Address
		s.mu.Unlock()
		return fmt.Errorf("already connected to bridge at %s, disconnect first", active)
	}
	s.mu.Unlock()

	var conn *bridge.Connection
	for {
		var err error
		conn, err = bridge.Register(ctx, s.restClient, address, s.ident)
		if err == nil {
			break
		}
		if !bridge.IsLinkButtonNotPressed(err) {
			return err
		}

		log.Info().Str("address", address).Msg("Waiting for link button press")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.PairRetryInterval):
		}
	}

	// The hardware id is not part of the registration reply; read it from
	// the unauthenticated config endpoint. Best effort.
	hostport := address
	if _, _, splitErr := net.SplitHostPort(address); splitErr != nil {
		hostport = net.JoinHostPort(address, "443")
	}
	if info, err := discovery.ProbeConfig(ctx, s.restClient, hostport); err == nil {
		conn.BridgeID = strings.ToLower(info.BridgeID)
	} else {
		log.Warn().Err(err).Msg("Could not read bridge id after pairing")
	}

	if err := s.connStore.Save(*conn); err != nil {
		return fmt.Errorf("failed to persist connection: %w", err)
	}

	return s.attach(ctx, conn)
}

func (s *Session) attach(ctx context.Context, conn *bridge.Connection) error {
	client := bridge.NewClient(conn.Address, conn.ApplicationKey, s.restClient)
	if err := client.Validate(ctx); err != nil {
		client.Close()
		return fmt.Errorf("bridge validation failed: %w", err)
	}

	stream := sse.NewStream(conn.Address, conn.ApplicationKey, s.streamClient, s.handleDeltas, s.handleStreamState)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.conn = conn
	s.client = client
	s.stream = stream
	s.paused = false
	s.runCtx = runCtx
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	if err := s.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial refresh failed")
	}

	go s.run(runCtx, done)
	stream.Start(runCtx)

	log.Info().Str("address", conn.Address).Msg("Bridge session established")
	return nil
}

// Disconnect tears the session down and forgets the pairing: the stream
// stops, pending throttled commands are dropped, and both the connection
// record and the cached state are cleared.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	stream := s.stream
	client := s.client
	s.conn = nil
	s.client = nil
	s.stream = nil
	s.runCtx = nil
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if stream != nil {
		stream.Stop()
	}
	if client != nil {
		client.Close()
	}
	s.throttle.Close()
	s.cache.Clear()

	if err := s.connStore.Clear(); err != nil {
		return fmt.Errorf("failed to clear connection record: %w", err)
	}
	log.Info().Msg("Disconnected from bridge")
	return nil
}

// Pause stops the event stream without tearing down the session. Used when
// live updates are not needed; no reconnection happens while paused.
func (s *Session) Pause() {
	s.mu.Lock()
	s.paused = true
	stream := s.stream
	s.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
}

// Resume restarts the event stream after Pause and refreshes to close the
// gap accumulated while paused.
func (s *Session) Resume() {
	s.mu.Lock()
	s.paused = false
	stream := s.stream
	runCtx := s.runCtx
	s.mu.Unlock()

	if stream == nil || runCtx == nil {
		return
	}
	if err := s.Refresh(runCtx); err != nil {
		log.Warn().Err(err).Msg("Resume refresh failed")
	}
	stream.Start(runCtx)
}

// Connected reports whether a session is attached.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Connection returns a copy of the active connection record.
func (s *Session) Connection() (bridge.Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return bridge.Connection{}, false
	}
	return *s.conn, true
}

// StreamState returns the event stream lifecycle state.
func (s *Session) StreamState() sse.State {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return sse.StateIdle
	}
	return stream.State()
}

// Healthy reports the outcome of the most recent validation.
func (s *Session) Healthy() bool {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	return client != nil && client.LastKnownGood()
}

// Refresh performs a full REST resync: groupings, aggregate light state,
// scenes, then per-grouping light resolution. Confirmed data from the
// refresh supersedes optimistic echoes.
func (s *Session) Refresh(ctx context.Context) error {
	client := s.currentClient()
	if client == nil {
		return ErrNotConnected
	}

	rooms, err := client.Rooms(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch rooms: %w", err)
	}
	zones, err := client.Zones(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch zones: %w", err)
	}
	groupings := append(rooms, zones...)
	s.cache.ApplyGroupings(groupings)

	groupedLights, err := client.GroupedLights(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch grouped lights: %w", err)
	}
	s.cache.ApplyGroupedLights(groupedLights)

	scenes, err := client.Scenes(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch scenes: %w", err)
	}
	s.cache.ApplyScenes(scenes)

	for groupingID, lights := range client.ResolveAllLights(ctx, groupings) {
		s.cache.ApplyLights(groupingID, lights)
	}

	log.Debug().Int("groupings", len(groupings)).Int("scenes", len(scenes)).Msg("Cache refreshed")
	return nil
}

// SetPower switches a grouping on or off. Power commands bypass the
// throttle so a toggle is never delayed behind a slider drag.
func (s *Session) SetPower(ctx context.Context, groupingID string, on bool) error {
	client, groupedLightID, err := s.target(groupingID)
	if err != nil {
		return err
	}
	s.cache.OptimisticPower(groupingID, on)
	return client.SetPower(ctx, groupedLightID, on)
}

// SetBrightness sets an absolute brightness, throttled per grouping.
func (s *Session) SetBrightness(ctx context.Context, groupingID string, brightness float64) error {
	client, groupedLightID, err := s.target(groupingID)
	if err != nil {
		return err
	}
	s.cache.OptimisticBrightness(groupingID, brightness)
	s.throttle.Submit(ctx, groupedLightID, func(ctx context.Context) error {
		return client.SetBrightness(ctx, groupedLightID, brightness)
	})
	return nil
}

// AdjustBrightness applies a relative brightness delta, throttled per
// grouping. No optimistic echo: the resulting level is only known once the
// bridge reports it.
func (s *Session) AdjustBrightness(ctx context.Context, groupingID string, delta float64) error {
	client, groupedLightID, err := s.target(groupingID)
	if err != nil {
		return err
	}
	s.throttle.Submit(ctx, groupedLightID, func(ctx context.Context) error {
		return client.AdjustBrightness(ctx, groupedLightID, delta)
	})
	return nil
}

// SetColorTemperature sets a mirek value, throttled per grouping.
func (s *Session) SetColorTemperature(ctx context.Context, groupingID string, mirek int) error {
	client, groupedLightID, err := s.target(groupingID)
	if err != nil {
		return err
	}
	s.cache.OptimisticMirek(groupingID, mirek)
	s.throttle.Submit(ctx, groupedLightID, func(ctx context.Context) error {
		return client.SetColorTemperature(ctx, groupedLightID, mirek)
	})
	return nil
}

// SetColorXY sets a CIE color, throttled per grouping.
func (s *Session) SetColorXY(ctx context.Context, groupingID string, xy bridge.XY) error {
	client, groupedLightID, err := s.target(groupingID)
	if err != nil {
		return err
	}
	s.cache.OptimisticXY(groupingID, xy)
	s.throttle.Submit(ctx, groupedLightID, func(ctx context.Context) error {
		return client.SetColorXY(ctx, groupedLightID, xy.X, xy.Y)
	})
	return nil
}

// ActivateScene recalls a scene immediately.
func (s *Session) ActivateScene(ctx context.Context, sceneID string) error {
	client := s.currentClient()
	if client == nil {
		return ErrNotConnected
	}
	return client.ActivateScene(ctx, sceneID)
}

func (s *Session) currentClient() *bridge.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (s *Session) target(groupingID string) (*bridge.Client, string, error) {
	client := s.currentClient()
	if client == nil {
		return nil, "", ErrNotConnected
	}
	grouping, ok := s.cache.Grouping(groupingID)
	if !ok {
		return nil, "", fmt.Errorf("unknown grouping '%s'", groupingID)
	}
	if grouping.GroupedLightID == "" {
		return nil, "", fmt.Errorf("grouping '%s' has no grouped light service", groupingID)
	}
	return client, grouping.GroupedLightID, nil
}

func (s *Session) handleDeltas(deltas []sse.ResourceDelta) {
	s.cache.ApplyDeltas(deltas)
}

func (s *Session) handleStreamState(st sse.State) {
	select {
	case s.streamState <- st:
	default:
	}
}

func (s *Session) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// run drives the background maintenance of an attached session: periodic
// refresh and validation, plus stream reconnection with exponential backoff.
func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	refreshTicker := time.NewTicker(s.cfg.RefreshInterval)
	defer refreshTicker.Stop()
	validateTicker := time.NewTicker(s.cfg.ValidateEvery)
	defer validateTicker.Stop()

	backoff := s.cfg.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return

		case <-refreshTicker.C:
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("Periodic refresh failed")
			}

		case <-validateTicker.C:
			client := s.currentClient()
			if client == nil {
				continue
			}
			if err := client.Validate(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("Bridge validation failed")
			}

		case st := <-s.streamState:
			switch st {
			case sse.StateConnected:
				backoff = s.cfg.MinBackoff
				// Resync whatever the stream missed while down.
				if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Msg("Post-reconnect refresh failed")
				}

			case sse.StateDisconnected, sse.StateError:
				if s.isPaused() {
					continue
				}
				log.Warn().Dur("backoff", backoff).Stringer("state", st).Msg("Event stream down, reconnecting")
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				if s.isPaused() {
					continue
				}

				s.mu.Lock()
				stream := s.stream
				s.mu.Unlock()
				if stream != nil {
					stream.Start(ctx)
				}

				backoff = time.Duration(float64(backoff) * s.cfg.Multiplier)
				if backoff > s.cfg.MaxBackoff {
					backoff = s.cfg.MaxBackoff
				}
			}
		}
	}
}
