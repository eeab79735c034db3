package sse

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/luxlab/huelink/internal/bridge"
)

// State is the stream connection lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// maxLineSize caps a single SSE line. One data line carries a whole event
// batch, so it has to fit the largest batch a bridge can emit.
const maxLineSize = 1 << 20

// Handler receives decoded deltas in stream order.
type Handler func([]ResourceDelta)

// StateFunc observes lifecycle transitions.
type StateFunc func(State)

// Stream maintains a single SSE connection to the bridge. It performs no
// reconnection itself: a connection ends in Idle (deliberate stop),
// Disconnected (server closed the stream) or Error (transport or handshake
// failure), and the owner decides whether and when to start again.
type Stream struct {
	address    string
	key        string
	httpClient *http.Client
	handler    Handler
	onState    StateFunc

	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStream creates a stream client. httpClient must have no overall timeout
// and must accept the bridge's self-signed cert. onState may be nil.
func NewStream(address, applicationKey string, httpClient *http.Client, handler Handler, onState StateFunc) *Stream {
	return &Stream{
		address:    address,
		key:        applicationKey,
		httpClient: httpClient,
		handler:    handler,
		onState:    onState,
	}
}

// State returns the current lifecycle state.
func (s *Stream) State() State {
	return State(s.state.Load())
}

func (s *Stream) setState(state State) {
	old := State(s.state.Swap(int32(state)))
	if old == state {
		return
	}
	log.Debug().Stringer("from", old).Stringer("to", state).Msg("Event stream state changed")
	if s.onState != nil {
		s.onState(state)
	}
}

// Start opens a connection. A connection already in flight is cancelled and
// replaced; Start never stacks connections.
func (s *Stream) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		done := s.done
		s.mu.Unlock()
		<-done
		s.mu.Lock()
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.run(ctx)
	}()
}

// Stop terminates the connection promptly and waits for the reader to exit.
// Stopping an idle stream is a no-op.
func (s *Stream) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Stream) run(ctx context.Context) {
	s.setState(StateConnecting)

	err := s.connect(ctx)
	switch {
	case ctx.Err() != nil:
		// Deliberate stop, regardless of how the read loop ended.
		s.setState(StateIdle)
	case err != nil:
		log.Warn().Err(err).Msg("Event stream failed")
		s.setState(StateError)
	default:
		// Server closed a healthy stream.
		log.Info().Msg("Event stream closed by bridge")
		s.setState(StateDisconnected)
	}
}

func (s *Stream) connect(ctx context.Context) error {
	url := fmt.Sprintf("https://%s/eventstream/clip/v2", s.address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set(bridge.ApplicationKeyHeader, s.key)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	log.Info().Str("address", s.address).Msg("Connected to event stream")
	s.setState(StateConnected)

	var frames frameReader
	scanner := bufio.NewScanner(resp.Body)
	// A full-house resource batch overflows the scanner's default 64 KiB
	// line limit, which would error the whole stream.
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		frame, ok := frames.feed(scanner.Text())
		if !ok {
			continue
		}
		if deltas := parseFrame(frame); len(deltas) > 0 {
			s.handler(deltas)
		}
	}

	return scanner.Err()
}
