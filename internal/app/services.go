package app

import (
	"context"
	"errors"
	"net"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/luxlab/huelink/internal/bridge"
	"github.com/luxlab/huelink/internal/config"
	"github.com/luxlab/huelink/internal/db"
	"github.com/luxlab/huelink/internal/discovery"
	"github.com/luxlab/huelink/internal/session"
	"github.com/luxlab/huelink/internal/state"
	"github.com/luxlab/huelink/internal/storage"
	"github.com/luxlab/huelink/internal/transport"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB        *db.DB
	Store     *storage.Store
	ConnStore *storage.SingleStore[bridge.Connection]

	// State layer
	Notifier *state.Notifier
	Cache    *state.Cache
	Throttle *state.Throttle

	// Bridge connectivity
	Discoverer *discovery.Discoverer
	Identity   *Identity
	Session    *session.Session
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Store = storage.NewStore(database.DB)
	s.ConnStore = storage.NewSingleStore[bridge.Connection](database.DB)

	s.Notifier = state.NewNotifier()
	groupingStore := storage.NewTypedStore[state.Grouping](s.Store, state.KindGrouping)
	sceneStore := storage.NewTypedStore[state.Scene](s.Store, state.KindScene)
	s.Cache = state.NewCache(s.Notifier, groupingStore, sceneStore)
	if err := s.Cache.Load(); err != nil {
		s.Close()
		return nil, err
	}
	s.Throttle = state.NewThrottle(cfg.Cache.CommandInterval.Duration())

	restClient := transport.NewRESTClient(cfg.Bridge.Timeout.Duration())
	streamClient := transport.NewStreamClient()

	cloud := discovery.NewCloudLocator(
		cfg.Discovery.Endpoint,
		cfg.Discovery.CacheTTL.Duration(),
		storage.NewDiscoveryCache(database.DB),
		restClient,
	)
	var mdns *discovery.MDNSLocator
	if cfg.Discovery.MDNS {
		mdns = discovery.NewMDNSLocator(restClient)
	}
	s.Discoverer = discovery.NewDiscoverer(cloud, mdns)

	s.Identity = NewIdentity(s.Store, cfg.Bridge.DeviceName)

	s.Session = session.New(session.Config{
		PairRetryInterval: cfg.Bridge.PairRetryInterval.Duration(),
		MinBackoff:        cfg.Stream.MinRetryBackoff.Duration(),
		MaxBackoff:        cfg.Stream.MaxRetryBackoff.Duration(),
		Multiplier:        cfg.Stream.RetryMultiplier,
		RefreshInterval:   cfg.Cache.RefreshInterval.Duration(),
		ValidateEvery:     cfg.Cache.ValidateEvery.Duration(),
	}, restClient, streamClient, s.ConnStore, s.Cache, s.Throttle, s.Identity)

	return s, nil
}

// Start establishes the bridge session: restore a persisted pairing when one
// exists, otherwise discover (or use the pinned address) and pair.
func (s *Services) Start(ctx context.Context) error {
	restored, err := s.Session.Restore(ctx)
	if restored {
		if err != nil {
			// A pairing exists but the bridge did not answer; keep the
			// record and let the operator retry rather than re-pair.
			return err
		}
		s.logChanges(ctx)
		return nil
	}
	if err != nil {
		return err
	}

	address := s.cfg.Bridge.Address
	if address == "" {
		candidates := s.Discoverer.Discover(ctx)
		if len(candidates) == 0 {
			return errors.New("no bridge found: configure bridge.address or check the network")
		}
		address = pairAddress(candidates[0])
		log.Info().Str("bridge", candidates[0].ID).Str("address", address).Msg("Using discovered bridge")
	}

	if err := s.Session.Pair(ctx, address); err != nil {
		return err
	}

	s.logChanges(ctx)
	return nil
}

// pairAddress renders a candidate as the address the client dials. Bridges on
// the default HTTPS port stay bare; any other advertised port is kept.
func pairAddress(c discovery.Candidate) string {
	if c.Port == 0 || c.Port == 443 {
		return c.Address
	}
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// logChanges surfaces cache change notifications in the log until ctx ends.
func (s *Services) logChanges(ctx context.Context) {
	changes, unsubscribe := s.Notifier.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				log.Debug().Str("kind", change.Kind).Str("id", change.ID).Msg("Resource changed")
			}
		}
	}()
}

// ClearState wipes all cached resource state.
func (s *Services) ClearState() error {
	return s.Store.Clear("")
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	if s.Session != nil && s.Session.Connected() {
		s.Session.Pause()
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Throttle != nil {
		s.Throttle.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
