// Package discovery locates Hue bridges on the network.
//
// Three paths exist: the vendor's cloud discovery endpoint (with a persisted
// response cache), optional local mDNS browsing, and manual address entry.
// The local and cloud paths do not run concurrently - an empty or failed
// local scan falls back to the cloud path.
package discovery

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Candidate is an ephemeral discovery result, one per pass. Its id derives
// from the bridge hardware id, or from a hash of the address for manual
// entries.
type Candidate struct {
	ID      string
	Address string
	Port    int
	Name    string
}

// Discoverer combines the discovery paths behind a single soft-failing call.
type Discoverer struct {
	cloud *CloudLocator
	mdns  *MDNSLocator

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewDiscoverer creates a discoverer. mdns may be nil to disable the local
// path.
func NewDiscoverer(cloud *CloudLocator, mdns *MDNSLocator) *Discoverer {
	return &Discoverer{cloud: cloud, mdns: mdns}
}

// Discover runs a discovery pass. It fails soft: callers always get a slice,
// empty when nothing was found or every path failed.
func (d *Discoverer) Discover(ctx context.Context) []Candidate {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	if d.mdns != nil {
		candidates := d.mdns.Discover(ctx)
		if len(candidates) > 0 {
			return candidates
		}
		log.Debug().Msg("Local scan found no bridges, falling back to cloud discovery")
	}

	candidates, err := d.cloud.Discover(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Cloud discovery failed")
		return []Candidate{}
	}
	return candidates
}

// Cancel aborts an in-flight discovery pass.
func (d *Discoverer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}
