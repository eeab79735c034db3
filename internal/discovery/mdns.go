package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/brutella/dnssd"
	"github.com/rs/zerolog/log"
)

// hueService is the mDNS service type bridges announce.
const hueService = "_hue._tcp.local."

const (
	// mdnsCeiling bounds a browse pass regardless of activity.
	mdnsCeiling = 10 * time.Second
	// mdnsSettle ends a pass after this long without a new bridge.
	mdnsSettle = 1 * time.Second
)

// MDNSLocator browses the local network for bridges. Each responder is
// probed over its unauthenticated config endpoint so candidates carry the
// bridge's hardware id rather than whatever its announcement claims.
type MDNSLocator struct {
	probeClient *http.Client
}

// NewMDNSLocator creates a local browser. probeClient must accept the
// bridge's self-signed cert.
func NewMDNSLocator(probeClient *http.Client) *MDNSLocator {
	return &MDNSLocator{probeClient: probeClient}
}

// BridgeInfo is the subset of the unauthenticated config endpoint we read.
type BridgeInfo struct {
	Name     string `json:"name"`
	BridgeID string `json:"bridgeid"`
}

// Discover browses for bridges until 1s passes without a new responder, up
// to a 10s ceiling. Responders that fail the config probe are skipped.
func (l *MDNSLocator) Discover(ctx context.Context) []Candidate {
	ctx, cancel := context.WithTimeout(ctx, mdnsCeiling)
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]bool)
	var candidates []Candidate
	var settle *time.Timer

	add := func(entry dnssd.BrowseEntry) {
		candidate, ok := l.probe(ctx, entry)
		if !ok {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if seen[candidate.ID] {
			return
		}
		seen[candidate.ID] = true
		candidates = append(candidates, candidate)
		log.Debug().Str("bridge", candidate.ID).Str("address", candidate.Address).Msg("Found bridge via mDNS")

		if settle != nil {
			settle.Stop()
		}
		settle = time.AfterFunc(mdnsSettle, cancel)
	}
	rmv := func(entry dnssd.BrowseEntry) {}

	err := dnssd.LookupType(ctx, hueService, add, rmv)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn().Err(err).Msg("mDNS browse failed")
	}

	mu.Lock()
	defer mu.Unlock()
	if settle != nil {
		settle.Stop()
	}
	return candidates
}

// probe fetches the unauthenticated bridge config to obtain the hardware id.
func (l *MDNSLocator) probe(ctx context.Context, entry dnssd.BrowseEntry) (Candidate, bool) {
	ip, ok := pickIP(entry.IPs)
	if !ok {
		return Candidate{}, false
	}
	address := ip.String()
	port := int(entry.Port)
	if port == 0 {
		port = 443
	}

	info, err := ProbeConfig(ctx, l.probeClient, net.JoinHostPort(address, fmt.Sprint(port)))
	if err != nil {
		log.Debug().Err(err).Str("address", address).Msg("Bridge config probe failed")
		return Candidate{}, false
	}
	if info.BridgeID == "" {
		return Candidate{}, false
	}

	return Candidate{
		ID:      strings.ToLower(info.BridgeID),
		Address: address,
		Port:    port,
		Name:    info.Name,
	}, true
}

func pickIP(ips []net.IP) (net.IP, bool) {
	for _, ip := range ips {
		if ip.To4() != nil {
			return ip, true
		}
	}
	if len(ips) > 0 {
		return ips[0], true
	}
	return nil, false
}

// ProbeConfig fetches a bridge's unauthenticated config. It works without
// pairing and is the authoritative source for the hardware id.
func ProbeConfig(ctx context.Context, httpClient *http.Client, hostport string) (*BridgeInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("https://%s/api/0/config", hostport), nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("config endpoint returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var info BridgeInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
