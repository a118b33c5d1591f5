// Package discovery finds display endpoints on the local network and
// advertises a display to controllers.
package discovery

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/simbafs/stagesync/internal/config"
	"github.com/simbafs/stagesync/internal/domain"
	"github.com/simbafs/stagesync/internal/pubsub"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultTimeout  = 3 * time.Second
)

// Browser looks for advertised displays for at most timeout.
type Browser interface {
	Browse(ctx context.Context, timeout time.Duration) ([]domain.DiscoveredEndpoint, error)
}

// Advertiser publishes a display. Advertising again replaces the previous
// record.
type Advertiser interface {
	Advertise(ad domain.Advertisement) error
	Shutdown()
}

type Options struct {
	Capability  config.Capability
	Browsers    []Browser
	Advertisers []Advertiser
	Interval    time.Duration
	Timeout     time.Duration
}

type Service struct {
	capability  config.Capability
	browsers    []Browser
	advertisers []Advertiser
	interval    time.Duration
	timeout     time.Duration

	mu         sync.Mutex
	known      []domain.DiscoveredEndpoint
	advertised *domain.Advertisement
	desired    *domain.Advertisement

	updates *pubsub.Broker[[]domain.DiscoveredEndpoint]
}

func New(opts Options) *Service {
	s := &Service{
		capability:  opts.Capability,
		browsers:    opts.Browsers,
		advertisers: opts.Advertisers,
		interval:    opts.Interval,
		timeout:     opts.Timeout,
		updates:     pubsub.NewBroker[[]domain.DiscoveredEndpoint](),
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	return s
}

// Discover runs every browser concurrently and returns the merged endpoint
// set. A pass that finds nothing keeps the previously known endpoints and
// reports domain.ErrDiscoveryTimeout alongside them.
func (s *Service) Discover(ctx context.Context, timeout time.Duration) ([]domain.DiscoveredEndpoint, error) {
	if !s.capability.Browse {
		return nil, domain.ErrDiscoveryDisabled
	}
	if timeout <= 0 {
		timeout = s.timeout
	}

	p := pool.NewWithResults[[]domain.DiscoveredEndpoint]().WithContext(ctx)
	for _, b := range s.browsers {
		p.Go(func(ctx context.Context) ([]domain.DiscoveredEndpoint, error) {
			found, err := b.Browse(ctx, timeout)
			if err != nil {
				slog.Warn("discovery browser failed", "browser", browserName(b), "error", err)
			}
			return found, nil
		})
	}
	results, _ := p.Wait()

	var merged []domain.DiscoveredEndpoint
	for _, r := range results {
		merged = append(merged, r...)
	}
	merged = Dedupe(merged)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(merged) == 0 {
		return slices.Clone(s.known), domain.ErrDiscoveryTimeout
	}
	s.known = merged
	s.updates.Publish(slices.Clone(merged))
	return slices.Clone(merged), nil
}

// Known returns the last non-empty discovery result.
func (s *Service) Known() []domain.DiscoveredEndpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.known)
}

// Subscribe streams every successful discovery result.
func (s *Service) Subscribe() (<-chan []domain.DiscoveredEndpoint, func()) {
	return s.updates.Subscribe()
}

// Advertise publishes self on every advertiser. Advertising the record that
// is already live is a no-op.
func (s *Service) Advertise(ctx context.Context, self domain.Advertisement) error {
	if !s.capability.Advertise {
		return domain.ErrDiscoveryDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.desired = &self
	if s.advertised != nil && *s.advertised == self {
		return nil
	}

	var errs []error
	for _, a := range s.advertisers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.Advertise(self); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.advertised = nil
		return err
	}
	s.advertised = &self
	slog.Info("advertising display", "display", self.DisplayID, "name", self.DisplayName, "port", self.Port)
	return nil
}

// Run drives discovery until ctx is done: controllers browse every interval,
// displays keep their advertisement registered.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	if s.capability.Browse {
		found, err := s.Discover(ctx, s.timeout)
		if errors.Is(err, domain.ErrDiscoveryTimeout) {
			slog.Debug("discovery pass found nothing, keeping previous endpoints", "known", len(found))
		}
		return
	}

	s.mu.Lock()
	desired := s.desired
	s.mu.Unlock()
	if s.capability.Advertise && desired != nil {
		if err := s.Advertise(ctx, *desired); err != nil {
			slog.Warn("failed to advertise display, retrying next tick", "error", err)
		}
	}
}

// Close withdraws advertisements and ends subscriptions.
func (s *Service) Close() {
	for _, a := range s.advertisers {
		a.Shutdown()
	}
	s.mu.Lock()
	s.advertised = nil
	s.mu.Unlock()
	s.updates.Close()
}

// Dedupe collapses endpoints sharing an identity. A non-loopback host wins
// over a loopback one; otherwise the first occurrence is kept. The result is
// ordered by identity.
func Dedupe(endpoints []domain.DiscoveredEndpoint) []domain.DiscoveredEndpoint {
	index := make(map[string]int, len(endpoints))
	var out []domain.DiscoveredEndpoint
	for _, ep := range endpoints {
		id := ep.Identity()
		i, seen := index[id]
		if !seen {
			index[id] = len(out)
			out = append(out, ep)
			continue
		}
		if isLoopback(out[i].Host) && !isLoopback(ep.Host) {
			out[i] = ep
		}
	}
	slices.SortStableFunc(out, func(a, b domain.DiscoveredEndpoint) int {
		return cmp.Compare(a.Identity(), b.Identity())
	})
	return out
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func browserName(b Browser) string {
	switch b.(type) {
	case *MDNS:
		return "mdns"
	case *UDPBroadcast:
		return "udp"
	default:
		return "custom"
	}
}
