package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/simbafs/stagesync/internal/domain"
)

const (
	MDNSService = "_stagesync-display._tcp"
	mdnsDomain  = "local."
)

// MDNS browses for and advertises displays over multicast DNS.
type MDNS struct {
	mu     sync.Mutex
	server *zeroconf.Server
}

func NewMDNS() *MDNS {
	return &MDNS{}
}

func (m *MDNS) Browse(ctx context.Context, timeout time.Duration) ([]domain.DiscoveredEndpoint, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(ctx, MDNSService, mdnsDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse %s: %w", MDNSService, err)
	}

	var found []domain.DiscoveredEndpoint
	for {
		select {
		case <-ctx.Done():
			return found, nil
		case entry, ok := <-entries:
			if !ok {
				return found, nil
			}
			if entry == nil {
				continue
			}
			found = append(found, endpointFromEntry(entry))
		}
	}
}

func (m *MDNS) Advertise(ad domain.Advertisement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server != nil {
		m.server.Shutdown()
		m.server = nil
	}

	instance := ad.DisplayName
	if instance == "" {
		instance = ad.DisplayID
	}
	server, err := zeroconf.Register(instance, MDNSService, mdnsDomain, ad.Port, txtRecords(ad), nil)
	if err != nil {
		return fmt.Errorf("failed to register mdns service: %w", err)
	}
	m.server = server
	return nil
}

func (m *MDNS) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		m.server.Shutdown()
		m.server = nil
	}
}

func txtRecords(ad domain.Advertisement) []string {
	return []string{
		"display_id=" + ad.DisplayID,
		"device_id=" + ad.DeviceID,
		"display_name=" + ad.DisplayName,
		"width=" + strconv.Itoa(ad.Width),
		"height=" + strconv.Itoa(ad.Height),
		"platform=" + ad.Platform,
	}
}

func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, ok := strings.Cut(r, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

func endpointFromEntry(e *zeroconf.ServiceEntry) domain.DiscoveredEndpoint {
	txt := parseTXT(e.Text)

	host := strings.TrimSuffix(e.HostName, ".")
	if ip := pickIPv4(e.AddrIPv4); ip != "" {
		host = ip
	}

	name := e.Instance
	if dn := txt["display_name"]; dn != "" {
		name = dn
	}

	return domain.DiscoveredEndpoint{
		Name:        name,
		Host:        host,
		Port:        e.Port,
		ServiceType: MDNSService,
		DisplayID:   txt["display_id"],
		DeviceID:    txt["device_id"],
		Resolution:  resolution(atoi(txt["width"]), atoi(txt["height"])),
		Platform:    txt["platform"],
	}
}

// pickIPv4 prefers a routable address over loopback or unspecified ones.
func pickIPv4(addrs []net.IP) string {
	var fallback string
	for _, ip := range addrs {
		if ip == nil || ip.IsUnspecified() {
			continue
		}
		if ip.IsLoopback() {
			if fallback == "" {
				fallback = ip.String()
			}
			continue
		}
		return ip.String()
	}
	return fallback
}

func resolution(w, h int) string {
	if w <= 0 || h <= 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", w, h)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
