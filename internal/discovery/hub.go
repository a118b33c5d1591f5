package discovery

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	HubService = "_stagesync-hub._tcp"
	hubPath    = "/ws"
)

// HubMDNS announces the session hub a controller hosts and lets other peers
// find it, so a LAN ends up with a single session.
type HubMDNS struct {
	timeout time.Duration

	mu     sync.Mutex
	server *zeroconf.Server
}

func NewHubMDNS(timeout time.Duration) *HubMDNS {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HubMDNS{timeout: timeout}
}

// Announce publishes the hub served on port. Calling it again replaces the
// previous record.
func (h *HubMDNS) Announce(name string, port int, peerID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.server != nil {
		h.server.Shutdown()
		h.server = nil
	}
	text := []string{"peer_id=" + peerID, "path=" + hubPath}
	server, err := zeroconf.Register(name, HubService, mdnsDomain, port, text, nil)
	if err != nil {
		return fmt.Errorf("failed to register hub record: %w", err)
	}
	h.server = server
	return nil
}

func (h *HubMDNS) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server != nil {
		h.server.Shutdown()
		h.server = nil
	}
}

// LocateHub returns the websocket url of the first hub that answers within
// the timeout, or an empty url when none does.
func (h *HubMDNS) LocateHub(ctx context.Context) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err := resolver.Browse(ctx, HubService, mdnsDomain, entries); err != nil {
		return "", fmt.Errorf("failed to browse %s: %w", HubService, err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", nil
		case entry, ok := <-entries:
			if !ok {
				return "", nil
			}
			if entry == nil || entry.Port == 0 {
				continue
			}
			return hubURLFromEntry(entry), nil
		}
	}
}

func hubURLFromEntry(e *zeroconf.ServiceEntry) string {
	txt := parseTXT(e.Text)

	host := strings.TrimSuffix(e.HostName, ".")
	if ip := pickIPv4(e.AddrIPv4); ip != "" {
		host = ip
	}
	path := txt["path"]
	if path == "" {
		path = hubPath
	}
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, strconv.Itoa(e.Port)), Path: path}
	return u.String()
}
