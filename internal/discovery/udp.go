package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/simbafs/stagesync/internal/domain"
)

const (
	DefaultUDPPort = 48488
	UDPService     = "udp-broadcast"
)

var (
	probeMessage = []byte("SS-DISCOVER")
	replyPrefix  = []byte("SS-HERE ")
)

// UDPBroadcast is the discovery fallback for networks that drop multicast.
// It broadcasts a probe and collects replies from UDPResponders.
type UDPBroadcast struct {
	// Addr is where probes are sent, 255.255.255.255:48488 by default.
	Addr string
}

func (u *UDPBroadcast) Browse(ctx context.Context, timeout time.Duration) ([]domain.DiscoveredEndpoint, error) {
	addr := u.Addr
	if addr == "" {
		addr = fmt.Sprintf("255.255.255.255:%d", DefaultUDPPort)
	}
	dst, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("invalid broadcast address: %w", err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("failed to bind udp socket: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := conn.WriteToUDP(probeMessage, dst); err != nil {
		return nil, fmt.Errorf("failed to send probe: %w", err)
	}

	var found []domain.DiscoveredEndpoint
	buf := make([]byte, 2048)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if (errors.As(err, &ne) && ne.Timeout()) || ctx.Err() != nil {
				return found, nil
			}
			return found, fmt.Errorf("failed to read reply: %w", err)
		}
		ep, ok := parseReply(buf[:n], from)
		if !ok {
			continue
		}
		found = append(found, ep)
	}
}

func parseReply(msg []byte, from *net.UDPAddr) (domain.DiscoveredEndpoint, bool) {
	if !bytes.HasPrefix(msg, replyPrefix) {
		return domain.DiscoveredEndpoint{}, false
	}
	var ad domain.Advertisement
	if err := json.Unmarshal(msg[len(replyPrefix):], &ad); err != nil {
		slog.Debug("ignoring malformed discovery reply", "from", from, "error", err)
		return domain.DiscoveredEndpoint{}, false
	}

	name := ad.DisplayName
	if name == "" {
		name = "Display@" + from.IP.String()
	}
	return domain.DiscoveredEndpoint{
		Name:        name,
		Host:        from.IP.String(),
		Port:        ad.Port,
		ServiceType: UDPService,
		DisplayID:   ad.DisplayID,
		DeviceID:    ad.DeviceID,
		Resolution:  resolution(ad.Width, ad.Height),
		Platform:    ad.Platform,
	}, true
}

// UDPResponder answers broadcast probes with the current advertisement.
type UDPResponder struct {
	// ListenAddr defaults to :48488.
	ListenAddr string

	mu   sync.Mutex
	conn *net.UDPConn
	ad   domain.Advertisement
}

func (r *UDPResponder) Advertise(ad domain.Advertisement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ad = ad
	if r.conn != nil {
		return nil
	}

	listen := r.ListenAddr
	if listen == "" {
		listen = fmt.Sprintf(":%d", DefaultUDPPort)
	}
	laddr, err := net.ResolveUDPAddr("udp4", listen)
	if err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return fmt.Errorf("failed to listen for probes: %w", err)
	}
	r.conn = conn
	go r.serve(conn)
	return nil
}

// LocalAddr returns the bound address, nil before the first Advertise.
func (r *UDPResponder) LocalAddr() *net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr().(*net.UDPAddr)
}

func (r *UDPResponder) serve(conn *net.UDPConn) {
	buf := make([]byte, 512)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("udp responder read failed", "error", err)
			continue
		}
		if !bytes.Equal(buf[:n], probeMessage) {
			continue
		}

		r.mu.Lock()
		ad := r.ad
		r.mu.Unlock()

		payload, err := json.Marshal(ad)
		if err != nil {
			slog.Error("failed to encode advertisement", "error", err)
			continue
		}
		reply := append(bytes.Clone(replyPrefix), payload...)
		if _, err := conn.WriteToUDP(reply, from); err != nil {
			slog.Warn("failed to answer discovery probe", "to", from, "error", err)
		}
	}
}

func (r *UDPResponder) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}
