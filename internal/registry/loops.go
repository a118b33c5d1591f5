package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/simbafs/stagesync/internal/domain"
)

const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultSweepInterval     = 10 * time.Second
	DefaultStaleness         = 30 * time.Second
)

// HeartbeatSender reports a display as alive.
type HeartbeatSender interface {
	Heartbeat(ctx context.Context, code string) error
}

// HTTPClient talks to a registry served by another process.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Heartbeat posts the pairing code to the registry. Unknown codes yield
// domain.ErrInvalidPairingCode, transport failures domain.ErrRegistryUnreachable.
func (c *HTTPClient) Heartbeat(ctx context.Context, code string) error {
	body, err := json.Marshal(map[string]string{"pairingCode": code})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/displays/heartbeat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRegistryUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		return domain.ErrInvalidPairingCode
	default:
		return fmt.Errorf("%w: unexpected status %s", domain.ErrRegistryUnreachable, resp.Status)
	}
}

// LocalHeartbeat adapts RecordHeartbeat to HeartbeatSender for a display
// running in the registry's own process.
type LocalHeartbeat struct {
	UseCase *RecordHeartbeat
}

func (l LocalHeartbeat) Heartbeat(ctx context.Context, code string) error {
	_, err := l.UseCase.Execute(ctx, code)
	return err
}

// Heartbeater keeps a display's lastSeenAt fresh. Failures are logged and
// retried on the next tick; the display keeps running on its last state.
type Heartbeater struct {
	Sender   HeartbeatSender
	Code     string
	Interval time.Duration
}

func (h *Heartbeater) Run(ctx context.Context) {
	interval := h.Interval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := h.Sender.Heartbeat(ctx, h.Code); err != nil && ctx.Err() == nil {
			slog.Warn("heartbeat failed", "code", h.Code, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweeper periodically marks stale displays offline.
type Sweeper struct {
	Sweep     *SweepOffline
	ChurchID  string
	Interval  time.Duration
	Staleness time.Duration
}

func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	staleness := s.Staleness
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep.Execute(ctx, s.ChurchID, staleness); err != nil && ctx.Err() == nil {
				slog.Warn("offline sweep failed", "error", fmt.Errorf("%w: %v", domain.ErrRegistryUnreachable, err))
			}
		}
	}
}
