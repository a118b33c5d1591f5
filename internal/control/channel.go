// Package control carries show state from the leading controller to the
// displays and gates transitions on precache readiness.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simbafs/stagesync/internal/domain"
	"github.com/simbafs/stagesync/internal/metrics"
)

const DefaultPrecacheTimeout = 30 * time.Second

// Transport is the session the channel talks through.
type Transport interface {
	Broadcast(env domain.Envelope) error
	Send(target string, env domain.Envelope) error
	Messages() (<-chan domain.Envelope, func())
	LeaderStatus() domain.LeaderStatus
	Roster() domain.RosterSnapshot
}

// Channel is the controller side of the control channel. Only the elected
// leader may change what displays show.
type Channel struct {
	transport Transport
	now       func() time.Time

	mu        sync.Mutex
	manifests map[string]*manifest
}

func NewChannel(t Transport) *Channel {
	return &Channel{
		transport: t,
		now:       time.Now,
		manifests: make(map[string]*manifest),
	}
}

// Broadcast sends a state message of msgType to every connected peer.
func (c *Channel) Broadcast(ctx context.Context, msgType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.transport.LeaderStatus().AmILeader {
		return domain.ErrNotLeader
	}
	env, err := domain.NewEnvelope(msgType, data)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msgType, err)
	}
	if err := c.transport.Broadcast(env); err != nil {
		return fmt.Errorf("failed to broadcast %s: %w", msgType, err)
	}
	metrics.Broadcasts.WithLabelValues(msgType).Inc()
	return nil
}

// ShowLyrics broadcasts a song. Unless data already carries styles, the line
// limits of the connected displays go with it so every screen chunks alike.
func (c *Channel) ShowLyrics(ctx context.Context, data domain.LyricsData) error {
	if data.Timestamp == 0 {
		data.Timestamp = c.now().UnixMilli()
	}
	if len(data.Styles) == 0 {
		data.Styles = c.transport.Roster().DisplayStyles()
	}
	return c.Broadcast(ctx, domain.TypeLyrics, data)
}

func (c *Channel) ShowSlide(ctx context.Context, data domain.SlideData) error {
	if data.Timestamp == 0 {
		data.Timestamp = c.now().UnixMilli()
	}
	return c.Broadcast(ctx, domain.TypeSlide, data)
}

func (c *Channel) Blackout(ctx context.Context, data domain.BlackData) error {
	return c.Broadcast(ctx, domain.TypeBlack, data)
}

// Precache asks every connected display to fetch items and waits for their
// acks. When timeout elapses first the partial readiness is returned without
// an error.
func (c *Channel) Precache(ctx context.Context, items []domain.PrecacheItem, timeout time.Duration) (Readiness, error) {
	if !c.transport.LeaderStatus().AmILeader {
		return Readiness{}, domain.ErrNotLeader
	}
	if timeout <= 0 {
		timeout = DefaultPrecacheTimeout
	}

	var peers []string
	for _, p := range c.transport.Roster().Connected(domain.RoleDisplay) {
		peers = append(peers, p.ID)
	}

	id := uuid.NewString()
	m := newManifest(id, items, peers)
	c.mu.Lock()
	c.manifests[id] = m
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.manifests, id)
		c.mu.Unlock()
	}()

	if err := c.Broadcast(ctx, domain.TypePrecache, domain.PrecacheData{ManifestID: id, Items: items}); err != nil {
		return Readiness{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.done:
		r := m.readiness(false)
		slog.Info("precache complete", "manifest", id, "summary", r.Summary())
		return r, nil
	case <-timer.C:
		r := m.readiness(true)
		slog.Warn("precache timed out with partial readiness", "manifest", id, "summary", r.Summary())
		return r, nil
	case <-ctx.Done():
		return m.readiness(false), ctx.Err()
	}
}

// Run routes precache acks to the waiting Precache calls until ctx is done.
func (c *Channel) Run(ctx context.Context) {
	msgs, cancel := c.transport.Messages()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-msgs:
			if !ok {
				return
			}
			if env.Type != domain.TypePrecacheAck {
				continue
			}
			var ack domain.PrecacheAckData
			if err := env.Decode(&ack); err != nil {
				slog.Warn("invalid precache ack", "peer", env.From, "error", err)
				continue
			}
			c.mu.Lock()
			m, ok := c.manifests[ack.ManifestID]
			c.mu.Unlock()
			if !ok {
				slog.Debug("ack for unknown manifest", "manifest", ack.ManifestID, "peer", env.From)
				continue
			}
			m.ack(env.From, ack)
		}
	}
}
