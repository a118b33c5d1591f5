package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/simbafs/stagesync/internal/config"
	"github.com/simbafs/stagesync/internal/domain"
	"github.com/simbafs/stagesync/internal/pubsub"
)

// State is the lifecycle state of a Manager.
type State string

const (
	StateDisconnected State = "disconnected"
	StateDiscovering  State = "discovering"
	StateConnected    State = "connected"
	StateError        State = "error"
)

const DefaultHandshakeTimeout = 5 * time.Second

// HubLocator finds the websocket url of a session hub on the network. It
// returns an empty url when no hub answers.
type HubLocator interface {
	LocateHub(ctx context.Context) (string, error)
}

type Options struct {
	Capability config.Capability
	// HubURL is the websocket url of the hub to join. When empty the
	// manager asks Locator, and hosts only if no hub is found.
	HubURL           string
	Locator          HubLocator
	HandshakeTimeout time.Duration
	// MaxLines is announced to the hub as this display's line limit.
	MaxLines int
}

// Manager is a peer's view of the session: it either hosts the hub or joins
// one, and exposes the roster, leader status and message transport.
type Manager struct {
	capability config.Capability
	hubURL     string
	locator    HubLocator
	timeout    time.Duration
	maxLines   int

	roster  *Roster
	inbound *pubsub.Broker[domain.Envelope]

	mu     sync.RWMutex
	state  State
	selfID string
	hub    *Hub
	link   *Link
	cancel context.CancelFunc
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		capability: opts.Capability,
		hubURL:     opts.HubURL,
		locator:    opts.Locator,
		timeout:    opts.HandshakeTimeout,
		maxLines:   opts.MaxLines,
		roster:     NewRoster(),
		inbound:    pubsub.NewBrokerSize[domain.Envelope](64),
		state:      StateDisconnected,
	}
	if m.timeout <= 0 {
		m.timeout = DefaultHandshakeTimeout
	}
	return m
}

// Start joins the session as role and returns this peer's id. It dials
// HubURL, or else the first hub the locator finds. With no hub to join, a
// manager with the host capability serves the hub itself.
func (m *Manager) Start(ctx context.Context, role domain.Role, displayName string) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("%w: invalid role %q", domain.ErrSessionStart, role)
	}

	m.mu.Lock()
	switch m.state {
	case StateConnected:
		defer m.mu.Unlock()
		return m.selfID, nil
	case StateDiscovering:
		m.mu.Unlock()
		return "", fmt.Errorf("%w: already starting", domain.ErrSessionStart)
	}
	m.state = StateDiscovering
	m.mu.Unlock()

	hubURL := m.hubURL
	if hubURL == "" && m.locator != nil {
		found, err := m.locator.LocateHub(ctx)
		if err != nil {
			slog.Warn("hub discovery failed", "error", err)
		}
		hubURL = found
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	self := domain.Peer{Role: role, DisplayName: displayName, MaxLines: m.maxLines}

	if hubURL == "" {
		if !m.capability.Host {
			m.state = StateError
			return "", fmt.Errorf("%w: no hub to join", domain.ErrSessionStart)
		}
		self.ID = ulid.Make().String()
		m.roster.Reset()
		m.hub = NewHub(m.roster, self, m.inbound)
		m.selfID = self.ID
		m.state = StateConnected
		slog.Info("hosting session", "peer", self.ID, "role", role)
		return self.ID, nil
	}

	m.roster.Reset()
	link, err := Dial(ctx, hubURL, self, m.roster, m.inbound, m.timeout)
	if err != nil {
		m.state = StateError
		return "", fmt.Errorf("%w: %v", domain.ErrSessionStart, err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	m.link = link
	m.selfID = link.SelfID()
	m.cancel = cancel
	m.state = StateConnected
	go m.watch(watchCtx, link)

	slog.Info("joined session", "peer", m.selfID, "hub", hubURL, "role", role)
	return m.selfID, nil
}

func (m *Manager) watch(ctx context.Context, link *Link) {
	select {
	case <-ctx.Done():
	case <-link.Done():
		m.mu.Lock()
		if m.link == link {
			m.state = StateDisconnected
			m.link = nil
			slog.Warn("lost connection to hub", "peer", m.selfID)
		}
		m.mu.Unlock()
	}
}

// Handler returns the hub's websocket handler, or nil when not hosting.
func (m *Manager) Handler() http.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.hub == nil {
		return nil
	}
	return m.hub
}

// Hosting reports whether this manager serves the session hub.
func (m *Manager) Hosting() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hub != nil
}

// Subscribe streams roster snapshots.
func (m *Manager) Subscribe() (<-chan domain.RosterSnapshot, func()) {
	return m.roster.Subscribe()
}

// Messages streams envelopes addressed to this peer or broadcast.
func (m *Manager) Messages() (<-chan domain.Envelope, func()) {
	return m.inbound.Subscribe()
}

func (m *Manager) Roster() domain.RosterSnapshot {
	return m.roster.Snapshot()
}

func (m *Manager) LeaderStatus() domain.LeaderStatus {
	return m.roster.Snapshot().LeaderStatusFor(m.SelfID())
}

func (m *Manager) SelfID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selfID
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Send delivers env to a single peer. It fails with domain.ErrPeerNotConnected
// when the target is unknown or disconnected.
func (m *Manager) Send(target string, env domain.Envelope) error {
	m.mu.RLock()
	hub, link, self := m.hub, m.link, m.selfID
	m.mu.RUnlock()

	switch {
	case target != "" && target == self:
		env.From, env.To = self, self
		m.inbound.Publish(env)
		return nil
	case hub != nil:
		return hub.Send(target, env)
	case link != nil:
		return link.Send(target, env)
	default:
		return domain.ErrPeerNotConnected
	}
}

// Broadcast delivers env to every other connected peer.
func (m *Manager) Broadcast(env domain.Envelope) error {
	m.mu.RLock()
	hub, link := m.hub, m.link
	m.mu.RUnlock()

	switch {
	case hub != nil:
		return hub.Broadcast(env)
	case link != nil:
		return link.Broadcast(env)
	default:
		return fmt.Errorf("%w: session not started", domain.ErrPeerNotConnected)
	}
}

// Stop leaves the session and releases the transport.
func (m *Manager) Stop() {
	m.mu.Lock()
	hub, link, cancel := m.hub, m.link, m.cancel
	m.hub, m.link, m.cancel = nil, nil, nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if link != nil {
		link.Close()
	}
	if hub != nil {
		hub.Close()
	}
	m.roster.Reset()
}
