package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/simbafs/stagesync/internal/domain"
	"github.com/simbafs/stagesync/internal/pubsub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client is a remote peer connected to the hub.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	peer domain.Peer
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("peer connection closed unexpectedly", "peer", c.peer.ID, "error", err)
			}
			return
		}
		c.hub.handleMessage(c, message)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub is the websocket server every other peer of a session connects to. It
// owns the authoritative Roster and hosts one local peer of its own.
type Hub struct {
	roster  *Roster
	self    domain.Peer
	inbound *pubsub.Broker[domain.Envelope]

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

// NewHub joins self into roster and returns a hub ready to accept peers.
// Envelopes addressed to self are published on inbound.
func NewHub(roster *Roster, self domain.Peer, inbound *pubsub.Broker[domain.Envelope]) *Hub {
	h := &Hub{
		roster:  roster,
		self:    self,
		inbound: inbound,
		clients: make(map[string]*client),
	}
	roster.Join(self)
	return h
}

// ServeHTTP upgrades a peer connection. The role and name query parameters
// register the peer, and displays may add maxLines for their style. The hub
// replies with a welcome carrying the peer's id.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	role := domain.Role(r.URL.Query().Get("role"))
	if !role.Valid() {
		writeHTTPError(w, domain.ErrCodeInvalidRole, "role must be controller or display")
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		writeHTTPError(w, domain.ErrCodeInvalidQueryParams, "name is required")
		return
	}
	var maxLines int
	if v := r.URL.Query().Get("maxLines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeHTTPError(w, domain.ErrCodeInvalidQueryParams, "maxLines must be a non-negative integer")
			return
		}
		maxLines = n
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		peer: domain.Peer{ID: ulid.Make().String(), Role: role, DisplayName: name, MaxLines: maxLines},
	}
	if !h.register(c) {
		if raw, err := encode(domain.TypeError, "", c.peer.ID, domain.ErrorData{Code: domain.ErrCodeSessionStart, Message: "session is closed"}); err == nil {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.TextMessage, raw)
		}
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *client) bool {
	welcome, err := encode(domain.TypeWelcome, "", c.peer.ID, domain.WelcomeData{PeerID: c.peer.ID})
	if err != nil {
		slog.Error("failed to encode welcome", "error", err)
		return false
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c.peer.ID] = c
	c.send <- welcome
	h.mu.Unlock()

	slog.Info("peer joined", "peer", c.peer.ID, "role", c.peer.Role, "name", c.peer.DisplayName)
	h.broadcastRoster(h.roster.Join(c.peer))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	current, ok := h.clients[c.peer.ID]
	if ok && current == c {
		delete(h.clients, c.peer.ID)
		close(c.send)
	}
	h.mu.Unlock()
	if !ok || current != c {
		return
	}

	slog.Info("peer left", "peer", c.peer.ID, "role", c.peer.Role)
	if snap, changed := h.roster.Leave(c.peer.ID); changed {
		h.broadcastRoster(snap)
	}
}

func (h *Hub) handleMessage(c *client, raw []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Warn("invalid message from peer", "peer", c.peer.ID, "error", err)
		h.sendError(c.peer.ID, domain.ErrCodeInvalidMessageFormat, "invalid message format")
		return
	}
	if env.Type == "" || env.Type == domain.TypeWelcome || env.Type == domain.TypePeerList {
		h.sendError(c.peer.ID, domain.ErrCodeUnknownMessageType, "unexpected message type: "+env.Type)
		return
	}
	env.From = c.peer.ID
	if !h.mayChange(env) {
		slog.Warn("state message from a follower dropped", "peer", c.peer.ID, "type", env.Type)
		h.sendError(c.peer.ID, domain.ErrCodeNotLeader, "only the leader may send "+env.Type)
		return
	}

	switch env.To {
	case "":
		h.relay(env, c.peer.ID)
		h.inbound.Publish(env)
	case h.self.ID:
		h.inbound.Publish(env)
	default:
		if err := h.deliver(env); err != nil {
			h.sendError(c.peer.ID, domain.ErrCodePeerNotConnected, "peer not connected: "+env.To)
		}
	}
}

// mayChange reports whether the sender of env may send it. State messages
// are only accepted from the current leader.
func (h *Hub) mayChange(env domain.Envelope) bool {
	return !domain.IsState(env.Type) || env.From == h.roster.Snapshot().LeaderID
}

// Send delivers env from the local peer to target.
func (h *Hub) Send(target string, env domain.Envelope) error {
	env.From = h.self.ID
	env.To = target
	if !h.mayChange(env) {
		return domain.ErrNotLeader
	}
	return h.deliver(env)
}

// Broadcast delivers env from the local peer to every connected peer.
func (h *Hub) Broadcast(env domain.Envelope) error {
	env.From = h.self.ID
	env.To = ""
	if !h.mayChange(env) {
		return domain.ErrNotLeader
	}
	return h.relay(env, h.self.ID)
}

func (h *Hub) deliver(env domain.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[env.To]
	if !ok {
		return domain.ErrPeerNotConnected
	}
	h.enqueue(c, raw)
	return nil
}

func (h *Hub) relay(env domain.Envelope, except string) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		if id == except {
			continue
		}
		h.enqueue(c, raw)
	}
	return nil
}

// enqueue must be called with h.mu held.
func (h *Hub) enqueue(c *client, raw []byte) {
	select {
	case c.send <- raw:
	default:
		slog.Warn("send buffer full, message dropped", "peer", c.peer.ID)
	}
}

func (h *Hub) broadcastRoster(snap domain.RosterSnapshot) {
	env, err := domain.NewEnvelope(domain.TypePeerList, snap)
	if err != nil {
		slog.Error("failed to encode peer list", "error", err)
		return
	}
	env.From = h.self.ID
	if err := h.relay(env, ""); err != nil {
		slog.Error("failed to broadcast peer list", "error", err)
	}
}

func (h *Hub) sendError(to string, code int, message string) {
	env, err := domain.NewEnvelope(domain.TypeError, domain.ErrorData{Code: code, Message: message})
	if err != nil {
		return
	}
	env.To = to
	if err := h.deliver(env); err != nil && !errors.Is(err, domain.ErrPeerNotConnected) {
		slog.Warn("failed to send error to peer", "peer", to, "error", err)
	}
}

// Peers returns how many remote peers are connected.
func (h *Hub) Peers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every remote peer.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]*client)
	for _, c := range clients {
		close(c.send)
	}
	h.mu.Unlock()

	for id := range clients {
		h.roster.Leave(id)
	}
}

func encode(msgType, from, to string, data any) ([]byte, error) {
	env, err := domain.NewEnvelope(msgType, data)
	if err != nil {
		return nil, err
	}
	env.From = from
	env.To = to
	return json.Marshal(env)
}

func writeHTTPError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(domain.ErrorData{Code: code, Message: message})
}
