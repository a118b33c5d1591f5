package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/simbafs/stagesync/internal/domain"
	"github.com/simbafs/stagesync/internal/pubsub"
)

// Link is a peer's connection to a remote hub. The roster it is given is
// kept as a replica of the hub's.
type Link struct {
	conn    *websocket.Conn
	selfID  string
	roster  *Roster
	inbound *pubsub.Broker[domain.Envelope]
	send    chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the hub at hubURL and waits for its welcome.
func Dial(ctx context.Context, hubURL string, self domain.Peer, roster *Roster, inbound *pubsub.Broker[domain.Envelope], timeout time.Duration) (*Link, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return nil, fmt.Errorf("invalid hub url: %w", err)
	}
	q := u.Query()
	q.Set("role", string(self.Role))
	q.Set("name", self.DisplayName)
	if self.MaxLines > 0 {
		q.Set("maxLines", strconv.Itoa(self.MaxLines))
	}
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial hub: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(timeout))
	var welcome domain.Envelope
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("no welcome from hub: %w", err)
	}
	if welcome.Type == domain.TypeError {
		var e domain.ErrorData
		welcome.Decode(&e)
		conn.Close()
		return nil, fmt.Errorf("hub rejected peer: %d %s", e.Code, e.Message)
	}
	var data domain.WelcomeData
	if welcome.Type != domain.TypeWelcome || welcome.Decode(&data) != nil || data.PeerID == "" {
		conn.Close()
		return nil, fmt.Errorf("unexpected first message %q", welcome.Type)
	}

	l := &Link{
		conn:    conn,
		selfID:  data.PeerID,
		roster:  roster,
		inbound: inbound,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}
	go l.writePump()
	go l.readPump()
	return l, nil
}

// SelfID is the id the hub assigned to this peer.
func (l *Link) SelfID() string {
	return l.selfID
}

// Done is closed once the connection to the hub is gone.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

func (l *Link) readPump() {
	defer l.Close()
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error { l.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	// The hub pings us; answer and extend the deadline.
	l.conn.SetPingHandler(func(data string) error {
		l.conn.SetReadDeadline(time.Now().Add(pongWait))
		err := l.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		_, raw, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("hub connection closed unexpectedly", "error", err)
			}
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			slog.Warn("invalid message from hub", "error", err)
			continue
		}

		switch env.Type {
		case domain.TypePeerList:
			var snap domain.RosterSnapshot
			if err := env.Decode(&snap); err != nil {
				slog.Warn("invalid peer list", "error", err)
				continue
			}
			l.roster.Apply(snap)
		case domain.TypeError:
			var e domain.ErrorData
			env.Decode(&e)
			slog.Warn("hub reported an error", "code", e.Code, "message", e.Message)
			l.inbound.Publish(env)
		default:
			l.inbound.Publish(env)
		}
	}
}

func (l *Link) writePump() {
	for {
		select {
		case <-l.done:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			l.conn.Close()
			return
		case message := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				l.Close()
				return
			}
		}
	}
}

// Send delivers env to target through the hub.
func (l *Link) Send(target string, env domain.Envelope) error {
	p, ok := l.roster.Snapshot().Find(target)
	if !ok || !p.IsConnected {
		return domain.ErrPeerNotConnected
	}
	env.From = l.selfID
	env.To = target
	return l.enqueue(env)
}

// Broadcast delivers env to every other peer through the hub.
func (l *Link) Broadcast(env domain.Envelope) error {
	env.From = l.selfID
	env.To = ""
	return l.enqueue(env)
}

func (l *Link) enqueue(env domain.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case <-l.done:
		return domain.ErrPeerNotConnected
	case l.send <- raw:
		return nil
	default:
		slog.Warn("send buffer full, message dropped", "type", env.Type)
		return nil
	}
}

func (l *Link) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
}
