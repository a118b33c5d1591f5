// Package session connects controllers and displays into one live-show
// session and elects the controller allowed to drive it.
package session

import (
	"slices"
	"strings"
	"sync"

	"github.com/simbafs/stagesync/internal/domain"
	"github.com/simbafs/stagesync/internal/metrics"
	"github.com/simbafs/stagesync/internal/pubsub"
)

// Roster is the set of peers in a session and the elected leader.
//
// On the hub it is the single authoritative mutator: Join, Leave and
// SetConnected recompute the leader before returning. On every other peer it
// is a replica updated only through Apply.
type Roster struct {
	mu       sync.Mutex
	peers    map[string]domain.Peer
	revision uint64
	term     uint64
	leaderID string

	updates *pubsub.Broker[domain.RosterSnapshot]
}

func NewRoster() *Roster {
	return &Roster{
		peers:   make(map[string]domain.Peer),
		updates: pubsub.NewBroker[domain.RosterSnapshot](),
	}
}

// Join adds p as a connected peer, replacing any peer with the same id.
func (r *Roster) Join(p domain.Peer) domain.RosterSnapshot {
	r.mu.Lock()
	p.IsConnected = true
	r.peers[p.ID] = p
	snap := r.commitLocked()
	r.publish(snap)
	r.mu.Unlock()
	return snap
}

// Leave removes a peer. It reports false when the peer was unknown.
func (r *Roster) Leave(id string) (domain.RosterSnapshot, bool) {
	r.mu.Lock()
	if _, ok := r.peers[id]; !ok {
		snap := r.snapshotLocked()
		r.mu.Unlock()
		return snap, false
	}
	delete(r.peers, id)
	snap := r.commitLocked()
	r.publish(snap)
	r.mu.Unlock()
	return snap, true
}

// SetConnected flags a known peer as connected or disconnected without
// removing it.
func (r *Roster) SetConnected(id string, connected bool) (domain.RosterSnapshot, bool) {
	r.mu.Lock()
	p, ok := r.peers[id]
	if !ok || p.IsConnected == connected {
		snap := r.snapshotLocked()
		r.mu.Unlock()
		return snap, ok
	}
	p.IsConnected = connected
	r.peers[id] = p
	snap := r.commitLocked()
	r.publish(snap)
	r.mu.Unlock()
	return snap, true
}

// Apply replaces a replica's state with an authoritative snapshot. Snapshots
// that are not strictly newer than the current revision are ignored.
func (r *Roster) Apply(s domain.RosterSnapshot) bool {
	r.mu.Lock()
	if s.Revision <= r.revision {
		r.mu.Unlock()
		return false
	}
	r.peers = make(map[string]domain.Peer, len(s.Peers))
	for _, p := range s.Peers {
		r.peers[p.ID] = p
	}
	r.revision = s.Revision
	r.term = s.Term
	r.leaderID = s.LeaderID
	r.publish(r.snapshotLocked())
	r.mu.Unlock()
	return true
}

// Reset forgets every peer and revision so a replica can follow a new hub.
func (r *Roster) Reset() {
	r.mu.Lock()
	r.peers = make(map[string]domain.Peer)
	r.revision = 0
	r.term = 0
	r.leaderID = ""
	r.publish(r.snapshotLocked())
	r.mu.Unlock()
}

func (r *Roster) Snapshot() domain.RosterSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Subscribe streams a snapshot after every change.
func (r *Roster) Subscribe() (<-chan domain.RosterSnapshot, func()) {
	return r.updates.Subscribe()
}

func (r *Roster) Close() {
	r.updates.Close()
}

func (r *Roster) commitLocked() domain.RosterSnapshot {
	r.revision++
	leader := electLeader(r.peers)
	if leader != r.leaderID {
		r.term++
		r.leaderID = leader
	}
	for id, p := range r.peers {
		p.IsLeader = id == leader
		r.peers[id] = p
	}
	return r.snapshotLocked()
}

func (r *Roster) snapshotLocked() domain.RosterSnapshot {
	peers := make([]domain.Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	slices.SortFunc(peers, func(a, b domain.Peer) int {
		return strings.Compare(a.ID, b.ID)
	})
	return domain.RosterSnapshot{
		Revision: r.revision,
		Term:     r.term,
		LeaderID: r.leaderID,
		Peers:    peers,
	}
}

// publish runs under r.mu so subscribers see snapshots in revision order.
func (r *Roster) publish(s domain.RosterSnapshot) {
	metrics.ConnectedPeers.WithLabelValues(string(domain.RoleController)).Set(float64(len(s.Connected(domain.RoleController))))
	metrics.ConnectedPeers.WithLabelValues(string(domain.RoleDisplay)).Set(float64(len(s.Connected(domain.RoleDisplay))))
	metrics.LeaderTerm.Set(float64(s.Term))
	r.updates.Publish(s)
}

// electLeader picks the connected controller with the smallest id.
// Peer ids are ULIDs, so this is also the earliest controller to start.
func electLeader(peers map[string]domain.Peer) string {
	var leader string
	for id, p := range peers {
		if p.Role != domain.RoleController || !p.IsConnected {
			continue
		}
		if leader == "" || id < leader {
			leader = id
		}
	}
	return leader
}
