package domain

// Role is the part a peer plays in a live-show session.
type Role string

const (
	RoleController Role = "controller"
	RoleDisplay    Role = "display"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleController || r == RoleDisplay
}

// Peer represents a controller or display participating in a session.
type Peer struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"displayName"`
	IsConnected bool   `json:"isConnected"`
	IsLeader    bool   `json:"isLeader"`
	// MaxLines is the line limit of a display's style. Zero is unconstrained.
	MaxLines int `json:"maxLines,omitempty"`
}

// LeaderStatus is a read view derived from the roster.
type LeaderStatus struct {
	LeaderID  string `json:"leaderId,omitempty"`
	AmILeader bool   `json:"amILeader"`
	PeerCount int    `json:"peerCount"`
}

// RosterSnapshot is the authoritative roster as published by the hub.
// Revision grows on every mutation, Term grows whenever the leader changes.
type RosterSnapshot struct {
	Revision uint64 `json:"revision"`
	Term     uint64 `json:"term"`
	LeaderID string `json:"leaderId,omitempty"`
	Peers    []Peer `json:"peers"`
}

// LeaderStatusFor derives the leader view for the given peer.
func (s RosterSnapshot) LeaderStatusFor(selfID string) LeaderStatus {
	return LeaderStatus{
		LeaderID:  s.LeaderID,
		AmILeader: selfID != "" && s.LeaderID == selfID,
		PeerCount: len(s.Peers),
	}
}

// Connected returns the connected peers with the given role.
func (s RosterSnapshot) Connected(role Role) []Peer {
	var out []Peer
	for _, p := range s.Peers {
		if p.IsConnected && p.Role == role {
			out = append(out, p)
		}
	}
	return out
}

// DisplayStyles returns one style per connected display that limits its
// line count, so every display can chunk lyrics the same way.
func (s RosterSnapshot) DisplayStyles() []Style {
	var out []Style
	for _, p := range s.Connected(RoleDisplay) {
		if p.MaxLines > 0 {
			out = append(out, Style{Name: p.DisplayName, MaxLines: p.MaxLines})
		}
	}
	return out
}

// Find looks a peer up by id.
func (s RosterSnapshot) Find(id string) (Peer, bool) {
	for _, p := range s.Peers {
		if p.ID == id {
			return p, true
		}
	}
	return Peer{}, false
}
