package session

import (
	"testing"

	"github.com/simbafs/stagesync/internal/domain"
)

func leaders(s domain.RosterSnapshot) []string {
	var out []string
	for _, p := range s.Peers {
		if p.IsLeader {
			out = append(out, p.ID)
		}
	}
	return out
}

func assertSingleLeader(t *testing.T, s domain.RosterSnapshot, want string) {
	t.Helper()
	got := leaders(s)
	if want == "" {
		if len(got) != 0 || s.LeaderID != "" {
			t.Fatalf("expected no leader, got %v (leaderId %q)", got, s.LeaderID)
		}
		return
	}
	if len(got) != 1 || got[0] != want || s.LeaderID != want {
		t.Fatalf("expected leader %s, got %v (leaderId %q)", want, got, s.LeaderID)
	}
}

func TestRosterElectsSmallestController(t *testing.T) {
	r := NewRoster()
	defer r.Close()

	s := r.Join(domain.Peer{ID: "01C", Role: domain.RoleController})
	assertSingleLeader(t, s, "01C")

	s = r.Join(domain.Peer{ID: "01A", Role: domain.RoleDisplay})
	assertSingleLeader(t, s, "01C")

	s = r.Join(domain.Peer{ID: "01B", Role: domain.RoleController})
	assertSingleLeader(t, s, "01B")
}

func TestRosterLeaderRemoval(t *testing.T) {
	r := NewRoster()
	defer r.Close()

	r.Join(domain.Peer{ID: "01A", Role: domain.RoleController})
	r.Join(domain.Peer{ID: "01B", Role: domain.RoleController})
	r.Join(domain.Peer{ID: "01D", Role: domain.RoleDisplay})

	s, ok := r.Leave("01A")
	if !ok {
		t.Fatal("expected Leave to report a change")
	}
	assertSingleLeader(t, s, "01B")

	s, _ = r.Leave("01B")
	assertSingleLeader(t, s, "")
	if len(s.Peers) != 1 {
		t.Errorf("expected display to remain, got %d peers", len(s.Peers))
	}
}

func TestRosterDisconnectedControllerLosesLeadership(t *testing.T) {
	r := NewRoster()
	defer r.Close()

	r.Join(domain.Peer{ID: "01A", Role: domain.RoleController})
	r.Join(domain.Peer{ID: "01B", Role: domain.RoleController})

	s, _ := r.SetConnected("01A", false)
	assertSingleLeader(t, s, "01B")

	s, _ = r.SetConnected("01A", true)
	assertSingleLeader(t, s, "01A")
}

func TestRosterRevisionAndTerm(t *testing.T) {
	r := NewRoster()
	defer r.Close()

	s1 := r.Join(domain.Peer{ID: "01B", Role: domain.RoleController})
	s2 := r.Join(domain.Peer{ID: "01D", Role: domain.RoleDisplay})
	if s2.Revision != s1.Revision+1 {
		t.Errorf("expected revision to grow by one, got %d -> %d", s1.Revision, s2.Revision)
	}
	if s2.Term != s1.Term {
		t.Errorf("term changed without a leader change: %d -> %d", s1.Term, s2.Term)
	}

	s3 := r.Join(domain.Peer{ID: "01A", Role: domain.RoleController})
	if s3.Term != s2.Term+1 {
		t.Errorf("expected term to grow on leader change, got %d -> %d", s2.Term, s3.Term)
	}

	if _, ok := r.Leave("unknown"); ok {
		t.Error("leaving an unknown peer must not mutate the roster")
	}
	if r.Snapshot().Revision != s3.Revision {
		t.Error("revision moved on a no-op leave")
	}
}

func TestRosterLeaderUniquenessOverTransitions(t *testing.T) {
	r := NewRoster()
	defer r.Close()

	ids := []string{"01E", "01C", "01A", "01D", "01B"}
	for i, id := range ids {
		role := domain.RoleController
		if i%2 == 1 {
			role = domain.RoleDisplay
		}
		s := r.Join(domain.Peer{ID: id, Role: role})
		if n := len(leaders(s)); n > 1 {
			t.Fatalf("join %s: %d leaders", id, n)
		}
	}
	for _, id := range ids {
		s, _ := r.Leave(id)
		if n := len(leaders(s)); n > 1 {
			t.Fatalf("leave %s: %d leaders", id, n)
		}
		if len(s.Connected(domain.RoleController)) == 0 && s.LeaderID != "" {
			t.Fatalf("leave %s: leader %s without controllers", id, s.LeaderID)
		}
	}
}

func TestRosterApplyOnlyNewer(t *testing.T) {
	replica := NewRoster()
	defer replica.Close()

	newer := domain.RosterSnapshot{
		Revision: 5,
		Term:     2,
		LeaderID: "01A",
		Peers:    []domain.Peer{{ID: "01A", Role: domain.RoleController, IsConnected: true, IsLeader: true}},
	}
	older := domain.RosterSnapshot{Revision: 3, Term: 1, LeaderID: "01Z"}

	if !replica.Apply(newer) {
		t.Fatal("expected newer snapshot to apply")
	}
	if replica.Apply(older) {
		t.Fatal("expected older snapshot to be ignored")
	}
	if replica.Apply(newer) {
		t.Fatal("expected same revision to be ignored")
	}
	if got := replica.Snapshot(); got.LeaderID != "01A" || got.Revision != 5 {
		t.Errorf("unexpected replica state %+v", got)
	}

	replica.Reset()
	if !replica.Apply(older) {
		t.Error("expected a reset replica to accept any revision")
	}
}

func TestRosterSubscribe(t *testing.T) {
	r := NewRoster()
	updates, cancel := r.Subscribe()
	defer cancel()

	r.Join(domain.Peer{ID: "01A", Role: domain.RoleController})
	s := <-updates
	if s.LeaderID != "01A" {
		t.Errorf("expected published leader 01A, got %q", s.LeaderID)
	}

	r.Close()
	if _, ok := <-updates; ok {
		t.Error("expected channel to close with the roster")
	}
}
