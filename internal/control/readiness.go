package control

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/simbafs/stagesync/internal/domain"
)

// DisplayReadiness is one display's progress on a manifest.
type DisplayReadiness struct {
	PeerID string                       `json:"peerId"`
	Items  map[string]domain.CacheState `json:"items"`
	Errors map[string]string            `json:"errors,omitempty"`
}

// Complete reports whether the display acked every item.
func (d DisplayReadiness) Complete(total int) bool {
	return len(d.Items) >= total
}

// Ready reports whether every item is ready on the display.
func (d DisplayReadiness) Ready(total int) bool {
	if !d.Complete(total) {
		return false
	}
	for _, s := range d.Items {
		if s != domain.StateReady {
			return false
		}
	}
	return true
}

// Readiness summarises a precache manifest across the participating displays.
// Ready displays have every item; failed displays acked every item with at
// least one error; pending displays are still missing acks.
type Readiness struct {
	ManifestID string             `json:"manifestId"`
	Total      int                `json:"total"`
	Ready      int                `json:"ready"`
	Failed     int                `json:"failed"`
	Pending    int                `json:"pending"`
	TimedOut   bool               `json:"timedOut"`
	Displays   []DisplayReadiness `json:"displays"`
}

// Summary renders the operator-facing line, e.g. "2 of 3 displays ready".
func (r Readiness) Summary() string {
	s := fmt.Sprintf("%d of %d displays ready", r.Ready, r.Total)
	var extra []string
	if r.Failed > 0 {
		extra = append(extra, fmt.Sprintf("%d failed", r.Failed))
	}
	if r.Pending > 0 {
		extra = append(extra, fmt.Sprintf("%d pending", r.Pending))
	}
	if len(extra) > 0 {
		s += " (" + strings.Join(extra, ", ") + ")"
	}
	return s
}

// AllReady reports whether every participating display is ready.
func (r Readiness) AllReady() bool {
	return r.Ready == r.Total
}

// manifest tracks acks for one precache broadcast.
type manifest struct {
	id    string
	items []string

	mu       sync.Mutex
	displays map[string]*DisplayReadiness
	done     chan struct{}
	closed   bool
}

func newManifest(id string, items []domain.PrecacheItem, peers []string) *manifest {
	m := &manifest{
		id:       id,
		displays: make(map[string]*DisplayReadiness, len(peers)),
		done:     make(chan struct{}),
	}
	for _, it := range items {
		if !slices.Contains(m.items, it.ID) {
			m.items = append(m.items, it.ID)
		}
	}
	for _, p := range peers {
		m.displays[p] = &DisplayReadiness{PeerID: p, Items: map[string]domain.CacheState{}}
	}
	m.checkLocked()
	return m
}

func (m *manifest) ack(peer string, a domain.PrecacheAckData) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.displays[peer]
	if !ok || !slices.Contains(m.items, a.ItemID) {
		return
	}
	d.Items[a.ItemID] = a.Status
	if a.Status == domain.StateError && a.Message != "" {
		if d.Errors == nil {
			d.Errors = map[string]string{}
		}
		d.Errors[a.ItemID] = a.Message
	}
	m.checkLocked()
}

func (m *manifest) checkLocked() {
	if m.closed {
		return
	}
	for _, d := range m.displays {
		if !d.Complete(len(m.items)) {
			return
		}
	}
	m.closed = true
	close(m.done)
}

func (m *manifest) readiness(timedOut bool) Readiness {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := Readiness{ManifestID: m.id, Total: len(m.displays), TimedOut: timedOut}
	total := len(m.items)
	for _, d := range m.displays {
		switch {
		case d.Ready(total):
			r.Ready++
		case d.Complete(total):
			r.Failed++
		default:
			r.Pending++
		}
		cp := DisplayReadiness{PeerID: d.PeerID, Items: make(map[string]domain.CacheState, len(d.Items))}
		for k, v := range d.Items {
			cp.Items[k] = v
		}
		if len(d.Errors) > 0 {
			cp.Errors = make(map[string]string, len(d.Errors))
			for k, v := range d.Errors {
				cp.Errors[k] = v
			}
		}
		r.Displays = append(r.Displays, cp)
	}
	slices.SortFunc(r.Displays, func(a, b DisplayReadiness) int {
		return strings.Compare(a.PeerID, b.PeerID)
	})
	return r
}
