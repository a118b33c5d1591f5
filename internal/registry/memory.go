package registry

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/simbafs/stagesync/internal/domain"
)

// MemoryRepository implements Repository for in-memory storage.
type MemoryRepository struct {
	mu       sync.RWMutex
	displays map[string]domain.RegisteredDisplay
	codes    map[string]string // pairing code -> id
}

// NewMemoryRepository creates a new MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		displays: make(map[string]domain.RegisteredDisplay),
		codes:    make(map[string]string),
	}
}

// Create stores a new display. Pairing codes must be unique.
func (r *MemoryRepository) Create(_ context.Context, d *domain.RegisteredDisplay) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.displays[d.ID]; ok {
		return fmt.Errorf("display %s already exists", d.ID)
	}
	if _, ok := r.codes[d.PairingCode]; ok {
		return fmt.Errorf("pairing code %s already in use", d.PairingCode)
	}
	r.displays[d.ID] = *d
	r.codes[d.PairingCode] = d.ID
	return nil
}

// FindByID retrieves a display by its ID.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*domain.RegisteredDisplay, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.displays[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &d, nil
}

// FindByPairingCode retrieves a display by its pairing code.
func (r *MemoryRepository) FindByPairingCode(_ context.Context, code string) (*domain.RegisteredDisplay, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.codes[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	d := r.displays[id]
	return &d, nil
}

// ListByChurch returns the displays of a church ordered by creation time.
func (r *MemoryRepository) ListByChurch(_ context.Context, churchID string) ([]domain.RegisteredDisplay, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.RegisteredDisplay
	for _, d := range r.displays {
		if d.ChurchID == churchID {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b domain.RegisteredDisplay) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Update replaces a display's mutable fields.
func (r *MemoryRepository) Update(_ context.Context, d *domain.RegisteredDisplay) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.displays[d.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if old.PairingCode != d.PairingCode {
		return fmt.Errorf("pairing code of %s cannot change", d.ID)
	}
	r.displays[d.ID] = *d
	return nil
}

// Delete removes a display by its ID.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.displays[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(r.displays, id)
	delete(r.codes, d.PairingCode)
	return nil
}

func (r *MemoryRepository) MarkSeen(_ context.Context, code string, at time.Time) (*domain.RegisteredDisplay, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.codes[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	d := r.displays[id]
	d.IsOnline = true
	d.LastSeenAt = &at
	d.UpdatedAt = at
	r.displays[id] = d
	return &d, nil
}

func (r *MemoryRepository) MarkOffline(_ context.Context, churchID string, cutoff, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, d := range r.displays {
		if churchID != "" && d.ChurchID != churchID {
			continue
		}
		if !d.IsOnline || (d.LastSeenAt != nil && !d.LastSeenAt.Before(cutoff)) {
			continue
		}
		d.IsOnline = false
		d.UpdatedAt = at
		r.displays[id] = d
		n++
	}
	return n, nil
}
