// Package registry keeps the persistent record of paired displays and their
// registry-level presence, independent of any live session.
package registry

import (
	"context"
	"time"

	"github.com/simbafs/stagesync/internal/domain"
)

// Repository stores registered displays. Lookups of missing records return
// domain.ErrNotFound.
type Repository interface {
	Create(ctx context.Context, d *domain.RegisteredDisplay) error
	FindByID(ctx context.Context, id string) (*domain.RegisteredDisplay, error)
	FindByPairingCode(ctx context.Context, code string) (*domain.RegisteredDisplay, error)
	ListByChurch(ctx context.Context, churchID string) ([]domain.RegisteredDisplay, error)
	Update(ctx context.Context, d *domain.RegisteredDisplay) error
	Delete(ctx context.Context, id string) error

	// MarkSeen flags the display with code online and stamps lastSeenAt.
	MarkSeen(ctx context.Context, code string, at time.Time) (*domain.RegisteredDisplay, error)
	// MarkOffline flags online displays of churchID whose lastSeenAt is
	// strictly before cutoff as offline and stamps updatedAt with at. An empty
	// churchID covers every church.
	MarkOffline(ctx context.Context, churchID string, cutoff, at time.Time) (int64, error)
}
