package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/simbafs/stagesync/internal/domain"
	"github.com/simbafs/stagesync/internal/metrics"
)

const maxPairingAttempts = 16

func now(f func() time.Time) time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

// PairInput describes a display being paired to a church.
type PairInput struct {
	ChurchID     string              `json:"churchId"`
	Name         string              `json:"name"`
	Location     string              `json:"location"`
	DisplayClass domain.DisplayClass `json:"displayClass"`
	DeviceID     string              `json:"deviceId"`
}

// PairDisplay creates a display record with a fresh pairing code.
type PairDisplay struct {
	Repo Repository
	Now  func() time.Time
}

// Execute stores a new offline display and returns it.
func (uc *PairDisplay) Execute(ctx context.Context, in PairInput) (*domain.RegisteredDisplay, error) {
	if strings.TrimSpace(in.ChurchID) == "" {
		return nil, fmt.Errorf("%w: churchId is required", domain.ErrInvalidInput)
	}
	if in.DisplayClass == "" {
		in.DisplayClass = domain.DisplayClassAudience
	}
	if !in.DisplayClass.Valid() {
		return nil, fmt.Errorf("%w: display class %q", domain.ErrInvalidInput, in.DisplayClass)
	}

	for range maxPairingAttempts {
		code, err := NewPairingCode()
		if err != nil {
			return nil, err
		}
		if _, err := uc.Repo.FindByPairingCode(ctx, code); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}

		t := now(uc.Now)
		d := &domain.RegisteredDisplay{
			ID:           ulid.Make().String(),
			ChurchID:     in.ChurchID,
			PairingCode:  code,
			Name:         in.Name,
			Location:     in.Location,
			DisplayClass: in.DisplayClass,
			DeviceID:     in.DeviceID,
			IsOnline:     false,
			CreatedAt:    t,
			UpdatedAt:    t,
		}
		if err := uc.Repo.Create(ctx, d); err != nil {
			return nil, fmt.Errorf("failed to create display: %w", err)
		}
		slog.Info("display paired", "display", d.ID, "church", d.ChurchID, "code", d.PairingCode)
		return d, nil
	}
	return nil, errors.New("failed to allocate a unique pairing code")
}

// RecordHeartbeat marks the display with the given pairing code online.
type RecordHeartbeat struct {
	Repo Repository
	Now  func() time.Time
}

func (uc *RecordHeartbeat) Execute(ctx context.Context, code string) (*domain.RegisteredDisplay, error) {
	code = NormalizePairingCode(code)
	if !ValidPairingCode(code) {
		return nil, domain.ErrInvalidPairingCode
	}
	d, err := uc.Repo.MarkSeen(ctx, code, now(uc.Now))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrInvalidPairingCode
	}
	return d, err
}

// SweepOffline marks displays offline once their heartbeat is older than the
// staleness threshold.
type SweepOffline struct {
	Repo Repository
	Now  func() time.Time
}

// Execute returns how many displays went offline. An empty churchID sweeps
// every church.
func (uc *SweepOffline) Execute(ctx context.Context, churchID string, staleness time.Duration) (int64, error) {
	at := now(uc.Now)
	n, err := uc.Repo.MarkOffline(ctx, churchID, at.Add(-staleness), at)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.OfflineSweeps.Add(float64(n))
		slog.Info("displays went offline", "church", churchID, "count", n)
	}
	return n, nil
}

// UpdateInput carries the fields an operator may change. Nil fields are kept.
type UpdateInput struct {
	Name         *string              `json:"name"`
	Location     *string              `json:"location"`
	DisplayClass *domain.DisplayClass `json:"displayClass"`
	DeviceID     *string              `json:"deviceId"`
}

type UpdateDisplay struct {
	Repo Repository
	Now  func() time.Time
}

func (uc *UpdateDisplay) Execute(ctx context.Context, id string, in UpdateInput) (*domain.RegisteredDisplay, error) {
	d, err := uc.Repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		d.Name = *in.Name
	}
	if in.Location != nil {
		d.Location = *in.Location
	}
	if in.DisplayClass != nil {
		if !in.DisplayClass.Valid() {
			return nil, fmt.Errorf("%w: display class %q", domain.ErrInvalidInput, *in.DisplayClass)
		}
		d.DisplayClass = *in.DisplayClass
	}
	if in.DeviceID != nil {
		d.DeviceID = *in.DeviceID
	}
	d.UpdatedAt = now(uc.Now)

	if err := uc.Repo.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// DeleteDisplay removes a display. Displays are only ever removed this way.
type DeleteDisplay struct {
	Repo Repository
}

func (uc *DeleteDisplay) Execute(ctx context.Context, id string) error {
	if err := uc.Repo.Delete(ctx, id); err != nil {
		return err
	}
	slog.Info("display deleted", "display", id)
	return nil
}

type ListDisplays struct {
	Repo Repository
}

func (uc *ListDisplays) Execute(ctx context.Context, churchID string) ([]domain.RegisteredDisplay, error) {
	return uc.Repo.ListByChurch(ctx, churchID)
}

type GetDisplay struct {
	Repo Repository
}

func (uc *GetDisplay) Execute(ctx context.Context, id string) (*domain.RegisteredDisplay, error) {
	return uc.Repo.FindByID(ctx, id)
}

// UseCases bundles the registry use cases around one repository.
type UseCases struct {
	Pair      *PairDisplay
	Heartbeat *RecordHeartbeat
	Sweep     *SweepOffline
	Update    *UpdateDisplay
	Delete    *DeleteDisplay
	List      *ListDisplays
	Get       *GetDisplay
}

func NewUseCases(repo Repository, clock func() time.Time) *UseCases {
	return &UseCases{
		Pair:      &PairDisplay{Repo: repo, Now: clock},
		Heartbeat: &RecordHeartbeat{Repo: repo, Now: clock},
		Sweep:     &SweepOffline{Repo: repo, Now: clock},
		Update:    &UpdateDisplay{Repo: repo, Now: clock},
		Delete:    &DeleteDisplay{Repo: repo},
		List:      &ListDisplays{Repo: repo},
		Get:       &GetDisplay{Repo: repo},
	}
}
