package api

import (
	"time"

	"github.com/simbafs/stagesync/internal/domain"
	"github.com/simbafs/stagesync/internal/registry"
)

// SweepConfig for POST /api/churches/:churchId/displays/sweep
type SweepConfig struct {
	Staleness time.Duration
}

// PairDisplayRequest for POST /api/churches/:churchId/displays
type PairDisplayRequest struct {
	Name         string              `json:"name" binding:"required"`
	Location     string              `json:"location"`
	DisplayClass domain.DisplayClass `json:"displayClass"`
	DeviceID     string              `json:"deviceId"`
}

func (r PairDisplayRequest) input(churchID string) registry.PairInput {
	return registry.PairInput{
		ChurchID:     churchID,
		Name:         r.Name,
		Location:     r.Location,
		DisplayClass: r.DisplayClass,
		DeviceID:     r.DeviceID,
	}
}

// HeartbeatRequest for POST /api/displays/heartbeat
type HeartbeatRequest struct {
	PairingCode string `json:"pairingCode" binding:"required"`
}

type SweepResponse struct {
	MarkedOffline int64 `json:"markedOffline"`
}

// DisplayResponse is the response for display details
type DisplayResponse struct {
	ID           string              `json:"id"`
	ChurchID     string              `json:"churchId"`
	PairingCode  string              `json:"pairingCode"`
	Name         string              `json:"name"`
	Location     string              `json:"location"`
	DisplayClass domain.DisplayClass `json:"displayClass"`
	DeviceID     string              `json:"deviceId,omitempty"`
	IsOnline     bool                `json:"isOnline"`
	LastSeenAt   *time.Time          `json:"lastSeenAt,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

func toDisplayResponse(d *domain.RegisteredDisplay) DisplayResponse {
	return DisplayResponse{
		ID:           d.ID,
		ChurchID:     d.ChurchID,
		PairingCode:  d.PairingCode,
		Name:         d.Name,
		Location:     d.Location,
		DisplayClass: d.DisplayClass,
		DeviceID:     d.DeviceID,
		IsOnline:     d.IsOnline,
		LastSeenAt:   d.LastSeenAt,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}
