package domain

import "time"

// DisplayClass describes where a display is mounted.
type DisplayClass string

const (
	DisplayClassAudience DisplayClass = "audience"
	DisplayClassStage    DisplayClass = "stage"
	DisplayClassLobby    DisplayClass = "lobby"
)

// Valid reports whether c is a known display class.
func (c DisplayClass) Valid() bool {
	switch c {
	case DisplayClassAudience, DisplayClassStage, DisplayClassLobby:
		return true
	}
	return false
}

// RegisteredDisplay is a paired presentation endpoint, scoped to a church.
type RegisteredDisplay struct {
	ID           string       `gorm:"primaryKey;size:26" json:"id"`
	ChurchID     string       `gorm:"index;not null" json:"churchId"`
	PairingCode  string       `gorm:"uniqueIndex;size:6;not null" json:"pairingCode"`
	Name         string       `json:"name"`
	Location     string       `json:"location"`
	DisplayClass DisplayClass `gorm:"size:16" json:"displayClass"`
	DeviceID     string       `gorm:"index" json:"deviceId"`
	IsOnline     bool         `json:"isOnline"`
	LastSeenAt   *time.Time   `gorm:"index" json:"lastSeenAt,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// TableName overrides the default pluralization
func (RegisteredDisplay) TableName() string {
	return "displays"
}
