package domain

import "time"

// ItemKind is the kind of payload a precache item refers to.
type ItemKind string

const (
	KindMedia ItemKind = "media"
	KindSong  ItemKind = "song"
)

// PrecacheItem is one payload a display should fetch ahead of time.
type PrecacheItem struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Kind      ItemKind  `json:"kind"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CacheState is the lifecycle state of a precache item.
type CacheState string

const (
	StatePending     CacheState = "pending"
	StateDownloading CacheState = "downloading"
	StateReady       CacheState = "ready"
	StateError       CacheState = "error"
)

// ProgressUnknown marks a download whose content length is unknown.
const ProgressUnknown = -1

// PrecacheStatus is the status of a single item.
type PrecacheStatus struct {
	ItemID   string     `json:"itemId"`
	State    CacheState `json:"state"`
	Progress int        `json:"progress"`
	Message  string     `json:"message,omitempty"`
}

// Song is the payload cached for song items.
type Song struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Lyrics    string    `json:"lyrics"`
	UpdatedAt time.Time `json:"updatedAt"`
}
