package domain

import "encoding/json"

// Envelope is the wire format for every message exchanged between peers.
type Envelope struct {
	Type string          `json:"type"`
	From string          `json:"from,omitempty"`
	To   string          `json:"to,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message types.
const (
	TypeLyrics      = "lyrics"
	TypeSlide       = "slide"
	TypeBlack       = "black"
	TypePrecache    = "precache"
	TypePrecacheAck = "precache_ack"

	TypeWelcome  = "welcome"
	TypePeerList = "peer_list"
	TypeError    = "error"
)

// NewEnvelope marshals data into an envelope of the given type.
func NewEnvelope(msgType string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Data: raw}, nil
}

// Decode unmarshals the envelope data into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

type LyricsData struct {
	ChurchID      string `json:"churchId"`
	EventID       string `json:"eventId"`
	SongID        string `json:"songId"`
	Title         string `json:"title"`
	Lyrics        string `json:"lyrics"`
	BackgroundURL string `json:"backgroundUrl,omitempty"`
	// Styles is the style set every display chunks the lyrics with.
	Styles    []Style `json:"styles,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// IsState reports whether msgType changes what displays show. Only the
// leader may send these.
func IsState(msgType string) bool {
	switch msgType {
	case TypeLyrics, TypeSlide, TypeBlack, TypePrecache:
		return true
	}
	return false
}

type SlideData struct {
	ChurchID   string `json:"churchId"`
	EventID    string `json:"eventId"`
	SongID     string `json:"songId"`
	SlideIndex int    `json:"slideIndex"`
	Timestamp  int64  `json:"timestamp"`
}

type BlackData struct {
	ChurchID string `json:"churchId"`
	EventID  string `json:"eventId"`
	IsBlack  bool   `json:"isBlack"`
}

type PrecacheData struct {
	ManifestID string         `json:"manifestId,omitempty"`
	Items      []PrecacheItem `json:"items"`
}

type PrecacheAckData struct {
	ManifestID string     `json:"manifestId,omitempty"`
	ItemID     string     `json:"itemId"`
	Status     CacheState `json:"status"`
	Message    string     `json:"message,omitempty"`
}

// WelcomeData is sent by the hub once a peer is registered.
type WelcomeData struct {
	PeerID string `json:"peerId"`
}

// ErrorData represents the payload for an error message
type ErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
