package control

import (
	"context"
	"log/slog"
	"sync"

	"github.com/simbafs/stagesync/internal/domain"
	"github.com/simbafs/stagesync/internal/slides"
)

// Precacher is the part of the precache engine a display needs.
type Precacher interface {
	Precache(ctx context.Context, items []domain.PrecacheItem, obs func([]domain.PrecacheStatus)) []domain.PrecacheStatus
	Song(id string) (domain.Song, bool)
}

// Renderer draws the current display state.
type Renderer interface {
	Render(State)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(State)

func (f RendererFunc) Render(s State) { f(s) }

// State is what a display currently shows.
type State struct {
	ChurchID      string         `json:"churchId"`
	EventID       string         `json:"eventId"`
	SongID        string         `json:"songId"`
	Title         string         `json:"title"`
	BackgroundURL string         `json:"backgroundUrl,omitempty"`
	Slides        []domain.Slide `json:"slides"`
	SlideIndex    int            `json:"slideIndex"`
	Black         bool           `json:"black"`
}

// Current returns the slide on screen, if any.
func (s State) Current() (domain.Slide, bool) {
	if s.Black || s.SlideIndex < 0 || s.SlideIndex >= len(s.Slides) {
		return domain.Slide{}, false
	}
	return s.Slides[s.SlideIndex], true
}

type DisplayOptions struct {
	Transport interface {
		Send(target string, env domain.Envelope) error
		Messages() (<-chan domain.Envelope, func())
	}
	Engine   Precacher
	Styles   []domain.Style
	Renderer Renderer
}

// Display applies control messages on a display peer. Every state message is
// a full snapshot: the last one applied wins.
type Display struct {
	opts DisplayOptions

	mu     sync.Mutex
	state  State
	styles []domain.Style
	wg     sync.WaitGroup
}

func NewDisplay(opts DisplayOptions) *Display {
	return &Display{opts: opts}
}

// Run applies incoming messages until ctx is done.
func (d *Display) Run(ctx context.Context) {
	msgs, cancel := d.opts.Transport.Messages()
	defer cancel()
	defer d.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-msgs:
			if !ok {
				return
			}
			d.Handle(ctx, env)
		}
	}
}

// Handle applies a single envelope.
func (d *Display) Handle(ctx context.Context, env domain.Envelope) {
	switch env.Type {
	case domain.TypeLyrics:
		var data domain.LyricsData
		if err := env.Decode(&data); err != nil {
			slog.Warn("invalid lyrics message", "from", env.From, "error", err)
			return
		}
		d.applyLyrics(data)
	case domain.TypeSlide:
		var data domain.SlideData
		if err := env.Decode(&data); err != nil {
			slog.Warn("invalid slide message", "from", env.From, "error", err)
			return
		}
		d.applySlide(data)
	case domain.TypeBlack:
		var data domain.BlackData
		if err := env.Decode(&data); err != nil {
			slog.Warn("invalid black message", "from", env.From, "error", err)
			return
		}
		d.update(func(s *State) { s.Black = data.IsBlack })
	case domain.TypePrecache:
		var data domain.PrecacheData
		if err := env.Decode(&data); err != nil {
			slog.Warn("invalid precache message", "from", env.From, "error", err)
			return
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.precache(ctx, env.From, data)
		}()
	}
}

func (d *Display) applyLyrics(data domain.LyricsData) {
	lyrics := data.Lyrics
	if lyrics == "" && d.opts.Engine != nil {
		if song, ok := d.opts.Engine.Song(data.SongID); ok {
			lyrics = song.Lyrics
		}
	}
	chunked := slides.Chunk(slides.ParseSections(lyrics), d.sharedStyles(data.Styles))

	d.update(func(s *State) {
		s.ChurchID = data.ChurchID
		s.EventID = data.EventID
		s.SongID = data.SongID
		s.Title = data.Title
		s.BackgroundURL = data.BackgroundURL
		s.Slides = chunked
		s.SlideIndex = 0
	})
}

// sharedStyles returns the style set the controller sent for every display,
// remembering it for songs later served from the cache. Without one the
// display falls back to its own styles.
func (d *Display) sharedStyles(sent []domain.Style) []domain.Style {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(sent) > 0 {
		d.styles = sent
	}
	if len(d.styles) > 0 {
		return d.styles
	}
	return d.opts.Styles
}

func (d *Display) applySlide(data domain.SlideData) {
	d.mu.Lock()
	sameSong := d.state.SongID == data.SongID
	d.mu.Unlock()

	// A slide for a song we have not been sent lyrics for is served from the
	// precached song when available.
	if !sameSong && d.opts.Engine != nil {
		if song, ok := d.opts.Engine.Song(data.SongID); ok {
			d.applyLyrics(domain.LyricsData{
				ChurchID: data.ChurchID,
				EventID:  data.EventID,
				SongID:   song.ID,
				Title:    song.Title,
				Lyrics:   song.Lyrics,
			})
		}
	}

	d.update(func(s *State) {
		if s.SongID != data.SongID {
			slog.Warn("slide for unknown song ignored", "song", data.SongID)
			return
		}
		idx := data.SlideIndex
		if idx < 0 {
			idx = 0
		}
		if n := len(s.Slides); n > 0 && idx >= n {
			idx = n - 1
		}
		s.SlideIndex = idx
	})
}

func (d *Display) precache(ctx context.Context, from string, data domain.PrecacheData) {
	if d.opts.Engine == nil {
		return
	}
	statuses := d.opts.Engine.Precache(ctx, data.Items, nil)
	for _, st := range statuses {
		// Items cut short by ctx are left unacked so the controller sees them pending.
		if st.State != domain.StateReady && st.State != domain.StateError {
			continue
		}
		ack, err := domain.NewEnvelope(domain.TypePrecacheAck, domain.PrecacheAckData{
			ManifestID: data.ManifestID,
			ItemID:     st.ItemID,
			Status:     st.State,
			Message:    st.Message,
		})
		if err != nil {
			slog.Error("failed to encode precache ack", "error", err)
			continue
		}
		if err := d.opts.Transport.Send(from, ack); err != nil {
			slog.Warn("failed to ack precache item", "item", st.ItemID, "to", from, "error", err)
		}
	}
}

func (d *Display) update(f func(*State)) {
	d.mu.Lock()
	f(&d.state)
	s := d.state
	d.mu.Unlock()

	if d.opts.Renderer != nil {
		d.opts.Renderer.Render(s)
	}
}

// State returns a copy of the current state.
func (d *Display) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LogRenderer writes the slide on screen to the structured log.
func LogRenderer() Renderer {
	return RendererFunc(func(s State) {
		if s.Black {
			slog.Info("display blacked out")
			return
		}
		slide, ok := s.Current()
		if !ok {
			slog.Info("display idle", "song", s.SongID)
			return
		}
		slog.Info("showing slide", "song", s.Title, "slide", slide.DisplayLabel, "code", slide.ShortCode, "lines", len(slide.Lines))
	})
}
