package control

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/simbafs/stagesync/internal/domain"
)

type fakePrecacher struct {
	songs      map[string]domain.Song
	failed     map[string]bool
	unfinished map[string]bool
}

func (f *fakePrecacher) Precache(ctx context.Context, items []domain.PrecacheItem, obs func([]domain.PrecacheStatus)) []domain.PrecacheStatus {
	var out []domain.PrecacheStatus
	for _, it := range items {
		if f.unfinished[it.ID] {
			out = append(out, domain.PrecacheStatus{ItemID: it.ID, State: domain.StateDownloading, Progress: 40})
			continue
		}
		if f.failed[it.ID] {
			out = append(out, domain.PrecacheStatus{ItemID: it.ID, State: domain.StateError, Message: "unexpected status 404 Not Found"})
			continue
		}
		out = append(out, domain.PrecacheStatus{ItemID: it.ID, State: domain.StateReady, Progress: 100})
	}
	return out
}

func (f *fakePrecacher) Song(id string) (domain.Song, bool) {
	s, ok := f.songs[id]
	return s, ok
}

const tenLineVerse = "# Verse 1\none\ntwo\nthree\nfour\nfive\nsix\nseven\neight\nnine\nten\n# Chorus\nla\nla la"

func envelope(t *testing.T, msgType string, data any) domain.Envelope {
	t.Helper()
	env, err := domain.NewEnvelope(msgType, data)
	if err != nil {
		t.Fatal(err)
	}
	env.From = "ctl"
	return env
}

func TestDisplayAppliesLyricsWithStyles(t *testing.T) {
	var mu sync.Mutex
	var rendered []State
	d := NewDisplay(DisplayOptions{
		Transport: newFakeTransport(false),
		Styles:    []domain.Style{{Name: "stage", MaxLines: 4}, {Name: "wide", MaxLines: 6}},
		Renderer: RendererFunc(func(s State) {
			mu.Lock()
			rendered = append(rendered, s)
			mu.Unlock()
		}),
	})

	d.Handle(context.Background(), envelope(t, domain.TypeLyrics, domain.LyricsData{
		ChurchID: "c1", EventID: "e1", SongID: "s1", Title: "Grace", Lyrics: tenLineVerse,
	}))

	s := d.State()
	if len(s.Slides) != 4 {
		t.Fatalf("expected 3 verse slides and 1 chorus slide, got %d", len(s.Slides))
	}
	if s.Slides[2].DisplayLabel != "Verse 1 (3/3)" || len(s.Slides[2].Lines) != 2 {
		t.Errorf("unexpected third slide %+v", s.Slides[2])
	}
	cur, ok := s.Current()
	if !ok || cur.ShortCode != "V1a" {
		t.Errorf("expected first slide on screen, got %+v", cur)
	}
	if len(rendered) != 1 {
		t.Errorf("expected one render, got %d", len(rendered))
	}
}

func TestDisplayLastAppliedWins(t *testing.T) {
	d := NewDisplay(DisplayOptions{Transport: newFakeTransport(false)})
	ctx := context.Background()

	d.Handle(ctx, envelope(t, domain.TypeLyrics, domain.LyricsData{SongID: "s1", Lyrics: tenLineVerse}))
	d.Handle(ctx, envelope(t, domain.TypeSlide, domain.SlideData{SongID: "s1", SlideIndex: 2, Timestamp: 200}))
	d.Handle(ctx, envelope(t, domain.TypeSlide, domain.SlideData{SongID: "s1", SlideIndex: 1, Timestamp: 100}))

	if got := d.State().SlideIndex; got != 1 {
		t.Errorf("expected the last applied slide, got %d", got)
	}

	d.Handle(ctx, envelope(t, domain.TypeSlide, domain.SlideData{SongID: "s1", SlideIndex: 99}))
	if got := d.State().SlideIndex; got != 3 {
		t.Errorf("expected out of range index to clamp to the last slide, got %d", got)
	}

	d.Handle(ctx, envelope(t, domain.TypeBlack, domain.BlackData{IsBlack: true}))
	if _, ok := d.State().Current(); ok {
		t.Error("expected nothing on screen while blacked out")
	}
	d.Handle(ctx, envelope(t, domain.TypeBlack, domain.BlackData{IsBlack: false}))
	if _, ok := d.State().Current(); !ok {
		t.Error("expected the slide back after blackout ends")
	}
}

func TestDisplayUsesPrecachedSong(t *testing.T) {
	engine := &fakePrecacher{songs: map[string]domain.Song{
		"s2": {ID: "s2", Title: "Doxology", Lyrics: "# Verse\nPraise God\nfrom whom"},
	}}
	d := NewDisplay(DisplayOptions{Transport: newFakeTransport(false), Engine: engine})

	d.Handle(context.Background(), envelope(t, domain.TypeSlide, domain.SlideData{SongID: "s2", SlideIndex: 0}))

	s := d.State()
	if s.Title != "Doxology" || len(s.Slides) != 1 {
		t.Errorf("expected lyrics from the precached song, got %+v", s)
	}

	d.Handle(context.Background(), envelope(t, domain.TypeSlide, domain.SlideData{SongID: "unknown", SlideIndex: 3}))
	if d.State().SongID != "s2" {
		t.Error("slide for an unknown song must not change the song on screen")
	}
}

func TestDisplayAcksEveryPrecacheItem(t *testing.T) {
	transport := newFakeTransport(false)
	engine := &fakePrecacher{failed: map[string]bool{"video": true}}
	d := NewDisplay(DisplayOptions{Transport: transport, Engine: engine})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	for transport.inbound.Len() == 0 {
		runtimeYield()
	}

	env := envelope(t, domain.TypePrecache, domain.PrecacheData{
		ManifestID: "m1",
		Items:      []domain.PrecacheItem{{ID: "bg"}, {ID: "video"}},
	})
	transport.inbound.Publish(env)

	waitUntil(t, func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		return len(transport.sent["ctl"]) == 2
	})
	cancel()
	<-done

	transport.mu.Lock()
	defer transport.mu.Unlock()
	got := map[string]domain.PrecacheAckData{}
	for _, env := range transport.sent["ctl"] {
		var ack domain.PrecacheAckData
		env.Decode(&ack)
		if ack.ManifestID != "m1" {
			t.Errorf("ack carries manifest %q", ack.ManifestID)
		}
		got[ack.ItemID] = ack
	}
	if got["bg"].Status != domain.StateReady {
		t.Errorf("expected bg ready, got %+v", got["bg"])
	}
	if got["video"].Status != domain.StateError || got["video"].Message == "" {
		t.Errorf("expected video error with message, got %+v", got["video"])
	}
}

func TestDisplayAcksOnlySettledItems(t *testing.T) {
	transport := newFakeTransport(false)
	engine := &fakePrecacher{unfinished: map[string]bool{"video": true}}
	d := NewDisplay(DisplayOptions{Transport: transport, Engine: engine})

	d.Handle(context.Background(), envelope(t, domain.TypePrecache, domain.PrecacheData{
		ManifestID: "m1",
		Items:      []domain.PrecacheItem{{ID: "bg"}, {ID: "video"}},
	}))
	d.wg.Wait()

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.sent["ctl"]) != 1 {
		t.Fatalf("expected a single ack, got %d", len(transport.sent["ctl"]))
	}
	var ack domain.PrecacheAckData
	transport.sent["ctl"][0].Decode(&ack)
	if ack.ItemID != "bg" || ack.Status != domain.StateReady {
		t.Errorf("expected only bg acked ready, got %+v", ack)
	}
}

func TestDisplaysWithDifferentStylesStayInStep(t *testing.T) {
	f := newFakeTransport(true, "stage", "audience")
	f.roster.Peers[1].MaxLines = 2
	f.roster.Peers[2].MaxLines = 4
	c := NewChannel(f)
	ctx := context.Background()

	if err := c.ShowLyrics(ctx, domain.LyricsData{SongID: "s1", Lyrics: tenLineVerse}); err != nil {
		t.Fatal(err)
	}
	if err := c.ShowSlide(ctx, domain.SlideData{SongID: "s1", SlideIndex: 1}); err != nil {
		t.Fatal(err)
	}

	var lyrics domain.LyricsData
	f.broadcast[0].Decode(&lyrics)
	if len(lyrics.Styles) != 2 {
		t.Fatalf("expected the styles of both displays in the lyrics, got %+v", lyrics.Styles)
	}

	stage := NewDisplay(DisplayOptions{Transport: newFakeTransport(false), Styles: []domain.Style{{Name: "stage", MaxLines: 2}}})
	audience := NewDisplay(DisplayOptions{Transport: newFakeTransport(false), Styles: []domain.Style{{Name: "audience", MaxLines: 4}}})
	for _, d := range []*Display{stage, audience} {
		for _, env := range f.broadcast {
			env.From = "ctl"
			d.Handle(ctx, env)
		}
	}

	a, b := stage.State(), audience.State()
	if len(a.Slides) != 6 || len(b.Slides) != 6 {
		t.Fatalf("expected 6 slides on both displays, got %d and %d", len(a.Slides), len(b.Slides))
	}
	ca, _ := a.Current()
	cb, _ := b.Current()
	if ca.DisplayLabel != "Verse 1 (2/5)" || cb.DisplayLabel != ca.DisplayLabel {
		t.Errorf("displays out of step: %q vs %q", ca.DisplayLabel, cb.DisplayLabel)
	}
	if strings.Join(ca.Lines, "/") != "three/four" || strings.Join(cb.Lines, "/") != "three/four" {
		t.Errorf("expected both displays to show three/four, got %v and %v", ca.Lines, cb.Lines)
	}
}
