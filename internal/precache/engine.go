// Package precache downloads media and song payloads onto a display ahead of
// the slide that needs them.
package precache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/simbafs/stagesync/internal/cache"
	"github.com/simbafs/stagesync/internal/domain"
	"github.com/simbafs/stagesync/internal/metrics"
)

const (
	DefaultWorkers          = 4
	DefaultProgressInterval = 500 * time.Millisecond
	DefaultDownloadTimeout  = 5 * time.Minute

	maxSongSize = 1 << 20
)

// Observer receives status snapshots while a manifest downloads.
type Observer = func([]domain.PrecacheStatus)

type Options struct {
	// Sources maps a URL scheme to the source serving it.
	// http, https and file are served by default.
	Sources map[string]Source

	Media *cache.Store[*cache.Blob]
	Songs *cache.Store[domain.Song]
	Blobs *cache.BlobDir

	Workers          int
	ProgressInterval time.Duration
	DownloadTimeout  time.Duration
	Clock            cache.Clock
}

type Engine struct {
	sources  map[string]Source
	media    *cache.Store[*cache.Blob]
	songs    *cache.Store[domain.Song]
	blobs    *cache.BlobDir
	workers  int
	interval time.Duration
	timeout  time.Duration
	clock    cache.Clock

	mu       sync.Mutex
	items    map[string]*tracker
	inflight map[string]chan struct{}
}

// tracker fields other than read are guarded by Engine.mu.
type tracker struct {
	kind    domain.ItemKind
	state   domain.CacheState
	message string
	total   int64
	read    atomic.Int64
}

func New(opts Options) *Engine {
	e := &Engine{
		sources:  map[string]Source{},
		media:    opts.Media,
		songs:    opts.Songs,
		blobs:    opts.Blobs,
		workers:  opts.Workers,
		interval: opts.ProgressInterval,
		timeout:  opts.DownloadTimeout,
		clock:    opts.Clock,
		items:    make(map[string]*tracker),
		inflight: make(map[string]chan struct{}),
	}
	if e.clock == nil {
		e.clock = cache.SystemClock
	}
	if e.media == nil {
		e.media = cache.New[*cache.Blob](e.clock)
	}
	if e.songs == nil {
		e.songs = cache.New[domain.Song](e.clock)
	}
	if e.workers <= 0 {
		e.workers = DefaultWorkers
	}
	if e.interval <= 0 {
		e.interval = DefaultProgressInterval
	}
	if e.timeout <= 0 {
		e.timeout = DefaultDownloadTimeout
	}

	httpSource := &HTTPSource{}
	e.sources["http"] = httpSource
	e.sources["https"] = httpSource
	e.sources["file"] = FileSource{}
	for scheme, src := range opts.Sources {
		e.sources[scheme] = src
	}
	return e
}

// Precache fetches every item not already cached and returns the final status
// of each, in input order. Downloads keep running when ctx is cancelled; the
// snapshot taken at cancellation is returned and the cache fills in later.
func (e *Engine) Precache(ctx context.Context, items []domain.PrecacheItem, obs Observer) []domain.PrecacheStatus {
	unique := make([]domain.PrecacheItem, 0, len(items))
	ids := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))

	e.mu.Lock()
	for _, item := range items {
		if seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		unique = append(unique, item)
		ids = append(ids, item.ID)

		t, ok := e.items[item.ID]
		if !ok {
			t = &tracker{}
			e.items[item.ID] = t
		}
		if _, running := e.inflight[item.ID]; !running {
			t.kind = item.Kind
			t.state = domain.StatePending
			t.message = ""
			t.total = 0
			t.read.Store(0)
		}
	}
	e.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p := pool.New().WithMaxGoroutines(e.workers)
		for _, item := range unique {
			p.Go(func() {
				e.fetch(detached, item)
			})
		}
		p.Wait()
	}()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	emit := func() []domain.PrecacheStatus {
		snap := e.snapshot(ids)
		if obs != nil {
			obs(snap)
		}
		return snap
	}

	for {
		select {
		case <-done:
			return emit()
		case <-ticker.C:
			emit()
		case <-ctx.Done():
			slog.Warn("precache interrupted, downloads continue in background", "items", len(ids), "error", ctx.Err())
			return emit()
		}
	}
}

func (e *Engine) fetch(ctx context.Context, item domain.PrecacheItem) {
	e.mu.Lock()
	if wait, ok := e.inflight[item.ID]; ok {
		e.mu.Unlock()
		<-wait
		return
	}
	wait := make(chan struct{})
	e.inflight[item.ID] = wait
	t := e.items[item.ID]
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inflight, item.ID)
		e.mu.Unlock()
		close(wait)
	}()

	if e.cached(item.ID, item.Kind) {
		metrics.PrecacheDownloads.WithLabelValues(string(kindOf(item)), "cached").Inc()
		e.finish(t, nil)
		return
	}

	e.mu.Lock()
	t.state = domain.StateDownloading
	t.total = -1
	e.mu.Unlock()

	start := e.clock.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	err := e.download(ctx, item, t, start)
	metrics.PrecacheDuration.Observe(time.Since(start).Seconds())
	metrics.PrecacheBytes.Add(float64(t.read.Load()))
	if err != nil {
		metrics.PrecacheDownloads.WithLabelValues(string(kindOf(item)), "error").Inc()
		slog.Warn("precache download failed", "item", item.ID, "url", item.URL, "error", err)
	} else {
		metrics.PrecacheDownloads.WithLabelValues(string(kindOf(item)), "ok").Inc()
	}
	e.finish(t, err)
}

func (e *Engine) download(ctx context.Context, item domain.PrecacheItem, t *tracker, start time.Time) error {
	src, err := e.source(item.URL)
	if err != nil {
		return err
	}

	obj, err := src.Open(ctx, item.URL)
	if err != nil {
		return err
	}
	defer obj.Body.Close()

	e.mu.Lock()
	t.total = obj.ContentLength
	e.mu.Unlock()

	body := &countingReader{r: obj.Body, n: &t.read}
	version := obj.LastModified
	if version.IsZero() {
		version = start
	}

	if kindOf(item) == domain.KindSong {
		return e.storeSong(item, body, version)
	}
	return e.storeMedia(item, body, version)
}

func (e *Engine) storeSong(item domain.PrecacheItem, r io.Reader, version time.Time) error {
	var song domain.Song
	if err := json.NewDecoder(io.LimitReader(r, maxSongSize)).Decode(&song); err != nil {
		return fmt.Errorf("failed to decode song: %w", err)
	}
	if song.ID == "" {
		song.ID = item.ID
	}
	if !song.UpdatedAt.IsZero() {
		version = song.UpdatedAt
	}

	if !e.songs.Set(item.ID, cache.Entry[domain.Song]{Value: song, Version: version, ExpiresAt: item.ExpiresAt}) {
		metrics.StaleWrites.WithLabelValues("song").Inc()
		slog.Debug("ignored stale song write", "item", item.ID, "version", version)
	}
	return nil
}

func (e *Engine) storeMedia(item domain.PrecacheItem, r io.Reader, version time.Time) error {
	if e.blobs == nil {
		return fmt.Errorf("%w: no blob storage configured", domain.ErrDownloadFailed)
	}
	blob, err := e.blobs.Write(item.ID, r)
	if err != nil {
		return err
	}

	if !e.media.Set(item.ID, cache.Entry[*cache.Blob]{Value: blob, Version: version, ExpiresAt: item.ExpiresAt}) {
		metrics.StaleWrites.WithLabelValues("media").Inc()
		slog.Debug("ignored stale media write", "item", item.ID, "version", version)
		blob.Close()
	}
	return nil
}

func (e *Engine) source(rawURL string) (Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url %q", domain.ErrDownloadFailed, rawURL)
	}
	src, ok := e.sources[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: no source for scheme %q", domain.ErrDownloadFailed, u.Scheme)
	}
	return src, nil
}

func (e *Engine) finish(t *tracker, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		t.state = domain.StateError
		t.message = err.Error()
		return
	}
	t.state = domain.StateReady
	t.message = ""
}

func (e *Engine) cached(id string, kind domain.ItemKind) bool {
	if kind == domain.KindSong {
		_, ok := e.songs.Get(id)
		return ok
	}
	_, ok := e.media.Get(id)
	return ok
}

func (e *Engine) snapshot(ids []string) []domain.PrecacheStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.PrecacheStatus, 0, len(ids))
	for _, id := range ids {
		t, ok := e.items[id]
		if !ok {
			out = append(out, domain.PrecacheStatus{ItemID: id, State: domain.StatePending})
			continue
		}
		out = append(out, t.status(id))
	}
	return out
}

func (t *tracker) status(id string) domain.PrecacheStatus {
	s := domain.PrecacheStatus{ItemID: id, State: t.state, Message: t.message}
	switch t.state {
	case domain.StateReady:
		s.Progress = 100
	case domain.StateDownloading:
		switch {
		case t.total < 0:
			s.Progress = domain.ProgressUnknown
		case t.total > 0:
			s.Progress = int(min(t.read.Load()*100/t.total, 99))
		}
	}
	return s
}

// Status returns the last known status of id.
func (e *Engine) Status(id string) (domain.PrecacheStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.items[id]
	if !ok {
		return domain.PrecacheStatus{}, false
	}
	return t.status(id), true
}

// IsAllReady reports whether every id finished downloading and is still cached.
func (e *Engine) IsAllReady(ids []string) bool {
	for _, id := range ids {
		e.mu.Lock()
		t, ok := e.items[id]
		var kind domain.ItemKind
		ready := ok && t.state == domain.StateReady
		if ok {
			kind = t.kind
		}
		e.mu.Unlock()

		if !ready || !e.cached(id, kind) {
			return false
		}
	}
	return true
}

// Song returns a cached song payload.
func (e *Engine) Song(id string) (domain.Song, bool) {
	entry, ok := e.songs.Get(id)
	return entry.Value, ok
}

// Media returns a cached media blob.
func (e *Engine) Media(id string) (*cache.Blob, bool) {
	entry, ok := e.media.Get(id)
	return entry.Value, ok
}

// Janitor sweeps expired entries from both stores until ctx is done.
func (e *Engine) Janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			media := e.media.Sweep()
			songs := e.songs.Sweep()
			if media+songs > 0 {
				slog.Debug("swept expired cache entries", "media", media, "songs", songs)
			}
		}
	}
}

// Close releases every cached payload.
func (e *Engine) Close() {
	e.media.Close()
	e.songs.Close()
}

func kindOf(item domain.PrecacheItem) domain.ItemKind {
	if item.Kind == domain.KindSong {
		return domain.KindSong
	}
	return domain.KindMedia
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
