// Package ingest captures camera HLS streams into the segment archive.
// A Writer polls one camera's playlist, downloads new segments, prepends
// the cached init segment and commits each one as a standalone fMP4 file
// plus an index row; the Manager runs one Writer per camera.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/jmylchreest/nvarr/internal/gateway"
	"github.com/jmylchreest/nvarr/internal/index"
	"github.com/jmylchreest/nvarr/internal/models"
	"github.com/jmylchreest/nvarr/internal/observability"
	"github.com/jmylchreest/nvarr/internal/recovery"
	"github.com/jmylchreest/nvarr/internal/storage"
	"github.com/jmylchreest/nvarr/internal/urlutil"
)

const (
	// defaultPollInterval is how often a writer re-reads its playlist.
	defaultPollInterval = 500 * time.Millisecond

	// defaultNominalMs is the indexed duration for a segment when the
	// configuration does not override it.
	defaultNominalMs = 3000

	// recoveryPause is how long a camera rests after the recovery
	// threshold trips before capture resumes.
	recoveryPause = 5 * time.Second

	// burstWarnThreshold flags ticks that yield suspiciously many new
	// segments, usually a sign the writer fell behind the playlist
	// window.
	burstWarnThreshold = 10
)

// Deps bundles the shared collaborators every camera writer uses. One
// instance serves all writers; each collaborator is safe for concurrent
// use.
type Deps struct {
	Client  *gateway.Client
	Store   *index.Store
	Archive *storage.Archive
	Tracker *recovery.Tracker
	Inits   *InitCache
}

// WriterConfig identifies one camera and its capture parameters.
type WriterConfig struct {
	CameraID          string
	CameraName        string
	PlaylistURL       string
	PollInterval      time.Duration
	NominalDurationMs int
}

// Stats is a point-in-time snapshot of one camera's capture state.
type Stats struct {
	CameraID         string     `json:"camera_id"`
	CameraName       string     `json:"camera_name"`
	Recording        bool       `json:"recording"`
	InitCached       bool       `json:"init_cached"`
	Errors           int64      `json:"errors"`
	SegmentsRecorded int64      `json:"segments_recorded"`
	BytesWritten     int64      `json:"bytes_written"`
	LastSegmentTime  *time.Time `json:"last_segment_time,omitempty"`
}

// Writer captures one camera's HLS output into the archive. Run is the
// only method that mutates capture state, so a Writer needs no locking
// beyond its stats snapshot.
type Writer struct {
	log     *slog.Logger
	client  *gateway.Client
	store   *index.Store
	archive *storage.Archive
	tracker *recovery.Tracker
	inits   *InitCache

	cameraID    string
	cameraName  string
	playlistURL string

	pollInterval time.Duration
	nominalMs    int64

	// lastSeen holds the resolved segment URLs already processed or
	// still listed in the playlist. Novelty is decided purely by set
	// difference against it; media sequence numbers recycle across
	// gateway restarts and are never consulted.
	lastSeen map[string]struct{}

	// pendingRecovery is set after a recovery pause and cleared by the
	// first successful segment write, which reports the camera healthy.
	pendingRecovery bool

	now     func() time.Time
	backoff func(ErrorClass) time.Duration
	pause   time.Duration

	mu    sync.Mutex
	stats Stats
}

// NewWriter builds a writer for a single camera. The configuration's
// zero values fall back to the standard poll interval and nominal
// duration.
func NewWriter(log *slog.Logger, deps Deps, cfg WriterConfig) *Writer {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	nominal := int64(cfg.NominalDurationMs)
	if nominal <= 0 {
		nominal = defaultNominalMs
	}

	return &Writer{
		log:          observability.WithCamera(log, cfg.CameraID),
		client:       deps.Client,
		store:        deps.Store,
		archive:      deps.Archive,
		tracker:      deps.Tracker,
		inits:        deps.Inits,
		cameraID:     cfg.CameraID,
		cameraName:   cfg.CameraName,
		playlistURL:  cfg.PlaylistURL,
		pollInterval: cfg.PollInterval,
		nominalMs:    nominal,
		lastSeen:     make(map[string]struct{}),
		now:          time.Now,
		backoff:      ErrorClass.Backoff,
		pause:        recoveryPause,
		stats: Stats{
			CameraID:   cfg.CameraID,
			CameraName: cfg.CameraName,
		},
	}
}

// Run polls the camera playlist until ctx is cancelled. Failures never
// terminate the loop: each error is classified, reported to the recovery
// tracker and followed by a class-specific backoff, or by the recovery
// pause when the tracker says the threshold tripped.
func (w *Writer) Run(ctx context.Context) {
	w.setRecording(true)
	defer w.setRecording(false)

	w.log.Info("camera capture started",
		"playlist_url", w.playlistURL,
		"poll_interval", w.pollInterval,
	)
	defer w.log.Info("camera capture stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		err := w.tick(ctx)
		if err == nil {
			if !sleepCtx(ctx, w.pollInterval) {
				return
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}

		class := Classify(err)
		w.noteError()
		w.log.Error("capture tick failed",
			"error", err,
			"error_class", class.String(),
		)

		if w.tracker.RecordError(ctx, w.cameraID, class.String(), err.Error()) {
			w.enterRecovery(ctx)
			continue
		}
		if !sleepCtx(ctx, w.backoff(class)) {
			return
		}
	}
}

// tick performs one poll cycle: refresh the playlist, make sure the init
// segment is cached, then download and commit every segment URL not seen
// before, in playlist order.
func (w *Writer) tick(ctx context.Context) error {
	mediaURL, media, err := w.fetchMediaPlaylist(ctx)
	if err != nil {
		return err
	}

	w.ensureInit(ctx, mediaURL, media)

	current, ordered, err := w.segmentURLs(mediaURL, media)
	if err != nil {
		return err
	}

	fresh := make([]string, 0, len(ordered))
	for _, u := range ordered {
		if _, ok := w.lastSeen[u]; !ok {
			fresh = append(fresh, u)
		}
	}
	w.log.Log(ctx, observability.LevelTrace, "playlist polled",
		"playlist_segments", len(ordered),
		"new_segments", len(fresh),
	)
	if len(fresh) == 0 {
		return nil
	}
	if len(fresh) > burstWarnThreshold {
		w.log.Warn("large segment burst", "new_segments", len(fresh))
	}

	processed := make(map[string]struct{}, len(fresh))
	for _, u := range fresh {
		if err := w.capture(ctx, u); err != nil {
			// Keep what was processed and forget URLs that left the
			// playlist window; the failed URL stays unseen so the next
			// tick retries it.
			w.retainSeen(current, processed)
			return fmt.Errorf("capturing segment: %w", err)
		}
		processed[u] = struct{}{}
	}

	w.lastSeen = current
	return nil
}

// fetchMediaPlaylist downloads the configured playlist and resolves it to
// a media playlist. Master playlists are re-resolved on every call so a
// gateway that reorders or replaces variants is picked up immediately;
// the first listed variant always wins.
func (w *Writer) fetchMediaPlaylist(ctx context.Context) (string, *playlist.Media, error) {
	raw, err := w.client.FetchPlaylist(ctx, w.playlistURL)
	if err != nil {
		return "", nil, fmt.Errorf("fetching playlist: %w", err)
	}
	pl, err := playlist.Unmarshal(raw)
	if err != nil {
		return "", nil, fmt.Errorf("parsing playlist: %w", err)
	}

	switch p := pl.(type) {
	case *playlist.Media:
		return w.playlistURL, p, nil

	case *playlist.Multivariant:
		if len(p.Variants) == 0 {
			return "", nil, errors.New("master playlist lists no variants")
		}
		variantURL, err := urlutil.ResolveReference(w.playlistURL, p.Variants[0].URI)
		if err != nil {
			return "", nil, fmt.Errorf("resolving variant URI: %w", err)
		}
		rawVariant, err := w.client.FetchPlaylist(ctx, variantURL)
		if err != nil {
			return "", nil, fmt.Errorf("fetching variant playlist: %w", err)
		}
		variant, err := playlist.Unmarshal(rawVariant)
		if err != nil {
			return "", nil, fmt.Errorf("parsing variant playlist: %w", err)
		}
		media, ok := variant.(*playlist.Media)
		if !ok {
			return "", nil, fmt.Errorf("variant resolved to %T, not a media playlist", variant)
		}
		return variantURL, media, nil

	default:
		return "", nil, fmt.Errorf("unsupported playlist type %T", pl)
	}
}

// ensureInit fetches and caches the camera's init segment when the
// playlist advertises one and the cache is empty. Failures are logged
// and swallowed: segments are still written (init-less, with a warning
// per segment) and the fetch is retried on the next tick because the
// cache stays empty.
func (w *Writer) ensureInit(ctx context.Context, mediaURL string, media *playlist.Media) {
	if media.Map == nil || media.Map.URI == "" {
		return
	}
	if w.inits.Has(w.cameraID) {
		return
	}

	initURL, err := urlutil.ResolveReference(mediaURL, media.Map.URI)
	if err != nil {
		w.log.Warn("resolving init segment URI failed", "uri", media.Map.URI, "error", err)
		return
	}
	data, err := w.client.FetchInit(ctx, initURL)
	if err != nil {
		w.log.Warn("fetching init segment failed", "error", err)
		return
	}

	// The probe only yields codec metadata for the index; a segment is
	// still archivable when it fails.
	info, err := ProbeInit(data)
	if err != nil {
		w.log.Warn("probing init segment failed", "error", err)
		info = nil
	}
	w.inits.Put(w.cameraID, data, info)

	attrs := []any{"bytes", len(data)}
	if info != nil {
		attrs = append(attrs, "codec", info.Codec, "resolution", info.Resolution)
	}
	w.log.Info("init segment cached", attrs...)
}

// segmentURLs extracts the downloadable segment URIs from a media
// playlist and resolves them against the playlist URL. Partial segments
// and init entries that leak into the segment list are skipped.
func (w *Writer) segmentURLs(mediaURL string, media *playlist.Media) (map[string]struct{}, []string, error) {
	current := make(map[string]struct{}, len(media.Segments))
	ordered := make([]string, 0, len(media.Segments))
	for _, seg := range media.Segments {
		if !isSegmentURI(seg.URI) {
			continue
		}
		u, err := urlutil.ResolveReference(mediaURL, seg.URI)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving segment URI %q: %w", seg.URI, err)
		}
		current[u] = struct{}{}
		ordered = append(ordered, u)
	}
	return current, ordered, nil
}

// capture downloads one segment, prepends the cached init data and
// commits the result: atomic file write first, index row second. The
// first successful capture after a recovery pause reports the camera
// recovered.
func (w *Writer) capture(ctx context.Context, segmentURL string) error {
	data, err := w.client.FetchSegment(ctx, segmentURL)
	if err != nil {
		return err
	}

	var (
		payload []byte
		info    *MediaInfo
	)
	if init, ok := w.inits.Get(w.cameraID); ok {
		payload = make([]byte, 0, len(init.Data)+len(data))
		payload = append(payload, init.Data...)
		payload = append(payload, data...)
		info = init.Info
	} else {
		w.log.Warn("writing segment without init data", "segment_url", segmentURL)
		payload = data
	}

	now := w.now()
	token := storage.TokenFromURI(segmentURL)
	rel := storage.SegmentRelPath(w.cameraID, now, token)

	absPath, err := w.archive.AtomicWrite(rel, payload)
	if err != nil {
		return err
	}

	rec := &models.Recording{
		CameraID:   w.cameraID,
		CameraName: w.cameraName,
		FilePath:   absPath,
		StartTime:  now,
		DurationMs: w.nominalMs,
		FileSize:   int64(len(payload)),
	}
	if info != nil {
		rec.Codec = info.Codec
		rec.Resolution = info.Resolution
	}
	if err := w.store.InsertSegment(ctx, rec); err != nil {
		return err
	}

	w.noteSegment(int64(len(payload)), now)

	if w.pendingRecovery {
		w.pendingRecovery = false
		w.tracker.MarkRecovered(ctx, w.cameraID)
	}

	w.log.Debug("segment committed", "path", rel, "bytes", len(payload))
	return nil
}

// enterRecovery evicts the cached init segment and rests before capture
// resumes. Evicting forces a fresh init fetch because a tripped camera
// often means the gateway restarted and re-encoded the stream.
func (w *Writer) enterRecovery(ctx context.Context) {
	w.log.Warn("entering recovery", "pause", w.pause)
	w.inits.Evict(w.cameraID)
	w.pendingRecovery = true
	sleepCtx(ctx, w.pause)
}

// retainSeen rebuilds lastSeen after a partial tick: keep previously
// seen URLs still in the current playlist window, add the ones processed
// this tick, drop everything else.
func (w *Writer) retainSeen(current, processed map[string]struct{}) {
	next := make(map[string]struct{}, len(processed)+len(w.lastSeen))
	for u := range w.lastSeen {
		if _, ok := current[u]; ok {
			next[u] = struct{}{}
		}
	}
	for u := range processed {
		next[u] = struct{}{}
	}
	w.lastSeen = next
}

// Stats returns a snapshot of the writer's counters.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.InitCached = w.inits.Has(w.cameraID)
	return s
}

func (w *Writer) setRecording(v bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Recording = v
}

func (w *Writer) noteError() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Errors++
}

func (w *Writer) noteSegment(bytes int64, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.SegmentsRecorded++
	w.stats.BytesWritten += bytes
	t := at
	w.stats.LastSegmentTime = &t
}

// isSegmentURI reports whether a playlist URI names a complete media
// segment. The gateway publishes low-latency partials and init segments
// under related names; only whole segments are archived.
func isSegmentURI(uri string) bool {
	return strings.Contains(uri, "_seg") &&
		!strings.Contains(uri, "_part") &&
		!strings.Contains(uri, "_init")
}

// sleepCtx waits for d or until ctx is cancelled. It reports false when
// the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
