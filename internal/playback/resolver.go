// Package playback turns archived footage into playable form. A camera and
// time range resolve to an ordered segment list, a synthesized VOD playlist
// over that list, and traversal-checked access to the segment files
// themselves. The package is a library surface: an HTTP layer in front of it
// maps these calls onto routes.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/nvarr/internal/config"
	"github.com/jmylchreest/nvarr/internal/index"
	"github.com/jmylchreest/nvarr/internal/models"
	"github.com/jmylchreest/nvarr/internal/observability"
	"github.com/jmylchreest/nvarr/internal/storage"
)

// MaxRange bounds a single playback query window.
const MaxRange = 24 * time.Hour

// Timeline granularities.
const (
	GranularityHourly = "hourly"
	GranularityDaily  = "daily"
)

var (
	// ErrInvalidRange marks caller errors: inverted or oversized windows.
	ErrInvalidRange = errors.New("invalid playback range")

	// ErrBadGranularity marks an unknown timeline granularity.
	ErrBadGranularity = errors.New("granularity must be hourly or daily")
)

// Resolver answers playback queries from the segment index and the archive.
type Resolver struct {
	log     *slog.Logger
	store   *index.Store
	archive *storage.Archive
	base    string

	now func() time.Time
}

// NewResolver creates a playback resolver. cfg.BaseURL prefixes every URI
// the resolver hands out.
func NewResolver(log *slog.Logger, store *index.Store, archive *storage.Archive, cfg config.PlaybackConfig) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		log:     observability.WithComponent(log, "playback"),
		store:   store,
		archive: archive,
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		now:     time.Now,
	}
}

// validateRange enforces the query window contract: t0 strictly before t1,
// window no wider than MaxRange.
func (r *Resolver) validateRange(t0, t1 time.Time) error {
	if !t0.Before(t1) {
		return fmt.Errorf("%w: start %s is not before end %s",
			ErrInvalidRange, t0.Format(time.RFC3339), t1.Format(time.RFC3339))
	}
	if t1.Sub(t0) > MaxRange {
		return fmt.Errorf("%w: window %s exceeds %s", ErrInvalidRange, t1.Sub(t0), MaxRange)
	}
	return nil
}

// Segments returns the camera's valid segments with start in [t0, t1),
// ordered by start time. A window lying entirely in the future is not an
// error; it simply has no footage yet.
func (r *Resolver) Segments(ctx context.Context, cameraID string, t0, t1 time.Time) ([]*models.Recording, error) {
	if err := r.validateRange(t0, t1); err != nil {
		return nil, err
	}
	if !t0.Before(r.now()) {
		return []*models.Recording{}, nil
	}
	return r.store.SegmentsInRange(ctx, cameraID, t0, t1)
}

// Info summarizes a playable range for API consumers.
type Info struct {
	CameraID        string              `json:"camera_id"`
	StartTime       time.Time           `json:"start_time"`
	EndTime         time.Time           `json:"end_time"`
	SegmentCount    int                 `json:"segment_count"`
	TotalDurationMs int64               `json:"total_duration_ms"`
	TotalSizeBytes  int64               `json:"total_size_bytes"`
	Segments        []*models.Recording `json:"segments"`
	PlaylistURL     string              `json:"playlist_url"`
}

// Info resolves the range and returns its summary. TotalDurationMs is the
// wall-clock span from the first segment's start to the last segment's end,
// not the sum of segment durations: overlapping runs would inflate a sum.
func (r *Resolver) Info(ctx context.Context, cameraID string, t0, t1 time.Time) (*Info, error) {
	segs, err := r.Segments(ctx, cameraID, t0, t1)
	if err != nil {
		return nil, err
	}

	info := &Info{
		CameraID:     cameraID,
		StartTime:    t0,
		EndTime:      t1,
		SegmentCount: len(segs),
		Segments:     segs,
		PlaylistURL:  r.playlistURL(cameraID, t0, t1),
	}
	for _, seg := range segs {
		info.TotalSizeBytes += seg.FileSize
	}
	if len(segs) > 0 {
		info.TotalDurationMs = segs[len(segs)-1].EndTimeMs() - segs[0].StartTimeMs
	}
	return info, nil
}

// playlistURL builds the URL a caller fetches the synthesized playlist from.
func (r *Resolver) playlistURL(cameraID string, t0, t1 time.Time) string {
	return fmt.Sprintf("%s/%s/playlist.m3u8?start_time=%s&end_time=%s",
		r.base, cameraID,
		url.QueryEscape(t0.Format(time.RFC3339)),
		url.QueryEscape(t1.Format(time.RFC3339)))
}

// ResolveSegment converts a forward-slash camera-relative path into a
// traversal-checked absolute path and opens the file for byte-range reads.
// The file already has the init segment prepended, so it plays standalone.
// The caller owns the returned file.
func (r *Resolver) ResolveSegment(cameraID, relative string) (string, *os.File, error) {
	native := filepath.FromSlash(relative)
	abs, err := r.archive.Resolve(filepath.Join(cameraID, native))
	if err != nil {
		r.log.Warn("rejected segment path",
			slog.String("camera_id", cameraID),
			slog.String("relative", relative),
			slog.String("error", err.Error()))
		return "", nil, err
	}

	f, err := os.Open(abs)
	if err != nil {
		return "", nil, fmt.Errorf("opening segment: %w", err)
	}
	return abs, f, nil
}

// TimelineBucket is one activity bucket at hourly or daily granularity.
// Hour is nil for daily buckets.
type TimelineBucket struct {
	CameraID         string       `json:"camera_id"`
	Date             string       `json:"date"`
	Hour             *int         `json:"hour,omitempty"`
	SegmentCount     int64        `json:"segment_count"`
	TotalDurationMs  int64        `json:"total_duration_ms"`
	TotalSizeBytes   int64        `json:"total_size_bytes"`
	FirstSegmentTime *models.Time `json:"first_segment_time,omitempty"`
	LastSegmentTime  *models.Time `json:"last_segment_time,omitempty"`
}

// Timeline returns the camera's activity buckets over the inclusive date
// range [fromDate, toDate] at the requested granularity. An empty
// granularity means hourly.
func (r *Resolver) Timeline(ctx context.Context, cameraID, fromDate, toDate, granularity string) ([]*TimelineBucket, error) {
	switch granularity {
	case GranularityHourly, "":
		hourly, err := r.store.TimelineRange(ctx, cameraID, fromDate, toDate)
		if err != nil {
			return nil, err
		}
		out := make([]*TimelineBucket, len(hourly))
		for i, b := range hourly {
			hour := b.Hour
			out[i] = &TimelineBucket{
				CameraID:         b.CameraID,
				Date:             b.Date,
				Hour:             &hour,
				SegmentCount:     b.SegmentCount,
				TotalDurationMs:  b.TotalDurationMs,
				TotalSizeBytes:   b.TotalSizeBytes,
				FirstSegmentTime: b.FirstSegmentTime,
				LastSegmentTime:  b.LastSegmentTime,
			}
		}
		return out, nil

	case GranularityDaily:
		daily, err := r.store.TimelineRangeDaily(ctx, cameraID, fromDate, toDate)
		if err != nil {
			return nil, err
		}
		out := make([]*TimelineBucket, len(daily))
		for i, b := range daily {
			out[i] = &TimelineBucket{
				CameraID:         b.CameraID,
				Date:             b.Date,
				SegmentCount:     b.SegmentCount,
				TotalDurationMs:  b.TotalDurationMs,
				TotalSizeBytes:   b.TotalSizeBytes,
				FirstSegmentTime: b.FirstSegmentTime,
				LastSegmentTime:  b.LastSegmentTime,
			}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: got %q", ErrBadGranularity, granularity)
	}
}
