// Package testutil provides test fixtures: segment file bodies that pass or
// fail the integrity check, archive trees laid out the way the segment
// writer lays them out, and recording rows for seeding index stores.
package testutil

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/nvarr/internal/models"
	"github.com/jmylchreest/nvarr/internal/storage"
)

// Fictional camera identifiers for fixtures. NEVER use identifiers derived
// from real deployments.
var CameraIDs = []string{
	"front-door",
	"garage",
	"back-yard",
	"driveway",
	"side-gate",
	"workshop",
}

// Codec and resolution values matching what the init-segment probe reports.
var (
	Codecs      = []string{"h264", "h265"}
	Resolutions = []string{"1920x1080", "2560x1440", "3840x2160", "1280x720"}
)

const (
	// DefaultSegmentSize comfortably clears the minimum valid segment size.
	DefaultSegmentSize = 2048

	// DefaultDurationMs is the nominal segment duration used by fixtures.
	DefaultDurationMs = 3000
)

// SegmentBytes returns size bytes that pass the integrity header check: a
// big-endian box length followed by the given fMP4 box type at bytes 4..8.
// Use "ftyp" for init-prefixed segments, "moof" for bare fragments.
func SegmentBytes(boxType string, size int) []byte {
	if size < 8 {
		size = 8
	}
	b := make([]byte, size)
	binary.BigEndian.PutUint32(b[:4], uint32(size))
	copy(b[4:8], boxType)
	for i := 8; i < size; i++ {
		b[i] = byte(i % 251)
	}
	return b
}

// TransportStreamBytes returns size bytes opening with the MPEG-TS sync byte.
func TransportStreamBytes(size int) []byte {
	if size < 1 {
		size = 1
	}
	b := make([]byte, size)
	b[0] = 0x47
	for i := 1; i < size; i++ {
		b[i] = byte(i % 239)
	}
	return b
}

// CorruptBytes returns size bytes that fail the header check.
func CorruptBytes(size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}

// FixtureToken derives a deterministic filename token from the capture time,
// standing in for the gateway-derived token of real segments.
func FixtureToken(start time.Time) string {
	return fmt.Sprintf("%06x", start.UnixMilli()&0xffffff)
}

// WriteSegmentFile writes body as a committed segment under root using the
// "<camera>/<date>/<time>_<token>.mp4" layout and returns its absolute path.
func WriteSegmentFile(t *testing.T, root, cameraID string, start time.Time, body []byte) string {
	t.Helper()
	abs := storage.SegmentPath(root, cameraID, start, FixtureToken(start))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, body, 0o644))
	return abs
}

// RecordingSpec configures a generated recording row.
type RecordingSpec struct {
	CameraID      string
	CameraName    string
	FilePath      string // derived from CameraID and Start when empty
	Start         time.Time
	DurationMs    int64 // defaults to DefaultDurationMs
	FileSize      int64 // defaults to DefaultSegmentSize
	Codec         string
	Resolution    string
	Invalid       bool
	InvalidReason string
}

// NewRecording builds a models.Recording from spec, filling derived fields
// the way the segment writer does.
func NewRecording(spec RecordingSpec) *models.Recording {
	if spec.DurationMs == 0 {
		spec.DurationMs = DefaultDurationMs
	}
	if spec.FileSize == 0 {
		spec.FileSize = DefaultSegmentSize
	}
	if spec.FilePath == "" {
		spec.FilePath = storage.SegmentPath("/archive", spec.CameraID, spec.Start, FixtureToken(spec.Start))
	}

	rec := &models.Recording{
		CameraID:    spec.CameraID,
		CameraName:  spec.CameraName,
		FilePath:    spec.FilePath,
		StartTime:   spec.Start,
		StartTimeMs: spec.Start.UnixMilli(),
		EndTime:     spec.Start.Add(time.Duration(spec.DurationMs) * time.Millisecond),
		DurationMs:  spec.DurationMs,
		FileSize:    spec.FileSize,
		Codec:       spec.Codec,
		Resolution:  spec.Resolution,
		IsValid:     models.BoolPtr(!spec.Invalid),
	}
	if spec.Invalid {
		rec.InvalidReason = spec.InvalidReason
	}
	return rec
}

// SegmentInserter is the subset of the index store used to seed fixtures.
type SegmentInserter interface {
	InsertSegment(ctx context.Context, rec *models.Recording) error
	Flush(ctx context.Context) error
}

// SeedStore enqueues recordings and flushes so they are visible to readers.
func SeedStore(t *testing.T, store SegmentInserter, recs []*models.Recording) {
	t.Helper()
	ctx := context.Background()
	for _, rec := range recs {
		require.NoError(t, store.InsertSegment(ctx, rec))
	}
	require.NoError(t, store.Flush(ctx))
}

// SampleDataGenerator produces deterministic recording fixtures.
type SampleDataGenerator struct {
	rng *rand.Rand
}

// NewSampleDataGenerator creates a generator with a random seed.
func NewSampleDataGenerator() *SampleDataGenerator {
	return &SampleDataGenerator{
		rng: rand.New(rand.NewSource(rand.Int63())),
	}
}

// NewSampleDataGeneratorWithSeed creates a generator with a fixed seed for
// reproducibility.
func NewSampleDataGeneratorWithSeed(seed int64) *SampleDataGenerator {
	return &SampleDataGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// RandomCameraID returns one of the fixture camera identifiers.
func (g *SampleDataGenerator) RandomCameraID() string {
	return CameraIDs[g.rng.Intn(len(CameraIDs))]
}

// RandomCodec returns a random codec name.
func (g *SampleDataGenerator) RandomCodec() string {
	return Codecs[g.rng.Intn(len(Codecs))]
}

// RandomResolution returns a random "WxH" resolution.
func (g *SampleDataGenerator) RandomResolution() string {
	return Resolutions[g.rng.Intn(len(Resolutions))]
}

// SeriesOptions configures a generated run of segment rows for one camera.
type SeriesOptions struct {
	CameraID   string
	CameraName string
	Start      time.Time
	Count      int
	StepMs     int64 // spacing between starts; defaults to DurationMs
	DurationMs int64 // defaults to DefaultDurationMs
	SizeJitter int64 // random +/- bytes applied per segment
	PathRoot   string
}

// DefaultSeriesOptions returns a contiguous 3-second cadence series.
func DefaultSeriesOptions(cameraID string, start time.Time) SeriesOptions {
	return SeriesOptions{
		CameraID:   cameraID,
		Start:      start,
		Count:      10,
		DurationMs: DefaultDurationMs,
		PathRoot:   "/archive",
	}
}

// GenerateSeries generates count recording rows spaced StepMs apart. With the
// default step the series is gapless: each segment ends where the next one
// starts.
func (g *SampleDataGenerator) GenerateSeries(opts SeriesOptions) []*models.Recording {
	if opts.DurationMs == 0 {
		opts.DurationMs = DefaultDurationMs
	}
	if opts.StepMs == 0 {
		opts.StepMs = opts.DurationMs
	}
	if opts.PathRoot == "" {
		opts.PathRoot = "/archive"
	}

	recs := make([]*models.Recording, opts.Count)
	for i := 0; i < opts.Count; i++ {
		start := opts.Start.Add(time.Duration(int64(i)*opts.StepMs) * time.Millisecond)
		size := int64(DefaultSegmentSize)
		if opts.SizeJitter > 0 {
			size += g.rng.Int63n(2*opts.SizeJitter) - opts.SizeJitter
		}
		recs[i] = NewRecording(RecordingSpec{
			CameraID:   opts.CameraID,
			CameraName: opts.CameraName,
			FilePath:   storage.SegmentPath(opts.PathRoot, opts.CameraID, start, FixtureToken(start)),
			Start:      start,
			DurationMs: opts.DurationMs,
			FileSize:   size,
			Codec:      g.RandomCodec(),
			Resolution: g.RandomResolution(),
		})
	}
	return recs
}
