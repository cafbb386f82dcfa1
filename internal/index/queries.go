package index

import (
	"context"
	"time"

	"github.com/jmylchreest/nvarr/internal/models"
	"github.com/jmylchreest/nvarr/internal/repository"
)

// Reads bypass the write queue and run directly against the database.

// SegmentsInRange returns valid segments with start time in [t0, t1),
// ordered by start time ascending.
func (s *Store) SegmentsInRange(ctx context.Context, cameraID string, t0, t1 time.Time) ([]*models.Recording, error) {
	return s.recordings.GetInRange(ctx, cameraID, t0, t1)
}

// SegmentAt returns the valid segment covering the instant t, or nil.
func (s *Store) SegmentAt(ctx context.Context, cameraID string, t time.Time) (*models.Recording, error) {
	return s.recordings.GetAt(ctx, cameraID, t)
}

// SegmentByPath returns the segment indexed at path, or nil.
func (s *Store) SegmentByPath(ctx context.Context, path string) (*models.Recording, error) {
	return s.recordings.GetByPath(ctx, path)
}

// OldSegments returns segments (valid or not) starting before cutoff,
// oldest first. An empty cameraID matches all cameras.
func (s *Store) OldSegments(ctx context.Context, cutoff time.Time, cameraID string) ([]*models.Recording, error) {
	return s.recordings.GetOlderThan(ctx, cutoff, cameraID)
}

// ForEachValidSegment streams every valid segment to the callback, ordered
// by camera then start time. Returning an error stops iteration.
func (s *Store) ForEachValidSegment(ctx context.Context, callback func(*models.Recording) error) error {
	return s.recordings.ForEachValid(ctx, callback)
}

// CameraStats returns aggregate index statistics for one camera.
func (s *Store) CameraStats(ctx context.Context, cameraID string) (*repository.CameraStats, error) {
	return s.recordings.Stats(ctx, cameraID)
}

// SizeByCamera returns total indexed bytes grouped by camera.
func (s *Store) SizeByCamera(ctx context.Context) ([]repository.CameraSize, error) {
	return s.recordings.SizeByCamera(ctx)
}

// Cameras returns all camera ids present in the index.
func (s *Store) Cameras(ctx context.Context) ([]string, error) {
	return s.recordings.DistinctCameras(ctx)
}

// Policy returns the retention policy for a camera, or nil when absent.
func (s *Store) Policy(ctx context.Context, cameraID string) (*models.RetentionPolicy, error) {
	return s.policies.GetByCamera(ctx, cameraID)
}

// Policies returns every retention policy, longest retention first.
func (s *Store) Policies(ctx context.Context) ([]*models.RetentionPolicy, error) {
	return s.policies.GetAll(ctx)
}

// CleanupHistory returns recent cleanup records, newest first. An empty
// cameraID matches all cameras.
func (s *Store) CleanupHistory(ctx context.Context, cameraID string, limit int) ([]*models.CleanupEvent, error) {
	return s.cleanups.GetRecent(ctx, cameraID, limit)
}

// RecoveryLog returns recent recovery-log entries, newest first. An empty
// cameraID matches all cameras.
func (s *Store) RecoveryLog(ctx context.Context, cameraID string, limit int) ([]*models.RecoveryEvent, error) {
	return s.recoveries.GetRecent(ctx, cameraID, limit)
}

// TimelineRange returns hourly buckets for the camera with date in
// [fromDate, toDate], ordered by date then hour.
func (s *Store) TimelineRange(ctx context.Context, cameraID, fromDate, toDate string) ([]*models.TimelineBucket, error) {
	return s.timeline.GetRange(ctx, cameraID, fromDate, toDate)
}
