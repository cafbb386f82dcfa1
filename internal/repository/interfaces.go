// Package repository defines data access interfaces for nvarr entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching. Mutating methods are invoked exclusively
// by the index store's writer goroutine; read methods may be called from
// any goroutine.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/nvarr/internal/models"
)

// CameraStats aggregates index-level statistics for one camera.
type CameraStats struct {
	CameraID      string     `json:"camera_id"`
	SegmentCount  int64      `json:"segment_count"`
	InvalidCount  int64      `json:"invalid_count"`
	TotalSize     int64      `json:"total_size_bytes"`
	EarliestStart *time.Time `json:"earliest_start,omitempty"`
	LatestStart   *time.Time `json:"latest_start,omitempty"`
}

// CameraSize is a per-camera byte total used by storage statistics.
type CameraSize struct {
	CameraID  string `json:"camera_id"`
	SizeBytes int64  `json:"size_bytes"`
}

// RecordingRepository defines operations for segment index persistence.
type RecordingRepository interface {
	// Create inserts a new recording. Uniqueness violations on
	// (camera_id, start_time_ms) or file_path surface as errors.
	Create(ctx context.Context, rec *models.Recording) error
	// GetByPath retrieves a recording by its absolute file path.
	GetByPath(ctx context.Context, path string) (*models.Recording, error)
	// GetInRange retrieves valid recordings with start time in [t0, t1),
	// ordered by start time ascending.
	GetInRange(ctx context.Context, cameraID string, t0, t1 time.Time) ([]*models.Recording, error)
	// GetAt retrieves the valid recording covering the instant t, if any.
	GetAt(ctx context.Context, cameraID string, t time.Time) (*models.Recording, error)
	// GetOlderThan retrieves recordings (valid or not) starting before
	// cutoff, oldest first. An empty cameraID matches all cameras.
	GetOlderThan(ctx context.Context, cutoff time.Time, cameraID string) ([]*models.Recording, error)
	// MarkInvalid clears the validity flag for the recording at path.
	MarkInvalid(ctx context.Context, path, reason string) error
	// DeleteByPath hard-deletes the recording at path.
	DeleteByPath(ctx context.Context, path string) error
	// DeleteBatch hard-deletes all recordings whose paths are listed,
	// committing the whole batch in one transaction. Returns rows removed.
	DeleteBatch(ctx context.Context, paths []string) (int64, error)
	// ForEachValid streams every valid recording to the callback, ordered
	// by camera then start time. Returning an error stops iteration.
	ForEachValid(ctx context.Context, callback func(*models.Recording) error) error
	// CountByCamera returns the number of recordings for a camera.
	CountByCamera(ctx context.Context, cameraID string) (int64, error)
	// Stats returns aggregate statistics for one camera.
	Stats(ctx context.Context, cameraID string) (*CameraStats, error)
	// SizeByCamera returns total indexed bytes grouped by camera.
	SizeByCamera(ctx context.Context) ([]CameraSize, error)
	// DistinctCameras returns all camera ids present in the index.
	DistinctCameras(ctx context.Context) ([]string, error)
}

// RetentionPolicyRepository defines operations for per-camera retention policies.
type RetentionPolicyRepository interface {
	// Upsert creates or replaces the policy for its camera.
	Upsert(ctx context.Context, policy *models.RetentionPolicy) error
	// GetByCamera retrieves the policy for a camera, or nil when absent.
	GetByCamera(ctx context.Context, cameraID string) (*models.RetentionPolicy, error)
	// GetAll retrieves all policies ordered by retention days descending.
	// Emergency cleanup relies on this order: longest retention first.
	GetAll(ctx context.Context) ([]*models.RetentionPolicy, error)
	// Delete removes the policy for a camera.
	Delete(ctx context.Context, cameraID string) error
}

// CleanupEventRepository defines operations for the append-only cleanup history.
type CleanupEventRepository interface {
	// Create appends a cleanup record.
	Create(ctx context.Context, event *models.CleanupEvent) error
	// GetRecent retrieves the most recent records, newest first.
	// An empty cameraID matches all cameras.
	GetRecent(ctx context.Context, cameraID string, limit int) ([]*models.CleanupEvent, error)
}

// RecoveryEventRepository defines operations for the persistent recovery log.
type RecoveryEventRepository interface {
	// Create appends a recovery log entry.
	Create(ctx context.Context, event *models.RecoveryEvent) error
	// GetRecent retrieves the most recent entries, newest first.
	// An empty cameraID matches all cameras.
	GetRecent(ctx context.Context, cameraID string, limit int) ([]*models.RecoveryEvent, error)
}

// TimelineBucketRepository defines operations for per-hour timeline aggregates.
type TimelineBucketRepository interface {
	// Apply upserts one bucket, applying the delta to an existing row or
	// creating a new one. Safe without row locking because all mutations
	// are serialized through the single index writer.
	Apply(ctx context.Context, cameraID, date string, hour int, delta BucketDelta) error
	// GetRange retrieves buckets for the camera with date in
	// [fromDate, toDate], ordered by date then hour.
	GetRange(ctx context.Context, cameraID, fromDate, toDate string) ([]*models.TimelineBucket, error)
	// ReplaceRange atomically replaces all buckets for the camera in
	// [fromDate, toDate] with the provided set.
	ReplaceRange(ctx context.Context, cameraID, fromDate, toDate string, buckets []*models.TimelineBucket) error
}

// BucketDelta is one segment's contribution to a timeline bucket.
type BucketDelta struct {
	SegmentCount    int64
	TotalDurationMs int64
	TotalSizeBytes  int64
	// SegmentTime extends the bucket's first/last segment time range.
	SegmentTime time.Time
}
