package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/nvarr/internal/models"
	"gorm.io/gorm"
)

// recordingRepo implements RecordingRepository using GORM.
type recordingRepo struct {
	db *gorm.DB
}

// NewRecordingRepository creates a new RecordingRepository.
func NewRecordingRepository(db *gorm.DB) RecordingRepository {
	return &recordingRepo{db: db}
}

// Create inserts a new recording.
func (r *recordingRepo) Create(ctx context.Context, rec *models.Recording) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("creating recording: %w", err)
	}
	return nil
}

// GetByPath retrieves a recording by its absolute file path.
func (r *recordingRepo) GetByPath(ctx context.Context, path string) (*models.Recording, error) {
	var rec models.Recording
	if err := r.db.WithContext(ctx).Where("file_path = ?", path).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting recording by path: %w", err)
	}
	return &rec, nil
}

// GetInRange retrieves valid recordings with start time in [t0, t1),
// ordered by start time ascending. The half-open interval means adjacent
// range queries never double-count a boundary segment.
func (r *recordingRepo) GetInRange(ctx context.Context, cameraID string, t0, t1 time.Time) ([]*models.Recording, error) {
	var recs []*models.Recording
	if err := r.db.WithContext(ctx).
		Where("camera_id = ? AND start_time_ms >= ? AND start_time_ms < ? AND is_valid = ?",
			cameraID, t0.UnixMilli(), t1.UnixMilli(), true).
		Order("start_time_ms ASC").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("getting recordings in range: %w", err)
	}
	return recs, nil
}

// GetAt retrieves the valid recording covering the instant t, if any.
func (r *recordingRepo) GetAt(ctx context.Context, cameraID string, t time.Time) (*models.Recording, error) {
	ms := t.UnixMilli()
	var rec models.Recording
	if err := r.db.WithContext(ctx).
		Where("camera_id = ? AND start_time_ms <= ? AND start_time_ms + duration_ms > ? AND is_valid = ?",
			cameraID, ms, ms, true).
		Order("start_time_ms DESC").
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting recording at instant: %w", err)
	}
	return &rec, nil
}

// GetOlderThan retrieves recordings starting before cutoff, oldest first.
// Invalid recordings are included: a retention sweep reclaims their index
// rows and any file remnants along with everything else past the cutoff.
func (r *recordingRepo) GetOlderThan(ctx context.Context, cutoff time.Time, cameraID string) ([]*models.Recording, error) {
	q := r.db.WithContext(ctx).Where("start_time_ms < ?", cutoff.UnixMilli())
	if cameraID != "" {
		q = q.Where("camera_id = ?", cameraID)
	}

	var recs []*models.Recording
	if err := q.Order("start_time_ms ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("getting recordings older than cutoff: %w", err)
	}
	return recs, nil
}

// MarkInvalid clears the validity flag for the recording at path.
func (r *recordingRepo) MarkInvalid(ctx context.Context, path, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Recording{}).
		Where("file_path = ?", path).
		Updates(map[string]any{"is_valid": false, "invalid_reason": reason})
	if result.Error != nil {
		return fmt.Errorf("marking recording invalid: %w", result.Error)
	}
	return nil
}

// DeleteByPath hard-deletes the recording at path.
// Uses Unscoped() so reclaimed index rows do not linger as soft deletes.
func (r *recordingRepo) DeleteByPath(ctx context.Context, path string) error {
	if err := r.db.WithContext(ctx).Unscoped().Where("file_path = ?", path).Delete(&models.Recording{}).Error; err != nil {
		return fmt.Errorf("deleting recording: %w", err)
	}
	return nil
}

// DeleteBatch hard-deletes all listed paths in a single transaction.
func (r *recordingRepo) DeleteBatch(ctx context.Context, paths []string) (int64, error) {
	if len(paths) == 0 {
		return 0, nil
	}

	var affected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Unscoped().Where("file_path IN ?", paths).Delete(&models.Recording{})
		if result.Error != nil {
			return result.Error
		}
		affected = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("deleting recording batch: %w", err)
	}
	return affected, nil
}

// ForEachValid streams every valid recording to the callback.
// Uses GORM's Rows() iterator so the reconciler never holds the whole
// index in memory.
func (r *recordingRepo) ForEachValid(ctx context.Context, callback func(*models.Recording) error) error {
	rows, err := r.db.WithContext(ctx).
		Model(&models.Recording{}).
		Where("is_valid = ?", true).
		Order("camera_id ASC, start_time_ms ASC").
		Rows()
	if err != nil {
		return fmt.Errorf("querying valid recordings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec models.Recording
		if err := r.db.ScanRows(rows, &rec); err != nil {
			return fmt.Errorf("scanning recording row: %w", err)
		}
		if err := callback(&rec); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating recordings: %w", err)
	}

	return nil
}

// CountByCamera returns the number of recordings for a camera.
func (r *recordingRepo) CountByCamera(ctx context.Context, cameraID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Recording{}).Where("camera_id = ?", cameraID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting recordings: %w", err)
	}
	return count, nil
}

// Stats returns aggregate statistics for one camera.
func (r *recordingRepo) Stats(ctx context.Context, cameraID string) (*CameraStats, error) {
	var row struct {
		SegmentCount int64
		InvalidCount int64
		TotalSize    int64
		EarliestMs   *int64
		LatestMs     *int64
	}

	if err := r.db.WithContext(ctx).
		Model(&models.Recording{}).
		Select(
			"COUNT(*) AS segment_count, "+
				"COALESCE(SUM(CASE WHEN is_valid THEN 0 ELSE 1 END), 0) AS invalid_count, "+
				"COALESCE(SUM(file_size), 0) AS total_size, "+
				"MIN(start_time_ms) AS earliest_ms, "+
				"MAX(start_time_ms) AS latest_ms").
		Where("camera_id = ?", cameraID).
		Scan(&row).Error; err != nil {
		return nil, fmt.Errorf("getting camera stats: %w", err)
	}

	stats := &CameraStats{
		CameraID:     cameraID,
		SegmentCount: row.SegmentCount,
		InvalidCount: row.InvalidCount,
		TotalSize:    row.TotalSize,
	}
	if row.EarliestMs != nil {
		t := time.UnixMilli(*row.EarliestMs)
		stats.EarliestStart = &t
	}
	if row.LatestMs != nil {
		t := time.UnixMilli(*row.LatestMs)
		stats.LatestStart = &t
	}
	return stats, nil
}

// SizeByCamera returns total indexed bytes grouped by camera.
func (r *recordingRepo) SizeByCamera(ctx context.Context) ([]CameraSize, error) {
	var sizes []CameraSize
	if err := r.db.WithContext(ctx).
		Model(&models.Recording{}).
		Select("camera_id, COALESCE(SUM(file_size), 0) AS size_bytes").
		Group("camera_id").
		Order("camera_id ASC").
		Scan(&sizes).Error; err != nil {
		return nil, fmt.Errorf("getting sizes by camera: %w", err)
	}
	return sizes, nil
}

// DistinctCameras returns all camera ids present in the index.
func (r *recordingRepo) DistinctCameras(ctx context.Context) ([]string, error) {
	var cameras []string
	if err := r.db.WithContext(ctx).
		Model(&models.Recording{}).
		Distinct("camera_id").
		Order("camera_id ASC").
		Pluck("camera_id", &cameras).Error; err != nil {
		return nil, fmt.Errorf("getting distinct cameras: %w", err)
	}
	return cameras, nil
}

// Ensure recordingRepo implements RecordingRepository at compile time.
var _ RecordingRepository = (*recordingRepo)(nil)
