package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmylchreest/nvarr/internal/models"
	"gorm.io/gorm"
)

// timelineBucketRepo implements TimelineBucketRepository using GORM.
type timelineBucketRepo struct {
	db *gorm.DB
}

// NewTimelineBucketRepository creates a new timeline bucket repository.
func NewTimelineBucketRepository(db *gorm.DB) TimelineBucketRepository {
	return &timelineBucketRepo{db: db}
}

// Apply upserts one bucket. The read-modify-write runs inside a transaction
// and needs no row locking: every mutation arrives through the single index
// writer goroutine.
func (r *timelineBucketRepo) Apply(ctx context.Context, cameraID, date string, hour int, delta BucketDelta) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bucket models.TimelineBucket
		err := tx.Where("camera_id = ? AND date = ? AND hour = ?", cameraID, date, hour).
			First(&bucket).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			segTime := models.Time(delta.SegmentTime)
			bucket = models.TimelineBucket{
				CameraID:         cameraID,
				Date:             date,
				Hour:             hour,
				SegmentCount:     delta.SegmentCount,
				TotalDurationMs:  delta.TotalDurationMs,
				TotalSizeBytes:   delta.TotalSizeBytes,
				FirstSegmentTime: &segTime,
				LastSegmentTime:  &segTime,
			}
			return tx.Create(&bucket).Error
		case err != nil:
			return err
		}

		bucket.SegmentCount += delta.SegmentCount
		bucket.TotalDurationMs += delta.TotalDurationMs
		bucket.TotalSizeBytes += delta.TotalSizeBytes
		segTime := models.Time(delta.SegmentTime)
		if bucket.FirstSegmentTime == nil || segTime.Before(*bucket.FirstSegmentTime) {
			bucket.FirstSegmentTime = &segTime
		}
		if bucket.LastSegmentTime == nil || segTime.After(*bucket.LastSegmentTime) {
			bucket.LastSegmentTime = &segTime
		}
		return tx.Save(&bucket).Error
	})
	if err != nil {
		return fmt.Errorf("applying timeline delta for %s %s hour %d: %w", cameraID, date, hour, err)
	}
	return nil
}

// GetRange retrieves buckets for the camera with date in [fromDate, toDate],
// ordered by date then hour.
func (r *timelineBucketRepo) GetRange(ctx context.Context, cameraID, fromDate, toDate string) ([]*models.TimelineBucket, error) {
	var buckets []*models.TimelineBucket
	err := r.db.WithContext(ctx).
		Where("camera_id = ? AND date >= ? AND date <= ?", cameraID, fromDate, toDate).
		Order("date ASC, hour ASC").
		Find(&buckets).Error
	if err != nil {
		return nil, fmt.Errorf("listing timeline buckets for camera %s: %w", cameraID, err)
	}
	return buckets, nil
}

// ReplaceRange atomically replaces all buckets for the camera in
// [fromDate, toDate] with the provided set. Used by full rebuilds.
func (r *timelineBucketRepo) ReplaceRange(ctx context.Context, cameraID, fromDate, toDate string, buckets []*models.TimelineBucket) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().
			Where("camera_id = ? AND date >= ? AND date <= ?", cameraID, fromDate, toDate).
			Delete(&models.TimelineBucket{}).Error; err != nil {
			return err
		}
		if len(buckets) == 0 {
			return nil
		}
		return tx.CreateInBatches(buckets, 100).Error
	})
	if err != nil {
		return fmt.Errorf("replacing timeline buckets for camera %s: %w", cameraID, err)
	}
	return nil
}

// Compile-time interface check.
var _ TimelineBucketRepository = (*timelineBucketRepo)(nil)
