package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jmylchreest/nvarr/internal/models"
	"github.com/jmylchreest/nvarr/internal/storage"
)

// bucketKey maps a segment start to its timeline bucket. Buckets follow the
// host's local calendar, matching the on-disk date partitions.
func bucketKey(start time.Time) (date string, hour int) {
	local := start.Local()
	return local.Format(storage.DateLayout), local.Hour()
}

// DailyBucket is an hourly range rolled up to one calendar day.
type DailyBucket struct {
	CameraID         string       `json:"camera_id"`
	Date             string       `json:"date"`
	SegmentCount     int64        `json:"segment_count"`
	TotalDurationMs  int64        `json:"total_duration_ms"`
	TotalSizeBytes   int64        `json:"total_size_bytes"`
	FirstSegmentTime *models.Time `json:"first_segment_time,omitempty"`
	LastSegmentTime  *models.Time `json:"last_segment_time,omitempty"`
}

// TimelineRangeDaily returns the camera's buckets in [fromDate, toDate]
// rolled up per calendar day, ordered by date.
func (s *Store) TimelineRangeDaily(ctx context.Context, cameraID, fromDate, toDate string) ([]*DailyBucket, error) {
	hourly, err := s.TimelineRange(ctx, cameraID, fromDate, toDate)
	if err != nil {
		return nil, err
	}

	byDate := make(map[string]*DailyBucket)
	for _, b := range hourly {
		day, ok := byDate[b.Date]
		if !ok {
			day = &DailyBucket{CameraID: b.CameraID, Date: b.Date}
			byDate[b.Date] = day
		}
		day.SegmentCount += b.SegmentCount
		day.TotalDurationMs += b.TotalDurationMs
		day.TotalSizeBytes += b.TotalSizeBytes
		if b.FirstSegmentTime != nil &&
			(day.FirstSegmentTime == nil || b.FirstSegmentTime.Before(*day.FirstSegmentTime)) {
			day.FirstSegmentTime = b.FirstSegmentTime
		}
		if b.LastSegmentTime != nil &&
			(day.LastSegmentTime == nil || b.LastSegmentTime.After(*day.LastSegmentTime)) {
			day.LastSegmentTime = b.LastSegmentTime
		}
	}

	days := make([]*DailyBucket, 0, len(byDate))
	for _, day := range byDate {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
	return days, nil
}

// rebuildTimeline recomputes the camera's buckets over [fromDate, toDate]
// from the segment table and replaces the stored range in one transaction.
// Runs on the writer goroutine.
func (s *Store) rebuildTimeline(ctx context.Context, cameraID, fromDate, toDate string) error {
	t0, err := time.ParseInLocation(storage.DateLayout, fromDate, time.Local)
	if err != nil {
		return fmt.Errorf("timeline rebuild: bad from date %q: %w", fromDate, err)
	}
	t1, err := time.ParseInLocation(storage.DateLayout, toDate, time.Local)
	if err != nil {
		return fmt.Errorf("timeline rebuild: bad to date %q: %w", toDate, err)
	}
	if t1.Before(t0) {
		return fmt.Errorf("timeline rebuild: range %s..%s is inverted", fromDate, toDate)
	}
	// Inclusive end day.
	t1 = t1.AddDate(0, 0, 1)

	segments, err := s.recordings.GetInRange(ctx, cameraID, t0, t1)
	if err != nil {
		return fmt.Errorf("timeline rebuild: %w", err)
	}

	type key struct {
		date string
		hour int
	}
	byHour := make(map[key]*models.TimelineBucket)
	for _, seg := range segments {
		date, hour := bucketKey(seg.StartTime)
		k := key{date: date, hour: hour}
		bucket, ok := byHour[k]
		if !ok {
			bucket = &models.TimelineBucket{CameraID: cameraID, Date: date, Hour: hour}
			byHour[k] = bucket
		}
		bucket.SegmentCount++
		bucket.TotalDurationMs += seg.DurationMs
		bucket.TotalSizeBytes += seg.FileSize
		segTime := seg.StartTime
		if bucket.FirstSegmentTime == nil || segTime.Before(*bucket.FirstSegmentTime) {
			bucket.FirstSegmentTime = &segTime
		}
		if bucket.LastSegmentTime == nil || segTime.After(*bucket.LastSegmentTime) {
			bucket.LastSegmentTime = &segTime
		}
	}

	buckets := make([]*models.TimelineBucket, 0, len(byHour))
	for _, bucket := range byHour {
		buckets = append(buckets, bucket)
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Date != buckets[j].Date {
			return buckets[i].Date < buckets[j].Date
		}
		return buckets[i].Hour < buckets[j].Hour
	})

	if err := s.timeline.ReplaceRange(ctx, cameraID, fromDate, toDate, buckets); err != nil {
		return fmt.Errorf("timeline rebuild: %w", err)
	}

	s.log.Info("timeline rebuilt",
		slog.String("camera_id", cameraID),
		slog.String("from", fromDate),
		slog.String("to", toDate),
		slog.Int("buckets", len(buckets)))
	return nil
}
