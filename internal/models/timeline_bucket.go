package models

import "gorm.io/gorm"

// TimelineBucket aggregates one camera-hour of recordings so timeline UIs
// never scan the recordings table. Buckets are upserted incrementally on
// every insert and can be rebuilt in bulk over a date range.
type TimelineBucket struct {
	BaseModel

	// CameraID the bucket belongs to.
	CameraID string `gorm:"not null;size:128;uniqueIndex:idx_timeline_camera_date_hour" json:"camera_id"`

	// Date is the local calendar day as YYYY-MM-DD.
	Date string `gorm:"not null;size:10;uniqueIndex:idx_timeline_camera_date_hour" json:"date"`

	// Hour is the local hour of day, 0-23.
	Hour int `gorm:"not null;uniqueIndex:idx_timeline_camera_date_hour" json:"hour"`

	// SegmentCount is the number of valid segments in the bucket.
	SegmentCount int64 `json:"segment_count"`

	// TotalDurationMs is the summed nominal duration.
	TotalDurationMs int64 `json:"total_duration_ms"`

	// TotalSizeBytes is the summed file size.
	TotalSizeBytes int64 `json:"total_size_bytes"`

	// FirstSegmentTime is the earliest segment start in the bucket.
	FirstSegmentTime *Time `json:"first_segment_time,omitempty"`

	// LastSegmentTime is the latest segment start in the bucket.
	LastSegmentTime *Time `json:"last_segment_time,omitempty"`
}

// TableName returns the table name for TimelineBucket.
func (TimelineBucket) TableName() string {
	return "timeline_index"
}

// Validate performs basic validation on the bucket.
func (b *TimelineBucket) Validate() error {
	if b.CameraID == "" {
		return ErrCameraIDRequired
	}
	if b.Date == "" {
		return ErrDateRequired
	}
	if b.Hour < 0 || b.Hour > 23 {
		return ErrInvalidHour
	}
	return nil
}

// BeforeCreate is a GORM hook that validates before insert.
func (b *TimelineBucket) BeforeCreate(tx *gorm.DB) error {
	if err := b.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return b.Validate()
}

// BeforeUpdate is a GORM hook that validates before update.
func (b *TimelineBucket) BeforeUpdate(tx *gorm.DB) error {
	return b.Validate()
}
