package models

import (
	"time"

	"gorm.io/gorm"
)

// Reasons a recording can be marked invalid by the reconciler.
const (
	// InvalidReasonMissingFile indicates the indexed file no longer exists on disk.
	InvalidReasonMissingFile = "MISSING_FILE"
	// InvalidReasonCorruptedFile indicates the file header failed the integrity check.
	InvalidReasonCorruptedFile = "CORRUPTED_FILE"
)

// Recording represents one committed segment file in the archive index.
// Rows are written exclusively through the index store's writer goroutine;
// readers query them directly.
type Recording struct {
	BaseModel

	// CameraID is the directory-safe camera identifier.
	CameraID string `gorm:"not null;size:128;index:idx_recordings_camera_time,priority:1;uniqueIndex:idx_recordings_camera_start" json:"camera_id"`

	// CameraName is the human-readable camera name at time of recording.
	CameraName string `gorm:"size:255" json:"camera_name,omitempty"`

	// FilePath is the absolute path of the segment file (unique).
	FilePath string `gorm:"uniqueIndex;not null;size:1024" json:"file_path"`

	// StartTime is the wall-clock capture start.
	StartTime Time `gorm:"not null;index;index:idx_recordings_camera_time,priority:2" json:"start_time"`

	// StartTimeMs is StartTime as Unix milliseconds. Combined with CameraID
	// it forms the natural key of a segment.
	StartTimeMs int64 `gorm:"not null;uniqueIndex:idx_recordings_camera_start" json:"start_time_ms"`

	// EndTime is StartTime plus the nominal duration.
	EndTime Time `gorm:"not null" json:"end_time"`

	// DurationMs is the nominal segment duration in milliseconds. It comes
	// from configuration, never from reading the media file.
	DurationMs int64 `gorm:"not null" json:"duration_ms"`

	// FileSize is the committed file size in bytes.
	FileSize int64 `json:"file_size"`

	// Codec is the video codec detected from the init segment (optional).
	Codec string `gorm:"size:50" json:"codec,omitempty"`

	// Resolution is the video resolution as "WxH" (optional).
	Resolution string `gorm:"size:20" json:"resolution,omitempty"`

	// Bitrate is the estimated bitrate in bits per second (optional).
	Bitrate int64 `json:"bitrate,omitempty"`

	// KeyframeCount is the number of keyframes if known (optional).
	KeyframeCount int `json:"keyframe_count,omitempty"`

	// IsValid is false once the reconciler finds the file missing or corrupt.
	IsValid *bool `gorm:"default:true;index" json:"is_valid"`

	// InvalidReason records why IsValid was cleared.
	InvalidReason string `gorm:"size:50" json:"invalid_reason,omitempty"`
}

// TableName returns the table name for Recording.
func (Recording) TableName() string {
	return "recordings"
}

// Validate performs basic validation on the recording.
func (r *Recording) Validate() error {
	if r.CameraID == "" {
		return ErrCameraIDRequired
	}
	if r.FilePath == "" {
		return ErrFilePathRequired
	}
	if r.StartTime.IsZero() {
		return ErrStartTimeRequired
	}
	if r.DurationMs <= 0 {
		return ErrInvalidDuration
	}
	return nil
}

// BeforeCreate is a GORM hook that validates and sets derived fields.
func (r *Recording) BeforeCreate(tx *gorm.DB) error {
	if err := r.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if r.StartTimeMs == 0 && !r.StartTime.IsZero() {
		r.StartTimeMs = r.StartTime.UnixMilli()
	}
	if r.EndTime.IsZero() && !r.StartTime.IsZero() {
		r.EndTime = r.StartTime.Add(time.Duration(r.DurationMs) * time.Millisecond)
	}
	return r.Validate()
}

// EndTimeMs returns the segment end as Unix milliseconds.
func (r *Recording) EndTimeMs() int64 {
	return r.StartTimeMs + r.DurationMs
}

// Valid returns whether the recording is still playable.
func (r *Recording) Valid() bool {
	return BoolVal(r.IsValid)
}

// Covers returns true if the instant t falls inside [start, end).
func (r *Recording) Covers(t time.Time) bool {
	ms := t.UnixMilli()
	return ms >= r.StartTimeMs && ms < r.EndTimeMs()
}
