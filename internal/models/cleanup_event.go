package models

import "gorm.io/gorm"

// CleanupType distinguishes scheduled sweeps from disk-pressure cleanups.
type CleanupType string

const (
	// CleanupTypeScheduled is the hourly retention sweep.
	CleanupTypeScheduled CleanupType = "scheduled"
	// CleanupTypeEmergency is a disk-pressure triggered cleanup.
	CleanupTypeEmergency CleanupType = "emergency"
)

// CleanupEvent is one append-only cleanup history record.
type CleanupEvent struct {
	BaseModel

	// CameraID the cleanup ran for.
	CameraID string `gorm:"not null;size:128;index" json:"camera_id"`

	// Type is scheduled or emergency.
	Type CleanupType `gorm:"not null;size:20;index" json:"type"`

	// DeletedSegments is how many index rows were removed.
	DeletedSegments int64 `json:"deleted_segments"`

	// FreedBytes is the total file size reclaimed.
	FreedBytes int64 `json:"freed_bytes"`

	// RunID correlates the per-camera records of one sweep.
	RunID string `gorm:"size:36;index" json:"run_id,omitempty"`

	// Details carries free-form context (cutoff, disk usage at trigger).
	Details string `gorm:"size:1000" json:"details,omitempty"`

	// ExecutedAt is when the cleanup finished.
	ExecutedAt Time `gorm:"not null;index" json:"executed_at"`
}

// TableName returns the table name for CleanupEvent.
func (CleanupEvent) TableName() string {
	return "cleanup_history"
}

// Validate performs basic validation on the event.
func (e *CleanupEvent) Validate() error {
	if e.CameraID == "" {
		return ErrCameraIDRequired
	}
	if e.Type != CleanupTypeScheduled && e.Type != CleanupTypeEmergency {
		return ErrInvalidCleanupType
	}
	return nil
}

// BeforeCreate is a GORM hook that validates and stamps the event time.
func (e *CleanupEvent) BeforeCreate(tx *gorm.DB) error {
	if err := e.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = Now()
	}
	return e.Validate()
}
