package models

import "gorm.io/gorm"

// RecoveryEventType classifies persistent recovery log entries.
type RecoveryEventType string

const (
	// RecoveryEventTriggered is written when the error threshold trips recovery.
	RecoveryEventTriggered RecoveryEventType = "recovery_triggered"
	// RecoveryEventRecovered is written after the first successful write post-recovery.
	RecoveryEventRecovered RecoveryEventType = "stream_recovered"
	// RecoveryEventEmergencyCleanup is written by each emergency cleanup invocation.
	RecoveryEventEmergencyCleanup RecoveryEventType = "emergency_cleanup"
	// RecoveryEventMissingFile is written when the reconciler finds an indexed
	// file gone from disk. Shares its value with InvalidReasonMissingFile so
	// the two tables speak one vocabulary.
	RecoveryEventMissingFile RecoveryEventType = RecoveryEventType(InvalidReasonMissingFile)
	// RecoveryEventCorruptedFile is written when a segment fails the header
	// integrity check.
	RecoveryEventCorruptedFile RecoveryEventType = RecoveryEventType(InvalidReasonCorruptedFile)
)

// RecoveryEvent is one persistent recovery log entry. The full per-error
// history lives in the tracker's in-memory ring; only lifecycle transitions
// are persisted here.
type RecoveryEvent struct {
	BaseModel

	// CameraID the event belongs to.
	CameraID string `gorm:"not null;size:128;index" json:"camera_id"`

	// EventType is the lifecycle transition being recorded.
	EventType RecoveryEventType `gorm:"not null;size:32;index" json:"event_type"`

	// Details carries the triggering error class and counts.
	Details string `gorm:"size:1000" json:"details,omitempty"`

	// OccurredAt is when the transition happened.
	OccurredAt Time `gorm:"not null;index" json:"occurred_at"`
}

// TableName returns the table name for RecoveryEvent.
func (RecoveryEvent) TableName() string {
	return "recovery_log"
}

// Validate performs basic validation on the event.
func (e *RecoveryEvent) Validate() error {
	if e.CameraID == "" {
		return ErrCameraIDRequired
	}
	switch e.EventType {
	case RecoveryEventTriggered, RecoveryEventRecovered, RecoveryEventEmergencyCleanup,
		RecoveryEventMissingFile, RecoveryEventCorruptedFile:
		return nil
	default:
		return ErrInvalidEventType
	}
}

// BeforeCreate is a GORM hook that validates and stamps the event time.
func (e *RecoveryEvent) BeforeCreate(tx *gorm.DB) error {
	if err := e.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = Now()
	}
	return e.Validate()
}
