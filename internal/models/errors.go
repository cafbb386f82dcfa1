package models

import "errors"

// Common validation errors for models.
var (
	// ErrCameraIDRequired indicates a required camera ID field is empty.
	ErrCameraIDRequired = errors.New("camera_id is required")

	// ErrFilePathRequired indicates a required file path field is empty.
	ErrFilePathRequired = errors.New("file_path is required")

	// ErrStartTimeRequired indicates a required start time field is empty.
	ErrStartTimeRequired = errors.New("start time is required")

	// ErrInvalidDuration indicates a non-positive segment duration.
	ErrInvalidDuration = errors.New("duration_ms must be positive")

	// ErrInvalidTimeRange indicates end time is before start time.
	ErrInvalidTimeRange = errors.New("end time must be after start time")

	// ErrInvalidRetentionDays indicates a retention period outside the allowed range.
	ErrInvalidRetentionDays = errors.New("retention_days must be positive")

	// ErrInvalidCleanupType indicates an invalid cleanup type.
	ErrInvalidCleanupType = errors.New("invalid cleanup type: must be 'scheduled' or 'emergency'")

	// ErrInvalidEventType indicates an invalid recovery event type.
	ErrInvalidEventType = errors.New("invalid recovery event type")

	// ErrInvalidHour indicates a timeline bucket hour outside 0-23.
	ErrInvalidHour = errors.New("hour must be between 0 and 23")

	// ErrDateRequired indicates a required date field is empty.
	ErrDateRequired = errors.New("date is required")
)
