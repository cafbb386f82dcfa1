package models

import "gorm.io/gorm"

// RetentionPolicy configures how long one camera's segments are kept.
// Cameras without a row fall back to the configured defaults; the retention
// engine seeds a row per configured camera on startup.
type RetentionPolicy struct {
	BaseModel

	// CameraID this policy applies to (unique).
	CameraID string `gorm:"uniqueIndex;not null;size:128" json:"camera_id"`

	// RetentionDays is how many days of footage to keep.
	RetentionDays int `gorm:"not null" json:"retention_days"`

	// MinFreeSpaceGB is the free-space floor that arms emergency cleanup.
	MinFreeSpaceGB int `json:"min_free_space_gb"`

	// EmergencyCleanupThreshold is the disk usage ratio (0-1) that triggers
	// emergency cleanup for this camera.
	EmergencyCleanupThreshold float64 `json:"emergency_cleanup_threshold"`

	// Enabled toggles scheduled cleanup for this camera.
	Enabled *bool `gorm:"default:true" json:"enabled"`
}

// TableName returns the table name for RetentionPolicy.
func (RetentionPolicy) TableName() string {
	return "retention_policies"
}

// Validate performs basic validation on the policy.
func (p *RetentionPolicy) Validate() error {
	if p.CameraID == "" {
		return ErrCameraIDRequired
	}
	if p.RetentionDays <= 0 {
		return ErrInvalidRetentionDays
	}
	return nil
}

// BeforeCreate is a GORM hook that validates before insert.
func (p *RetentionPolicy) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}

// BeforeUpdate is a GORM hook that validates before update.
func (p *RetentionPolicy) BeforeUpdate(tx *gorm.DB) error {
	return p.Validate()
}

// IsEnabled returns whether scheduled cleanup applies to this camera.
func (p *RetentionPolicy) IsEnabled() bool {
	return BoolVal(p.Enabled)
}
