package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmylchreest/nvarr/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// retentionPolicyRepo implements RetentionPolicyRepository using GORM.
type retentionPolicyRepo struct {
	db *gorm.DB
}

// NewRetentionPolicyRepository creates a new retention policy repository.
func NewRetentionPolicyRepository(db *gorm.DB) RetentionPolicyRepository {
	return &retentionPolicyRepo{db: db}
}

// Upsert creates or replaces the policy for its camera. Conflicts on
// camera_id update the mutable columns in place so policy ids stay stable.
func (r *retentionPolicyRepo) Upsert(ctx context.Context, policy *models.RetentionPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "camera_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"retention_days", "min_free_space_gb",
			"emergency_cleanup_threshold", "enabled", "updated_at",
		}),
	}).Create(policy).Error; err != nil {
		return fmt.Errorf("upserting retention policy: %w", err)
	}
	return nil
}

// GetByCamera retrieves the policy for a camera, or nil when absent.
func (r *retentionPolicyRepo) GetByCamera(ctx context.Context, cameraID string) (*models.RetentionPolicy, error) {
	var policy models.RetentionPolicy
	err := r.db.WithContext(ctx).Where("camera_id = ?", cameraID).First(&policy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting retention policy for camera %s: %w", cameraID, err)
	}
	return &policy, nil
}

// GetAll retrieves every policy ordered by retention days descending so
// emergency cleanup visits the longest-retention cameras first.
func (r *retentionPolicyRepo) GetAll(ctx context.Context) ([]*models.RetentionPolicy, error) {
	var policies []*models.RetentionPolicy
	err := r.db.WithContext(ctx).
		Order("retention_days DESC, camera_id ASC").
		Find(&policies).Error
	if err != nil {
		return nil, fmt.Errorf("listing retention policies: %w", err)
	}
	return policies, nil
}

// Delete removes the policy for a camera.
func (r *retentionPolicyRepo) Delete(ctx context.Context, cameraID string) error {
	err := r.db.WithContext(ctx).Unscoped().
		Where("camera_id = ?", cameraID).
		Delete(&models.RetentionPolicy{}).Error
	if err != nil {
		return fmt.Errorf("deleting retention policy for camera %s: %w", cameraID, err)
	}
	return nil
}

// Compile-time interface check.
var _ RetentionPolicyRepository = (*retentionPolicyRepo)(nil)
