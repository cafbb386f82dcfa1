package repository

import (
	"context"
	"fmt"

	"github.com/jmylchreest/nvarr/internal/models"
	"gorm.io/gorm"
)

// recoveryEventRepo implements RecoveryEventRepository using GORM.
type recoveryEventRepo struct {
	db *gorm.DB
}

// NewRecoveryEventRepository creates a new recovery log repository.
func NewRecoveryEventRepository(db *gorm.DB) RecoveryEventRepository {
	return &recoveryEventRepo{db: db}
}

// Create appends a recovery log entry.
func (r *recoveryEventRepo) Create(ctx context.Context, event *models.RecoveryEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("creating recovery event: %w", err)
	}
	return nil
}

// GetRecent retrieves the most recent entries, newest first. An empty
// cameraID matches all cameras; limit <= 0 falls back to 100.
func (r *recoveryEventRepo) GetRecent(ctx context.Context, cameraID string, limit int) ([]*models.RecoveryEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.db.WithContext(ctx).Order("occurred_at DESC").Limit(limit)
	if cameraID != "" {
		query = query.Where("camera_id = ?", cameraID)
	}
	var events []*models.RecoveryEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("listing recovery events: %w", err)
	}
	return events, nil
}

// Compile-time interface check.
var _ RecoveryEventRepository = (*recoveryEventRepo)(nil)
