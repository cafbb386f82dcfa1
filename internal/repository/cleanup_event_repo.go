package repository

import (
	"context"
	"fmt"

	"github.com/jmylchreest/nvarr/internal/models"
	"gorm.io/gorm"
)

// cleanupEventRepo implements CleanupEventRepository using GORM.
type cleanupEventRepo struct {
	db *gorm.DB
}

// NewCleanupEventRepository creates a new cleanup history repository.
func NewCleanupEventRepository(db *gorm.DB) CleanupEventRepository {
	return &cleanupEventRepo{db: db}
}

// Create appends a cleanup record.
func (r *cleanupEventRepo) Create(ctx context.Context, event *models.CleanupEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("creating cleanup event: %w", err)
	}
	return nil
}

// GetRecent retrieves the most recent records, newest first. An empty
// cameraID matches all cameras; limit <= 0 falls back to 100.
func (r *cleanupEventRepo) GetRecent(ctx context.Context, cameraID string, limit int) ([]*models.CleanupEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.db.WithContext(ctx).Order("executed_at DESC").Limit(limit)
	if cameraID != "" {
		query = query.Where("camera_id = ?", cameraID)
	}
	var events []*models.CleanupEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("listing cleanup events: %w", err)
	}
	return events, nil
}

// Compile-time interface check.
var _ CleanupEventRepository = (*cleanupEventRepo)(nil)
