package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/nvarr/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupPolicyTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.RetentionPolicy{})
	require.NoError(t, err)

	return db
}

func TestRetentionPolicyRepo_UpsertInsertAndUpdate(t *testing.T) {
	db := setupPolicyTestDB(t)
	repo := NewRetentionPolicyRepository(db)
	ctx := context.Background()

	policy := &models.RetentionPolicy{
		CameraID:                  "front-door",
		RetentionDays:             30,
		MinFreeSpaceGB:            10,
		EmergencyCleanupThreshold: 0.90,
		Enabled:                   models.BoolPtr(true),
	}
	require.NoError(t, repo.Upsert(ctx, policy))
	require.NotEmpty(t, policy.ID)
	originalID := policy.ID

	// Upserting the same camera updates in place and keeps the id.
	update := &models.RetentionPolicy{
		CameraID:                  "front-door",
		RetentionDays:             14,
		MinFreeSpaceGB:            20,
		EmergencyCleanupThreshold: 0.85,
		Enabled:                   models.BoolPtr(false),
	}
	require.NoError(t, repo.Upsert(ctx, update))

	found, err := repo.GetByCamera(ctx, "front-door")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, originalID, found.ID)
	assert.Equal(t, 14, found.RetentionDays)
	assert.Equal(t, 20, found.MinFreeSpaceGB)
	assert.InDelta(t, 0.85, found.EmergencyCleanupThreshold, 0.001)
	assert.False(t, found.IsEnabled())
}

func TestRetentionPolicyRepo_UpsertRejectsInvalid(t *testing.T) {
	db := setupPolicyTestDB(t)
	repo := NewRetentionPolicyRepository(db)
	ctx := context.Background()

	err := repo.Upsert(ctx, &models.RetentionPolicy{CameraID: "", RetentionDays: 30})
	assert.ErrorIs(t, err, models.ErrCameraIDRequired)

	err = repo.Upsert(ctx, &models.RetentionPolicy{CameraID: "front-door", RetentionDays: 0})
	assert.ErrorIs(t, err, models.ErrInvalidRetentionDays)
}

func TestRetentionPolicyRepo_GetByCameraMissing(t *testing.T) {
	db := setupPolicyTestDB(t)
	repo := NewRetentionPolicyRepository(db)

	found, err := repo.GetByCamera(context.Background(), "no-such-camera")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRetentionPolicyRepo_GetAllOrdersByRetentionDesc(t *testing.T) {
	db := setupPolicyTestDB(t)
	repo := NewRetentionPolicyRepository(db)
	ctx := context.Background()

	for camera, days := range map[string]int{
		"backyard":   7,
		"front-door": 30,
		"garage":     14,
	} {
		require.NoError(t, repo.Upsert(ctx, &models.RetentionPolicy{
			CameraID:      camera,
			RetentionDays: days,
		}))
	}

	policies, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 3)
	assert.Equal(t, "front-door", policies[0].CameraID)
	assert.Equal(t, "garage", policies[1].CameraID)
	assert.Equal(t, "backyard", policies[2].CameraID)
}

func TestRetentionPolicyRepo_Delete(t *testing.T) {
	db := setupPolicyTestDB(t)
	repo := NewRetentionPolicyRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &models.RetentionPolicy{
		CameraID:      "front-door",
		RetentionDays: 30,
	}))

	require.NoError(t, repo.Delete(ctx, "front-door"))

	found, err := repo.GetByCamera(ctx, "front-door")
	require.NoError(t, err)
	assert.Nil(t, found)

	// Deleting a missing policy is a no-op.
	assert.NoError(t, repo.Delete(ctx, "front-door"))
}
