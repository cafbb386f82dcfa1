package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/nvarr/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupRecordingTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Recording{})
	require.NoError(t, err)

	return db
}

func testRecording(cameraID string, start time.Time) *models.Recording {
	return &models.Recording{
		CameraID:   cameraID,
		CameraName: "Test Camera",
		FilePath:   fmt.Sprintf("/recordings/%s/%s.mp4", cameraID, start.Format("2006-01-02/15-04-05.000")),
		StartTime:  start,
		DurationMs: 3000,
		FileSize:   1 << 20,
		IsValid:    models.BoolPtr(true),
	}
}

func TestRecordingRepo_CreateAndGetByPath(t *testing.T) {
	db := setupRecordingTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	start := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	rec := testRecording("front-door", start)
	require.NoError(t, repo.Create(ctx, rec))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, start.UnixMilli(), rec.StartTimeMs)
	assert.Equal(t, start.Add(3*time.Second).UnixMilli(), rec.EndTime.UnixMilli())

	found, err := repo.GetByPath(ctx, rec.FilePath)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, rec.ID, found.ID)
	assert.Equal(t, "front-door", found.CameraID)
	assert.True(t, found.Valid())

	missing, err := repo.GetByPath(ctx, "/recordings/nowhere.mp4")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRecordingRepo_CreateDuplicateStart(t *testing.T) {
	db := setupRecordingTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	start := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	first := testRecording("front-door", start)
	require.NoError(t, repo.Create(ctx, first))

	dup := testRecording("front-door", start)
	dup.FilePath = "/recordings/front-door/other-name.mp4"
	err := repo.Create(ctx, dup)
	assert.Error(t, err, "same camera+start must violate the unique index")

	// Same start on another camera is fine.
	other := testRecording("backyard", start)
	assert.NoError(t, repo.Create(ctx, other))
}

func TestRecordingRepo_GetInRange(t *testing.T) {
	db := setupRecordingTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, testRecording("front-door", base.Add(time.Duration(i)*3*time.Second))))
	}
	// Invalid row inside the window must be excluded.
	bad := testRecording("front-door", base.Add(20*time.Second))
	bad.IsValid = models.BoolPtr(false)
	bad.InvalidReason = models.InvalidReasonMissingFile
	require.NoError(t, repo.Create(ctx, bad))
	// Another camera inside the window must be excluded.
	require.NoError(t, repo.Create(ctx, testRecording("backyard", base.Add(time.Second))))

	// Half-open interval: t1 boundary excluded.
	recs, err := repo.GetInRange(ctx, "front-door", base, base.Add(12*time.Second))
	require.NoError(t, err)
	require.Len(t, recs, 4)
	for i := 1; i < len(recs); i++ {
		assert.Less(t, recs[i-1].StartTimeMs, recs[i].StartTimeMs)
	}

	// Window covering the invalid row still filters it out.
	recs, err = repo.GetInRange(ctx, "front-door", base, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, recs, 5)

	// Empty window.
	recs, err = repo.GetInRange(ctx, "front-door", base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRecordingRepo_GetAt(t *testing.T) {
	db := setupRecordingTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	start := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	rec := testRecording("front-door", start)
	require.NoError(t, repo.Create(ctx, rec))

	// Instant inside [start, start+3s).
	found, err := repo.GetAt(ctx, "front-door", start.Add(1500*time.Millisecond))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, rec.ID, found.ID)

	// Exact start is covered; exact end is not.
	found, err = repo.GetAt(ctx, "front-door", start)
	require.NoError(t, err)
	assert.NotNil(t, found)

	found, err = repo.GetAt(ctx, "front-door", start.Add(3*time.Second))
	require.NoError(t, err)
	assert.Nil(t, found)

	// Invalid segments never cover anything.
	require.NoError(t, repo.MarkInvalid(ctx, rec.FilePath, models.InvalidReasonCorruptedFile))
	found, err = repo.GetAt(ctx, "front-door", start.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRecordingRepo_GetOlderThan(t *testing.T) {
	db := setupRecordingTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	old1 := testRecording("front-door", base)
	old2 := testRecording("front-door", base.Add(time.Hour))
	oldOther := testRecording("backyard", base.Add(2*time.Hour))
	fresh := testRecording("front-door", base.Add(48*time.Hour))
	for _, rec := range []*models.Recording{old2, fresh, old1, oldOther} {
		require.NoError(t, repo.Create(ctx, rec))
	}

	cutoff := base.Add(24 * time.Hour)

	all, err := repo.GetOlderThan(ctx, cutoff, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, old1.ID, all[0].ID, "oldest first")

	scoped, err := repo.GetOlderThan(ctx, cutoff, "front-door")
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	assert.Equal(t, old1.ID, scoped[0].ID)
	assert.Equal(t, old2.ID, scoped[1].ID)
}

func TestRecordingRepo_MarkInvalid(t *testing.T) {
	db := setupRecordingTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	rec := testRecording("front-door", time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	require.NoError(t, repo.Create(ctx, rec))

	require.NoError(t, repo.MarkInvalid(ctx, rec.FilePath, models.InvalidReasonMissingFile))

	found, err := repo.GetByPath(ctx, rec.FilePath)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.False(t, found.Valid())
	assert.Equal(t, models.InvalidReasonMissingFile, found.InvalidReason)
}

func TestRecordingRepo_DeleteBatch(t *testing.T) {
	db := setupRecordingTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	var paths []string
	for i := 0; i < 3; i++ {
		rec := testRecording("front-door", base.Add(time.Duration(i)*3*time.Second))
		require.NoError(t, repo.Create(ctx, rec))
		paths = append(paths, rec.FilePath)
	}
	keep := testRecording("front-door", base.Add(time.Hour))
	require.NoError(t, repo.Create(ctx, keep))

	affected, err := repo.DeleteBatch(ctx, paths)
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)

	count, err := repo.CountByCamera(ctx, "front-door")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Deleting nothing is a no-op.
	affected, err = repo.DeleteBatch(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, affected)
}

func TestRecordingRepo_DeleteByPath(t *testing.T) {
	db := setupRecordingTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	rec := testRecording("front-door", time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	require.NoError(t, repo.Create(ctx, rec))

	require.NoError(t, repo.DeleteByPath(ctx, rec.FilePath))

	found, err := repo.GetByPath(ctx, rec.FilePath)
	require.NoError(t, err)
	assert.Nil(t, found)

	// Row is gone for good, so the same path can be indexed again.
	again := testRecording("front-door", time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	assert.NoError(t, repo.Create(ctx, again))
}

func TestRecordingRepo_ForEachValid(t *testing.T) {
	db := setupRecordingTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, testRecording("backyard", base.Add(time.Second))))
	require.NoError(t, repo.Create(ctx, testRecording("front-door", base)))
	require.NoError(t, repo.Create(ctx, testRecording("front-door", base.Add(3*time.Second))))
	bad := testRecording("front-door", base.Add(time.Minute))
	bad.IsValid = models.BoolPtr(false)
	require.NoError(t, repo.Create(ctx, bad))

	var seen []string
	err := repo.ForEachValid(ctx, func(rec *models.Recording) error {
		seen = append(seen, fmt.Sprintf("%s@%d", rec.CameraID, rec.StartTimeMs))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 3)
	assert.Equal(t, fmt.Sprintf("backyard@%d", base.Add(time.Second).UnixMilli()), seen[0], "ordered by camera then start")

	// Callback errors stop iteration and propagate.
	calls := 0
	err = repo.ForEachValid(ctx, func(*models.Recording) error {
		calls++
		return fmt.Errorf("stop")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRecordingRepo_Stats(t *testing.T) {
	db := setupRecordingTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := testRecording("front-door", base.Add(time.Duration(i)*3*time.Second))
		rec.FileSize = 1000
		require.NoError(t, repo.Create(ctx, rec))
	}
	bad := testRecording("front-door", base.Add(time.Minute))
	bad.FileSize = 1000
	bad.IsValid = models.BoolPtr(false)
	require.NoError(t, repo.Create(ctx, bad))

	stats, err := repo.Stats(ctx, "front-door")
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.SegmentCount)
	assert.Equal(t, int64(1), stats.InvalidCount)
	assert.Equal(t, int64(4000), stats.TotalSize)
	require.NotNil(t, stats.EarliestStart)
	require.NotNil(t, stats.LatestStart)
	assert.Equal(t, base.UnixMilli(), stats.EarliestStart.UnixMilli())
	assert.Equal(t, base.Add(time.Minute).UnixMilli(), stats.LatestStart.UnixMilli())

	empty, err := repo.Stats(ctx, "no-such-camera")
	require.NoError(t, err)
	assert.Zero(t, empty.SegmentCount)
	assert.Nil(t, empty.EarliestStart)
}

func TestRecordingRepo_SizeByCameraAndDistinct(t *testing.T) {
	db := setupRecordingTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	a := testRecording("backyard", base)
	a.FileSize = 100
	b := testRecording("front-door", base)
	b.FileSize = 200
	c := testRecording("front-door", base.Add(3*time.Second))
	c.FileSize = 300
	for _, rec := range []*models.Recording{a, b, c} {
		require.NoError(t, repo.Create(ctx, rec))
	}

	sizes, err := repo.SizeByCamera(ctx)
	require.NoError(t, err)
	require.Len(t, sizes, 2)
	assert.Equal(t, CameraSize{CameraID: "backyard", SizeBytes: 100}, sizes[0])
	assert.Equal(t, CameraSize{CameraID: "front-door", SizeBytes: 500}, sizes[1])

	cameras, err := repo.DistinctCameras(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"backyard", "front-door"}, cameras)
}
