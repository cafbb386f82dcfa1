// Package retention deletes footage that has aged out of each camera's
// policy. A scheduled sweep enforces per-camera retention windows; a
// disk-pressure monitor halves those windows when the archive mount runs
// critically full.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/nvarr/internal/config"
	"github.com/jmylchreest/nvarr/internal/index"
	"github.com/jmylchreest/nvarr/internal/models"
	"github.com/jmylchreest/nvarr/internal/observability"
	"github.com/jmylchreest/nvarr/internal/storage"
	"github.com/jmylchreest/nvarr/pkg/format"
)

// batchSize is how many index rows are deleted per transaction, and how
// often sweep progress is logged and shutdown is checked.
const batchSize = 1000

// Engine runs retention sweeps against the segment index and archive.
type Engine struct {
	log      *slog.Logger
	store    *index.Store
	archive  *storage.Archive
	defaults config.PolicyDefaults

	now func() time.Time
}

// NewEngine creates a retention engine. defaults seed policies for
// cameras that have none yet.
func NewEngine(log *slog.Logger, store *index.Store, archive *storage.Archive, defaults config.PolicyDefaults) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		log:      observability.WithComponent(log, "retention"),
		store:    store,
		archive:  archive,
		defaults: defaults,
		now:      time.Now,
	}
}

// SeedPolicies creates a policy row from the configured defaults for
// every camera that does not have one. Existing rows are left untouched
// so operator overrides survive restarts.
func (e *Engine) SeedPolicies(ctx context.Context, cameraIDs []string) error {
	for _, id := range cameraIDs {
		existing, err := e.store.Policy(ctx, id)
		if err != nil {
			return fmt.Errorf("loading policy for %s: %w", id, err)
		}
		if existing != nil {
			continue
		}
		policy := &models.RetentionPolicy{
			CameraID:                  id,
			RetentionDays:             e.defaults.RetentionDays,
			MinFreeSpaceGB:            e.defaults.MinFreeSpaceGB,
			EmergencyCleanupThreshold: e.defaults.EmergencyCleanupThreshold,
			Enabled:                   models.BoolPtr(true),
		}
		if err := e.store.UpsertPolicy(ctx, policy); err != nil {
			return fmt.Errorf("seeding policy for %s: %w", id, err)
		}
		e.log.Info("seeded retention policy",
			slog.String("camera_id", id),
			slog.Int("retention_days", policy.RetentionDays))
	}
	// Upserts are queued; make the rows visible before the first sweep
	// reads them back.
	return e.store.Flush(ctx)
}

// Sweep runs one scheduled cleanup pass over every enabled policy. The
// pass is interruptible: shutdown is honored between deletion batches,
// and whatever was already deleted stays recorded.
func (e *Engine) Sweep(ctx context.Context) error {
	done := observability.TimedOperation(ctx, e.log, "retention_sweep")
	defer done()

	policies, err := e.store.Policies(ctx)
	if err != nil {
		return fmt.Errorf("loading retention policies: %w", err)
	}

	runID := uuid.NewString()
	var totalDeleted, totalFreed int64

	for _, policy := range policies {
		if ctx.Err() != nil {
			e.log.Warn("sweep interrupted by shutdown", slog.String("run_id", runID))
			return ctx.Err()
		}
		if !policy.IsEnabled() {
			continue
		}

		res, err := e.cleanupCamera(ctx, policy.CameraID, policy.RetentionDays, models.CleanupTypeScheduled, runID, true)
		if err != nil {
			e.log.Error("camera cleanup failed",
				slog.String("camera_id", policy.CameraID),
				slog.Any("error", err))
			continue
		}
		totalDeleted += res.deleted
		totalFreed += res.freed
	}

	e.log.Info("sweep summary",
		slog.String("run_id", runID),
		slog.String("deleted", format.Number(totalDeleted)),
		slog.String("freed", format.Bytes(totalFreed)))
	return nil
}

type cleanupResult struct {
	deleted int64
	freed   int64
	failed  int64
}

// cleanupCamera deletes one camera's segments older than now−days, files
// first and index rows in batches, strictly oldest-first so a surviving
// segment implies every newer one survived too. With interruptible set,
// ctx cancellation is honored between batches; emergency runs pass false
// and finish the camera regardless.
func (e *Engine) cleanupCamera(ctx context.Context, cameraID string, retentionDays int, typ models.CleanupType, runID string, interruptible bool) (cleanupResult, error) {
	var res cleanupResult

	cutoff := e.now().AddDate(0, 0, -retentionDays)
	segments, err := e.store.OldSegments(ctx, cutoff, cameraID)
	if err != nil {
		return res, fmt.Errorf("querying segments before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if len(segments) == 0 {
		return res, nil
	}

	log := e.log.With(
		slog.String("camera_id", cameraID),
		slog.String("type", string(typ)),
		slog.String("run_id", runID))
	log.Info("cleanup started",
		slog.String("segments", format.Number(int64(len(segments)))),
		slog.Time("cutoff", cutoff))

	total := int64(len(segments))
	paths := make([]string, 0, batchSize)
	dirs := make(map[string]struct{})

	flush := func() error {
		if len(paths) == 0 {
			return nil
		}
		// The files are already gone; their index rows must follow even
		// when a shutdown races the batch. The store applies batches
		// asynchronously, so the slice is handed over, never reused.
		if err := e.store.DeleteSegmentsBatch(context.WithoutCancel(ctx), paths); err != nil {
			return fmt.Errorf("deleting %d index rows: %w", len(paths), err)
		}
		paths = make([]string, 0, batchSize)
		return nil
	}

	for i, seg := range segments {
		removed, size, err := e.removeFile(seg.FilePath)
		if err != nil {
			log.Error("failed to delete segment file",
				slog.String("path", seg.FilePath),
				slog.Any("error", err))
			res.failed++
			continue
		}
		if removed {
			res.freed += size
			dirs[filepath.Dir(seg.FilePath)] = struct{}{}
		}
		// Rows whose file already vanished are deleted too: the segment
		// is past retention either way, and a dead row would otherwise
		// sit in the index until the reconciler flags it.
		res.deleted++
		paths = append(paths, seg.FilePath)

		if len(paths) >= batchSize {
			if err := flush(); err != nil {
				return res, err
			}
			log.Info("cleanup progress",
				slog.String("processed", format.Number(int64(i+1))),
				slog.String("total", format.Number(total)),
				slog.String("progress", format.Percentage(float64(i+1)/float64(total)*100, 1)),
				slog.String("freed", format.Bytes(res.freed)),
				slog.Int64("failed", res.failed))
			if interruptible && ctx.Err() != nil {
				log.Warn("cleanup interrupted by shutdown")
				e.queueTimelineRebuild(ctx, cameraID, segments)
				e.recordCleanup(ctx, cameraID, typ, runID, cutoff, res)
				return res, ctx.Err()
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	e.queueTimelineRebuild(ctx, cameraID, segments)
	e.pruneDirs(dirs)
	e.recordCleanup(ctx, cameraID, typ, runID, cutoff, res)

	log.Info("cleanup completed",
		slog.String("deleted", format.Number(res.deleted)),
		slog.Int64("failed", res.failed),
		slog.String("freed", format.Bytes(res.freed)))
	return res, nil
}

// removeFile deletes one segment file, reporting whether a file was
// actually removed and how many bytes it held. A file that is already
// gone is not an error.
func (e *Engine) removeFile(path string) (bool, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	if err := e.archive.RemoveFile(path); err != nil {
		return false, 0, err
	}
	return true, info.Size(), nil
}

// queueTimelineRebuild re-derives the camera's hourly buckets over the
// date span a deletion pass touched. Queued behind the delete batches,
// so the rebuild sees the post-delete table; rebuilds are idempotent.
func (e *Engine) queueTimelineRebuild(ctx context.Context, cameraID string, segments []*models.Recording) {
	first := segments[0].StartTime.Local().Format(storage.DateLayout)
	last := segments[len(segments)-1].StartTime.Local().Format(storage.DateLayout)
	if err := e.store.BuildTimeline(context.WithoutCancel(ctx), cameraID, first, last); err != nil {
		e.log.Error("failed to queue timeline rebuild",
			slog.String("camera_id", cameraID),
			slog.Any("error", err))
	}
}

// pruneDirs removes now-empty date directories left behind by a sweep.
func (e *Engine) pruneDirs(dirs map[string]struct{}) {
	for dir := range dirs {
		if e.archive.RemoveDirIfEmpty(dir) {
			// The camera directory above it may have emptied as well.
			e.archive.RemoveDirIfEmpty(filepath.Dir(dir))
		}
	}
}

// recordCleanup appends the cleanup_history row for one camera run.
// Runs that deleted nothing are not recorded.
func (e *Engine) recordCleanup(ctx context.Context, cameraID string, typ models.CleanupType, runID string, cutoff time.Time, res cleanupResult) {
	if res.deleted == 0 {
		return
	}
	event := &models.CleanupEvent{
		CameraID:        cameraID,
		Type:            typ,
		DeletedSegments: res.deleted,
		FreedBytes:      res.freed,
		RunID:           runID,
		Details:         fmt.Sprintf("cutoff=%s failed=%d", cutoff.UTC().Format(time.RFC3339), res.failed),
	}
	if err := e.store.AppendCleanup(context.WithoutCancel(ctx), event); err != nil {
		e.log.Error("failed to record cleanup",
			slog.String("camera_id", cameraID),
			slog.Any("error", err))
	}
}
