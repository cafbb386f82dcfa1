package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/nvarr/internal/config"
	"github.com/jmylchreest/nvarr/internal/index"
	"github.com/jmylchreest/nvarr/internal/models"
	"github.com/jmylchreest/nvarr/internal/observability"
	"github.com/jmylchreest/nvarr/internal/storage"
)

const (
	// orphanDurationMs is the nominal duration assigned to re-indexed
	// files; like every other duration it never comes from the media.
	orphanDurationMs = 3000

	// defaultOrphanBatch bounds adoptions per run when the config is unset.
	defaultOrphanBatch = 100

	// orphanPace spaces adoption inserts so a large backlog does not
	// monopolize the index writer.
	orphanPace = 100 * time.Millisecond

	// checkWorkers is the pool size for per-file stat and header checks.
	checkWorkers = 4
)

// Reconciler runs the disk/index agreement passes.
type Reconciler struct {
	log     *slog.Logger
	store   *index.Store
	archive *storage.Archive

	batchLimit int
	pace       time.Duration
	workers    int

	// spotWindow is how far back the integrity spot check looks; twice
	// the check interval so consecutive checks overlap rather than gap.
	spotWindow time.Duration

	now func() time.Time
}

// New creates a Reconciler over the store and archive.
func New(log *slog.Logger, store *index.Store, archive *storage.Archive, cfg config.ReconcileConfig) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	batch := cfg.OrphanBatchLimit
	if batch <= 0 {
		batch = defaultOrphanBatch
	}
	return &Reconciler{
		log:        observability.WithComponent(log, "reconcile"),
		store:      store,
		archive:    archive,
		batchLimit: batch,
		pace:       orphanPace,
		workers:    checkWorkers,
		spotWindow: 2 * time.Duration(cfg.SpotCheckInterval),
		now:        time.Now,
	}
}

// Run executes the three passes in order: missing files, header
// integrity, orphan adoption. Each pass flushes the index queue so the
// next pass observes its marks.
func (r *Reconciler) Run(ctx context.Context) error {
	var err error
	defer observability.TimedOperationWithError(ctx, r.log, "reconcile", &err)()

	missing, err := r.sweep(ctx, r.checkPresence)
	if err != nil {
		err = fmt.Errorf("missing-file pass: %w", err)
		return err
	}
	corrupted, err := r.sweep(ctx, r.checkIntegrity)
	if err != nil {
		err = fmt.Errorf("integrity pass: %w", err)
		return err
	}
	adopted, err := r.adoptOrphans(ctx)
	if err != nil {
		err = fmt.Errorf("orphan pass: %w", err)
		return err
	}

	r.log.Info("reconcile finished",
		slog.Int("missing", missing),
		slog.Int("corrupted", corrupted),
		slog.Int("adopted", adopted))
	return nil
}

// SpotCheck fast-validates segments captured within the spot window and
// invalidates failures. Much cheaper than Run: it touches only recent
// rows and never walks the disk.
func (r *Reconciler) SpotCheck(ctx context.Context) error {
	if r.spotWindow <= 0 {
		return nil
	}

	now := r.now()
	cameras, err := r.store.Cameras(ctx)
	if err != nil {
		return fmt.Errorf("listing cameras: %w", err)
	}

	checked, flagged := 0, 0
	for _, cam := range cameras {
		segs, err := r.store.SegmentsInRange(ctx, cam, now.Add(-r.spotWindow), now)
		if err != nil {
			return fmt.Errorf("listing recent segments for %s: %w", cam, err)
		}
		for _, seg := range segs {
			if err := ctx.Err(); err != nil {
				return err
			}
			checked++
			reason, cause := r.checkIntegrity(seg.FilePath)
			if reason == "" {
				continue
			}
			if err := r.markInvalid(ctx, seg, reason, cause); err != nil {
				return err
			}
			flagged++
		}
	}

	if flagged > 0 {
		r.log.Warn("spot check flagged segments",
			slog.Int("checked", checked),
			slog.Int("flagged", flagged))
	} else {
		r.log.Debug("spot check clean", slog.Int("checked", checked))
	}
	return r.store.Flush(ctx)
}

// sweep streams every valid segment through a bounded worker pool
// applying check; rows the check flags are invalidated with the returned
// reason. Flushes before returning so later passes see the marks.
func (r *Reconciler) sweep(ctx context.Context, check func(string) (string, error)) (int, error) {
	var flagged atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	iterErr := r.store.ForEachValidSegment(gctx, func(rec *models.Recording) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		g.Go(func() error {
			reason, cause := check(rec.FilePath)
			if reason == "" {
				return nil
			}
			if err := r.markInvalid(gctx, rec, reason, cause); err != nil {
				return err
			}
			flagged.Add(1)
			return nil
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		return int(flagged.Load()), err
	}
	if iterErr != nil {
		return int(flagged.Load()), iterErr
	}
	return int(flagged.Load()), r.store.Flush(ctx)
}

// checkPresence flags rows whose file has vanished. Stat failures other
// than absence are logged and left alone: an unreadable mount must not
// invalidate the whole index.
func (r *Reconciler) checkPresence(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.InvalidReasonMissingFile, err
		}
		r.log.Warn("stat failed during reconcile",
			slog.String("path", path),
			slog.Any("error", err))
	}
	return "", nil
}

// checkIntegrity flags rows whose file fails the fast container check. A
// file that disappeared between passes is still a missing file, not a
// corrupt one.
func (r *Reconciler) checkIntegrity(path string) (string, error) {
	if err := Fast(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.InvalidReasonMissingFile, err
		}
		return models.InvalidReasonCorruptedFile, err
	}
	return "", nil
}

// markInvalid clears the row's validity and appends the matching
// recovery-log event. Corrupt files get a best-effort checksum in the
// event details for audit.
func (r *Reconciler) markInvalid(ctx context.Context, rec *models.Recording, reason string, cause error) error {
	if err := r.store.MarkInvalid(ctx, rec.FilePath, reason); err != nil {
		return fmt.Errorf("marking %s invalid: %w", rec.FilePath, err)
	}

	details := rec.FilePath
	if cause != nil {
		details = fmt.Sprintf("%s: %v", rec.FilePath, cause)
	}
	if reason == models.InvalidReasonCorruptedFile {
		if sum, err := Checksum(rec.FilePath); err == nil {
			details += " sha256=" + sum
		}
	}

	event := &models.RecoveryEvent{
		CameraID:  rec.CameraID,
		EventType: models.RecoveryEventType(reason),
		Details:   details,
	}
	if err := r.store.AppendRecovery(ctx, event); err != nil {
		return fmt.Errorf("recording %s event: %w", reason, err)
	}

	r.log.Warn("segment invalidated",
		slog.String("camera_id", rec.CameraID),
		slog.String("path", rec.FilePath),
		slog.String("reason", reason))
	return nil
}

// adoptOrphans walks the archive for committed segments the index does
// not know and re-creates their rows from file metadata: start time from
// mtime, nominal duration, size from stat. Bounded per invocation.
func (r *Reconciler) adoptOrphans(ctx context.Context) (int, error) {
	adopted := 0
	root := r.archive.Root()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			r.log.Warn("walk error during orphan pass",
				slog.String("path", path),
				slog.Any("error", err))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), storage.SegmentExt) {
			return nil
		}
		if adopted >= r.batchLimit {
			r.log.Info("orphan batch limit reached",
				slog.Int("adopted", adopted))
			return fs.SkipAll
		}

		cameraID, ok := r.cameraFromPath(path)
		if !ok {
			return nil
		}

		existing, err := r.store.SegmentByPath(ctx, path)
		if err != nil {
			return fmt.Errorf("looking up %s: %w", path, err)
		}
		if existing != nil {
			return nil
		}

		if err := r.adopt(ctx, cameraID, path, d); err != nil {
			r.log.Warn("failed to adopt orphan",
				slog.String("path", path),
				slog.Any("error", err))
			return nil
		}
		adopted++

		select {
		case <-time.After(r.pace):
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		return adopted, err
	}
	return adopted, r.store.Flush(ctx)
}

// adopt inserts one orphan's index row.
func (r *Reconciler) adopt(ctx context.Context, cameraID, path string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	rec := &models.Recording{
		CameraID:   cameraID,
		CameraName: cameraID,
		FilePath:   path,
		StartTime:  info.ModTime(),
		DurationMs: orphanDurationMs,
		FileSize:   info.Size(),
	}
	if err := r.store.InsertSegment(ctx, rec); err != nil {
		return err
	}

	r.log.Info("orphan re-indexed",
		slog.String("camera_id", cameraID),
		slog.String("path", path),
		slog.Time("start_time", rec.StartTime))
	return nil
}

// cameraFromPath derives the camera id from the first directory under the
// archive root. Files parked directly at the root belong to no camera.
func (r *Reconciler) cameraFromPath(path string) (string, bool) {
	rel, err := r.archive.Rel(path)
	if err != nil {
		return "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) < 2 {
		return "", false
	}
	return parts[0], true
}
