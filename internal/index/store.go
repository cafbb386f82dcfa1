// Package index provides the persistent recording index. All mutations are
// serialized through a single writer goroutine consuming a bounded queue;
// reads run concurrently against the same database. Mutating calls return
// once their operation is enqueued, not once it is committed — Flush gives
// callers a commit barrier when they need one.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jmylchreest/nvarr/internal/models"
	"github.com/jmylchreest/nvarr/internal/observability"
	"github.com/jmylchreest/nvarr/internal/repository"
	"gorm.io/gorm"
)

// DefaultQueueSize is the write queue capacity. Enqueue blocks when the
// queue is full; backpressure on the producers is the design.
const DefaultQueueSize = 10000

// ErrStoreClosed is returned by mutating operations after Close.
var ErrStoreClosed = errors.New("index: store closed")

// Options tunes the store.
type Options struct {
	// QueueSize overrides DefaultQueueSize when positive.
	QueueSize int
}

// writeOp is one unit of work for the writer goroutine.
type writeOp struct {
	name  string
	apply func(ctx context.Context) error
	// done, when non-nil, receives the apply result (used by Flush).
	done chan error
}

// Store is the single-writer index over the recording schema.
type Store struct {
	log *slog.Logger

	recordings repository.RecordingRepository
	policies   repository.RetentionPolicyRepository
	cleanups   repository.CleanupEventRepository
	recoveries repository.RecoveryEventRepository
	timeline   repository.TimelineBucketRepository

	ops chan writeOp

	mu      sync.Mutex
	closed  bool
	senders sync.WaitGroup

	// done is closed once the writer goroutine has drained the queue.
	done chan struct{}
}

// New creates a Store over db and starts its writer goroutine.
func New(log *slog.Logger, db *gorm.DB, opts Options) *Store {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	s := &Store{
		log:        observability.WithComponent(log, "index"),
		recordings: repository.NewRecordingRepository(db),
		policies:   repository.NewRetentionPolicyRepository(db),
		cleanups:   repository.NewCleanupEventRepository(db),
		recoveries: repository.NewRecoveryEventRepository(db),
		timeline:   repository.NewTimelineBucketRepository(db),
		ops:        make(chan writeOp, queueSize),
		done:       make(chan struct{}),
	}

	go s.run()
	return s
}

// run is the writer goroutine. It owns every mutation, in arrival order,
// and keeps applying through shutdown until the queue is drained.
func (s *Store) run() {
	defer close(s.done)

	// Background context: queued work is applied even while shutting down.
	ctx := context.Background()
	for op := range s.ops {
		err := op.apply(ctx)
		if err != nil {
			observability.WithError(s.log, err).Error("index write failed",
				slog.String("op", op.name))
		}
		if op.done != nil {
			op.done <- err
		}
	}
}

// enqueue hands an operation to the writer. It blocks while the queue is
// full and fails fast once the store is closed or ctx is canceled.
func (s *Store) enqueue(ctx context.Context, op writeOp) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.senders.Add(1)
	s.mu.Unlock()
	defer s.senders.Done()

	select {
	case s.ops <- op:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting mutations, drains the queue, and waits for the
// writer to finish applying everything already enqueued.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// In-flight enqueues complete against the still-consuming writer.
	s.senders.Wait()
	close(s.ops)
	<-s.done

	s.log.Info("index store closed")
	return nil
}

// Flush blocks until every operation enqueued before it has been applied.
func (s *Store) Flush(ctx context.Context) error {
	done := make(chan error, 1)
	err := s.enqueue(ctx, writeOp{
		name:  "flush",
		apply: func(context.Context) error { return nil },
		done:  done,
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth reports how many operations are waiting for the writer.
func (s *Store) QueueDepth() int {
	return len(s.ops)
}

// InsertSegment enqueues one committed segment for indexing, along with its
// timeline bucket update. Duplicate (camera, start) or file-path rows are
// dropped and logged by the writer, never retried. The caller must not
// mutate rec after the call.
func (s *Store) InsertSegment(ctx context.Context, rec *models.Recording) error {
	if rec == nil {
		return fmt.Errorf("index: nil recording")
	}
	return s.enqueue(ctx, writeOp{
		name:  "insert_segment",
		apply: func(ctx context.Context) error { return s.applyInsert(ctx, rec) },
	})
}

func (s *Store) applyInsert(ctx context.Context, rec *models.Recording) error {
	if err := s.recordings.Create(ctx, rec); err != nil {
		if isConflict(err) {
			s.log.Warn("duplicate segment dropped",
				slog.String("camera_id", rec.CameraID),
				slog.String("file_path", rec.FilePath),
				slog.Int64("start_time_ms", rec.StartTimeMs))
			return nil
		}
		return err
	}

	date, hour := bucketKey(rec.StartTime)
	return s.timeline.Apply(ctx, rec.CameraID, date, hour, repository.BucketDelta{
		SegmentCount:    1,
		TotalDurationMs: rec.DurationMs,
		TotalSizeBytes:  rec.FileSize,
		SegmentTime:     rec.StartTime,
	})
}

// MarkInvalid enqueues clearing the validity flag for the segment at path.
func (s *Store) MarkInvalid(ctx context.Context, path, reason string) error {
	return s.enqueue(ctx, writeOp{
		name: "mark_invalid",
		apply: func(ctx context.Context) error {
			return s.recordings.MarkInvalid(ctx, path, reason)
		},
	})
}

// DeleteSegment enqueues removal of one index row by file path.
func (s *Store) DeleteSegment(ctx context.Context, path string) error {
	return s.enqueue(ctx, writeOp{
		name: "delete_segment",
		apply: func(ctx context.Context) error {
			return s.recordings.DeleteByPath(ctx, path)
		},
	})
}

// DeleteSegmentsBatch enqueues removal of many index rows in one
// transaction. Preferred over per-row deletes above ~100 paths.
func (s *Store) DeleteSegmentsBatch(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	return s.enqueue(ctx, writeOp{
		name: "delete_segments_batch",
		apply: func(ctx context.Context) error {
			affected, err := s.recordings.DeleteBatch(ctx, paths)
			if err != nil {
				return err
			}
			s.log.Debug("segment batch deleted",
				slog.Int("requested", len(paths)),
				slog.Int64("deleted", affected))
			return nil
		},
	})
}

// UpsertPolicy enqueues creating or updating a camera's retention policy.
func (s *Store) UpsertPolicy(ctx context.Context, policy *models.RetentionPolicy) error {
	if policy == nil {
		return fmt.Errorf("index: nil policy")
	}
	return s.enqueue(ctx, writeOp{
		name: "upsert_policy",
		apply: func(ctx context.Context) error {
			return s.policies.Upsert(ctx, policy)
		},
	})
}

// DeletePolicy enqueues removal of a camera's retention policy.
func (s *Store) DeletePolicy(ctx context.Context, cameraID string) error {
	return s.enqueue(ctx, writeOp{
		name: "delete_policy",
		apply: func(ctx context.Context) error {
			return s.policies.Delete(ctx, cameraID)
		},
	})
}

// AppendCleanup enqueues one cleanup-history record.
func (s *Store) AppendCleanup(ctx context.Context, event *models.CleanupEvent) error {
	if event == nil {
		return fmt.Errorf("index: nil cleanup event")
	}
	return s.enqueue(ctx, writeOp{
		name: "append_cleanup",
		apply: func(ctx context.Context) error {
			return s.cleanups.Create(ctx, event)
		},
	})
}

// AppendRecovery enqueues one recovery-log entry.
func (s *Store) AppendRecovery(ctx context.Context, event *models.RecoveryEvent) error {
	if event == nil {
		return fmt.Errorf("index: nil recovery event")
	}
	return s.enqueue(ctx, writeOp{
		name: "append_recovery",
		apply: func(ctx context.Context) error {
			return s.recoveries.Create(ctx, event)
		},
	})
}

// BuildTimeline enqueues a rebuild of the camera's timeline buckets over
// [fromDate, toDate] (inclusive calendar days) from the segment table.
// Idempotent: the range is replaced wholesale.
func (s *Store) BuildTimeline(ctx context.Context, cameraID, fromDate, toDate string) error {
	return s.enqueue(ctx, writeOp{
		name: "build_timeline",
		apply: func(ctx context.Context) error {
			return s.rebuildTimeline(ctx, cameraID, fromDate, toDate)
		},
	})
}

// isConflict reports whether err is a uniqueness violation, across the
// sqlite/postgres/mysql drivers the database layer supports.
func isConflict(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "Duplicate entry")
}
