// Package scanner indexes recordings produced by an external recorder
// (typically the media gateway's own record feature) that writes the
// same <camera>/<YYYY-MM-DD>/<HH-MM-SS-mmm>_<seq>.mp4 layout but never
// talks to the index itself. It only creates rows; integrity checking
// stays with the reconciler.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jmylchreest/nvarr/internal/config"
	"github.com/jmylchreest/nvarr/internal/index"
	"github.com/jmylchreest/nvarr/internal/models"
	"github.com/jmylchreest/nvarr/internal/observability"
	"github.com/jmylchreest/nvarr/internal/storage"
)

// scanDurationMs is the nominal duration assigned to scanned segments.
// The recorder appends fragments to a still-open fMP4, so any duration
// read from the container while the tree is live would be wrong; the
// recorder segments on this fixed cadence.
const scanDurationMs = 3000

// scanCodec is assumed for external recordings. The gateway records
// H.264 unless explicitly transcoding, and the scanner never opens the
// file to find out.
const scanCodec = "h264"

// Scanner walks an external recording tree on a fixed interval and
// inserts rows for files it has not indexed yet. Paths already handed
// to the index are remembered in memory; after a restart the set is
// empty and the index writer's duplicate handling absorbs the replays.
type Scanner struct {
	log   *slog.Logger
	store *index.Store
	root  string

	mu      sync.Mutex
	indexed map[string]struct{}
}

// New creates a Scanner over the external tree rooted at cfg.Root.
func New(log *slog.Logger, store *index.Store, cfg config.ScannerConfig) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{
		log:     observability.WithComponent(log, "scanner"),
		store:   store,
		root:    cfg.Root,
		indexed: make(map[string]struct{}),
	}
}

// Scan performs one pass over the tree and returns how many segments it
// indexed. A missing root is not an error: the external recorder may
// simply not have produced anything yet.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	if _, err := os.Stat(s.root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("external recording root missing", slog.String("root", s.root))
			return 0, nil
		}
		return 0, fmt.Errorf("stat scan root: %w", err)
	}

	cameras, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("reading scan root: %w", err)
	}

	indexed := 0
	for _, cam := range cameras {
		if !cam.IsDir() {
			continue
		}
		n, err := s.scanCamera(ctx, cam.Name())
		indexed += n
		if err != nil {
			return indexed, err
		}
	}

	if indexed > 0 {
		if err := s.store.Flush(ctx); err != nil {
			return indexed, fmt.Errorf("flushing scan inserts: %w", err)
		}
		s.log.Info("external scan indexed segments", slog.Int("indexed", indexed))
	} else {
		s.log.Debug("external scan found nothing new")
	}
	return indexed, nil
}

// scanCamera walks one camera's date directories. Unreadable
// directories are logged and skipped so one bad mount cannot stall the
// rest of the tree; only insert failures abort the pass.
func (s *Scanner) scanCamera(ctx context.Context, cameraID string) (int, error) {
	camDir := filepath.Join(s.root, cameraID)
	dates, err := os.ReadDir(camDir)
	if err != nil {
		s.log.Warn("skipping unreadable camera directory",
			slog.String("camera_id", cameraID),
			slog.Any("error", err))
		return 0, nil
	}

	indexed := 0
	for _, date := range dates {
		if !date.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(camDir, date.Name()))
		if err != nil {
			s.log.Warn("skipping unreadable date directory",
				slog.String("camera_id", cameraID),
				slog.String("date", date.Name()),
				slog.Any("error", err))
			continue
		}
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return indexed, err
			}
			if f.IsDir() || !strings.HasSuffix(f.Name(), storage.SegmentExt) {
				continue
			}
			path := filepath.Join(camDir, date.Name(), f.Name())
			if s.seen(path) {
				continue
			}
			ok, err := s.indexFile(ctx, cameraID, date.Name(), path, f)
			if err != nil {
				return indexed, err
			}
			if ok {
				s.remember(path)
				indexed++
			}
		}
	}
	return indexed, nil
}

// indexFile inserts one file's row. Files the layout cannot explain are
// logged and skipped without entering the indexed set; the returned
// error is reserved for insert failures, which abort the pass.
func (s *Scanner) indexFile(ctx context.Context, cameraID, dateDir, path string, entry fs.DirEntry) (bool, error) {
	start, _, err := storage.ParseSegmentStart(dateDir, entry.Name(), nil)
	if err != nil {
		s.log.Warn("skipping unrecognized file",
			slog.String("path", path),
			slog.Any("error", err))
		return false, nil
	}
	info, err := entry.Info()
	if err != nil {
		s.log.Warn("stat failed during scan",
			slog.String("path", path),
			slog.Any("error", err))
		return false, nil
	}

	rec := &models.Recording{
		CameraID:   cameraID,
		CameraName: displayName(cameraID),
		FilePath:   path,
		StartTime:  start,
		DurationMs: scanDurationMs,
		FileSize:   info.Size(),
		Codec:      scanCodec,
	}
	if err := s.store.InsertSegment(ctx, rec); err != nil {
		return false, fmt.Errorf("indexing %s: %w", path, err)
	}

	s.log.Debug("external segment indexed",
		slog.String("camera_id", cameraID),
		slog.String("path", path),
		slog.Time("start_time", start))
	return true, nil
}

// IndexedCount returns how many paths the scanner has indexed since it
// started or since the cache was last invalidated.
func (s *Scanner) IndexedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.indexed)
}

// InvalidateCache forgets every remembered path, forcing the next scan
// to re-offer the whole tree to the index. Used after manual index
// surgery; duplicates are dropped by the writer, so this is safe.
func (s *Scanner) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed = make(map[string]struct{})
	s.log.Info("indexed-path cache cleared")
}

func (s *Scanner) seen(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.indexed[path]
	return ok
}

func (s *Scanner) remember(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed[path] = struct{}{}
}

// displayName derives a human-readable camera name from its
// directory-safe id: underscores become spaces, words get title case.
func displayName(cameraID string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(cameraID, "_", " "))
}
