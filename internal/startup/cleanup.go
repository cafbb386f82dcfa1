// Package startup provides utilities for application startup tasks.
package startup

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TempSuffix marks interrupted atomic-write leftovers. Segment writes go to a
// dot-prefixed "*.tmp" sibling first and rename into place, so any surviving
// temp file is crash residue.
const TempSuffix = ".tmp"

// DefaultCleanupAge is the default maximum age for stale temp files (1 hour).
const DefaultCleanupAge = 1 * time.Hour

// CleanupStaleTempFiles removes stale "*.tmp" files under the storage root
// that are older than maxAge. It runs before the reconciler so interrupted
// writes never get misread as orphaned segments.
//
// Returns the number of files removed and any error encountered.
func CleanupStaleTempFiles(logger *slog.Logger, root string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		logger.Debug("storage root does not exist, skipping temp cleanup",
			"path", root,
		)
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Warn("failed to read directory during temp cleanup",
				"path", path,
				"error", err,
			)
			return nil
		}

		if entry.IsDir() || !strings.HasSuffix(entry.Name(), TempSuffix) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to get temp file info",
				"path", path,
				"error", err,
			)
			return nil
		}

		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent temp file",
				"path", path,
				"age", time.Since(info.ModTime()).Round(time.Second),
			)
			return nil
		}

		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove stale temp file",
				"path", path,
				"error", err,
			)
			return nil
		}

		logger.Info("removed stale temp file",
			"path", path,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
		return nil
	})
	if err != nil {
		logger.Error("failed to walk storage root for temp cleanup",
			"path", root,
			"error", err,
		)
		return removed, err
	}

	return removed, nil
}
