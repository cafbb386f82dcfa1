package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Archive is the recording tree rooted at the configured storage directory.
// Every path handed to it is checked against the root so a crafted camera id
// or playlist entry can never reach files outside the archive.
type Archive struct {
	root string
}

// NewArchive creates an Archive rooted at root, creating the directory if
// it doesn't exist.
func NewArchive(root string) (*Archive, error) {
	absPath, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0750); err != nil {
		return nil, fmt.Errorf("creating archive root: %w", err)
	}

	return &Archive{root: absPath}, nil
}

// Root returns the absolute archive root.
func (a *Archive) Root() string {
	return a.root
}

// Resolve resolves a relative path within the archive.
// Returns an error if the path is absolute or would escape the root.
func (a *Archive) Resolve(relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("path escapes archive: %s (absolute paths not allowed)", relativePath)
	}

	cleanPath := filepath.Clean(relativePath)
	fullPath := filepath.Join(a.root, cleanPath)

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}

	if !a.Contains(absPath) {
		return "", fmt.Errorf("path escapes archive: %s", relativePath)
	}

	return absPath, nil
}

// Rel converts an absolute path inside the archive back to a root-relative
// one. Paths outside the root are rejected.
func (a *Archive) Rel(absPath string) (string, error) {
	if !a.Contains(absPath) {
		return "", fmt.Errorf("path outside archive: %s", absPath)
	}
	rel, err := filepath.Rel(a.root, absPath)
	if err != nil {
		return "", fmt.Errorf("relativizing path: %w", err)
	}
	return rel, nil
}

// Contains reports whether absPath lies inside the archive root.
func (a *Archive) Contains(absPath string) bool {
	return absPath == a.root || strings.HasPrefix(absPath, a.root+string(filepath.Separator))
}

// Exists checks whether a relative path exists within the archive.
func (a *Archive) Exists(relativePath string) (bool, error) {
	path, err := a.Resolve(relativePath)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking path: %w", err)
	}
	return true, nil
}

// Stat returns file info for a relative path within the archive.
func (a *Archive) Stat(relativePath string) (os.FileInfo, error) {
	path, err := a.Resolve(relativePath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("getting file info: %w", err)
	}
	return info, nil
}

// AtomicWrite writes data to a relative path within the archive, creating
// parent directories as needed. The bytes land in a dot-prefixed temp file
// first and are renamed into place, so readers and the reconciler only ever
// see complete segments. Returns the absolute path written.
func (a *Archive) AtomicWrite(relativePath string, data []byte) (string, error) {
	targetPath, err := a.Resolve(relativePath)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("creating parent directory: %w", err)
	}

	tempName := fmt.Sprintf(".%s.%s.tmp", filepath.Base(targetPath), randomHex(8))
	tempPath := filepath.Join(dir, tempName)

	if err := os.WriteFile(tempPath, data, 0640); err != nil {
		return "", fmt.Errorf("writing temporary file: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("renaming to target: %w", err)
	}

	return targetPath, nil
}

// RemoveFile removes a segment file by its absolute path. A file that is
// already gone is not an error: retention treats the index row as the thing
// being reclaimed, whatever happened to the bytes.
func (a *Archive) RemoveFile(absPath string) error {
	if !a.Contains(absPath) {
		return fmt.Errorf("path outside archive: %s", absPath)
	}

	err := os.Remove(absPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

// RemoveDirIfEmpty removes a directory inside the archive when it has no
// entries left, reporting whether it was removed. Used to prune empty date
// partitions after retention sweeps. The root itself is never removed.
func (a *Archive) RemoveDirIfEmpty(absDir string) bool {
	if absDir == a.root || !a.Contains(absDir) {
		return false
	}
	// os.Remove refuses non-empty directories, which is exactly the check.
	return os.Remove(absDir) == nil
}

// randomHex generates a random hex string of the specified length.
func randomHex(n int) string {
	bytes := make([]byte, n/2+1)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to less random but still unique
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(bytes)[:n]
}
