package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestArchive(t *testing.T) *Archive {
	t.Helper()

	archive, err := NewArchive(filepath.Join(t.TempDir(), "recordings"))
	require.NoError(t, err)
	return archive
}

func TestNewArchive(t *testing.T) {
	tmpDir := t.TempDir()
	root := filepath.Join(tmpDir, "recordings")

	archive, err := NewArchive(root)
	require.NoError(t, err)
	require.NotNil(t, archive)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, filepath.IsAbs(archive.Root()))
}

func TestArchive_Resolve(t *testing.T) {
	archive := setupTestArchive(t)

	tests := []struct {
		name        string
		path        string
		shouldError bool
	}{
		{"camera segment", "front-door/2024-03-15/10-30-05-123_seg1.mp4", false},
		{"camera dir", "front-door", false},
		{"current dir", ".", false},
		{"parent escape attempt", "../escape.mp4", true},
		{"nested parent escape", "front-door/../../escape.mp4", true},
		{"absolute path escape", "/etc/passwd", true},
		{"dot dot name", "..front", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := archive.Resolve(tt.path)
			if tt.shouldError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "escapes archive")
				return
			}
			require.NoError(t, err)
			assert.True(t, archive.Contains(resolved))
		})
	}
}

func TestArchive_RelRoundTrip(t *testing.T) {
	archive := setupTestArchive(t)

	abs, err := archive.Resolve("front-door/2024-03-15/10-30-05-123_seg1.mp4")
	require.NoError(t, err)

	rel, err := archive.Rel(abs)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("front-door", "2024-03-15", "10-30-05-123_seg1.mp4"), rel)

	_, err = archive.Rel("/somewhere/else.mp4")
	assert.Error(t, err)
}

func TestArchive_AtomicWrite(t *testing.T) {
	archive := setupTestArchive(t)

	rel := "front-door/2024-03-15/10-30-05-123_seg1.mp4"
	data := []byte("segment-bytes")

	abs, err := archive.AtomicWrite(rel, data)
	require.NoError(t, err)
	assert.True(t, archive.Contains(abs))

	got, err := os.ReadFile(abs)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// No temp residue left behind.
	entries, err := os.ReadDir(filepath.Dir(abs))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, strings.HasSuffix(entries[0].Name(), ".tmp"))

	// Overwrites are atomic replacements.
	_, err = archive.AtomicWrite(rel, []byte("newer"))
	require.NoError(t, err)
	got, err = os.ReadFile(abs)
	require.NoError(t, err)
	assert.Equal(t, []byte("newer"), got)

	_, err = archive.AtomicWrite("../outside.mp4", data)
	assert.Error(t, err)
}

func TestArchive_RemoveFile(t *testing.T) {
	archive := setupTestArchive(t)

	abs, err := archive.AtomicWrite("front-door/2024-03-15/10-30-05-123_seg1.mp4", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, archive.RemoveFile(abs))
	_, statErr := os.Stat(abs)
	assert.True(t, os.IsNotExist(statErr))

	// Already gone: not an error.
	assert.NoError(t, archive.RemoveFile(abs))

	// Outside the root: rejected.
	assert.Error(t, archive.RemoveFile("/etc/passwd"))
}

func TestArchive_RemoveDirIfEmpty(t *testing.T) {
	archive := setupTestArchive(t)

	abs, err := archive.AtomicWrite("front-door/2024-03-15/10-30-05-123_seg1.mp4", []byte("x"))
	require.NoError(t, err)
	dateDir := filepath.Dir(abs)

	// Non-empty: kept.
	assert.False(t, archive.RemoveDirIfEmpty(dateDir))

	require.NoError(t, archive.RemoveFile(abs))
	assert.True(t, archive.RemoveDirIfEmpty(dateDir))
	_, statErr := os.Stat(dateDir)
	assert.True(t, os.IsNotExist(statErr))

	// The root itself is never pruned.
	assert.False(t, archive.RemoveDirIfEmpty(archive.Root()))
}

func TestArchive_ExistsAndStat(t *testing.T) {
	archive := setupTestArchive(t)

	at := time.Date(2024, 3, 15, 10, 30, 5, 0, time.UTC)
	rel := SegmentRelPath("front-door", at, "seg1")

	exists, err := archive.Exists(rel)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = archive.AtomicWrite(rel, []byte("abcd"))
	require.NoError(t, err)

	exists, err = archive.Exists(rel)
	require.NoError(t, err)
	assert.True(t, exists)

	info, err := archive.Stat(rel)
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size())
}
