// Package reconcile keeps the segment index and the archive on disk in
// agreement: indexed files that vanished are invalidated, files that fail
// the container header check are invalidated, and files on disk that the
// index never heard of are re-indexed.
package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// minSegmentSize is the smallest byte count a committed segment can
// plausibly have. Anything below it is truncation residue.
const minSegmentSize = 1024

// headerLen covers the first box header of an fMP4 file.
const headerLen = 8

// headerOK applies the container signature predicate: an fMP4 box type at
// bytes 4..8, or the MPEG-TS sync byte first.
func headerOK(hdr []byte) bool {
	if len(hdr) < headerLen {
		return false
	}
	if hdr[0] == 0x47 {
		return true
	}
	switch string(hdr[4:headerLen]) {
	case "ftyp", "moof", "mdat", "free":
		return true
	default:
		return false
	}
}

// Fast verifies that the file at path looks like a media segment: minimum
// size and a recognized container header. It reads at most 8 bytes.
func Fast(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < minSegmentSize {
		return fmt.Errorf("segment %s: %d bytes, want at least %d", path, info.Size(), minSegmentSize)
	}

	hdr := make([]byte, headerLen)
	if _, err := io.ReadFull(f, hdr); err != nil {
		return fmt.Errorf("segment %s: reading header: %w", path, err)
	}
	if !headerOK(hdr) {
		return fmt.Errorf("segment %s: unrecognized container header % x", path, hdr)
	}
	return nil
}

// Checksum computes the SHA-256 of the whole file as lowercase hex.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksumming %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Full runs the fast checks and, when they pass, returns the file's
// SHA-256 for audit logging.
func Full(path string) (string, error) {
	if err := Fast(path); err != nil {
		return "", err
	}
	return Checksum(path)
}
