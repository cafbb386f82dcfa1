// Package storage lays out the recording archive on disk and watches the
// disk it lives on. Segment files are partitioned by camera and calendar
// day, named by wall-clock capture time, and only ever written atomically.
package storage

import (
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// SegmentExt is the container extension for committed segments.
	SegmentExt = ".mp4"

	// DateLayout is the per-day partition directory name.
	DateLayout = "2006-01-02"

	// timePrefixLen is len("HH-MM-SS-mmm").
	timePrefixLen = 12

	// maxTokenLen caps the gateway token carried into filenames.
	maxTokenLen = 64
)

// FormatSegmentTime renders t's time of day as HH-MM-SS-mmm.
func FormatSegmentTime(t time.Time) string {
	return fmt.Sprintf("%s-%03d", t.Format("15-04-05"), t.Nanosecond()/int(time.Millisecond))
}

// SegmentFileName builds "<HH-MM-SS-mmm>_<token>.mp4" for a segment
// captured at t. The token keeps filenames unique when two writes land
// in the same millisecond.
func SegmentFileName(t time.Time, token string) string {
	return FormatSegmentTime(t) + "_" + token + SegmentExt
}

// SegmentRelPath builds the archive-relative path of a segment:
// "<camera>/<YYYY-MM-DD>/<HH-MM-SS-mmm>_<token>.mp4".
func SegmentRelPath(cameraID string, t time.Time, token string) string {
	return filepath.Join(cameraID, t.Format(DateLayout), SegmentFileName(t, token))
}

// SegmentPath builds the absolute path of a segment under root.
func SegmentPath(root, cameraID string, t time.Time, token string) string {
	return filepath.Join(root, SegmentRelPath(cameraID, t, token))
}

// TokenFromURI derives the filename token from a gateway segment URI:
// the final path element with any query string and extension stripped,
// reduced to directory-safe characters.
func TokenFromURI(uri string) string {
	base := uri
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	base = path.Base(base)
	base = strings.TrimSuffix(base, path.Ext(base))

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	token := strings.Trim(b.String(), "-")
	if token == "" {
		token = "seg"
	}
	if len(token) > maxTokenLen {
		token = token[:maxTokenLen]
	}
	return token
}

// ParseSegmentName splits "<HH-MM-SS-mmm>_<token>.mp4" into its time-of-day
// prefix and token. Tokens may themselves contain underscores, so only the
// fixed-width prefix is split off.
func ParseSegmentName(name string) (prefix, token string, err error) {
	if !strings.HasSuffix(name, SegmentExt) {
		return "", "", fmt.Errorf("segment name %q: missing %s extension", name, SegmentExt)
	}
	stem := strings.TrimSuffix(name, SegmentExt)
	if len(stem) < timePrefixLen+2 || stem[timePrefixLen] != '_' {
		return "", "", fmt.Errorf("segment name %q: want HH-MM-SS-mmm_<token>", name)
	}
	return stem[:timePrefixLen], stem[timePrefixLen+1:], nil
}

// ParseSegmentStart combines a partition date directory ("2006-01-02") and a
// segment filename into the capture start time in loc. A nil loc means the
// writer's own zone, time.Local.
func ParseSegmentStart(date, name string, loc *time.Location) (time.Time, string, error) {
	if loc == nil {
		loc = time.Local
	}
	prefix, token, err := ParseSegmentName(name)
	if err != nil {
		return time.Time{}, "", err
	}

	day, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("segment date %q: %w", date, err)
	}

	parts := strings.SplitN(prefix, "-", 4)
	if len(parts) != 4 {
		return time.Time{}, "", fmt.Errorf("segment name %q: bad time prefix", name)
	}
	nums := make([]int, 4)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("segment name %q: bad time prefix: %w", name, err)
		}
		nums[i] = n
	}
	hh, mm, ss, ms := nums[0], nums[1], nums[2], nums[3]
	if hh > 23 || mm > 59 || ss > 59 || ms > 999 {
		return time.Time{}, "", fmt.Errorf("segment name %q: time of day out of range", name)
	}

	start := day.Add(time.Duration(hh)*time.Hour +
		time.Duration(mm)*time.Minute +
		time.Duration(ss)*time.Second +
		time.Duration(ms)*time.Millisecond)
	return start, token, nil
}
