package playback

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/nvarr/internal/models"
)

// Playlist synthesizes a VOD media playlist over the camera's segments in
// [t0, t1). An empty range yields an empty string.
//
// Each EXTINF is derived from the wall-clock gap to the next segment, not
// from media metadata. Overlapping fMP4 runs from an external recorder can
// carry internal durations longer than the gap to their successor; using
// those would make playback drift against the wall clock. Only the final
// segment, which has no successor, uses its nominal duration.
func (r *Resolver) Playlist(ctx context.Context, cameraID string, t0, t1 time.Time) (string, error) {
	segs, err := r.Segments(ctx, cameraID, t0, t1)
	if err != nil {
		return "", err
	}
	if len(segs) == 0 {
		r.log.Warn("no segments in playback range",
			slog.String("camera_id", cameraID),
			slog.Time("start", t0),
			slog.Time("end", t1))
		return "", nil
	}
	return r.synthesize(cameraID, segs), nil
}

// synthesize renders segments, already sorted by start time, as an HLS
// media playlist.
func (r *Resolver) synthesize(cameraID string, segs []*models.Recording) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-TARGETDURATION:4\n")
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")

	for i, seg := range segs {
		durMs := seg.DurationMs
		if i < len(segs)-1 {
			durMs = segs[i+1].StartTimeMs - seg.StartTimeMs
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", float64(durMs)/1000)
		b.WriteString(r.segmentURI(cameraID, seg))
		b.WriteByte('\n')
	}

	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

// segmentURI builds the playback URI for one segment:
// <base>/segment/<camera>/<camera-relative path>, forward slashes.
func (r *Resolver) segmentURI(cameraID string, seg *models.Recording) string {
	return r.base + "/segment/" + cameraID + "/" + r.cameraRel(cameraID, seg.FilePath)
}

// cameraRel converts an absolute segment path to its forward-slash path
// relative to the camera directory. A path outside the archive falls back
// to its bare filename.
func (r *Resolver) cameraRel(cameraID, absPath string) string {
	rel, err := r.archive.Rel(absPath)
	if err != nil {
		return filepath.Base(absPath)
	}
	return strings.TrimPrefix(filepath.ToSlash(rel), cameraID+"/")
}
