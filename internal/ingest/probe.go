package ingest

import (
	"bytes"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

// MediaInfo is the metadata extracted from an init segment. Durations are
// deliberately absent: fragment metadata reflects accumulated runs, never
// the wall-clock span a capture covers.
type MediaInfo struct {
	Codec      string
	Resolution string // "WxH", empty when the SPS could not be parsed
}

// ProbeInit parses ftyp+moov bytes and extracts codec and resolution from
// the first H.264/H.265 video track. Returns (nil, nil) when no such track
// exists; callers treat any failure as non-fatal metadata loss.
func ProbeInit(data []byte) (*MediaInfo, error) {
	var init fmp4.Init
	if err := init.Unmarshal(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("parsing init segment: %w", err)
	}

	for _, track := range init.Tracks {
		switch codec := track.Codec.(type) {
		case *mp4.CodecH264:
			info := &MediaInfo{Codec: "h264"}
			var sps h264.SPS
			if err := sps.Unmarshal(codec.SPS); err == nil {
				info.Resolution = fmt.Sprintf("%dx%d", sps.Width(), sps.Height())
			}
			return info, nil

		case *mp4.CodecH265:
			info := &MediaInfo{Codec: "h265"}
			var sps h265.SPS
			if err := sps.Unmarshal(codec.SPS); err == nil {
				info.Resolution = fmt.Sprintf("%dx%d", sps.Width(), sps.Height())
			}
			return info, nil
		}
	}

	return nil, nil
}
