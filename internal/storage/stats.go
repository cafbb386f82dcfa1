package storage

import (
	"context"
	"fmt"

	"github.com/jmylchreest/nvarr/internal/repository"
)

// CameraUsage is one camera's share of the archive.
type CameraUsage struct {
	CameraID  string `json:"camera_id"`
	SizeBytes int64  `json:"size_bytes"`
}

// Stats is the operator-facing view of the archive: the disk holding it,
// how the bytes split across cameras, and where usage is heading. Growth
// figures are omitted until the monitor has enough samples.
type Stats struct {
	Disk               DiskStatus    `json:"disk"`
	Cameras            []CameraUsage `json:"cameras"`
	GrowthBytesPerHour *float64      `json:"growth_bytes_per_hour,omitempty"`
	HoursUntilFull     *float64      `json:"hours_until_full,omitempty"`
}

// CameraSizer is the slice of the recording index the stats collector
// needs.
type CameraSizer interface {
	SizeByCamera(ctx context.Context) ([]repository.CameraSize, error)
}

// CollectStats samples the disk, merges in per-camera byte totals from
// the index, and attaches growth estimates when available. The sample
// feeds the monitor's growth history like any other.
func CollectStats(ctx context.Context, mon *Monitor, sizes CameraSizer) (*Stats, error) {
	status, err := mon.Sample(ctx)
	if err != nil {
		return nil, err
	}

	perCamera, err := sizes.SizeByCamera(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing camera sizes: %w", err)
	}

	stats := &Stats{
		Disk:    *status,
		Cameras: make([]CameraUsage, 0, len(perCamera)),
	}
	for _, s := range perCamera {
		stats.Cameras = append(stats.Cameras, CameraUsage{
			CameraID:  s.CameraID,
			SizeBytes: s.SizeBytes,
		})
	}

	if rate, ok := mon.GrowthRate(); ok {
		stats.GrowthBytesPerHour = &rate
		if hours, ok := mon.HoursUntil(status.TotalBytes); ok {
			stats.HoursUntilFull = &hours
		}
	}
	return stats, nil
}
