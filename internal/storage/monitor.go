package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
)

// growthRingCap bounds the usage sample history. At the emergency monitor's
// 30 s cadence that is a bit over an hour of samples; at hourly stats
// sampling it is six days.
const growthRingCap = 144

// DiskStatus is one observation of the filesystem holding the archive.
type DiskStatus struct {
	Path         string  `json:"path"`
	TotalBytes   uint64  `json:"total_bytes"`
	UsedBytes    uint64  `json:"used_bytes"`
	FreeBytes    uint64  `json:"free_bytes"`
	UsedFraction float64 `json:"used_fraction"`
}

type usageSample struct {
	at   time.Time
	used uint64
}

// Monitor samples disk usage for the archive mount and keeps a bounded
// history so callers can estimate growth rate and time-to-full.
type Monitor struct {
	path    string
	usageFn func(ctx context.Context, path string) (*disk.UsageStat, error)

	mu      sync.Mutex
	samples []usageSample
}

// NewMonitor creates a Monitor for the filesystem containing path.
func NewMonitor(path string) *Monitor {
	return &Monitor{
		path:    path,
		usageFn: disk.UsageWithContext,
	}
}

// Sample reads current disk usage, records it in the growth history, and
// returns the observation. The used fraction is used/total of the mount,
// not gopsutil's free-space-relative percentage.
func (m *Monitor) Sample(ctx context.Context) (*DiskStatus, error) {
	stat, err := m.usageFn(ctx, m.path)
	if err != nil {
		return nil, fmt.Errorf("sampling disk usage for %s: %w", m.path, err)
	}

	status := &DiskStatus{
		Path:       m.path,
		TotalBytes: stat.Total,
		UsedBytes:  stat.Used,
		FreeBytes:  stat.Free,
	}
	if stat.Total > 0 {
		status.UsedFraction = float64(stat.Used) / float64(stat.Total)
	}

	m.record(time.Now(), stat.Used)
	return status, nil
}

func (m *Monitor) record(at time.Time, used uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = append(m.samples, usageSample{at: at, used: used})
	if len(m.samples) > growthRingCap {
		m.samples = m.samples[len(m.samples)-growthRingCap:]
	}
}

// GrowthRate estimates archive growth in bytes per hour from the oldest and
// newest retained samples. Reports false until at least two samples spanning
// a measurable interval exist. Shrinking usage yields a negative rate.
func (m *Monitor) GrowthRate() (bytesPerHour float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.samples) < 2 {
		return 0, false
	}
	first := m.samples[0]
	last := m.samples[len(m.samples)-1]
	elapsed := last.at.Sub(first.at).Hours()
	if elapsed <= 0 {
		return 0, false
	}
	return (float64(last.used) - float64(first.used)) / elapsed, true
}

// HoursUntil estimates how long until usage reaches limitBytes at the
// current growth rate. Reports false when there is no usable rate or the
// rate is non-positive; a limit that is already reached reports zero hours.
func (m *Monitor) HoursUntil(limitBytes uint64) (hours float64, ok bool) {
	rate, ok := m.GrowthRate()
	if !ok || rate <= 0 {
		return 0, false
	}

	m.mu.Lock()
	last := m.samples[len(m.samples)-1]
	m.mu.Unlock()

	if last.used >= limitBytes {
		return 0, true
	}
	return (float64(limitBytes) - float64(last.used)) / rate, true
}

// SampleCount returns how many usage samples the history currently holds.
func (m *Monitor) SampleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}
