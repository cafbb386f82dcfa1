package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/nvarr/internal/config"
	"github.com/jmylchreest/nvarr/internal/index"
	"github.com/jmylchreest/nvarr/internal/models"
	"github.com/jmylchreest/nvarr/internal/storage"
	"github.com/jmylchreest/nvarr/pkg/format"
)

// DiskSampler reports usage of the filesystem holding the archive.
// *storage.Monitor is the production implementation.
type DiskSampler interface {
	Sample(ctx context.Context) (*storage.DiskStatus, error)
}

// Monitor watches the archive mount and runs emergency cleanup when disk
// usage crosses the trigger threshold. It halves retention camera by
// camera, longest-retention first, and stops as soon as usage falls below
// the target threshold.
type Monitor struct {
	log    *slog.Logger
	engine *Engine
	store  *index.Store
	disk   DiskSampler
	cfg    config.EmergencyConfig

	mu      sync.Mutex
	lastRun map[string]time.Time

	now func() time.Time
}

// NewMonitor creates an emergency cleanup monitor.
func NewMonitor(log *slog.Logger, engine *Engine, store *index.Store, disk DiskSampler, cfg config.EmergencyConfig) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		log:     log.With(slog.String("component", "emergency")),
		engine:  engine,
		store:   store,
		disk:    disk,
		cfg:     cfg,
		lastRun: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Check samples disk usage once and runs emergency cleanup if the mount
// is at or above the trigger threshold. Intended to run on a short
// scheduler interval.
func (m *Monitor) Check(ctx context.Context) error {
	status, err := m.disk.Sample(ctx)
	if err != nil {
		return fmt.Errorf("sampling disk: %w", err)
	}
	if status.UsedFraction < m.cfg.TriggerThreshold {
		return nil
	}

	attrs := []any{
		slog.String("used", format.Percentage(status.UsedFraction*100, 1)),
		slog.String("trigger", format.Percentage(m.cfg.TriggerThreshold*100, 1)),
		slog.String("free", format.Bytes(int64(status.FreeBytes))),
	}
	// Samplers that track history can say how fast the disk is filling.
	if g, ok := m.disk.(interface{ GrowthRate() (float64, bool) }); ok {
		if rate, haveRate := g.GrowthRate(); haveRate {
			attrs = append(attrs, slog.String("growth_per_hour", format.Bytes(int64(rate))))
		}
	}
	m.log.Warn("disk usage above emergency threshold", attrs...)
	return m.cleanup(ctx, status)
}

// cleanup halves retention for one camera at a time until usage drops
// below the target threshold or every camera has been tried. Cameras on
// cooldown are skipped so repeated checks do not thrash the same camera.
func (m *Monitor) cleanup(ctx context.Context, status *storage.DiskStatus) error {
	policies, err := m.store.Policies(ctx)
	if err != nil {
		return fmt.Errorf("loading retention policies: %w", err)
	}

	runID := uuid.NewString()

	for _, policy := range policies {
		if m.onCooldown(policy.CameraID) {
			m.log.Debug("camera on emergency cooldown", slog.String("camera_id", policy.CameraID))
			continue
		}

		days := policy.RetentionDays / 2
		if days < 1 {
			days = 1
		}
		m.log.Warn("halving retention for camera",
			slog.String("camera_id", policy.CameraID),
			slog.Int("retention_days", policy.RetentionDays),
			slog.Int("effective_days", days))

		// Once started, a camera's deletion runs to completion even
		// through shutdown: stopping mid-camera would leave the disk
		// full and the oldest-first guarantee is only meaningful for a
		// finished pass.
		camCtx := context.WithoutCancel(ctx)
		res, err := m.engine.cleanupCamera(camCtx, policy.CameraID, days, models.CleanupTypeEmergency, runID, false)
		m.noteRun(policy.CameraID)
		if err != nil {
			m.log.Error("emergency cleanup failed for camera",
				slog.String("camera_id", policy.CameraID),
				slog.Any("error", err))
			continue
		}

		status, err = m.disk.Sample(camCtx)
		if err != nil {
			return fmt.Errorf("re-sampling disk: %w", err)
		}
		m.recordEvent(camCtx, policy.CameraID, res, status)

		if status.UsedFraction < m.cfg.TargetThreshold {
			m.log.Info("disk usage back below target",
				slog.String("used", format.Percentage(status.UsedFraction*100, 1)),
				slog.String("freed", format.Bytes(res.freed)))
			return nil
		}
	}

	m.log.Warn("disk usage still above target after emergency cleanup",
		slog.String("used", format.Percentage(status.UsedFraction*100, 1)),
		slog.String("target", format.Percentage(m.cfg.TargetThreshold*100, 1)))
	return nil
}

func (m *Monitor) onCooldown(cameraID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastRun[cameraID]
	return ok && m.now().Sub(last) < m.cfg.CameraCooldown
}

func (m *Monitor) noteRun(cameraID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRun[cameraID] = m.now()
}

// recordEvent appends the emergency_cleanup entry to the recovery log so
// operators can reconstruct what disk pressure cost each camera.
func (m *Monitor) recordEvent(ctx context.Context, cameraID string, res cleanupResult, status *storage.DiskStatus) {
	event := &models.RecoveryEvent{
		CameraID:  cameraID,
		EventType: models.RecoveryEventEmergencyCleanup,
		Details: fmt.Sprintf("deleted=%d freed=%s used=%s",
			res.deleted, format.Bytes(res.freed), format.Percentage(status.UsedFraction*100, 1)),
	}
	if err := m.store.AppendRecovery(ctx, event); err != nil {
		m.log.Error("failed to record emergency cleanup",
			slog.String("camera_id", cameraID),
			slog.Any("error", err))
	}
}
