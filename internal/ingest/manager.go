package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmylchreest/nvarr/internal/config"
	"github.com/jmylchreest/nvarr/internal/observability"
)

// Manager runs one Writer goroutine per configured camera and exposes a
// combined status snapshot. Writers share a single gateway client,
// index store, archive, recovery tracker and init cache.
type Manager struct {
	mu sync.Mutex

	log     *slog.Logger
	deps    Deps
	writers []*Writer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager builds writers for every camera. Playlist URLs derive from
// the gateway client's base URL unless a camera configures an explicit
// override. A nil init cache in deps is replaced with a fresh one so the
// writers always share a cache.
func NewManager(log *slog.Logger, deps Deps, cameras []config.CameraConfig, ing config.IngestConfig) *Manager {
	if log == nil {
		log = slog.Default()
	}
	log = observability.WithComponent(log, "ingest")
	if deps.Inits == nil {
		deps.Inits = NewInitCache()
	}

	writers := make([]*Writer, 0, len(cameras))
	for i := range cameras {
		cam := &cameras[i]
		writers = append(writers, NewWriter(log, deps, WriterConfig{
			CameraID:          cam.ID,
			CameraName:        cam.DisplayName(),
			PlaylistURL:       cam.HLSURL(deps.Client.BaseURL()),
			PollInterval:      ing.PollInterval,
			NominalDurationMs: ing.SegmentDurationMs,
		}))
	}

	return &Manager{
		log:     log,
		deps:    deps,
		writers: writers,
	}
}

// Start launches every camera writer. It returns an error when the
// manager is already running or has no cameras to record.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx != nil {
		return fmt.Errorf("ingest manager already started")
	}
	if len(m.writers) == 0 {
		return fmt.Errorf("no cameras configured")
	}

	m.ctx, m.cancel = context.WithCancel(ctx)

	// Camera paths usually change while the recorder is down, so poke the
	// gateway before the first poll. Writers back off on their own if the
	// gateway is unreachable.
	if err := m.deps.Client.ReloadPaths(m.ctx); err != nil {
		m.log.Warn("gateway path reload failed", "error", err)
	}

	for _, w := range m.writers {
		m.wg.Add(1)
		go func(w *Writer) {
			defer m.wg.Done()
			w.Run(m.ctx)
		}(w)
	}

	m.log.Info("ingest manager started", "cameras", len(m.writers))
	return nil
}

// Stop cancels all writers and waits for them to finish their current
// tick. Safe to call when not running.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	m.ctx = nil
	m.cancel = nil
	m.mu.Unlock()

	m.log.Info("ingest manager stopped")
}

// Statuses returns a snapshot per camera, in configuration order.
func (m *Manager) Statuses() []Stats {
	out := make([]Stats, 0, len(m.writers))
	for _, w := range m.writers {
		out = append(out, w.Stats())
	}
	return out
}

// Status returns the snapshot for one camera.
func (m *Manager) Status(cameraID string) (Stats, bool) {
	for _, w := range m.writers {
		if w.cameraID == cameraID {
			return w.Stats(), true
		}
	}
	return Stats{}, false
}

// EvictInit drops a camera's cached init segment so the next tick
// refetches it. Used by operators after a gateway re-encode.
func (m *Manager) EvictInit(cameraID string) bool {
	return m.deps.Inits.Evict(cameraID)
}
