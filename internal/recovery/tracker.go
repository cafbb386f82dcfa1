// Package recovery tracks per-camera ingest errors and decides when a
// stream needs automatic recovery. The tracker holds the full per-error
// history in a bounded in-memory ring; lifecycle transitions (recovery
// triggered, stream recovered) are also mirrored to the persistent
// recovery log through the index store.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/nvarr/internal/models"
	"github.com/jmylchreest/nvarr/internal/observability"
)

// Defaults for the decision rule.
const (
	DefaultErrorWindow    = 60 * time.Second
	DefaultErrorThreshold = 5
	DefaultCooldown       = 30 * time.Second
	DefaultHistorySize    = 1000
)

// Config tunes the recovery decision rule.
type Config struct {
	// ErrorWindow is how long errors count toward the threshold.
	ErrorWindow time.Duration
	// ErrorThreshold is how many errors within the window trip recovery.
	ErrorThreshold int
	// Cooldown is the minimum spacing between recoveries of one camera.
	Cooldown time.Duration
	// HistorySize bounds the in-memory event ring.
	HistorySize int
}

func (c *Config) applyDefaults() {
	if c.ErrorWindow <= 0 {
		c.ErrorWindow = DefaultErrorWindow
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = DefaultErrorThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
}

// EventSink receives lifecycle transitions for persistence. The index
// store satisfies this; persistence is fire-and-forget via its write queue.
type EventSink interface {
	AppendRecovery(ctx context.Context, event *models.RecoveryEvent) error
}

// Event is one recorded ingest error.
type Event struct {
	CameraID    string     `json:"camera_id"`
	Class       string     `json:"class"`
	Message     string     `json:"message"`
	At          time.Time  `json:"at"`
	Recovered   bool       `json:"recovered"`
	RecoveredAt *time.Time `json:"recovered_at,omitempty"`
}

// Status is a point-in-time snapshot of one camera's error state.
type Status struct {
	CameraID       string     `json:"camera_id"`
	ErrorCount     int        `json:"error_count"`
	RecoveryCount  int        `json:"recovery_count"`
	LastErrorAt    *time.Time `json:"last_error_at,omitempty"`
	LastRecoveryAt *time.Time `json:"last_recovery_at,omitempty"`
	Healthy        bool       `json:"healthy"`
}

type cameraState struct {
	errorCount     int
	recoveryCount  int
	lastErrorAt    time.Time
	lastRecoveryAt time.Time
}

// Tracker applies the recovery decision rule per camera.
type Tracker struct {
	log  *slog.Logger
	sink EventSink
	cfg  Config

	mu      sync.Mutex
	cameras map[string]*cameraState
	// events is the bounded history ring, oldest first.
	events []*Event

	now func() time.Time
}

// New creates a Tracker. cameraIDs pre-seeds zeroed state so status
// listings include cameras that have never errored. sink may be nil.
func New(log *slog.Logger, sink EventSink, cfg Config, cameraIDs []string) *Tracker {
	cfg.applyDefaults()

	t := &Tracker{
		log:     observability.WithComponent(log, "recovery"),
		sink:    sink,
		cfg:     cfg,
		cameras: make(map[string]*cameraState),
		now:     time.Now,
	}
	for _, id := range cameraIDs {
		t.cameras[id] = &cameraState{}
	}
	return t
}

func (t *Tracker) state(cameraID string) *cameraState {
	st, ok := t.cameras[cameraID]
	if !ok {
		st = &cameraState{}
		t.cameras[cameraID] = st
	}
	return st
}

func (t *Tracker) appendEvent(ev *Event) {
	t.events = append(t.events, ev)
	if len(t.events) > t.cfg.HistorySize {
		t.events = t.events[len(t.events)-t.cfg.HistorySize:]
	}
}

// RecordError records one ingest error and reports whether the caller
// should run the recovery action now.
//
// Rule: an error arriving more than ErrorWindow after the previous one
// resets the count to 1 and never triggers. Otherwise the count grows;
// recovery triggers once count reaches ErrorThreshold, provided the last
// recovery is at least Cooldown ago.
func (t *Tracker) RecordError(ctx context.Context, cameraID, class, message string) bool {
	t.mu.Lock()

	now := t.now()
	st := t.state(cameraID)
	t.appendEvent(&Event{CameraID: cameraID, Class: class, Message: message, At: now})

	if !st.lastErrorAt.IsZero() && now.Sub(st.lastErrorAt) > t.cfg.ErrorWindow {
		st.errorCount = 1
		st.lastErrorAt = now
		t.mu.Unlock()

		t.log.Info("error window expired, count reset",
			slog.String("camera_id", cameraID),
			slog.String("class", class))
		return false
	}

	st.errorCount++
	st.lastErrorAt = now

	triggered := st.errorCount >= t.cfg.ErrorThreshold &&
		(st.lastRecoveryAt.IsZero() || now.Sub(st.lastRecoveryAt) >= t.cfg.Cooldown)
	if triggered {
		st.recoveryCount++
		st.lastRecoveryAt = now
	}
	count := st.errorCount
	t.mu.Unlock()

	if triggered {
		t.log.Warn("triggering auto-recovery",
			slog.String("camera_id", cameraID),
			slog.String("class", class),
			slog.String("message", message),
			slog.Int("error_count", count))
		t.persist(ctx, cameraID, models.RecoveryEventTriggered,
			fmt.Sprintf("class=%s count=%d message=%s", class, count, message))
	} else {
		t.log.Info("ingest error recorded",
			slog.String("camera_id", cameraID),
			slog.String("class", class),
			slog.Int("error_count", count),
			slog.Int("threshold", t.cfg.ErrorThreshold))
	}
	return triggered
}

// MarkRecovered resets the camera's error count after the first successful
// write following recovery and stamps the newest unrecovered ring event.
func (t *Tracker) MarkRecovered(ctx context.Context, cameraID string) {
	t.mu.Lock()
	now := t.now()
	for i := len(t.events) - 1; i >= 0; i-- {
		ev := t.events[i]
		if ev.CameraID == cameraID && !ev.Recovered {
			ev.Recovered = true
			recoveredAt := now
			ev.RecoveredAt = &recoveredAt
			break
		}
	}
	st := t.state(cameraID)
	st.errorCount = 0
	t.mu.Unlock()

	t.log.Info("recovery successful, error count reset",
		slog.String("camera_id", cameraID))
	t.persist(ctx, cameraID, models.RecoveryEventRecovered, "")
}

// persist mirrors a lifecycle transition to the recovery log.
func (t *Tracker) persist(ctx context.Context, cameraID string, eventType models.RecoveryEventType, details string) {
	if t.sink == nil {
		return
	}
	err := t.sink.AppendRecovery(ctx, &models.RecoveryEvent{
		CameraID:  cameraID,
		EventType: eventType,
		Details:   details,
	})
	if err != nil {
		observability.WithError(t.log, err).Warn("recovery event not persisted",
			slog.String("camera_id", cameraID),
			slog.String("event_type", string(eventType)))
	}
}

// Status returns the camera's current error state. Unknown cameras report
// a zeroed, healthy status.
func (t *Tracker) Status(cameraID string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.cameras[cameraID]
	if !ok {
		return Status{CameraID: cameraID, Healthy: true}
	}
	return t.statusLocked(cameraID, st)
}

// AllStatuses returns the state of every known camera.
func (t *Tracker) AllStatuses() []Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	statuses := make([]Status, 0, len(t.cameras))
	for id, st := range t.cameras {
		statuses = append(statuses, t.statusLocked(id, st))
	}
	return statuses
}

func (t *Tracker) statusLocked(cameraID string, st *cameraState) Status {
	status := Status{
		CameraID:      cameraID,
		ErrorCount:    st.errorCount,
		RecoveryCount: st.recoveryCount,
		Healthy:       st.errorCount == 0,
	}
	if !st.lastErrorAt.IsZero() {
		at := st.lastErrorAt
		status.LastErrorAt = &at
	}
	if !st.lastRecoveryAt.IsZero() {
		at := st.lastRecoveryAt
		status.LastRecoveryAt = &at
	}
	return status
}

// History returns recorded events, newest first. An empty cameraID matches
// all cameras; limit <= 0 falls back to 100.
func (t *Tracker) History(cameraID string, limit int) []Event {
	if limit <= 0 {
		limit = 100
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	history := make([]Event, 0, limit)
	for i := len(t.events) - 1; i >= 0 && len(history) < limit; i-- {
		ev := t.events[i]
		if cameraID != "" && ev.CameraID != cameraID {
			continue
		}
		history = append(history, *ev)
	}
	return history
}
