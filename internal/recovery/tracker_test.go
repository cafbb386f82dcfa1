package recovery

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/nvarr/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memorySink captures persisted lifecycle transitions.
type memorySink struct {
	mu     sync.Mutex
	events []*models.RecoveryEvent
}

func (s *memorySink) AppendRecovery(_ context.Context, event *models.RecoveryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memorySink) byType(eventType models.RecoveryEventType) []*models.RecoveryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.RecoveryEvent
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// newTestTracker returns a tracker with a controllable clock.
func newTestTracker(sink EventSink, cfg Config) (*Tracker, *time.Time) {
	tr := New(testLogger(), sink, cfg, []string{"front-door"})
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestTracker_TriggersAtThreshold(t *testing.T) {
	sink := &memorySink{}
	tr, clock := newTestTracker(sink, Config{})
	ctx := context.Background()

	// Errors 1-4 within the window: no trigger.
	for i := 0; i < 4; i++ {
		*clock = clock.Add(time.Second)
		assert.False(t, tr.RecordError(ctx, "front-door", "timeout", "read timeout"))
	}

	// Fifth error trips recovery.
	*clock = clock.Add(time.Second)
	assert.True(t, tr.RecordError(ctx, "front-door", "timeout", "read timeout"))

	status := tr.Status("front-door")
	assert.Equal(t, 5, status.ErrorCount)
	assert.Equal(t, 1, status.RecoveryCount)
	assert.False(t, status.Healthy)

	triggered := sink.byType(models.RecoveryEventTriggered)
	require.Len(t, triggered, 1)
	assert.Equal(t, "front-door", triggered[0].CameraID)
	assert.Contains(t, triggered[0].Details, "class=timeout")
	assert.Contains(t, triggered[0].Details, "count=5")
}

func TestTracker_WindowExpiryResetsCount(t *testing.T) {
	tr, clock := newTestTracker(nil, Config{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		*clock = clock.Add(time.Second)
		tr.RecordError(ctx, "front-door", "timeout", "x")
	}
	assert.Equal(t, 4, tr.Status("front-door").ErrorCount)

	// A gap beyond the window resets to 1 and never triggers.
	*clock = clock.Add(61 * time.Second)
	assert.False(t, tr.RecordError(ctx, "front-door", "timeout", "x"))
	assert.Equal(t, 1, tr.Status("front-door").ErrorCount)

	// Four more errors now reach the threshold again.
	for i := 0; i < 3; i++ {
		*clock = clock.Add(time.Second)
		assert.False(t, tr.RecordError(ctx, "front-door", "timeout", "x"))
	}
	*clock = clock.Add(time.Second)
	assert.True(t, tr.RecordError(ctx, "front-door", "timeout", "x"))
}

func TestTracker_CooldownBlocksRetrigger(t *testing.T) {
	tr, clock := newTestTracker(nil, Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		*clock = clock.Add(time.Second)
		tr.RecordError(ctx, "front-door", "write_failure", "disk error")
	}
	assert.Equal(t, 1, tr.Status("front-door").RecoveryCount)

	// More errors inside the cooldown keep counting without retriggering.
	for i := 0; i < 10; i++ {
		*clock = clock.Add(time.Second)
		assert.False(t, tr.RecordError(ctx, "front-door", "write_failure", "disk error"))
	}

	// Past the cooldown, the (still above threshold) count triggers again.
	*clock = clock.Add(30 * time.Second)
	assert.True(t, tr.RecordError(ctx, "front-door", "write_failure", "disk error"))
	assert.Equal(t, 2, tr.Status("front-door").RecoveryCount)
}

func TestTracker_MarkRecovered(t *testing.T) {
	sink := &memorySink{}
	tr, clock := newTestTracker(sink, Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		*clock = clock.Add(time.Second)
		tr.RecordError(ctx, "front-door", "timeout", "x")
	}
	require.False(t, tr.Status("front-door").Healthy)

	*clock = clock.Add(5 * time.Second)
	tr.MarkRecovered(ctx, "front-door")

	status := tr.Status("front-door")
	assert.Zero(t, status.ErrorCount)
	assert.True(t, status.Healthy)
	assert.Equal(t, 1, status.RecoveryCount, "recovery count survives reset")

	// Newest ring event carries the recovery stamp.
	history := tr.History("front-door", 1)
	require.Len(t, history, 1)
	assert.True(t, history[0].Recovered)
	require.NotNil(t, history[0].RecoveredAt)

	recovered := sink.byType(models.RecoveryEventRecovered)
	require.Len(t, recovered, 1)
	assert.Equal(t, "front-door", recovered[0].CameraID)
}

func TestTracker_CamerasIsolated(t *testing.T) {
	tr, clock := newTestTracker(nil, Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		*clock = clock.Add(time.Second)
		tr.RecordError(ctx, "front-door", "timeout", "x")
	}
	*clock = clock.Add(time.Second)
	assert.False(t, tr.RecordError(ctx, "backyard", "timeout", "x"),
		"one camera's errors never count against another")

	assert.Equal(t, 1, tr.Status("backyard").ErrorCount)
	assert.Equal(t, 5, tr.Status("front-door").ErrorCount)
}

func TestTracker_History(t *testing.T) {
	tr, clock := newTestTracker(nil, Config{HistorySize: 10})
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		*clock = clock.Add(time.Second)
		camera := "front-door"
		if i%3 == 0 {
			camera = "backyard"
		}
		tr.RecordError(ctx, camera, "timeout", "x")
	}

	all := tr.History("", 0)
	assert.Len(t, all, 10, "ring capped at HistorySize")
	assert.True(t, all[0].At.After(all[len(all)-1].At), "newest first")

	scoped := tr.History("backyard", 0)
	for _, ev := range scoped {
		assert.Equal(t, "backyard", ev.CameraID)
	}

	limited := tr.History("", 3)
	assert.Len(t, limited, 3)
}

func TestTracker_StatusUnknownCamera(t *testing.T) {
	tr, _ := newTestTracker(nil, Config{})

	status := tr.Status("never-seen")
	assert.True(t, status.Healthy)
	assert.Zero(t, status.ErrorCount)
	assert.Nil(t, status.LastErrorAt)
}

func TestTracker_AllStatusesIncludesSeeded(t *testing.T) {
	tr := New(testLogger(), nil, Config{}, []string{"front-door", "backyard"})

	statuses := tr.AllStatuses()
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		assert.True(t, st.Healthy)
	}
}
