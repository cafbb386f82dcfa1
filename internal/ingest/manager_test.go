package ingest

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/nvarr/internal/config"
	"github.com/jmylchreest/nvarr/internal/gateway"
	"github.com/jmylchreest/nvarr/internal/recovery"
	"github.com/jmylchreest/nvarr/internal/storage"
)

func TestNewManager_DerivesPlaylistURLs(t *testing.T) {
	client := gateway.New(testLogger(), gateway.Config{BaseURL: "http://gw.local:8888"})

	m := NewManager(testLogger(), Deps{Client: client}, []config.CameraConfig{
		{ID: "front-door", Name: "Front Door"},
		{ID: "garage", URL: "http://other:9000/custom/stream.m3u8"},
	}, config.IngestConfig{})

	require.Len(t, m.writers, 2)
	assert.Equal(t, "http://gw.local:8888/front-door/index.m3u8", m.writers[0].playlistURL)
	assert.Equal(t, "Front Door", m.writers[0].cameraName)
	assert.Equal(t, "http://other:9000/custom/stream.m3u8", m.writers[1].playlistURL)
	assert.Equal(t, "garage", m.writers[1].cameraName)
	assert.NotNil(t, m.deps.Inits)
}

func TestManager_StartStop(t *testing.T) {
	gw := newFakeGateway()
	srv := httptest.NewServer(gw.handler())
	t.Cleanup(srv.Close)

	gw.setString("/front-door/index.m3u8", mediaPlaylist(0, "", "fd_seg0.mp4"))
	gw.set("/front-door/fd_seg0.mp4", []byte("fd0"))
	gw.setString("/garage/index.m3u8", mediaPlaylist(0, "", "ga_seg0.mp4"))
	gw.set("/garage/ga_seg0.mp4", []byte("ga0"))

	store := setupStore(t)
	arch, err := storage.NewArchive(t.TempDir())
	require.NoError(t, err)
	tracker := recovery.New(testLogger(), store, recovery.Config{}, []string{"front-door", "garage"})
	client := gateway.New(testLogger(), gateway.Config{
		BaseURL:       srv.URL,
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
	})

	m := NewManager(testLogger(), Deps{
		Client:  client,
		Store:   store,
		Archive: arch,
		Tracker: tracker,
	}, []config.CameraConfig{
		{ID: "front-door"},
		{ID: "garage"},
	}, config.IngestConfig{
		PollInterval:      2 * time.Millisecond,
		SegmentDurationMs: 3000,
	})

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	assert.Error(t, m.Start(ctx), "second start must fail while running")

	// Start pokes the gateway to re-read camera paths; the fake answers
	// 404, which must not block startup.
	assert.GreaterOrEqual(t, gw.hitCount("/v3/config/paths/reload"), 1)

	require.Eventually(t, func() bool {
		stats := m.Statuses()
		return len(stats) == 2 &&
			stats[0].SegmentsRecorded >= 1 &&
			stats[1].SegmentsRecorded >= 1
	}, 2*time.Second, time.Millisecond)

	st, ok := m.Status("garage")
	require.True(t, ok)
	assert.Equal(t, "garage", st.CameraID)
	assert.True(t, st.Recording)

	_, ok = m.Status("unknown")
	assert.False(t, ok)

	m.Stop()
	for _, st := range m.Statuses() {
		assert.False(t, st.Recording)
	}

	// A stopped manager can start again.
	require.NoError(t, m.Start(ctx))
	m.Stop()
}

func TestManager_StartWithoutCameras(t *testing.T) {
	client := gateway.New(testLogger(), gateway.Config{BaseURL: "http://gw"})
	m := NewManager(testLogger(), Deps{Client: client}, nil, config.IngestConfig{})
	assert.Error(t, m.Start(context.Background()))
}

func TestManager_EvictInit(t *testing.T) {
	client := gateway.New(testLogger(), gateway.Config{BaseURL: "http://gw"})
	inits := NewInitCache()
	m := NewManager(testLogger(), Deps{Client: client, Inits: inits},
		[]config.CameraConfig{{ID: "cam"}}, config.IngestConfig{})

	inits.Put("cam", []byte{0x01}, nil)
	assert.True(t, m.EvictInit("cam"))
	assert.False(t, m.EvictInit("cam"))
	assert.False(t, inits.Has("cam"))
}
