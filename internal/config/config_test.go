package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{Driver: "sqlite", LogLevel: "warn"},
		Storage:  StorageConfig{Root: "./recordings"},
		Gateway: GatewayConfig{
			BaseURL:         "http://127.0.0.1:8888",
			PlaylistTimeout: 5 * time.Second,
			SegmentTimeout:  10 * time.Second,
		},
		Ingest: IngestConfig{
			PollInterval:      500 * time.Millisecond,
			SegmentDurationMs: 3000,
			QueueSize:         10000,
		},
		Cameras: []CameraConfig{
			{ID: "cam1", Name: "Front Door"},
		},
		Retention: RetentionConfig{
			CleanupIntervalHours: 1,
			StartupGrace:         5 * time.Minute,
			Defaults: PolicyDefaults{
				RetentionDays:             30,
				MinFreeSpaceGB:            50,
				EmergencyCleanupThreshold: 0.90,
			},
		},
		Emergency: EmergencyConfig{
			SampleInterval:   30 * time.Second,
			TriggerThreshold: 0.90,
			TargetThreshold:  0.85,
			CameraCooldown:   5 * time.Minute,
		},
		Recovery: RecoveryConfig{
			ErrorWindow:    60 * time.Second,
			ErrorThreshold: 5,
			Cooldown:       30 * time.Second,
		},
	}
}

func TestLoad_Defaults(t *testing.T) {
	// Load without config file should use defaults
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Database defaults
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)

	// Storage defaults
	assert.Equal(t, "./recordings", cfg.Storage.Root)

	// Gateway defaults
	assert.Equal(t, "http://127.0.0.1:8888", cfg.Gateway.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Gateway.PlaylistTimeout)
	assert.Equal(t, 10*time.Second, cfg.Gateway.SegmentTimeout)
	assert.Equal(t, int64(256*1024), cfg.Gateway.MaxPlaylistBytes.Bytes())

	// Ingest defaults
	assert.Equal(t, 500*time.Millisecond, cfg.Ingest.PollInterval)
	assert.Equal(t, 3000, cfg.Ingest.SegmentDurationMs)
	assert.Equal(t, 10000, cfg.Ingest.QueueSize)

	// Retention defaults
	assert.Equal(t, 1, cfg.Retention.CleanupIntervalHours)
	assert.Equal(t, 5*time.Minute, cfg.Retention.StartupGrace)
	assert.Equal(t, 30, cfg.Retention.Defaults.RetentionDays)

	// Emergency defaults
	assert.Equal(t, 30*time.Second, cfg.Emergency.SampleInterval)
	assert.InDelta(t, 0.90, cfg.Emergency.TriggerThreshold, 0.001)
	assert.InDelta(t, 0.85, cfg.Emergency.TargetThreshold, 0.001)

	// Recovery defaults
	assert.Equal(t, 60*time.Second, cfg.Recovery.ErrorWindow)
	assert.Equal(t, 5, cfg.Recovery.ErrorThreshold)
	assert.Equal(t, 30*time.Second, cfg.Recovery.Cooldown)

	// Reconcile defaults
	assert.True(t, cfg.Reconcile.OnStartup)
	assert.Equal(t, 100, cfg.Reconcile.OrphanBatchLimit)

	// Scanner defaults
	assert.False(t, cfg.Scanner.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Scanner.Interval)
}

func TestLoad_FromFile(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
storage:
  root: "/srv/recordings"

gateway:
  base_url: "http://gateway:8888"
  playlist_timeout: 2s
  max_playlist_bytes: "512KB"

ingest:
  poll_interval: 250ms
  segment_duration_ms: 2500

cameras:
  - id: cam1
    name: "Front Door"
  - id: cam2

logging:
  level: "debug"
  format: "text"

scanner:
  enabled: true
  root: "/srv/mediamtx"
  interval: 15s
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Check file values were loaded
	assert.Equal(t, "/srv/recordings", cfg.Storage.Root)
	assert.Equal(t, "http://gateway:8888", cfg.Gateway.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Gateway.PlaylistTimeout)
	assert.Equal(t, int64(512*1024), cfg.Gateway.MaxPlaylistBytes.Bytes())
	assert.Equal(t, 250*time.Millisecond, cfg.Ingest.PollInterval)
	assert.Equal(t, 2500, cfg.Ingest.SegmentDurationMs)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.True(t, cfg.Scanner.Enabled)
	assert.Equal(t, "/srv/mediamtx", cfg.Scanner.Root)
	assert.Equal(t, 15*time.Second, cfg.Scanner.Interval)

	require.Len(t, cfg.Cameras, 2)
	assert.Equal(t, "cam1", cfg.Cameras[0].ID)
	assert.Equal(t, "Front Door", cfg.Cameras[0].Name)
	assert.Equal(t, "cam2", cfg.Cameras[1].ID)
}

func TestLoad_EnvOverride(t *testing.T) {
	// Set environment variables
	t.Setenv("NVARR_STORAGE_ROOT", "/mnt/archive")
	t.Setenv("NVARR_DATABASE_DRIVER", "postgres")
	t.Setenv("NVARR_DATABASE_DSN", "postgres://localhost/nvarr")
	t.Setenv("NVARR_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Check env overrides
	assert.Equal(t, "/mnt/archive", cfg.Storage.Root)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/nvarr", cfg.Database.DSN)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
storage:
  root: "/srv/recordings"
logging:
  level: "info"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	// Set env var to override file
	t.Setenv("NVARR_LOGGING_LEVEL", "debug")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Env should override file
	assert.Equal(t, "debug", cfg.Logging.Level)
	// File value should be preserved
	assert.Equal(t, "/srv/recordings", cfg.Storage.Root)
}

func TestNormalize_ClampsRanges(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		check  func(*testing.T, *Config)
	}{
		{
			"segment duration below floor",
			func(c *Config) { c.Ingest.SegmentDurationMs = 1000 },
			func(t *testing.T, c *Config) { assert.Equal(t, 2000, c.Ingest.SegmentDurationMs) },
		},
		{
			"segment duration above ceiling",
			func(c *Config) { c.Ingest.SegmentDurationMs = 9000 },
			func(t *testing.T, c *Config) { assert.Equal(t, 4000, c.Ingest.SegmentDurationMs) },
		},
		{
			"retention days below floor",
			func(c *Config) { c.Retention.Defaults.RetentionDays = 1 },
			func(t *testing.T, c *Config) { assert.Equal(t, 7, c.Retention.Defaults.RetentionDays) },
		},
		{
			"retention days above ceiling",
			func(c *Config) { c.Retention.Defaults.RetentionDays = 400 },
			func(t *testing.T, c *Config) { assert.Equal(t, 90, c.Retention.Defaults.RetentionDays) },
		},
		{
			"min free space clamped",
			func(c *Config) { c.Retention.Defaults.MinFreeSpaceGB = 5 },
			func(t *testing.T, c *Config) { assert.Equal(t, 10, c.Retention.Defaults.MinFreeSpaceGB) },
		},
		{
			"threshold clamped low",
			func(c *Config) { c.Retention.Defaults.EmergencyCleanupThreshold = 0.5 },
			func(t *testing.T, c *Config) {
				assert.InDelta(t, 0.80, c.Retention.Defaults.EmergencyCleanupThreshold, 0.001)
			},
		},
		{
			"threshold clamped high",
			func(c *Config) { c.Retention.Defaults.EmergencyCleanupThreshold = 1.0 },
			func(t *testing.T, c *Config) {
				assert.InDelta(t, 0.99, c.Retention.Defaults.EmergencyCleanupThreshold, 0.001)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.modify(cfg)
			cfg.Normalize()
			tt.check(t, cfg)
		})
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validTestConfig()
	err := cfg.Validate()
	assert.NoError(t, err)
}

func TestValidate_InvalidDriver(t *testing.T) {
	cfg := validTestConfig()
	cfg.Database.Driver = "invalid"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
}

func TestValidate_MissingDSN(t *testing.T) {
	cfg := validTestConfig()
	cfg.Database.Driver = "postgres"
	cfg.Database.DSN = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn")
}

func TestValidate_EmptyStorageRoot(t *testing.T) {
	cfg := validTestConfig()
	cfg.Storage.Root = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "storage.root")
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validTestConfig()
	cfg.Logging.Level = "invalid"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := validTestConfig()
	cfg.Logging.Format = "xml"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestValidate_CameraIDs(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		errContains string
	}{
		{"empty id", func(c *Config) { c.Cameras = append(c.Cameras, CameraConfig{ID: ""}) }, "cameras[].id"},
		{"path separator", func(c *Config) { c.Cameras = append(c.Cameras, CameraConfig{ID: "a/b"}) }, "path separators"},
		{"backslash", func(c *Config) { c.Cameras = append(c.Cameras, CameraConfig{ID: `a\b`}) }, "path separators"},
		{"dot dot", func(c *Config) { c.Cameras = append(c.Cameras, CameraConfig{ID: ".."}) }, "path separators"},
		{"duplicate", func(c *Config) { c.Cameras = append(c.Cameras, CameraConfig{ID: "cam1"}) }, "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestValidate_GatewayBaseURL(t *testing.T) {
	cfg := validTestConfig()
	cfg.Gateway.BaseURL = "ftp://gateway.local"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "gateway.base_url")

	// Scheme-less values are normalized before dialing, so they validate.
	cfg.Gateway.BaseURL = "gateway.local:8888"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_CameraURLOverride(t *testing.T) {
	cfg := validTestConfig()
	cfg.Cameras = append(cfg.Cameras, CameraConfig{ID: "ext", URL: "/relative/stream.m3u8"})
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cameras[ext].url")

	cfg = validTestConfig()
	cfg.Cameras = append(cfg.Cameras, CameraConfig{ID: "ext", URL: "http://other:9000/stream.m3u8"})
	assert.NoError(t, cfg.Validate())
}

func TestValidate_EmergencyThresholds(t *testing.T) {
	cfg := validTestConfig()
	cfg.Emergency.TargetThreshold = 0.95
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "target_threshold")
}

func TestValidate_ScannerRoot(t *testing.T) {
	cfg := validTestConfig()
	cfg.Scanner.Enabled = true
	cfg.Scanner.Root = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "scanner.root")
}

func TestCameraConfig_HLSURL(t *testing.T) {
	tests := []struct {
		name     string
		camera   CameraConfig
		base     string
		expected string
	}{
		{"derived", CameraConfig{ID: "cam1"}, "http://gw:8888", "http://gw:8888/cam1/index.m3u8"},
		{"trailing slash base", CameraConfig{ID: "cam1"}, "http://gw:8888/", "http://gw:8888/cam1/index.m3u8"},
		{"explicit override", CameraConfig{ID: "cam1", URL: "http://other/x.m3u8"}, "http://gw:8888", "http://other/x.m3u8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.camera.HLSURL(tt.base))
		})
	}
}

func TestCameraConfig_DisplayName(t *testing.T) {
	assert.Equal(t, "Front Door", (&CameraConfig{ID: "cam1", Name: "Front Door"}).DisplayName())
	assert.Equal(t, "cam1", (&CameraConfig{ID: "cam1"}).DisplayName())
}

func TestDatabaseConfig_DatabasePath(t *testing.T) {
	cfg := &DatabaseConfig{}
	assert.Equal(t, filepath.Join("/srv/recordings", "recordings.db"), cfg.DatabasePath("/srv/recordings"))

	cfg.Path = "/var/lib/nvarr/index.db"
	assert.Equal(t, "/var/lib/nvarr/index.db", cfg.DatabasePath("/srv/recordings"))
}

func TestLoad_NonExistentFile(t *testing.T) {
	// Specifying a non-existent file should fail
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestConfig_AllDrivers(t *testing.T) {
	drivers := []string{"sqlite", "postgres", "mysql"}

	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			cfg := validTestConfig()
			cfg.Database.Driver = driver
			cfg.Database.DSN = "host=localhost"
			err := cfg.Validate()
			assert.NoError(t, err)
		})
	}
}
