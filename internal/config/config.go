// Package config provides configuration management for nvarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/jmylchreest/nvarr/internal/urlutil"
)

// Default configuration values.
const (
	defaultSegmentDurationMs  = 3000
	minSegmentDurationMs      = 2000
	maxSegmentDurationMs      = 4000
	defaultPollInterval       = 500 * time.Millisecond
	defaultQueueSize          = 10000
	defaultPlaylistTimeout    = 5 * time.Second
	defaultSegmentTimeout     = 10 * time.Second
	defaultMaxPlaylistBytes   = 256 * 1024
	defaultMaxSegmentBytes    = 64 * 1024 * 1024
	defaultRetentionDays      = 30
	minRetentionDays          = 7
	maxRetentionDays          = 90
	defaultMinFreeSpaceGB     = 50
	minFreeSpaceGBFloor       = 10
	minFreeSpaceGBCeil        = 500
	defaultCleanupThreshold   = 0.90
	minCleanupThreshold       = 0.80
	maxCleanupThreshold       = 0.99
	defaultCleanupIntervalHrs = 1
	defaultStartupGrace       = 5 * time.Minute
	defaultSampleInterval     = 30 * time.Second
	defaultTargetThreshold    = 0.85
	defaultCameraCooldown     = 5 * time.Minute
	defaultOrphanBatchLimit   = 100
	defaultErrorWindow        = 60 * time.Second
	defaultErrorThreshold     = 5
	defaultRecoveryCooldown   = 30 * time.Second
	defaultScanInterval       = 30 * time.Second
	defaultMaxOpenConns       = 25
	defaultMaxIdleConns       = 10
	defaultConnMaxIdleTime    = 30 * time.Minute
)

// Config holds all configuration for the application.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Cameras   []CameraConfig  `mapstructure:"cameras"`
	Retention RetentionConfig `mapstructure:"retention"`
	Emergency EmergencyConfig `mapstructure:"emergency"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Recovery  RecoveryConfig  `mapstructure:"recovery"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	Path            string        `mapstructure:"path"`   // sqlite file path; empty = <storage.root>/recordings.db
	DSN             string        `mapstructure:"dsn"`    // postgres/mysql connection string
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds the recording archive location.
type StorageConfig struct {
	Root string `mapstructure:"root"`
}

// GatewayConfig holds media-gateway HTTP client configuration.
type GatewayConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	PlaylistTimeout  time.Duration `mapstructure:"playlist_timeout"`
	SegmentTimeout   time.Duration `mapstructure:"segment_timeout"`
	MaxPlaylistBytes ByteSize      `mapstructure:"max_playlist_bytes"`
	MaxSegmentBytes  ByteSize      `mapstructure:"max_segment_bytes"`
}

// IngestConfig holds per-camera recording loop configuration.
type IngestConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	SegmentDurationMs int           `mapstructure:"segment_duration_ms"`
	QueueSize         int           `mapstructure:"queue_size"`
}

// CameraConfig identifies one recorded camera.
type CameraConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
	// URL overrides the gateway-derived playlist URL when set.
	URL string `mapstructure:"url"`
}

// HLSURL returns the playlist URL for this camera, deriving it from the
// gateway base URL unless an explicit override is configured.
func (c *CameraConfig) HLSURL(gatewayBase string) string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("%s/%s/index.m3u8", strings.TrimSuffix(gatewayBase, "/"), c.ID)
}

// DisplayName returns the camera name, falling back to the id.
func (c *CameraConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// RetentionConfig holds the scheduled cleanup configuration.
type RetentionConfig struct {
	CleanupIntervalHours int            `mapstructure:"cleanup_interval_hours"`
	StartupGrace         time.Duration  `mapstructure:"startup_grace"`
	Defaults             PolicyDefaults `mapstructure:"defaults"`
}

// PolicyDefaults seeds retention policies for cameras without one.
type PolicyDefaults struct {
	RetentionDays             int     `mapstructure:"retention_days"`
	MinFreeSpaceGB            int     `mapstructure:"min_free_space_gb"`
	EmergencyCleanupThreshold float64 `mapstructure:"emergency_cleanup_threshold"`
}

// EmergencyConfig holds the disk-pressure cleanup configuration.
type EmergencyConfig struct {
	SampleInterval   time.Duration `mapstructure:"sample_interval"`
	TriggerThreshold float64       `mapstructure:"trigger_threshold"`
	TargetThreshold  float64       `mapstructure:"target_threshold"`
	CameraCooldown   time.Duration `mapstructure:"camera_cooldown"`
}

// ReconcileConfig holds orphan reconciliation configuration.
type ReconcileConfig struct {
	OnStartup        bool     `mapstructure:"on_startup"`
	Interval         Duration `mapstructure:"interval"` // 0 disables periodic runs
	OrphanBatchLimit int      `mapstructure:"orphan_batch_limit"`
	// SpotCheckInterval paces the lightweight integrity spot check of
	// recent segments; 0 disables it.
	SpotCheckInterval Duration `mapstructure:"spot_check_interval"`
}

// RecoveryConfig holds error-tracking thresholds.
type RecoveryConfig struct {
	ErrorWindow    time.Duration `mapstructure:"error_window"`
	ErrorThreshold int           `mapstructure:"error_threshold"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
}

// ScannerConfig holds external recorder tree scanning configuration.
type ScannerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Root     string        `mapstructure:"root"`
	Interval time.Duration `mapstructure:"interval"`
}

// PlaybackConfig holds playlist synthesis configuration.
type PlaybackConfig struct {
	// BaseURL prefixes segment URIs in synthesized playlists.
	BaseURL string `mapstructure:"base_url"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with NVARR_ and use underscores for nesting.
// Example: NVARR_STORAGE_ROOT=/srv/recordings.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/nvarr")
		v.AddConfigPath("$HOME/.nvarr")
	}

	// Environment variable settings
	v.SetEnvPrefix("NVARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	// Duration and ByteSize fields accept human-readable strings ("30s",
	// "256KB") from files and env vars via their TextUnmarshaler.
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.root", "./recordings")

	// Gateway defaults
	v.SetDefault("gateway.base_url", "http://127.0.0.1:8888")
	v.SetDefault("gateway.playlist_timeout", defaultPlaylistTimeout)
	v.SetDefault("gateway.segment_timeout", defaultSegmentTimeout)
	v.SetDefault("gateway.max_playlist_bytes", defaultMaxPlaylistBytes)
	v.SetDefault("gateway.max_segment_bytes", defaultMaxSegmentBytes)

	// Ingest defaults
	v.SetDefault("ingest.poll_interval", defaultPollInterval)
	v.SetDefault("ingest.segment_duration_ms", defaultSegmentDurationMs)
	v.SetDefault("ingest.queue_size", defaultQueueSize)

	// Retention defaults
	v.SetDefault("retention.cleanup_interval_hours", defaultCleanupIntervalHrs)
	v.SetDefault("retention.startup_grace", defaultStartupGrace)
	v.SetDefault("retention.defaults.retention_days", defaultRetentionDays)
	v.SetDefault("retention.defaults.min_free_space_gb", defaultMinFreeSpaceGB)
	v.SetDefault("retention.defaults.emergency_cleanup_threshold", defaultCleanupThreshold)

	// Emergency cleanup defaults
	v.SetDefault("emergency.sample_interval", defaultSampleInterval)
	v.SetDefault("emergency.trigger_threshold", defaultCleanupThreshold)
	v.SetDefault("emergency.target_threshold", defaultTargetThreshold)
	v.SetDefault("emergency.camera_cooldown", defaultCameraCooldown)

	// Reconciliation defaults
	v.SetDefault("reconcile.on_startup", true)
	v.SetDefault("reconcile.interval", "0s")
	v.SetDefault("reconcile.orphan_batch_limit", defaultOrphanBatchLimit)
	v.SetDefault("reconcile.spot_check_interval", "300s")

	// Recovery tracking defaults
	v.SetDefault("recovery.error_window", defaultErrorWindow)
	v.SetDefault("recovery.error_threshold", defaultErrorThreshold)
	v.SetDefault("recovery.cooldown", defaultRecoveryCooldown)

	// Scanner defaults
	v.SetDefault("scanner.enabled", false)
	v.SetDefault("scanner.root", "")
	v.SetDefault("scanner.interval", defaultScanInterval)

	// Playback defaults
	v.SetDefault("playback.base_url", "")
}

// Normalize clamps out-of-range numeric values to their contract bounds.
// The recording contract treats these as clamped knobs, not hard errors.
func (c *Config) Normalize() {
	c.Ingest.SegmentDurationMs = clampInt(c.Ingest.SegmentDurationMs, minSegmentDurationMs, maxSegmentDurationMs)
	c.Retention.Defaults.RetentionDays = clampInt(c.Retention.Defaults.RetentionDays, minRetentionDays, maxRetentionDays)
	c.Retention.Defaults.MinFreeSpaceGB = clampInt(c.Retention.Defaults.MinFreeSpaceGB, minFreeSpaceGBFloor, minFreeSpaceGBCeil)
	c.Retention.Defaults.EmergencyCleanupThreshold = clampFloat(c.Retention.Defaults.EmergencyCleanupThreshold, minCleanupThreshold, maxCleanupThreshold)

	if c.Ingest.PollInterval <= 0 {
		c.Ingest.PollInterval = defaultPollInterval
	}
	if c.Ingest.QueueSize < 1 {
		c.Ingest.QueueSize = defaultQueueSize
	}
	if c.Retention.CleanupIntervalHours < 1 {
		c.Retention.CleanupIntervalHours = defaultCleanupIntervalHrs
	}
	if c.Reconcile.OrphanBatchLimit < 1 {
		c.Reconcile.OrphanBatchLimit = defaultOrphanBatchLimit
	}
	if c.Reconcile.SpotCheckInterval < 0 {
		c.Reconcile.SpotCheckInterval = 0
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.Driver != "sqlite" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
	}

	// Storage validation
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}

	// Gateway validation. Scheme-less values are accepted because the
	// client normalizes them the same way before dialing.
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	gatewayURL := c.Gateway.BaseURL
	if !strings.Contains(gatewayURL, "://") {
		gatewayURL = urlutil.NormalizeBaseURL(gatewayURL)
	}
	if err := urlutil.ValidateURL(gatewayURL); err != nil {
		return fmt.Errorf("gateway.base_url: %w", err)
	}

	// Logging validation
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Camera validation: ids become directory names under the storage root,
	// so anything path-like is rejected.
	seen := make(map[string]bool, len(c.Cameras))
	for _, cam := range c.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("cameras[].id is required")
		}
		if strings.ContainsAny(cam.ID, `/\`) || cam.ID == "." || cam.ID == ".." {
			return fmt.Errorf("cameras[].id %q must not contain path separators", cam.ID)
		}
		if seen[cam.ID] {
			return fmt.Errorf("duplicate camera id %q", cam.ID)
		}
		seen[cam.ID] = true
		// Overrides are polled directly, so they must be absolute URLs.
		if cam.URL != "" {
			if err := urlutil.ValidateURL(cam.URL); err != nil {
				return fmt.Errorf("cameras[%s].url: %w", cam.ID, err)
			}
		}
	}

	// Emergency threshold ordering
	if c.Emergency.TargetThreshold >= c.Emergency.TriggerThreshold {
		return fmt.Errorf("emergency.target_threshold must be below emergency.trigger_threshold")
	}
	if c.Emergency.TriggerThreshold > maxCleanupThreshold {
		return fmt.Errorf("emergency.trigger_threshold must not exceed %v", maxCleanupThreshold)
	}

	// Recovery validation
	if c.Recovery.ErrorThreshold < 1 {
		return fmt.Errorf("recovery.error_threshold must be at least 1")
	}
	if c.Recovery.ErrorWindow <= 0 {
		return fmt.Errorf("recovery.error_window must be positive")
	}

	// Scanner validation
	if c.Scanner.Enabled && c.Scanner.Root == "" {
		return fmt.Errorf("scanner.root is required when scanner.enabled is true")
	}

	return nil
}

// DatabasePath returns the sqlite database file path, defaulting to a file
// inside the storage root.
func (c *DatabaseConfig) DatabasePath(storageRoot string) string {
	if c.Path != "" {
		return c.Path
	}
	return filepath.Join(storageRoot, "recordings.db")
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
