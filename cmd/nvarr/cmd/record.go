package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/nvarr/internal/database"
	"github.com/jmylchreest/nvarr/internal/database/migrations"
	"github.com/jmylchreest/nvarr/internal/gateway"
	"github.com/jmylchreest/nvarr/internal/index"
	"github.com/jmylchreest/nvarr/internal/ingest"
	"github.com/jmylchreest/nvarr/internal/reconcile"
	"github.com/jmylchreest/nvarr/internal/recovery"
	"github.com/jmylchreest/nvarr/internal/retention"
	"github.com/jmylchreest/nvarr/internal/scanner"
	"github.com/jmylchreest/nvarr/internal/scheduler"
	"github.com/jmylchreest/nvarr/internal/startup"
	"github.com/jmylchreest/nvarr/internal/storage"
	"github.com/jmylchreest/nvarr/internal/version"
	"github.com/jmylchreest/nvarr/pkg/format"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Run the recorder daemon",
	Long: `Run the recorder daemon until interrupted.

The daemon polls every configured camera's HLS playlist, writes completed
segments into the archive, indexes them, and runs the retention sweeps,
the disk-pressure monitor, and the disk/index reconciler on schedule.
Shutdown via SIGINT/SIGTERM finishes in-flight writes and drains the
index queue before exiting.`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := initLogger(cfg)

	logger.Info("starting recorder",
		slog.String("version", version.Version),
		slog.Int("cameras", len(cfg.Cameras)),
		slog.String("storage_root", cfg.Storage.Root),
		slog.String("gateway", cfg.Gateway.BaseURL))

	// The archive root comes first: everything else hangs off it.
	archive, err := storage.NewArchive(cfg.Storage.Root)
	if err != nil {
		return fmt.Errorf("initializing archive: %w", err)
	}

	// Sweep crash residue from interrupted atomic writes before the
	// reconciler walks the tree.
	if removed, err := startup.CleanupStaleTempFiles(logger, archive.Root(), startup.DefaultCleanupAge); err != nil {
		logger.Warn("startup temp sweep failed", slog.Any("error", err))
	} else if removed > 0 {
		logger.Info("startup temp sweep removed stale files", slog.Int("removed", removed))
	}

	// Database and schema migrations. The sqlite file defaults to living
	// inside the storage root so the archive is self-contained.
	dbCfg := cfg.Database
	if dbCfg.Driver == "sqlite" {
		dbCfg.Path = dbCfg.DatabasePath(cfg.Storage.Root)
	}
	db, err := database.New(dbCfg, logger, nil)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing database", slog.Any("error", err))
		}
	}()

	// Root context, canceled by the first shutdown signal. Created before
	// migrations so a long migration can still be interrupted.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	migrator := migrations.New(db.DB, logger, migrations.All())
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	db.StartStatsMonitor(ctx)

	// The index store is the single writer over the recording schema.
	// Close is idempotent; the defer covers early error returns and the
	// shutdown path closes it explicitly in the right order.
	store := index.New(logger, db.DB, index.Options{QueueSize: cfg.Ingest.QueueSize})
	defer store.Close()

	cameraIDs := make([]string, 0, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		cameraIDs = append(cameraIDs, cam.ID)
	}

	client := gateway.New(logger, gateway.Config{
		BaseURL:             cfg.Gateway.BaseURL,
		PlaylistTimeout:     cfg.Gateway.PlaylistTimeout,
		SegmentTimeout:      cfg.Gateway.SegmentTimeout,
		MaxPlaylistBytes:    cfg.Gateway.MaxPlaylistBytes.Bytes(),
		MaxSegmentBytes:     cfg.Gateway.MaxSegmentBytes.Bytes(),
		UserAgent:           version.UserAgent(),
		EnableDecompression: true,
	})

	tracker := recovery.New(logger, store, recovery.Config{
		ErrorWindow:    cfg.Recovery.ErrorWindow,
		ErrorThreshold: cfg.Recovery.ErrorThreshold,
		Cooldown:       cfg.Recovery.Cooldown,
	}, cameraIDs)

	manager := ingest.NewManager(logger, ingest.Deps{
		Client:  client,
		Store:   store,
		Archive: archive,
		Tracker: tracker,
	}, cfg.Cameras, cfg.Ingest)

	engine := retention.NewEngine(logger, store, archive, cfg.Retention.Defaults)
	if err := engine.SeedPolicies(ctx, cameraIDs); err != nil {
		return fmt.Errorf("seeding retention policies: %w", err)
	}

	diskMon := storage.NewMonitor(archive.Root())
	monitor := retention.NewMonitor(logger, engine, store, diskMon, cfg.Emergency)

	rec := reconcile.New(logger, store, archive, cfg.Reconcile)
	if cfg.Reconcile.OnStartup {
		if err := rec.Run(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			// A failed startup pass is not fatal: ingest still works and
			// the next scheduled pass retries.
			logger.Error("startup reconciliation failed", slog.Any("error", err))
		}
	}

	sched := scheduler.New(logger)

	sweepInterval := time.Duration(cfg.Retention.CleanupIntervalHours) * time.Hour
	err = sched.AddIntervalWithDelay("retention-sweep", cfg.Retention.StartupGrace, sweepInterval, func(ctx context.Context) {
		if err := engine.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("retention sweep failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling retention sweep: %w", err)
	}

	err = sched.AddInterval("emergency-monitor", cfg.Emergency.SampleInterval, true, func(ctx context.Context) {
		if err := monitor.Check(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("emergency disk check failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling emergency monitor: %w", err)
	}

	if interval := time.Duration(cfg.Reconcile.Interval); interval > 0 {
		err = sched.AddInterval("reconcile", interval, false, func(ctx context.Context) {
			if err := rec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("reconciliation failed", slog.Any("error", err))
			}
		})
		if err != nil {
			return fmt.Errorf("scheduling reconciler: %w", err)
		}
	}

	if interval := time.Duration(cfg.Reconcile.SpotCheckInterval); interval > 0 {
		err = sched.AddInterval("integrity-spot-check", interval, false, func(ctx context.Context) {
			if err := rec.SpotCheck(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("integrity spot check failed", slog.Any("error", err))
			}
		})
		if err != nil {
			return fmt.Errorf("scheduling spot check: %w", err)
		}
	}

	if cfg.Scanner.Enabled {
		scan := scanner.New(logger, store, cfg.Scanner)
		err = sched.AddInterval("external-scan", cfg.Scanner.Interval, true, func(ctx context.Context) {
			if _, err := scan.Scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("external scan failed", slog.Any("error", err))
			}
		})
		if err != nil {
			return fmt.Errorf("scheduling external scan: %w", err)
		}
	}

	err = sched.AddInterval("storage-stats", time.Hour, false, func(ctx context.Context) {
		stats, err := storage.CollectStats(ctx, diskMon, store)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error("collecting storage stats failed", slog.Any("error", err))
			}
			return
		}
		attrs := []any{
			slog.String("used", format.Percentage(stats.Disk.UsedFraction*100, 1)),
			slog.String("free", format.Bytes(int64(stats.Disk.FreeBytes))),
			slog.Int("cameras", len(stats.Cameras)),
		}
		if stats.GrowthBytesPerHour != nil {
			attrs = append(attrs, slog.String("growth_per_hour", format.Bytes(int64(*stats.GrowthBytesPerHour))))
		}
		if stats.HoursUntilFull != nil {
			attrs = append(attrs, slog.Float64("hours_until_full", *stats.HoursUntilFull))
		}
		logger.Info("archive storage stats", attrs...)
	})
	if err != nil {
		return fmt.Errorf("scheduling storage stats: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	// A deployment may index an external recorder only, with no cameras of
	// its own; retention and reconciliation still run over the archive.
	if len(cfg.Cameras) > 0 {
		if err := manager.Start(ctx); err != nil {
			sched.Stop()
			return fmt.Errorf("starting ingest: %w", err)
		}
	} else {
		logger.Warn("no cameras configured, ingest disabled")
	}

	logger.Info("recorder running", slog.Any("jobs", sched.Jobs()))
	<-ctx.Done()

	// Shutdown: stop producers first, then the sweeps, then drain the
	// index queue. The database closes via defer.
	logger.Info("shutting down")
	manager.Stop()
	sched.Stop()
	if err := store.Close(); err != nil {
		logger.Warn("closing index store", slog.Any("error", err))
	}

	logger.Info("recorder stopped")
	return nil
}
