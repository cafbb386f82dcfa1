// Package migrations versions the recording schema. Every migration runs
// inside a transaction and leaves a row in schema_migrations, so applying
// the set is idempotent across restarts.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gorm.io/gorm"
)

// Migration is one versioned schema change. Down is optional; a migration
// without it refuses to roll back.
type Migration struct {
	Version     string
	Description string
	Up          func(tx *gorm.DB) error
	Down        func(tx *gorm.DB) error
}

// Record is the bookkeeping row for an applied migration.
type Record struct {
	ID          uint      `gorm:"primarykey"`
	Version     string    `gorm:"uniqueIndex;not null"`
	Description string    `gorm:"not null"`
	AppliedAt   time.Time `gorm:"not null"`
}

// TableName names the bookkeeping table.
func (Record) TableName() string {
	return "schema_migrations"
}

// Status pairs a known migration with whether (and when) it was applied.
type Status struct {
	Version     string
	Description string
	Applied     bool
	AppliedAt   *time.Time
}

// Migrator applies a fixed set of migrations in version order.
type Migrator struct {
	db   *gorm.DB
	log  *slog.Logger
	list []Migration
}

// New builds a migrator over the given migrations. The list is copied and
// sorted by version so registration order does not matter.
func New(db *gorm.DB, log *slog.Logger, list []Migration) *Migrator {
	if log == nil {
		log = slog.Default()
	}
	sorted := make([]Migration, len(list))
	copy(sorted, list)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	return &Migrator{db: db, log: log, list: sorted}
}

// Up applies every migration that has no schema_migrations row yet.
func (m *Migrator) Up(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.list {
		if _, ok := applied[mig.Version]; ok {
			continue
		}

		m.log.InfoContext(ctx, "applying migration",
			slog.String("version", mig.Version),
			slog.String("description", mig.Description),
		)

		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := mig.Up(tx); err != nil {
				return err
			}
			return tx.Create(&Record{
				Version:     mig.Version,
				Description: mig.Description,
				AppliedAt:   time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return fmt.Errorf("applying migration %s: %w", mig.Version, err)
		}
	}

	return nil
}

// Down rolls back the most recently applied migration. A database with
// nothing applied is a no-op.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	var last Record
	if err := m.db.WithContext(ctx).Order("version DESC").First(&last).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			m.log.InfoContext(ctx, "no migrations to roll back")
			return nil
		}
		return fmt.Errorf("loading last migration: %w", err)
	}

	var mig *Migration
	for i := range m.list {
		if m.list[i].Version == last.Version {
			mig = &m.list[i]
			break
		}
	}
	if mig == nil {
		return fmt.Errorf("unknown migration version %s", last.Version)
	}
	if mig.Down == nil {
		return fmt.Errorf("migration %s does not support rollback", last.Version)
	}

	m.log.InfoContext(ctx, "rolling back migration",
		slog.String("version", mig.Version),
		slog.String("description", mig.Description),
	)

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := mig.Down(tx); err != nil {
			return err
		}
		return tx.Where("version = ?", mig.Version).Delete(&Record{}).Error
	})
	if err != nil {
		return fmt.Errorf("rolling back migration %s: %w", mig.Version, err)
	}

	return nil
}

// Statuses reports every known migration and whether it was applied.
func (m *Migrator) Statuses(ctx context.Context) ([]Status, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(m.list))
	for _, mig := range m.list {
		st := Status{Version: mig.Version, Description: mig.Description}
		if rec, ok := applied[mig.Version]; ok {
			st.Applied = true
			st.AppliedAt = &rec.AppliedAt
		}
		out = append(out, st)
	}
	return out, nil
}

// applied ensures the bookkeeping table exists and returns its rows keyed
// by version.
func (m *Migrator) applied(ctx context.Context) (map[string]Record, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	var records []Record
	if err := m.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("loading applied migrations: %w", err)
	}

	byVersion := make(map[string]Record, len(records))
	for _, rec := range records {
		byVersion[rec.Version] = rec
	}
	return byVersion, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("initializing migrations table: %w", err)
	}
	return nil
}
