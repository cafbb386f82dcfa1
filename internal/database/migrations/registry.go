package migrations

import (
	"github.com/jmylchreest/nvarr/internal/models"
	"gorm.io/gorm"
)

// All returns the schema migrations in order.
//   - 001: recording index schema
func All() []Migration {
	return []Migration{
		migration001Schema(),
	}
}

// migration001Schema creates the recording index tables.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create recording index tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.Recording{},
				&models.RetentionPolicy{},
				&models.CleanupEvent{},
				&models.RecoveryEvent{},
				&models.TimelineBucket{},
			)
		},
		Down: func(tx *gorm.DB) error {
			tables := []string{
				"timeline_index",
				"recovery_log",
				"cleanup_history",
				"retention_policies",
				"recordings",
			}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}
