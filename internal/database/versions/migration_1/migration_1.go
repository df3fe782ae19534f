package migration_1

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Run struct {
	Error sql.NullString
}

type EpochMetric struct {
	RunId        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Epoch        int       `gorm:"primaryKey"`
	CreationTime time.Time
}

// Migration records why a run failed and when each epoch finished.
func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&Run{}, "Error"); err != nil {
		return fmt.Errorf("error adding Error column: %w", err)
	}
	if err := db.Migrator().AddColumn(&EpochMetric{}, "CreationTime"); err != nil {
		return fmt.Errorf("error adding CreationTime column: %w", err)
	}
	if err := db.Model(&Run{}).
		Where("status = ? AND error IS NULL", "FAILED").
		Update("error", "unknown failure").Error; err != nil {
		return fmt.Errorf("error backfilling run errors: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropColumn(&Run{}, "Error"); err != nil {
		return fmt.Errorf("error dropping Error column: %w", err)
	}
	if err := db.Migrator().DropColumn(&EpochMetric{}, "CreationTime"); err != nil {
		return fmt.Errorf("error dropping CreationTime column: %w", err)
	}
	return nil
}
