package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Run struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name   string    `gorm:"not null"`
	Status string    `gorm:"size:20;not null"`

	Config datatypes.JSON `gorm:"type:jsonb"`

	ArtifactKey sql.NullString
	LocalDir    sql.NullString

	Accuracy sql.NullFloat64
	F1       sql.NullFloat64

	CreationTime   time.Time
	CompletionTime sql.NullTime

	Epochs []EpochMetric `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

type EpochMetric struct {
	RunId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	Epoch     int       `gorm:"primaryKey"`
	TrainLoss float64
	ValLoss   float64
	Accuracy  float64
	F1        float64
}

func Migration(db *gorm.DB) error {
	if err := db.AutoMigrate(&Run{}, &EpochMetric{}); err != nil {
		return fmt.Errorf("error creating initial schema: %w", err)
	}
	return nil
}
