package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RunQueued   string = "QUEUED"
	RunTraining string = "TRAINING"
	RunTrained  string = "TRAINED"
	RunFailed   string = "FAILED"
)

// Run is one fine-tuning experiment. Config holds the JSON overrides the run
// was submitted with.
type Run struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name   string    `gorm:"not null"`
	Status string    `gorm:"size:20;not null"`

	Config datatypes.JSON `gorm:"type:jsonb"`

	ArtifactKey sql.NullString
	LocalDir    sql.NullString

	Accuracy sql.NullFloat64
	F1       sql.NullFloat64
	Error    sql.NullString

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

	CreationTime time.Time
}
