package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrRunNotFound = errors.New("run not found")

func CreateRun(ctx context.Context, db *gorm.DB, name string, config []byte) (*Run, error) {
	run := &Run{
		Id:           uuid.New(),
		Name:         name,
		Status:       RunQueued,
		Config:       datatypes.JSON(config),
		CreationTime: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("error creating run: %w", err)
	}
	return run, nil
}

// GetRun loads a run with its epoch metrics in epoch order.
func GetRun(ctx context.Context, db *gorm.DB, runId uuid.UUID) (*Run, error) {
	var run Run
	err := db.WithContext(ctx).
		Preload("Epochs", func(db *gorm.DB) *gorm.DB { return db.Order("epoch ASC") }).
		First(&run, "id = ?", runId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runId)
		}
		return nil, fmt.Errorf("error getting run %s: %w", runId, err)
	}
	return &run, nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func ListRuns(ctx context.Context, db *gorm.DB, status string) ([]Run, error) {
	query := db.WithContext(ctx).Order("creation_time DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var runs []Run
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("error listing runs: %w", err)
	}
	return runs, nil
}

// QueuedRuns lists runs that were accepted but never started, oldest first.
func QueuedRuns(ctx context.Context, db *gorm.DB) ([]Run, error) {
	var runs []Run
	if err := db.WithContext(ctx).Where("status = ?", RunQueued).Order("creation_time ASC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("error listing queued runs: %w", err)
	}
	return runs, nil
}
