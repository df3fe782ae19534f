package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func UpdateRunStatus(ctx context.Context, txn *gorm.DB, runId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == RunTrained || status == RunFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&Run{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error updating run status", "run_id", runId, "status", status, "error", err)
		return err
	}
	return nil
}

// MarkRunFailed records the failure cause along with the FAILED status.
func MarkRunFailed(ctx context.Context, txn *gorm.DB, runId uuid.UUID, cause error) error {
	updates := map[string]any{
		"status":          RunFailed,
		"error":           sql.NullString{String: cause.Error(), Valid: true},
		"completion_time": time.Now().UTC(),
	}
	if err := txn.WithContext(ctx).Model(&Run{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error marking run failed", "run_id", runId, "error", err)
		return err
	}
	return nil
}

// CompleteRun stores the final evaluation and artifact location and marks the
// run TRAINED.
func CompleteRun(ctx context.Context, txn *gorm.DB, runId uuid.UUID, accuracy, f1 float64, artifactKey, localDir string) error {
	updates := map[string]any{
		"status":          RunTrained,
		"accuracy":        sql.NullFloat64{Float64: accuracy, Valid: true},
		"f1":              sql.NullFloat64{Float64: f1, Valid: true},
		"artifact_key":    sql.NullString{String: artifactKey, Valid: artifactKey != ""},
		"local_dir":       sql.NullString{String: localDir, Valid: localDir != ""},
		"completion_time": time.Now().UTC(),
	}
	if err := txn.WithContext(ctx).Model(&Run{Id: runId}).Updates(updates).Error; err != nil {
		return fmt.Errorf("error completing run %s: %w", runId, err)
	}
	return nil
}

func SaveEpochMetric(ctx context.Context, txn *gorm.DB, metric EpochMetric) error {
	if metric.CreationTime.IsZero() {
		metric.CreationTime = time.Now().UTC()
	}
	if err := txn.WithContext(ctx).Create(&metric).Error; err != nil {
		return fmt.Errorf("error saving epoch %d metrics for run %s: %w", metric.Epoch, metric.RunId, err)
	}
	return nil
}

const ErrInterrupted = "interrupted: the worker stopped before training finished"

// FailInterruptedRuns marks every run left in TRAINING as FAILED. Training is
// never resumed, so a run still TRAINING when a worker starts was interrupted.
func FailInterruptedRuns(ctx context.Context, txn *gorm.DB) (int64, error) {
	updates := map[string]any{
		"status":          RunFailed,
		"error":           sql.NullString{String: ErrInterrupted, Valid: true},
		"completion_time": time.Now().UTC(),
	}
	result := txn.WithContext(ctx).Model(&Run{}).Where("status = ?", RunTraining).Updates(updates)
	if result.Error != nil {
		return 0, fmt.Errorf("error failing interrupted runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
