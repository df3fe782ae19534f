package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"

	"sentiment-backend/internal/config"
	"sentiment-backend/internal/core/tokenizer"
	"sentiment-backend/internal/core/train"
	"sentiment-backend/internal/database"
	"sentiment-backend/internal/messaging"
	"sentiment-backend/internal/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskProcessor consumes training tasks and runs them one at a time.
type TaskProcessor struct {
	db        *gorm.DB
	storage   storage.ObjectStore
	publisher messaging.Publisher
	reciever  messaging.Reciever

	baseConfig    config.Training
	localModelDir string
	modelBucket   string
	loaders       tokenizer.Loaders
}

func NewTaskProcessor(db *gorm.DB, storage storage.ObjectStore, publisher messaging.Publisher, reciever messaging.Reciever, baseConfig config.Training, localModelDir string, modelBucket string, loaders tokenizer.Loaders) *TaskProcessor {
	return &TaskProcessor{
		db:            db,
		storage:       storage,
		publisher:     publisher,
		reciever:      reciever,
		baseConfig:    baseConfig,
		localModelDir: localModelDir,
		modelBucket:   modelBucket,
		loaders:       loaders,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.publisher.Close()
	proc.reciever.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {
	case messaging.TrainQueue:
		var payload messaging.TrainTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling train task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processTrainTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

// RunDir is where the model of a run is kept on local disk.
func RunDir(baseDir string, runId uuid.UUID) string {
	return filepath.Join(baseDir, runId.String())
}

func (proc *TaskProcessor) processTrainTask(ctx context.Context, payload messaging.TrainTaskPayload) error {
	run, err := database.GetRun(ctx, proc.db, payload.RunId)
	if err != nil {
		slog.Error("error getting run", "run_id", payload.RunId, "error", err)
		return err
	}
	if run.Status != database.RunQueued {
		slog.Warn("run is not queued, skipping train task", "run_id", run.Id, "status", run.Status)
		return nil
	}

	if err := database.UpdateRunStatus(ctx, proc.db, run.Id, database.RunTraining); err != nil {
		return fmt.Errorf("error updating run status: %w", err)
	}

	slog.Info("processing train task", "run_id", run.Id, "name", run.Name)

	if err := proc.trainRun(ctx, run); err != nil {
		database.MarkRunFailed(ctx, proc.db, run.Id, err) //nolint:errcheck
		slog.Error("error training run", "run_id", run.Id, "error", err)
		return err
	}

	slog.Info("training run completed", "run_id", run.Id)
	return nil
}

func (proc *TaskProcessor) trainRun(ctx context.Context, run *database.Run) error {
	cfg := proc.baseConfig
	if err := cfg.ApplyJSON(run.Config); err != nil {
		return err
	}

	exp, err := LoadExperiment(cfg, proc.loaders)
	if err != nil {
		return fmt.Errorf("error preparing experiment: %w", err)
	}
	defer exp.Close()

	var metricErr error
	history, eval, err := exp.Run(ctx, train.Observer{
		OnEpoch: func(m train.EpochMetrics, _ *train.EvalResult) {
			err := database.SaveEpochMetric(ctx, proc.db, database.EpochMetric{
				RunId:     run.Id,
				Epoch:     m.Epoch,
				TrainLoss: m.TrainLoss,
				ValLoss:   m.ValLoss,
				Accuracy:  m.Accuracy,
				F1:        m.F1,
			})
			if err != nil && metricErr == nil {
				metricErr = err
			}
		},
	})
	if err != nil {
		return fmt.Errorf("error training model: %w", err)
	}
	if metricErr != nil {
		return metricErr
	}

	localDir := RunDir(proc.localModelDir, run.Id)
	if err := exp.Save(localDir, history); err != nil {
		return err
	}

	if err := proc.storage.UploadDir(ctx, proc.modelBucket, run.Id.String(), localDir); err != nil {
		slog.Error("error uploading trained model", "run_id", run.Id, "error", err)
		return fmt.Errorf("error uploading model: %w", err)
	}

	slog.Info("trained model uploaded", "run_id", run.Id, "bucket", proc.modelBucket)

	return database.CompleteRun(ctx, proc.db, run.Id, eval.Accuracy, eval.F1, path.Join(proc.modelBucket, run.Id.String()), localDir)
}
