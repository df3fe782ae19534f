package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func createDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "db", "runs.db"))
	require.NoError(t, err)
	return db
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	db := createDB(t)

	run, err := CreateRun(ctx, db, "baseline", []byte(`{"epochs":1}`))
	require.NoError(t, err)
	assert.Equal(t, RunQueued, run.Status)

	queued, err := QueuedRuns(ctx, db)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, run.Id, queued[0].Id)

	require.NoError(t, UpdateRunStatus(ctx, db, run.Id, RunTraining))
	for epoch := 2; epoch >= 1; epoch-- {
		require.NoError(t, SaveEpochMetric(ctx, db, EpochMetric{RunId: run.Id, Epoch: epoch, TrainLoss: 0.5, ValLoss: 0.4, Accuracy: 0.8, F1: 0.75}))
	}
	assert.Error(t, SaveEpochMetric(ctx, db, EpochMetric{RunId: run.Id, Epoch: 1}), "epochs are unique per run")

	require.NoError(t, CompleteRun(ctx, db, run.Id, 0.8, 0.75, "models/"+run.Id.String(), "/tmp/model"))

	got, err := GetRun(ctx, db, run.Id)
	require.NoError(t, err)
	assert.Equal(t, RunTrained, got.Status)
	assert.True(t, got.CompletionTime.Valid)
	assert.InDelta(t, 0.8, got.Accuracy.Float64, 1e-12)
	assert.Equal(t, "models/"+run.Id.String(), got.ArtifactKey.String)
	assert.JSONEq(t, `{"epochs":1}`, string(got.Config))
	require.Len(t, got.Epochs, 2)
	assert.Equal(t, 1, got.Epochs[0].Epoch)
	assert.Equal(t, 2, got.Epochs[1].Epoch)

	queued, err = QueuedRuns(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestMarkRunFailed(t *testing.T) {
	ctx := context.Background()
	db := createDB(t)

	run, err := CreateRun(ctx, db, "broken", nil)
	require.NoError(t, err)
	require.NoError(t, MarkRunFailed(ctx, db, run.Id, errors.New("loss is not finite")))

	got, err := GetRun(ctx, db, run.Id)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, got.Status)
	assert.Equal(t, "loss is not finite", got.Error.String)
	assert.True(t, got.CompletionTime.Valid)
}

func TestFailInterruptedRuns(t *testing.T) {
	ctx := context.Background()
	db := createDB(t)

	queued, err := CreateRun(ctx, db, "queued", nil)
	require.NoError(t, err)
	training, err := CreateRun(ctx, db, "training", nil)
	require.NoError(t, err)
	require.NoError(t, UpdateRunStatus(ctx, db, training.Id, RunTraining))

	n, err := FailInterruptedRuns(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := GetRun(ctx, db, training.Id)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, got.Status)
	assert.Equal(t, ErrInterrupted, got.Error.String)
	assert.True(t, got.CompletionTime.Valid)

	got, err = GetRun(ctx, db, queued.Id)
	require.NoError(t, err)
	assert.Equal(t, RunQueued, got.Status)

	n, err = FailInterruptedRuns(ctx, db)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListRuns(t *testing.T) {
	ctx := context.Background()
	db := createDB(t)

	older := Run{Id: uuid.New(), Name: "older", Status: RunTrained, CreationTime: time.Now().Add(-time.Hour)}
	newer := Run{Id: uuid.New(), Name: "newer", Status: RunQueued, CreationTime: time.Now()}
	require.NoError(t, db.Create(&older).Error)
	require.NoError(t, db.Create(&newer).Error)

	runs, err := ListRuns(ctx, db, "")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newer", runs[0].Name)
	assert.Equal(t, "older", runs[1].Name)

	runs, err = ListRuns(ctx, db, RunTrained)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, older.Id, runs[0].Id)
}

func TestGetMissingRun(t *testing.T) {
	_, err := GetRun(context.Background(), createDB(t), uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestNewDatabaseRejectsEmptyURL(t *testing.T) {
	_, err := NewDatabase("")
	assert.Error(t, err)
}
