package api

import (
	"encoding/json"

	"sentiment-backend/internal/database"
	"sentiment-backend/pkg/api"
)

func convertEpochs(es []database.EpochMetric) []api.EpochMetrics {
	epochs := make([]api.EpochMetrics, 0, len(es))
	for _, e := range es {
		epochs = append(epochs, api.EpochMetrics{
			Epoch:     e.Epoch,
			TrainLoss: e.TrainLoss,
			ValLoss:   e.ValLoss,
			Accuracy:  e.Accuracy,
			F1:        e.F1,
		})
	}
	return epochs
}

func convertRun(r database.Run) api.Run {
	run := api.Run{
		Id:           r.Id,
		Name:         r.Name,
		Status:       r.Status,
		ArtifactKey:  r.ArtifactKey.String,
		Error:        r.Error.String,
		CreationTime: r.CreationTime,
	}

	if len(r.Config) > 0 {
		run.Config = json.RawMessage(r.Config)
	}
	if r.Accuracy.Valid {
		run.Accuracy = &r.Accuracy.Float64
	}
	if r.F1.Valid {
		run.F1 = &r.F1.Float64
	}
	if r.CompletionTime.Valid {
		run.CompletionTime = &r.CompletionTime.Time
	}
	if len(r.Epochs) > 0 {
		run.Epochs = convertEpochs(r.Epochs)
	}

	return run
}

func convertRuns(rs []database.Run) []api.Run {
	runs := make([]api.Run, 0, len(rs))
	for _, r := range rs {
		runs = append(runs, convertRun(r))
	}
	return runs
}
