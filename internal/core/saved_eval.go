package core

import (
	"context"
	"log/slog"

	"sentiment-backend/internal/config"
	"sentiment-backend/internal/core/checkpoint"
	"sentiment-backend/internal/core/dataset"
	"sentiment-backend/internal/core/train"
)

type SavedEvaluation struct {
	Result *train.EvalResult
	// Saved is the final epoch recorded when the model was trained, nil if the
	// model has no metrics history.
	Saved *train.EpochMetrics
}

// Matches reports whether re-evaluation reproduced the saved accuracy and F1.
func (s SavedEvaluation) Matches() bool {
	return s.Saved == nil || (s.Saved.Accuracy == s.Result.Accuracy && s.Saved.F1 == s.Result.F1)
}

// EvaluateSaved rebuilds the held-out split recorded with the model in dir and
// scores predictor on it. Split settings the model does not record are taken
// from fallback.
func EvaluateSaved(ctx context.Context, predictor *Predictor, dir string, fallback config.Training) (SavedEvaluation, error) {
	meta, history, err := checkpoint.LoadMetrics(dir)
	if err != nil {
		return SavedEvaluation{}, err
	}

	datasetPath, testSize, batchSize := fallback.DatasetPath, fallback.TestSize, fallback.BatchSize
	if meta.DatasetPath != "" {
		datasetPath = meta.DatasetPath
	}
	if meta.TestSize > 0 {
		testSize = meta.TestSize
	}
	if meta.BatchSize > 0 {
		batchSize = meta.BatchSize
	}
	slog.Info("re-evaluating saved model", "dir", dir, "dataset", datasetPath, "test_size", testSize, "seed", meta.Seed)

	samples, err := dataset.LoadCSV(datasetPath)
	if err != nil {
		return SavedEvaluation{}, err
	}
	_, test, err := dataset.Split(samples, testSize, meta.Seed)
	if err != nil {
		return SavedEvaluation{}, err
	}

	adapter, err := dataset.FromSamples(test, predictor.Tokenizer(), predictor.MaxLen())
	if err != nil {
		return SavedEvaluation{}, err
	}
	loader, err := dataset.NewLoader(adapter, batchSize, false, nil, fallback.EncodeWorkers)
	if err != nil {
		return SavedEvaluation{}, err
	}

	result, err := train.Evaluate(ctx, predictor.Model(), loader, fallback.EncodeWorkers)
	if err != nil {
		return SavedEvaluation{}, err
	}

	out := SavedEvaluation{Result: result}
	if len(history) > 0 {
		out.Saved = &history[len(history)-1]
	}
	return out, nil
}
