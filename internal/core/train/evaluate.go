package train

import (
	"context"
	"fmt"
	"math"

	"sentiment-backend/internal/core/dataset"
	"sentiment-backend/internal/core/model"
	"sentiment-backend/internal/core/nn"
	"sentiment-backend/internal/core/types"
	"sentiment-backend/internal/core/utils"
)

type EvalResult struct {
	Loss      float64
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64

	// Predictions and Labels are in dataset index order.
	Predictions []int
	Labels      []int
	Confidences []float64
	Confusion   ConfusionMatrix
}

type prediction struct {
	label      int
	confidence float64
	loss       float64
}

// Evaluate runs the classifier in inference mode over every batch of loader.
// Forward passes within a batch fan out over workers goroutines.
func Evaluate(ctx context.Context, clf *model.Classifier, loader *dataset.Loader, workers int) (*EvalResult, error) {
	n := loader.Len()
	preds := make([]int, n)
	labels := make([]int, n)
	confidences := make([]float64, n)
	var batchLosses []float64

	for batch, err := range loader.Batches() {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("evaluation cancelled: %w", err)
		}

		results, err := utils.MapOrdered(batch.Samples, func(s dataset.EncodedSample) (prediction, error) {
			out, err := clf.Forward(s.TokenIDs, s.AttentionMask, false, nil)
			if err != nil {
				return prediction{}, err
			}
			loss, _ := model.CrossEntropy(out.Logits, s.Label)
			probs := nn.Softmax(out.Logits)
			label := nn.ArgMax(probs)
			return prediction{label: label, confidence: probs[label], loss: loss}, nil
		}, workers)
		if err != nil {
			return nil, fmt.Errorf("error evaluating batch: %w", err)
		}

		total := 0.0
		for i, r := range results {
			idx := batch.Indices[i]
			preds[idx] = r.label
			confidences[idx] = r.confidence
			labels[idx] = batch.Samples[i].Label
			total += r.loss
		}
		batchLosses = append(batchLosses, total/float64(len(results)))
	}

	loss, err := meanLoss(batchLosses)
	if err != nil {
		return nil, fmt.Errorf("error computing validation loss: %w", err)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return nil, types.TrainingFailuref("validation loss is not finite")
	}

	cm, err := NewConfusionMatrix(labels, preds)
	if err != nil {
		return nil, err
	}
	precision, recall, f1 := cm.PrecisionRecallF1()
	return &EvalResult{
		Loss:        loss,
		Accuracy:    cm.Accuracy(),
		Precision:   precision,
		Recall:      recall,
		F1:          f1,
		Predictions: preds,
		Labels:      labels,
		Confidences: confidences,
		Confusion:   cm,
	}, nil
}
