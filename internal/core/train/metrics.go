package train

import (
	"fmt"

	"github.com/montanaflynn/stats"
)

// EpochMetrics is appended once per completed epoch and never modified.
type EpochMetrics struct {
	Epoch     int     `json:"epoch"`
	TrainLoss float64 `json:"train_loss"`
	ValLoss   float64 `json:"val_loss"`
	Accuracy  float64 `json:"accuracy"`
	F1        float64 `json:"f1"`
}

// ConfusionMatrix counts (actual, predicted) pairs, indexed [actual][predicted].
type ConfusionMatrix [2][2]int

func (c ConfusionMatrix) Total() int {
	return c[0][0] + c[0][1] + c[1][0] + c[1][1]
}

// NewConfusionMatrix tabulates complete label and prediction vectors.
func NewConfusionMatrix(labels, preds []int) (ConfusionMatrix, error) {
	var cm ConfusionMatrix
	if len(labels) != len(preds) {
		return cm, fmt.Errorf("got %d labels but %d predictions", len(labels), len(preds))
	}
	for i := range labels {
		if labels[i] < 0 || labels[i] > 1 || preds[i] < 0 || preds[i] > 1 {
			return cm, fmt.Errorf("index %d: label %d / prediction %d outside {0, 1}", i, labels[i], preds[i])
		}
		cm[labels[i]][preds[i]]++
	}
	return cm, nil
}

func (c ConfusionMatrix) Accuracy() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return float64(c[0][0]+c[1][1]) / float64(total)
}

// PrecisionRecallF1 treats class 1 as positive. Each ratio is 0 when its
// denominator is 0, and F1 is 0 without true positives.
func (c ConfusionMatrix) PrecisionRecallF1() (precision, recall, f1 float64) {
	tp := float64(c[1][1])
	fp := float64(c[0][1])
	fn := float64(c[1][0])
	if tp == 0 {
		return 0, 0, 0
	}
	precision = tp / (tp + fp)
	recall = tp / (tp + fn)
	f1 = 2 * precision * recall / (precision + recall)
	return precision, recall, f1
}

// meanLoss averages per-batch mean losses.
func meanLoss(batchLosses []float64) (float64, error) {
	if len(batchLosses) == 0 {
		return 0, fmt.Errorf("no batches were processed")
	}
	return stats.Mean(stats.Float64Data(batchLosses))
}
