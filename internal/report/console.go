package report

import (
	"fmt"
	"io"

	"sentiment-backend/internal/core/dataset"
	"sentiment-backend/internal/core/train"
	"sentiment-backend/internal/core/utils"
)

// Console prints the human readable account of an experiment.
type Console struct {
	w      io.Writer
	epochs int
}

func NewConsole(w io.Writer, epochs int) *Console {
	return &Console{w: w, epochs: epochs}
}

func (c *Console) Epoch(m train.EpochMetrics) {
	fmt.Fprintf(c.w, "Epoch %d/%d | Train Loss: %.4f | Val Loss: %.4f | Accuracy: %.4f | F1: %.4f\n",
		m.Epoch, c.epochs, m.TrainLoss, m.ValLoss, m.Accuracy, m.F1)
}

func (c *Console) Evaluation(r *train.EvalResult) {
	fmt.Fprintf(c.w, "\nTest Accuracy: %.4f, F1 Score: %.4f (Precision: %.4f, Recall: %.4f)\n",
		r.Accuracy, r.F1, r.Precision, r.Recall)
	c.Confusion(r.Confusion)
}

// Confusion prints the matrix with actual labels as rows.
func (c *Console) Confusion(cm train.ConfusionMatrix) {
	fmt.Fprintf(c.w, "\nConfusion matrix (rows actual, columns predicted):\n")
	fmt.Fprintf(c.w, "%10s %10s %10s\n", "", dataset.LabelNames[0], dataset.LabelNames[1])
	for actual, row := range cm {
		fmt.Fprintf(c.w, "%10s %10d %10d\n", dataset.LabelNames[actual], row[0], row[1])
	}
}

// Samples prints the first n held-out reviews next to their predictions.
func (c *Console) Samples(samples []dataset.Sample, preds []int, n int) {
	n = min(n, len(samples), len(preds))
	if n <= 0 {
		return
	}
	fmt.Fprintf(c.w, "\nSample predictions:\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(c.w, "\nReview: %s\n", utils.Preview(samples[i].Text, utils.DefaultPreviewLength))
		fmt.Fprintf(c.w, "Actual: %s, Predicted: %s\n", dataset.LabelNames[samples[i].Label], dataset.LabelNames[preds[i]])
	}
}

func (c *Console) Inference(text, label string, confidence float64) {
	fmt.Fprintf(c.w, "\nNew Sentence: %s\n", text)
	fmt.Fprintf(c.w, "Predicted sentiment: %s (Confidence: %.4f)\n", label, confidence)
}
