package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sentiment-backend/internal/core/dataset"
	"sentiment-backend/internal/core/train"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n")

var history = []train.EpochMetrics{
	{Epoch: 1, TrainLoss: 0.69, ValLoss: 0.66, Accuracy: 0.6, F1: 0.55},
	{Epoch: 2, TrainLoss: 0.51, ValLoss: 0.48, Accuracy: 0.8, F1: 0.79},
	{Epoch: 3, TrainLoss: 0.32, ValLoss: 0.41, Accuracy: 0.85, F1: 0.84},
}

func TestConsole(t *testing.T) {
	var out bytes.Buffer
	console := NewConsole(&out, 3)

	console.Epoch(history[1])
	assert.Contains(t, out.String(), "Epoch 2/3 | Train Loss: 0.5100 | Val Loss: 0.4800 | Accuracy: 0.8000 | F1: 0.7900")

	out.Reset()
	console.Evaluation(&train.EvalResult{Accuracy: 0.75, F1: 0.8, Precision: 2.0 / 3, Recall: 1, Confusion: train.ConfusionMatrix{{1, 1}, {0, 2}}})
	assert.Contains(t, out.String(), "Test Accuracy: 0.7500, F1 Score: 0.8000")
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, "  Positive          0          2", lines[len(lines)-1])

	out.Reset()
	long := strings.Repeat("a", 300)
	console.Samples([]dataset.Sample{{Text: long, Label: 1}, {Text: "bad", Label: 0}}, []int{1, 1}, 5)
	assert.Contains(t, out.String(), "Review: "+strings.Repeat("a", 200)+"...\n")
	assert.Contains(t, out.String(), "Actual: Negative, Predicted: Positive")

	out.Reset()
	console.Inference("This movie was good.", "Positive", 0.91234)
	assert.Equal(t, "\nNew Sentence: This movie was good.\nPredicted sentiment: Positive (Confidence: 0.9123)\n", out.String())
}

func TestObserverPrintsEpochs(t *testing.T) {
	var out, bars bytes.Buffer
	observer := Observer(NewConsole(&out, 3), &bars)

	for batch := 1; batch <= 4; batch++ {
		observer.OnBatch(1, batch, 4, 0.5)
	}
	observer.OnEpoch(history[0], nil)
	assert.Contains(t, out.String(), "Epoch 1/3")
	assert.NotEmpty(t, bars.String())

	silent := Observer(NewConsole(&out, 3), nil)
	silent.OnBatch(1, 1, 4, 0.5)
	silent.OnState(train.Done, 3)
}

func TestPlots(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PlotLoss(&buf, history))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngHeader))

	assert.Error(t, PlotLoss(&buf, history[:1]))

	buf.Reset()
	require.NoError(t, PlotConfusion(&buf, train.ConfusionMatrix{{5, 1}, {2, 4}}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngHeader))
	assert.Error(t, PlotConfusion(&buf, train.ConfusionMatrix{}))
}

func TestWritePlots(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	eval := &train.EvalResult{Confusion: train.ConfusionMatrix{{3, 1}, {1, 3}}}

	written, err := WritePlots(dir, history, eval)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, LossPlotFile), filepath.Join(dir, ConfusionPlotFile)}, written)
	for _, path := range written {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, pngHeader), path)
	}

	dir = t.TempDir()
	written, err = WritePlots(dir, history[:1], eval)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, ConfusionPlotFile)}, written)
	assert.NoFileExists(t, filepath.Join(dir, LossPlotFile))
}
