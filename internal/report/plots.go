package report

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"sentiment-backend/internal/core/dataset"
	"sentiment-backend/internal/core/train"

	chart "github.com/wcharczuk/go-chart"
)

const (
	LossPlotFile      = "loss.png"
	ConfusionPlotFile = "confusion_matrix.png"
)

// PlotLoss draws the train and validation loss curves. go-chart cannot scale
// an axis over a single point, so at least two epochs are required.
func PlotLoss(w io.Writer, history []train.EpochMetrics) error {
	if len(history) < 2 {
		return fmt.Errorf("loss plot needs at least 2 epochs, got %d", len(history))
	}

	epochs := make([]float64, len(history))
	trainLoss := make([]float64, len(history))
	valLoss := make([]float64, len(history))
	for i, m := range history {
		epochs[i] = float64(m.Epoch)
		trainLoss[i] = m.TrainLoss
		valLoss[i] = m.ValLoss
	}

	graph := chart.Chart{
		Title:      "Loss over epochs",
		TitleStyle: chart.StyleShow(),
		XAxis: chart.XAxis{
			Name:      "Epoch",
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
		},
		YAxis: chart.YAxis{
			Name:      "Loss",
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "Train Loss",
				XValues: epochs,
				YValues: trainLoss,
				Style: chart.Style{
					Show:        true,
					StrokeColor: chart.ColorBlue,
				},
			},
			chart.ContinuousSeries{
				Name:    "Val Loss",
				XValues: epochs,
				YValues: valLoss,
				Style: chart.Style{
					Show:        true,
					StrokeColor: chart.ColorRed,
				},
			},
		},
	}
	graph.Elements = []chart.Renderable{
		chart.LegendLeft(&graph),
	}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("error rendering loss plot: %w", err)
	}
	return nil
}

// PlotConfusion draws one bar per (actual, predicted) cell.
func PlotConfusion(w io.Writer, cm train.ConfusionMatrix) error {
	if cm.Total() == 0 {
		return fmt.Errorf("confusion matrix is empty")
	}

	var bars []chart.Value
	for actual, row := range cm {
		for predicted, count := range row {
			color := chart.ColorRed
			if actual == predicted {
				color = chart.ColorBlue
			}
			bars = append(bars, chart.Value{
				Label: fmt.Sprintf("%s/%s", dataset.LabelNames[actual], dataset.LabelNames[predicted]),
				Value: float64(count),
				Style: chart.Style{
					Show:        true,
					FillColor:   color,
					StrokeColor: color,
				},
			})
		}
	}

	graph := chart.BarChart{
		Title:      "Confusion Matrix (actual/predicted)",
		TitleStyle: chart.StyleShow(),
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		Height:   512,
		BarWidth: 80,
		XAxis:    chart.StyleShow(),
		YAxis: chart.YAxis{
			Style: chart.StyleShow(),
		},
		Bars: bars,
	}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("error rendering confusion matrix: %w", err)
	}
	return nil
}

func writePlot(path string, plot func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	if err := plot(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// WritePlots writes loss.png and confusion_matrix.png into dir and returns
// the paths written. The loss plot is skipped for single-epoch runs.
func WritePlots(dir string, history []train.EpochMetrics, eval *train.EvalResult) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating report dir %s: %w", dir, err)
	}

	var written []string
	if len(history) >= 2 {
		path := filepath.Join(dir, LossPlotFile)
		if err := writePlot(path, func(w io.Writer) error { return PlotLoss(w, history) }); err != nil {
			return written, err
		}
		written = append(written, path)
	} else {
		slog.Info("skipping loss plot for single epoch run")
	}

	if eval != nil {
		path := filepath.Join(dir, ConfusionPlotFile)
		if err := writePlot(path, func(w io.Writer) error { return PlotConfusion(w, eval.Confusion) }); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
