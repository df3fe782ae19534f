package report

import (
	"fmt"
	"io"
	"log/slog"

	"sentiment-backend/internal/core/train"

	"github.com/schollz/progressbar/v3"
)

// Observer reports training progress: a progress bar per training epoch
// written to bars (nil disables them) and the epoch summary on the console.
func Observer(console *Console, bars io.Writer) train.Observer {
	var bar *progressbar.ProgressBar

	return train.Observer{
		OnState: func(state train.State, epoch int) {
			slog.Debug("training state changed", "state", state, "epoch", epoch)
		},
		OnBatch: func(epoch, batch, numBatches int, loss float64) {
			if bars == nil {
				return
			}
			if batch == 1 {
				bar = progressbar.NewOptions(numBatches,
					progressbar.OptionSetWriter(bars),
					progressbar.OptionSetDescription(fmt.Sprintf("epoch %d", epoch)),
					progressbar.OptionSetWidth(30),
					progressbar.OptionClearOnFinish(),
				)
			}
			if bar != nil {
				bar.Describe(fmt.Sprintf("epoch %d loss %.4f", epoch, loss))
				bar.Add(1) // nolint:errcheck
			}
		},
		OnEpoch: func(m train.EpochMetrics, _ *train.EvalResult) {
			if bar != nil {
				bar.Finish() // nolint:errcheck
				bar = nil
			}
			console.Epoch(m)
		},
	}
}
