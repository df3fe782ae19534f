package train

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"sentiment-backend/internal/core/dataset"
	"sentiment-backend/internal/core/model"
	"sentiment-backend/internal/core/types"
)

type State int

const (
	Training State = iota
	Validating
	Done
)

func (s State) String() string {
	switch s {
	case Training:
		return "training"
	case Validating:
		return "validating"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Observer receives progress callbacks. Any field may be nil.
type Observer struct {
	OnState func(state State, epoch int)
	OnBatch func(epoch, batch, numBatches int, loss float64)
	OnEpoch func(metrics EpochMetrics, eval *EvalResult)
}

type Config struct {
	Epochs      int
	EvalWorkers int
}

// Trainer drives Training -> Validating once per epoch and ends in Done.
type Trainer struct {
	model    *model.Classifier
	opt      *AdamW
	train    *dataset.Loader
	eval     *dataset.Loader
	rng      *rand.Rand
	cfg      Config
	observer Observer

	state    State
	epoch    int
	history  []EpochMetrics
	lastEval *EvalResult
}

func NewTrainer(clf *model.Classifier, opt *AdamW, train, eval *dataset.Loader, rng *rand.Rand, cfg Config, observer Observer) (*Trainer, error) {
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", cfg.Epochs)
	}
	if rng == nil {
		return nil, fmt.Errorf("trainer needs a random source for dropout")
	}
	return &Trainer{
		model:    clf,
		opt:      opt,
		train:    train,
		eval:     eval,
		rng:      rng,
		cfg:      cfg,
		observer: observer,
		state:    Training,
	}, nil
}

func (t *Trainer) State() State { return t.state }

// History returns a copy of the metrics recorded so far.
func (t *Trainer) History() []EpochMetrics {
	return append([]EpochMetrics(nil), t.history...)
}

// LastEvaluation is the evaluation from the most recent Validating state.
func (t *Trainer) LastEvaluation() *EvalResult { return t.lastEval }

func (t *Trainer) enter(state State) {
	t.state = state
	slog.Debug("trainer state", "state", state, "epoch", t.epoch)
	if t.observer.OnState != nil {
		t.observer.OnState(state, t.epoch)
	}
}

// Run trains for the configured number of epochs. Any failure aborts the run;
// cancellation is checked between batches.
func (t *Trainer) Run(ctx context.Context) ([]EpochMetrics, error) {
	if t.state == Done || t.epoch > 0 {
		return nil, fmt.Errorf("trainer has already run")
	}

	for t.epoch = 1; t.epoch <= t.cfg.Epochs; t.epoch++ {
		t.enter(Training)
		trainLoss, err := t.trainEpoch(ctx)
		if err != nil {
			return t.History(), err
		}

		t.enter(Validating)
		result, err := Evaluate(ctx, t.model, t.eval, t.cfg.EvalWorkers)
		if err != nil {
			return t.History(), fmt.Errorf("epoch %d validation failed: %w", t.epoch, err)
		}
		t.lastEval = result

		metrics := EpochMetrics{
			Epoch:     t.epoch,
			TrainLoss: trainLoss,
			ValLoss:   result.Loss,
			Accuracy:  result.Accuracy,
			F1:        result.F1,
		}
		t.history = append(t.history, metrics)
		slog.Info("epoch complete", "epoch", t.epoch, "train_loss", trainLoss, "val_loss", result.Loss,
			"accuracy", result.Accuracy, "f1", result.F1)
		if t.observer.OnEpoch != nil {
			t.observer.OnEpoch(metrics, result)
		}
	}

	t.epoch = t.cfg.Epochs
	t.enter(Done)
	return t.History(), nil
}

func (t *Trainer) trainEpoch(ctx context.Context) (float64, error) {
	var batchLosses []float64
	numBatches := t.train.NumBatches()
	batchIndex := 0
	for batch, err := range t.train.Batches() {
		if err != nil {
			return 0, fmt.Errorf("epoch %d: error loading batch: %w", t.epoch, err)
		}
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("training cancelled: %w", err)
		}
		batchIndex++

		loss, err := t.trainBatch(batch)
		if err != nil {
			return 0, fmt.Errorf("epoch %d batch %d: %w", t.epoch, batchIndex, err)
		}
		batchLosses = append(batchLosses, loss)
		if t.observer.OnBatch != nil {
			t.observer.OnBatch(t.epoch, batchIndex, numBatches, loss)
		}
	}
	return meanLoss(batchLosses)
}

// trainBatch accumulates the gradient of the batch-mean cross entropy and
// applies one optimizer step.
func (t *Trainer) trainBatch(batch dataset.Batch) (float64, error) {
	t.opt.ZeroGrad()
	scale := 1 / float64(batch.Len())
	total := 0.0

	for _, s := range batch.Samples {
		out, err := t.model.Forward(s.TokenIDs, s.AttentionMask, true, t.rng)
		if err != nil {
			return 0, types.TrainingFailuref("forward pass failed: %w", err)
		}
		loss, grad := model.CrossEntropy(out.Logits, s.Label)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return 0, types.TrainingFailuref("loss is not finite (logits %v)", out.Logits)
		}
		for i := range grad {
			grad[i] *= scale
		}
		if err := t.model.Backward(out, grad); err != nil {
			return 0, types.TrainingFailuref("backward pass failed: %w", err)
		}
		total += loss
	}

	if !t.opt.GradsFinite() {
		return 0, types.TrainingFailuref("gradients are not finite")
	}
	t.opt.Step()
	return total * scale, nil
}
