package train

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"sentiment-backend/internal/core/bert"
	"sentiment-backend/internal/core/dataset"
	"sentiment-backend/internal/core/model"
	"sentiment-backend/internal/core/nn"
	"sentiment-backend/internal/core/tokenizer"
	"sentiment-backend/internal/core/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestAdamWStep(t *testing.T) {
	reg := nn.NewRegistry()
	p := reg.Register("w", 1, 2)
	p.Trainable = true
	p.Value.SetRow(0, []float64{1, -2})
	p.Grad.SetRow(0, []float64{0.5, 0})

	opt, err := NewAdamW([]*nn.Parameter{p}, AdamWConfig{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8, WeightDecay: 0.01})
	require.NoError(t, err)
	opt.Step()

	// m_hat = g and v_hat = g^2 after one bias-corrected step, so the Adam
	// update is lr * sign(g); decay multiplies by (1 - lr*wd) first.
	assert.InDelta(t, 1*(1-0.001)-0.1, p.Value.At(0, 0), 1e-7)
	assert.InDelta(t, -2*(1-0.001), p.Value.At(0, 1), 1e-12)
	assert.Equal(t, 1, opt.Steps())

	opt.ZeroGrad()
	assert.Zero(t, mat.Sum(p.Grad))
}

func TestAdamWRejectsFrozenParams(t *testing.T) {
	reg := nn.NewRegistry()
	p := reg.Register("w", 1, 1)
	_, err := NewAdamW([]*nn.Parameter{p}, DefaultAdamW(1e-3))
	assert.Error(t, err)
	_, err = NewAdamW(nil, DefaultAdamW(1e-3))
	assert.Error(t, err)
}

func TestConfusionMatrixAndF1(t *testing.T) {
	labels := []int{1, 1, 0, 0, 1, 0}
	preds := []int{1, 0, 0, 1, 1, 0}
	cm, err := NewConfusionMatrix(labels, preds)
	require.NoError(t, err)
	assert.Equal(t, ConfusionMatrix{{2, 1}, {1, 2}}, cm)
	assert.InDelta(t, 4.0/6, cm.Accuracy(), 1e-12)
	precision, recall, f1 := cm.PrecisionRecallF1()
	assert.InDelta(t, 2.0/3, precision, 1e-12)
	assert.InDelta(t, 2.0/3, recall, 1e-12)
	assert.InDelta(t, 2.0/3, f1, 1e-12)

	cm, err = NewConfusionMatrix([]int{0, 0, 1}, []int{0, 0, 0})
	require.NoError(t, err)
	_, _, f1 = cm.PrecisionRecallF1()
	assert.Zero(t, f1)

	_, err = NewConfusionMatrix([]int{0}, []int{0, 1})
	assert.Error(t, err)
	_, err = NewConfusionMatrix([]int{2}, []int{0})
	assert.Error(t, err)
}

func TestMeanLoss(t *testing.T) {
	m, err := meanLoss([]float64{1, 2, 6})
	require.NoError(t, err)
	assert.InDelta(t, 3, m, 1e-12)
	_, err = meanLoss(nil)
	assert.Error(t, err)
}

var corpus = []dataset.Sample{
	{Text: "great wonderful film", Label: 1},
	{Text: "awful boring film", Label: 0},
	{Text: "wonderful great acting", Label: 1},
	{Text: "boring awful plot", Label: 0},
	{Text: "great film", Label: 1},
	{Text: "awful film", Label: 0},
	{Text: "wonderful plot", Label: 1},
	{Text: "boring acting", Label: 0},
}

type fixture struct {
	clf   *model.Classifier
	opt   *AdamW
	train *dataset.Loader
	eval  *dataset.Loader
	rng   *rand.Rand
}

func newFixture(t *testing.T, lr float64) fixture {
	t.Helper()
	tok, err := tokenizer.NewWordPiece(tokenizer.BuildVocab(dataset.Texts(corpus), 200, true), true)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	enc, err := bert.NewRandom(bert.Config{
		VocabSize:             tok.VocabSize(),
		HiddenSize:            8,
		NumHiddenLayers:       2,
		NumAttentionHeads:     2,
		IntermediateSize:      16,
		MaxPositionEmbeddings: 16,
		TypeVocabSize:         2,
		LayerNormEps:          1e-12,
		HiddenDropoutProb:     0.1,
	}, rng)
	require.NoError(t, err)
	clf, err := model.New(enc, 0.1, model.DefaultGroups, rng)
	require.NoError(t, err)
	opt, err := NewAdamW(clf.TrainableParams(), DefaultAdamW(lr))
	require.NoError(t, err)

	adapter, err := dataset.FromSamples(corpus, tok, 8)
	require.NoError(t, err)
	trainLoader, err := dataset.NewLoader(adapter, 3, true, rng, 2)
	require.NoError(t, err)
	evalLoader, err := dataset.NewLoader(adapter, 3, false, nil, 2)
	require.NoError(t, err)
	return fixture{clf: clf, opt: opt, train: trainLoader, eval: evalLoader, rng: rng}
}

func snapshot(params []*nn.Parameter) map[string]*mat.Dense {
	out := make(map[string]*mat.Dense, len(params))
	for _, p := range params {
		out[p.Name] = mat.DenseCopyOf(p.Value)
	}
	return out
}

func TestTrainerRunsStateMachine(t *testing.T) {
	f := newFixture(t, 1e-2)
	frozen := snapshot(f.clf.Encoder.Params.Frozen())
	trainable := snapshot(f.clf.Encoder.Params.Trainable())

	var states []State
	var epochs []int
	batches := 0
	trainer, err := NewTrainer(f.clf, f.opt, f.train, f.eval, f.rng, Config{Epochs: 3, EvalWorkers: 2}, Observer{
		OnState: func(s State, epoch int) {
			states = append(states, s)
			epochs = append(epochs, epoch)
		},
		OnBatch: func(epoch, batch, numBatches int, loss float64) {
			batches++
			assert.Equal(t, 3, numBatches)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, Training, trainer.State())

	history, err := trainer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []State{Training, Validating, Training, Validating, Training, Validating, Done}, states)
	assert.Equal(t, []int{1, 1, 2, 2, 3, 3, 3}, epochs)
	assert.Equal(t, 9, batches)
	assert.Equal(t, Done, trainer.State())
	require.Len(t, history, 3)
	for i, m := range history {
		assert.Equal(t, i+1, m.Epoch)
		assert.False(t, math.IsNaN(m.TrainLoss))
		assert.GreaterOrEqual(t, m.Accuracy, 0.0)
		assert.LessOrEqual(t, m.Accuracy, 1.0)
	}

	for _, p := range f.clf.Encoder.Params.Frozen() {
		assert.True(t, mat.Equal(frozen[p.Name], p.Value), "frozen parameter %s changed", p.Name)
	}
	changed := 0
	for _, p := range f.clf.Encoder.Params.Trainable() {
		if !mat.Equal(trainable[p.Name], p.Value) {
			changed++
		}
	}
	assert.Positive(t, changed)

	eval := trainer.LastEvaluation()
	require.NotNil(t, eval)
	assert.Len(t, eval.Predictions, len(corpus))
	assert.Equal(t, len(corpus), eval.Confusion.Total())
	assert.Equal(t, dataset.Labels(corpus), eval.Labels)

	_, err = trainer.Run(context.Background())
	assert.Error(t, err)
}

func TestTrainingReducesLoss(t *testing.T) {
	f := newFixture(t, 5e-2)
	trainer, err := NewTrainer(f.clf, f.opt, f.train, f.eval, f.rng, Config{Epochs: 30, EvalWorkers: 1}, Observer{})
	require.NoError(t, err)

	history, err := trainer.Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, history[len(history)-1].ValLoss, history[0].ValLoss)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	f := newFixture(t, 1e-3)
	a, err := Evaluate(context.Background(), f.clf, f.eval, 4)
	require.NoError(t, err)
	b, err := Evaluate(context.Background(), f.clf, f.eval, 1)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	for i, conf := range a.Confidences {
		assert.GreaterOrEqual(t, conf, 0.5, i)
		assert.LessOrEqual(t, conf, 1.0, i)
	}
}

func TestTrainerCancellation(t *testing.T) {
	f := newFixture(t, 1e-3)
	ctx, cancel := context.WithCancel(context.Background())
	trainer, err := NewTrainer(f.clf, f.opt, f.train, f.eval, f.rng, Config{Epochs: 2}, Observer{
		OnBatch: func(epoch, batch, numBatches int, loss float64) { cancel() },
	})
	require.NoError(t, err)

	history, err := trainer.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, history)
}

func TestNonFiniteLossIsTrainingFailure(t *testing.T) {
	f := newFixture(t, 1e-3)
	f.clf.Head.Weight.Value.Set(0, 0, math.Inf(1))
	f.clf.Head.Weight.Value.Set(1, 0, math.Inf(-1))
	trainer, err := NewTrainer(f.clf, f.opt, f.train, f.eval, f.rng, Config{Epochs: 1}, Observer{})
	require.NoError(t, err)

	_, err = trainer.Run(context.Background())
	assert.ErrorIs(t, err, types.ErrTrainingFailure)
}

func TestNewTrainerValidation(t *testing.T) {
	f := newFixture(t, 1e-3)
	_, err := NewTrainer(f.clf, f.opt, f.train, f.eval, f.rng, Config{Epochs: 0}, Observer{})
	assert.Error(t, err)
	_, err = NewTrainer(f.clf, f.opt, f.train, f.eval, nil, Config{Epochs: 1}, Observer{})
	assert.Error(t, err)
	assert.Equal(t, "validating", Validating.String())
}
