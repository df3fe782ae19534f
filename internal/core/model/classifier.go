package model

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"sentiment-backend/internal/core/bert"
	"sentiment-backend/internal/core/nn"
	"sentiment-backend/internal/core/safetensors"
	"sentiment-backend/internal/core/types"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const NumClasses = 2

const headName = "classifier"

// Classifier is a pretrained encoder followed by dropout and a linear layer
// producing two logits (0 = negative, 1 = positive) from the pooled output.
type Classifier struct {
	Encoder *bert.Encoder
	Head    *nn.Linear
	Dropout nn.Dropout

	head   *nn.Registry
	groups []string
}

// Output is the result of one forward pass over a single example.
type Output struct {
	Logits []float64

	cache    *bert.Cache
	pooled   *mat.Dense
	dropped  *mat.Dense
	dropMask *mat.Dense
}

// New wraps enc with a freshly initialised head and applies the trainability
// policy. The head is always trainable.
func New(enc *bert.Encoder, dropout float64, groups []string, rng *rand.Rand) (*Classifier, error) {
	if dropout < 0 || dropout >= 1 {
		return nil, fmt.Errorf("dropout must be in [0, 1), got %v", dropout)
	}
	head := nn.NewRegistry()
	c := &Classifier{
		Encoder: enc,
		Head:    nn.NewLinear(head, headName, enc.Config.HiddenSize, NumClasses),
		Dropout: nn.Dropout{P: dropout},
		head:    head,
	}
	head.NormalInit(rng, bert.InitStd)

	resolved, err := ApplyTrainability(enc, groups)
	if err != nil {
		return nil, err
	}
	c.groups = resolved
	for _, p := range head.All() {
		p.Trainable = true
	}

	slog.Info("model trainability resolved",
		"groups", resolved,
		"trainable_params", countValues(c.TrainableParams()),
		"frozen_params", countValues(enc.Params.Frozen()))
	return c, nil
}

func countValues(params []*nn.Parameter) int {
	n := 0
	for _, p := range params {
		n += p.Size()
	}
	return n
}

// Groups returns the resolved trainable encoder groups.
func (c *Classifier) Groups() []string {
	return c.groups
}

// TrainableParams lists the encoder's trainable parameters followed by the head.
func (c *Classifier) TrainableParams() []*nn.Parameter {
	return append(c.Encoder.Params.Trainable(), c.head.Trainable()...)
}

func (c *Classifier) HeadParams() *nn.Registry {
	return c.head
}

func (c *Classifier) ZeroGrad() {
	c.Encoder.Params.ZeroGrad()
	c.head.ZeroGrad()
}

// Forward runs one example. With train set, dropout is active (drawing from rng)
// and activations are kept for Backward; otherwise it is a pure inference pass.
func (c *Classifier) Forward(ids, mask []int, train bool, rng *rand.Rand) (*Output, error) {
	if !train {
		rng = nil
	}
	pooled, cache, err := c.Encoder.Forward(ids, mask, rng, train)
	if err != nil {
		return nil, fmt.Errorf("error running encoder: %w", err)
	}
	dropped, dropMask := c.Dropout.Forward(pooled, rng)
	logits := c.Head.Forward(dropped)

	out := &Output{Logits: append([]float64(nil), logits.RawRowView(0)...)}
	if train {
		out.cache = cache
		out.pooled = pooled
		out.dropped = dropped
		out.dropMask = dropMask
	}
	return out, nil
}

// Backward accumulates gradients for dLogits, the derivative of the loss with
// respect to this example's logits.
func (c *Classifier) Backward(out *Output, dLogits []float64) error {
	if out.pooled == nil {
		return fmt.Errorf("backward called on an inference pass")
	}
	dy := mat.NewDense(1, NumClasses, append([]float64(nil), dLogits...))
	needEncoder := c.Encoder.LowestTrainable() >= 0
	dDropped := c.Head.Backward(out.dropped, dy, needEncoder)
	if !needEncoder {
		return nil
	}
	c.Encoder.Backward(out.cache, c.Dropout.Backward(out.dropMask, dDropped))
	return nil
}

// CrossEntropy returns -log softmax(logits)[label] and its gradient.
func CrossEntropy(logits []float64, label int) (float64, []float64) {
	maxLogit := floats.Max(logits)
	sum := 0.0
	for _, l := range logits {
		sum += math.Exp(l - maxLogit)
	}
	loss := maxLogit + math.Log(sum) - logits[label]
	grad := nn.Softmax(logits)
	grad[label] -= 1
	return loss, grad
}

// Tensors exports all weights in the layout of a torch state_dict for a module
// with `bert` and `classifier` children.
func (c *Classifier) Tensors() map[string]safetensors.Tensor {
	out := bert.Tensors(c.Encoder.Params, bert.Prefix)
	for name, t := range bert.Tensors(c.head, "") {
		out[name] = t
	}
	return out
}

// LoadTensors restores encoder and head weights written by Tensors. Head names
// from an nn.Sequential(Dropout, Linear) export ("classifier.1.weight") are
// accepted too.
func (c *Classifier) LoadTensors(tensors map[string]safetensors.Tensor) error {
	encoderTensors := make(map[string]safetensors.Tensor)
	headTensors := make(map[string]safetensors.Tensor)
	for name, t := range tensors {
		switch name {
		case "classifier.1.weight":
			headTensors[headName+".weight"] = t
		case "classifier.1.bias":
			headTensors[headName+".bias"] = t
		case headName + ".weight", headName + ".bias":
			headTensors[name] = t
		default:
			encoderTensors[name] = t
		}
	}
	if _, err := bert.AssignWeights(c.Encoder.Params, encoderTensors); err != nil {
		return err
	}
	if _, err := bert.AssignWeights(c.head, headTensors); err != nil {
		return types.PersistenceErrorf("error restoring classifier head: %w", err)
	}
	return nil
}
