package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// SelfAttention is BERT multi-head self attention including its output
// projection. Padding is handled by the caller, which only passes real tokens.
type SelfAttention struct {
	Query  *Linear
	Key    *Linear
	Value  *Linear
	Output *Linear

	Heads   int
	Dropout Dropout
}

type AttentionCache struct {
	x, q, k, v *mat.Dense
	probs      []*mat.Dense
	dropMasks  []*mat.Dense
	context    *mat.Dense
}

// NewSelfAttention registers query/key/value under selfPrefix and the output
// projection under outputName, matching the HuggingFace layout
// "attention.self.*" and "attention.output.dense".
func NewSelfAttention(reg *Registry, selfPrefix, outputName string, hidden, heads int, dropout float64) (*SelfAttention, error) {
	if heads <= 0 || hidden%heads != 0 {
		return nil, fmt.Errorf("hidden size %d is not divisible by %d heads", hidden, heads)
	}
	return &SelfAttention{
		Query:   NewLinear(reg, selfPrefix+".query", hidden, hidden),
		Key:     NewLinear(reg, selfPrefix+".key", hidden, hidden),
		Value:   NewLinear(reg, selfPrefix+".value", hidden, hidden),
		Output:  NewLinear(reg, outputName, hidden, hidden),
		Heads:   heads,
		Dropout: Dropout{P: dropout},
	}, nil
}

func (a *SelfAttention) Trainable() bool {
	return a.Query.Trainable() || a.Key.Trainable() || a.Value.Trainable() || a.Output.Trainable()
}

func (a *SelfAttention) headDim() int {
	_, hidden := a.Query.Weight.Dims()
	return hidden / a.Heads
}

func cols(m *mat.Dense, from, to int) *mat.Dense {
	rows, _ := m.Dims()
	return m.Slice(0, rows, from, to).(*mat.Dense)
}

// Forward maps x [T, H] to [T, H]. A nil rng disables attention dropout.
func (a *SelfAttention) Forward(x *mat.Dense, rng *rand.Rand) (*mat.Dense, *AttentionCache) {
	T, hidden := x.Dims()
	dh := a.headDim()
	scale := 1 / math.Sqrt(float64(dh))

	q := a.Query.Forward(x)
	k := a.Key.Forward(x)
	v := a.Value.Forward(x)

	cache := &AttentionCache{
		x: x, q: q, k: k, v: v,
		probs:     make([]*mat.Dense, a.Heads),
		dropMasks: make([]*mat.Dense, a.Heads),
		context:   mat.NewDense(T, hidden, nil),
	}

	for h := 0; h < a.Heads; h++ {
		lo, hi := h*dh, (h+1)*dh
		scores := matMul(cols(q, lo, hi), cols(k, lo, hi).T())
		scores.Scale(scale, scores)
		softmaxRows(scores)
		cache.probs[h] = scores

		dropped, mask := a.Dropout.Forward(scores, rng)
		cache.dropMasks[h] = mask
		cols(cache.context, lo, hi).Mul(dropped, cols(v, lo, hi))
	}

	return a.Output.Forward(cache.context), cache
}

// Backward accumulates gradients for every projection and returns dX when
// needInput is set.
func (a *SelfAttention) Backward(cache *AttentionCache, dy *mat.Dense, needInput bool) *mat.Dense {
	T, hidden := cache.x.Dims()
	dh := a.headDim()
	scale := 1 / math.Sqrt(float64(dh))

	dCtx := a.Output.Backward(cache.context, dy, true)

	dq := mat.NewDense(T, hidden, nil)
	dk := mat.NewDense(T, hidden, nil)
	dv := mat.NewDense(T, hidden, nil)

	for h := 0; h < a.Heads; h++ {
		lo, hi := h*dh, (h+1)*dh
		probs := cache.probs[h]
		mask := cache.dropMasks[h]
		dropped := probs
		if mask != nil {
			dropped = mat.NewDense(T, T, nil)
			dropped.MulElem(probs, mask)
		}
		dC := cols(dCtx, lo, hi)

		cols(dv, lo, hi).Mul(dropped.T(), dC)
		dP := a.Dropout.Backward(mask, matMul(dC, cols(cache.v, lo, hi).T()))

		dS := mat.NewDense(T, T, nil)
		for i := 0; i < T; i++ {
			p := probs.RawRowView(i)
			g := dP.RawRowView(i)
			dot := 0.0
			for j := range p {
				dot += p[j] * g[j]
			}
			out := dS.RawRowView(i)
			for j := range p {
				out[j] = p[j] * (g[j] - dot) * scale
			}
		}

		cols(dq, lo, hi).Mul(dS, cols(cache.k, lo, hi))
		cols(dk, lo, hi).Mul(dS.T(), cols(cache.q, lo, hi))
	}

	dxq := a.Query.Backward(cache.x, dq, needInput)
	dxk := a.Key.Backward(cache.x, dk, needInput)
	dxv := a.Value.Backward(cache.x, dv, needInput)
	if !needInput {
		return nil
	}
	dx := add(dxq, dxk)
	dx.Add(dx, dxv)
	return dx
}
