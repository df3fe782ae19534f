package bert

import (
	"fmt"
	"math/rand"

	"sentiment-backend/internal/core/nn"

	"gonum.org/v1/gonum/mat"
)

// Layer is one transformer block in post-norm BERT order:
//
//	h1 = LN(x + drop(attn(x)))
//	h2 = LN(h1 + drop(W2 gelu(W1 h1)))
type Layer struct {
	Attention    *nn.SelfAttention
	AttnNorm     *nn.LayerNorm
	Intermediate *nn.Linear
	Output       *nn.Linear
	OutputNorm   *nn.LayerNorm
	Dropout      nn.Dropout
}

type layerCache struct {
	attn     *nn.AttentionCache
	attnDrop *mat.Dense
	attnNorm *nn.LayerNormCache
	h1       *mat.Dense
	inter    *mat.Dense
	act      *mat.Dense
	outDrop  *mat.Dense
	outNorm  *nn.LayerNormCache
}

func newLayer(reg *nn.Registry, cfg Config, index int) (*Layer, error) {
	prefix := fmt.Sprintf("encoder.layer.%d", index)
	attn, err := nn.NewSelfAttention(reg,
		prefix+".attention.self", prefix+".attention.output.dense",
		cfg.HiddenSize, cfg.NumAttentionHeads, cfg.AttentionDropoutProb)
	if err != nil {
		return nil, err
	}
	return &Layer{
		Attention:    attn,
		AttnNorm:     nn.NewLayerNorm(reg, prefix+".attention.output.LayerNorm", cfg.HiddenSize, cfg.LayerNormEps),
		Intermediate: nn.NewLinear(reg, prefix+".intermediate.dense", cfg.HiddenSize, cfg.IntermediateSize),
		Output:       nn.NewLinear(reg, prefix+".output.dense", cfg.IntermediateSize, cfg.HiddenSize),
		OutputNorm:   nn.NewLayerNorm(reg, prefix+".output.LayerNorm", cfg.HiddenSize, cfg.LayerNormEps),
		Dropout:      nn.Dropout{P: cfg.HiddenDropoutProb},
	}, nil
}

func (l *Layer) Trainable() bool {
	return l.Attention.Trainable() || l.AttnNorm.Trainable() ||
		l.Intermediate.Trainable() || l.Output.Trainable() || l.OutputNorm.Trainable()
}

func (l *Layer) Forward(x *mat.Dense, rng *rand.Rand) (*mat.Dense, *layerCache) {
	c := &layerCache{}

	attnOut, attnCache := l.Attention.Forward(x, rng)
	c.attn = attnCache
	attnOut, c.attnDrop = l.Dropout.Forward(attnOut, rng)
	attnOut.Add(attnOut, x)
	c.h1, c.attnNorm = l.AttnNorm.Forward(attnOut)

	c.inter = l.Intermediate.Forward(c.h1)
	c.act = nn.GELU(c.inter)
	ffn := l.Output.Forward(c.act)
	ffn, c.outDrop = l.Dropout.Forward(ffn, rng)
	ffn.Add(ffn, c.h1)
	h2, outNorm := l.OutputNorm.Forward(ffn)
	c.outNorm = outNorm
	return h2, c
}

// Backward returns dX when needInput is set, otherwise only accumulates the
// block's parameter gradients.
func (l *Layer) Backward(c *layerCache, dy *mat.Dense, needInput bool) *mat.Dense {
	dSum2 := l.OutputNorm.Backward(c.outNorm, dy)
	dFfn := l.Dropout.Backward(c.outDrop, dSum2)
	dAct := l.Output.Backward(c.act, dFfn, true)
	dInter := nn.GELUBackward(c.inter, dAct)
	dh1 := l.Intermediate.Backward(c.h1, dInter, true)
	dh1.Add(dh1, dSum2)

	dSum1 := l.AttnNorm.Backward(c.attnNorm, dh1)
	dAttn := l.Dropout.Backward(c.attnDrop, dSum1)
	dx := l.Attention.Backward(c.attn, dAttn, needInput)
	if !needInput {
		return nil
	}
	dx.Add(dx, dSum1)
	return dx
}
