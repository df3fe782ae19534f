package bert

import (
	"fmt"
	"math/rand"

	"sentiment-backend/internal/core/nn"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type Embeddings struct {
	Word      *nn.Parameter
	Position  *nn.Parameter
	TokenType *nn.Parameter
	Norm      *nn.LayerNorm
	Dropout   nn.Dropout
}

type embeddingsCache struct {
	ids       []int
	positions []int
	norm      *nn.LayerNormCache
	dropMask  *mat.Dense
}

func newEmbeddings(reg *nn.Registry, cfg Config) *Embeddings {
	return &Embeddings{
		Word:      reg.Register("embeddings.word_embeddings.weight", cfg.VocabSize, cfg.HiddenSize),
		Position:  reg.Register("embeddings.position_embeddings.weight", cfg.MaxPositionEmbeddings, cfg.HiddenSize),
		TokenType: reg.Register("embeddings.token_type_embeddings.weight", cfg.TypeVocabSize, cfg.HiddenSize),
		Norm:      nn.NewLayerNorm(reg, "embeddings.LayerNorm", cfg.HiddenSize, cfg.LayerNormEps),
		Dropout:   nn.Dropout{P: cfg.HiddenDropoutProb},
	}
}

func (e *Embeddings) Trainable() bool {
	return e.Word.Trainable || e.Position.Trainable || e.TokenType.Trainable || e.Norm.Trainable()
}

// Forward sums word, position and segment-0 embeddings for each token.
func (e *Embeddings) Forward(ids, positions []int, rng *rand.Rand) (*mat.Dense, *embeddingsCache, error) {
	vocab, hidden := e.Word.Dims()
	maxPos, _ := e.Position.Dims()
	x := mat.NewDense(len(ids), hidden, nil)
	segment := e.TokenType.Value.RawRowView(0)
	for t, id := range ids {
		if id < 0 || id >= vocab {
			return nil, nil, fmt.Errorf("token id %d outside vocabulary of size %d", id, vocab)
		}
		if positions[t] >= maxPos {
			return nil, nil, fmt.Errorf("position %d exceeds max_position_embeddings %d", positions[t], maxPos)
		}
		row := x.RawRowView(t)
		copy(row, e.Word.Value.RawRowView(id))
		floats.Add(row, e.Position.Value.RawRowView(positions[t]))
		floats.Add(row, segment)
	}
	normed, normCache := e.Norm.Forward(x)
	out, mask := e.Dropout.Forward(normed, rng)
	return out, &embeddingsCache{ids: ids, positions: positions, norm: normCache, dropMask: mask}, nil
}

// Backward scatters gradients into the embedding tables row by row.
func (e *Embeddings) Backward(cache *embeddingsCache, dy *mat.Dense) {
	dx := e.Norm.Backward(cache.norm, e.Dropout.Backward(cache.dropMask, dy))
	for t, id := range cache.ids {
		g := dx.RawRowView(t)
		if e.Word.Trainable {
			floats.Add(e.Word.Grad.RawRowView(id), g)
		}
		if e.Position.Trainable {
			floats.Add(e.Position.Grad.RawRowView(cache.positions[t]), g)
		}
		if e.TokenType.Trainable {
			floats.Add(e.TokenType.Grad.RawRowView(0), g)
		}
	}
}
