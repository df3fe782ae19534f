package bert

import (
	"errors"
	"fmt"
	"math/rand"

	"sentiment-backend/internal/core/nn"

	"gonum.org/v1/gonum/mat"
)

// Encoder is a BERT model without a task head: embeddings, a stack of layers
// and the tanh pooler over the [CLS] state.
type Encoder struct {
	Config     Config
	Params     *nn.Registry
	Embeddings *Embeddings
	Layers     []*Layer
	Pooler     *nn.Linear
}

// Cache holds the activations of one forward pass that the backward pass needs.
// Blocks below the lowest trainable block are not cached.
type Cache struct {
	lowest int
	length int
	emb    *embeddingsCache
	layers []*layerCache
	cls    *mat.Dense
	pooled *mat.Dense
}

var ErrEmptySequence = errors.New("sequence has no attended tokens")

// NewEncoder registers every encoder parameter in reg with zero values.
func NewEncoder(reg *nn.Registry, cfg Config) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	enc := &Encoder{
		Config:     cfg,
		Params:     reg,
		Embeddings: newEmbeddings(reg, cfg),
	}
	for i := 0; i < cfg.NumHiddenLayers; i++ {
		layer, err := newLayer(reg, cfg, i)
		if err != nil {
			return nil, fmt.Errorf("error building encoder layer %d: %w", i, err)
		}
		enc.Layers = append(enc.Layers, layer)
	}
	enc.Pooler = nn.NewLinear(reg, "pooler.dense", cfg.HiddenSize, cfg.HiddenSize)
	return enc, nil
}

// block indices: 0 is the embeddings, 1..L the layers, L+1 the pooler.
func (e *Encoder) poolerBlock() int {
	return len(e.Layers) + 1
}

// LowestTrainable returns the lowest block with a trainable parameter, or -1.
func (e *Encoder) LowestTrainable() int {
	if e.Embeddings.Trainable() {
		return 0
	}
	for i, l := range e.Layers {
		if l.Trainable() {
			return i + 1
		}
	}
	if e.Pooler.Trainable() {
		return e.poolerBlock()
	}
	return -1
}

// attended returns the token ids and original positions of unmasked tokens.
// Dropping padded keys is equivalent to an additive key padding mask for every
// attended position.
func attended(ids, mask []int) ([]int, []int) {
	keep := make([]int, 0, len(ids))
	positions := make([]int, 0, len(ids))
	for i, id := range ids {
		if mask == nil || mask[i] != 0 {
			keep = append(keep, id)
			positions = append(positions, i)
		}
	}
	return keep, positions
}

// Forward returns the pooled [1, hidden] representation. A nil rng disables
// dropout; track keeps the activations needed by Backward.
func (e *Encoder) Forward(ids, mask []int, rng *rand.Rand, track bool) (*mat.Dense, *Cache, error) {
	if mask != nil && len(mask) != len(ids) {
		return nil, nil, fmt.Errorf("attention mask length %d does not match %d token ids", len(mask), len(ids))
	}
	tokens, positions := attended(ids, mask)
	if len(tokens) == 0 {
		return nil, nil, ErrEmptySequence
	}

	var cache *Cache
	lowest := -1
	if track {
		lowest = e.LowestTrainable()
		cache = &Cache{lowest: lowest, length: len(tokens), layers: make([]*layerCache, len(e.Layers))}
	}
	keep := func(block int) bool {
		return track && lowest >= 0 && block >= lowest
	}

	h, embCache, err := e.Embeddings.Forward(tokens, positions, rng)
	if err != nil {
		return nil, nil, err
	}
	if keep(0) {
		cache.emb = embCache
	}
	for i, layer := range e.Layers {
		var lc *layerCache
		h, lc = layer.Forward(h, rng)
		if keep(i + 1) {
			cache.layers[i] = lc
		}
	}

	_, hidden := h.Dims()
	cls := mat.NewDense(1, hidden, nil)
	copy(cls.RawRowView(0), h.RawRowView(0))
	pooled := nn.Tanh(e.Pooler.Forward(cls))
	if track {
		cache.cls = cls
		cache.pooled = pooled
	}
	return pooled, cache, nil
}

// Backward propagates the gradient of the pooled output down to the lowest
// trainable block and no further.
func (e *Encoder) Backward(cache *Cache, dPooled *mat.Dense) {
	if cache == nil || cache.lowest < 0 {
		return
	}
	top := e.poolerBlock()
	dPre := nn.TanhBackward(cache.pooled, dPooled)
	dCls := e.Pooler.Backward(cache.cls, dPre, cache.lowest < top)
	if cache.lowest == top {
		return
	}

	_, hidden := dCls.Dims()
	dh := mat.NewDense(cache.length, hidden, nil)
	copy(dh.RawRowView(0), dCls.RawRowView(0))
	for i := len(e.Layers) - 1; i >= 0 && i+1 >= cache.lowest; i-- {
		dh = e.Layers[i].Backward(cache.layers[i], dh, cache.lowest < i+1)
	}
	if cache.lowest == 0 {
		e.Embeddings.Backward(cache.emb, dh)
	}
}
