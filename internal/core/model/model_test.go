package model

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"sentiment-backend/internal/core/bert"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func tinyEncoder(t *testing.T, seed int64) *bert.Encoder {
	t.Helper()
	enc, err := bert.NewRandom(bert.Config{
		VocabSize:             30,
		HiddenSize:            8,
		NumHiddenLayers:       3,
		NumAttentionHeads:     2,
		IntermediateSize:      16,
		MaxPositionEmbeddings: 32,
		TypeVocabSize:         2,
		LayerNormEps:          1e-12,
	}, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return enc
}

func TestDefaultGroupsUnfreezeLastLayerAndPooler(t *testing.T) {
	enc := tinyEncoder(t, 1)
	clf, err := New(enc, 0.3, DefaultGroups, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	assert.Equal(t, []string{"encoder.layer.2", "pooler"}, clf.Groups())
	for _, p := range enc.Params.All() {
		want := strings.HasPrefix(p.Name, "encoder.layer.2.") || strings.HasPrefix(p.Name, "pooler.")
		assert.Equal(t, want, p.Trainable, p.Name)
	}
	for _, p := range clf.HeadParams().All() {
		assert.True(t, p.Trainable, p.Name)
	}
	assert.Equal(t, 3, enc.LowestTrainable())
}

func TestTrainabilityFailsLoudly(t *testing.T) {
	enc := tinyEncoder(t, 2)

	_, err := New(enc, 0.3, []string{"encoder.layer.7"}, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, ErrInvalidTrainability)

	_, err = New(enc, 0.3, []string{" ", ""}, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, ErrInvalidTrainability)

	_, err = New(enc, 1.5, DefaultGroups, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestResolveGroup(t *testing.T) {
	assert.Equal(t, "encoder.layer.11", ResolveGroup("encoder.layer.last", 12))
	assert.Equal(t, "encoder.layer.11.output", ResolveGroup("bert.encoder.layer.last.output", 12))
	assert.Equal(t, "pooler", ResolveGroup(" bert.pooler ", 12))
	assert.Equal(t, "embeddings", ResolveGroup("embeddings", 12))
}

func TestCrossEntropy(t *testing.T) {
	loss, grad := CrossEntropy([]float64{0, 0}, 1)
	assert.InDelta(t, math.Log(2), loss, 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, -0.5}, grad, 1e-12)

	loss, _ = CrossEntropy([]float64{1000, -1000}, 1)
	assert.False(t, math.IsInf(loss, 0))
	assert.InDelta(t, 2000, loss, 1e-9)
}

func TestClassifierGradientMatchesFiniteDifferences(t *testing.T) {
	enc := tinyEncoder(t, 3)
	clf, err := New(enc, 0, []string{"encoder.layer.last", "pooler"}, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	// Give the head and top block enough signal for a stable numeric check.
	rng := rand.New(rand.NewSource(4))
	for _, p := range clf.TrainableParams() {
		data := p.Value.RawMatrix().Data
		for i := range data {
			data[i] += rng.NormFloat64() * 0.3
		}
	}

	ids := []int{1, 9, 4, 2, 0}
	mask := []int{1, 1, 1, 1, 0}
	loss := func() float64 {
		out, err := clf.Forward(ids, mask, false, nil)
		require.NoError(t, err)
		l, _ := CrossEntropy(out.Logits, 1)
		return l
	}

	out, err := clf.Forward(ids, mask, true, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	_, grad := CrossEntropy(out.Logits, 1)
	require.NoError(t, clf.Backward(out, grad))

	const eps = 1e-5
	for _, p := range clf.TrainableParams() {
		data := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		for i := range data {
			orig := data[i]
			data[i] = orig + eps
			up := loss()
			data[i] = orig - eps
			down := loss()
			data[i] = orig
			numeric := (up - down) / (2 * eps)
			if math.Abs(numeric-g[i]) > 1e-5*(1+math.Abs(numeric)) {
				t.Fatalf("%s[%d]: numeric %.8f analytic %.8f", p.Name, i, numeric, g[i])
			}
		}
	}
	for _, p := range enc.Params.Frozen() {
		assert.Zero(t, mat.Sum(p.Grad), p.Name)
	}
}

func TestInferencePassIsDeterministic(t *testing.T) {
	enc := tinyEncoder(t, 6)
	clf, err := New(enc, 0.3, DefaultGroups, rand.New(rand.NewSource(6)))
	require.NoError(t, err)

	a, err := clf.Forward([]int{1, 5, 2}, nil, false, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	b, err := clf.Forward([]int{1, 5, 2}, nil, false, rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	assert.Equal(t, a.Logits, b.Logits)
	assert.Error(t, clf.Backward(a, []float64{1, -1}))
}

func TestTensorsRoundTrip(t *testing.T) {
	src, err := New(tinyEncoder(t, 7), 0.3, DefaultGroups, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	tensors := src.Tensors()
	assert.Contains(t, tensors, "bert.pooler.dense.weight")
	assert.Contains(t, tensors, "classifier.weight")

	dst, err := New(tinyEncoder(t, 8), 0.3, DefaultGroups, rand.New(rand.NewSource(8)))
	require.NoError(t, err)

	w := tensors["classifier.weight"]
	delete(tensors, "classifier.weight")
	tensors["classifier.1.weight"] = w
	require.NoError(t, dst.LoadTensors(tensors))

	ids := []int{1, 3, 3, 2}
	a, err := src.Forward(ids, nil, false, nil)
	require.NoError(t, err)
	b, err := dst.Forward(ids, nil, false, nil)
	require.NoError(t, err)
	assert.Equal(t, a.Logits, b.Logits)
}
