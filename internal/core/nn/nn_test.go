package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func randomDense(rng *rand.Rand, r, c int) *mat.Dense {
	m := mat.NewDense(r, c, nil)
	data := m.RawMatrix().Data
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return m
}

// weightedSum is the scalar loss sum(out * w) used by the gradient checks.
func weightedSum(out, w *mat.Dense) float64 {
	return mat.Sum(mulElem(out, w))
}

func mulElem(a, b *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	out := mat.NewDense(r, c, nil)
	out.MulElem(a, b)
	return out
}

// numericGrad perturbs every entry of target and measures the change in loss.
func numericGrad(target *mat.Dense, loss func() float64) *mat.Dense {
	const eps = 1e-5
	r, c := target.Dims()
	grad := mat.NewDense(r, c, nil)
	data := target.RawMatrix().Data
	gd := grad.RawMatrix().Data
	for i := range data {
		orig := data[i]
		data[i] = orig + eps
		up := loss()
		data[i] = orig - eps
		down := loss()
		data[i] = orig
		gd[i] = (up - down) / (2 * eps)
	}
	return grad
}

func assertClose(t *testing.T, want, got *mat.Dense, tol float64, msg string) {
	t.Helper()
	require.NotNil(t, got, msg)
	wr, wc := want.Dims()
	gr, gc := got.Dims()
	require.Equal(t, []int{wr, wc}, []int{gr, gc}, msg)
	wd := want.RawMatrix().Data
	gd := got.RawMatrix().Data
	for i := range wd {
		if math.Abs(wd[i]-gd[i]) > tol*(1+math.Abs(wd[i])) {
			t.Fatalf("%s: index %d want %.8f got %.8f", msg, i, wd[i], gd[i])
		}
	}
}

func TestLinearBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	reg := NewRegistry()
	lin := NewLinear(reg, "dense", 4, 3)
	reg.NormalInit(rng, 0.5)
	lin.Bias.Value.Copy(randomDense(rng, 1, 3))
	for _, p := range reg.All() {
		p.Trainable = true
	}

	x := randomDense(rng, 5, 4)
	w := randomDense(rng, 5, 3)
	loss := func() float64 { return weightedSum(lin.Forward(x), w) }

	dx := lin.Backward(x, w, true)

	assertClose(t, numericGrad(x, loss), dx, 1e-6, "dx")
	assertClose(t, numericGrad(lin.Weight.Value, loss), lin.Weight.Grad, 1e-6, "dW")
	assertClose(t, numericGrad(lin.Bias.Value, loss), lin.Bias.Grad, 1e-6, "db")
}

func TestLinearFrozenKeepsGradZero(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	reg := NewRegistry()
	lin := NewLinear(reg, "dense", 3, 2)
	reg.NormalInit(rng, 1)

	x := randomDense(rng, 2, 3)
	dx := lin.Backward(x, randomDense(rng, 2, 2), true)

	assert.NotNil(t, dx)
	assert.Equal(t, 0.0, mat.Sum(lin.Weight.Grad))
	assert.Equal(t, 0.0, mat.Sum(lin.Bias.Grad))
	assert.Nil(t, lin.Backward(x, randomDense(rng, 2, 2), false))
}

func TestLayerNormBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	reg := NewRegistry()
	ln := NewLayerNorm(reg, "LayerNorm", 6, 1e-12)
	ln.Gamma.Value.Copy(randomDense(rng, 1, 6))
	ln.Beta.Value.Copy(randomDense(rng, 1, 6))
	ln.Gamma.Trainable = true
	ln.Beta.Trainable = true

	x := randomDense(rng, 3, 6)
	w := randomDense(rng, 3, 6)
	loss := func() float64 {
		out, _ := ln.Forward(x)
		return weightedSum(out, w)
	}

	_, cache := ln.Forward(x)
	dx := ln.Backward(cache, w)

	assertClose(t, numericGrad(x, loss), dx, 1e-5, "dx")
	assertClose(t, numericGrad(ln.Gamma.Value, loss), ln.Gamma.Grad, 1e-5, "dgamma")
	assertClose(t, numericGrad(ln.Beta.Value, loss), ln.Beta.Grad, 1e-5, "dbeta")
}

func TestLayerNormNormalises(t *testing.T) {
	reg := NewRegistry()
	ln := NewLayerNorm(reg, "LayerNorm", 4, 1e-12)
	out, _ := ln.Forward(mat.NewDense(1, 4, []float64{1, 2, 3, 4}))

	row := out.RawRowView(0)
	mean := (row[0] + row[1] + row[2] + row[3]) / 4
	assert.InDelta(t, 0, mean, 1e-9)
	assert.InDelta(t, -row[3], row[0], 1e-9)
}

func TestActivationBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	x := randomDense(rng, 2, 5)
	w := randomDense(rng, 2, 5)

	geluLoss := func() float64 { return weightedSum(GELU(x), w) }
	assertClose(t, numericGrad(x, geluLoss), GELUBackward(x, w), 1e-6, "gelu")

	tanhLoss := func() float64 { return weightedSum(Tanh(x), w) }
	assertClose(t, numericGrad(x, tanhLoss), TanhBackward(Tanh(x), w), 1e-6, "tanh")
}

func TestDropout(t *testing.T) {
	x := mat.NewDense(1, 1000, nil)
	fill(x, 1)

	out, mask := Dropout{P: 0}.Forward(x, rand.New(rand.NewSource(5)))
	assert.Same(t, x, out)
	assert.Nil(t, mask)

	out, mask = Dropout{P: 0.5}.Forward(x, nil)
	assert.Same(t, x, out)
	assert.Nil(t, mask)

	out, mask = Dropout{P: 0.3}.Forward(x, rand.New(rand.NewSource(5)))
	require.NotNil(t, mask)
	zeros := 0
	for _, v := range out.RawRowView(0) {
		if v == 0 {
			zeros++
		} else {
			assert.InDelta(t, 1/0.7, v, 1e-12)
		}
	}
	assert.InDelta(t, 300, zeros, 60)
	assert.Equal(t, mask, Dropout{P: 0.3}.Backward(mask, x))
}

func TestSelfAttentionBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	reg := NewRegistry()
	attn, err := NewSelfAttention(reg, "attention.self", "attention.output.dense", 8, 2, 0)
	require.NoError(t, err)
	reg.NormalInit(rng, 0.3)
	for _, p := range reg.All() {
		p.Value.Copy(randomDense(rng, p.Value.RawMatrix().Rows, p.Value.RawMatrix().Cols))
		p.Value.Scale(0.3, p.Value)
		p.Trainable = true
	}

	x := randomDense(rng, 4, 8)
	w := randomDense(rng, 4, 8)
	loss := func() float64 {
		out, _ := attn.Forward(x, nil)
		return weightedSum(out, w)
	}

	_, cache := attn.Forward(x, nil)
	dx := attn.Backward(cache, w, true)

	assertClose(t, numericGrad(x, loss), dx, 1e-5, "dx")
	for _, p := range reg.All() {
		assertClose(t, numericGrad(p.Value, loss), p.Grad, 1e-5, p.Name)
	}
}

func TestSelfAttentionRejectsHeadMismatch(t *testing.T) {
	_, err := NewSelfAttention(NewRegistry(), "a", "b", 10, 3, 0)
	assert.Error(t, err)
}

func TestRegistryMatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register("encoder.layer.1.output.dense.weight", 1, 1)
	reg.Register("encoder.layer.11.output.dense.weight", 1, 1)
	reg.Register("pooler.dense.weight", 1, 1)

	matched := reg.Match("encoder.layer.1")
	require.Len(t, matched, 1)
	assert.Equal(t, "encoder.layer.1.output.dense.weight", matched[0].Name)
	assert.Len(t, reg.Match("pooler"), 1)
	assert.Empty(t, reg.Match("pool"))
	assert.Panics(t, func() { reg.Register("pooler.dense.weight", 1, 1) })
}

func TestSoftmaxAndArgMax(t *testing.T) {
	p := Softmax([]float64{1000, 1000})
	assert.InDelta(t, 0.5, p[0], 1e-12)
	assert.Equal(t, 0, ArgMax([]float64{0.3, 0.3}))
	assert.Equal(t, 1, ArgMax([]float64{-1, 2}))

	bad := mat.NewDense(1, 2, []float64{1, math.NaN()})
	assert.False(t, AllFinite(bad))
	assert.True(t, AllFinite(mat.NewDense(1, 1, []float64{3})))
}
