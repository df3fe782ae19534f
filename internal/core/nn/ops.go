package nn

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// matMul returns a*b as a fresh matrix; either operand may be a transposed view.
func matMul(a, b mat.Matrix) *mat.Dense {
	ar, _ := a.Dims()
	_, bc := b.Dims()
	out := mat.NewDense(ar, bc, nil)
	out.Mul(a, b)
	return out
}

// addRow adds the 1 x n vector v to every row of m in place.
func addRow(m *mat.Dense, v *mat.Dense) {
	rows, _ := m.Dims()
	vec := v.RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(m.RawRowView(i), vec)
	}
}

// colSums returns the 1 x n vector of column sums.
func colSums(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(1, cols, nil)
	acc := out.RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(acc, m.RawRowView(i))
	}
	return out
}

func add(a, b *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	out := mat.NewDense(r, c, nil)
	out.Add(a, b)
	return out
}

// softmaxRows applies a numerically stable softmax to each row in place.
func softmaxRows(m *mat.Dense) {
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		SoftmaxInPlace(m.RawRowView(i))
	}
}

// SoftmaxInPlace overwrites xs with softmax(xs).
func SoftmaxInPlace(xs []float64) {
	maxV := floats.Max(xs)
	sum := 0.0
	for i, x := range xs {
		e := math.Exp(x - maxV)
		xs[i] = e
		sum += e
	}
	floats.Scale(1/sum, xs)
}

// Softmax returns softmax(xs) without touching xs.
func Softmax(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	SoftmaxInPlace(out)
	return out
}

// ArgMax returns the index of the largest value; ties resolve to the lower index.
func ArgMax(xs []float64) int {
	best := 0
	for i := 1; i < len(xs); i++ {
		if xs[i] > xs[best] {
			best = i
		}
	}
	return best
}

// AllFinite reports whether m holds no NaN or Inf values.
func AllFinite(m *mat.Dense) bool {
	for _, v := range m.RawMatrix().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
