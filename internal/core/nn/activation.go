package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

var invSqrt2 = 1 / math.Sqrt2
var invSqrt2Pi = 1 / math.Sqrt(2*math.Pi)

// GELU is the exact erf form used by BERT.
func GELU(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	src := x.RawMatrix().Data
	dst := out.RawMatrix().Data
	for i, v := range src {
		dst[i] = 0.5 * v * (1 + math.Erf(v*invSqrt2))
	}
	return out
}

// GELUBackward returns dy * gelu'(x) for the pre-activation x.
func GELUBackward(x, dy *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	src := x.RawMatrix().Data
	g := dy.RawMatrix().Data
	dst := out.RawMatrix().Data
	for i, v := range src {
		cdf := 0.5 * (1 + math.Erf(v*invSqrt2))
		pdf := math.Exp(-0.5*v*v) * invSqrt2Pi
		dst[i] = g[i] * (cdf + v*pdf)
	}
	return out
}

func Tanh(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	src := x.RawMatrix().Data
	dst := out.RawMatrix().Data
	for i, v := range src {
		dst[i] = math.Tanh(v)
	}
	return out
}

// TanhBackward takes the forward output y = tanh(x).
func TanhBackward(y, dy *mat.Dense) *mat.Dense {
	r, c := y.Dims()
	out := mat.NewDense(r, c, nil)
	ys := y.RawMatrix().Data
	g := dy.RawMatrix().Data
	dst := out.RawMatrix().Data
	for i, v := range ys {
		dst[i] = g[i] * (1 - v*v)
	}
	return out
}

// Dropout is inverted dropout: kept units are scaled by 1/(1-p) at train time so
// inference is the identity.
type Dropout struct {
	P float64
}

// Forward returns the output and the scaled keep mask (nil when inactive).
func (d Dropout) Forward(x *mat.Dense, rng *rand.Rand) (*mat.Dense, *mat.Dense) {
	if rng == nil || d.P <= 0 {
		return x, nil
	}
	r, c := x.Dims()
	mask := mat.NewDense(r, c, nil)
	keep := 1 / (1 - d.P)
	md := mask.RawMatrix().Data
	for i := range md {
		if rng.Float64() >= d.P {
			md[i] = keep
		}
	}
	out := mat.NewDense(r, c, nil)
	out.MulElem(x, mask)
	return out, mask
}

func (d Dropout) Backward(mask, dy *mat.Dense) *mat.Dense {
	if mask == nil {
		return dy
	}
	r, c := dy.Dims()
	out := mat.NewDense(r, c, nil)
	out.MulElem(dy, mask)
	return out
}
