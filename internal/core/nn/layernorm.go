package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// LayerNorm normalises each row over the hidden dimension.
type LayerNorm struct {
	Gamma *Parameter
	Beta  *Parameter
	Eps   float64
}

// LayerNormCache keeps what the backward pass needs from a forward call.
type LayerNormCache struct {
	xhat   *mat.Dense
	invStd []float64
}

func NewLayerNorm(reg *Registry, name string, dim int, eps float64) *LayerNorm {
	ln := &LayerNorm{
		Gamma: reg.Register(name+".weight", 1, dim),
		Beta:  reg.Register(name+".bias", 1, dim),
		Eps:   eps,
	}
	fill(ln.Gamma.Value, 1)
	return ln
}

func (ln *LayerNorm) Trainable() bool {
	return ln.Gamma.Trainable || ln.Beta.Trainable
}

func (ln *LayerNorm) Forward(x *mat.Dense) (*mat.Dense, *LayerNormCache) {
	rows, d := x.Dims()
	out := mat.NewDense(rows, d, nil)
	xhat := mat.NewDense(rows, d, nil)
	inv := make([]float64, rows)
	gamma := ln.Gamma.Value.RawRowView(0)
	beta := ln.Beta.Value.RawRowView(0)

	for t := 0; t < rows; t++ {
		row := x.RawRowView(t)
		mu := 0.0
		for _, v := range row {
			mu += v
		}
		mu /= float64(d)
		variance := 0.0
		for _, v := range row {
			diff := v - mu
			variance += diff * diff
		}
		variance /= float64(d)
		istd := 1.0 / math.Sqrt(variance+ln.Eps)
		inv[t] = istd

		xr := xhat.RawRowView(t)
		or := out.RawRowView(t)
		for i, v := range row {
			n := (v - mu) * istd
			xr[i] = n
			or[i] = gamma[i]*n + beta[i]
		}
	}
	return out, &LayerNormCache{xhat: xhat, invStd: inv}
}

// Backward accumulates gamma/beta gradients and returns dX.
func (ln *LayerNorm) Backward(cache *LayerNormCache, dy *mat.Dense) *mat.Dense {
	rows, d := dy.Dims()
	gamma := ln.Gamma.Value.RawRowView(0)

	if ln.Trainable() {
		dGamma := mat.NewDense(1, d, nil)
		dBeta := mat.NewDense(1, d, nil)
		dg := dGamma.RawRowView(0)
		db := dBeta.RawRowView(0)
		for t := 0; t < rows; t++ {
			dr := dy.RawRowView(t)
			xr := cache.xhat.RawRowView(t)
			for i := range dr {
				dg[i] += dr[i] * xr[i]
				db[i] += dr[i]
			}
		}
		ln.Gamma.Accumulate(dGamma)
		ln.Beta.Accumulate(dBeta)
	}

	dx := mat.NewDense(rows, d, nil)
	for t := 0; t < rows; t++ {
		dr := dy.RawRowView(t)
		xr := cache.xhat.RawRowView(t)
		sum1, sum2 := 0.0, 0.0
		for i := range dr {
			gy := dr[i] * gamma[i]
			sum1 += gy
			sum2 += gy * xr[i]
		}
		scale := cache.invStd[t] / float64(d)
		out := dx.RawRowView(t)
		for i := range dr {
			gy := dr[i] * gamma[i]
			out[i] = (float64(d)*gy - sum1 - xr[i]*sum2) * scale
		}
	}
	return dx
}
