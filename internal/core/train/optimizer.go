package train

import (
	"fmt"
	"math"

	"sentiment-backend/internal/core/nn"

	"gonum.org/v1/gonum/mat"
)

type AdamWConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Eps          float64
	WeightDecay  float64
}

// DefaultAdamW matches torch.optim.AdamW defaults.
func DefaultAdamW(lr float64) AdamWConfig {
	return AdamWConfig{LearningRate: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8, WeightDecay: 0.01}
}

type moments struct {
	m, v *mat.Dense
}

// AdamW updates exactly the parameters it was built with. Frozen parameters
// are never handed to it.
type AdamW struct {
	cfg    AdamWConfig
	params []*nn.Parameter
	state  []moments
	step   int
}

func NewAdamW(params []*nn.Parameter, cfg AdamWConfig) (*AdamW, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("optimizer needs at least one parameter")
	}
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", cfg.LearningRate)
	}
	opt := &AdamW{cfg: cfg, params: params, state: make([]moments, len(params))}
	for i, p := range params {
		if !p.Trainable {
			return nil, fmt.Errorf("parameter %s is frozen", p.Name)
		}
		r, c := p.Dims()
		opt.state[i] = moments{m: mat.NewDense(r, c, nil), v: mat.NewDense(r, c, nil)}
	}
	return opt, nil
}

func (o *AdamW) Steps() int { return o.step }

func (o *AdamW) Params() []*nn.Parameter { return o.params }

// Step applies one decoupled-weight-decay Adam update from the current grads.
func (o *AdamW) Step() {
	o.step++
	c1 := 1.0 / (1.0 - math.Pow(o.cfg.Beta1, float64(o.step)))
	c2 := 1.0 / (1.0 - math.Pow(o.cfg.Beta2, float64(o.step)))
	decay := 1 - o.cfg.LearningRate*o.cfg.WeightDecay

	for i, p := range o.params {
		pv := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		m := o.state[i].m.RawMatrix().Data
		v := o.state[i].v.RawMatrix().Data
		for j := range pv {
			m[j] = o.cfg.Beta1*m[j] + (1-o.cfg.Beta1)*g[j]
			v[j] = o.cfg.Beta2*v[j] + (1-o.cfg.Beta2)*g[j]*g[j]
			mhat := m[j] * c1
			vhat := v[j] * c2
			pv[j] = pv[j]*decay - o.cfg.LearningRate*mhat/(math.Sqrt(vhat)+o.cfg.Eps)
		}
	}
}

// ZeroGrad clears the gradients of the optimized parameters.
func (o *AdamW) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

// GradsFinite reports whether every gradient is free of NaN and Inf.
func (o *AdamW) GradsFinite() bool {
	for _, p := range o.params {
		if !nn.AllFinite(p.Grad) {
			return false
		}
	}
	return true
}

// ScaleGrads multiplies every gradient by s.
func (o *AdamW) ScaleGrads(s float64) {
	for _, p := range o.params {
		p.Grad.Scale(s, p.Grad)
	}
}
