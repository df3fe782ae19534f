package nn

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Parameter is a named weight matrix. Vectors (biases, layer norm scales) are
// stored as 1 x n matrices.
type Parameter struct {
	Name      string
	Value     *mat.Dense
	Grad      *mat.Dense
	Trainable bool
}

func newParameter(name string, rows, cols int) *Parameter {
	return &Parameter{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

func (p *Parameter) Dims() (int, int) {
	return p.Value.Dims()
}

func (p *Parameter) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// Accumulate adds g into the gradient. It is a no-op for frozen parameters.
func (p *Parameter) Accumulate(g mat.Matrix) {
	if !p.Trainable {
		return
	}
	p.Grad.Add(p.Grad, g)
}

// Registry owns every parameter of a model under a dotted name.
type Registry struct {
	params []*Parameter
	byName map[string]*Parameter
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Parameter)}
}

// Register allocates a zero parameter. Names must be unique.
func (r *Registry) Register(name string, rows, cols int) *Parameter {
	if _, exists := r.byName[name]; exists {
		panic(fmt.Sprintf("parameter %q registered twice", name))
	}
	p := newParameter(name, rows, cols)
	r.params = append(r.params, p)
	r.byName[name] = p
	return p
}

func (r *Registry) Get(name string) (*Parameter, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// All returns parameters in registration order.
func (r *Registry) All() []*Parameter {
	return r.params
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.params))
	for _, p := range r.params {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Trainable() []*Parameter {
	var out []*Parameter
	for _, p := range r.params {
		if p.Trainable {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) Frozen() []*Parameter {
	var out []*Parameter
	for _, p := range r.params {
		if !p.Trainable {
			out = append(out, p)
		}
	}
	return out
}

// Match returns the parameters whose name equals prefix or continues it with a
// '.', so "encoder.layer.1" matches "encoder.layer.1.output.dense.weight" but not
// "encoder.layer.11.output.dense.weight".
func (r *Registry) Match(prefix string) []*Parameter {
	var out []*Parameter
	for _, p := range r.params {
		if p.Name == prefix || strings.HasPrefix(p.Name, prefix+".") {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) ZeroGrad() {
	for _, p := range r.params {
		if p.Trainable {
			p.ZeroGrad()
		}
	}
}

// NormalInit fills every parameter with N(0, std) in registration order, then
// resets layer norm scales to one. Biases and norm shifts stay zero.
func (r *Registry) NormalInit(rng *rand.Rand, std float64) {
	for _, p := range r.params {
		switch {
		case strings.HasSuffix(p.Name, "LayerNorm.weight"):
			fill(p.Value, 1)
		case strings.HasSuffix(p.Name, ".bias"):
			p.Value.Zero()
		default:
			data := p.Value.RawMatrix().Data
			for i := range data {
				data[i] = rng.NormFloat64() * std
			}
		}
	}
}

func fill(m *mat.Dense, v float64) {
	data := m.RawMatrix().Data
	for i := range data {
		data[i] = v
	}
}
