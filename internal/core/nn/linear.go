package nn

import (
	"gonum.org/v1/gonum/mat"
)

// Linear computes y = x W^T + b with W stored as [out, in], the same layout as
// torch.nn.Linear checkpoints.
type Linear struct {
	Weight *Parameter
	Bias   *Parameter
}

func NewLinear(reg *Registry, name string, in, out int) *Linear {
	return &Linear{
		Weight: reg.Register(name+".weight", out, in),
		Bias:   reg.Register(name+".bias", 1, out),
	}
}

func (l *Linear) Forward(x *mat.Dense) *mat.Dense {
	y := matMul(x, l.Weight.Value.T())
	addRow(y, l.Bias.Value)
	return y
}

func (l *Linear) Trainable() bool {
	return l.Weight.Trainable || l.Bias.Trainable
}

// Backward accumulates parameter gradients given the forward input x and dy.
// The input gradient is only computed when needInput is set.
func (l *Linear) Backward(x, dy *mat.Dense, needInput bool) *mat.Dense {
	if l.Weight.Trainable {
		l.Weight.Accumulate(matMul(dy.T(), x))
	}
	if l.Bias.Trainable {
		l.Bias.Accumulate(colSums(dy))
	}
	if !needInput {
		return nil
	}
	return matMul(dy, l.Weight.Value)
}
