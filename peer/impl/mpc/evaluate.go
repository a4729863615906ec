package mpc

import (
	"context"

	"go.dedis.ch/mpcluster/circuit"
	"go.dedis.ch/mpcluster/crypto/field"
	"golang.org/x/xerrors"
)

// evaluate computes the circuit layer by layer. The multiplications of a
// layer share one opening, the linear gates are local.
func evaluate(ctx context.Context, a arith, c *circuit.Circuit, inputs []field.Element) ([]field.Element, error) {
	if len(inputs) != c.InputCount() {
		return nil, xerrors.Errorf("expected %d inputs, got %d", c.InputCount(), len(inputs))
	}

	wires := make([]field.Element, c.WireCount())
	copy(wires, inputs)

	for _, layer := range c.Layers() {
		if len(layer.Mul) > 0 {
			x := make([]field.Element, len(layer.Mul))
			y := make([]field.Element, len(layer.Mul))
			for i, idx := range layer.Mul {
				g := c.Gate(idx)
				x[i], y[i] = wires[g.In[0]], wires[g.In[1]]
			}

			z, err := a.mul(ctx, x, y)
			if err != nil {
				return nil, err
			}

			for i, idx := range layer.Mul {
				wires[c.Gate(idx).Out] = z[i]
			}
		}

		for _, idx := range layer.Linear {
			g := c.Gate(idx)
			wires[g.Out] = linear(a, g, wires)
		}
	}

	outputs := make([]field.Element, c.OutputCount())
	for i, w := range c.Outputs() {
		outputs[i] = wires[w]
	}

	return outputs, nil
}

func linear(a arith, g circuit.Gate, wires []field.Element) field.Element {
	switch g.Op {
	case circuit.OpAdd:
		return wires[g.In[0]].Add(wires[g.In[1]])
	case circuit.OpSub:
		return wires[g.In[0]].Sub(wires[g.In[1]])
	case circuit.OpNeg:
		return wires[g.In[0]].Neg()
	case circuit.OpAddConst:
		return wires[g.In[0]].Add(a.constant(g.Const))
	case circuit.OpMulConst:
		return wires[g.In[0]].Mul(g.Const)
	case circuit.OpConst:
		return a.constant(g.Const)
	default:
		panic("not a linear gate: " + string(g.Op))
	}
}
