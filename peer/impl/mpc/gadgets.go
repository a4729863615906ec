package mpc

import (
	"context"

	"go.dedis.ch/mpcluster/crypto/field"
	"go.dedis.ch/mpcluster/crypto/mimc"
	"golang.org/x/xerrors"
)

// arith is the arithmetic the gadgets are written against. The engine
// implements it on additive shares, plain implements it on clear values so
// that the gadgets can be checked against their reference.
type arith interface {
	// constant returns the representation of a public value.
	constant(v field.Element) field.Element
	// mul multiplies x[i] by y[i]. All products take a single round.
	mul(ctx context.Context, x, y []field.Element) ([]field.Element, error)
	// open reveals the values.
	open(ctx context.Context, x []field.Element) ([]field.Element, error)
	// random returns a fresh value nobody knows.
	random() (field.Element, error)
}

// plain is the arithmetic of a single party holding every value.
type plain struct {
	rand func() (field.Element, error)
}

func (plain) constant(v field.Element) field.Element {
	return v
}

func (plain) mul(_ context.Context, x, y []field.Element) ([]field.Element, error) {
	if len(x) != len(y) {
		return nil, xerrors.Errorf("mul of %d by %d values", len(x), len(y))
	}
	res := make([]field.Element, len(x))
	for i := range x {
		res[i] = x[i].Mul(y[i])
	}
	return res, nil
}

func (plain) open(_ context.Context, x []field.Element) ([]field.Element, error) {
	return append([]field.Element(nil), x...), nil
}

func (c plain) random() (field.Element, error) {
	return c.rand()
}

// edwardsD is the twisted Edwards constant -121665/121666.
var edwardsD = field.FromInt64(-121665).Mul(field.FromUint64(121666).Inverse())

// point is a projective (X:Y:Z) point of the twisted Edwards curve.
type point struct {
	X, Y, Z field.Element
}

const (
	// MulsPerAddition is the cost of addPoint in multiplications.
	MulsPerAddition = 10
	// MulsPerInversion is the cost of montgomeryU.
	MulsPerInversion = 2
	// MulsPerElement is the cost of one keystream element.
	MulsPerElement = mimc.Rounds * 3
)

// addPoint adds the affine point (x2, y2) to p with the madd-2008-bbjlp
// formulas for a = -1. They are complete, so the sum of any two honest points
// is computed without branching.
func addPoint(ctx context.Context, a arith, p point, x2, y2 field.Element) (point, error) {
	// B = Z1^2, C = X1*X2, D = Y1*Y2, H = (X1+Y1)*(X2+Y2)
	l1, err := a.mul(ctx,
		[]field.Element{p.Z, p.X, p.Y, p.X.Add(p.Y)},
		[]field.Element{p.Z, x2, y2, x2.Add(y2)})
	if err != nil {
		return point{}, err
	}
	b, c, d, h := l1[0], l1[1], l1[2], l1[3]

	// E = d*C*D
	l2, err := a.mul(ctx, []field.Element{c}, []field.Element{d})
	if err != nil {
		return point{}, err
	}
	e := l2[0].Mul(edwardsD)

	f := b.Sub(e)
	g := b.Add(e)

	l3, err := a.mul(ctx,
		[]field.Element{p.Z, p.Z, f},
		[]field.Element{f, g, g})
	if err != nil {
		return point{}, err
	}

	l4, err := a.mul(ctx,
		[]field.Element{l3[0], l3[1]},
		[]field.Element{h.Sub(c).Sub(d), d.Add(c)})
	if err != nil {
		return point{}, err
	}

	return point{X: l4[0], Y: l4[1], Z: l3[2]}, nil
}

// montgomeryU returns u = (Z+Y)/(Z-Y) of p. The denominator is masked by a
// random r before being opened: w = r(Z-Y) and u = (Z+Y)r/w.
func montgomeryU(ctx context.Context, a arith, p point) (field.Element, error) {
	r, err := a.random()
	if err != nil {
		return field.Element{}, err
	}

	num := p.Z.Add(p.Y)
	den := p.Z.Sub(p.Y)

	l1, err := a.mul(ctx, []field.Element{r, r}, []field.Element{den, num})
	if err != nil {
		return field.Element{}, err
	}

	w, err := a.open(ctx, l1[:1])
	if err != nil {
		return field.Element{}, err
	}
	if w[0].IsZero() {
		return field.Element{}, xerrors.Errorf("point at infinity or zero mask")
	}

	return l1[1].Mul(w[0].Inverse()), nil
}

// keystream evaluates the MiMC-5 keystream under the key for counters
// nonce+0 .. nonce+n-1. Every element is computed in parallel, so it takes
// three rounds of multiplications per cipher round.
func keystream(ctx context.Context, a arith, key, nonce field.Element, n int) ([]field.Element, error) {
	constants := mimc.Constants()

	x := make([]field.Element, n)
	for i := range x {
		x[i] = a.constant(mimc.Counter(nonce, i))
	}

	t := make([]field.Element, n)
	for _, c := range constants {
		for i := range x {
			t[i] = x[i].Add(key).Add(a.constant(c))
		}

		t2, err := a.mul(ctx, t, t)
		if err != nil {
			return nil, err
		}
		t4, err := a.mul(ctx, t2, t2)
		if err != nil {
			return nil, err
		}
		x, err = a.mul(ctx, t4, t)
		if err != nil {
			return nil, err
		}
	}

	for i := range x {
		x[i] = x[i].Add(key)
	}

	return x, nil
}

// sharedSecret computes the u-coordinate of the sum of the points, starting
// from the first one with Z = 1.
func sharedSecret(ctx context.Context, a arith, xs, ys []field.Element) (field.Element, error) {
	if len(xs) == 0 || len(xs) != len(ys) {
		return field.Element{}, xerrors.Errorf("invalid point list")
	}

	p := point{X: xs[0], Y: ys[0], Z: a.constant(field.One())}

	for i := 1; i < len(xs); i++ {
		var err error
		p, err = addPoint(ctx, a, p, xs[i], ys[i])
		if err != nil {
			return field.Element{}, err
		}
	}

	return montgomeryU(ctx, a, p)
}
