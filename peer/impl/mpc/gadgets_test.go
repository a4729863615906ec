package mpc

import (
	"context"
	"testing"

	"filippo.io/edwards25519"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/mpcluster/circuit"
	"go.dedis.ch/mpcluster/crypto/field"
	"go.dedis.ch/mpcluster/crypto/mimc"
	"go.dedis.ch/mpcluster/crypto/prng"
	"go.dedis.ch/mpcluster/crypto/x25519"
)

func newPlain(t *testing.T, seed string) plain {
	rng, err := prng.NewKeyedPRNG([]byte(seed))
	require.NoError(t, err)

	return plain{rand: func() (field.Element, error) { return field.Random(rng) }}
}

func randomPoint(t *testing.T, seed byte) *edwards25519.Point {
	var buf [64]byte
	buf[0] = seed
	s, err := edwards25519.NewScalar().SetUniformBytes(buf[:])
	require.NoError(t, err)

	return new(edwards25519.Point).ScalarBaseMult(s)
}

func affine(p point) (field.Element, field.Element) {
	zInv := p.Z.Inverse()
	return p.X.Mul(zInv), p.Y.Mul(zInv)
}

func Test_Gadget_Add_Point(t *testing.T) {
	a := newPlain(t, "add")

	p1 := randomPoint(t, 1)
	p2 := randomPoint(t, 2)

	x1, y1 := x25519.AffineCoordinates(p1)
	x2, y2 := x25519.AffineCoordinates(p2)

	sum, err := addPoint(context.Background(), a, point{X: x1, Y: y1, Z: field.One()}, x2, y2)
	require.NoError(t, err)

	expected := new(edwards25519.Point).Add(p1, p2)
	ex, ey := x25519.AffineCoordinates(expected)

	x, y := affine(sum)
	require.True(t, ex.Equal(x))
	require.True(t, ey.Equal(y))

	// doubling goes through the same formulas
	double, err := addPoint(context.Background(), a, point{X: x1, Y: y1, Z: field.One()}, x1, y1)
	require.NoError(t, err)

	ex, ey = x25519.AffineCoordinates(new(edwards25519.Point).Add(p1, p1))
	x, y = affine(double)
	require.True(t, ex.Equal(x))
	require.True(t, ey.Equal(y))
}

func Test_Gadget_Add_Point_Cost(t *testing.T) {
	counter := &countingArith{arith: newPlain(t, "cost")}

	x, y := x25519.AffineCoordinates(randomPoint(t, 3))
	_, err := addPoint(context.Background(), counter, point{X: x, Y: y, Z: field.One()}, x, y)
	require.NoError(t, err)

	require.Equal(t, MulsPerAddition, counter.muls)
	require.Equal(t, 4, counter.rounds)
}

func Test_Gadget_Shared_Secret(t *testing.T) {
	counter := &countingArith{arith: newPlain(t, "secret")}

	points := []*edwards25519.Point{randomPoint(t, 4), randomPoint(t, 5), randomPoint(t, 6)}

	var xs, ys []field.Element
	sum := edwards25519.NewIdentityPoint()
	for _, p := range points {
		x, y := x25519.AffineCoordinates(p)
		xs = append(xs, x)
		ys = append(ys, y)
		sum.Add(sum, p)
	}

	u, err := sharedSecret(context.Background(), counter, xs, ys)
	require.NoError(t, err)
	require.True(t, x25519.PublicKeyFromPoint(sum).Element().Equal(u))

	require.Equal(t, 2*MulsPerAddition+MulsPerInversion, counter.muls)

	_, err = sharedSecret(context.Background(), counter, nil, nil)
	require.Error(t, err)
}

func Test_Gadget_Inversion_Zero_Mask(t *testing.T) {
	a := plain{rand: func() (field.Element, error) { return field.Zero(), nil }}

	x, y := x25519.AffineCoordinates(randomPoint(t, 7))
	_, err := montgomeryU(context.Background(), a, point{X: x, Y: y, Z: field.One()})
	require.Error(t, err)
}

func Test_Gadget_Keystream(t *testing.T) {
	counter := &countingArith{arith: newPlain(t, "keystream")}

	key := field.FromUint64(123456789)
	nonce := field.FromUint64(20)

	ks, err := keystream(context.Background(), counter, key, nonce, 3)
	require.NoError(t, err)
	require.True(t, cmp.Equal(mimc.New(key).Keystream(nonce, 3), ks))

	require.Equal(t, 3*MulsPerElement, counter.muls)
	require.Equal(t, 3*mimc.Rounds, counter.rounds)
}

func Test_Evaluate_Matches_Clear(t *testing.T) {
	c, err := circuit.Load("../../../circuit/testdata/polynomial.yaml")
	require.NoError(t, err)

	inputs := []field.Element{field.FromUint64(4), field.FromUint64(5)}

	expected, err := c.Evaluate(inputs)
	require.NoError(t, err)

	counter := &countingArith{arith: newPlain(t, "evaluate")}

	res, err := evaluate(context.Background(), counter, c, inputs)
	require.NoError(t, err)
	require.True(t, cmp.Equal(expected, res))

	require.Equal(t, c.MulCount(), counter.muls)
	require.Equal(t, c.Depth(), counter.rounds)

	_, err = evaluate(context.Background(), counter, c, inputs[:1])
	require.Error(t, err)
}

func Test_Evaluate_Expression(t *testing.T) {
	c, err := circuit.FromExpression("cube", "x^3 - 2*x + 1")
	require.NoError(t, err)

	res, err := evaluate(context.Background(), newPlain(t, "cube"), c, []field.Element{field.FromUint64(3)})
	require.NoError(t, err)
	require.True(t, cmp.Equal([]field.Element{field.FromUint64(22)}, res))
}

// countingArith counts the multiplications and their rounds.
type countingArith struct {
	arith
	muls   int
	rounds int
}

func (c *countingArith) mul(ctx context.Context, x, y []field.Element) ([]field.Element, error) {
	c.muls += len(x)
	c.rounds++
	return c.arith.mul(ctx, x, y)
}
