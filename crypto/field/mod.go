// Package field implements arithmetic over GF(2^255-19), the base field of
// curve25519. Element has value semantics: operations never mutate their
// operands and the zero value is the field's zero.
package field

import (
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"io"
	"math/big"

	fe "filippo.io/edwards25519/field"
	"golang.org/x/xerrors"
)

// Size is the length of a canonical encoding.
const Size = 32

// WideSize is the number of bytes reduced into one uniformly random element.
const WideSize = 64

var modulus, _ = new(big.Int).SetString(
	"57896044618658097711785492504343953926634992332820282019728792003956564819949", 10)

// Modulus returns p = 2^255-19.
func Modulus() *big.Int {
	return new(big.Int).Set(modulus)
}

// Element is an element of GF(2^255-19).
type Element struct {
	v fe.Element
}

// Zero returns the additive identity.
func Zero() Element {
	return Element{}
}

// One returns the multiplicative identity.
func One() Element {
	e := Element{}
	e.v.One()
	return e
}

// FromUint64 returns x as a field element.
func FromUint64(x uint64) Element {
	var buf [Size]byte
	binary.LittleEndian.PutUint64(buf[:8], x)

	e := Element{}
	e.v.SetBytes(buf[:])
	return e
}

// FromInt64 returns x mod p.
func FromInt64(x int64) Element {
	if x >= 0 {
		return FromUint64(uint64(x))
	}
	return FromUint64(uint64(-x)).Neg()
}

// FromBig returns x mod p.
func FromBig(x *big.Int) Element {
	r := new(big.Int).Mod(x, modulus)

	var buf [Size]byte
	r.FillBytes(buf[:])
	reverse(buf[:])

	e := Element{}
	e.v.SetBytes(buf[:])
	return e
}

// FromBytes decodes a canonical little-endian encoding. Encodings of values
// greater or equal to p, or with the top bit set, are rejected.
func FromBytes(b []byte) (Element, error) {
	if len(b) != Size {
		return Element{}, xerrors.Errorf("invalid element length %d", len(b))
	}

	e := Element{}
	_, err := e.v.SetBytes(b)
	if err != nil {
		return Element{}, xerrors.Errorf("invalid element: %v", err)
	}
	if subtle.ConstantTimeCompare(e.v.Bytes(), b) != 1 {
		return Element{}, xerrors.Errorf("non-canonical element encoding")
	}
	return e, nil
}

// FromBytesReduced decodes a 32 bytes little-endian value, ignoring the top
// bit and reducing mod p, like X25519 does for u-coordinates.
func FromBytesReduced(b []byte) (Element, error) {
	e := Element{}
	_, err := e.v.SetBytes(b)
	if err != nil {
		return Element{}, xerrors.Errorf("invalid element: %v", err)
	}
	return e, nil
}

// FromWide reduces 64 bytes into an element. The bias is negligible, so it is
// used to map hash outputs and random bytes to the field.
func FromWide(b []byte) (Element, error) {
	if len(b) != WideSize {
		return Element{}, xerrors.Errorf("invalid wide length %d", len(b))
	}
	return FromBig(new(big.Int).SetBytes(b)), nil
}

// Random draws a uniformly distributed element from r.
func Random(r io.Reader) (Element, error) {
	var buf [WideSize]byte
	_, err := io.ReadFull(r, buf[:])
	if err != nil {
		return Element{}, xerrors.Errorf("failed to read randomness: %v", err)
	}
	return FromWide(buf[:])
}

// FromEdwards wraps a value of the underlying curve implementation.
func FromEdwards(v *fe.Element) Element {
	e := Element{}
	e.v.Set(v)
	return e
}

// Edwards returns a copy usable with the curve implementation.
func (e Element) Edwards() *fe.Element {
	return new(fe.Element).Set(&e.v)
}

// Add returns e + o.
func (e Element) Add(o Element) Element {
	r := Element{}
	r.v.Add(&e.v, &o.v)
	return r
}

// Sub returns e - o.
func (e Element) Sub(o Element) Element {
	r := Element{}
	r.v.Subtract(&e.v, &o.v)
	return r
}

// Mul returns e * o.
func (e Element) Mul(o Element) Element {
	r := Element{}
	r.v.Multiply(&e.v, &o.v)
	return r
}

// Neg returns -e.
func (e Element) Neg() Element {
	r := Element{}
	r.v.Negate(&e.v)
	return r
}

// Square returns e^2.
func (e Element) Square() Element {
	r := Element{}
	r.v.Square(&e.v)
	return r
}

// Inverse returns 1/e, and zero if e is zero.
func (e Element) Inverse() Element {
	r := Element{}
	r.v.Invert(&e.v)
	return r
}

// Pow returns e^k.
func (e Element) Pow(k uint64) Element {
	result := One()
	base := e
	for k > 0 {
		if k&1 == 1 {
			result = result.Mul(base)
		}
		base = base.Square()
		k >>= 1
	}
	return result
}

// Equal tells if both elements are the same.
func (e Element) Equal(o Element) bool {
	return e.v.Equal(&o.v) == 1
}

// IsZero tells if e is the additive identity.
func (e Element) IsZero() bool {
	return e.Equal(Element{})
}

// Bytes returns the canonical 32 bytes little-endian encoding.
func (e Element) Bytes() []byte {
	return e.v.Bytes()
}

// Big returns e as an integer in [0, p).
func (e Element) Big() *big.Int {
	b := e.v.Bytes()
	reverse(b)
	return new(big.Int).SetBytes(b)
}

// Uint64 returns the low 64 bits of e.
func (e Element) Uint64() uint64 {
	return binary.LittleEndian.Uint64(e.v.Bytes()[:8])
}

// String returns the decimal representation.
func (e Element) String() string {
	return e.Big().String()
}

// MarshalJSON implements json.Marshaler. Elements travel as hex strings.
func (e Element) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(e.Bytes()))
}

// UnmarshalJSON implements json.Unmarshaler. Only canonical encodings are
// accepted.
func (e *Element) UnmarshalJSON(data []byte) error {
	var s string
	err := json.Unmarshal(data, &s)
	if err != nil {
		return err
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return xerrors.Errorf("invalid element hex: %v", err)
	}

	v, err := FromBytes(b)
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// Sum returns the sum of all elements.
func Sum(elems ...Element) Element {
	r := Zero()
	for _, e := range elems {
		r = r.Add(e)
	}
	return r
}

// FromUint64s maps a slice of integers to elements.
func FromUint64s(xs ...uint64) []Element {
	res := make([]Element, len(xs))
	for i, x := range xs {
		res[i] = FromUint64(x)
	}
	return res
}

// EncodeAll concatenates the canonical encodings of elems.
func EncodeAll(elems []Element) []byte {
	buf := make([]byte, 0, len(elems)*Size)
	for _, e := range elems {
		buf = append(buf, e.Bytes()...)
	}
	return buf
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
