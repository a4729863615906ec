// Package x25519 holds the key pairs exchanged between clients and the
// cluster, and the conversions between their Montgomery form and the Edwards
// points the cluster computes with.
package x25519

import (
	"encoding/hex"
	"encoding/json"
	"io"

	"filippo.io/edwards25519"
	"go.dedis.ch/mpcluster/crypto/field"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/xerrors"
)

// Size of keys in bytes.
const Size = curve25519.ScalarSize

// PrivateKey is an X25519 scalar, clamped on use.
type PrivateKey [Size]byte

// PublicKey is the Montgomery u-coordinate of a point.
type PublicKey [Size]byte

// RandomPrivateKey draws a private key from r. A seeded r makes the key
// reproducible.
func RandomPrivateKey(r io.Reader) (PrivateKey, error) {
	var k PrivateKey
	_, err := io.ReadFull(r, k[:])
	if err != nil {
		return PrivateKey{}, xerrors.Errorf("failed to draw private key: %v", err)
	}
	return k, nil
}

// PublicKeyFromPrivate returns k·B.
func PublicKeyFromPrivate(k PrivateKey) PublicKey {
	out, err := curve25519.X25519(k[:], curve25519.Basepoint)
	if err != nil {
		// the base point has prime order, the output is never zero
		panic(err)
	}

	var pub PublicKey
	copy(pub[:], out)
	return pub
}

// SharedSecret returns the u-coordinate of k·pub. It fails if pub has low
// order.
func SharedSecret(k PrivateKey, pub PublicKey) (field.Element, error) {
	out, err := curve25519.X25519(k[:], pub[:])
	if err != nil {
		return field.Element{}, xerrors.Errorf("key exchange failed: %v", err)
	}
	return field.FromBytesReduced(out)
}

// PublicKeyFromPoint returns the Montgomery encoding of an Edwards point.
func PublicKeyFromPoint(p *edwards25519.Point) PublicKey {
	var pub PublicKey
	copy(pub[:], p.BytesMontgomery())
	return pub
}

// PublicKeyFromElement interprets u as a public key.
func PublicKeyFromElement(u field.Element) PublicKey {
	var pub PublicKey
	copy(pub[:], u.Bytes())
	return pub
}

// Element returns the u-coordinate as a field element.
func (k PublicKey) Element() field.Element {
	// 32 bytes never fail
	u, _ := field.FromBytesReduced(k[:])
	return u
}

// Edwards lifts the u-coordinate to the Edwards point with a positive
// x-coordinate, y = (u-1)/(u+1). The lift is defined up to sign, which does
// not change the u-coordinate of any multiple of the point. Low order points
// are rejected.
func (k PublicKey) Edwards() (*edwards25519.Point, error) {
	u := k.Element()
	one := field.One()

	if u.Add(one).IsZero() {
		return nil, xerrors.Errorf("public key has no edwards lift")
	}

	y := u.Sub(one).Mul(u.Add(one).Inverse())

	p, err := new(edwards25519.Point).SetBytes(y.Bytes())
	if err != nil {
		return nil, xerrors.Errorf("public key is not on the curve: %v", err)
	}

	err = CheckPoint(p)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CheckPoint rejects points of small order.
func CheckPoint(p *edwards25519.Point) error {
	cofactored := new(edwards25519.Point).MultByCofactor(p)
	if cofactored.Equal(edwards25519.NewIdentityPoint()) == 1 {
		return xerrors.Errorf("point has small order")
	}
	return nil
}

// AffineCoordinates returns (x, y) of p.
func AffineCoordinates(p *edwards25519.Point) (field.Element, field.Element) {
	X, Y, Z, _ := p.ExtendedCoordinates()

	zInv := field.FromEdwards(Z).Inverse()
	x := field.FromEdwards(X).Mul(zInv)
	y := field.FromEdwards(Y).Mul(zInv)
	return x, y
}

// String returns the hex encoding of the key.
func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// MarshalJSON implements json.Marshaler.
func (k PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *PublicKey) UnmarshalJSON(data []byte) error {
	var s string
	err := json.Unmarshal(data, &s)
	if err != nil {
		return err
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return xerrors.Errorf("invalid public key hex: %v", err)
	}
	if len(b) != Size {
		return xerrors.Errorf("invalid public key length %d", len(b))
	}

	copy(k[:], b)
	return nil
}
