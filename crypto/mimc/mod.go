// Package mimc implements a stream cipher over GF(2^255-19). The keystream is
// the MiMC-5 block cipher run in counter mode: ks_i = E_K(nonce + i) and
// ct_i = pt_i + ks_i. Its only non-linear operation is x^5, which makes it
// cheap to evaluate on secret-shared keys.
package mimc

import (
	"encoding/binary"
	"sync"

	"go.dedis.ch/mpcluster/crypto/field"
	"golang.org/x/crypto/blake2b"
)

// Rounds is ceil(log5(p)), the minimal number of rounds for a 255 bits field.
const Rounds = 110

// Exponent of the round function. gcd(5, p-1) = 1, so x -> x^5 is a
// permutation of the field.
const Exponent = 5

var (
	constantsOnce sync.Once
	constants     []field.Element
)

// Constants returns the round constants. The first one is zero, the others are
// derived from blake2b.
func Constants() []field.Element {
	constantsOnce.Do(func() {
		constants = make([]field.Element, Rounds)
		for r := 1; r < Rounds; r++ {
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(r))

			digest := blake2b.Sum512(append([]byte("mpcluster/mimc5/"), buf[:]...))
			c, err := field.FromWide(digest[:])
			if err != nil {
				panic(err)
			}
			constants[r] = c
		}
	})
	return append([]field.Element(nil), constants...)
}

// Permute encrypts one block x under key.
func Permute(key, x field.Element) field.Element {
	cs := Constants()
	for r := 0; r < Rounds; r++ {
		x = x.Add(key).Add(cs[r]).Pow(Exponent)
	}
	return x.Add(key)
}

// Counter returns the counter block for position i.
func Counter(nonce field.Element, i int) field.Element {
	return nonce.Add(field.FromUint64(uint64(i)))
}

// Cipher is a keyed stream cipher.
type Cipher struct {
	key field.Element
}

// New returns a cipher keyed with key.
func New(key field.Element) *Cipher {
	return &Cipher{key: key}
}

// Keystream returns the first n keystream elements for nonce.
func (c *Cipher) Keystream(nonce field.Element, n int) []field.Element {
	ks := make([]field.Element, n)
	for i := range ks {
		ks[i] = Permute(c.key, Counter(nonce, i))
	}
	return ks
}

// Encrypt returns pt + keystream. The ciphertext has the same length as pt.
func (c *Cipher) Encrypt(pt []field.Element, nonce field.Element) []field.Element {
	ks := c.Keystream(nonce, len(pt))
	ct := make([]field.Element, len(pt))
	for i := range pt {
		ct[i] = pt[i].Add(ks[i])
	}
	return ct
}

// Decrypt is the inverse of Encrypt for the same nonce.
func (c *Cipher) Decrypt(ct []field.Element, nonce field.Element) []field.Element {
	ks := c.Keystream(nonce, len(ct))
	pt := make([]field.Element, len(ct))
	for i := range ct {
		pt[i] = ct[i].Sub(ks[i])
	}
	return pt
}
