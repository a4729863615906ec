// Package paillier adapts the Paillier cryptosystem of multi-party-sig to the
// oblivious multiplication of the preprocessing. Keys are generated from a
// caller supplied reader so that a seeded reader reproduces them, and
// plaintexts travel as big integers.
package paillier

import (
	"crypto/rand"
	"io"
	"math/big"

	"github.com/cronokirby/saferith"
	"github.com/taurusgroup/multi-party-sig/pkg/paillier"
	"golang.org/x/xerrors"
)

// DefaultBits is the modulus size used by default.
const DefaultBits = 2048

// MinBits is the smallest modulus that can hold a masked product of two
// field elements without wrapping around.
const MinBits = 600

// primeRounds is the number of Miller-Rabin rounds.
const primeRounds = 20

// Ciphertext is an element of Z*_{N^2}.
type Ciphertext = paillier.Ciphertext

// PublicKey is a Paillier public key.
type PublicKey struct {
	N *big.Int

	key   *paillier.PublicKey
	nHalf *big.Int
}

// PrivateKey is a Paillier private key.
type PrivateKey struct {
	PublicKey

	key *paillier.SecretKey
}

func newPublicKey(n *big.Int, key *paillier.PublicKey) PublicKey {
	return PublicKey{
		N:     new(big.Int).Set(n),
		key:   key,
		nHalf: new(big.Int).Rsh(n, 1),
	}
}

// NewPublicKey returns the public key of modulus n.
func NewPublicKey(n *big.Int) (*PublicKey, error) {
	if n == nil || n.Sign() <= 0 || n.Bit(0) == 0 {
		return nil, xerrors.Errorf("invalid paillier modulus")
	}

	pk := newPublicKey(n, paillier.NewPublicKey(saferith.ModulusFromBytes(n.Bytes())))
	return &pk, nil
}

// GenerateKey creates a key pair whose modulus has exactly bits bits. The
// primes are drawn from r, so that a seeded r reproduces the key.
func GenerateKey(r io.Reader, bits int) (*PrivateKey, error) {
	if bits < MinBits || bits%2 != 0 {
		return nil, xerrors.Errorf("invalid paillier modulus size %d", bits)
	}

	for {
		p, err := generatePrime(r, bits/2)
		if err != nil {
			return nil, err
		}
		q, err := generatePrime(r, bits/2)
		if err != nil {
			return nil, err
		}
		if p.Cmp(q) == 0 {
			continue
		}

		sk := paillier.NewSecretKeyFromPrimes(
			new(saferith.Nat).SetBig(p, bits/2),
			new(saferith.Nat).SetBig(q, bits/2))

		n := new(big.Int).Mul(p, q)

		return &PrivateKey{
			PublicKey: newPublicKey(n, sk.PublicKey),
			key:       sk,
		}, nil
	}
}

// generatePrime draws odd candidates with their top two bits set, so that
// the product of two of them has exactly twice the bits.
func generatePrime(r io.Reader, bits int) (*big.Int, error) {
	buf := make([]byte, (bits+7)/8)
	excess := uint(len(buf)*8 - bits)

	for {
		_, err := io.ReadFull(r, buf)
		if err != nil {
			return nil, xerrors.Errorf("failed to read randomness: %v", err)
		}

		buf[0] &= byte(0xff >> excess)
		if excess <= 6 {
			buf[0] |= 0xc0 >> excess
		} else {
			buf[0] |= 0x01
			buf[1] |= 0x80
		}
		buf[len(buf)-1] |= 1

		candidate := new(big.Int).SetBytes(buf)
		if candidate.ProbablyPrime(primeRounds) {
			return candidate, nil
		}
	}
}

// Bits returns the bit length of the modulus.
func (pk *PublicKey) Bits() int {
	return pk.N.BitLen()
}

// RandomNonce draws an element of Z*_N.
func (pk *PublicKey) RandomNonce(r io.Reader) (*saferith.Nat, error) {
	one := big.NewInt(1)

	for {
		rho, err := rand.Int(r, pk.N)
		if err != nil {
			return nil, xerrors.Errorf("failed to draw nonce: %v", err)
		}
		if rho.Sign() == 0 {
			continue
		}
		if new(big.Int).GCD(nil, nil, rho, pk.N).Cmp(one) == 0 {
			return new(saferith.Nat).SetBig(rho, pk.Bits()), nil
		}
	}
}

// Encrypt encrypts m with randomness drawn from r.
func (pk *PublicKey) Encrypt(r io.Reader, m *big.Int) (*Ciphertext, error) {
	rho, err := pk.RandomNonce(r)
	if err != nil {
		return nil, err
	}
	return pk.EncryptWithNonce(m, rho)
}

// EncryptWithNonce returns (1+N)^m · rho^N mod N^2. m must be in [0, N/2).
func (pk *PublicKey) EncryptWithNonce(m *big.Int, rho *saferith.Nat) (*Ciphertext, error) {
	if m.Sign() < 0 || m.Cmp(pk.nHalf) >= 0 {
		return nil, xerrors.Errorf("plaintext out of range")
	}

	return pk.key.EncWithNonce(new(saferith.Int).SetBig(m, pk.Bits()), rho), nil
}

// Add returns a ciphertext of m1 + m2. The operands are left untouched.
func (pk *PublicKey) Add(c1, c2 *Ciphertext) *Ciphertext {
	return c1.Clone().Add(pk.key, c2)
}

// MulScalar returns a ciphertext of k·m. c is left untouched.
func (pk *PublicKey) MulScalar(c *Ciphertext, k *big.Int) *Ciphertext {
	return c.Clone().Mul(pk.key, new(saferith.Int).SetBig(k, k.BitLen()+1))
}

// VerifyCipher checks that c is a valid ciphertext for this key.
func (pk *PublicKey) VerifyCipher(c *Ciphertext) error {
	if c == nil || !pk.key.ValidateCiphertexts(c) {
		return xerrors.Errorf("invalid ciphertext")
	}
	return nil
}

// ParseCiphertext decodes and verifies a ciphertext of this key.
func (pk *PublicKey) ParseCiphertext(buf []byte) (*Ciphertext, error) {
	c := new(Ciphertext)
	err := c.UnmarshalBinary(buf)
	if err != nil {
		return nil, xerrors.Errorf("malformed ciphertext: %v", err)
	}

	err = pk.VerifyCipher(c)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Decrypt returns the plaintext of c, in [0, N/2) for ciphertexts of such
// values.
func (sk *PrivateKey) Decrypt(c *Ciphertext) (*big.Int, error) {
	err := sk.VerifyCipher(c)
	if err != nil {
		return nil, err
	}

	m, err := sk.key.Dec(c)
	if err != nil {
		return nil, xerrors.Errorf("failed to decrypt: %v", err)
	}

	res := m.Big()
	if res.Sign() < 0 {
		res.Add(res, sk.N)
	}
	return res, nil
}

// Public returns the public part of the key.
func (sk *PrivateKey) Public() *PublicKey {
	pub := sk.PublicKey
	return &pub
}
