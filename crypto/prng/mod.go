// Package prng provides the seedable randomness used by every protocol step.
// A fixed seed reproduces the exact same byte stream, which makes key
// generation, encryption and executions reproducible.
package prng

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/xerrors"
)

// KeySize is the size of a PRNG key.
const KeySize = 64

// KeyedPRNG deterministically expands a key into a stream of bytes with the
// blake2b XOF. Reads are serialized, but the stream is only reproducible if a
// single goroutine consumes it.
type KeyedPRNG struct {
	mutex sync.Mutex
	xof   blake2b.XOF
}

// NewKeyedPRNG creates a PRNG keyed with key. The key must not exceed 64 bytes.
func NewKeyedPRNG(key []byte) (*KeyedPRNG, error) {
	if len(key) > KeySize {
		return nil, xerrors.Errorf("prng key too long: %d bytes", len(key))
	}

	xof, err := blake2b.NewXOF(blake2b.OutputLengthUnknown, key)
	if err != nil {
		return nil, xerrors.Errorf("failed to create xof: %v", err)
	}

	return &KeyedPRNG{xof: xof}, nil
}

// NewPRNG returns a PRNG keyed with fresh system randomness.
func NewPRNG() (*KeyedPRNG, error) {
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	if err != nil {
		return nil, xerrors.Errorf("failed to read system randomness: %v", err)
	}
	return NewKeyedPRNG(key)
}

// Read implements io.Reader.
func (p *KeyedPRNG) Read(sum []byte) (int, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.xof.Read(sum)
}

// Derive returns a PRNG whose key is derived from seed for the given label.
// Different labels give independent streams.
func Derive(seed []byte, label string, counter uint64) (*KeyedPRNG, error) {
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], counter)

	info := append([]byte(label), ctr[:]...)
	kdf := hkdf.New(sha256.New, seed, []byte("mpcluster-prng"), info)

	key := make([]byte, KeySize)
	_, err := io.ReadFull(kdf, key)
	if err != nil {
		return nil, xerrors.Errorf("failed to derive key: %v", err)
	}

	return NewKeyedPRNG(key)
}

// Fork draws a fresh key from p and returns an independent PRNG. Forks taken
// in the same order from the same parent are identical. The parent stream does
// not depend on how much of the fork is consumed.
func Fork(p io.Reader) (*KeyedPRNG, error) {
	key := make([]byte, KeySize)
	_, err := io.ReadFull(p, key)
	if err != nil {
		return nil, xerrors.Errorf("failed to fork prng: %v", err)
	}
	return NewKeyedPRNG(key)
}
