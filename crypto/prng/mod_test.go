package prng

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func read(t *testing.T, r io.Reader, n int) []byte {
	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	return buf
}

func Test_KeyedPRNG_Deterministic(t *testing.T) {
	key := []byte("a fixed key")

	a, err := NewKeyedPRNG(key)
	require.NoError(t, err)
	b, err := NewKeyedPRNG(key)
	require.NoError(t, err)
	c, err := NewKeyedPRNG([]byte("another key"))
	require.NoError(t, err)

	bufA := read(t, a, 256)
	require.Equal(t, bufA, read(t, b, 256))
	require.NotEqual(t, bufA, read(t, c, 256))

	// the stream continues
	require.NotEqual(t, bufA, read(t, a, 256))
}

func Test_KeyedPRNG_Key_Too_Long(t *testing.T) {
	_, err := NewKeyedPRNG(make([]byte, KeySize+1))
	require.Error(t, err)
}

func Test_NewPRNG_Fresh(t *testing.T) {
	a, err := NewPRNG()
	require.NoError(t, err)
	b, err := NewPRNG()
	require.NoError(t, err)

	require.NotEqual(t, read(t, a, 32), read(t, b, 32))
}

func Test_Derive_Labels(t *testing.T) {
	seed := []byte("node seed")

	a, err := Derive(seed, "session-1", 0)
	require.NoError(t, err)
	b, err := Derive(seed, "session-1", 0)
	require.NoError(t, err)
	c, err := Derive(seed, "session-1", 1)
	require.NoError(t, err)
	d, err := Derive(seed, "session-2", 0)
	require.NoError(t, err)

	first := read(t, a, 64)
	require.Equal(t, first, read(t, b, 64))
	require.NotEqual(t, first, read(t, c, 64))
	require.NotEqual(t, first, read(t, d, 64))
}

func Test_Fork(t *testing.T) {
	parent1, err := NewKeyedPRNG([]byte("parent"))
	require.NoError(t, err)
	parent2, err := NewKeyedPRNG([]byte("parent"))
	require.NoError(t, err)

	f1, err := Fork(parent1)
	require.NoError(t, err)
	f2, err := Fork(parent2)
	require.NoError(t, err)

	// consuming a fork leaves the parent untouched
	read(t, f1, 1000)
	require.Equal(t, read(t, parent1, 64), read(t, parent2, 64))
	read(t, f2, 1000)
	require.Equal(t, read(t, f1, 64), read(t, f2, 64))

	f3, err := Fork(parent1)
	require.NoError(t, err)
	require.NotEqual(t, read(t, f2, 64), read(t, f3, 64))
}
