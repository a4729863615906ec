package dkg

import (
	"encoding/binary"
	"io"

	"filippo.io/edwards25519"
	"github.com/zeebo/blake3"
	"go.dedis.ch/mpcluster/peer"
	"golang.org/x/xerrors"
)

func randomScalar(r io.Reader) (*edwards25519.Scalar, error) {
	var buf [64]byte
	_, err := io.ReadFull(r, buf[:])
	if err != nil {
		return nil, xerrors.Errorf("failed to draw scalar: %v", err)
	}

	s, err := edwards25519.NewScalar().SetUniformBytes(buf[:])
	if err != nil {
		return nil, xerrors.Errorf("failed to draw scalar: %v", err)
	}
	return s, nil
}

// prove returns a Schnorr proof (R, z) that the prover knows s with S = s·B.
// The challenge binds the session and the prover.
func prove(r io.Reader, session string, prover peer.PeerNumber,
	s *edwards25519.Scalar, S *edwards25519.Point) ([]byte, []byte, error) {

	k, err := randomScalar(r)
	if err != nil {
		return nil, nil, err
	}

	R := new(edwards25519.Point).ScalarBaseMult(k)

	c, err := challenge(session, prover, S, R)
	if err != nil {
		return nil, nil, err
	}

	z := edwards25519.NewScalar().MultiplyAdd(c, s, k)

	return R.Bytes(), z.Bytes(), nil
}

// verifyProof checks z·B == R + c·S.
func verifyProof(session string, prover peer.PeerNumber, S *edwards25519.Point, rBuf, zBuf []byte) error {
	R, err := decodePoint(rBuf)
	if err != nil {
		return xerrors.Errorf("invalid proof commitment: %v", err)
	}

	z, err := edwards25519.NewScalar().SetCanonicalBytes(zBuf)
	if err != nil {
		return xerrors.Errorf("invalid proof response: %v", err)
	}

	c, err := challenge(session, prover, S, R)
	if err != nil {
		return err
	}

	lhs := new(edwards25519.Point).ScalarBaseMult(z)
	rhs := new(edwards25519.Point).ScalarMult(c, S)
	rhs.Add(rhs, R)

	if lhs.Equal(rhs) != 1 {
		return xerrors.Errorf("proof of knowledge does not verify")
	}
	return nil
}

func challenge(session string, prover peer.PeerNumber, S, R *edwards25519.Point) (*edwards25519.Scalar, error) {
	h := blake3.New()
	writeField(h, []byte("mpcluster/dkg/pok"))
	writeField(h, []byte(session))
	writeField(h, peerBytes(prover))
	writeField(h, S.Bytes())
	writeField(h, R.Bytes())

	var buf [64]byte
	_, err := io.ReadFull(h.Digest(), buf[:])
	if err != nil {
		return nil, xerrors.Errorf("failed to derive challenge: %v", err)
	}

	return edwards25519.NewScalar().SetUniformBytes(buf[:])
}

func commitment(session string, p peer.PeerNumber, point, paillierN []byte) []byte {
	h := blake3.New()
	writeField(h, []byte("mpcluster/dkg/commit"))
	writeField(h, []byte(session))
	writeField(h, peerBytes(p))
	writeField(h, point)
	writeField(h, paillierN)
	return h.Sum(nil)
}

func transcript(session string, members []peer.PeerNumber, contributions map[peer.PeerNumber]contribution) []byte {
	h := blake3.New()
	writeField(h, []byte("mpcluster/dkg/transcript"))
	writeField(h, []byte(session))

	for _, n := range members {
		c := contributions[n]
		writeField(h, peerBytes(n))
		writeField(h, c.commit)
		writeField(h, c.point.Bytes())
		writeField(h, c.paillier.N.Bytes())
	}
	return h.Sum(nil)
}

func writeField(h *blake3.Hasher, b []byte) {
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(b)))
	h.Write(size[:])
	h.Write(b)
}
