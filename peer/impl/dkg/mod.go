// Package dkg implements the distributed key generation run by the nodes of a
// cluster. Each node contributes a secret scalar, the cluster public key is
// the sum of their public points, and no node ever learns the full secret.
package dkg

import (
	"context"
	"encoding/binary"
	"math/big"

	"filippo.io/edwards25519"
	"github.com/rs/zerolog/log"
	"go.dedis.ch/mpcluster/crypto/field"
	"go.dedis.ch/mpcluster/crypto/paillier"
	"go.dedis.ch/mpcluster/crypto/prng"
	"go.dedis.ch/mpcluster/crypto/x25519"
	"go.dedis.ch/mpcluster/peer"
	"go.dedis.ch/mpcluster/types"
	"golang.org/x/xerrors"
)

// Phase is the phase name of every key generation round.
const Phase = "dkg"

const (
	roundCommit uint32 = iota + 1
	roundReveal
	roundConfirm
)

// Config holds the parameters shared by every node.
type Config struct {
	// PaillierBits is the modulus size each node must use.
	PaillierBits int
}

// KeyShare is the private output of the key generation on one node.
type KeyShare struct {
	// Scalar is the node's share s_j of the cluster secret.
	Scalar *edwards25519.Scalar
	// MXE is the node's additive share of the cluster's own symmetric key.
	MXE field.Element
	// Paillier is the node's key for multiplication preprocessing.
	Paillier *paillier.PrivateKey
	// Partners holds the Paillier public key of every partner.
	Partners map[peer.PeerNumber]*paillier.PublicKey
	// Points holds S_j = s_j·B for every member.
	Points map[peer.PeerNumber]*edwards25519.Point
	// PublicKey is the Montgomery encoding of the sum of all points.
	PublicKey x25519.PublicKey
	// Transcript digests every contribution, it is equal on all nodes.
	Transcript []byte
}

// contribution is what a node reveals in the second round.
type contribution struct {
	point    *edwards25519.Point
	paillier *paillier.PublicKey
	commit   []byte
}

// Run executes the key generation on the session. It returns a
// *peer.ProtocolError naming the partner at fault if any contribution is
// missing or invalid, in which case the partners are told to abort.
func Run(ctx context.Context, sess peer.Session, conf Config) (*KeyShare, error) {
	share, err := run(ctx, sess, conf)
	if err != nil {
		sess.Abort(ctx, err)
		return nil, err
	}
	return share, nil
}

func run(ctx context.Context, sess peer.Session, conf Config) (*KeyShare, error) {
	self := sess.Self()
	rng := sess.Rand()

	fail := func(round uint32, p peer.PeerNumber, format string, a ...interface{}) error {
		return &peer.ProtocolError{
			Session: sess.ID(),
			Phase:   Phase,
			Round:   round,
			Peer:    p,
			Err:     xerrors.Errorf(format, a...),
		}
	}

	s, err := randomScalar(rng)
	if err != nil {
		return nil, err
	}
	mxe, err := field.Random(rng)
	if err != nil {
		return nil, xerrors.Errorf("failed to draw mxe share: %v", err)
	}
	// the prime search reads a variable amount of randomness
	keyRng, err := prng.Fork(rng)
	if err != nil {
		return nil, err
	}
	sk, err := paillier.GenerateKey(keyRng, conf.PaillierBits)
	if err != nil {
		return nil, xerrors.Errorf("failed to generate paillier key: %v", err)
	}

	point := new(edwards25519.Point).ScalarBaseMult(s)
	pointBuf := point.Bytes()
	nBuf := sk.N.Bytes()

	proofR, proofS, err := prove(rng, sess.ID(), self, s, point)
	if err != nil {
		return nil, err
	}

	log.Debug().Msgf("node %d: dkg commit", self)

	// round 1: commit

	ownCommit := commitment(sess.ID(), self, pointBuf, nBuf)

	commits, err := sess.Exchange(ctx, Phase, roundCommit, types.DKGCommitMessage{Commitment: ownCommit})
	if err != nil {
		return nil, err
	}

	// round 2: reveal

	reveals, err := sess.Exchange(ctx, Phase, roundReveal, types.DKGRevealMessage{
		Point:     pointBuf,
		ProofR:    proofR,
		ProofS:    proofS,
		PaillierN: nBuf,
	})
	if err != nil {
		return nil, err
	}

	contributions := map[peer.PeerNumber]contribution{
		self: {point: point, paillier: sk.Public(), commit: ownCommit},
	}

	for _, p := range sess.Partners() {
		commit := commits[p].(*types.DKGCommitMessage).Commitment
		reveal := reveals[p].(*types.DKGRevealMessage)

		c, err := verifyReveal(sess.ID(), p, commit, reveal, conf.PaillierBits)
		if err != nil {
			return nil, fail(roundReveal, p, "invalid contribution: %v", err)
		}
		contributions[p] = c
	}

	// round 3: confirm

	share := &KeyShare{
		Scalar:   s,
		MXE:      mxe,
		Paillier: sk,
		Partners: make(map[peer.PeerNumber]*paillier.PublicKey),
		Points:   make(map[peer.PeerNumber]*edwards25519.Point),
	}

	sum := edwards25519.NewIdentityPoint()
	for _, n := range sess.Members() {
		c := contributions[n]
		sum.Add(sum, c.point)
		share.Points[n] = c.point
		if n != self {
			share.Partners[n] = c.paillier
		}
	}

	if x25519.CheckPoint(sum) != nil {
		return nil, fail(roundConfirm, self, "cluster key has small order")
	}

	share.PublicKey = x25519.PublicKeyFromPoint(sum)
	share.Transcript = transcript(sess.ID(), sess.Members(), contributions)

	confirms, err := sess.Exchange(ctx, Phase, roundConfirm, types.DKGConfirmMessage{
		PublicKey:  share.PublicKey[:],
		Transcript: share.Transcript,
	})
	if err != nil {
		return nil, err
	}

	for _, p := range sess.Partners() {
		confirm := confirms[p].(*types.DKGConfirmMessage)

		if string(confirm.PublicKey) != string(share.PublicKey[:]) {
			return nil, fail(roundConfirm, p, "peer computed another cluster key")
		}
		if string(confirm.Transcript) != string(share.Transcript) {
			return nil, fail(roundConfirm, p, "peer saw another transcript")
		}
	}

	log.Debug().Msgf("node %d: dkg done, cluster key %s", self, share.PublicKey)

	return share, nil
}

func verifyReveal(session string, p peer.PeerNumber, commit []byte,
	reveal *types.DKGRevealMessage, bits int) (contribution, error) {

	if string(commitment(session, p, reveal.Point, reveal.PaillierN)) != string(commit) {
		return contribution{}, xerrors.Errorf("reveal does not match commitment")
	}

	point, err := decodePoint(reveal.Point)
	if err != nil {
		return contribution{}, err
	}

	err = x25519.CheckPoint(point)
	if err != nil {
		return contribution{}, err
	}

	err = verifyProof(session, p, point, reveal.ProofR, reveal.ProofS)
	if err != nil {
		return contribution{}, err
	}

	n := new(big.Int).SetBytes(reveal.PaillierN)
	if n.BitLen() != bits {
		return contribution{}, xerrors.Errorf("paillier modulus has %d bits, expected %d", n.BitLen(), bits)
	}

	pk, err := paillier.NewPublicKey(n)
	if err != nil {
		return contribution{}, err
	}

	return contribution{point: point, paillier: pk, commit: commit}, nil
}

// decodePoint only accepts the canonical encoding of a point.
func decodePoint(buf []byte) (*edwards25519.Point, error) {
	point, err := new(edwards25519.Point).SetBytes(buf)
	if err != nil {
		return nil, xerrors.Errorf("invalid point: %v", err)
	}
	if string(point.Bytes()) != string(buf) {
		return nil, xerrors.Errorf("non canonical point encoding")
	}
	return point, nil
}

func peerBytes(n peer.PeerNumber) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(n))
	return buf[:]
}
