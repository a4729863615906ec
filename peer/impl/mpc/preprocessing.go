package mpc

import (
	"context"
	"io"
	"math/big"

	"github.com/cronokirby/saferith"
	"github.com/rs/zerolog/log"
	"go.dedis.ch/mpcluster/crypto/field"
	"go.dedis.ch/mpcluster/crypto/paillier"
	"go.dedis.ch/mpcluster/peer"
	"go.dedis.ch/mpcluster/peer/impl/dkg"
	"go.dedis.ch/mpcluster/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// maskBytes is the size of the masks hiding a·b inside the Paillier
// responses: 2^552 is 42 bits more than any product of field elements.
const maskBytes = 69

// preprocess generates count Beaver triples. For every ordered pair (i, j),
// node i sends Enc_i(a_i) and node j answers Enc_i(a_i·b_j + r), keeping -r
// as its share of the cross term.
func (e *engine) preprocess(ctx context.Context, keys *dkg.KeyShare, count, workers int) error {
	rng := e.sess.Rand()
	sk := keys.Paillier

	a := make([]field.Element, count)
	b := make([]field.Element, count)
	c := make([]field.Element, count)

	for t := 0; t < count; t++ {
		var err error
		a[t], err = field.Random(rng)
		if err != nil {
			return err
		}
		b[t], err = field.Random(rng)
		if err != nil {
			return err
		}
		c[t] = a[t].Mul(b[t])
	}

	log.Debug().Msgf("node %d: session %s generating %d triples", e.sess.Self(), e.sess.ID(), count)

	// round A: our ciphertexts of a

	values := make([]*big.Int, count)
	for t := range values {
		values[t] = a[t].Big()
	}

	own, err := encryptAll(sk.Public(), rng, values, workers)
	if err != nil {
		return err
	}

	raw, err := marshalCiphertexts(own)
	if err != nil {
		return err
	}

	roundA := e.nextRound()
	replies, err := e.sess.Exchange(ctx, e.phase, roundA, types.MPCPaillierMessage{Ciphertexts: raw})
	if err != nil {
		return err
	}

	// round B: answer the partners' ciphertexts with our b

	responses := make(map[peer.PeerNumber]types.Message)

	for _, p := range e.sess.Partners() {
		pk, ok := keys.Partners[p]
		if !ok {
			return xerrors.Errorf("no paillier key for peer %d", p)
		}

		cts, err := parseCiphertexts(pk, replies[p].(*types.MPCPaillierMessage).Ciphertexts, count)
		if err != nil {
			return e.fail(roundA, p, "invalid ciphertexts: %v", err)
		}

		masks := make([]*big.Int, count)
		for t := range masks {
			masks[t], err = randomMask(rng)
			if err != nil {
				return err
			}
			c[t] = c[t].Sub(field.FromBig(masks[t]))
		}

		encMasks, err := encryptAll(pk, rng, masks, workers)
		if err != nil {
			return err
		}

		answers := make([]*paillier.Ciphertext, count)
		err = parallel(count, workers, func(t int) error {
			answers[t] = pk.Add(pk.MulScalar(cts[t], b[t].Big()), encMasks[t])
			return nil
		})
		if err != nil {
			return err
		}

		raw, err := marshalCiphertexts(answers)
		if err != nil {
			return err
		}

		responses[p] = types.MPCPaillierMessage{Ciphertexts: raw}
	}

	roundB := e.nextRound()
	replies, err = e.sess.Scatter(ctx, e.phase, roundB, responses)
	if err != nil {
		return err
	}

	for _, p := range e.sess.Partners() {
		cts, err := parseCiphertexts(sk.Public(), replies[p].(*types.MPCPaillierMessage).Ciphertexts, count)
		if err != nil {
			return e.fail(roundB, p, "invalid answers: %v", err)
		}

		cross := make([]field.Element, count)
		err = parallel(count, workers, func(t int) error {
			m, err := sk.Decrypt(cts[t])
			if err != nil {
				return err
			}
			cross[t] = field.FromBig(m)
			return nil
		})
		if err != nil {
			return e.fail(roundB, p, "undecryptable answer: %v", err)
		}

		for t := range c {
			c[t] = c[t].Add(cross[t])
		}
	}

	e.triples = make([]triple, count)
	for t := range e.triples {
		e.triples[t] = triple{a: a[t], b: b[t], c: c[t]}
	}
	e.used = 0

	return nil
}

// encryptAll encrypts the plaintexts on a pool of workers. The nonces are
// drawn upfront, so that the result only depends on rng.
func encryptAll(pk *paillier.PublicKey, rng io.Reader, values []*big.Int, workers int) ([]*paillier.Ciphertext, error) {
	nonces := make([]*saferith.Nat, len(values))
	for i := range nonces {
		var err error
		nonces[i], err = pk.RandomNonce(rng)
		if err != nil {
			return nil, err
		}
	}

	res := make([]*paillier.Ciphertext, len(values))
	err := parallel(len(values), workers, func(i int) error {
		c, err := pk.EncryptWithNonce(values[i], nonces[i])
		if err != nil {
			return err
		}
		res[i] = c
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to encrypt: %v", err)
	}
	return res, nil
}

// parallel runs job(0..n-1) on at most workers goroutines.
func parallel(n, workers int, job func(int) error) error {
	if workers < 1 {
		workers = 1
	}

	g := errgroup.Group{}
	g.SetLimit(workers)

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			return job(i)
		})
	}

	return g.Wait()
}

func randomMask(rng io.Reader) (*big.Int, error) {
	var buf [maskBytes]byte
	_, err := io.ReadFull(rng, buf[:])
	if err != nil {
		return nil, xerrors.Errorf("failed to draw mask: %v", err)
	}
	return new(big.Int).SetBytes(buf[:]), nil
}

func parseCiphertexts(pk *paillier.PublicKey, raw [][]byte, n int) ([]*paillier.Ciphertext, error) {
	if len(raw) != n {
		return nil, xerrors.Errorf("expected %d ciphertexts, got %d", n, len(raw))
	}

	res := make([]*paillier.Ciphertext, n)
	for i, buf := range raw {
		c, err := pk.ParseCiphertext(buf)
		if err != nil {
			return nil, xerrors.Errorf("ciphertext %d: %v", i, err)
		}
		res[i] = c
	}
	return res, nil
}

func marshalCiphertexts(cts []*paillier.Ciphertext) ([][]byte, error) {
	res := make([][]byte, len(cts))
	for i, c := range cts {
		buf, err := c.MarshalBinary()
		if err != nil {
			return nil, xerrors.Errorf("failed to marshal ciphertext: %v", err)
		}
		res[i] = buf
	}
	return res, nil
}
