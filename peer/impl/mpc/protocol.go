package mpc

import (
	"bytes"
	"context"

	"github.com/rs/zerolog/log"
	"go.dedis.ch/mpcluster/crypto/field"
	"go.dedis.ch/mpcluster/peer"
	"go.dedis.ch/mpcluster/types"
	"golang.org/x/xerrors"
)

// triple is a share of a Beaver triple, a·b = c over the sum of shares.
type triple struct {
	a, b, c field.Element
}

// engine runs the interactive steps of an execution on additive shares. The
// node with the lowest number is the leader: it alone adds public constants.
// Rounds are numbered across the whole session.
//
// - implements arith
type engine struct {
	sess   peer.Session
	leader bool
	phase  string
	round  uint32

	triples []triple
	used    int
}

func newEngine(sess peer.Session) *engine {
	return &engine{
		sess:   sess,
		leader: sess.Self() == sess.Members()[0],
	}
}

func (e *engine) nextRound() uint32 {
	e.round++
	return e.round
}

func (e *engine) fail(round uint32, p peer.PeerNumber, format string, a ...interface{}) *peer.ProtocolError {
	return &peer.ProtocolError{
		Session: e.sess.ID(),
		Phase:   e.phase,
		Round:   round,
		Peer:    p,
		Err:     xerrors.Errorf(format, a...),
	}
}

func (e *engine) constant(v field.Element) field.Element {
	if e.leader {
		return v
	}
	return field.Zero()
}

func (e *engine) random() (field.Element, error) {
	return field.Random(e.sess.Rand())
}

// open broadcasts the local shares of x and returns the sum of everyone's.
func (e *engine) open(ctx context.Context, x []field.Element) ([]field.Element, error) {
	round := e.nextRound()

	replies, err := e.sess.Exchange(ctx, e.phase, round, types.MPCOpenMessage{Values: encode(x)})
	if err != nil {
		return nil, err
	}

	res := append([]field.Element(nil), x...)

	for _, p := range e.sess.Partners() {
		shares, err := decode(replies[p].(*types.MPCOpenMessage).Values, len(x))
		if err != nil {
			return nil, e.fail(round, p, "invalid opening: %v", err)
		}
		for i := range res {
			res[i] = res[i].Add(shares[i])
		}
	}

	return res, nil
}

// mul multiplies with one Beaver triple per product: with d = x-a and e = y-b
// opened, xy = c + d·b + e·a + d·e.
func (e *engine) mul(ctx context.Context, x, y []field.Element) ([]field.Element, error) {
	k := len(x)
	if len(y) != k {
		return nil, xerrors.Errorf("mul of %d by %d values", len(x), len(y))
	}
	if e.used+k > len(e.triples) {
		return nil, xerrors.Errorf("out of triples: %d left, %d needed", len(e.triples)-e.used, k)
	}

	ts := e.triples[e.used : e.used+k]
	e.used += k

	masked := make([]field.Element, 2*k)
	for i, t := range ts {
		masked[i] = x[i].Sub(t.a)
		masked[k+i] = y[i].Sub(t.b)
	}

	opened, err := e.open(ctx, masked)
	if err != nil {
		return nil, err
	}

	res := make([]field.Element, k)
	for i, t := range ts {
		d, f := opened[i], opened[k+i]
		res[i] = t.c.Add(d.Mul(t.b)).Add(f.Mul(t.a)).Add(e.constant(d.Mul(f)))
	}

	return res, nil
}

// share secret-shares the local values with every partner, and returns the
// shares of every member's values.
func (e *engine) share(ctx context.Context, values []field.Element) (map[peer.PeerNumber][]field.Element, error) {
	round := e.nextRound()

	own := append([]field.Element(nil), values...)
	msgs := make(map[peer.PeerNumber]types.Message)

	for _, p := range e.sess.Partners() {
		shares := make([]field.Element, len(values))
		for i := range shares {
			r, err := e.random()
			if err != nil {
				return nil, err
			}
			shares[i] = r
			own[i] = own[i].Sub(r)
		}
		msgs[p] = types.MPCShareMessage{Values: encode(shares)}
	}

	replies, err := e.sess.Scatter(ctx, e.phase, round, msgs)
	if err != nil {
		return nil, err
	}

	res := map[peer.PeerNumber][]field.Element{e.sess.Self(): own}

	for _, p := range e.sess.Partners() {
		shares, err := decode(replies[p].(*types.MPCShareMessage).Values, len(values))
		if err != nil {
			return nil, e.fail(round, p, "invalid shares: %v", err)
		}
		res[p] = shares
	}

	return res, nil
}

// agree checks that every partner computed the same digest.
func (e *engine) agree(ctx context.Context, digest []byte, msg func([]byte) types.Message,
	get func(types.Message) []byte) error {

	round := e.nextRound()

	replies, err := e.sess.Exchange(ctx, e.phase, round, msg(digest))
	if err != nil {
		return err
	}

	for _, p := range e.sess.Partners() {
		if !bytes.Equal(get(replies[p]), digest) {
			return e.fail(round, p, "peer disagrees on the %s digest", e.phase)
		}
	}

	log.Debug().Msgf("node %d: session %s %s digest agreed", e.sess.Self(), e.sess.ID(), e.phase)

	return nil
}

func encode(values []field.Element) [][]byte {
	res := make([][]byte, len(values))
	for i, v := range values {
		res[i] = v.Bytes()
	}
	return res
}

func decode(values [][]byte, n int) ([]field.Element, error) {
	if len(values) != n {
		return nil, xerrors.Errorf("expected %d values, got %d", n, len(values))
	}

	res := make([]field.Element, n)
	for i, buf := range values {
		v, err := field.FromBytes(buf)
		if err != nil {
			return nil, xerrors.Errorf("value %d: %v", i, err)
		}
		res[i] = v
	}
	return res, nil
}
