package mpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/mpcluster/crypto/field"
	"go.dedis.ch/mpcluster/crypto/paillier"
	"go.dedis.ch/mpcluster/crypto/prng"
	"go.dedis.ch/mpcluster/peer"
	"go.dedis.ch/mpcluster/peer/impl/dkg"
	"go.dedis.ch/mpcluster/types"
	"golang.org/x/xerrors"
)

const testBits = 640

func Test_Engine_Open(t *testing.T) {
	engines := newEngines(t, 3)

	secret := field.FromUint64(42)
	shares := additive(t, secret, 3)

	res := runAll(t, engines, func(i int, e *engine) ([]field.Element, error) {
		return e.open(context.Background(), shares[i:i+1])
	})

	for _, r := range res {
		require.True(t, cmp.Equal([]field.Element{secret}, r.values))
	}
}

func Test_Engine_Share(t *testing.T) {
	engines := newEngines(t, 3)

	res := runAll(t, engines, func(i int, e *engine) ([]field.Element, error) {
		shares, err := e.share(context.Background(), []field.Element{field.FromUint64(uint64(10 + i))})
		if err != nil {
			return nil, err
		}

		// open the sum of everyone's value
		sum := field.Zero()
		for _, s := range shares {
			sum = sum.Add(s[0])
		}
		return e.open(context.Background(), []field.Element{sum})
	})

	for _, r := range res {
		require.True(t, cmp.Equal([]field.Element{field.FromUint64(33)}, r.values))
	}
}

func Test_Engine_Preprocess_And_Mul(t *testing.T) {
	engines := newEngines(t, 3)
	keys := newKeyShares(t, 3)

	x := additive(t, field.FromUint64(6), 3)
	y := additive(t, field.FromUint64(7), 3)

	res := runAll(t, engines, func(i int, e *engine) ([]field.Element, error) {
		e.phase = PhasePreprocess
		err := e.preprocess(context.Background(), keys[i], 4, 2)
		if err != nil {
			return nil, err
		}

		e.phase = PhaseEvaluate
		z, err := e.mul(context.Background(), x[i:i+1], y[i:i+1])
		if err != nil {
			return nil, err
		}
		return e.open(context.Background(), z)
	})

	for _, r := range res {
		require.True(t, cmp.Equal([]field.Element{field.FromUint64(42)}, r.values))
	}

	// every unused triple is still consistent
	for t0 := 1; t0 < 4; t0++ {
		a, b, c := field.Zero(), field.Zero(), field.Zero()
		for _, e := range engines {
			a = a.Add(e.triples[t0].a)
			b = b.Add(e.triples[t0].b)
			c = c.Add(e.triples[t0].c)
		}
		require.True(t, a.Mul(b).Equal(c))
	}

	four := []field.Element{x[0], x[0], x[0], x[0]}
	_, err := engines[0].mul(context.Background(), four, four)
	require.Error(t, err)
}

func Test_Engine_Open_Malformed(t *testing.T) {
	engines := newEngines(t, 3)
	shares := additive(t, field.One(), 3)

	bad := make([]byte, field.Size)
	for i := range bad {
		bad[i] = 0xff
	}

	res := runAll(t, engines, func(i int, e *engine) ([]field.Element, error) {
		e.phase = PhaseEvaluate
		if i == 2 {
			_, err := e.sess.Exchange(context.Background(), e.phase, e.nextRound(),
				types.MPCOpenMessage{Values: [][]byte{bad}})
			return nil, err
		}
		return e.open(context.Background(), shares[i:i+1])
	})

	for i := 0; i < 2; i++ {
		require.Nil(t, res[i].values)

		protoErr := &peer.ProtocolError{}
		require.True(t, xerrors.As(res[i].err, &protoErr))
		require.Equal(t, peer.PeerNumber(2), protoErr.Peer)
		require.Equal(t, uint32(1), protoErr.Round)
		require.Equal(t, PhaseEvaluate, protoErr.Phase)
		require.True(t, xerrors.Is(res[i].err, peer.ErrProtocol))
	}
}

func Test_Engine_Constant_Leader(t *testing.T) {
	engines := newEngines(t, 2)

	require.True(t, engines[0].leader)
	require.False(t, engines[1].leader)

	c := field.FromUint64(9)
	require.True(t, engines[0].constant(c).Add(engines[1].constant(c)).Equal(c))
}

// -----------------------------------------------------------------------------
// Utility functions

type result struct {
	values []field.Element
	err    error
}

func runAll(t *testing.T, engines []*engine, f func(int, *engine) ([]field.Element, error)) []result {
	res := make([]result, len(engines))

	wait := sync.WaitGroup{}
	wait.Add(len(engines))

	for i, e := range engines {
		go func(i int, e *engine) {
			defer wait.Done()
			values, err := f(i, e)
			res[i] = result{values: values, err: err}
		}(i, e)
	}

	wait.Wait()
	return res
}

func additive(t *testing.T, secret field.Element, n int) []field.Element {
	rng, err := prng.NewKeyedPRNG([]byte("additive"))
	require.NoError(t, err)

	shares := make([]field.Element, n)
	last := secret
	for i := 0; i < n-1; i++ {
		shares[i], err = field.Random(rng)
		require.NoError(t, err)
		last = last.Sub(shares[i])
	}
	shares[n-1] = last
	return shares
}

func newEngines(t *testing.T, n int) []*engine {
	h := &hub{slots: make(map[hubKey]chan []byte)}
	for i := 0; i < n; i++ {
		h.members = append(h.members, peer.PeerNumber(i))
	}

	engines := make([]*engine, n)
	for i := range engines {
		rng, err := prng.NewKeyedPRNG([]byte(fmt.Sprintf("engine %d", i)))
		require.NoError(t, err)

		engines[i] = newEngine(&hubSession{hub: h, self: peer.PeerNumber(i), rng: rng})
	}
	return engines
}

func newKeyShares(t *testing.T, n int) []*dkg.KeyShare {
	keys := make([]*dkg.KeyShare, n)
	for i := range keys {
		rng, err := prng.NewKeyedPRNG([]byte(fmt.Sprintf("paillier %d", i)))
		require.NoError(t, err)

		sk, err := paillier.GenerateKey(rng, testBits)
		require.NoError(t, err)

		keys[i] = &dkg.KeyShare{Paillier: sk, Partners: map[peer.PeerNumber]*paillier.PublicKey{}}
	}

	for i := range keys {
		for j := range keys {
			if i != j {
				keys[i].Partners[peer.PeerNumber(j)] = keys[j].Paillier.Public()
			}
		}
	}
	return keys
}

type hubKey struct {
	phase    string
	round    uint32
	from, to peer.PeerNumber
}

// hub connects in-process sessions without any cluster.
type hub struct {
	sync.Mutex
	members []peer.PeerNumber
	slots   map[hubKey]chan []byte
}

func (h *hub) slot(k hubKey) chan []byte {
	h.Lock()
	defer h.Unlock()

	ch, ok := h.slots[k]
	if !ok {
		ch = make(chan []byte, 1)
		h.slots[k] = ch
	}
	return ch
}

// hubSession implements peer.Session
type hubSession struct {
	hub  *hub
	self peer.PeerNumber
	rng  io.Reader
}

func (s *hubSession) ID() string {
	return "test"
}

func (s *hubSession) Self() peer.PeerNumber {
	return s.self
}

func (s *hubSession) Members() []peer.PeerNumber {
	return s.hub.members
}

func (s *hubSession) Rand() io.Reader {
	return s.rng
}

func (s *hubSession) Abort(context.Context, error) {}

func (s *hubSession) Close() {}

func (s *hubSession) Partners() []peer.PeerNumber {
	res := []peer.PeerNumber{}
	for _, n := range s.hub.members {
		if n != s.self {
			res = append(res, n)
		}
	}
	return res
}

func (s *hubSession) Send(_ context.Context, to peer.PeerNumber, phase string, round uint32, msg types.Message) error {
	buf, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.hub.slot(hubKey{phase: phase, round: round, from: s.self, to: to}) <- buf
	return nil
}

func (s *hubSession) Broadcast(ctx context.Context, phase string, round uint32, msg types.Message) error {
	for _, p := range s.Partners() {
		err := s.Send(ctx, p, phase, round, msg)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *hubSession) Receive(ctx context.Context, from peer.PeerNumber, phase string, round uint32, msg types.Message) error {
	select {
	case buf := <-s.hub.slot(hubKey{phase: phase, round: round, from: from, to: s.self}):
		return json.Unmarshal(buf, msg)
	case <-time.After(time.Second * 10):
		return &peer.ProtocolError{Session: "test", Phase: phase, Round: round, Peer: from,
			Err: xerrors.Errorf("timeout")}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *hubSession) Exchange(ctx context.Context, phase string, round uint32,
	msg types.Message) (map[peer.PeerNumber]types.Message, error) {

	err := s.Broadcast(ctx, phase, round, msg)
	if err != nil {
		return nil, err
	}
	return s.collect(ctx, phase, round, msg)
}

func (s *hubSession) Scatter(ctx context.Context, phase string, round uint32,
	msgs map[peer.PeerNumber]types.Message) (map[peer.PeerNumber]types.Message, error) {

	var template types.Message
	for p, msg := range msgs {
		template = msg
		err := s.Send(ctx, p, phase, round, msg)
		if err != nil {
			return nil, err
		}
	}
	return s.collect(ctx, phase, round, template)
}

func (s *hubSession) collect(ctx context.Context, phase string, round uint32,
	template types.Message) (map[peer.PeerNumber]types.Message, error) {

	res := map[peer.PeerNumber]types.Message{}
	for _, p := range s.Partners() {
		msg := template.NewEmpty()
		err := s.Receive(ctx, p, phase, round, msg)
		if err != nil {
			return nil, err
		}
		res[p] = msg
	}
	return res, nil
}
