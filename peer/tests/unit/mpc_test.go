package unit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/mpcluster/circuit"
	"go.dedis.ch/mpcluster/crypto/field"
	"go.dedis.ch/mpcluster/crypto/prng"
	"go.dedis.ch/mpcluster/crypto/x25519"
	"go.dedis.ch/mpcluster/hybrid"
	z "go.dedis.ch/mpcluster/internal/testing"
	"go.dedis.ch/mpcluster/peer"
	"go.dedis.ch/mpcluster/peer/impl/cluster"
	"go.dedis.ch/mpcluster/peer/impl/mpc"
	"go.dedis.ch/mpcluster/transport"
	"go.dedis.ch/mpcluster/types"
	"golang.org/x/xerrors"
)

const circuits = "../../../circuit/testdata/"

var shared = mpc.InputsConfig{UsesSharedEncryption: true}

var mxe = mpc.InputsConfig{UsesMXEEncryption: true}

// -----------------------------------------------------------------------------
// End to end

func Test_MPC_Shared_Add(t *testing.T) {
	clusters := z.NewTestCluster(t, 1, z.WithSeed("add"))
	pub := z.GenKeys(t, clusters)

	client := newClient(t, "add client", pub)
	payload := client.Seal(field.FromUint64s(1, 2), field.FromUint64(20))

	c, err := circuit.Load(circuits + "add_together.yaml")
	require.NoError(t, err)

	execs := buildAll(t, clusters, payload, shared, c, 1)
	for _, e := range execs {
		require.Equal(t, mpc.Ready, e.State())
		require.Equal(t, mpc.ClientEncrypted, e.OutputMode())
		require.Equal(t, 2*mpc.MulsPerElement+mpc.MulsPerAddition+mpc.MulsPerInversion+mpc.MulsPerElement,
			e.TripleCount())
	}

	outputs := runAll(t, execs)

	for _, out := range outputs {
		require.Len(t, out, 3)
		require.Equal(t, field.EncodeAll(outputs[0]), field.EncodeAll(out))

		plain, err := client.DecryptOutput(out)
		require.NoError(t, err)
		require.True(t, cmp.Equal(field.FromUint64s(3), plain))
	}

	// the result is not sent in the clear
	require.False(t, outputs[0][2].Equal(field.FromUint64(3)))

	for _, e := range execs {
		require.Equal(t, mpc.Completed, e.State())

		_, err := e.Run(context.Background())
		require.True(t, xerrors.Is(err, peer.ErrConfiguration))
	}
}

func Test_MPC_Reproducible(t *testing.T) {
	type run struct {
		pub     x25519.PublicKey
		payload []byte
		output  []byte
		plain   []field.Element
	}

	once := func() run {
		clusters := z.NewTestCluster(t, 1, z.WithSeed("reproducible run"))
		pub := z.GenKeys(t, clusters)

		client := newClient(t, "reproducible client", pub)
		payload := client.Seal(field.FromUint64s(5, 6), field.FromUint64(77))

		c, err := circuit.FromExpression("product", "a*b")
		require.NoError(t, err)

		outputs := runAll(t, buildAll(t, clusters, payload, shared, c, 3))

		plain, err := client.DecryptOutput(outputs[0])
		require.NoError(t, err)

		return run{
			pub:     pub,
			payload: field.EncodeAll(payload),
			output:  field.EncodeAll(outputs[0]),
			plain:   plain,
		}
	}

	first := once()
	second := once()

	require.Equal(t, first.pub, second.pub)
	require.Equal(t, first.payload, second.payload)
	require.Equal(t, first.output, second.output)
	require.True(t, cmp.Equal(field.FromUint64s(30), first.plain))
	require.True(t, cmp.Equal(first.plain, second.plain))
}

func Test_MPC_Revealed_Polynomial(t *testing.T) {
	clusters := z.NewTestCluster(t, 2, z.WithSeed("polynomial"))
	pub := z.GenKeys(t, clusters)

	client := newClient(t, "polynomial client", pub)
	payload := client.Seal(field.FromUint64s(4, 5), field.FromUint64(1))

	c, err := circuit.Load(circuits + "polynomial.yaml")
	require.NoError(t, err)

	execs := buildAll(t, clusters, payload, shared, c, 9, func(b *mpc.ExecutionBuilder) {
		b.OutputMode(mpc.Revealed)
	})

	for _, out := range runAll(t, execs) {
		// 3ab + a - 7 and ab
		require.True(t, cmp.Equal(field.FromUint64s(57, 20), out))
	}
}

func Test_MPC_Shares_Output(t *testing.T) {
	clusters := z.NewTestCluster(t, 2, z.WithSeed("shares"))
	pub := z.GenKeys(t, clusters)

	client := newClient(t, "shares client", pub)
	payload := client.Seal(field.FromUint64s(7, 8), field.FromUint64(2))

	c, err := circuit.FromExpression("product", "a*b")
	require.NoError(t, err)

	execs := buildAll(t, clusters, payload, shared, c, 4, func(b *mpc.ExecutionBuilder) {
		b.OutputMode(mpc.Shares)
	})

	sum := field.Zero()
	for _, out := range runAll(t, execs) {
		require.Len(t, out, 1)
		require.False(t, out[0].Equal(field.FromUint64(56)))
		sum = sum.Add(out[0])
	}

	require.True(t, sum.Equal(field.FromUint64(56)))
}

func Test_MPC_MXE_Roundtrip(t *testing.T) {
	clusters := z.NewTestCluster(t, 1, z.WithSeed("mxe"))
	pub := z.GenKeys(t, clusters)

	client := newClient(t, "mxe client", pub)
	payload := client.Seal(field.FromUint64s(1, 2), field.FromUint64(20))

	add, err := circuit.Load(circuits + "add_together.yaml")
	require.NoError(t, err)

	// the sum stays encrypted for the cluster
	stored := runAll(t, buildAll(t, clusters, payload, shared, add, 1, func(b *mpc.ExecutionBuilder) {
		b.OutputMode(mpc.MXEEncrypted)
	}))
	require.Len(t, stored[0], 2)
	require.Equal(t, field.EncodeAll(stored[0]), field.EncodeAll(stored[1]))

	double, err := circuit.FromExpression("double", "2*x")
	require.NoError(t, err)

	execs := buildAll(t, clusters, stored[0], mxe, double, 2, func(b *mpc.ExecutionBuilder) {
		b.OutputMode(mpc.ClientEncrypted).OutputClient(client.PublicKey())
	})

	for _, out := range runAll(t, execs) {
		plain, err := client.DecryptOutput(out)
		require.NoError(t, err)
		require.True(t, cmp.Equal(field.FromUint64s(6), plain))
	}

	// MXE inputs default to MXE outputs
	execs = buildAll(t, clusters, stored[0], mxe, double, 3)
	require.Equal(t, mpc.MXEEncrypted, execs[0].OutputMode())
	runAll(t, execs)
}

// -----------------------------------------------------------------------------
// Failures

func Test_MPC_Foreign_Inputs(t *testing.T) {
	clustersA := z.NewTestCluster(t, 1, z.WithSeed("cluster A"))
	clustersB := z.NewTestCluster(t, 1, z.WithSeed("cluster B"))
	z.GenKeys(t, clustersA)
	z.GenKeys(t, clustersB)

	c, err := circuit.Load(circuits + "add_together.yaml")
	require.NoError(t, err)

	in, err := mpc.InputsFromCluster(clustersA[0], mxePayload(t, 2), mxe)
	require.NoError(t, err)

	sent := sessionOuts(clustersB[0])

	_, err = mpc.NewExecutionBuilder().Cluster(clustersB[0]).Inputs(in).Circuit(c).Build(context.Background(), 1)
	require.Error(t, err)
	require.True(t, xerrors.Is(err, peer.ErrConfiguration))

	require.Equal(t, sent, sessionOuts(clustersB[0]))
}

func Test_MPC_Build_Errors(t *testing.T) {
	clusters := z.NewTestCluster(t, 1, z.WithSeed("build errors"))
	z.GenKeys(t, clusters)

	noKeys := z.NewTestCluster(t, 1, z.WithSeed("no keys"))

	add, err := circuit.Load(circuits + "add_together.yaml")
	require.NoError(t, err)

	in, err := mpc.InputsFromCluster(clusters[0], mxePayload(t, 2), mxe)
	require.NoError(t, err)
	short, err := mpc.InputsFromCluster(clusters[0], mxePayload(t, 1), mxe)
	require.NoError(t, err)
	unkeyed, err := mpc.InputsFromCluster(noKeys[0], mxePayload(t, 2), mxe)
	require.NoError(t, err)

	table := []struct {
		name     string
		builder  *mpc.ExecutionBuilder
		sentinel error
	}{
		{"no cluster", mpc.NewExecutionBuilder().Inputs(in).Circuit(add), peer.ErrConfiguration},
		{"no inputs", mpc.NewExecutionBuilder().Cluster(clusters[0]).Circuit(add), peer.ErrConfiguration},
		{"no circuit", mpc.NewExecutionBuilder().Cluster(clusters[0]).Inputs(in), peer.ErrConfiguration},
		{"input count", mpc.NewExecutionBuilder().Cluster(clusters[0]).Inputs(short).Circuit(add), peer.ErrCircuit},
		{"no key", mpc.NewExecutionBuilder().Cluster(noKeys[0]).Inputs(unkeyed).Circuit(add), peer.ErrConfiguration},
		{"no output client", mpc.NewExecutionBuilder().Cluster(clusters[0]).Inputs(in).Circuit(add).
			OutputMode(mpc.ClientEncrypted), peer.ErrConfiguration},
		{"unknown mode", mpc.NewExecutionBuilder().Cluster(clusters[0]).Inputs(in).Circuit(add).
			OutputMode(mpc.OutputMode(42)), peer.ErrConfiguration},
	}

	sent := sessionOuts(clusters[0])

	for _, tc := range table {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.builder.Build(context.Background(), 1)
			require.Error(t, err)
			require.True(t, xerrors.Is(err, tc.sentinel), err.Error())
		})
	}

	require.Equal(t, sent, sessionOuts(clusters[0]))
}

func Test_MPC_Inputs_Config(t *testing.T) {
	clusters := z.NewTestCluster(t, 1, z.WithSeed("inputs config"))

	payload := mxePayload(t, 2)

	_, err := mpc.InputsFromCluster(clusters[0], payload, mpc.InputsConfig{})
	require.True(t, xerrors.Is(err, peer.ErrConfiguration))

	_, err = mpc.InputsFromCluster(clusters[0], payload,
		mpc.InputsConfig{UsesSharedEncryption: true, UsesMXEEncryption: true})
	require.True(t, xerrors.Is(err, peer.ErrConfiguration))

	_, err = mpc.InputsFromCluster(clusters[0], nil, mxe)
	require.True(t, xerrors.Is(err, peer.ErrConfiguration))

	// u = -1 has no edwards lift
	_, err = mpc.InputsFromCluster(clusters[0], []field.Element{field.FromInt64(-1), field.One()}, shared)
	require.True(t, xerrors.Is(err, peer.ErrConfiguration))

	in, err := mpc.InputsFromCluster(clusters[0], payload, mxe)
	require.NoError(t, err)
	require.Equal(t, 2, in.Len())
	require.Equal(t, mxe, in.Config())
}

func Test_MPC_Duplicate_Session(t *testing.T) {
	clusters := z.NewTestCluster(t, 1, z.WithSeed("duplicate"))
	z.GenKeys(t, clusters)

	c, err := circuit.FromExpression("increment", "x+1")
	require.NoError(t, err)

	payload := mxePayload(t, 1)

	execs := buildAll(t, clusters, payload, mxe, c, 5, func(b *mpc.ExecutionBuilder) {
		b.OutputMode(mpc.Shares)
	})
	require.Equal(t, mpc.MulsPerElement, execs[0].TripleCount())

	in, err := mpc.InputsFromCluster(clusters[0], payload, mxe)
	require.NoError(t, err)

	_, err = mpc.NewExecutionBuilder().Cluster(clusters[0]).Inputs(in).Circuit(c).Build(context.Background(), 5)
	require.True(t, xerrors.Is(err, peer.ErrConfiguration))

	runAll(t, execs)
}

func Test_MPC_Malformed_Share(t *testing.T) {
	tamper := &tamperSocket{}

	clusters := z.NewTestCluster(t, 2, z.WithSeed("malformed"), z.WithRoundTimeout(time.Second*5),
		z.WithSocketWrapper(2, func(self peer.PrivNodeInfo, s transport.ClosableSocket) transport.ClosableSocket {
			tamper.ClosableSocket = s
			tamper.self = self
			return tamper
		}))
	pub := z.GenKeys(t, clusters)

	client := newClient(t, "malformed client", pub)
	payload := client.Seal(field.FromUint64s(3, 4), field.FromUint64(11))

	c, err := circuit.FromExpression("product", "a*b")
	require.NoError(t, err)

	execs := buildAll(t, clusters, payload, shared, c, 1, func(b *mpc.ExecutionBuilder) {
		b.OutputMode(mpc.Revealed)
	})

	outputs := make([][]field.Element, len(execs))
	errs := z.RunAll(len(execs), func(i int) error {
		var err error
		outputs[i], err = execs[i].Run(context.Background())
		return err
	})

	round, ok := tamper.tamperedRound()
	require.True(t, ok)

	for i := 0; i < 2; i++ {
		require.Nil(t, outputs[i], "node %d", i)
		require.Equal(t, mpc.Failed, execs[i].State())

		protoErr := &peer.ProtocolError{}
		require.True(t, xerrors.As(errs[i], &protoErr), "node %d: %v", i, errs[i])
		require.Equal(t, peer.PeerNumber(2), protoErr.Peer)
		require.Equal(t, round, protoErr.Round)
		require.Equal(t, mpc.PhaseEvaluate, protoErr.Phase)
		require.Equal(t, "1", protoErr.Session)
	}

	require.Error(t, errs[2])
	require.Nil(t, outputs[2])
}

func Test_MPC_Shares_Partial_Failure(t *testing.T) {
	tamper := &tamperSocket{}

	clusters := z.NewTestCluster(t, 2, z.WithSeed("partial failure"), z.WithRoundTimeout(time.Second*5),
		z.WithSocketWrapper(2, func(self peer.PrivNodeInfo, s transport.ClosableSocket) transport.ClosableSocket {
			tamper.ClosableSocket = s
			tamper.self = self
			return tamper
		}))
	pub := z.GenKeys(t, clusters)

	// only node 0 sees the bad opening, node 1 finishes the evaluation
	tamper.towards(clusters[0].Self().Address)

	client := newClient(t, "partial failure client", pub)
	payload := client.Seal(field.FromUint64s(3, 4), field.FromUint64(11))

	c, err := circuit.FromExpression("product", "a*b")
	require.NoError(t, err)

	execs := buildAll(t, clusters, payload, shared, c, 1, func(b *mpc.ExecutionBuilder) {
		b.OutputMode(mpc.Shares)
	})

	outputs := make([][]field.Element, len(execs))
	errs := z.RunAll(len(execs), func(i int) error {
		var err error
		outputs[i], err = execs[i].Run(context.Background())
		return err
	})

	_, ok := tamper.tamperedRound()
	require.True(t, ok)

	for i := range execs {
		require.Error(t, errs[i], "node %d", i)
		require.Nil(t, outputs[i], "node %d", i)
		require.Equal(t, mpc.Failed, execs[i].State())
	}

	protoErr := &peer.ProtocolError{}
	require.True(t, xerrors.As(errs[0], &protoErr), errs[0].Error())
	require.Equal(t, peer.PeerNumber(2), protoErr.Peer)
	require.Equal(t, mpc.PhaseEvaluate, protoErr.Phase)

	protoErr = &peer.ProtocolError{}
	require.True(t, xerrors.As(errs[1], &protoErr), errs[1].Error())
	require.Equal(t, peer.PeerNumber(2), protoErr.Peer)
}

func Test_MPC_Concurrent_Sessions(t *testing.T) {
	clusters := z.NewTestCluster(t, 2, z.WithSeed("concurrent"))
	pub := z.GenKeys(t, clusters)

	c, err := circuit.FromExpression("product", "a*b")
	require.NoError(t, err)

	clients := make([]*hybrid.Client, 3)
	payloads := make([][]field.Element, 3)
	for k := range clients {
		clients[k] = newClient(t, fmt.Sprintf("concurrent client %d", k), pub)
		payloads[k] = clients[k].Seal(field.FromUint64s(uint64(k+2), 10), field.FromUint64(uint64(k)))
	}

	execs := make([][]*mpc.Execution, 3)
	for k := range execs {
		execs[k] = make([]*mpc.Execution, len(clusters))
	}

	// every node builds the three sessions at once
	errs := z.RunAll(len(clusters)*3, func(i int) error {
		node, k := i/3, i%3

		in, err := mpc.InputsFromCluster(clusters[node], payloads[k], shared)
		if err != nil {
			return err
		}

		execs[k][node], err = mpc.NewExecutionBuilder().Cluster(clusters[node]).Inputs(in).Circuit(c).
			Build(context.Background(), uint64(20+k))
		return err
	})
	for i, err := range errs {
		require.NoError(t, err, "node %d session %d", i/3, 20+i%3)
	}

	outputs := make([][][]field.Element, 3)
	for k := range outputs {
		outputs[k] = make([][]field.Element, len(clusters))
	}

	errs = z.RunAll(len(clusters)*3, func(i int) error {
		node, k := i/3, i%3

		var err error
		outputs[k][node], err = execs[k][node].Run(context.Background())
		return err
	})
	for i, err := range errs {
		require.NoError(t, err, "node %d session %d", i/3, 20+i%3)
	}

	for k := range outputs {
		for node := range clusters {
			require.Equal(t, field.EncodeAll(outputs[k][0]), field.EncodeAll(outputs[k][node]))
		}

		plain, err := clients[k].DecryptOutput(outputs[k][0])
		require.NoError(t, err)
		require.True(t, cmp.Equal(field.FromUint64s(uint64(10*(k+2))), plain), "session %d", 20+k)
	}

	for _, cl := range clusters {
		require.Equal(t, 0, cl.PendingMessages())
	}
}

// -----------------------------------------------------------------------------
// Utility functions

func newClient(t *testing.T, seed string, pub x25519.PublicKey) *hybrid.Client {
	rng, err := prng.NewKeyedPRNG([]byte(seed))
	require.NoError(t, err)

	priv, err := x25519.RandomPrivateKey(rng)
	require.NoError(t, err)

	client, err := hybrid.NewWithClientFromKeyPair(priv, pub)
	require.NoError(t, err)
	return client
}

// mxePayload returns [nonce, ct...] with n arbitrary ciphertexts.
func mxePayload(t *testing.T, n int) []field.Element {
	rng, err := prng.NewKeyedPRNG([]byte(fmt.Sprintf("mxe payload %d", n)))
	require.NoError(t, err)

	res := make([]field.Element, n+1)
	for i := range res {
		res[i], err = field.Random(rng)
		require.NoError(t, err)
	}
	return res
}

func buildAll(t *testing.T, clusters []*cluster.Cluster, payload []field.Element, conf mpc.InputsConfig,
	c *circuit.Circuit, id uint64, opts ...func(*mpc.ExecutionBuilder)) []*mpc.Execution {

	execs := make([]*mpc.Execution, len(clusters))

	errs := z.RunAll(len(clusters), func(i int) error {
		in, err := mpc.InputsFromCluster(clusters[i], payload, conf)
		if err != nil {
			return err
		}

		b := mpc.NewExecutionBuilder().Cluster(clusters[i]).Inputs(in).Circuit(c)
		for _, opt := range opts {
			opt(b)
		}

		execs[i], err = b.Build(context.Background(), id)
		return err
	})

	for i, err := range errs {
		require.NoError(t, err, "node %d", i)
	}
	return execs
}

func runAll(t *testing.T, execs []*mpc.Execution) [][]field.Element {
	outputs := make([][]field.Element, len(execs))

	errs := z.RunAll(len(execs), func(i int) error {
		var err error
		outputs[i], err = execs[i].Run(context.Background())
		return err
	})

	for i, err := range errs {
		require.NoError(t, err, "node %d", i)
	}
	return outputs
}

// sessionOuts counts the session messages sent by c.
func sessionOuts(c *cluster.Cluster) int {
	n := 0
	for _, pkt := range c.Socket().GetOuts() {
		if pkt.Msg.Type == (types.SessionMessage{}).Name() {
			n++
		}
	}
	return n
}

// tamperSocket corrupts the openings its node sends while evaluating, and
// signs them again so that only the content is wrong.
type tamperSocket struct {
	transport.ClosableSocket
	self peer.PrivNodeInfo

	sync.Mutex
	only     string
	round    uint32
	tampered bool
}

// towards restricts the corruption to the packets sent to addr.
func (s *tamperSocket) towards(addr string) {
	s.Lock()
	defer s.Unlock()

	s.only = addr
}

func (s *tamperSocket) tamperedRound() (uint32, bool) {
	s.Lock()
	defer s.Unlock()

	return s.round, s.tampered
}

func (s *tamperSocket) Send(dest string, pkt transport.Packet, timeout time.Duration) error {
	s.Lock()
	only := s.only
	s.Unlock()

	if pkt.Msg == nil || pkt.Msg.Type != (types.SessionMessage{}).Name() || (only != "" && only != dest) {
		return s.ClosableSocket.Send(dest, pkt, timeout)
	}

	sm := types.SessionMessage{}
	err := json.Unmarshal(pkt.Msg.Payload, &sm)
	if err != nil || sm.Phase != mpc.PhaseEvaluate || sm.Msg.Type != (types.MPCOpenMessage{}).Name() {
		return s.ClosableSocket.Send(dest, pkt, timeout)
	}

	open := types.MPCOpenMessage{}
	err = json.Unmarshal(sm.Msg.Payload, &open)
	if err != nil {
		return err
	}
	open.Values[0] = bytes.Repeat([]byte{0xff}, field.Size)

	inner, err := json.Marshal(open)
	if err != nil {
		return err
	}
	sm.Msg = &transport.Message{Type: sm.Msg.Type, Payload: inner}

	err = cluster.SignSessionMessage(s.self, &sm)
	if err != nil {
		return err
	}

	outer, err := json.Marshal(sm)
	if err != nil {
		return err
	}

	s.Lock()
	if !s.tampered {
		s.tampered = true
		s.round = sm.Round
	}
	s.Unlock()

	return s.ClosableSocket.Send(dest, transport.Packet{
		Header: pkt.Header,
		Msg:    &transport.Message{Type: pkt.Msg.Type, Payload: outer},
	}, timeout)
}
