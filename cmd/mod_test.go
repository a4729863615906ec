package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/mpcluster/circuit"
	"go.dedis.ch/mpcluster/crypto/field"
	"go.dedis.ch/mpcluster/peer"
	"go.dedis.ch/mpcluster/peer/impl/mpc"
	"golang.org/x/xerrors"
)

func Test_Cmd_Load_Topology(t *testing.T) {
	topo, err := LoadTopology("testdata/topology.yaml")
	require.NoError(t, err)

	require.Equal(t, "tcp", topo.Transport)
	require.Equal(t, time.Second*45, topo.ConnectTimeout)
	require.Equal(t, time.Minute*2, topo.RoundTimeout)
	require.Equal(t, 2048, topo.PaillierBits)
	require.Equal(t, 8, topo.Workers)
	require.Equal(t, []NodeConfig{
		{Address: "127.0.0.1:4100", Seed: "alice"},
		{Address: "127.0.0.1:4101", Seed: "bob"},
		{Address: "127.0.0.1:4102", Seed: "carol"},
	}, topo.Nodes)

	ids, err := topo.identities()
	require.NoError(t, err)
	require.Len(t, ids, 3)
	require.Equal(t, peer.PeerNumber(2), ids[2].Number)
}

func Test_Cmd_Load_Topology_Errors(t *testing.T) {
	_, err := LoadTopology("testdata/missing.yaml")
	require.Error(t, err)

	_, err = LoadTopology("testdata/single.yaml")
	require.True(t, xerrors.Is(err, peer.ErrConfiguration))

	topo := LocalTopology(2, "seed", 640)
	topo.Transport = "pigeon"
	_, err = topo.transport()
	require.True(t, xerrors.Is(err, peer.ErrConfiguration))

	_, err = startNode(context.Background(), LocalTopology(2, "seed", 640), nil, 5)
	require.True(t, xerrors.Is(err, peer.ErrConfiguration))
}

func Test_Cmd_Parse_Values(t *testing.T) {
	values, err := parseValues("1, 2 -3")
	require.NoError(t, err)
	require.True(t, cmp.Equal(field.FromUint64s(1, 2), values[:2]))
	require.True(t, values[2].Equal(field.FromInt64(-3)))

	require.Equal(t, "1, 2", formatValues(values[:2]))

	_, err = parseValues("1, x")
	require.Error(t, err)
}

func Test_Cmd_Execute(t *testing.T) {
	clusters, err := startCluster(context.Background(), LocalTopology(2, "execute", 640))
	require.NoError(t, err)
	defer stopCluster(clusters)

	require.NoError(t, genKeys(context.Background(), clusters))

	r, err := newRunner(clusters, "execute client")
	require.NoError(t, err)

	c, err := circuit.FromExpression("expression", "a*b+1")
	require.NoError(t, err)

	for i, mode := range []mpc.OutputMode{mpc.ClientEncrypted, mpc.Revealed, mpc.Shares} {
		out, err := r.execute(context.Background(), c, field.FromUint64s(6, 7), mode, uint64(i+1))
		require.NoError(t, err, mode.String())
		require.True(t, cmp.Equal(field.FromUint64s(43), out), mode.String())
	}
}

func Test_Cmd_Compile(t *testing.T) {
	out := bytes.Buffer{}
	err := Compile(Job{Expression: "a*b+3"}, &out)
	require.NoError(t, err)

	c, err := circuit.Parse("compiled", out.Bytes())
	require.NoError(t, err)

	expected, err := circuit.FromExpression("expression", "a*b+3")
	require.NoError(t, err)
	require.Equal(t, expected.Digest(), c.Digest())
	require.Equal(t, 1, c.Depth())

	require.Error(t, Compile(Job{}, &out))
}
