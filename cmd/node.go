package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"go.dedis.ch/mpcluster/circuit"
	"go.dedis.ch/mpcluster/crypto/field"
	"go.dedis.ch/mpcluster/crypto/prng"
	"go.dedis.ch/mpcluster/crypto/x25519"
	"go.dedis.ch/mpcluster/hybrid"
	"go.dedis.ch/mpcluster/peer/impl/mpc"
	"golang.org/x/xerrors"
)

// Job is the execution a standalone node takes part in. Every member must be
// started with the same job.
type Job struct {
	// Circuit is the path of a circuit file. Expression is used when empty.
	Circuit    string
	Expression string
	Values     string
	Mode       string
	Session    uint64
	// ClientSeed is the seed of a demo client known to every member, so that
	// they all seal identical inputs.
	ClientSeed string
}

func (j Job) circuit() (*circuit.Circuit, error) {
	if j.Circuit != "" {
		return circuit.Load(j.Circuit)
	}
	if j.Expression == "" {
		return nil, xerrors.Errorf("no circuit nor expression")
	}
	return circuit.FromExpression("expression", j.Expression)
}

// Compile writes the circuit of the job in the circuit file format, so that an
// expression can be turned into a file shared by every member.
func Compile(job Job, out io.Writer) error {
	c, err := job.circuit()
	if err != nil {
		return err
	}

	buf, err := c.Marshal()
	if err != nil {
		return xerrors.Errorf("failed to encode circuit: %v", err)
	}

	log.Info().Msgf("circuit %s: %d inputs, %d multiplications, depth %d",
		c.Name(), c.InputCount(), c.MulCount(), c.Depth())

	_, err = out.Write(buf)
	return err
}

// StartNode runs member self of topo until the job is done.
func StartNode(ctx context.Context, topo Topology, self int, job Job) error {
	trans, err := topo.transport()
	if err != nil {
		return err
	}

	c, err := job.circuit()
	if err != nil {
		return err
	}

	values, err := parseValues(job.Values)
	if err != nil {
		return err
	}

	mode, err := mpc.ParseOutputMode(job.Mode)
	if err != nil {
		return err
	}

	node, err := startNode(ctx, topo, trans, self)
	if err != nil {
		return err
	}
	defer node.Close()

	log.Info().Msgf("node %d: connected to %d partners", self, len(node.Registry().Partners()))

	pub, err := node.GenKeyShares(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Cluster public key: ", pub)

	rng, err := prng.NewKeyedPRNG([]byte(job.ClientSeed))
	if err != nil {
		return err
	}

	priv, err := x25519.RandomPrivateKey(rng)
	if err != nil {
		return err
	}

	client, err := hybrid.NewWithClientFromKeyPair(priv, pub)
	if err != nil {
		return err
	}

	nonce, err := field.Random(rng)
	if err != nil {
		return err
	}

	in, err := mpc.InputsFromCluster(node, client.Seal(values, nonce),
		mpc.InputsConfig{UsesSharedEncryption: true})
	if err != nil {
		return err
	}

	exec, err := mpc.NewExecutionBuilder().
		Cluster(node).
		Inputs(in).
		Circuit(c).
		OutputMode(mode).
		Build(ctx, job.Session)
	if err != nil {
		return err
	}

	log.Info().Msgf("node %d: running %s with %d triples", self, c.Name(), exec.TripleCount())

	out, err := exec.Run(ctx)
	if err != nil {
		return err
	}

	if exec.OutputMode() == mpc.ClientEncrypted {
		out, err = client.DecryptOutput(out)
		if err != nil {
			return err
		}
	}

	fmt.Printf("%s (%s): %s\n", c.Name(), exec.OutputMode(), formatValues(out))
	return nil
}
