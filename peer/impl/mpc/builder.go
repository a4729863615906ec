package mpc

import (
	"bytes"
	"context"
	"encoding/binary"

	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"
	"go.dedis.ch/mpcluster/circuit"
	"go.dedis.ch/mpcluster/crypto/x25519"
	"go.dedis.ch/mpcluster/peer"
	"go.dedis.ch/mpcluster/peer/impl/cluster"
	"go.dedis.ch/mpcluster/peer/impl/dkg"
	"go.dedis.ch/mpcluster/types"
)

// ExecutionBuilder assembles an execution. Cluster, Inputs and Circuit are
// required.
type ExecutionBuilder struct {
	cluster      *cluster.Cluster
	inputs       *Inputs
	circuit      *circuit.Circuit
	mode         OutputMode
	outputClient *x25519.PublicKey
}

// NewExecutionBuilder returns an empty builder.
func NewExecutionBuilder() *ExecutionBuilder {
	return &ExecutionBuilder{}
}

// Cluster sets the cluster running the execution.
func (b *ExecutionBuilder) Cluster(c *cluster.Cluster) *ExecutionBuilder {
	b.cluster = c
	return b
}

// Inputs sets the input bundle.
func (b *ExecutionBuilder) Inputs(in Inputs) *ExecutionBuilder {
	b.inputs = &in
	return b
}

// Circuit sets the circuit to evaluate.
func (b *ExecutionBuilder) Circuit(c *circuit.Circuit) *ExecutionBuilder {
	b.circuit = c
	return b
}

// OutputMode sets how outputs are delivered. It defaults to the mode of the
// inputs.
func (b *ExecutionBuilder) OutputMode(m OutputMode) *ExecutionBuilder {
	b.mode = m
	return b
}

// OutputClient sets the client that client-encrypted outputs are encrypted
// for. It defaults to the client that encrypted the inputs.
func (b *ExecutionBuilder) OutputClient(pub x25519.PublicKey) *ExecutionBuilder {
	b.outputClient = &pub
	return b
}

// Build validates the execution, agrees on it with the partners and runs the
// preprocessing. Every node must build the same execution with the same
// session id. Validation failures return before anything is sent.
func (b *ExecutionBuilder) Build(ctx context.Context, sessionID uint64) (*Execution, error) {
	p, err := b.plan()
	if err != nil {
		return nil, err
	}

	sess, err := b.cluster.OpenSession(cluster.SessionID(sessionID))
	if err != nil {
		return nil, err
	}

	exec := &Execution{
		cluster: b.cluster,
		sess:    sess,
		eng:     newEngine(sess),
		plan:    p,
		state:   Ready,
	}

	err = exec.prepare(ctx)
	if err != nil {
		sess.Abort(ctx, err)
		sess.Close()
		return nil, err
	}

	log.Info().Msgf("node %d: execution %s ready, %d triples, depth %d",
		sess.Self(), sess.ID(), p.triples, p.circuit.Depth())

	return exec, nil
}

// plan is everything an execution needs, validated.
type plan struct {
	circuit *circuit.Circuit
	inputs  Inputs
	keys    *dkg.KeyShare
	mode    OutputMode

	// outputClient is set for client-encrypted outputs.
	outputClient x25519.PublicKey
	// reuseKey is set when the outputs are encrypted for the input's client.
	reuseKey bool

	triples int
}

func (b *ExecutionBuilder) plan() (plan, error) {
	if b.cluster == nil {
		return plan{}, peer.NewConfigurationError("no cluster")
	}
	if b.inputs == nil {
		return plan{}, peer.NewConfigurationError("no inputs")
	}
	if b.circuit == nil {
		return plan{}, peer.NewConfigurationError("no circuit")
	}

	in := *b.inputs

	err := in.conf.validate()
	if err != nil {
		return plan{}, err
	}

	if in.clusterID != b.cluster.ID() || !bytes.Equal(in.membership, b.cluster.Registry().Digest()) {
		return plan{}, peer.NewConfigurationError("inputs are bound to cluster %s, not %s",
			in.clusterID, b.cluster.ID())
	}

	if in.Len() != b.circuit.InputCount() {
		return plan{}, peer.NewCircuitError(b.circuit.Name(), "circuit takes %d inputs, got %d",
			b.circuit.InputCount(), in.Len())
	}

	keys, ok := b.cluster.KeyShare()
	if !ok {
		return plan{}, peer.NewConfigurationError("the cluster key has not been generated")
	}

	p := plan{
		circuit: b.circuit,
		inputs:  in,
		keys:    keys,
		mode:    b.mode,
	}

	if p.mode == DefaultOutput {
		p.mode = MXEEncrypted
		if in.conf.UsesSharedEncryption {
			p.mode = ClientEncrypted
		}
	}

	switch p.mode {
	case Revealed, MXEEncrypted, Shares:
	case ClientEncrypted:
		inputClient, shared := in.clientKey()

		switch {
		case b.outputClient != nil:
			p.outputClient = *b.outputClient
		case shared:
			p.outputClient = inputClient
		default:
			return plan{}, peer.NewConfigurationError("client encrypted outputs need a client key")
		}

		_, err = p.outputClient.Edwards()
		if err != nil {
			return plan{}, peer.NewConfigurationError("invalid output client key: %v", err)
		}

		p.reuseKey = shared && p.outputClient == inputClient
	default:
		return plan{}, peer.NewConfigurationError("unknown output mode %s", p.mode)
	}

	p.triples = p.tripleCount(len(b.cluster.Registry().Members()))

	return p, nil
}

// tripleCount returns the number of multiplications of the execution.
func (p plan) tripleCount(members int) int {
	keyCost := (members-1)*MulsPerAddition + MulsPerInversion

	n := p.circuit.MulCount() + p.inputs.Len()*MulsPerElement
	if p.inputs.conf.UsesSharedEncryption {
		n += keyCost
	}

	switch p.mode {
	case ClientEncrypted:
		n += p.circuit.OutputCount() * MulsPerElement
		if !p.reuseKey {
			n += keyCost
		}
	case MXEEncrypted:
		n += p.circuit.OutputCount() * MulsPerElement
	}

	return n
}

func (p plan) digest(sessionID string, membership []byte) []byte {
	h := blake3.New()

	write := func(b []byte) {
		var size [8]byte
		binary.BigEndian.PutUint64(size[:], uint64(len(b)))
		h.Write(size[:])
		h.Write(b)
	}

	var buf [8]byte
	circuitDigest := p.circuit.Digest()

	write([]byte(sessionID))
	write(membership)
	write(circuitDigest[:])
	write(p.inputs.digest())
	write([]byte(p.mode.String()))
	write(p.outputClient[:])
	binary.BigEndian.PutUint64(buf[:], uint64(p.triples))
	write(buf[:])

	return h.Sum(nil)
}

func (e *Execution) prepare(ctx context.Context) error {
	e.eng.phase = PhaseSetup

	digest := e.plan.digest(e.sess.ID(), e.cluster.Registry().Digest())

	err := e.eng.agree(ctx, digest,
		func(d []byte) types.Message { return types.MPCSetupMessage{Digest: d} },
		func(m types.Message) []byte { return m.(*types.MPCSetupMessage).Digest })
	if err != nil {
		return err
	}

	e.eng.phase = PhasePreprocess

	return e.eng.preprocess(ctx, e.plan.keys, e.plan.triples, e.cluster.Configuration().Workers)
}
