package mpc

import (
	"context"
	"fmt"
	"sync"

	"filippo.io/edwards25519"
	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"
	"go.dedis.ch/mpcluster/crypto/field"
	"go.dedis.ch/mpcluster/crypto/x25519"
	"go.dedis.ch/mpcluster/peer"
	"go.dedis.ch/mpcluster/peer/impl/cluster"
	"go.dedis.ch/mpcluster/types"
	"golang.org/x/xerrors"
)

// Execution is a built execution. It runs once.
type Execution struct {
	cluster *cluster.Cluster
	sess    peer.Session
	eng     *engine
	plan    plan

	sync.Mutex
	state State
}

// ID returns the session identifier of the execution.
func (e *Execution) ID() string {
	return e.sess.ID()
}

// State returns the lifecycle state.
func (e *Execution) State() State {
	e.Lock()
	defer e.Unlock()

	return e.state
}

// OutputMode returns the resolved output mode.
func (e *Execution) OutputMode() OutputMode {
	return e.plan.mode
}

// TripleCount returns the number of Beaver triples generated for the run.
func (e *Execution) TripleCount() int {
	return e.plan.triples
}

// Run runs the execution and returns the outputs in the order the circuit
// declares them. In Shares mode each node returns its own shares once every
// partner confirmed it finished the evaluation. On failure
// no output is returned, the partners are told to abort, and the error is a
// *peer.ProtocolError naming the partner and round at fault.
func (e *Execution) Run(ctx context.Context) ([]field.Element, error) {
	e.Lock()
	if e.state != Ready {
		state := e.state
		e.Unlock()
		return nil, peer.NewConfigurationError("execution %s is %s, it can only run once", e.sess.ID(), state)
	}
	e.state = Running
	e.Unlock()

	defer e.sess.Close()

	outputs, err := e.run(ctx)

	e.Lock()
	defer e.Unlock()

	if err != nil {
		e.state = Failed
		e.sess.Abort(ctx, err)
		log.Error().Msgf("node %d: execution %s failed: %v", e.sess.Self(), e.sess.ID(), err)
		return nil, err
	}

	e.state = Completed
	log.Info().Msgf("node %d: execution %s completed", e.sess.Self(), e.sess.ID())

	return outputs, nil
}

func (e *Execution) run(ctx context.Context) ([]field.Element, error) {
	in := e.plan.inputs

	// decrypt

	e.eng.phase = PhaseDecrypt

	var key field.Element
	if in.conf.UsesSharedEncryption {
		client, _ := in.clientKey()

		var err error
		key, err = e.deriveKey(ctx, client)
		if err != nil {
			return nil, err
		}
	} else {
		key = e.plan.keys.MXE
	}

	ks, err := keystream(ctx, e.eng, key, in.nonce(), in.Len())
	if err != nil {
		return nil, err
	}

	inputs := make([]field.Element, in.Len())
	for i, ct := range in.ciphertext() {
		inputs[i] = e.eng.constant(ct).Sub(ks[i])
	}

	log.Debug().Msgf("node %d: execution %s decrypted %d inputs", e.sess.Self(), e.sess.ID(), len(inputs))

	// evaluate

	e.eng.phase = PhaseEvaluate

	outputs, err := evaluate(ctx, e.eng, e.plan.circuit, inputs)
	if err != nil {
		return nil, err
	}

	// output

	e.eng.phase = PhaseOutput

	var res []field.Element

	switch e.plan.mode {
	case Shares:
		// nothing is opened, the final round only confirms every partner finished
		res = outputs

	case Revealed:
		res, err = e.eng.open(ctx, outputs)
		if err != nil {
			return nil, err
		}

	case ClientEncrypted:
		if !e.plan.reuseKey {
			key, err = e.deriveKey(ctx, e.plan.outputClient)
			if err != nil {
				return nil, err
			}
		}

		sealed, err := e.seal(ctx, key, outputs)
		if err != nil {
			return nil, err
		}
		res = append([]field.Element{e.plan.outputClient.Element()}, sealed...)

	case MXEEncrypted:
		res, err = e.seal(ctx, e.plan.keys.MXE, outputs)
		if err != nil {
			return nil, err
		}
	}

	digest := outputDigest(res)
	if e.plan.mode == Shares {
		digest = sharesDigest(len(res))
	}

	err = e.eng.agree(ctx, digest,
		func(d []byte) types.Message { return types.MPCOutputMessage{Digest: d} },
		func(m types.Message) []byte { return m.(*types.MPCOutputMessage).Digest })
	if err != nil {
		return nil, err
	}

	return res, nil
}

// deriveKey returns the shares of the u-coordinate of s·C, where s is the
// cluster secret and C the client key. Each node adds its own s_j·C to the
// shared sum, so that neither s nor the result is known to anyone.
func (e *Execution) deriveKey(ctx context.Context, client x25519.PublicKey) (field.Element, error) {
	c, err := client.Edwards()
	if err != nil {
		return field.Element{}, xerrors.Errorf("invalid client key: %v", err)
	}

	d := new(edwards25519.Point).ScalarMult(e.plan.keys.Scalar, c)
	x, y := x25519.AffineCoordinates(d)

	shares, err := e.eng.share(ctx, []field.Element{x, y})
	if err != nil {
		return field.Element{}, err
	}

	members := e.sess.Members()
	xs := make([]field.Element, len(members))
	ys := make([]field.Element, len(members))
	for i, n := range members {
		xs[i], ys[i] = shares[n][0], shares[n][1]
	}

	return sharedSecret(ctx, e.eng, xs, ys)
}

// seal encrypts the shared values under the shared key with a fresh nonce and
// opens the result: [nonce, ct...].
func (e *Execution) seal(ctx context.Context, key field.Element, values []field.Element) ([]field.Element, error) {
	r, err := e.eng.random()
	if err != nil {
		return nil, err
	}

	nonce, err := e.eng.open(ctx, []field.Element{r})
	if err != nil {
		return nil, err
	}

	ks, err := keystream(ctx, e.eng, key, nonce[0], len(values))
	if err != nil {
		return nil, err
	}

	ct := make([]field.Element, len(values))
	for i := range values {
		ct[i] = values[i].Add(ks[i])
	}

	opened, err := e.eng.open(ctx, ct)
	if err != nil {
		return nil, err
	}

	return append(nonce, opened...), nil
}

func outputDigest(values []field.Element) []byte {
	h := blake3.New()
	h.Write(field.EncodeAll(values))
	return h.Sum(nil)
}

func sharesDigest(count int) []byte {
	h := blake3.New()
	fmt.Fprintf(h, "shares:%d", count)
	return h.Sum(nil)
}
