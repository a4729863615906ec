package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AlecAivazis/survey/v2"
	"go.dedis.ch/mpcluster/circuit"
	"go.dedis.ch/mpcluster/crypto/field"
	"go.dedis.ch/mpcluster/crypto/prng"
	"go.dedis.ch/mpcluster/crypto/x25519"
	"go.dedis.ch/mpcluster/hybrid"
	"go.dedis.ch/mpcluster/peer/impl/cluster"
	"go.dedis.ch/mpcluster/peer/impl/mpc"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// -----------------------------------------------------------------------------
// Run CMD Prompt

const (
	evaluateAction = "🦑 Evaluate an expression"
	clusterAction  = "🐋 Show cluster"
	exitAction     = "🍃 Exit"
)

var prompt = &survey.Select{
	Message: "What do you want to do ?",
	Options: []string{evaluateAction, clusterAction, exitAction},
}

var outputModes = []string{
	mpc.ClientEncrypted.String(),
	mpc.Revealed.String(),
	mpc.Shares.String(),
}

// runner holds an in-process cluster and the client talking to it.
type runner struct {
	clusters []*cluster.Cluster
	client   *hybrid.Client
	rng      *prng.KeyedPRNG
	session  uint64
}

// StartRun starts every node of topo in this process, generates the cluster
// key and prompts for expressions to evaluate.
func StartRun(ctx context.Context, topo Topology, clientSeed string) error {
	clusters, err := startCluster(ctx, topo)
	if err != nil {
		return err
	}
	defer stopCluster(clusters)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		stopCluster(clusters)
		os.Exit(1)
	}()

	fmt.Println("############################################")
	fmt.Println("######     Starting an MPC cluster    ######")
	fmt.Println("############################################")

	err = genKeys(ctx, clusters)
	if err != nil {
		return err
	}

	r, err := newRunner(clusters, clientSeed)
	if err != nil {
		return err
	}
	r.printCluster()

	var action string
	for {
		err := survey.AskOne(prompt, &action)
		if err != nil {
			return err
		}

		switch action {
		case evaluateAction:
			err = r.evaluate(ctx)
		case clusterAction:
			r.printCluster()
		case exitAction:
			fmt.Println("bye 👋")
			return nil
		}
		if err != nil {
			printError(err)
		}
	}
}

func newRunner(clusters []*cluster.Cluster, seed string) (*runner, error) {
	var rng *prng.KeyedPRNG
	var err error

	if seed == "" {
		rng, err = prng.NewPRNG()
	} else {
		rng, err = prng.NewKeyedPRNG([]byte(seed))
	}
	if err != nil {
		return nil, err
	}

	priv, err := x25519.RandomPrivateKey(rng)
	if err != nil {
		return nil, err
	}

	share, ok := clusters[0].KeyShare()
	if !ok {
		return nil, xerrors.Errorf("the cluster key has not been generated")
	}

	client, err := hybrid.NewWithClientFromKeyPair(priv, share.PublicKey)
	if err != nil {
		return nil, err
	}

	return &runner{clusters: clusters, client: client, rng: rng}, nil
}

func (r *runner) printCluster() {
	fmt.Println("Cluster id: ", r.clusters[0].ID())
	for _, c := range r.clusters {
		fmt.Println("  member: ", c.Self())
	}
	fmt.Println("Cluster public key: ", r.client.ClusterPublicKey())
	fmt.Println("Client public key: ", r.client.PublicKey())
	fmt.Println()
}

func (r *runner) evaluate(ctx context.Context) error {
	var expr string
	err := survey.AskOne(&survey.Input{Message: "Enter the expression:"}, &expr)
	if err != nil {
		return err
	}

	c, err := circuit.FromExpression("expression", expr)
	if err != nil {
		return err
	}

	names, err := circuit.InputNames(expr)
	if err != nil {
		return err
	}

	var valuesStr string
	err = survey.AskOne(&survey.Input{Message: fmt.Sprintf("Enter the values of %v:", names)}, &valuesStr)
	if err != nil {
		return err
	}

	values, err := parseValues(valuesStr)
	if err != nil {
		return err
	}

	var modeStr string
	err = survey.AskOne(&survey.Select{Message: "Output mode:", Options: outputModes}, &modeStr)
	if err != nil {
		return err
	}

	mode, err := mpc.ParseOutputMode(modeStr)
	if err != nil {
		return err
	}

	r.session++
	res, err := r.execute(ctx, c, values, mode, r.session)
	if err != nil {
		return err
	}

	fmt.Printf("%s = %s\n", expr, formatValues(res))
	return nil
}

// execute encrypts values for the cluster, evaluates c on every node and
// returns the plaintext outputs. Shares are summed by the client.
func (r *runner) execute(ctx context.Context, c *circuit.Circuit, values []field.Element,
	mode mpc.OutputMode, sessionID uint64) ([]field.Element, error) {

	nonce, err := field.Random(r.rng)
	if err != nil {
		return nil, err
	}

	payload := r.client.Seal(values, nonce)
	outputs := make([][]field.Element, len(r.clusters))

	g, ctx := errgroup.WithContext(ctx)
	for i := range r.clusters {
		i := i
		g.Go(func() error {
			in, err := mpc.InputsFromCluster(r.clusters[i], payload, mpc.InputsConfig{UsesSharedEncryption: true})
			if err != nil {
				return err
			}

			exec, err := mpc.NewExecutionBuilder().
				Cluster(r.clusters[i]).
				Inputs(in).
				Circuit(c).
				OutputMode(mode).
				Build(ctx, sessionID)
			if err != nil {
				return err
			}

			outputs[i], err = exec.Run(ctx)
			return err
		})
	}

	err = g.Wait()
	if err != nil {
		return nil, err
	}

	switch mode {
	case mpc.ClientEncrypted:
		return r.client.DecryptOutput(outputs[0])
	case mpc.Shares:
		res := make([]field.Element, len(outputs[0]))
		for i := range res {
			res[i] = field.Zero()
			for _, out := range outputs {
				res[i] = res[i].Add(out[i])
			}
		}
		return res, nil
	default:
		return outputs[0], nil
	}
}
