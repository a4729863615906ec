package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	cli "go.dedis.ch/mpcluster/cmd"
)

func main() {
	var verbose bool

	command := &cobra.Command{
		Use:   "mpcpeer",
		Short: "Secure multi-party computation on a cluster of peers",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.ErrorLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			cli.Setup(level)
		},
	}
	command.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log protocol progress")

	addRunCmd(command)
	addNodeCmd(command)
	addBenchCmd(command)
	addCircuitCmd(command)

	err := command.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// addRunCmd runs a whole cluster in this process with an interactive CLI
func addRunCmd(command *cobra.Command) {
	var config string
	var nodes int
	var bits int
	var seed string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run an MPC cluster with interactive CLI",
		Long:  "Run every node of an MPC cluster in this process, generate the cluster key and evaluate expressions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			topo := cli.LocalTopology(nodes, "mpcpeer", bits)
			if config != "" {
				var err error
				topo, err = cli.LoadTopology(config)
				if err != nil {
					return err
				}
			}
			return cli.StartRun(context.Background(), topo, seed)
		},
	}

	runCmd.Flags().StringVarP(&config, "config", "c", "", "Topology file, an in-memory cluster is used when empty")
	runCmd.Flags().IntVarP(&nodes, "nodes", "n", 3, "Number of nodes of the in-memory cluster")
	runCmd.Flags().IntVar(&bits, "paillier-bits", 2048, "Paillier modulus size")
	runCmd.Flags().StringVar(&seed, "client-seed", "", "Seed of the client key, random when empty")

	command.AddCommand(runCmd)
}

// addNodeCmd runs one member of a cluster
func addNodeCmd(command *cobra.Command) {
	var config string
	var self int
	var job cli.Job

	nodeCmd := &cobra.Command{
		Use:   "node",
		Short: "Run one node of an MPC cluster",
		Long:  "Run one node of the cluster described by the topology file and take part in one execution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			topo, err := cli.LoadTopology(config)
			if err != nil {
				return err
			}
			return cli.StartNode(context.Background(), topo, self, job)
		},
	}

	nodeCmd.Flags().StringVarP(&config, "config", "c", "topology.yaml", "Topology file")
	nodeCmd.Flags().IntVarP(&self, "number", "i", 0, "Number of this node in the topology")
	nodeCmd.Flags().StringVar(&job.Circuit, "circuit", "", "Circuit file")
	nodeCmd.Flags().StringVarP(&job.Expression, "expr", "e", "", "Expression, used when no circuit file is given")
	nodeCmd.Flags().StringVar(&job.Values, "values", "", "Comma separated plaintext inputs")
	nodeCmd.Flags().StringVar(&job.Mode, "output", "default", "Output mode")
	nodeCmd.Flags().Uint64Var(&job.Session, "session", 1, "Execution session id")
	nodeCmd.Flags().StringVar(&job.ClientSeed, "client-seed", "mpcpeer client", "Seed of the demo client")

	command.AddCommand(nodeCmd)
}

// addBenchCmd times executions on an in-memory cluster
func addBenchCmd(command *cobra.Command) {
	conf := cli.BenchConfig{}

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark an MPC cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Bench(context.Background(), conf)
		},
	}

	benchCmd.Flags().IntVarP(&conf.Nodes, "nodes", "n", 3, "Number of nodes")
	benchCmd.Flags().IntVarP(&conf.Runs, "runs", "r", 5, "Number of executions")
	benchCmd.Flags().StringVarP(&conf.Expression, "expr", "e", "a*b+c", "Expression to evaluate")
	benchCmd.Flags().IntVar(&conf.PaillierBits, "paillier-bits", 1024, "Paillier modulus size")
	benchCmd.Flags().StringVar(&conf.Seed, "seed", "bench", "Seed of the nodes and the client")

	command.AddCommand(benchCmd)
}

// addCircuitCmd prints the circuit file of an expression
func addCircuitCmd(command *cobra.Command) {
	var job cli.Job

	circuitCmd := &cobra.Command{
		Use:   "circuit",
		Short: "Print the circuit file of an expression",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Compile(job, cmd.OutOrStdout())
		},
	}

	circuitCmd.Flags().StringVarP(&job.Expression, "expr", "e", "", "Expression to compile")
	circuitCmd.Flags().StringVar(&job.Circuit, "circuit", "", "Circuit file to normalize")

	command.AddCommand(circuitCmd)
}
