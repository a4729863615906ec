package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/montanaflynn/stats"
	"go.dedis.ch/mpcluster/circuit"
	"go.dedis.ch/mpcluster/crypto/field"
	"go.dedis.ch/mpcluster/peer/impl/mpc"
	"golang.org/x/xerrors"
)

// BenchConfig describes a benchmark on an in-process cluster.
type BenchConfig struct {
	Nodes        int
	Runs         int
	Expression   string
	PaillierBits int
	Seed         string
}

// Bench times the key generation and Runs executions of the expression, then
// prints latency statistics.
func Bench(ctx context.Context, conf BenchConfig) error {
	if conf.Runs <= 0 {
		return xerrors.Errorf("invalid number of runs %d", conf.Runs)
	}

	c, err := circuit.FromExpression("bench", conf.Expression)
	if err != nil {
		return err
	}

	values := make([]field.Element, c.InputCount())
	for i := range values {
		values[i] = field.FromUint64(uint64(i + 2))
	}

	clusters, err := startCluster(ctx, LocalTopology(conf.Nodes, conf.Seed, conf.PaillierBits))
	if err != nil {
		return err
	}
	defer stopCluster(clusters)

	start := time.Now()
	err = genKeys(ctx, clusters)
	if err != nil {
		return err
	}
	keygen := time.Since(start)

	r, err := newRunner(clusters, conf.Seed)
	if err != nil {
		return err
	}

	want, err := c.Evaluate(values)
	if err != nil {
		return err
	}

	latencies := make([]float64, conf.Runs)
	for i := range latencies {
		start := time.Now()

		out, err := r.execute(ctx, c, values, mpc.ClientEncrypted, uint64(i+1))
		if err != nil {
			return xerrors.Errorf("run %d: %v", i, err)
		}
		if !out[0].Equal(want[0]) {
			return xerrors.Errorf("run %d: got %s, expected %s", i, out[0], want[0])
		}

		latencies[i] = float64(time.Since(start).Milliseconds())
	}

	data := stats.Float64Data(latencies)

	mean, err := data.Mean()
	if err != nil {
		return err
	}
	median, err := data.Median()
	if err != nil {
		return err
	}
	p95, err := data.Percentile(95)
	if err != nil {
		return err
	}
	stdev, err := data.StandardDeviation()
	if err != nil {
		return err
	}

	fmt.Printf("nodes: %d, circuit: %d gates, %d multiplications\n", conf.Nodes, len(c.Gates()), c.MulCount())
	fmt.Printf("key generation: %s\n", keygen)
	fmt.Printf("executions: %d, mean %.1fms, median %.1fms, p95 %.1fms, stdev %.1fms\n",
		conf.Runs, mean, median, p95, stdev)

	return nil
}
