package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"go.dedis.ch/mpcluster/crypto/field"
	"go.dedis.ch/mpcluster/peer"
	"go.dedis.ch/mpcluster/peer/impl/cluster"
	"go.dedis.ch/mpcluster/transport"
	"go.dedis.ch/mpcluster/transport/channel"
	"go.dedis.ch/mpcluster/transport/tcp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

var setupOnce sync.Once

// Setup configures the global logger. Only the first call has an effect.
func Setup(level zerolog.Level) {
	setupOnce.Do(func() {
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	})
}

// -----------------------------------------------------------------------------
// Topology

// NodeConfig describes one member of the cluster.
type NodeConfig struct {
	Address string `mapstructure:"address"`
	Seed    string `mapstructure:"seed"`
}

// Topology is the cluster description shared by every member. The node seeds
// are private material: a topology file is meant for local deployments.
type Topology struct {
	Transport      string        `mapstructure:"transport"`
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
	RoundTimeout   time.Duration `mapstructure:"roundTimeout"`
	PaillierBits   int           `mapstructure:"paillierBits"`
	Workers        int           `mapstructure:"workers"`
	Nodes          []NodeConfig  `mapstructure:"nodes"`
}

// LoadTopology reads a YAML topology file.
func LoadTopology(path string) (Topology, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("transport", "tcp")
	v.SetDefault("connectTimeout", "30s")
	v.SetDefault("roundTimeout", "60s")
	v.SetDefault("paillierBits", 2048)
	v.SetDefault("workers", 0)

	err := v.ReadInConfig()
	if err != nil {
		return Topology{}, xerrors.Errorf("failed to read topology %s: %v", path, err)
	}

	var topo Topology
	err = v.Unmarshal(&topo)
	if err != nil {
		return Topology{}, xerrors.Errorf("failed to decode topology %s: %v", path, err)
	}

	if len(topo.Nodes) < 2 {
		return Topology{}, peer.NewConfigurationError("a cluster needs at least 2 nodes, got %d", len(topo.Nodes))
	}

	return topo, nil
}

// LocalTopology returns an in-memory topology of n nodes.
func LocalTopology(n int, seed string, paillierBits int) Topology {
	topo := Topology{
		Transport:      "channel",
		ConnectTimeout: time.Second * 30,
		RoundTimeout:   time.Minute,
		PaillierBits:   paillierBits,
		Nodes:          make([]NodeConfig, n),
	}

	for i := range topo.Nodes {
		topo.Nodes[i] = NodeConfig{
			Address: fmt.Sprintf("127.0.0.1:%d", 32000+i),
			Seed:    fmt.Sprintf("%s/%d", seed, i),
		}
	}
	return topo
}

func (t Topology) identities() ([]peer.PrivNodeInfo, error) {
	ids := make([]peer.PrivNodeInfo, len(t.Nodes))
	for i, n := range t.Nodes {
		id, err := peer.NewPrivNodeInfo(peer.PeerNumber(i), n.Address, []byte(n.Seed))
		if err != nil {
			return nil, xerrors.Errorf("node %d: %v", i, err)
		}
		ids[i] = id
	}
	return ids, nil
}

func (t Topology) transport() (transport.Transport, error) {
	switch t.Transport {
	case "tcp":
		return tcp.NewTCP(), nil
	case "channel":
		return channel.NewTransport(), nil
	default:
		return nil, peer.NewConfigurationError("unknown transport %q", t.Transport)
	}
}

func (t Topology) configuration(trans transport.Transport) peer.Configuration {
	opts := []peer.Option{
		peer.WithTransport(trans),
		peer.WithConnectTimeout(t.ConnectTimeout),
		peer.WithRoundTimeout(t.RoundTimeout),
		peer.WithPaillierBits(t.PaillierBits),
	}
	if t.Workers > 0 {
		opts = append(opts, peer.WithWorkers(t.Workers))
	}
	return peer.NewConfiguration(opts...)
}

// startNode connects node self of the topology to its partners.
func startNode(ctx context.Context, topo Topology, trans transport.Transport, self int) (*cluster.Cluster, error) {
	ids, err := topo.identities()
	if err != nil {
		return nil, err
	}
	if self < 0 || self >= len(ids) {
		return nil, peer.NewConfigurationError("no node %d in a cluster of %d", self, len(ids))
	}

	partners := make([]peer.NodeInfo, 0, len(ids)-1)
	for i, id := range ids {
		if i != self {
			partners = append(partners, id.Public())
		}
	}

	return cluster.New(ctx, topo.configuration(trans), len(ids)-1, ids[self], partners)
}

// startCluster runs every node of the topology in this process.
func startCluster(ctx context.Context, topo Topology) ([]*cluster.Cluster, error) {
	trans, err := topo.transport()
	if err != nil {
		return nil, err
	}

	clusters := make([]*cluster.Cluster, len(topo.Nodes))

	g := errgroup.Group{}
	for i := range clusters {
		i := i
		g.Go(func() error {
			c, err := startNode(ctx, topo, trans, i)
			if err != nil {
				return xerrors.Errorf("node %d: %w", i, err)
			}
			clusters[i] = c
			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		stopCluster(clusters)
		return nil, err
	}
	return clusters, nil
}

func stopCluster(clusters []*cluster.Cluster) {
	for _, c := range clusters {
		if c != nil {
			c.Close()
		}
	}
}

// genKeys runs the key generation on every node of an in-process cluster.
func genKeys(ctx context.Context, clusters []*cluster.Cluster) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range clusters {
		c := c
		g.Go(func() error {
			_, err := c.GenKeyShares(ctx)
			return err
		})
	}
	return g.Wait()
}

// -----------------------------------------------------------------------------
// Utils

func parseValues(s string) ([]field.Element, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' '
	})

	res := make([]field.Element, len(fields))
	for i, f := range fields {
		x, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, xerrors.Errorf("invalid value %q: %v", f, err)
		}
		res[i] = field.FromInt64(x)
	}
	return res, nil
}

func formatValues(values []field.Element) string {
	res := make([]string, len(values))
	for i, v := range values {
		res[i] = v.String()
	}
	return strings.Join(res, ", ")
}

func printError(err error) {
	fmt.Println("~~ERROR~~")
	fmt.Println(err)
}
