// Package testing provides the in-process clusters the tests run on.
package testing

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/mpcluster/crypto/x25519"
	"go.dedis.ch/mpcluster/peer"
	"go.dedis.ch/mpcluster/peer/impl/cluster"
	"go.dedis.ch/mpcluster/transport"
	"go.dedis.ch/mpcluster/transport/channel"
	"golang.org/x/sync/errgroup"
)

// TestPaillierBits is the Paillier modulus size of test clusters. It keeps
// preprocessing fast while leaving room for the masks.
const TestPaillierBits = 640

// SocketWrapper replaces the socket of a node.
type SocketWrapper func(self peer.PrivNodeInfo, s transport.ClosableSocket) transport.ClosableSocket

type configTemplate struct {
	transport      transport.Transport
	basePort       int
	seed           string
	connectTimeout time.Duration
	roundTimeout   time.Duration
	paillierBits   int
	workers        int
	wrappers       map[peer.PeerNumber]SocketWrapper
}

func newConfigTemplate() configTemplate {
	return configTemplate{
		transport:      channel.NewTransport(),
		basePort:       31000,
		seed:           "test",
		connectTimeout: time.Second * 10,
		roundTimeout:   time.Second * 20,
		paillierBits:   TestPaillierBits,
		workers:        4,
		wrappers:       map[peer.PeerNumber]SocketWrapper{},
	}
}

// Option is the type of option when creating a test cluster.
type Option func(*configTemplate)

// WithTransport sets the transport shared by the nodes.
func WithTransport(t transport.Transport) Option {
	return func(ct *configTemplate) {
		ct.transport = t
	}
}

// WithBasePort sets the port of node 0. Node n listens on basePort+n.
func WithBasePort(port int) Option {
	return func(ct *configTemplate) {
		ct.basePort = port
	}
}

// WithSeed sets the seed the node identities derive from.
func WithSeed(seed string) Option {
	return func(ct *configTemplate) {
		ct.seed = seed
	}
}

// WithConnectTimeout sets the handshake horizon.
func WithConnectTimeout(d time.Duration) Option {
	return func(ct *configTemplate) {
		ct.connectTimeout = d
	}
}

// WithRoundTimeout sets the per-round timeout.
func WithRoundTimeout(d time.Duration) Option {
	return func(ct *configTemplate) {
		ct.roundTimeout = d
	}
}

// WithWorkers sets the size of the preprocessing pool.
func WithWorkers(n int) Option {
	return func(ct *configTemplate) {
		ct.workers = n
	}
}

// WithSocketWrapper replaces the socket of node n.
func WithSocketWrapper(n peer.PeerNumber, wrap SocketWrapper) Option {
	return func(ct *configTemplate) {
		ct.wrappers[n] = wrap
	}
}

// Identities returns the identities of the size+1 members of a test cluster.
func Identities(t *testing.T, size int, basePort int, seed string) []peer.PrivNodeInfo {
	res := make([]peer.PrivNodeInfo, size+1)
	for i := range res {
		address := net.JoinHostPort("127.0.0.1", strconv.Itoa(basePort+i))

		info, err := peer.NewPrivNodeInfo(peer.PeerNumber(i), address, []byte(fmt.Sprintf("%s/%d", seed, i)))
		require.NoError(t, err)
		res[i] = info
	}
	return res
}

// Partners returns the public identities of every member but self.
func Partners(ids []peer.PrivNodeInfo, self int) []peer.NodeInfo {
	res := make([]peer.NodeInfo, 0, len(ids)-1)
	for i, id := range ids {
		if i != self {
			res = append(res, id.Public())
		}
	}
	return res
}

// configuration returns the configuration of node self.
func (ct configTemplate) configuration(self peer.PrivNodeInfo) peer.Configuration {
	var trans transport.Transport = ct.transport

	wrap, ok := ct.wrappers[self.Number]
	if ok {
		trans = wrappedTransport{Transport: ct.transport, self: self, wrap: wrap}
	}

	return peer.NewConfiguration(
		peer.WithTransport(trans),
		peer.WithConnectTimeout(ct.connectTimeout),
		peer.WithRoundTimeout(ct.roundTimeout),
		peer.WithHelloInterval(time.Millisecond*20),
		peer.WithPaillierBits(ct.paillierBits),
		peer.WithWorkers(ct.workers),
	)
}

// NewTestCluster starts the size+1 nodes of a cluster and waits until they
// are all connected. The clusters are closed when the test ends.
func NewTestCluster(t *testing.T, size int, opts ...Option) []*cluster.Cluster {
	ct := newConfigTemplate()
	for _, opt := range opts {
		opt(&ct)
	}

	ids := Identities(t, size, ct.basePort, ct.seed)
	clusters := make([]*cluster.Cluster, size+1)

	g := errgroup.Group{}
	for i := range ids {
		i := i
		g.Go(func() error {
			c, err := cluster.New(context.Background(), ct.configuration(ids[i]), size, ids[i], Partners(ids, i))
			if err != nil {
				return err
			}
			clusters[i] = c
			return nil
		})
	}

	err := g.Wait()
	for _, c := range clusters {
		if c != nil {
			c := c
			t.Cleanup(func() { c.Close() })
		}
	}
	require.NoError(t, err)

	return clusters
}

// NewCluster creates the cluster of node self only, with the same defaults as
// NewTestCluster. It returns the construction error.
func NewCluster(t *testing.T, size int, self int, opts ...Option) (*cluster.Cluster, error) {
	ct := newConfigTemplate()
	for _, opt := range opts {
		opt(&ct)
	}

	ids := Identities(t, size, ct.basePort, ct.seed)

	c, err := cluster.New(context.Background(), ct.configuration(ids[self]), size, ids[self], Partners(ids, self))
	if c != nil {
		t.Cleanup(func() { c.Close() })
	}
	return c, err
}

// RunAll calls f for every node concurrently and returns the errors, indexed
// by node.
func RunAll(n int, f func(i int) error) []error {
	errs := make([]error, n)

	g := errgroup.Group{}
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			errs[i] = f(i)
			return nil
		})
	}
	g.Wait()

	return errs
}

// GenKeys runs the key generation on every node and checks they agree on the
// cluster key.
func GenKeys(t *testing.T, clusters []*cluster.Cluster) x25519.PublicKey {
	keys := make([]x25519.PublicKey, len(clusters))

	errs := RunAll(len(clusters), func(i int) error {
		var err error
		keys[i], err = clusters[i].GenKeyShares(context.Background())
		return err
	})

	for i, err := range errs {
		require.NoError(t, err, "node %d", i)
		require.Equal(t, keys[0], keys[i])
	}

	return keys[0]
}

type wrappedTransport struct {
	transport.Transport
	self peer.PrivNodeInfo
	wrap SocketWrapper
}

func (w wrappedTransport) CreateSocket(address string) (transport.ClosableSocket, error) {
	s, err := w.Transport.CreateSocket(address)
	if err != nil {
		return nil, err
	}
	return w.wrap(w.self, s), nil
}
