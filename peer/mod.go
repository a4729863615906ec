package peer

import (
	"context"
	"io"
	"runtime"
	"time"

	"go.dedis.ch/mpcluster/crypto/paillier"
	"go.dedis.ch/mpcluster/registry"
	"go.dedis.ch/mpcluster/storage"
	"go.dedis.ch/mpcluster/transport"
	"go.dedis.ch/mpcluster/types"
)

// PeerNumber identifies a node within a cluster.
type PeerNumber = types.PeerNumber

// Configuration is the configuration of a cluster node. Use NewConfiguration
// to get the defaults.
type Configuration struct {
	// Transport creates the node's socket.
	Transport transport.Transport

	// MessageRegistry dispatches received messages. A fresh one is created
	// when nil. It must not be shared between nodes.
	MessageRegistry registry.Registry

	// KeyStore keeps the node's key shares. An in-memory one is created when
	// nil.
	KeyStore storage.KVStore

	// ConnectTimeout bounds the cluster handshake.
	ConnectTimeout time.Duration

	// RoundTimeout bounds every wait for a partner's message.
	RoundTimeout time.Duration

	// HelloInterval is the pace at which hello messages are resent.
	HelloInterval time.Duration

	// PaillierBits is the modulus size of the keys generated during key
	// generation. All nodes of a cluster must use the same value.
	PaillierBits int

	// Workers bounds the goroutines of CPU heavy batches.
	Workers int
}

// Option sets a configuration field.
type Option func(*Configuration)

// NewConfiguration returns the default configuration, with opts applied.
func NewConfiguration(opts ...Option) Configuration {
	conf := Configuration{
		ConnectTimeout: time.Second * 10,
		RoundTimeout:   time.Second * 30,
		HelloInterval:  time.Millisecond * 100,
		PaillierBits:   paillier.DefaultBits,
		Workers:        runtime.NumCPU(),
	}

	for _, opt := range opts {
		opt(&conf)
	}

	return conf
}

// WithTransport sets the transport.
func WithTransport(t transport.Transport) Option {
	return func(c *Configuration) {
		c.Transport = t
	}
}

// WithMessageRegistry sets the message registry.
func WithMessageRegistry(r registry.Registry) Option {
	return func(c *Configuration) {
		c.MessageRegistry = r
	}
}

// WithKeyStore sets the key store.
func WithKeyStore(s storage.KVStore) Option {
	return func(c *Configuration) {
		c.KeyStore = s
	}
}

// WithConnectTimeout sets the handshake horizon.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Configuration) {
		c.ConnectTimeout = d
	}
}

// WithRoundTimeout sets the per-round timeout.
func WithRoundTimeout(d time.Duration) Option {
	return func(c *Configuration) {
		c.RoundTimeout = d
	}
}

// WithHelloInterval sets the hello resend interval.
func WithHelloInterval(d time.Duration) Option {
	return func(c *Configuration) {
		c.HelloInterval = d
	}
}

// WithPaillierBits sets the Paillier modulus size.
func WithPaillierBits(bits int) Option {
	return func(c *Configuration) {
		c.PaillierBits = bits
	}
}

// WithWorkers sets the size of worker pools.
func WithWorkers(n int) Option {
	return func(c *Configuration) {
		c.Workers = n
	}
}

// Session is the communication handle of one protocol run among the members
// of a cluster. Messages are matched by phase, round and sender, so their
// arrival order does not matter. Every blocking call returns a
// *ProtocolError naming the partner and round when the partner's message is
// missing, invalid, or the partner aborted.
type Session interface {
	// ID returns the session identifier.
	ID() string

	// Self returns the local peer number.
	Self() PeerNumber

	// Members returns all peer numbers of the cluster, sorted.
	Members() []PeerNumber

	// Partners returns the members without the local node, sorted.
	Partners() []PeerNumber

	// Rand returns the session's deterministic randomness. It must only be
	// read from the protocol goroutine.
	Rand() io.Reader

	// Send sends msg to a partner for the given round.
	Send(ctx context.Context, to PeerNumber, phase string, round uint32, msg types.Message) error

	// Broadcast sends msg to every partner.
	Broadcast(ctx context.Context, phase string, round uint32, msg types.Message) error

	// Receive waits for the message of a partner for the given round and
	// unmarshals it into msg.
	Receive(ctx context.Context, from PeerNumber, phase string, round uint32, msg types.Message) error

	// Exchange broadcasts msg and returns the message of the same type each
	// partner sent for the round.
	Exchange(ctx context.Context, phase string, round uint32, msg types.Message) (map[PeerNumber]types.Message, error)

	// Scatter sends each partner its own message and returns what each
	// partner sent back for the round. All messages must have the same type.
	Scatter(ctx context.Context, phase string, round uint32, msgs map[PeerNumber]types.Message) (map[PeerNumber]types.Message, error)

	// Abort tells the partners the session failed.
	Abort(ctx context.Context, err error)

	// Close releases the session identifier and drops pending messages.
	Close()
}
