package cluster

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
	"go.dedis.ch/mpcluster/crypto/prng"
	"go.dedis.ch/mpcluster/crypto/x25519"
	"go.dedis.ch/mpcluster/peer"
	"go.dedis.ch/mpcluster/peer/impl/dkg"
	"go.dedis.ch/mpcluster/registry"
	"go.dedis.ch/mpcluster/registry/standard"
	"go.dedis.ch/mpcluster/storage"
	"go.dedis.ch/mpcluster/transport"
	"go.dedis.ch/mpcluster/types"
	"golang.org/x/xerrors"
)

// ReadTimeout bounds each socket read of the daemon, so that it notices when
// it must stop.
const ReadTimeout = time.Millisecond * 100

// WriteTimeout bounds each socket write.
const WriteTimeout = time.Second * 5

// DKGSession is the session identifier of the key generation.
const DKGSession = "dkg"

const keyShareKey = "keyshare"

// Cluster is the local view of a set of nodes computing together: the local
// identity, the partners' identities and the communication state of the
// sessions running among them.
type Cluster struct {
	conf     peer.Configuration
	self     peer.PrivNodeInfo
	registry *Registry
	id       xid.ID

	socket      transport.ClosableSocket
	msgRegistry registry.Registry
	mailbox     *mailbox
	hello       *handshake

	stopDaemon context.CancelFunc
	daemonDone chan struct{}

	sync.Mutex
	sessions map[string]struct{}
	opened   map[string]uint64
	closed   bool

	keyMutex sync.Mutex
	keys     storage.KVStore
}

// New creates the cluster made of self and size partners, and waits until
// every partner is reachable. It fails with a *peer.ConfigurationError if the
// membership is invalid, and with a *peer.ConnectivityError if some partners
// did not answer within conf.ConnectTimeout. Every node of the cluster must
// call New with the same membership.
func New(ctx context.Context, conf peer.Configuration, size int,
	self peer.PrivNodeInfo, partners []peer.NodeInfo) (*Cluster, error) {

	reg, err := NewRegistry(size, self.Public(), partners)
	if err != nil {
		return nil, err
	}

	if conf.Transport == nil {
		return nil, peer.NewConfigurationError("no transport configured")
	}

	socket, err := conf.Transport.CreateSocket(self.Address)
	if err != nil {
		return nil, xerrors.Errorf("failed to create socket on %s: %v", self.Address, err)
	}

	msgRegistry := conf.MessageRegistry
	if msgRegistry == nil {
		msgRegistry = standard.NewRegistry()
	}

	keys := conf.KeyStore
	if keys == nil {
		keys = storage.NewBasicKV()
	}

	c := &Cluster{
		conf:        conf,
		self:        self,
		registry:    reg,
		id:          xid.New(),
		socket:      socket,
		msgRegistry: msgRegistry,
		mailbox:     newMailbox(),
		hello:       newHandshake(reg.Partners()),
		sessions:    make(map[string]struct{}),
		opened:      make(map[string]uint64),
		keys:        keys,
		daemonDone:  make(chan struct{}),
	}

	c.msgRegistry.RegisterMessageCallback(types.HelloMessage{}, c.ProcessHelloMsg)
	c.msgRegistry.RegisterMessageCallback(types.SessionMessage{}, c.ProcessSessionMsg)

	daemonCtx, cancel := context.WithCancel(context.Background())
	c.stopDaemon = cancel
	c.MessagingDaemon(daemonCtx)

	err = c.connect(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}

	log.Info().Msgf("node %d: cluster %s of %d nodes ready", self.Number, c.id, size+1)

	return c, nil
}

// ID returns the unique identifier of this cluster instance.
func (c *Cluster) ID() string {
	return c.id.String()
}

// Self returns the local node identity.
func (c *Cluster) Self() peer.NodeInfo {
	return c.self.Public()
}

// Registry returns the members of the cluster.
func (c *Cluster) Registry() *Registry {
	return c.registry
}

// Size returns the number of partners.
func (c *Cluster) Size() int {
	return c.registry.Size()
}

// Configuration returns the node configuration.
func (c *Cluster) Configuration() peer.Configuration {
	return c.conf
}

// GetAddr returns the address of the local socket.
func (c *Cluster) GetAddr() string {
	return c.socket.GetAddress()
}

// Socket returns the local socket.
func (c *Cluster) Socket() transport.Socket {
	return c.socket
}

// OpenSession reserves a session identifier. The identifier must not be used
// by another running session of this cluster.
func (c *Cluster) OpenSession(id string) (peer.Session, error) {
	c.Lock()
	defer c.Unlock()

	if c.closed {
		return nil, peer.NewConfigurationError("cluster %s is closed", c.id)
	}
	if _, used := c.sessions[id]; used {
		return nil, peer.NewConfigurationError("session %s is already running", id)
	}

	count := c.opened[id]
	rng, err := prng.Derive(c.self.Seed(), "session/"+id, count)
	if err != nil {
		return nil, xerrors.Errorf("failed to seed session %s: %v", id, err)
	}

	c.sessions[id] = struct{}{}
	c.opened[id] = count + 1

	log.Debug().Msgf("node %d: session %s opened", c.self.Number, id)

	return &session{
		cluster: c,
		id:      id,
		epoch:   count,
		rng:     rng,
		abort:   c.mailbox.abort(sessionUse{id: id, epoch: count}),
	}, nil
}

// SessionID returns the identifier of an execution session.
func SessionID(n uint64) string {
	return strconv.FormatUint(n, 10)
}

func (c *Cluster) releaseSession(use sessionUse) {
	c.mailbox.drop(use)

	c.Lock()
	defer c.Unlock()

	delete(c.sessions, use.id)
	log.Debug().Msgf("node %d: session %s#%d closed", c.self.Number, use.id, use.epoch)
}

// PendingMessages returns the number of session messages waiting for a
// session to ask for them.
func (c *Cluster) PendingMessages() int {
	return c.mailbox.pending()
}

// GenKeyShares runs the distributed key generation with every partner and
// returns the cluster public key. The private share stays in the cluster.
// Once it succeeded, later calls return the same key without any exchange.
func (c *Cluster) GenKeyShares(ctx context.Context) (x25519.PublicKey, error) {
	c.keyMutex.Lock()
	defer c.keyMutex.Unlock()

	share, ok := c.KeyShare()
	if ok {
		return share.PublicKey, nil
	}

	s, err := c.OpenSession(DKGSession)
	if err != nil {
		return x25519.PublicKey{}, err
	}
	defer s.Close()

	share, err = dkg.Run(ctx, s, dkg.Config{
		PaillierBits: c.conf.PaillierBits,
	})
	if err != nil {
		return x25519.PublicKey{}, xerrors.Errorf("key generation failed: %w", err)
	}

	err = c.keys.Put(keyShareKey, share)
	if err != nil {
		return x25519.PublicKey{}, xerrors.Errorf("failed to store key share: %v", err)
	}

	log.Info().Msgf("node %d: cluster public key %s", c.self.Number, share.PublicKey)

	return share.PublicKey, nil
}

// KeyShare returns the local key share, if the key generation ran.
func (c *Cluster) KeyShare() (*dkg.KeyShare, bool) {
	v, ok := c.keys.Get(keyShareKey)
	if !ok {
		return nil, false
	}
	share, ok := v.(*dkg.KeyShare)
	return share, ok
}

// Close stops the daemon and closes the socket. Running sessions fail.
func (c *Cluster) Close() error {
	c.Lock()
	if c.closed {
		c.Unlock()
		return nil
	}
	c.closed = true
	c.Unlock()

	c.stopDaemon()
	<-c.daemonDone

	err := c.socket.Close()
	if err != nil {
		return xerrors.Errorf("failed to close socket: %v", err)
	}

	log.Info().Msgf("node %d: cluster %s closed", c.self.Number, c.id)
	return nil
}

// MessagingDaemon starts a new loop to listen to the messages.
func (c *Cluster) MessagingDaemon(ctx context.Context) {
	go func() {
		defer close(c.daemonDone)

		for {
			select {
			case <-ctx.Done():
				return
			default:
				pkt, err := c.socket.Recv(ReadTimeout)
				if xerrors.Is(err, transport.TimeoutError(0)) {
					continue
				}
				if err != nil {
					log.Debug().Msgf("node %d: recv failed: %v", c.self.Number, err)
					time.Sleep(ReadTimeout)
					continue
				}

				err = c.msgRegistry.ProcessPacket(pkt)
				if err != nil {
					log.Debug().Msgf("node %d: %v", c.self.Number, err)
				}
			}
		}
	}()
}

func (c *Cluster) send(dest peer.PeerNumber, msg types.Message) error {
	info, ok := c.registry.Lookup(dest)
	if !ok {
		return xerrors.Errorf("unknown peer %d", dest)
	}

	transpMsg, err := c.msgRegistry.MarshalMessage(msg)
	if err != nil {
		return err
	}

	header := transport.NewHeader(c.socket.GetAddress(), info.Address)
	pkt := transport.Packet{Header: &header, Msg: &transpMsg}

	return c.socket.Send(info.Address, pkt, WriteTimeout)
}
