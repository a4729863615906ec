package cluster

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.dedis.ch/mpcluster/peer"
	"go.dedis.ch/mpcluster/types"
)

// handshake tracks which partners have answered our hello.
type handshake struct {
	sync.Mutex
	received map[peer.PeerNumber]bool
	acked    map[peer.PeerNumber]bool
	done     chan struct{}
	closed   bool
}

func newHandshake(partners []peer.PeerNumber) *handshake {
	h := &handshake{
		received: make(map[peer.PeerNumber]bool),
		acked:    make(map[peer.PeerNumber]bool),
		done:     make(chan struct{}),
	}
	for _, p := range partners {
		h.received[p] = false
		h.acked[p] = false
	}
	return h
}

func (h *handshake) markReceived(n peer.PeerNumber) {
	h.Lock()
	defer h.Unlock()

	h.received[n] = true
}

func (h *handshake) markAcked(n peer.PeerNumber) {
	h.Lock()
	defer h.Unlock()

	h.received[n] = true
	h.acked[n] = true

	if h.closed {
		return
	}
	for _, ok := range h.acked {
		if !ok {
			return
		}
	}
	h.closed = true
	close(h.done)
}

// missing returns the partners that have not acknowledged us, sorted.
func (h *handshake) missing() []peer.PeerNumber {
	h.Lock()
	defer h.Unlock()

	res := []peer.PeerNumber{}
	for n, ok := range h.acked {
		if !ok {
			res = append(res, n)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// connect keeps sending hellos to the partners that have not acknowledged
// them, until all did or the connect timeout elapses.
func (c *Cluster) connect(ctx context.Context) error {
	horizon := c.conf.ConnectTimeout

	ctx, cancel := context.WithTimeout(ctx, horizon)
	defer cancel()

	ticker := time.NewTicker(c.conf.HelloInterval)
	defer ticker.Stop()

	for {
		for _, n := range c.hello.missing() {
			c.sendHello(n, false)
		}

		select {
		case <-c.hello.done:
			log.Debug().Msgf("node %d: all %d partners reachable", c.self.Number, c.registry.Size())
			return nil
		case <-ctx.Done():
			unreachable := c.hello.missing()
			if len(unreachable) == 0 {
				return nil
			}
			log.Warn().Msgf("node %d: partners %v unreachable after %s", c.self.Number, unreachable, horizon)
			return &peer.ConnectivityError{Unreachable: unreachable, Horizon: horizon}
		case <-ticker.C:
		}
	}
}

func (c *Cluster) sendHello(dest peer.PeerNumber, ack bool) {
	hello := types.HelloMessage{
		Number:      c.self.Number,
		IdentityKey: c.self.IdentityKey,
		Membership:  c.registry.Digest(),
		Ack:         ack,
	}

	err := c.send(dest, hello)
	if err != nil {
		log.Debug().Msgf("node %d: hello to %d failed: %v", c.self.Number, dest, err)
	}
}
