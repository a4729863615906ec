package channel

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.dedis.ch/mpcluster/transport"
	"golang.org/x/xerrors"
)

// NewTransport returns a channel-based transport. Sockets created by the same
// transport can talk to each other, which is what in-process clusters use.
func NewTransport() transport.Transport {
	return &Transport{
		incomings: make(map[string]*queue),
		nextPort:  30000,
	}
}

// Transport is an in-memory transport.
//
// - implements transport.Transport
type Transport struct {
	sync.RWMutex
	incomings map[string]*queue
	nextPort  int
}

// CreateSocket implements transport.Transport. A port of 0 is replaced with a
// free one.
func (t *Transport) CreateSocket(address string) (transport.ClosableSocket, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, xerrors.Errorf("invalid address %s: %v", address, err)
	}

	t.Lock()
	defer t.Unlock()

	if portStr == "0" {
		for {
			t.nextPort++
			candidate := net.JoinHostPort(host, strconv.Itoa(t.nextPort))
			if _, used := t.incomings[candidate]; !used {
				address = candidate
				break
			}
		}
	}

	if _, used := t.incomings[address]; used {
		return nil, xerrors.Errorf("address %s already in use", address)
	}

	q := newQueue()
	t.incomings[address] = q

	return &Socket{
		transport: t,
		myAddr:    address,
		incoming:  q,
	}, nil
}

func (t *Transport) lookup(address string) (*queue, bool) {
	t.RLock()
	defer t.RUnlock()

	q, ok := t.incomings[address]
	return q, ok
}

func (t *Transport) remove(address string) {
	t.Lock()
	defer t.Unlock()

	delete(t.incomings, address)
}

// Socket is an in-memory socket.
//
// - implements transport.Socket
// - implements transport.ClosableSocket
type Socket struct {
	transport *Transport
	myAddr    string
	incoming  *queue

	ins  transport.PacketLog
	outs transport.PacketLog
}

// Close implements transport.Socket. It returns an error if already closed.
func (s *Socket) Close() error {
	if !s.incoming.close() {
		return xerrors.Errorf("socket %s already closed", s.myAddr)
	}
	s.transport.remove(s.myAddr)
	return nil
}

// Send implements transport.Socket. Delivery into the destination queue never
// blocks, so the timeout only matters for unknown destinations.
func (s *Socket) Send(dest string, pkt transport.Packet, timeout time.Duration) error {
	q, ok := s.transport.lookup(dest)
	if !ok {
		return xerrors.Errorf("%s: unreachable destination %s", s.myAddr, dest)
	}

	if !q.push(pkt.Copy()) {
		return xerrors.Errorf("%s: destination %s closed", s.myAddr, dest)
	}

	s.outs.Add(pkt)
	return nil
}

// Recv implements transport.Socket.
func (s *Socket) Recv(timeout time.Duration) (transport.Packet, error) {
	pkt, err := s.incoming.pop(timeout)
	if err != nil {
		return transport.Packet{}, err
	}

	s.ins.Add(pkt)
	return pkt, nil
}

// GetAddress implements transport.Socket.
func (s *Socket) GetAddress() string {
	return s.myAddr
}

// GetIns implements transport.Socket
func (s *Socket) GetIns() []transport.Packet {
	return s.ins.All()
}

// GetOuts implements transport.Socket
func (s *Socket) GetOuts() []transport.Packet {
	return s.outs.All()
}

// queue is an unbounded FIFO of packets. Senders never wait on a slow
// receiver.
type queue struct {
	sync.Mutex
	cond   *sync.Cond
	data   []transport.Packet
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.Mutex)
	return q
}

func (q *queue) push(pkt transport.Packet) bool {
	q.Lock()
	defer q.Unlock()

	if q.closed {
		return false
	}
	q.data = append(q.data, pkt)
	q.cond.Signal()
	return true
}

func (q *queue) pop(timeout time.Duration) (transport.Packet, error) {
	q.Lock()
	defer q.Unlock()

	var expired bool
	if timeout != 0 {
		timer := time.AfterFunc(timeout, func() {
			q.Lock()
			expired = true
			q.Unlock()
			q.cond.Broadcast()
		})
		defer timer.Stop()
	}

	for len(q.data) == 0 {
		if q.closed {
			return transport.Packet{}, fmt.Errorf("socket closed")
		}
		if expired {
			return transport.Packet{}, transport.TimeoutError(timeout)
		}
		q.cond.Wait()
	}

	pkt := q.data[0]
	q.data[0] = transport.Packet{}
	q.data = q.data[1:]
	return pkt, nil
}

func (q *queue) close() bool {
	q.Lock()
	defer q.Unlock()

	if q.closed {
		return false
	}
	q.closed = true
	q.cond.Broadcast()
	return true
}
