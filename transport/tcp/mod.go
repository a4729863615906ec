package tcp

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.dedis.ch/mpcluster/transport"
	"golang.org/x/xerrors"
)

// maxFrameSize bounds a single packet. Preprocessing batches carry thousands
// of Paillier ciphertexts, far more than a datagram could hold.
const maxFrameSize = 64 << 20

const dialTimeout = time.Second

// NewTCP returns a new tcp transport implementation.
func NewTCP() transport.Transport {
	return &TCP{}
}

// TCP implements a transport layer using TCP. Each socket keeps one outgoing
// connection per destination, so packets to the same peer keep their order.
//
// - implements transport.Transport
type TCP struct {
}

func checkValidAddr(address string) bool {
	chunks := strings.Split(address, ":")
	if len(chunks) != 2 {
		return false
	}
	if net.ParseIP(chunks[0]) == nil {
		return false
	}
	port, err := strconv.Atoi(chunks[1])
	if err != nil {
		return false
	}
	return port <= 65535
}

// CreateSocket implements transport.Transport
func (n *TCP) CreateSocket(address string) (transport.ClosableSocket, error) {
	if !checkValidAddr(address) {
		return nil, xerrors.Errorf("Invalid address %s", address)
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	s := &Socket{
		listener: listener,
		myAddr:   listener.Addr().String(),
		conns:    make(map[string]*outConn),
		incoming: make(chan transport.Packet, 1024),
		done:     make(chan struct{}),
	}
	go s.acceptLoop()

	return s, nil
}

// Socket implements a network socket using TCP.
//
// - implements transport.Socket
// - implements transport.ClosableSocket
type Socket struct {
	listener net.Listener
	myAddr   string

	sync.Mutex
	conns map[string]*outConn

	incoming  chan transport.Packet
	done      chan struct{}
	closeOnce sync.Once

	ins  transport.PacketLog
	outs transport.PacketLog
}

type outConn struct {
	sync.Mutex
	conn net.Conn
	w    *bufio.Writer
}

// Close implements transport.Socket. It returns an error if already closed.
func (s *Socket) Close() error {
	closed := false
	s.closeOnce.Do(func() {
		closed = true
		close(s.done)
		s.listener.Close()

		s.Lock()
		for dest, c := range s.conns {
			c.conn.Close()
			delete(s.conns, dest)
		}
		s.Unlock()
	})
	if !closed {
		return xerrors.Errorf("Socket already closed.")
	}
	return nil
}

// Send implements transport.Socket
func (s *Socket) Send(dest string, pkt transport.Packet, timeout time.Duration) error {
	if !checkValidAddr(dest) {
		return xerrors.Errorf("Invalid address %s", dest)
	}

	bytes, err := pkt.Marshal()
	if err != nil {
		return err
	}
	if len(bytes) > maxFrameSize {
		return xerrors.Errorf("packet of %d bytes exceeds frame limit", len(bytes))
	}

	c, err := s.getConn(dest)
	if err != nil {
		return err
	}

	c.Lock()
	defer c.Unlock()

	if timeout != 0 {
		c.conn.SetWriteDeadline(time.Now().Add(timeout))
	} else {
		c.conn.SetWriteDeadline(time.Time{})
	}

	err = writeFrame(c.w, bytes)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		s.dropConn(dest, c)
		return transport.TimeoutError(timeout)
	}
	if err != nil {
		s.dropConn(dest, c)
		return err
	}

	s.outs.Add(pkt)
	return nil
}

// Recv implements transport.Socket. It blocks until a packet is received, or
// the timeout is reached. In the case the timeout is reached, return a
// TimeoutErr.
func (s *Socket) Recv(timeout time.Duration) (transport.Packet, error) {
	var expired <-chan time.Time
	if timeout != 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case pkt := <-s.incoming:
		s.ins.Add(pkt)
		return pkt, nil
	case <-expired:
		return transport.Packet{}, transport.TimeoutError(timeout)
	case <-s.done:
		return transport.Packet{}, xerrors.Errorf("socket %s closed", s.myAddr)
	}
}

// GetAddress implements transport.Socket. It returns the address assigned. Can
// be useful in the case one provided a :0 address, which makes the system use a
// random free port.
func (s *Socket) GetAddress() string {
	return s.myAddr
}

// GetIns implements transport.Socket. Only the last transport.LogSize packets are kept.
func (s *Socket) GetIns() []transport.Packet {
	return s.ins.All()
}

// GetOuts implements transport.Socket. Only the last transport.LogSize packets are kept.
func (s *Socket) GetOuts() []transport.Packet {
	return s.outs.All()
}

func (s *Socket) getConn(dest string) (*outConn, error) {
	s.Lock()
	defer s.Unlock()

	c, ok := s.conns[dest]
	if ok {
		return c, nil
	}

	conn, err := net.DialTimeout("tcp", dest, dialTimeout)
	if err != nil {
		return nil, err
	}
	c = &outConn{conn: conn, w: bufio.NewWriter(conn)}
	s.conns[dest] = c
	return c, nil
}

func (s *Socket) dropConn(dest string, c *outConn) {
	s.Lock()
	defer s.Unlock()

	if s.conns[dest] == c {
		delete(s.conns, dest)
	}
	c.conn.Close()
}

func (s *Socket) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				log.Warn().Msgf("%s: accept error: %v", s.myAddr, err)
				continue
			}
		}
		go s.readLoop(conn)
	}
}

func (s *Socket) readLoop(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	for {
		buf, err := readFrame(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Msgf("%s: dropping connection from %s: %v",
					s.myAddr, conn.RemoteAddr(), err)
			}
			return
		}

		pkt := transport.Packet{}
		err = pkt.Unmarshal(buf)
		if err != nil {
			log.Warn().Msgf("%s: malformed packet: %v", s.myAddr, err)
			continue
		}

		select {
		case s.incoming <- pkt:
		case <-s.done:
			return
		}
	}
}

func writeFrame(w *bufio.Writer, payload []byte) error {
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(payload)))

	_, err := w.Write(size[:])
	if err != nil {
		return err
	}
	_, err = w.Write(payload)
	if err != nil {
		return err
	}
	return w.Flush()
}

func readFrame(r io.Reader) ([]byte, error) {
	var size [4]byte
	_, err := io.ReadFull(r, size[:])
	if err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(size[:])
	if n > maxFrameSize {
		return nil, xerrors.Errorf("frame of %d bytes exceeds limit", n)
	}

	buf := make([]byte, n)
	_, err = io.ReadFull(r, buf)
	if err != nil {
		return nil, err
	}
	return buf, nil
}
