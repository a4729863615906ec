package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Transport defines the primitives to handle a layer 4 transport.
type Transport interface {
	CreateSocket(address string) (ClosableSocket, error)
}

// Socket describes the primitives of a socket communication element. Packets
// sent to the same destination are delivered in the order they were sent.
type Socket interface {
	// Send sends a msg to the destination. If the timeout is reached without
	// having sent the message, returns a TimeoutError. A value of 0 means no
	// timeout.
	Send(dest string, pkt Packet, timeout time.Duration) error

	// Recv blocks until a packet is received, or the timeout is reached. In
	// the case the timeout is reached, returns a TimeoutError. A value of 0
	// means no timeout.
	Recv(timeout time.Duration) (Packet, error)

	// GetAddress returns the address assigned. Can be useful in the case one
	// provided a :0 address, which makes the system use a random free port.
	GetAddress() string

	// GetIns returns the packets received so far. An implementation may only
	// keep the most recent ones.
	GetIns() []Packet

	// GetOuts returns the packets sent so far. An implementation may only keep
	// the most recent ones.
	GetOuts() []Packet
}

// ClosableSocket extends a socket with a Close() function.
type ClosableSocket interface {
	Socket
	Close() error
}

// TimeoutError is a type of error used by the network interface if a timeout
// is reached when sending or receiving.
type TimeoutError time.Duration

// Error implements error.
func (err TimeoutError) Error() string {
	return fmt.Sprintf("timeout reached after %d", time.Duration(err))
}

// Is implements error.
func (TimeoutError) Is(err error) bool {
	_, ok := err.(TimeoutError)
	return ok
}

// LogSize bounds the packets a PacketLog remembers.
const LogSize = 4096

// PacketLog keeps copies of the most recent LogSize packets. The zero value is
// ready to use.
type PacketLog struct {
	sync.Mutex
	data []Packet
}

// Add records a copy of the packet.
func (l *PacketLog) Add(pkt Packet) {
	l.Lock()
	defer l.Unlock()

	if len(l.data) == 2*LogSize {
		l.data = append(l.data[:0], l.data[LogSize:]...)
	}
	l.data = append(l.data, pkt.Copy())
}

// All returns copies of the recorded packets, oldest first.
func (l *PacketLog) All() []Packet {
	l.Lock()
	defer l.Unlock()

	data := l.data
	if len(data) > LogSize {
		data = data[len(data)-LogSize:]
	}

	res := make([]Packet, len(data))
	for i, pkt := range data {
		res[i] = pkt.Copy()
	}
	return res
}

// Packet is a type of message sent over the network
type Packet struct {
	Header *Header
	Msg    *Message
}

// Marshal transforms a packet to something that can be sent over the network.
func (p *Packet) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Unmarshal transforms a marshaled packet to an actual packet. Packet
// creation should be done with Marshal().
func (p *Packet) Unmarshal(buf []byte) error {
	return json.Unmarshal(buf, p)
}

// Copy returns a copy of the packet
func (p Packet) Copy() Packet {
	h := p.Header.Copy()
	m := p.Msg.Copy()

	return Packet{
		Header: &h,
		Msg:    &m,
	}
}

// Message defines the type of message sent over the network. Payload should be
// a json marshalled representation of a types.Message, and Type the
// corresponding message name, available with types.Message.Name().
type Message struct {
	Type    string
	Payload json.RawMessage
}

// Copy returns a copy of the message
func (m Message) Copy() Message {
	return Message{
		Type:    m.Type,
		Payload: append(json.RawMessage(nil), m.Payload...),
	}
}

// Header contains the metadata of a packet needed for its transport.
type Header struct {
	// PacketID is a unique packet identifier. Used for debug purposes.
	PacketID string

	// Timestamp is the creation timestamp of the packet, in nanosecond.
	Timestamp int64

	// Source is the address of the packet's creator.
	Source string

	// Destination is the address of the packet's final destination.
	Destination string
}

// NewHeader returns a new header with initialized fields.
func NewHeader(source, dest string) Header {
	return Header{
		PacketID:    xid.New().String(),
		Timestamp:   time.Now().UnixNano(),
		Source:      source,
		Destination: dest,
	}
}

// Copy returns the copy of header
func (h Header) Copy() Header {
	return h
}

// String returns a short representation of a header.
func (h Header) String() string {
	return fmt.Sprintf("{%s: %s -> %s}", h.PacketID, h.Source, h.Destination)
}
