package registry

import (
	"go.dedis.ch/mpcluster/transport"
	"go.dedis.ch/mpcluster/types"
)

// Exec is the type of function that is called when a message is received. The
// packet contains the header and the raw message, while the types.Message is
// the unmarshalled version of the packet's message.
type Exec func(types.Message, transport.Packet) error

// Registry defines the functions to register callbacks for messages and
// process packets.
type Registry interface {
	// RegisterMessageCallback registers a callback for a given message type.
	// Registering a callback twice for the same type overrides the first one.
	RegisterMessageCallback(types.Message, Exec)

	// ProcessPacket executes the registered callback based on the pkt.Message.
	ProcessPacket(pkt transport.Packet) error

	// MarshalMessage returns the transport.Message corresponding to a
	// types.Message.
	MarshalMessage(types.Message) (transport.Message, error)

	// UnmarshalMessage fills the provided types.Message with the payload of
	// the transport message.
	UnmarshalMessage(*transport.Message, types.Message) error
}
