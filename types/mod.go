package types

// Message defines the type of message that can be marshalled/unmarshalled over
// the network.
type Message interface {
	NewEmpty() Message
	Name() string
	String() string
	HTML() string
}

// PeerNumber identifies a node within a cluster. A cluster of N+1 nodes uses
// the numbers 0 to N.
type PeerNumber uint32
