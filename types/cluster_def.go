package types

import "go.dedis.ch/mpcluster/transport"

// HelloMessage is exchanged while a cluster forms. A node keeps sending it
// until every partner has acknowledged it.
//
// - implements types.Message
type HelloMessage struct {
	Number PeerNumber
	// IdentityKey is the compressed secp256k1 identity of the sender.
	IdentityKey []byte
	// Membership is a digest of the cluster members as seen by the sender.
	Membership []byte
	// Ack tells that the sender has received the recipient's hello.
	Ack bool
}

// SessionMessage carries a protocol message for one round of a session. The
// signature covers every field but itself.
//
// - implements types.Message
type SessionMessage struct {
	Session   string
	// Epoch counts the previous uses of the session identifier.
	Epoch     uint64
	Phase     string
	Round     uint32
	Sender    PeerNumber
	Msg       *transport.Message
	Signature []byte
}

// AbortMessage tells partners that a session failed and must be stopped.
//
// - implements types.Message
type AbortMessage struct {
	Session string
	Phase   string
	Round   uint32
	Culprit PeerNumber
	Reason  string
}
