package cluster

import (
	"bytes"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"go.dedis.ch/mpcluster/peer"
	"go.dedis.ch/mpcluster/transport"
	"go.dedis.ch/mpcluster/types"
	"golang.org/x/xerrors"
)

// ProcessHelloMsg is the callback function to process hello messages. A hello
// that does not match the local view of the membership is ignored.
func (c *Cluster) ProcessHelloMsg(msg types.Message, pkt transport.Packet) error {
	hello, ok := msg.(*types.HelloMessage)
	if !ok {
		return xerrors.Errorf("wrong type: %T", msg)
	}

	info, ok := c.registry.Lookup(hello.Number)
	if !ok || hello.Number == c.self.Number {
		log.Warn().Msgf("node %d: hello from unknown peer %d", c.self.Number, hello.Number)
		return nil
	}
	if !bytes.Equal(info.IdentityKey, hello.IdentityKey) {
		log.Warn().Msgf("node %d: hello from %d with a foreign identity", c.self.Number, hello.Number)
		return nil
	}
	if !bytes.Equal(c.registry.Digest(), hello.Membership) {
		log.Warn().Msgf("node %d: peer %d sees another membership", c.self.Number, hello.Number)
		return nil
	}

	if hello.Ack {
		c.hello.markAcked(hello.Number)
		return nil
	}

	c.hello.markReceived(hello.Number)
	c.sendHello(hello.Number, true)

	return nil
}

// ProcessSessionMsg is the callback function to process session messages. It
// checks the sender's signature and stores the inner message until the
// session asks for it.
func (c *Cluster) ProcessSessionMsg(msg types.Message, pkt transport.Packet) error {
	sm, ok := msg.(*types.SessionMessage)
	if !ok {
		return xerrors.Errorf("wrong type: %T", msg)
	}

	info, ok := c.registry.Lookup(sm.Sender)
	if !ok || sm.Sender == c.self.Number {
		return xerrors.Errorf("session message from unknown peer %d", sm.Sender)
	}
	if pkt.Header != nil && pkt.Header.Source != info.Address {
		return xerrors.Errorf("peer %d sent from %s instead of %s", sm.Sender, pkt.Header.Source, info.Address)
	}
	if sm.Msg == nil {
		return xerrors.Errorf("empty session message from %d", sm.Sender)
	}
	if !info.Verify(SessionDigest(*sm), sm.Signature) {
		log.Warn().Msgf("node %d: bad signature on %s", c.self.Number, sm)
		return nil
	}

	if sm.Msg.Type == (types.AbortMessage{}).Name() {
		abort := types.AbortMessage{}
		err := c.msgRegistry.UnmarshalMessage(sm.Msg, &abort)
		if err != nil {
			return xerrors.Errorf("malformed abort from %d: %v", sm.Sender, err)
		}

		use := sessionUse{id: sm.Session, epoch: sm.Epoch}
		if !c.mailbox.fire(use, sm.Sender, abort) {
			log.Debug().Msgf("node %d: ignoring late abort of session %s#%d from %d",
				c.self.Number, sm.Session, sm.Epoch, sm.Sender)
			return nil
		}

		log.Info().Msgf("node %d: peer %d aborted session %s: %s",
			c.self.Number, sm.Sender, sm.Session, abort.Reason)
		return nil
	}

	c.mailbox.deliver(slotKey{
		sessionUse: sessionUse{id: sm.Session, epoch: sm.Epoch},
		phase:      sm.Phase,
		round:      sm.Round,
		from:       sm.Sender,
	}, sm.Msg)

	return nil
}

// SessionDigest returns the digest a sender signs for a session message. It
// covers every field but the signature.
func SessionDigest(sm types.SessionMessage) []byte {
	var epoch [8]byte
	binary.BigEndian.PutUint64(epoch[:], sm.Epoch)

	var round, sender [4]byte
	binary.BigEndian.PutUint32(round[:], sm.Round)
	binary.BigEndian.PutUint32(sender[:], uint32(sm.Sender))

	var msgType, payload []byte
	if sm.Msg != nil {
		msgType = []byte(sm.Msg.Type)
		payload = sm.Msg.Payload
	}

	return crypto.Keccak256(
		prefixed([]byte(sm.Session)),
		epoch[:],
		prefixed([]byte(sm.Phase)),
		round[:],
		sender[:],
		prefixed(msgType),
		prefixed(payload),
	)
}

// SignSessionMessage fills the signature of sm with the key of node.
func SignSessionMessage(node peer.PrivNodeInfo, sm *types.SessionMessage) error {
	sig, err := node.Sign(SessionDigest(*sm))
	if err != nil {
		return xerrors.Errorf("failed to sign session message: %v", err)
	}
	sm.Signature = sig
	return nil
}

func prefixed(b []byte) []byte {
	res := make([]byte, 8+len(b))
	binary.BigEndian.PutUint64(res, uint64(len(b)))
	copy(res[8:], b)
	return res
}
