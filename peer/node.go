package peer

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"
	"net"
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/xerrors"
)

// NodeInfo is the public identity of a node. It is immutable once created.
type NodeInfo struct {
	Number  PeerNumber
	Address string
	// IdentityKey is the compressed secp256k1 public key signing the node's
	// messages.
	IdentityKey []byte
}

// String returns a short description of the node.
func (n NodeInfo) String() string {
	return fmt.Sprintf("{node %d at %s}", n.Number, n.Address)
}

// Verify tells if sig is the node's signature of digest.
func (n NodeInfo) Verify(digest, sig []byte) bool {
	if len(sig) != crypto.SignatureLength {
		return false
	}
	return crypto.VerifySignature(n.IdentityKey, digest, sig[:crypto.SignatureLength-1])
}

// Equal tells if both infos describe the same node.
func (n NodeInfo) Equal(o NodeInfo) bool {
	return n.Number == o.Number && n.Address == o.Address && bytes.Equal(n.IdentityKey, o.IdentityKey)
}

// PrivNodeInfo is the identity of the local node with its private material.
// It must never leave the process.
type PrivNodeInfo struct {
	NodeInfo

	identity *ecdsa.PrivateKey
	seed     []byte
}

// NewPrivNodeInfo creates the identity of node number listening on address.
// The identity key and all the node's randomness derive from seed.
func NewPrivNodeInfo(number PeerNumber, address string, seed []byte) (PrivNodeInfo, error) {
	if len(seed) == 0 {
		return PrivNodeInfo{}, xerrors.Errorf("empty node seed")
	}

	sk, err := crypto.ToECDSA(crypto.Keccak256([]byte("mpcluster/identity"), seed))
	if err != nil {
		return PrivNodeInfo{}, xerrors.Errorf("failed to derive identity key: %v", err)
	}

	return PrivNodeInfo{
		NodeInfo: NodeInfo{
			Number:      number,
			Address:     address,
			IdentityKey: crypto.CompressPubkey(&sk.PublicKey),
		},
		identity: sk,
		seed:     crypto.Keccak256([]byte("mpcluster/seed"), seed),
	}, nil
}

// NewPrivNodeInfoFromConst returns the identity of node number on
// 127.0.0.1:basePort+number, derived from the number alone. It is meant for
// local clusters and tests.
func NewPrivNodeInfoFromConst(number PeerNumber, basePort int) PrivNodeInfo {
	address := net.JoinHostPort("127.0.0.1", strconv.Itoa(basePort+int(number)))

	info, err := NewPrivNodeInfo(number, address, constSeed(number))
	if err != nil {
		panic(err)
	}
	return info
}

// NewNodeInfoFromConst returns the public part of NewPrivNodeInfoFromConst.
func NewNodeInfoFromConst(number PeerNumber, basePort int) NodeInfo {
	return NewPrivNodeInfoFromConst(number, basePort).NodeInfo
}

func constSeed(number PeerNumber) []byte {
	return []byte(fmt.Sprintf("mpcluster/const/%d", number))
}

// Public returns the public identity.
func (p PrivNodeInfo) Public() NodeInfo {
	return p.NodeInfo
}

// Sign signs a 32 bytes digest with the identity key.
func (p PrivNodeInfo) Sign(digest []byte) ([]byte, error) {
	if p.identity == nil {
		return nil, xerrors.Errorf("node %d has no identity key", p.Number)
	}
	return crypto.Sign(digest, p.identity)
}

// Seed returns the seed of the node's randomness.
func (p PrivNodeInfo) Seed() []byte {
	return append([]byte(nil), p.seed...)
}
