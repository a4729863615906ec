package cluster

import (
	"encoding/binary"
	"sort"

	"github.com/zeebo/blake3"
	"go.dedis.ch/mpcluster/peer"
)

// Registry holds the identity of every member of a cluster and turns a peer
// number into an endpoint. It is immutable once created.
type Registry struct {
	self    peer.NodeInfo
	nodes   map[peer.PeerNumber]peer.NodeInfo
	members []peer.PeerNumber
	digest  []byte
}

// NewRegistry validates the membership of a cluster of size partners plus the
// local node.
func NewRegistry(size int, self peer.NodeInfo, partners []peer.NodeInfo) (*Registry, error) {
	if size < 1 {
		return nil, peer.NewConfigurationError("a cluster needs at least one partner, got size %d", size)
	}
	if len(partners) != size {
		return nil, peer.NewConfigurationError("expected %d partners, got %d", size, len(partners))
	}

	r := &Registry{
		self:  self,
		nodes: map[peer.PeerNumber]peer.NodeInfo{self.Number: self},
	}

	for _, p := range partners {
		if p.Number == self.Number {
			return nil, peer.NewConfigurationError("local peer number %d is listed as a partner", p.Number)
		}
		if _, dup := r.nodes[p.Number]; dup {
			return nil, peer.NewConfigurationError("duplicate peer number %d", p.Number)
		}
		r.nodes[p.Number] = p
	}

	for n := range r.nodes {
		if int(n) > size {
			return nil, peer.NewConfigurationError("peer number %d out of range 0..%d", n, size)
		}
		r.members = append(r.members, n)
	}
	sort.Slice(r.members, func(i, j int) bool { return r.members[i] < r.members[j] })

	addresses := map[string]peer.PeerNumber{}
	for _, n := range r.members {
		addr := r.nodes[n].Address
		if other, ok := addresses[addr]; ok {
			return nil, peer.NewConfigurationError("peers %d and %d share address %s", other, n, addr)
		}
		addresses[addr] = n
	}

	r.digest = r.computeDigest()
	return r, nil
}

func (r *Registry) computeDigest() []byte {
	h := blake3.New()
	for _, n := range r.members {
		info := r.nodes[n]

		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(n))
		h.Write(buf[:])
		writeBytes(h, []byte(info.Address))
		writeBytes(h, info.IdentityKey)
	}
	return h.Sum(nil)
}

func writeBytes(h *blake3.Hasher, b []byte) {
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(b)))
	h.Write(size[:])
	h.Write(b)
}

// Lookup returns the identity of node n.
func (r *Registry) Lookup(n peer.PeerNumber) (peer.NodeInfo, bool) {
	info, ok := r.nodes[n]
	return info, ok
}

// Self returns the local node.
func (r *Registry) Self() peer.NodeInfo {
	return r.self
}

// Members returns every peer number, sorted.
func (r *Registry) Members() []peer.PeerNumber {
	return append([]peer.PeerNumber(nil), r.members...)
}

// Partners returns every peer number but the local one, sorted.
func (r *Registry) Partners() []peer.PeerNumber {
	res := make([]peer.PeerNumber, 0, len(r.members)-1)
	for _, n := range r.members {
		if n != r.self.Number {
			res = append(res, n)
		}
	}
	return res
}

// Size returns the number of partners.
func (r *Registry) Size() int {
	return len(r.members) - 1
}

// Digest identifies the membership. All members compute the same digest.
func (r *Registry) Digest() []byte {
	return append([]byte(nil), r.digest...)
}
