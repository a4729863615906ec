package mpc

import (
	"github.com/zeebo/blake3"
	"go.dedis.ch/mpcluster/crypto/field"
	"go.dedis.ch/mpcluster/crypto/x25519"
	"go.dedis.ch/mpcluster/peer"
	"go.dedis.ch/mpcluster/peer/impl/cluster"
)

// InputsConfig tells how the payload of an input bundle is encrypted. Exactly
// one of the flags must be set.
type InputsConfig struct {
	// UsesSharedEncryption is set when a client encrypted the payload under
	// the cluster public key. The payload is [clientPub, nonce, ct...].
	UsesSharedEncryption bool
	// UsesMXEEncryption is set when the payload is an output of a previous
	// execution in MXE mode. The payload is [nonce, ct...].
	UsesMXEEncryption bool
}

func (c InputsConfig) validate() error {
	if c.UsesSharedEncryption == c.UsesMXEEncryption {
		return peer.NewConfigurationError("exactly one encryption mode must be set, got shared=%t mxe=%t",
			c.UsesSharedEncryption, c.UsesMXEEncryption)
	}
	return nil
}

// Inputs is an input bundle bound to a cluster.
type Inputs struct {
	clusterID  string
	membership []byte
	values     []field.Element
	conf       InputsConfig
}

// InputsFromCluster binds values to the cluster c. The bundle can only be used
// by executions on that cluster.
func InputsFromCluster(c *cluster.Cluster, values []field.Element, conf InputsConfig) (Inputs, error) {
	err := conf.validate()
	if err != nil {
		return Inputs{}, err
	}

	header := 1
	if conf.UsesSharedEncryption {
		header = 2
	}
	if len(values) < header {
		return Inputs{}, peer.NewConfigurationError("payload of %d elements misses its header", len(values))
	}

	if conf.UsesSharedEncryption {
		_, err = x25519.PublicKeyFromElement(values[0]).Edwards()
		if err != nil {
			return Inputs{}, peer.NewConfigurationError("invalid client key: %v", err)
		}
	}

	return Inputs{
		clusterID:  c.ID(),
		membership: c.Registry().Digest(),
		values:     append([]field.Element(nil), values...),
		conf:       conf,
	}, nil
}

// Config returns the encryption config of the bundle.
func (in Inputs) Config() InputsConfig {
	return in.conf
}

// Len returns the number of encrypted elements.
func (in Inputs) Len() int {
	return len(in.values) - in.headerLen()
}

func (in Inputs) headerLen() int {
	if in.conf.UsesSharedEncryption {
		return 2
	}
	return 1
}

// clientKey returns the key of the client that encrypted the bundle.
func (in Inputs) clientKey() (x25519.PublicKey, bool) {
	if !in.conf.UsesSharedEncryption {
		return x25519.PublicKey{}, false
	}
	return x25519.PublicKeyFromElement(in.values[0]), true
}

func (in Inputs) nonce() field.Element {
	return in.values[in.headerLen()-1]
}

func (in Inputs) ciphertext() []field.Element {
	return in.values[in.headerLen():]
}

func (in Inputs) digest() []byte {
	h := blake3.New()
	if in.conf.UsesSharedEncryption {
		h.Write([]byte("shared"))
	} else {
		h.Write([]byte("mxe"))
	}
	h.Write(field.EncodeAll(in.values))
	return h.Sum(nil)
}
