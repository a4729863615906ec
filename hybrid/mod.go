// Package hybrid lets a client encrypt field elements for a cluster, and
// decrypt what the cluster sends back, without talking to any node. The client
// runs X25519 against the cluster public key and keys the MiMC stream cipher
// with the resulting u-coordinate. The cluster derives the same key inside
// the protocol, on shares.
package hybrid

import (
	"go.dedis.ch/mpcluster/crypto/field"
	"go.dedis.ch/mpcluster/crypto/mimc"
	"go.dedis.ch/mpcluster/crypto/x25519"
	"golang.org/x/xerrors"
)

// Client holds the key material of one client towards one cluster.
type Client struct {
	priv      x25519.PrivateKey
	pub       x25519.PublicKey
	clusterPK x25519.PublicKey
	cipher    *mimc.Cipher
}

// NewWithClientFromKeyPair returns a client with the given private key,
// encrypting towards clusterPub. It fails if the exchange yields the all-zero
// value, which happens for low order cluster keys.
func NewWithClientFromKeyPair(priv x25519.PrivateKey, clusterPub x25519.PublicKey) (*Client, error) {
	secret, err := x25519.SharedSecret(priv, clusterPub)
	if err != nil {
		return nil, xerrors.Errorf("invalid cluster public key: %v", err)
	}

	return &Client{
		priv:      priv,
		pub:       x25519.PublicKeyFromPrivate(priv),
		clusterPK: clusterPub,
		cipher:    mimc.New(secret),
	}, nil
}

// PublicKey returns the client public key nodes need to decrypt.
func (c *Client) PublicKey() x25519.PublicKey {
	return c.pub
}

// ClusterPublicKey returns the key this client encrypts towards.
func (c *Client) ClusterPublicKey() x25519.PublicKey {
	return c.clusterPK
}

// Encrypt returns a ciphertext of the same length as plaintext. The nonce must
// never be reused under the same key pair, which is not checked.
func (c *Client) Encrypt(plaintext []field.Element, nonce field.Element) []field.Element {
	return c.cipher.Encrypt(plaintext, nonce)
}

// Decrypt is the inverse of Encrypt. A wrong nonce or key gives garbage, not
// an error.
func (c *Client) Decrypt(ciphertext []field.Element, nonce field.Element) []field.Element {
	return c.cipher.Decrypt(ciphertext, nonce)
}

// DecryptOutput decrypts an output sequence laid out as
// [client public key, nonce, ct...], as the cluster returns it. The embedded
// key must be this client's.
func (c *Client) DecryptOutput(output []field.Element) ([]field.Element, error) {
	if len(output) < 2 {
		return nil, xerrors.Errorf("encrypted output too short: %d elements", len(output))
	}
	if !output[0].Equal(c.pub.Element()) {
		return nil, xerrors.Errorf("output is encrypted for another client")
	}
	return c.Decrypt(output[2:], output[1]), nil
}

// Seal returns the input layout the cluster expects for shared encryption:
// [client public key, nonce, ct...].
func (c *Client) Seal(plaintext []field.Element, nonce field.Element) []field.Element {
	ct := c.Encrypt(plaintext, nonce)

	res := make([]field.Element, 0, len(ct)+2)
	res = append(res, c.pub.Element(), nonce)
	return append(res, ct...)
}
