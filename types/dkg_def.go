package types

// DKGCommitMessage commits to a node's key contributions before any of them
// is revealed.
//
// - implements types.Message
type DKGCommitMessage struct {
	Commitment []byte
}

// DKGRevealMessage opens a commitment. Point is the Edwards encoding of the
// sender's public share, ProofR and ProofS a Schnorr proof of knowledge of its
// discrete log, and PaillierN the sender's Paillier modulus.
//
// - implements types.Message
type DKGRevealMessage struct {
	Point     []byte
	ProofR    []byte
	ProofS    []byte
	PaillierN []byte
}

// DKGConfirmMessage carries the cluster key a node computed and a digest of
// everything it received.
//
// - implements types.Message
type DKGConfirmMessage struct {
	PublicKey  []byte
	Transcript []byte
}
