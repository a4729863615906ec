package types

// MPCSetupMessage carries the digest of an execution's circuit, inputs and
// parameters. Every node must have built the same execution.
//
// - implements types.Message
type MPCSetupMessage struct {
	Digest []byte
}

// MPCShareMessage sends the recipient its shares of values the sender
// secret-shares. Values are canonical field element encodings.
//
// - implements types.Message
type MPCShareMessage struct {
	Values [][]byte
}

// MPCOpenMessage broadcasts the sender's shares of values being opened.
//
// - implements types.Message
type MPCOpenMessage struct {
	Values [][]byte
}

// MPCPaillierMessage carries a batch of Paillier ciphertexts of the
// multiplication preprocessing.
//
// - implements types.Message
type MPCPaillierMessage struct {
	Ciphertexts [][]byte
}

// MPCOutputMessage carries the digest of the outputs a node computed.
//
// - implements types.Message
type MPCOutputMessage struct {
	Digest []byte
}
