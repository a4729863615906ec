package types

import (
	"encoding/hex"
	"fmt"
)

// -----------------------------------------------------------------------------
// DKGCommitMessage

// NewEmpty implements types.Message.
func (d DKGCommitMessage) NewEmpty() Message {
	return &DKGCommitMessage{}
}

// Name implements types.Message.
func (DKGCommitMessage) Name() string {
	return "dkgcommit"
}

// String implements types.Message.
func (d DKGCommitMessage) String() string {
	return fmt.Sprintf("{dkg commit %s}", short(d.Commitment))
}

// HTML implements types.Message.
func (d DKGCommitMessage) HTML() string {
	return d.String()
}

// -----------------------------------------------------------------------------
// DKGRevealMessage

// NewEmpty implements types.Message.
func (d DKGRevealMessage) NewEmpty() Message {
	return &DKGRevealMessage{}
}

// Name implements types.Message.
func (DKGRevealMessage) Name() string {
	return "dkgreveal"
}

// String implements types.Message.
func (d DKGRevealMessage) String() string {
	return fmt.Sprintf("{dkg reveal %s, paillier %d bytes}", short(d.Point), len(d.PaillierN))
}

// HTML implements types.Message.
func (d DKGRevealMessage) HTML() string {
	return d.String()
}

// -----------------------------------------------------------------------------
// DKGConfirmMessage

// NewEmpty implements types.Message.
func (d DKGConfirmMessage) NewEmpty() Message {
	return &DKGConfirmMessage{}
}

// Name implements types.Message.
func (DKGConfirmMessage) Name() string {
	return "dkgconfirm"
}

// String implements types.Message.
func (d DKGConfirmMessage) String() string {
	return fmt.Sprintf("{dkg confirm key %s}", short(d.PublicKey))
}

// HTML implements types.Message.
func (d DKGConfirmMessage) HTML() string {
	return d.String()
}

func short(b []byte) string {
	s := hex.EncodeToString(b)
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}
