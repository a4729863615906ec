package types

import "fmt"

// -----------------------------------------------------------------------------
// MPCSetupMessage

// NewEmpty implements types.Message.
func (m MPCSetupMessage) NewEmpty() Message {
	return &MPCSetupMessage{}
}

// Name implements types.Message.
func (MPCSetupMessage) Name() string {
	return "mpcsetup"
}

// String implements types.Message.
func (m MPCSetupMessage) String() string {
	return fmt.Sprintf("{mpc setup %s}", short(m.Digest))
}

// HTML implements types.Message.
func (m MPCSetupMessage) HTML() string {
	return m.String()
}

// -----------------------------------------------------------------------------
// MPCShareMessage

// NewEmpty implements types.Message.
func (m MPCShareMessage) NewEmpty() Message {
	return &MPCShareMessage{}
}

// Name implements types.Message.
func (MPCShareMessage) Name() string {
	return "mpcshare"
}

// String implements types.Message.
func (m MPCShareMessage) String() string {
	return fmt.Sprintf("{mpc %d shares}", len(m.Values))
}

// HTML implements types.Message.
func (m MPCShareMessage) HTML() string {
	return m.String()
}

// -----------------------------------------------------------------------------
// MPCOpenMessage

// NewEmpty implements types.Message.
func (m MPCOpenMessage) NewEmpty() Message {
	return &MPCOpenMessage{}
}

// Name implements types.Message.
func (MPCOpenMessage) Name() string {
	return "mpcopen"
}

// String implements types.Message.
func (m MPCOpenMessage) String() string {
	return fmt.Sprintf("{mpc open %d values}", len(m.Values))
}

// HTML implements types.Message.
func (m MPCOpenMessage) HTML() string {
	return m.String()
}

// -----------------------------------------------------------------------------
// MPCPaillierMessage

// NewEmpty implements types.Message.
func (m MPCPaillierMessage) NewEmpty() Message {
	return &MPCPaillierMessage{}
}

// Name implements types.Message.
func (MPCPaillierMessage) Name() string {
	return "mpcpaillier"
}

// String implements types.Message.
func (m MPCPaillierMessage) String() string {
	return fmt.Sprintf("{mpc %d paillier ciphertexts}", len(m.Ciphertexts))
}

// HTML implements types.Message.
func (m MPCPaillierMessage) HTML() string {
	return m.String()
}

// -----------------------------------------------------------------------------
// MPCOutputMessage

// NewEmpty implements types.Message.
func (m MPCOutputMessage) NewEmpty() Message {
	return &MPCOutputMessage{}
}

// Name implements types.Message.
func (MPCOutputMessage) Name() string {
	return "mpcoutput"
}

// String implements types.Message.
func (m MPCOutputMessage) String() string {
	return fmt.Sprintf("{mpc output %s}", short(m.Digest))
}

// HTML implements types.Message.
func (m MPCOutputMessage) HTML() string {
	return m.String()
}
