package types

import "fmt"

// -----------------------------------------------------------------------------
// HelloMessage

// NewEmpty implements types.Message.
func (h HelloMessage) NewEmpty() Message {
	return &HelloMessage{}
}

// Name implements types.Message.
func (HelloMessage) Name() string {
	return "hello"
}

// String implements types.Message.
func (h HelloMessage) String() string {
	return fmt.Sprintf("{hello from %d, ack=%t}", h.Number, h.Ack)
}

// HTML implements types.Message.
func (h HelloMessage) HTML() string {
	return h.String()
}

// -----------------------------------------------------------------------------
// SessionMessage

// NewEmpty implements types.Message.
func (s SessionMessage) NewEmpty() Message {
	return &SessionMessage{}
}

// Name implements types.Message.
func (SessionMessage) Name() string {
	return "session"
}

// String implements types.Message.
func (s SessionMessage) String() string {
	msgType := ""
	if s.Msg != nil {
		msgType = s.Msg.Type
	}
	return fmt.Sprintf("{session %s#%d %s/%d from %d: %s}", s.Session, s.Epoch, s.Phase, s.Round, s.Sender, msgType)
}

// HTML implements types.Message.
func (s SessionMessage) HTML() string {
	return s.String()
}

// -----------------------------------------------------------------------------
// AbortMessage

// NewEmpty implements types.Message.
func (a AbortMessage) NewEmpty() Message {
	return &AbortMessage{}
}

// Name implements types.Message.
func (AbortMessage) Name() string {
	return "abort"
}

// String implements types.Message.
func (a AbortMessage) String() string {
	return fmt.Sprintf("{abort session %s at %s/%d, culprit %d: %s}",
		a.Session, a.Phase, a.Round, a.Culprit, a.Reason)
}

// HTML implements types.Message.
func (a AbortMessage) HTML() string {
	return a.String()
}
