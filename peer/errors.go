package peer

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

var (
	// ErrConfiguration is matched by every *ConfigurationError.
	ErrConfiguration = xerrors.New("configuration error")

	// ErrConnectivity is matched by every *ConnectivityError.
	ErrConnectivity = xerrors.New("connectivity error")

	// ErrProtocol is matched by every *ProtocolError.
	ErrProtocol = xerrors.New("protocol error")

	// ErrCircuit is matched by every *CircuitError.
	ErrCircuit = xerrors.New("circuit error")
)

// ConfigurationError reports an invalid cluster, input bundle or execution
// setup. Nothing has been sent on the network when it is returned.
type ConfigurationError struct {
	Reason string
}

// NewConfigurationError returns a configuration error with a formatted reason.
func NewConfigurationError(format string, a ...interface{}) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, a...)}
}

// Error implements error.
func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// Is implements xerrors.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ConnectivityError reports the partners that could not be reached within
// the horizon.
type ConnectivityError struct {
	Unreachable []PeerNumber
	Horizon     time.Duration
}

// Error implements error.
func (e *ConnectivityError) Error() string {
	peers := make([]string, len(e.Unreachable))
	for i, n := range e.Unreachable {
		peers[i] = fmt.Sprint(n)
	}

	return fmt.Sprintf("connectivity error: peers [%s] unreachable after %s",
		strings.Join(peers, ", "), e.Horizon)
}

// Is implements xerrors.
func (e *ConnectivityError) Is(target error) bool {
	return target == ErrConnectivity
}

// ProtocolError reports an invalid or missing contribution. Peer is the
// partner at fault and Round the protocol round it happened in.
type ProtocolError struct {
	Session string
	Phase   string
	Round   uint32
	Peer    PeerNumber
	Err     error
}

// Error implements error.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error in session %s, phase %s, round %d, peer %d: %v",
		e.Session, e.Phase, e.Round, e.Peer, e.Err)
}

// Is implements xerrors.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// Unwrap implements xerrors.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// CircuitError reports a circuit that cannot be loaded or does not fit its
// inputs.
type CircuitError struct {
	Source string
	Err    error
}

// NewCircuitError returns a circuit error with a formatted cause.
func NewCircuitError(source string, format string, a ...interface{}) *CircuitError {
	return &CircuitError{Source: source, Err: xerrors.Errorf(format, a...)}
}

// Error implements error.
func (e *CircuitError) Error() string {
	return fmt.Sprintf("circuit error in %s: %v", e.Source, e.Err)
}

// Is implements xerrors.
func (e *CircuitError) Is(target error) bool {
	return target == ErrCircuit
}

// Unwrap implements xerrors.
func (e *CircuitError) Unwrap() error {
	return e.Err
}
