// Package mpc implements the execution engine: the nodes of a cluster jointly
// decrypt client inputs into additive shares, evaluate a circuit on the shares
// and deliver the outputs, without any node seeing the plaintext.
package mpc

import "fmt"

// Phase names, in the order an execution goes through them.
const (
	PhaseSetup      = "setup"
	PhasePreprocess = "preprocess"
	PhaseDecrypt    = "decrypt"
	PhaseEvaluate   = "evaluate"
	PhaseOutput     = "output"
)

// OutputMode tells how the circuit outputs are delivered.
type OutputMode int

const (
	// DefaultOutput mirrors the input mode: outputs are encrypted for the
	// client that encrypted the inputs, or for the cluster itself.
	DefaultOutput OutputMode = iota
	// Revealed outputs are opened to every node.
	Revealed
	// ClientEncrypted outputs are [clientPub, nonce, ct...], decryptable by
	// the client only.
	ClientEncrypted
	// MXEEncrypted outputs are [nonce, ct...] under the cluster's own key,
	// and can be fed back as inputs.
	MXEEncrypted
	// Shares leaves the outputs secret shared: each node gets its own share.
	Shares
)

// String returns the name of the mode.
func (m OutputMode) String() string {
	switch m {
	case DefaultOutput:
		return "default"
	case Revealed:
		return "revealed"
	case ClientEncrypted:
		return "client-encrypted"
	case MXEEncrypted:
		return "mxe-encrypted"
	case Shares:
		return "shares"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseOutputMode returns the mode named s.
func ParseOutputMode(s string) (OutputMode, error) {
	for m := DefaultOutput; m <= Shares; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown output mode %q", s)
}

// State is the lifecycle state of an execution.
type State int

const (
	// Ready executions are built and wait for Run.
	Ready State = iota
	// Running executions are being run.
	Running
	// Completed executions returned their outputs.
	Completed
	// Failed executions returned an error.
	Failed
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
