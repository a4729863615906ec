package standard

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
	"go.dedis.ch/mpcluster/registry"
	"go.dedis.ch/mpcluster/transport"
	"go.dedis.ch/mpcluster/types"
	"golang.org/x/xerrors"
)

// NewRegistry returns a new initialized registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers:  make(map[string]registry.Exec),
		factories: make(map[string]types.Message),
	}
}

// Registry implements a message registry.
//
// - implements registry.Registry
type Registry struct {
	sync.RWMutex

	handlers  map[string]registry.Exec
	factories map[string]types.Message
}

// RegisterMessageCallback implements registry.Registry.
func (r *Registry) RegisterMessageCallback(m types.Message, exec registry.Exec) {
	r.Lock()
	defer r.Unlock()

	r.handlers[m.Name()] = exec
	r.factories[m.Name()] = m
}

// ProcessPacket implements registry.Registry.
func (r *Registry) ProcessPacket(pkt transport.Packet) error {
	if pkt.Msg == nil {
		return xerrors.Errorf("packet without message")
	}

	r.RLock()
	exec, ok := r.handlers[pkt.Msg.Type]
	factory := r.factories[pkt.Msg.Type]
	r.RUnlock()

	if !ok {
		return xerrors.Errorf("no callback for message %q", pkt.Msg.Type)
	}

	msg := factory.NewEmpty()
	err := json.Unmarshal(pkt.Msg.Payload, msg)
	if err != nil {
		return xerrors.Errorf("failed to unmarshal %s: %v", pkt.Msg.Type, err)
	}

	err = exec(msg, pkt)
	if err != nil {
		log.Debug().Msgf("callback for %s failed: %v", pkt.Msg.Type, err)
		return xerrors.Errorf("failed to process %s: %w", pkt.Msg.Type, err)
	}

	return nil
}

// MarshalMessage implements registry.Registry.
func (r *Registry) MarshalMessage(msg types.Message) (transport.Message, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return transport.Message{}, xerrors.Errorf("failed to marshal %s: %v", msg.Name(), err)
	}

	return transport.Message{Type: msg.Name(), Payload: data}, nil
}

// UnmarshalMessage implements registry.Registry.
func (r *Registry) UnmarshalMessage(msg *transport.Message, m types.Message) error {
	if msg.Type != m.Name() {
		return xerrors.Errorf("expected %s, got %s", m.Name(), msg.Type)
	}

	return json.Unmarshal(msg.Payload, m)
}
