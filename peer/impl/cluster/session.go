package cluster

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.dedis.ch/mpcluster/peer"
	"go.dedis.ch/mpcluster/types"
	"golang.org/x/xerrors"
)

// session implements peer.Session on top of the cluster's mailbox.
//
// - implements peer.Session
type session struct {
	cluster   *Cluster
	id        string
	epoch     uint64
	rng       io.Reader
	abort     *abortSignal
	closeOnce sync.Once
}

// ID implements peer.Session
func (s *session) ID() string {
	return s.id
}

// Self implements peer.Session
func (s *session) Self() peer.PeerNumber {
	return s.cluster.self.Number
}

// Members implements peer.Session
func (s *session) Members() []peer.PeerNumber {
	return s.cluster.registry.Members()
}

// Partners implements peer.Session
func (s *session) Partners() []peer.PeerNumber {
	return s.cluster.registry.Partners()
}

// Rand implements peer.Session
func (s *session) Rand() io.Reader {
	return s.rng
}

func (s *session) fail(phase string, round uint32, p peer.PeerNumber, err error) *peer.ProtocolError {
	return &peer.ProtocolError{Session: s.id, Phase: phase, Round: round, Peer: p, Err: err}
}

// Send implements peer.Session
func (s *session) Send(ctx context.Context, to peer.PeerNumber, phase string,
	round uint32, msg types.Message) error {

	err := ctx.Err()
	if err != nil {
		return s.fail(phase, round, to, err)
	}

	sm, err := s.wrap(phase, round, msg)
	if err != nil {
		return err
	}

	err = s.cluster.send(to, sm)
	if err != nil {
		return s.fail(phase, round, to, xerrors.Errorf("failed to send %s: %v", msg.Name(), err))
	}

	return nil
}

func (s *session) wrap(phase string, round uint32, msg types.Message) (types.SessionMessage, error) {
	inner, err := s.cluster.msgRegistry.MarshalMessage(msg)
	if err != nil {
		return types.SessionMessage{}, xerrors.Errorf("failed to marshal %s: %v", msg.Name(), err)
	}

	sm := types.SessionMessage{
		Session: s.id,
		Epoch:   s.epoch,
		Phase:   phase,
		Round:   round,
		Sender:  s.cluster.self.Number,
		Msg:     &inner,
	}

	err = SignSessionMessage(s.cluster.self, &sm)
	if err != nil {
		return types.SessionMessage{}, err
	}

	return sm, nil
}

// Broadcast implements peer.Session
func (s *session) Broadcast(ctx context.Context, phase string, round uint32, msg types.Message) error {
	for _, p := range s.Partners() {
		err := s.Send(ctx, p, phase, round, msg)
		if err != nil {
			return err
		}
	}
	return nil
}

// Receive implements peer.Session
func (s *session) Receive(ctx context.Context, from peer.PeerNumber, phase string,
	round uint32, msg types.Message) error {

	key := slotKey{sessionUse: s.use(), phase: phase, round: round, from: from}
	slot := s.cluster.mailbox.slot(key)

	timeout := s.cluster.conf.RoundTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case transpMsg := <-slot:
		s.cluster.mailbox.release(key)

		if transpMsg.Type != msg.Name() {
			return s.fail(phase, round, from, xerrors.Errorf("expected %s, got %s", msg.Name(), transpMsg.Type))
		}

		err := s.cluster.msgRegistry.UnmarshalMessage(transpMsg, msg)
		if err != nil {
			return s.fail(phase, round, from, xerrors.Errorf("malformed %s: %v", msg.Name(), err))
		}
		return nil

	case <-s.abort.done:
		a := s.abort.msg
		return s.fail(a.Phase, a.Round, a.Culprit,
			xerrors.Errorf("session aborted by peer %d: %s", s.abort.from, a.Reason))

	case <-timer.C:
		return s.fail(phase, round, from, xerrors.Errorf("no %s after %s", msg.Name(), timeout))

	case <-ctx.Done():
		return s.fail(phase, round, from, ctx.Err())
	}
}

// Exchange implements peer.Session
func (s *session) Exchange(ctx context.Context, phase string, round uint32,
	msg types.Message) (map[peer.PeerNumber]types.Message, error) {

	err := s.Broadcast(ctx, phase, round, msg)
	if err != nil {
		return nil, err
	}

	return s.collect(ctx, phase, round, msg)
}

// Scatter implements peer.Session
func (s *session) Scatter(ctx context.Context, phase string, round uint32,
	msgs map[peer.PeerNumber]types.Message) (map[peer.PeerNumber]types.Message, error) {

	var template types.Message

	for _, p := range s.Partners() {
		msg, ok := msgs[p]
		if !ok {
			return nil, xerrors.Errorf("no message for peer %d", p)
		}
		template = msg

		err := s.Send(ctx, p, phase, round, msg)
		if err != nil {
			return nil, err
		}
	}

	if template == nil {
		return map[peer.PeerNumber]types.Message{}, nil
	}

	return s.collect(ctx, phase, round, template)
}

func (s *session) collect(ctx context.Context, phase string, round uint32,
	template types.Message) (map[peer.PeerNumber]types.Message, error) {

	res := make(map[peer.PeerNumber]types.Message, len(s.Partners()))

	for _, p := range s.Partners() {
		msg := template.NewEmpty()

		err := s.Receive(ctx, p, phase, round, msg)
		if err != nil {
			return nil, err
		}
		res[p] = msg
	}

	return res, nil
}

// Abort implements peer.Session. The culprit of a *peer.ProtocolError is
// forwarded, so that every honest node reports the same one.
func (s *session) Abort(ctx context.Context, cause error) {
	abort := types.AbortMessage{
		Session: s.id,
		Culprit: s.Self(),
		Reason:  cause.Error(),
	}

	protoErr := &peer.ProtocolError{}
	if xerrors.As(cause, &protoErr) {
		abort.Phase = protoErr.Phase
		abort.Round = protoErr.Round
		abort.Culprit = protoErr.Peer
	}

	sm, err := s.wrap(abort.Phase, abort.Round, abort)
	if err != nil {
		log.Warn().Msgf("node %d: failed to abort session %s: %v", s.Self(), s.id, err)
		return
	}

	log.Info().Msgf("node %d: aborting session %s: %v", s.Self(), s.id, cause)

	for _, p := range s.Partners() {
		err := s.cluster.send(p, sm)
		if err != nil {
			log.Debug().Msgf("node %d: abort to %d failed: %v", s.Self(), p, err)
		}
	}
}

// Close implements peer.Session
func (s *session) Close() {
	s.closeOnce.Do(func() {
		s.cluster.releaseSession(s.use())
	})
}

func (s *session) use() sessionUse {
	return sessionUse{id: s.id, epoch: s.epoch}
}
