package cluster

import (
	"sync"

	"github.com/rs/zerolog/log"
	"go.dedis.ch/mpcluster/peer"
	"go.dedis.ch/mpcluster/transport"
	"go.dedis.ch/mpcluster/types"
)

// sessionUse identifies one use of a session identifier. The epoch counts the
// previous uses of the identifier on the sending node.
type sessionUse struct {
	id    string
	epoch uint64
}

type slotKey struct {
	sessionUse
	phase string
	round uint32
	from  peer.PeerNumber
}

// abortSignal is closed when a partner aborts a session. Only the first abort
// is kept.
type abortSignal struct {
	once sync.Once
	done chan struct{}
	from peer.PeerNumber
	msg  types.AbortMessage
}

func (a *abortSignal) fire(from peer.PeerNumber, msg types.AbortMessage) {
	a.once.Do(func() {
		a.from = from
		a.msg = msg
		close(a.done)
	})
}

// mailbox stores protocol messages until the session asks for them. Messages
// may arrive before the session is opened or before the round is reached.
// Once a use is closed, its late messages are dropped.
type mailbox struct {
	sync.Mutex
	slots  map[slotKey]chan *transport.Message
	aborts map[sessionUse]*abortSignal
	// closed holds, per identifier, the number of uses already closed.
	closed map[string]uint64
}

func newMailbox() *mailbox {
	return &mailbox{
		slots:  make(map[slotKey]chan *transport.Message),
		aborts: make(map[sessionUse]*abortSignal),
		closed: make(map[string]uint64),
	}
}

func (m *mailbox) isClosedLocked(use sessionUse) bool {
	return use.epoch < m.closed[use.id]
}

func (m *mailbox) slot(k slotKey) chan *transport.Message {
	m.Lock()
	defer m.Unlock()

	ch, ok := m.slots[k]
	if !ok {
		ch = make(chan *transport.Message, 1)
		m.slots[k] = ch
	}
	return ch
}

func (m *mailbox) deliver(k slotKey, msg *transport.Message) {
	m.Lock()
	if m.isClosedLocked(k.sessionUse) {
		m.Unlock()
		log.Debug().Msgf("dropping late message from %d for %s#%d %s/%d",
			k.from, k.id, k.epoch, k.phase, k.round)
		return
	}

	ch, ok := m.slots[k]
	if !ok {
		ch = make(chan *transport.Message, 1)
		m.slots[k] = ch
	}
	m.Unlock()

	select {
	case ch <- msg:
	default:
		log.Warn().Msgf("dropping duplicate message from %d for %s#%d %s/%d",
			k.from, k.id, k.epoch, k.phase, k.round)
	}
}

func (m *mailbox) release(k slotKey) {
	m.Lock()
	defer m.Unlock()

	delete(m.slots, k)
}

// abort returns the abort signal of a use.
func (m *mailbox) abort(use sessionUse) *abortSignal {
	m.Lock()
	defer m.Unlock()

	return m.abortLocked(use)
}

func (m *mailbox) abortLocked(use sessionUse) *abortSignal {
	a, ok := m.aborts[use]
	if !ok {
		a = &abortSignal{done: make(chan struct{})}
		m.aborts[use] = a
	}
	return a
}

// fire records a partner's abort. It returns false if the use is already
// closed.
func (m *mailbox) fire(use sessionUse, from peer.PeerNumber, msg types.AbortMessage) bool {
	m.Lock()
	defer m.Unlock()

	if m.isClosedLocked(use) {
		return false
	}

	m.abortLocked(use).fire(from, msg)
	return true
}

// drop forgets everything about a use and every earlier use of the same
// identifier.
func (m *mailbox) drop(use sessionUse) {
	m.Lock()
	defer m.Unlock()

	if m.closed[use.id] < use.epoch+1 {
		m.closed[use.id] = use.epoch + 1
	}

	for k := range m.slots {
		if m.isClosedLocked(k.sessionUse) {
			delete(m.slots, k)
		}
	}
	for u := range m.aborts {
		if m.isClosedLocked(u) {
			delete(m.aborts, u)
		}
	}
}

func (m *mailbox) pending() int {
	m.Lock()
	defer m.Unlock()

	return len(m.slots)
}
