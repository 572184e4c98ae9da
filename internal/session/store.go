// Package session owns the wallet session lifecycle: the single source of
// truth for connection state, the connector that turns credentials into live
// sessions, and the reconnector that silently restores a session after a
// restart. All mutation flows through the connector and reconnector so the
// one-session invariant always holds.
package session

import (
	"sync"

	"github.com/paystream-labs/walletcore/internal/domain/wallet"
	"github.com/paystream-labs/walletcore/pkg/logger"
)

// allowedTransitions encodes the session state machine. The reconnecting
// branch is reachable from both disconnected (restore at boot) and connected
// (restore after a provider drop).
var allowedTransitions = map[wallet.State][]wallet.State{
	wallet.StateDisconnected:  {wallet.StateConnecting, wallet.StateReconnecting},
	wallet.StateConnecting:    {wallet.StateConnected, wallet.StateDisconnected},
	wallet.StateConnected:     {wallet.StateDisconnecting, wallet.StateReconnecting},
	wallet.StateReconnecting:  {wallet.StateConnected, wallet.StateDisconnected},
	wallet.StateDisconnecting: {wallet.StateDisconnected},
}

// subscription is one registered listener. Its own lock guarantees the
// listener is never invoked after Unsubscribe returns, even if a notification
// is concurrently in flight.
type subscription struct {
	mu     sync.Mutex
	fn     func()
	closed bool
}

func (s *subscription) invoke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.fn()
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.fn = nil
	s.mu.Unlock()
}

// Store holds the current wallet session and notifies subscribers of changes.
// It is an explicit, injectable object owned by the composition root; there is
// no package-level instance.
type Store struct {
	mu         sync.RWMutex
	state      wallet.State
	session    wallet.Session
	hasSession bool
	keyRef     string
	subs       map[int]*subscription
	nextSub    int
	log        *logger.Logger
}

// NewStore creates a store in the disconnected state.
func NewStore(log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewDefault("session")
	}
	return &Store{
		state: wallet.StateDisconnected,
		subs:  make(map[int]*subscription),
		log:   log,
	}
}

// State returns the current lifecycle state.
func (s *Store) State() wallet.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns the current session, if one exists.
func (s *Store) Snapshot() (wallet.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.hasSession
}

// KeyRef returns the provider key reference of the active session, if any.
func (s *Store) KeyRef() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasSession {
		return "", false
	}
	return s.keyRef, true
}

// Subscribe registers a change listener and returns its unsubscribe function.
// After unsubscribe returns, the listener is never invoked again.
func (s *Store) Subscribe(fn func()) func() {
	sub := &subscription{fn: fn}

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		sub.close()
	}
}

// transition moves the state machine along an allowed edge. Illegal edges are
// a programming error in the managers, not user input, so they only log.
func (s *Store) transition(to wallet.State) bool {
	s.mu.Lock()
	from := s.state
	legal := false
	for _, next := range allowedTransitions[from] {
		if next == to {
			legal = true
			break
		}
	}
	if !legal {
		s.mu.Unlock()
		s.log.WithField("from", string(from)).
			WithField("to", string(to)).
			Warn("illegal session state transition ignored")
		return false
	}
	s.state = to
	if to == wallet.StateDisconnected {
		s.session = wallet.Session{}
		s.hasSession = false
		s.keyRef = ""
	}
	s.mu.Unlock()

	s.notify()
	return true
}

// publish installs the session and moves to connected. Callable only from the
// connector and reconnector.
func (s *Store) publish(session wallet.Session, keyRef string) bool {
	s.mu.Lock()
	from := s.state
	if from != wallet.StateConnecting && from != wallet.StateReconnecting {
		s.mu.Unlock()
		s.log.WithField("from", string(from)).Warn("session publish outside connect flow ignored")
		return false
	}
	s.state = wallet.StateConnected
	s.session = session
	s.hasSession = true
	s.keyRef = keyRef
	s.mu.Unlock()

	s.notify()
	return true
}

func (s *Store) notify() {
	s.mu.RLock()
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.invoke()
	}
}
