package gateway

import (
	"log"
	"sync"
)

// State is the lifecycle state of one connection.
type State int

const (
	StatePending State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is the per-connection state machine:
// pending -> authenticated -> closed, or pending -> closed.
type Session struct {
	peer Peer

	// frameMu serializes frame handling for this connection.
	frameMu sync.Mutex

	mu           sync.Mutex
	state        State
	userID       string
	authFailures int
}

func newSession(p Peer) *Session {
	return &Session{peer: p, state: StatePending}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the authenticated identity, or "" before authentication.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// authenticate moves a pending session to authenticated, running register
// while the transition is still exclusive. It returns false if the session
// is no longer pending.
func (s *Session) authenticate(userID string, register func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePending {
		return false
	}
	register()
	s.state = StateAuthenticated
	s.userID = userID
	s.authFailures = 0
	return true
}

// failAuth records a rejected auth frame and returns the consecutive count.
func (s *Session) failAuth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authFailures++
	return s.authFailures
}

// close moves the session to closed. It returns the identity and whether the
// session was authenticated; ok is false if it was already closed.
func (s *Session) close() (userID string, wasAuthenticated bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return "", false, false
	}
	wasAuthenticated = s.state == StateAuthenticated
	s.state = StateClosed
	return s.userID, wasAuthenticated, true
}

// send writes data to the peer unless the session has been closed.
func (s *Session) send(data []byte) {
	if s.State() == StateClosed {
		return
	}
	if err := s.peer.Send(data); err != nil {
		log.Printf("[gateway] send failed conn=%s: %v", s.peer.ID(), err)
	}
}
