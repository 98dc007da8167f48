package server

import (
	"sync"
)

// SessionState tracks where a connection is in its lifecycle.
type SessionState int32

const (
	// StateConnecting: transport handshake accepted, nothing validated yet.
	StateConnecting SessionState = iota
	// StateAuthenticating: handshake done, waiting on the session validator.
	StateAuthenticating
	// StateActive: identity resolved and registered; processing events.
	StateActive
	// StateClosed: terminal. The session is unregistered and unreachable.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session represents one live client connection. A session is tagged with
// exactly one user id once authenticated; anonymous sessions never make it
// past StateAuthenticating.
type Session struct {
	ID         uint64 // Server-local, for logs and stale-close detection
	UserID     int64  // Valid once state >= StateActive
	Conn       Conn
	RemoteAddr string

	mu    sync.Mutex
	state SessionState
}

// State returns the session's current lifecycle state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves the session from one state to another. It returns false
// if the session was not in the expected state, which callers treat as a
// lost race (usually against close).
func (s *Session) transition(from, to SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

// closeState marks the session closed regardless of its current state.
// Returns false if it was already closed.
func (s *Session) closeState() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	return true
}
