package server

import (
	"sync"
)

// Registry is the presence directory: the single source of truth for which
// users currently have a live connection. It is consulted by DM delivery and
// by the feed/follow mutation handlers pushing refresh notifications.
//
// At most one session is registered per user. A second login replaces the
// first entry without closing the old connection; the replaced session keeps
// its transport until its own read loop notices the disconnect. Replacement
// is logged so stranded connections are visible in operation.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]*Session
}

// NewRegistry creates an empty presence registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[int64]*Session),
	}
}

// Register records sess as the live connection for its user. Returns the
// session that was displaced, if any.
func (r *Registry) Register(sess *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.entries[sess.UserID]
	r.entries[sess.UserID] = sess
	if prev == sess {
		return nil
	}
	return prev
}

// Unregister removes sess from the registry. It is a no-op if sess is not
// the currently registered session for its user, so a stale close can never
// evict a newer connection.
func (r *Registry) Unregister(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.entries[sess.UserID]
	if !ok || current != sess {
		return false
	}
	delete(r.entries, sess.UserID)
	return true
}

// Lookup returns the live session for a user, if any
func (r *Registry) Lookup(userID int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.entries[userID]
	return sess, ok
}

// Sessions returns a snapshot of all registered sessions. Callers never see
// the live map, so they can iterate without holding the lock.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.entries))
	for _, sess := range r.entries {
		sessions = append(sessions, sess)
	}
	return sessions
}

// Count returns the number of registered sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
