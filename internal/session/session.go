// Package session owns the authenticated session: the current user and
// token, and the push channel bound to that user.
package session

import (
	"sync"

	"github.com/pigeonchat/pigeon/internal/store"
)

// Session is the process-wide session value. Components take it by
// reference instead of reading ambient globals; Init and Teardown bracket
// one login.
type Session struct {
	mu     sync.RWMutex
	user   store.Contact
	token  string
	active bool
}

// New creates an inactive session.
func New() *Session {
	return &Session{}
}

// Init binds the session to an authenticated user.
func (s *Session) Init(user store.Contact, token string) {
	s.mu.Lock()
	s.user = user
	s.token = token
	s.active = true
	s.mu.Unlock()
}

// Teardown clears the session on logout.
func (s *Session) Teardown() {
	s.mu.Lock()
	s.user = store.Contact{}
	s.token = ""
	s.active = false
	s.mu.Unlock()
}

// Active reports whether a user is logged in.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// User returns the authenticated user.
func (s *Session) User() store.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// UserID returns the authenticated user's id, or "" when logged out.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.active {
		return ""
	}
	return s.user.ID
}

// Token returns the session token.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}
