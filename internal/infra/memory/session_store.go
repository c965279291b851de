package memory

import (
	"context"
	"sync"
	"time"

	"wedding-bet-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore.
type SessionStore struct {
	ttl   time.Duration
	clock func() time.Time

	mu       sync.RWMutex
	sessions map[string]session
}

type session struct {
	principal domain.Principal
	expiresAt time.Time
}

// NewSessionStore keeps sessions for ttl; a ttl <= 0 never expires them.
func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		ttl:      ttl,
		clock:    time.Now,
		sessions: make(map[string]session),
	}
}

func (s *SessionStore) Save(_ context.Context, principal domain.Principal) error {
	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = s.clock().Add(s.ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[principal.Token] = session{principal: principal, expiresAt: expiresAt}
	return nil
}

func (s *SessionStore) Load(_ context.Context, token string) (domain.Principal, error) {
	s.mu.RLock()
	entry, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return domain.Principal{}, domain.ErrUnauthenticated
	}
	if !entry.expiresAt.IsZero() && !entry.expiresAt.After(s.clock()) {
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		return domain.Principal{}, domain.ErrUnauthenticated
	}
	return entry.principal, nil
}

func (s *SessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

// Len reports how many sessions are held, expired ones included.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
