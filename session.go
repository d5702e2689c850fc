package appcore

import (
	"context"
	"sync"

	"github.com/curaflow/appcore/store"
)

// Session is the credential triplet held while authenticated. Tokens rotate:
// every successful login or refresh replaces the whole value, and a used
// refresh token is invalid server-side.
type Session struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
}

// SessionStore is the single source of truth for "are we logged in". It holds
// the in-memory current session and mirrors it to the durable store. The
// session is replaced wholesale, never mutated field by field, so readers
// never observe a partial update.
type SessionStore struct {
	mu      sync.RWMutex
	current *Session
	store   store.Store
}

// NewSessionStore creates a SessionStore mirroring into s.
func NewSessionStore(s store.Store) *SessionStore {
	return &SessionStore{store: s}
}

// Current returns the current session, if any.
func (s *SessionStore) Current() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Session{}, false
	}
	return *s.current, true
}

// Replace persists the new triplet and swaps the in-memory session. The
// persisted copy is written first so a crash between the two leaves the
// durable state ahead of, never behind, the in-memory one.
func (s *SessionStore) Replace(ctx context.Context, sess Session) error {
	if err := s.store.Set(ctx, store.KeyAccessToken, sess.AccessToken); err != nil {
		return err
	}
	if err := s.store.Set(ctx, store.KeyRefreshToken, sess.RefreshToken); err != nil {
		return err
	}
	if err := s.store.Set(ctx, store.KeySessionID, sess.SessionID); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()
	return nil
}

// Clear drops the in-memory session and deletes the persisted triplet.
// Storage errors are returned but the in-memory session is gone regardless.
func (s *SessionStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	var firstErr error
	for _, key := range []string{store.KeyAccessToken, store.KeyRefreshToken, store.KeySessionID} {
		if err := s.store.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
