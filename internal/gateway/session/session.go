package session

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Session is one conversation. Tokens and free-form scratch state are kept apart;
// both are guarded by the session's own lock so concurrent turns and OAuth callbacks
// on the same session never interleave partial writes.
type Session struct {
	id        string
	userID    string
	createdAt time.Time

	mu         sync.RWMutex
	lastActive time.Time
	tokens     map[string]*TokenBundle
	scratch    map[string]any
	now        func() time.Time
}

func newSession(id, userID string, now func() time.Time) *Session {
	t := now()
	return &Session{
		id:         id,
		userID:     userID,
		createdAt:  t,
		lastActive: t,
		tokens:     make(map[string]*TokenBundle),
		scratch:    make(map[string]any),
		now:        now,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// UserID returns the owning user. It is fixed at creation.
func (s *Session) UserID() string { return s.userID }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActive returns the last time the session was touched.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Touch marks the session as active.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = s.now()
	s.mu.Unlock()
}

// GetToken returns a copy of the provider's bundle.
func (s *Session) GetToken(provider string) (*TokenBundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.tokens[TokenKey(provider)]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// PutToken stores bundle for provider, replacing any previous one.
func (s *Session) PutToken(provider string, bundle *TokenBundle) error {
	if strings.TrimSpace(provider) == "" {
		return ErrInvalidProvider
	}
	if err := bundle.Validate(); err != nil {
		return err
	}
	stored := bundle.Clone()
	if stored.IssuedAt.IsZero() {
		stored.IssuedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[TokenKey(provider)] = stored
	s.lastActive = s.now()
	return nil
}

// ReplaceToken stores next only if the current bundle still equals prev. It is the
// write path for refreshes, so a refresh never clobbers a bundle written by a newer
// OAuth round.
func (s *Session) ReplaceToken(provider string, prev, next *TokenBundle) bool {
	if next.Validate() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := TokenKey(provider)
	cur, ok := s.tokens[key]
	if !ok || !cur.Equal(prev) {
		return false
	}
	stored := next.Clone()
	if stored.IssuedAt.IsZero() {
		stored.IssuedAt = s.now()
	}
	s.tokens[key] = stored
	return true
}

// DeleteToken removes the provider's bundle. Deleting an absent bundle is a no-op.
func (s *Session) DeleteToken(provider string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := TokenKey(provider)
	_, ok := s.tokens[key]
	delete(s.tokens, key)
	return ok
}

// HasToken reports whether a bundle is stored for provider.
func (s *Session) HasToken(provider string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[TokenKey(provider)]
	return ok
}

// Providers returns the providers holding a bundle, sorted.
func (s *Session) Providers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tokens))
	for key := range s.tokens {
		out = append(out, strings.TrimSuffix(key, "_oauth_token"))
	}
	sort.Strings(out)
	return out
}

// Get reads a scratch value.
func (s *Session) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.scratch[key]
	return v, ok
}

// Set writes a scratch value.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scratch[key] = value
}

// Delete removes a scratch value.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scratch, key)
}

// Update applies fn to a scratch value under the session lock.
func (s *Session) Update(key string, fn func(cur any, ok bool) any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.scratch[key]
	s.scratch[key] = fn(cur, ok)
}
