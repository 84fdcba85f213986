package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tansive/agentgateway/internal/common/logtrace"
	"github.com/tansive/agentgateway/internal/common/uuid"
)

// SessionManager is the contract the rest of the gateway uses.
type SessionManager interface {
	GetOrCreate(ctx context.Context, userID, sessionID string) (*Session, bool, error)
	Get(sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) bool
	UserSession(userID string) (string, bool)
	List() []*Session
	Count() int
}

// Observer is told about session table changes.
type Observer interface {
	SessionCreated()
	SessionDeleted()
}

// Manager owns the session table and the user to session index. One lock guards
// both so index maintenance on delete is atomic with the removal itself.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	userIndex map[string]string

	idleTTL  time.Duration
	observer Observer
	now      func() time.Time
	newID    func() string
}

var _ SessionManager = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTTL enables reclamation of sessions idle for longer than ttl. Zero disables it.
func WithIdleTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.idleTTL = ttl }
}

// WithObserver registers o for create and delete notifications.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions:  make(map[string]*Session),
		userIndex: make(map[string]string),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCreate returns the session named by sessionID when it exists. Otherwise it
// creates a session under a freshly generated id owned by userID and points the
// user's index entry at it. The bool reports whether a session was created.
func (m *Manager) GetOrCreate(ctx context.Context, userID, sessionID string) (*Session, bool, error) {
	if userID == "" {
		return nil, false, ErrMissingUser
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sessionID != "" {
		if s, ok := m.sessions[sessionID]; ok {
			s.Touch()
			if s.UserID() == userID {
				m.userIndex[userID] = s.ID()
			}
			return s, false, nil
		}
		log.Ctx(ctx).Debug().Str("requested_session", logtrace.ShortID(sessionID)).Msg("unknown session id, creating new session")
	}

	s := newSession(m.newID(), userID, m.now)
	m.sessions[s.ID()] = s
	m.userIndex[userID] = s.ID()
	if m.observer != nil {
		m.observer.SessionCreated()
	}
	log.Ctx(ctx).Info().Str("session_id", logtrace.ShortID(s.ID())).Str("user_id", userID).Msg("session created")
	return s, true, nil
}

// Get looks a session up. It never creates one.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete removes the session and, if the owner's index entry still points at it,
// the index entry. Deleting an unknown session is a no-op; the bool reports whether
// anything was removed.
func (m *Manager) Delete(ctx context.Context, sessionID string) bool {
	m.mu.Lock()
	ok := m.removeLocked(sessionID)
	m.mu.Unlock()

	if ok {
		m.deleted(ctx, sessionID)
	}
	return ok
}

// removeLocked drops the session and its index entry. m.mu must be held.
func (m *Manager) removeLocked(sessionID string) bool {
	s, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	delete(m.sessions, sessionID)
	if m.userIndex[s.UserID()] == sessionID {
		delete(m.userIndex, s.UserID())
	}
	return true
}

func (m *Manager) deleted(ctx context.Context, sessionID string) {
	if m.observer != nil {
		m.observer.SessionDeleted()
	}
	log.Ctx(ctx).Info().Str("session_id", logtrace.ShortID(sessionID)).Msg("session deleted")
}

// UserSession returns the user's most recently touched session id.
func (m *Manager) UserSession(userID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.userIndex[userID]
	return id, ok
}

// List returns all sessions ordered by creation.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt().Equal(out[j].CreatedAt()) {
			return out[i].ID() < out[j].ID()
		}
		return out[i].CreatedAt().Before(out[j].CreatedAt())
	})
	return out
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
