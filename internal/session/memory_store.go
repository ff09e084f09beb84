package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"oidc-gateway/internal/auth"
	"oidc-gateway/internal/logger"
)

// MemoryStore keeps sessions in process memory. A restart drops every session.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*Session
	now      func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context) (*Session, error) {
	s, err := newSession(m.ttl, m.now())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.sessions[s.ID]; taken {
		return nil, fmt.Errorf("session: id collision")
	}
	m.sessions[s.ID] = s
	return s.clone(), nil
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.live(sessionID)
	if s == nil {
		return nil, nil
	}
	return s.clone(), nil
}

func (m *MemoryStore) SetPending(_ context.Context, sessionID string, req auth.AuthRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.live(sessionID)
	if s == nil {
		return ErrNotFound
	}
	s.Pending = &req
	return nil
}

func (m *MemoryStore) TakePending(_ context.Context, sessionID, state string) (*auth.AuthRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.live(sessionID)
	if s == nil {
		return nil, ErrNotFound
	}
	return takePending(s, state, m.now()), nil
}

func (m *MemoryStore) AttachGrant(_ context.Context, sessionID string, grant *auth.Grant) error {
	if grant == nil {
		return fmt.Errorf("session: nil grant")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.live(sessionID)
	if s == nil {
		return ErrNotFound
	}
	s.Grant = grant
	s.Pending = nil
	return nil
}

func (m *MemoryStore) Destroy(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	return ok, nil
}

// Sweep drops expired sessions and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for id, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored sessions, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// RunJanitor sweeps every interval until ctx is done.
func (m *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				logger.Info("expired sessions removed", map[string]any{
					"count": n,
				})
			}
		}
	}
}

// live returns the stored session, evicting it if expired. Callers hold mu.
func (m *MemoryStore) live(sessionID string) *Session {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	if s.Expired(m.now()) {
		delete(m.sessions, sessionID)
		return nil
	}
	return s
}

func (s *Session) clone() *Session {
	c := *s
	if s.Pending != nil {
		p := *s.Pending
		c.Pending = &p
	}
	return &c
}
