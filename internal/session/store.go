package session

import (
	"context"
	"errors"
	"time"

	"oidc-gateway/internal/auth"
)

var (
	// ErrNotFound is returned when a session is absent or has expired.
	ErrNotFound = errors.New("session: not found")
	// ErrConflict is returned when a concurrent update kept winning.
	ErrConflict = errors.New("session: concurrent update")
)

// Session is one browser's server-side state.
type Session struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"` // fixed at creation, never extended
	Grant     *auth.Grant       `json:"grant,omitempty"`
	Pending   *auth.AuthRequest `json:"pending,omitempty"`
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store defines how sessions are stored and retrieved.
// Implementations must be safe for concurrent use and serialize
// updates per session id.
type Store interface {
	// Create starts a new anonymous session.
	Create(ctx context.Context) (*Session, error)

	// Get returns nil, nil when the session is absent or expired.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// SetPending records an authorization request awaiting its callback.
	SetPending(ctx context.Context, sessionID string, req auth.AuthRequest) error

	// TakePending removes and returns the pending request if its state
	// matches. It returns nil, nil when nothing matches, so only one of
	// several concurrent callbacks can consume a request.
	TakePending(ctx context.Context, sessionID, state string) (*auth.AuthRequest, error)

	// AttachGrant stores the grant and clears any pending request.
	AttachGrant(ctx context.Context, sessionID string, grant *auth.Grant) error

	// Destroy removes the session. It is idempotent and reports whether
	// the session existed.
	Destroy(ctx context.Context, sessionID string) (bool, error)
}

func newSession(ttl time.Duration, now time.Time) (*Session, error) {
	id, err := GenerateID()
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// takePending applies the TakePending rule to s in place.
func takePending(s *Session, state string, now time.Time) *auth.AuthRequest {
	p := s.Pending
	if p == nil || state == "" || p.State != state {
		return nil
	}
	s.Pending = nil
	if p.Expired(now) {
		return nil
	}
	return p
}
