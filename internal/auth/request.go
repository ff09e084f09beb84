package auth

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"oidc-gateway/internal/utils"
)

// DefaultRequestTTL bounds how long a browser may stay at the provider.
const DefaultRequestTTL = 5 * time.Minute

// AuthRequest is the state kept between redirecting a browser to the provider
// and completing the callback.
type AuthRequest struct {
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// NewAuthRequest generates fresh state, nonce and PKCE verifier.
func NewAuthRequest(ttl time.Duration) (AuthRequest, error) {
	state, err := utils.RandomString(32)
	if err != nil {
		return AuthRequest{}, fmt.Errorf("auth: state: %w", err)
	}
	nonce, err := utils.RandomString(32)
	if err != nil {
		return AuthRequest{}, fmt.Errorf("auth: nonce: %w", err)
	}

	return AuthRequest{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: oauth2.GenerateVerifier(),
		ExpiresAt:    time.Now().Add(ttl),
	}, nil
}

func (r AuthRequest) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
