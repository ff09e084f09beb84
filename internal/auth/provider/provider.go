package provider

import (
	"context"

	"oidc-gateway/internal/auth"
)

// IdentityProvider is the contract of the external OpenID Connect client.
// Implementations own all protocol wire logic; callers never inspect tokens
// beyond the returned Grant.
type IdentityProvider interface {
	// Name returns the provider identifier (e.g. "keycloak").
	Name() string

	// AuthCodeURL returns the authorization endpoint URL for req,
	// carrying its state, nonce and PKCE challenge.
	AuthCodeURL(req auth.AuthRequest) string

	// ExchangeCode completes the authorization-code grant for req and
	// returns the validated grant.
	ExchangeCode(ctx context.Context, code string, req auth.AuthRequest) (*auth.Grant, error)

	// Refresh trades the grant's refresh token for a new grant.
	Refresh(ctx context.Context, grant *auth.Grant) (*auth.Grant, error)
}
