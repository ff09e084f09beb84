package keycloak

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"oidc-gateway/internal/auth"
	"oidc-gateway/internal/logger"
)

const providerName = "keycloak"

// Options configures a realm client.
type Options struct {
	// Issuer is the realm issuer URL, e.g. http://localhost:8080/realms/demo.
	Issuer string
	// PublicRealmURL is the browser-facing realm URL. When it differs from
	// Issuer the authorization endpoint is rewritten onto it.
	PublicRealmURL string
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	// HTTPClient is used for discovery, JWKS and token calls when set.
	HTTPClient *http.Client
}

// Provider implements OAuth + OIDC authentication against a Keycloak realm.
// It returns grants only; no session decisions are made here.
type Provider struct {
	oauthConfig    *oauth2.Config
	idVerifier     *oidc.IDTokenVerifier
	accessVerifier *oidc.IDTokenVerifier
	httpClient     *http.Client
}

// New initializes the provider using discovery.
func New(ctx context.Context, opts Options) (*Provider, error) {
	if opts.Issuer == "" || opts.ClientID == "" || opts.RedirectURL == "" {
		return nil, errors.New("keycloak oauth config missing required fields")
	}

	if opts.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, opts.HTTPClient)
	}

	oidcProvider, err := oidc.NewProvider(ctx, opts.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to init keycloak oidc provider: %w", err)
	}

	idVerifier := oidcProvider.Verifier(&oidc.Config{
		ClientID: opts.ClientID,
	})

	// Keycloak access tokens carry aud=account, so only issuer,
	// signature and expiry are checked.
	accessVerifier := oidcProvider.Verifier(&oidc.Config{
		SkipClientIDCheck: true,
	})

	ep := oidcProvider.Endpoint()
	if opts.PublicRealmURL != "" && opts.PublicRealmURL != opts.Issuer {
		ep.AuthURL = opts.PublicRealmURL + "/protocol/openid-connect/auth"
	}

	oauthCfg := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		RedirectURL:  opts.RedirectURL,
		Endpoint:     ep,
		Scopes: []string{
			oidc.ScopeOpenID,
			"profile",
			"email",
		},
	}

	logger.Info("keycloak provider ready", map[string]any{
		"issuer":    opts.Issuer,
		"client_id": opts.ClientID,
		"auth_url":  ep.AuthURL,
	})

	return &Provider{
		oauthConfig:    oauthCfg,
		idVerifier:     idVerifier,
		accessVerifier: accessVerifier,
		httpClient:     opts.HTTPClient,
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// AuthCodeURL builds the OAuth authorization URL with nonce and PKCE parameters.
func (p *Provider) AuthCodeURL(req auth.AuthRequest) string {
	return p.oauthConfig.AuthCodeURL(
		req.State,
		oauth2.AccessTypeOnline,
		oidc.Nonce(req.Nonce),
		oauth2.S256ChallengeOption(req.CodeVerifier),
	)
}

// ExchangeCode exchanges the authorization code and returns a verified grant.
// This method MUST NOT create or modify sessions.
func (p *Provider) ExchangeCode(ctx context.Context, code string, req auth.AuthRequest) (*auth.Grant, error) {
	ctx = p.clientContext(ctx)

	token, err := p.oauthConfig.Exchange(ctx, code, oauth2.VerifierOption(req.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("keycloak token exchange failed: %w", err)
	}

	idToken, err := p.verifyIDToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if idToken.Nonce != req.Nonce {
		return nil, errors.New("keycloak id_token nonce mismatch")
	}

	return p.grant(ctx, token, idToken)
}

// Refresh trades the refresh token for a new grant.
func (p *Provider) Refresh(ctx context.Context, grant *auth.Grant) (*auth.Grant, error) {
	if grant == nil || grant.RefreshToken == "" {
		return nil, errors.New("keycloak refresh: no refresh token")
	}
	ctx = p.clientContext(ctx)

	src := p.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: grant.RefreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("keycloak token refresh failed: %w", err)
	}

	if token.RefreshToken == "" {
		token.RefreshToken = grant.RefreshToken
	}

	if raw, ok := token.Extra("id_token").(string); ok && raw != "" {
		idToken, err := p.verifyIDToken(ctx, token)
		if err != nil {
			return nil, err
		}
		return p.grant(ctx, token, idToken)
	}

	return &auth.Grant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      grant.IDToken,
		Expiry:       token.Expiry,
		Claims:       p.accessClaims(ctx, token.AccessToken, grant.Claims),
	}, nil
}

func (p *Provider) verifyIDToken(ctx context.Context, token *oauth2.Token) (*oidc.IDToken, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("keycloak did not return id_token")
	}

	idToken, err := p.idVerifier.Verify(ctx, rawIDToken)
	if err != nil {
		logger.Error("keycloak id_token verification failed", map[string]any{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("keycloak id_token verification failed: %w", err)
	}
	return idToken, nil
}

// grant prefers the access token's claims, as that is what Keycloak
// authorizes with; opaque access tokens fall back to the id_token claims.
func (p *Provider) grant(ctx context.Context, token *oauth2.Token, idToken *oidc.IDToken) (*auth.Grant, error) {
	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("keycloak id_token claims parse failed: %w", err)
	}
	idClaims, err := auth.ClaimsFromMap(raw)
	if err != nil {
		return nil, err
	}
	if idClaims.Subject == "" {
		return nil, errors.New("keycloak id_token missing sub claim")
	}

	claims := p.accessClaims(ctx, token.AccessToken, idClaims)

	logger.Info("keycloak oidc verified", map[string]any{
		"issuer":             idToken.Issuer,
		"subject_present":    claims.Subject != "",
		"preferred_username": claims.PreferredUsername,
		"audience":           idToken.Audience,
		"expiry_unix":        token.Expiry.Unix(),
	})

	rawIDToken, _ := token.Extra("id_token").(string)
	return &auth.Grant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      rawIDToken,
		Expiry:       token.Expiry,
		Claims:       claims,
	}, nil
}

func (p *Provider) accessClaims(ctx context.Context, accessToken string, fallback auth.Claims) auth.Claims {
	at, err := p.accessVerifier.Verify(ctx, accessToken)
	if err != nil {
		return fallback
	}

	var raw map[string]any
	if err := at.Claims(&raw); err != nil {
		return fallback
	}
	claims, err := auth.ClaimsFromMap(raw)
	if err != nil {
		return fallback
	}
	return claims
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}
