// Package providertest provides an in-memory IdentityProvider for tests.
package providertest

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"oidc-gateway/internal/auth"
)

// ErrInvalidGrant is returned for unknown or reused codes.
var ErrInvalidGrant = errors.New("invalid_grant")

// Fake hands out grants for codes registered with IssueCode. Codes are
// single-use, like a real authorization server.
type Fake struct {
	AuthURL     string
	ClientID    string
	RedirectURL string

	mu           sync.Mutex
	codes        map[string]*auth.Grant
	exchanges    []auth.AuthRequest
	refreshGrant *auth.Grant
	refreshErr   error
	refreshes    int
}

func New(authURL, clientID, redirectURL string) *Fake {
	return &Fake{
		AuthURL:     authURL,
		ClientID:    clientID,
		RedirectURL: redirectURL,
		codes:       make(map[string]*auth.Grant),
		refreshErr:  errors.New("refresh not configured"),
	}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) AuthCodeURL(req auth.AuthRequest) string {
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {f.ClientID},
		"redirect_uri":          {f.RedirectURL},
		"scope":                 {"openid profile email"},
		"state":                 {req.State},
		"nonce":                 {req.Nonce},
		"code_challenge_method": {"S256"},
	}
	return f.AuthURL + "?" + q.Encode()
}

// IssueCode makes code exchangeable for g once.
func (f *Fake) IssueCode(code string, g *auth.Grant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[code] = g
}

func (f *Fake) ExchangeCode(_ context.Context, code string, req auth.AuthRequest) (*auth.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.exchanges = append(f.exchanges, req)
	g, ok := f.codes[code]
	if !ok {
		return nil, ErrInvalidGrant
	}
	delete(f.codes, code)
	return g, nil
}

// SetRefresh configures the outcome of the next Refresh calls.
func (f *Fake) SetRefresh(g *auth.Grant, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshGrant, f.refreshErr = g, err
}

func (f *Fake) Refresh(_ context.Context, _ *auth.Grant) (*auth.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshGrant, nil
}

// Exchanges returns the auth requests seen by ExchangeCode.
func (f *Fake) Exchanges() []auth.AuthRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]auth.AuthRequest(nil), f.exchanges...)
}

func (f *Fake) Refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

// Grant builds a grant for username valid for ttl.
func Grant(username string, ttl time.Duration) *auth.Grant {
	raw := map[string]any{"sub": "sub-" + username}
	if username != "" {
		raw["preferred_username"] = username
	}
	claims, err := auth.ClaimsFromMap(raw)
	if err != nil {
		panic(err)
	}
	return &auth.Grant{
		AccessToken:  "access-" + username,
		RefreshToken: "refresh-" + username,
		Expiry:       time.Now().Add(ttl),
		Claims:       claims,
	}
}
