package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultUsername is shown when the provider did not send preferred_username.
const DefaultUsername = "User"

// Grant is the validated proof of authentication attached to a session.
// It is read-only once created by a provider.
type Grant struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Claims       Claims    `json:"claims"`
}

// Expired reports whether the access token has expired at now.
// A zero expiry never expires.
func (g *Grant) Expired(now time.Time) bool {
	if g == nil {
		return true
	}
	return !g.Expiry.IsZero() && !now.Before(g.Expiry)
}

// Valid reports whether the grant may be used to reach a protected handler.
func (g *Grant) Valid(now time.Time) bool {
	return g != nil && g.AccessToken != "" && !g.Expired(now)
}

// Claims is the claim set of a grant. The typed fields are extracted from Raw,
// which is what gets persisted and rendered.
type Claims struct {
	Subject           string
	PreferredUsername string
	Email             string
	Roles             []string

	Raw map[string]any
}

type knownClaims struct {
	Subject           string `json:"sub"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// ParseClaims decodes a JSON claim set.
func ParseClaims(data []byte) (Claims, error) {
	var c Claims
	if err := c.UnmarshalJSON(data); err != nil {
		return Claims{}, err
	}
	return c, nil
}

// ClaimsFromMap builds Claims from an already decoded claim set.
func ClaimsFromMap(raw map[string]any) (Claims, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return Claims{}, fmt.Errorf("auth: encode claims: %w", err)
	}
	return ParseClaims(data)
}

// Username returns preferred_username, or DefaultUsername when it is absent.
func (c Claims) Username() string {
	if c.PreferredUsername == "" {
		return DefaultUsername
	}
	return c.PreferredUsername
}

func (c Claims) MarshalJSON() ([]byte, error) {
	if c.Raw == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(c.Raw)
	if err != nil {
		return nil, fmt.Errorf("auth: encode claims: %w", err)
	}
	return data, nil
}

func (c *Claims) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("auth: decode claims: %w", err)
	}
	if raw == nil {
		return errors.New("auth: claims must be a JSON object")
	}

	// Wrongly typed well-known claims are left empty rather than rejected.
	var known knownClaims
	_ = json.Unmarshal(data, &known)

	*c = Claims{
		Subject:           known.Subject,
		PreferredUsername: known.PreferredUsername,
		Email:             known.Email,
		Roles:             known.RealmAccess.Roles,
		Raw:               raw,
	}
	return nil
}
