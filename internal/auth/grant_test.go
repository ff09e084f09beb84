package auth

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClaims(t *testing.T) {
	c, err := ParseClaims([]byte(`{
		"sub": "f3a1",
		"preferred_username": "alice",
		"email": "alice@example.com",
		"realm_access": {"roles": ["offline_access", "admin"]},
		"custom": {"nested": true}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "f3a1", c.Subject)
	assert.Equal(t, "alice", c.Username())
	assert.Equal(t, "alice@example.com", c.Email)
	assert.Contains(t, c.Roles, "admin")
	assert.NotContains(t, c.Roles, "auditor")
	assert.Equal(t, map[string]any{"nested": true}, c.Raw["custom"])
}

func TestParseClaimsToleratesOddTypes(t *testing.T) {
	c, err := ParseClaims([]byte(`{"sub": "x", "preferred_username": 42}`))
	require.NoError(t, err)

	assert.Equal(t, DefaultUsername, c.Username())
	assert.EqualValues(t, 42, c.Raw["preferred_username"])
}

func TestParseClaimsRejectsNonObject(t *testing.T) {
	_, err := ParseClaims([]byte(`["a"]`))
	assert.Error(t, err)

	_, err = ParseClaims([]byte(`null`))
	assert.Error(t, err)
}

func TestClaimsRoundTripThroughGrant(t *testing.T) {
	claims, err := ClaimsFromMap(map[string]any{"sub": "1", "preferred_username": "bob"})
	require.NoError(t, err)

	g := Grant{AccessToken: "at", Expiry: time.Unix(1700000000, 0).UTC(), Claims: claims}
	data, err := json.Marshal(g)
	require.NoError(t, err)

	var out Grant
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "bob", out.Claims.Username())
	assert.Equal(t, g.Expiry, out.Expiry.UTC())
}

func TestClaimsMarshalFailure(t *testing.T) {
	c := Claims{Raw: map[string]any{"bad": math.Inf(1)}}

	_, err := json.Marshal(c)
	assert.Error(t, err)
}

func TestGrantValidity(t *testing.T) {
	now := time.Now()

	var nilGrant *Grant
	assert.False(t, nilGrant.Valid(now))
	assert.True(t, nilGrant.Expired(now))

	assert.False(t, (&Grant{}).Valid(now))
	assert.True(t, (&Grant{AccessToken: "at"}).Valid(now))
	assert.True(t, (&Grant{AccessToken: "at", Expiry: now.Add(time.Minute)}).Valid(now))
	assert.False(t, (&Grant{AccessToken: "at", Expiry: now}).Valid(now))
	assert.False(t, (&Grant{AccessToken: "at", Expiry: now.Add(-time.Second)}).Valid(now))
}

func TestNewAuthRequest(t *testing.T) {
	a, err := NewAuthRequest(DefaultRequestTTL)
	require.NoError(t, err)
	b, err := NewAuthRequest(DefaultRequestTTL)
	require.NoError(t, err)

	assert.NotEmpty(t, a.State)
	assert.NotEmpty(t, a.Nonce)
	assert.GreaterOrEqual(t, len(a.CodeVerifier), 43)
	assert.NotEqual(t, a.State, b.State)
	assert.NotEqual(t, a.Nonce, b.Nonce)

	assert.False(t, a.Expired(time.Now()))
	assert.True(t, a.Expired(a.ExpiresAt))
}
