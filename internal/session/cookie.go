package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const (
	CookieName = "oidc_gateway.sid"

	sidKey = "sid"
)

// CookieOptions defines how session cookies are issued.
type CookieOptions struct {
	Path     string
	HttpOnly bool
	Secure   bool
	SameSite http.SameSite
	Domain   string
}

// normalize applies safe defaults without breaking callers
func (o CookieOptions) normalize() CookieOptions {
	if o.Path == "" {
		o.Path = "/"
	}
	if !o.HttpOnly {
		o.HttpOnly = true
	}
	if o.SameSite == 0 {
		o.SameSite = http.SameSiteLaxMode
	}
	return o
}

// CookieCodec carries the session id in a cookie signed with the session
// secret. Unsigned or tampered cookies read as absent.
type CookieCodec struct {
	store *sessions.CookieStore
}

func NewCookieCodec(secret []byte, ttl time.Duration, opts CookieOptions) (*CookieCodec, error) {
	if len(secret) == 0 {
		return nil, errors.New("session: empty cookie secret")
	}
	opts = opts.normalize()

	store := sessions.NewCookieStore(secret)
	store.MaxAge(int(ttl.Seconds()))
	store.Options.Path = opts.Path
	store.Options.Domain = opts.Domain
	store.Options.HttpOnly = opts.HttpOnly
	store.Options.Secure = opts.Secure
	store.Options.SameSite = opts.SameSite

	return &CookieCodec{store: store}, nil
}

// Read returns the session id carried by r, if any.
func (c *CookieCodec) Read(r *http.Request) (string, bool) {
	s, err := c.store.New(r, CookieName)
	if err != nil {
		return "", false
	}
	id, ok := s.Values[sidKey].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// SetCookie issues the session cookie to the client.
func (c *CookieCodec) SetCookie(w http.ResponseWriter, r *http.Request, sessionID string) error {
	s := sessions.NewSession(c.store, CookieName)
	opts := *c.store.Options
	s.Options = &opts
	s.Values[sidKey] = sessionID
	return c.store.Save(r, w, s)
}

// ClearCookie removes the session cookie from the client.
func (c *CookieCodec) ClearCookie(w http.ResponseWriter, r *http.Request) error {
	s := sessions.NewSession(c.store, CookieName)
	opts := *c.store.Options
	opts.MaxAge = -1
	s.Options = &opts
	return c.store.Save(r, w, s)
}
