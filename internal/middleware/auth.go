package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"oidc-gateway/internal/auth"
	"oidc-gateway/internal/auth/provider"
	"oidc-gateway/internal/logger"
	"oidc-gateway/internal/session"
)

var (
	// ErrAccessDenied means the provider reported an error on the callback.
	ErrAccessDenied = errors.New("provider denied access")
	// ErrInvalidCallback means the callback matches no pending request.
	ErrInvalidCallback = errors.New("callback does not match a pending request")
)

// unexported, collision-proof context keys
type sessionIDContextKeyType struct{}
type grantContextKeyType struct{}

var (
	sessionIDKey = sessionIDContextKeyType{}
	grantKey     = grantContextKeyType{}
)

// SessionIDFromContext returns the session attached by Preprocess.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}

// GrantFromContext returns the grant attached to the request, or nil.
func GrantFromContext(ctx context.Context) *auth.Grant {
	g, _ := ctx.Value(grantKey).(*auth.Grant)
	return g
}

func withGrant(ctx context.Context, g *auth.Grant) context.Context {
	return context.WithValue(ctx, grantKey, g)
}

type AuthMiddleware struct {
	Store      session.Store
	Provider   provider.IdentityProvider
	Cookies    *session.CookieCodec
	RequestTTL time.Duration

	now func() time.Time
}

func NewAuthMiddleware(
	store session.Store,
	idp provider.IdentityProvider,
	cookies *session.CookieCodec,
) *AuthMiddleware {
	return &AuthMiddleware{
		Store:      store,
		Provider:   idp,
		Cookies:    cookies,
		RequestTTL: auth.DefaultRequestTTL,
		now:        time.Now,
	}
}

// Preprocess attaches the caller's session id and grant (if any) to the
// request context, starting a session when the cookie names none. It never
// redirects and never rejects a request.
func (a *AuthMiddleware) Preprocess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if sess := a.loadSession(w, r); sess != nil {
			ctx = context.WithValue(ctx, sessionIDKey, sess.ID)
			if sess.Grant != nil {
				ctx = withGrant(ctx, sess.Grant)
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth is the guard. The wrapped handler runs only with a valid
// grant; otherwise the browser is sent to the provider.
func (a *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		grant := GrantFromContext(ctx)
		if grant.Valid(a.now()) {
			next.ServeHTTP(w, r)
			return
		}

		sessionID, ok := SessionIDFromContext(ctx)
		if !ok {
			logger.Error("guard reached without a session", map[string]any{
				"path": r.URL.Path,
			})
			http.Error(w, GenericErrorMessage, http.StatusInternalServerError)
			return
		}

		if grant != nil && grant.RefreshToken != "" {
			if fresh := a.refresh(ctx, sessionID, grant); fresh != nil {
				next.ServeHTTP(w, r.WithContext(withGrant(ctx, fresh)))
				return
			}
		}

		query := r.URL.Query()
		if query.Get("state") != "" {
			fresh, err := a.CompleteCallback(ctx, sessionID, query)
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(withGrant(ctx, fresh)))
				return
			case errors.Is(err, ErrAccessDenied):
				logger.Warn("oidc callback returned error", map[string]any{
					"error": err.Error(),
				})
				http.Error(w, "Access denied", http.StatusForbidden)
				return
			case errors.Is(err, ErrInvalidCallback):
				// Registration or a stale tab: start a fresh flow.
				logger.Warn("oidc callback restarted", map[string]any{
					"error": err.Error(),
				})
			default:
				logger.Error("oidc callback failed", map[string]any{
					"error": err.Error(),
				})
				http.Error(w, GenericErrorMessage, http.StatusInternalServerError)
				return
			}
		}

		a.redirectToProvider(w, r, sessionID)
	})
}

// CompleteCallback finishes the authorization-code leg for sessionID and
// attaches the resulting grant to the session.
func (a *AuthMiddleware) CompleteCallback(
	ctx context.Context,
	sessionID string,
	query url.Values,
) (*auth.Grant, error) {
	pending, err := a.Store.TakePending(ctx, sessionID, query.Get("state"))
	if errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("%w: session gone", ErrInvalidCallback)
	}
	if err != nil {
		return nil, fmt.Errorf("take pending request: %w", err)
	}

	if pending == nil {
		// A concurrent callback for the same session may already have won.
		if sess, err := a.Store.Get(ctx, sessionID); err == nil && sess != nil && sess.Grant.Valid(a.now()) {
			return sess.Grant, nil
		}
		return nil, ErrInvalidCallback
	}

	if e := query.Get("error"); e != "" {
		return nil, fmt.Errorf("%w: %s: %s", ErrAccessDenied, e, query.Get("error_description"))
	}

	code := query.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: missing code", ErrInvalidCallback)
	}

	grant, err := a.Provider.ExchangeCode(ctx, code, *pending)
	if err != nil {
		return nil, fmt.Errorf("%s exchange: %w", a.Provider.Name(), err)
	}

	if err := a.Store.AttachGrant(ctx, sessionID, grant); err != nil {
		return nil, fmt.Errorf("attach grant: %w", err)
	}

	logger.Info("login succeeded", map[string]any{
		"provider": a.Provider.Name(),
		"username": grant.Claims.Username(),
	})
	return grant, nil
}

func (a *AuthMiddleware) refresh(ctx context.Context, sessionID string, grant *auth.Grant) *auth.Grant {
	fresh, err := a.Provider.Refresh(ctx, grant)
	if err != nil {
		logger.Warn("grant refresh failed", map[string]any{
			"error": err.Error(),
		})
		return nil
	}
	if !fresh.Valid(a.now()) {
		return nil
	}
	if err := a.Store.AttachGrant(ctx, sessionID, fresh); err != nil {
		logger.Error("failed to store refreshed grant", map[string]any{
			"error": err.Error(),
		})
		return nil
	}
	return fresh
}

func (a *AuthMiddleware) redirectToProvider(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx := r.Context()

	req, err := auth.NewAuthRequest(a.RequestTTL)
	if err != nil {
		logger.Error("failed to create auth request", map[string]any{
			"error": err.Error(),
		})
		http.Error(w, GenericErrorMessage, http.StatusInternalServerError)
		return
	}

	err = a.Store.SetPending(ctx, sessionID, req)
	if errors.Is(err, session.ErrNotFound) {
		// Expired between Preprocess and now.
		var sess *session.Session
		if sess, err = a.newSession(w, r); err == nil {
			err = a.Store.SetPending(ctx, sess.ID, req)
		}
	}
	if err != nil {
		logger.Error("failed to store auth request", map[string]any{
			"error": err.Error(),
		})
		http.Error(w, GenericErrorMessage, http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, a.Provider.AuthCodeURL(req), http.StatusFound)
}

func (a *AuthMiddleware) loadSession(w http.ResponseWriter, r *http.Request) *session.Session {
	if id, ok := a.Cookies.Read(r); ok {
		sess, err := a.Store.Get(r.Context(), id)
		if err != nil {
			logger.Error("failed to load session", map[string]any{
				"error": err.Error(),
			})
			return nil
		}
		if sess != nil {
			return sess
		}
	}

	sess, err := a.newSession(w, r)
	if err != nil {
		logger.Error("failed to create session", map[string]any{
			"error": err.Error(),
		})
		return nil
	}
	return sess
}

func (a *AuthMiddleware) newSession(w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	sess, err := a.Store.Create(r.Context())
	if err != nil {
		return nil, err
	}
	if err := a.Cookies.SetCookie(w, r, sess.ID); err != nil {
		return nil, fmt.Errorf("set session cookie: %w", err)
	}
	return sess, nil
}
