package handler

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"oidc-gateway/internal/logger"
	"oidc-gateway/internal/session"
)

// Options carries the configuration the handlers need.
type Options struct {
	// EndSessionURL is the provider's logout endpoint without query.
	EndSessionURL string
	// AppBaseURL is sent back to the provider after logout. When empty
	// the request's scheme and Host are used.
	AppBaseURL string
	// ClientID is added to the logout request when set.
	ClientID  string
	StaticDir string
}

type Handler struct {
	sessionStore session.Store
	cookies      *session.CookieCodec
	opts         Options
}

func NewHandler(
	sessionStore session.Store,
	cookies *session.CookieCodec,
	opts Options,
) *Handler {
	return &Handler{
		sessionStore: sessionStore,
		cookies:      cookies,
		opts:         opts,
	}
}

// RegisterRoutes binds the public and guarded routes.
func (h *Handler) RegisterRoutes(r *gin.Engine, guard gin.HandlerFunc) {
	r.GET("/", h.home)

	r.GET("/login", guard, h.login)
	r.GET("/oauth2/callback", guard, h.callback)
	r.GET("/protected", guard, h.protected)
	r.GET("/logout", guard, h.Logout)

	for _, route := range r.Routes() {
		logger.Info("route registered", map[string]any{
			"method": route.Method,
			"path":   route.Path,
		})
	}
}

func (h *Handler) home(c *gin.Context) {
	c.File(filepath.Join(h.opts.StaticDir, "index.html"))
}

// login is only reached once the guard has a grant.
func (h *Handler) login(c *gin.Context) {
	c.Redirect(http.StatusFound, "/protected")
}

// callback is reached after the guard completed the code exchange.
func (h *Handler) callback(c *gin.Context) {
	logger.Info("oauth2 callback complete, redirecting to /protected", nil)
	c.Redirect(http.StatusFound, "/protected")
}
