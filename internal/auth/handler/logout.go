package handler

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"oidc-gateway/internal/logger"
	"oidc-gateway/internal/middleware"
)

const msgLogoutError = "Error during logout"

// Logout destroys the session and sends the browser to the provider's
// end-session endpoint, which redirects back to the application.
func (h *Handler) Logout(c *gin.Context) {
	target := LogoutURL(h.opts.EndSessionURL, h.postLogoutRedirect(c.Request), h.opts.ClientID)

	if sessionID, ok := middleware.SessionIDFromContext(c.Request.Context()); ok {
		existed, err := h.sessionStore.Destroy(c.Request.Context(), sessionID)
		if err != nil {
			logger.Error("error destroying session", map[string]any{
				"error": err.Error(),
			})
			c.String(http.StatusInternalServerError, msgLogoutError)
			return
		}
		logger.Info("session destroyed", map[string]any{
			"existed": existed,
			"ip":      c.ClientIP(),
		})
	}

	if err := h.cookies.ClearCookie(c.Writer, c.Request); err != nil {
		logger.Warn("failed to clear session cookie", map[string]any{
			"error": err.Error(),
		})
	}

	c.Redirect(http.StatusFound, target)
}

// LogoutURL builds the end-session URL. redirect_uri comes first and
// client_id is only sent when known.
func LogoutURL(endSessionURL, redirectURI, clientID string) string {
	q := "redirect_uri=" + url.QueryEscape(redirectURI)
	if clientID != "" {
		q += "&client_id=" + url.QueryEscape(clientID)
	}
	return endSessionURL + "?" + q
}

func (h *Handler) postLogoutRedirect(r *http.Request) string {
	if h.opts.AppBaseURL != "" {
		return h.opts.AppBaseURL
	}

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
