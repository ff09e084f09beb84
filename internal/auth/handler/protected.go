package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"oidc-gateway/internal/auth"
	"oidc-gateway/internal/logger"
	"oidc-gateway/internal/middleware"
)

const msgRenderError = "An error occurred while processing your request"

var protectedPage = template.Must(template.New("protected").Parse(`<!DOCTYPE html>
<html>
<head>
  <title>Protected Page</title>
  <style>
    body { font-family: Arial, sans-serif; margin: 40px; }
    .container { max-width: 800px; margin: 0 auto; text-align: center; }
    .btn { display: inline-block; padding: 10px 20px; background-color: #4CAF50; color: white;
           text-decoration: none; border-radius: 4px; margin-top: 20px; }
    .btn:hover { background-color: #45a049; }
    .token { text-align: left; margin: 20px auto; padding: 10px; background: #f5f5f5;
             border-radius: 4px; max-width: 800px; word-break: break-all; font-family: monospace; }
  </style>
</head>
<body>
  <div class="container">
    <h1>Welcome, {{.Username}}!</h1>
    <p>You have successfully authenticated with Keycloak.</p>
    <div class="token">
      <h3>Access Token:</h3>
      <pre>{{.Claims}}</pre>
    </div>
    <a href="/logout" class="btn">Logout</a>
  </div>
</body>
</html>
`))

type protectedView struct {
	Username string
	Claims   string
}

func (h *Handler) protected(c *gin.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("error in protected route", map[string]any{
				"error": fmt.Sprint(rec),
			})
			c.String(http.StatusInternalServerError, msgRenderError)
		}
	}()

	grant := middleware.GrantFromContext(c.Request.Context())
	if grant == nil {
		logger.Info("no authentication found, redirecting to login", nil)
		c.Redirect(http.StatusFound, "/login")
		return
	}

	page, err := renderProtected(grant.Claims)
	if err != nil {
		logger.Error("error in protected route", map[string]any{
			"error": err.Error(),
		})
		c.String(http.StatusInternalServerError, msgRenderError)
		return
	}

	logger.Info("protected route accessed", map[string]any{
		"username": grant.Claims.Username(),
	})
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

func renderProtected(claims auth.Claims) ([]byte, error) {
	pretty, err := json.MarshalIndent(claims, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render claims: %w", err)
	}

	var buf bytes.Buffer
	if err := protectedPage.Execute(&buf, protectedView{
		Username: claims.Username(),
		Claims:   string(pretty),
	}); err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return buf.Bytes(), nil
}
