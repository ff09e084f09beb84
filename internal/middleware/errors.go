package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"oidc-gateway/internal/logger"
)

// GenericErrorMessage is the only detail an unexpected failure exposes.
const GenericErrorMessage = "Something went wrong!"

// Recovery turns a panic anywhere in the chain into a logged generic 500.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("panic recovered", map[string]any{
			"error":  fmt.Sprint(recovered),
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		})
		c.String(http.StatusInternalServerError, GenericErrorMessage)
		c.Abort()
	})
}

// ErrorHandler answers errors recorded with c.Error that no handler
// turned into a response.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		logger.Error("request failed", map[string]any{
			"error":  c.Errors.String(),
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		})

		if !c.Writer.Written() {
			c.String(http.StatusInternalServerError, GenericErrorMessage)
		}
	}
}
