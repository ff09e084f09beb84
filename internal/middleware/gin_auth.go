package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GinPreprocess adapts AuthMiddleware.Preprocess to Gin.
func GinPreprocess(auth *AuthMiddleware) gin.HandlerFunc {
	return ginAdapt(auth.Preprocess)
}

// GinRequireAuth adapts the net/http guard to Gin. Auth decisions stay
// session-based and provider-agnostic.
func GinRequireAuth(auth *AuthMiddleware) gin.HandlerFunc {
	return ginAdapt(auth.RequireAuth)
}

func ginAdapt(mw func(http.Handler) http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		nextCalled := false

		// Bridge handler to allow net/http middleware execution
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nextCalled = true
			c.Request = r
			c.Next()
		})

		mw(next).ServeHTTP(c.Writer, c.Request)

		// The middleware answered by itself; stop the Gin chain.
		if !nextCalled {
			c.Abort()
		}
	}
}
