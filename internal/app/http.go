package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"oidc-gateway/internal/auth/handler"
	"oidc-gateway/internal/auth/provider"
	"oidc-gateway/internal/auth/provider/keycloak"
	"oidc-gateway/internal/config"
	"oidc-gateway/internal/logger"
	"oidc-gateway/internal/middleware"
	"oidc-gateway/internal/session"
	"oidc-gateway/internal/utils"
)

func setupHTTP(ctx context.Context, cfg config.Config) (*gin.Engine, func() error, error) {
	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	// ----------------------------
	// Dependencies
	// ----------------------------

	secret, err := sessionSecret(cfg)
	if err != nil {
		_ = infra.Close()
		return nil, nil, err
	}

	cookies, err := session.NewCookieCodec(secret, cfg.SessionTTL, session.CookieOptions{
		Secure: cfg.SecureCookies(),
	})
	if err != nil {
		_ = infra.Close()
		return nil, nil, err
	}

	keycloakProvider, err := keycloak.New(ctx, keycloak.Options{
		Issuer:         cfg.Issuer(),
		PublicRealmURL: cfg.PublicRealmURL(),
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		RedirectURL:    cfg.RedirectURL(),
	})
	if err != nil {
		_ = infra.Close()
		return nil, nil, err
	}

	return newRouter(cfg, infra.Sessions, keycloakProvider, cookies), infra.Close, nil
}

func newRouter(
	cfg config.Config,
	sessionStore session.Store,
	idp provider.IdentityProvider,
	cookies *session.CookieCodec,
) *gin.Engine {
	authMiddleware := middleware.NewAuthMiddleware(sessionStore, idp, cookies)

	authHandler := handler.NewHandler(sessionStore, cookies, handler.Options{
		EndSessionURL: cfg.EndSessionURL(),
		AppBaseURL:    cfg.AppBaseURL,
		ClientID:      cfg.ClientID,
		StaticDir:     cfg.StaticDir,
	})

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(
		middleware.Recovery(),
		middleware.RequestLogger(),
		middleware.ErrorHandler(),
		cors.New(cors.Config{
			AllowOrigins:     []string{cfg.CORSOrigin},
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
	)

	// Registered ahead of GinPreprocess: liveness checks never start a session.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.Use(middleware.GinPreprocess(authMiddleware))

	// ----------------------------
	// Routes
	// ----------------------------

	authHandler.RegisterRoutes(router, middleware.GinRequireAuth(authMiddleware))

	router.NoRoute(staticFiles(cfg.StaticDir))

	return router
}

// staticFiles serves STATIC_DIR for paths no route claimed.
func staticFiles(dir string) gin.HandlerFunc {
	files := http.FileServer(http.Dir(dir))
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.String(http.StatusNotFound, "Not Found")
			return
		}
		files.ServeHTTP(c.Writer, c.Request)
	}
}

func sessionSecret(cfg config.Config) ([]byte, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), nil
	}

	secret, err := utils.RandomString(32)
	if err != nil {
		return nil, err
	}
	logger.Warn("SESSION_SECRET not set, using a random secret; sessions will not survive a restart", nil)
	return []byte(secret), nil
}
