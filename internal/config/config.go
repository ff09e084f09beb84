package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Session backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Named defaults. KEYCLOAK_URL has none.
const (
	DefaultPort       = "3000"
	DefaultRealm      = "master"
	DefaultClientID   = "test-client"
	DefaultCORSOrigin = "http://localhost:3000"
	DefaultSessionTTL = 24 * time.Hour
	DefaultStaticDir  = "public"
	DefaultRedisAddr  = "localhost:6379"
)

// ErrMissingRequired is returned when a value without a default is absent.
var ErrMissingRequired = errors.New("config: missing required value")

type Config struct {
	Port string

	ProviderBaseURL   string
	ProviderPublicURL string
	Realm             string
	ClientID          string
	ClientSecret      string

	AppBaseURL string
	CORSOrigin string
	StaticDir  string

	SessionSecret  string
	SessionTTL     time.Duration
	SessionBackend string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Load resolves the configuration from the process environment.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", DefaultPort)
	v.SetDefault("KEYCLOAK_REALM", DefaultRealm)
	v.SetDefault("KEYCLOAK_CLIENT_ID", DefaultClientID)
	v.SetDefault("SESSION_TTL", DefaultSessionTTL)
	v.SetDefault("SESSION_STORE", BackendMemory)
	v.SetDefault("STATIC_DIR", DefaultStaticDir)
	v.SetDefault("REDIS_ADDR", DefaultRedisAddr)
	v.SetDefault("REDIS_DB", 0)

	cfg := Config{
		Port: strings.TrimSpace(v.GetString("PORT")),

		ProviderBaseURL:   trimURL(v.GetString("KEYCLOAK_URL")),
		ProviderPublicURL: trimURL(v.GetString("KEYCLOAK_PUBLIC_URL")),
		Realm:             strings.TrimSpace(v.GetString("KEYCLOAK_REALM")),
		ClientID:          strings.TrimSpace(v.GetString("KEYCLOAK_CLIENT_ID")),
		ClientSecret:      v.GetString("KEYCLOAK_CLIENT_SECRET"),

		AppBaseURL: trimURL(v.GetString("APP_URL")),
		CORSOrigin: trimURL(v.GetString("CORS_ORIGIN")),
		StaticDir:  v.GetString("STATIC_DIR"),

		SessionSecret:  v.GetString("SESSION_SECRET"),
		SessionTTL:     v.GetDuration("SESSION_TTL"),
		SessionBackend: strings.ToLower(strings.TrimSpace(v.GetString("SESSION_STORE"))),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
	}

	if cfg.ProviderPublicURL == "" {
		cfg.ProviderPublicURL = cfg.ProviderBaseURL
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = cfg.AppBaseURL
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = DefaultCORSOrigin
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first problem that must stop the process from starting.
func (c Config) Validate() error {
	if c.ProviderBaseURL == "" {
		return fmt.Errorf("%w: KEYCLOAK_URL", ErrMissingRequired)
	}
	if c.Realm == "" {
		return fmt.Errorf("%w: KEYCLOAK_REALM", ErrMissingRequired)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%w: KEYCLOAK_CLIENT_ID", ErrMissingRequired)
	}
	if c.Port == "" {
		return fmt.Errorf("%w: PORT", ErrMissingRequired)
	}

	for name, raw := range map[string]string{
		"KEYCLOAK_URL":        c.ProviderBaseURL,
		"KEYCLOAK_PUBLIC_URL": c.ProviderPublicURL,
		"APP_URL":             c.AppBaseURL,
		"CORS_ORIGIN":         c.CORSOrigin,
	} {
		if raw == "" {
			continue
		}
		if err := checkAbsolute(raw); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}

	if c.SessionTTL <= 0 {
		return errors.New("config: SESSION_TTL must be positive")
	}

	switch c.SessionBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: REDIS_ADDR", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("config: unknown SESSION_STORE %q", c.SessionBackend)
	}

	return nil
}

// Issuer is the realm issuer URL used for discovery.
func (c Config) Issuer() string {
	return c.ProviderBaseURL + "/realms/" + url.PathEscape(c.Realm)
}

// PublicRealmURL is the browser-facing realm base.
func (c Config) PublicRealmURL() string {
	return c.ProviderPublicURL + "/realms/" + url.PathEscape(c.Realm)
}

// EndSessionURL is the realm's end-session endpoint, without query.
func (c Config) EndSessionURL() string {
	return c.PublicRealmURL() + "/protocol/openid-connect/logout"
}

// AppURL returns APP_URL, or the local listener address when it is unset.
func (c Config) AppURL() string {
	if c.AppBaseURL != "" {
		return c.AppBaseURL
	}
	return "http://localhost:" + c.Port
}

// RedirectURL is where the provider sends the browser back to.
func (c Config) RedirectURL() string {
	return c.AppURL() + "/oauth2/callback"
}

// SecureCookies is true when the application is served over https.
func (c Config) SecureCookies() bool {
	return strings.HasPrefix(c.AppBaseURL, "https://")
}

func trimURL(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "/")
}

func checkAbsolute(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
