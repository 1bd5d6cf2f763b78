package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/upb/portal-gateway/utils"
)

// Development defaults point at a local identity service.
const (
	DevIdentityURL = "http://localhost:4000"
	DevJWKSURL     = DevIdentityURL + "/.well-known/jwks.json"
	DevIssuer      = DevIdentityURL
	DevAudience    = "portal"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Auth          AuthConfig
	Session       SessionConfig
	Backend       BackendConfig
	Observability ObservabilityConfig
	Environment   string `validate:"required"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int           `validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	RequestTimeout  time.Duration `validate:"gt=0"`
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string `validate:"required_if=Enabled true"`
		KeyFile  string `validate:"required_if=Enabled true"`
	}
}

// AuthConfig holds session token verification settings
type AuthConfig struct {
	JWKSURL  string `validate:"required,url"`
	Issuer   string `validate:"required"`
	Audience string `validate:"required"`

	CacheTTL    time.Duration `validate:"gt=0"`
	FetchLimit  int           `validate:"gt=0"`
	FetchWindow time.Duration `validate:"gt=0"`
	Timeout     time.Duration `validate:"gt=0"`
	ClockSkew   time.Duration `validate:"gte=0"`

	// LoginURL is the identity service endpoint that exchanges credentials
	// for a session token. Login is disabled when empty.
	LoginURL string `validate:"omitempty,url"`
}

// SessionConfig holds session cookie attributes
type SessionConfig struct {
	MaxAge time.Duration `validate:"gt=0"`
	Secure bool
}

// BackendConfig holds the upstream service that authorized requests are
// forwarded to. Forwarding is disabled when URL is empty.
type BackendConfig struct {
	URL     string        `validate:"omitempty,url"`
	Timeout time.Duration `validate:"gt=0"`

	// RequiredPermissions must all be granted to reach the backend.
	RequiredPermissions []string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string `validate:"required,oneof=debug info warn error"`
	LogFormat      string `validate:"required,oneof=json console text"`
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	environment := getEnv("ENVIRONMENT", "development")
	production := isProduction(environment)

	cfg := &Config{
		Environment: environment,
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 60*time.Second),
			AllowedOrigins:  getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*"}),
		},
		Auth: AuthConfig{
			JWKSURL:     getAuthEnv("AUTH_JWKS_URL", DevJWKSURL, production),
			Issuer:      getAuthEnv("AUTH_ISSUER", DevIssuer, production),
			Audience:    getAuthEnv("AUTH_AUDIENCE", DevAudience, production),
			CacheTTL:    getEnvAsDuration("AUTH_JWKS_CACHE_TTL", 15*time.Minute),
			FetchLimit:  getEnvAsInt("AUTH_JWKS_FETCH_LIMIT", 5),
			FetchWindow: getEnvAsDuration("AUTH_JWKS_FETCH_WINDOW", time.Minute),
			Timeout:     getEnvAsDuration("AUTH_JWKS_TIMEOUT", 10*time.Second),
			ClockSkew:   getEnvAsDuration("AUTH_CLOCK_SKEW", 0),
			LoginURL:    getEnv("AUTH_LOGIN_URL", ""),
		},
		Session: SessionConfig{
			MaxAge: getEnvAsDuration("SESSION_MAX_AGE", 7*24*time.Hour),
			Secure: getEnvAsBool("SESSION_COOKIE_SECURE", production),
		},
		Backend: BackendConfig{
			URL:     getEnv("BACKEND_URL", ""),
			Timeout: getEnvAsDuration("BACKEND_TIMEOUT", 30*time.Second),

			RequiredPermissions: getEnvAsSlice("BACKEND_REQUIRED_PERMISSIONS", nil),
		},
		Observability: ObservabilityConfig{
			LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
			LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "json")),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}
	cfg.Server.TLS.Enabled = getEnvAsBool("TLS_ENABLED", false)
	cfg.Server.TLS.CertFile = getEnv("TLS_CERT_FILE", "")
	cfg.Server.TLS.KeyFile = getEnv("TLS_KEY_FILE", "")

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Missing identity settings in production are reported by name rather
	// than as generic validation failures.
	if c.IsProduction() {
		var missing []string
		if c.Auth.JWKSURL == "" {
			missing = append(missing, "AUTH_JWKS_URL")
		}
		if c.Auth.Issuer == "" {
			missing = append(missing, "AUTH_ISSUER")
		}
		if c.Auth.Audience == "" {
			missing = append(missing, "AUTH_AUDIENCE")
		}
		if len(missing) > 0 {
			return fmt.Errorf("%s required in production", strings.Join(missing, ", "))
		}
		if !c.Session.Secure {
			return fmt.Errorf("session cookie must be secure in production")
		}
	}

	return utils.ValidateStruct(c)
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return isProduction(c.Environment)
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func isProduction(environment string) bool {
	return environment == "production" || environment == "prod"
}

// Helper functions

// getAuthEnv reads an identity setting. Outside production an unset value
// falls back to the local development default.
func getAuthEnv(key, devDefault string, production bool) string {
	if production {
		return getEnv(key, "")
	}
	return getEnv(key, devDefault)
}

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
