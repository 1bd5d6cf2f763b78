package app

import (
	"context"
	"fmt"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/upb/portal-gateway/auth"
	"github.com/upb/portal-gateway/authcheck"
	"github.com/upb/portal-gateway/config"
	"github.com/upb/portal-gateway/handlers"
	"github.com/upb/portal-gateway/internal/observability"
	"github.com/upb/portal-gateway/jwks"
	"github.com/upb/portal-gateway/middleware"
	"github.com/upb/portal-gateway/token"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// Metrics; nil Metrics records nothing
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	// Authorization core
	Keys     *jwks.Resolver
	Verifier *token.Verifier
	Checker  *authcheck.Checker

	// Collaborators
	authHandler    *auth.Handler
	AuthMiddleware *middleware.AuthMiddleware
	Forwarder      *handlers.Forwarder
}

// AuthHandler returns the auth handler for route wiring (implements handlers.AuthDeps)
func (d *Dependencies) AuthHandler() *auth.Handler {
	return d.authHandler
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	deps.initMetrics(cfg)

	if err := deps.initAuth(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	if err := deps.initBackend(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize backend forwarding: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initMetrics creates the Prometheus registry served on /metrics
func (d *Dependencies) initMetrics(cfg *config.Config) {
	d.Registry = prometheus.NewRegistry()
	if !cfg.Observability.MetricsEnabled {
		d.Logger.Info("metrics disabled")
		return
	}

	d.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Metrics = observability.NewMetrics(d.Registry)
}

// initAuth builds the key resolver, verifier and checker shared by every
// request, then the middleware and login handler on top of them.
func (d *Dependencies) initAuth(cfg *config.Config) error {
	resolver, err := jwks.NewResolver(jwks.Config{
		JWKSURL:     cfg.Auth.JWKSURL,
		CacheTTL:    cfg.Auth.CacheTTL,
		FetchLimit:  cfg.Auth.FetchLimit,
		FetchWindow: cfg.Auth.FetchWindow,
		Timeout:     cfg.Auth.Timeout,
	}, d.Metrics, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create key resolver: %w", err)
	}
	d.Keys = resolver

	d.Verifier = token.NewVerifier(token.Config{
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Leeway:   cfg.Auth.ClockSkew,
	}, resolver)
	d.Checker = authcheck.NewChecker(d.Verifier, cfg.Auth.Issuer, d.Metrics, d.Logger)
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Checker, d.Logger)

	d.Logger.Info("session token verification initialized",
		zap.String("jwks_url", cfg.Auth.JWKSURL),
		zap.String("issuer", cfg.Auth.Issuer),
		zap.String("audience", cfg.Auth.Audience))

	if cfg.Auth.LoginURL == "" {
		d.Logger.Warn("login url not configured, login endpoint disabled")
		return nil
	}
	exchanger := auth.NewPasswordExchanger(cfg.Auth.LoginURL, cfg.Auth.Timeout)
	d.authHandler = auth.NewHandler(cfg.Session, exchanger, d.Checker, d.Logger)
	d.Logger.Info("auth handler initialized")
	return nil
}

// initBackend creates the forwarder for the configured backend, if any
func (d *Dependencies) initBackend(cfg *config.Config) error {
	if cfg.Backend.URL == "" {
		d.Logger.Info("backend url not configured, forwarding disabled")
		return nil
	}

	target, err := url.Parse(cfg.Backend.URL)
	if err != nil {
		return fmt.Errorf("invalid backend url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return fmt.Errorf("invalid backend url: %q", cfg.Backend.URL)
	}

	d.Forwarder = handlers.NewForwarder(target, cfg.Backend.Timeout, d.Logger)
	d.Logger.Info("backend forwarding initialized",
		zap.String("backend_url", target.Redacted()),
		zap.Strings("required_permissions", cfg.Backend.RequiredPermissions))
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}
	return nil
}
