// Package authcheck is the entry point route collaborators use to obtain the
// session token and check the permissions a request requires.
//
// A check moves through NoToken, TokenPresent, Verified or Rejected, and ends
// Authorized or Denied. Key resolution outages end in the separate Failed
// state, and checks whose caller went away end Canceled. Every check returns a Result; no failure escapes as a panic or error.
package authcheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/upb/portal-gateway/authctx"
	"github.com/upb/portal-gateway/internal/observability"
	"github.com/upb/portal-gateway/internal/shared"
	"github.com/upb/portal-gateway/permission"
	"github.com/upb/portal-gateway/utils"
	"go.uber.org/zap"
)

// TokenStore yields the caller's session token, if any.
type TokenStore interface {
	GetToken() (string, bool)
}

// TokenStoreFunc adapts a function to TokenStore.
type TokenStoreFunc func() (string, bool)

// GetToken implements TokenStore
func (f TokenStoreFunc) GetToken() (string, bool) {
	return f()
}

// ObtainSessionToken returns the trimmed token from store. Blank tokens and a
// nil store count as absent.
func ObtainSessionToken(store TokenStore) (string, bool) {
	if store == nil {
		return "", false
	}
	token, ok := store.GetToken()
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// Verifier verifies a raw token and returns its claims.
type Verifier interface {
	Verify(ctx context.Context, raw string) (jwt.MapClaims, error)
}

// Outcome is the terminal state of a check.
type Outcome string

const (
	OutcomeNoToken    Outcome = "no_token"
	OutcomeRejected   Outcome = "rejected"
	OutcomeDenied     Outcome = "denied"
	OutcomeFailed     Outcome = "failed"
	OutcomeCanceled   Outcome = "canceled"
	OutcomeAuthorized Outcome = "authorized"
)

// Denial is the response a collaborator sends when a check is not authorized.
type Denial struct {
	Status int
	Body   interface{}
}

// Write sends the denial as JSON.
func (d *Denial) Write(w http.ResponseWriter) error {
	switch d.Status {
	case http.StatusUnauthorized:
		return utils.WriteUnauthorized(w)
	case http.StatusForbidden:
		if body, ok := d.Body.(utils.PermissionErrorResponse); ok {
			return utils.WriteForbidden(w, body.Required, body.Has)
		}
	case http.StatusInternalServerError:
		if body, ok := d.Body.(utils.ErrorResponse); ok {
			return utils.WriteInternalServerError(w, body.Details)
		}
	case http.StatusServiceUnavailable:
		if body, ok := d.Body.(utils.ErrorResponse); ok {
			return utils.WriteServiceUnavailable(w, body.Error)
		}
	}
	return utils.WriteJSON(w, d.Status, d.Body)
}

// Result is the outcome of CheckRequiredPermissions. AccessToken is set
// whenever a token was found, including on denial, so collaborators can
// forward it. AuthContext is set only when authorized.
type Result struct {
	Authorized  bool                 `json:"authorized"`
	AccessToken string               `json:"accessToken,omitempty"`
	AuthContext *authctx.AuthContext `json:"authContext,omitempty"`
	Denial      *Denial              `json:"-"`
	Outcome     Outcome              `json:"-"`

	// Err is the internal cause of a Rejected or Failed outcome. It is for
	// logging only and never rendered to clients.
	Err error `json:"-"`
}

// Checker runs the request authorization state machine.
type Checker struct {
	verifier Verifier
	issuer   string
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewChecker creates a Checker. issuer is only used in log fields.
func NewChecker(verifier Verifier, issuer string, metrics *observability.Metrics, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		verifier: verifier,
		issuer:   issuer,
		metrics:  metrics,
		logger:   logger,
	}
}

// CheckRequiredPermissions verifies the token from store and checks that the
// caller holds every permission in required.
func (c *Checker) CheckRequiredPermissions(ctx context.Context, store TokenStore, required ...string) (result *Result) {
	token, ok := ObtainSessionToken(store)

	defer func() {
		if p := recover(); p != nil {
			result = c.fail(ctx, token, fmt.Errorf("panic during authorization check: %v", p))
		}
		c.metrics.AuthDecision(string(result.Outcome))
	}()

	if !ok {
		c.logger.Debug("no session token",
			zap.String("request_id", shared.RequestIDFrom(ctx)),
			zap.String("outcome", string(OutcomeNoToken)))
		return &Result{
			Outcome: OutcomeNoToken,
			Denial:  &Denial{Status: http.StatusUnauthorized, Body: utils.UnauthorizedBody()},
		}
	}

	claims, err := c.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return c.canceled(ctx, token, err)
		}
		if shared.HTTPStatus(shared.CategoryOf(err)) == http.StatusUnauthorized {
			return c.reject(ctx, token, err)
		}
		return c.fail(ctx, token, err)
	}

	ac, err := authctx.FromClaims(claims)
	if err != nil {
		return c.reject(ctx, token, err)
	}

	decision := permission.Check(required, ac)
	if !decision.Authorized {
		c.logger.Info("insufficient permissions",
			zap.String("request_id", shared.RequestIDFrom(ctx)),
			zap.String("outcome", string(OutcomeDenied)),
			zap.String("error_kind", string(shared.KindInsufficientPermissions)),
			zap.String("user_id", ac.UserID()),
			zap.Strings("required", decision.Required),
			zap.Strings("missing", decision.Missing))
		return &Result{
			AccessToken: token,
			Outcome:     OutcomeDenied,
			Err:         shared.ErrInsufficientPermissions.Wrapf("missing %v", decision.Missing),
			Denial: &Denial{
				Status: http.StatusForbidden,
				Body:   utils.ForbiddenBody(decision.Required, decision.Has),
			},
		}
	}

	c.logger.Debug("authorized",
		zap.String("request_id", shared.RequestIDFrom(ctx)),
		zap.String("outcome", string(OutcomeAuthorized)),
		zap.String("user_id", ac.UserID()),
		zap.Strings("required", decision.Required))
	return &Result{
		Authorized:  true,
		AccessToken: token,
		AuthContext: ac,
		Outcome:     OutcomeAuthorized,
	}
}

func (c *Checker) reject(ctx context.Context, token string, err error) *Result {
	c.logger.Warn("session token rejected",
		append(c.tokenFields(ctx, token, err),
			zap.String("outcome", string(OutcomeRejected)))...)
	return &Result{
		AccessToken: token,
		Outcome:     OutcomeRejected,
		Denial:      &Denial{Status: http.StatusUnauthorized, Body: utils.UnauthorizedBody()},
		Err:         err,
	}
}

// fail reports an internal failure. The client gets a correlation id that
// matches the log entry.
func (c *Checker) fail(ctx context.Context, token string, err error) *Result {
	correlationID := uuid.New().String()
	c.logger.Error("authorization check failed",
		append(c.tokenFields(ctx, token, err),
			zap.String("outcome", string(OutcomeFailed)),
			zap.String("correlation_id", correlationID))...)
	return &Result{
		AccessToken: token,
		Outcome:     OutcomeFailed,
		Denial: &Denial{
			Status: http.StatusInternalServerError,
			Body:   utils.InternalServerErrorBody("reference " + correlationID),
		},
		Err: err,
	}
}

// canceled reports a check abandoned by the caller, usually a client
// disconnect. It is not an internal failure.
func (c *Checker) canceled(ctx context.Context, token string, err error) *Result {
	c.logger.Debug("authorization check canceled",
		append(c.tokenFields(ctx, token, err),
			zap.String("outcome", string(OutcomeCanceled)))...)
	return &Result{
		AccessToken: token,
		Outcome:     OutcomeCanceled,
		Denial: &Denial{
			Status: http.StatusServiceUnavailable,
			Body:   utils.RequestCanceledBody(),
		},
		Err: err,
	}
}

func (c *Checker) tokenFields(ctx context.Context, token string, err error) []zap.Field {
	fields := []zap.Field{
		zap.String("request_id", shared.RequestIDFrom(ctx)),
		zap.String("issuer", c.issuer),
		observability.TokenField(token),
		zap.Error(err),
	}
	if kind, ok := shared.KindOf(err); ok {
		fields = append(fields, zap.String("error_kind", string(kind)))
	}
	if kid := unverifiedKid(token); kid != "" {
		fields = append(fields, zap.String("kid", kid))
	}
	return fields
}

// unverifiedKid reads the kid header for logging. Nothing else from an
// unverified token is trusted or logged.
func unverifiedKid(token string) string {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	kid, _ := parsed.Header["kid"].(string)
	if len(kid) > 64 {
		kid = kid[:64]
	}
	return kid
}
