package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/upb/portal-gateway/authcheck"
	"github.com/upb/portal-gateway/authctx"
	"go.uber.org/zap"
)

// SessionCookieName is the cookie holding the session token
const SessionCookieName = "session"

// PermissionChecker runs the authorization check for a request
type PermissionChecker interface {
	CheckRequiredPermissions(ctx context.Context, store authcheck.TokenStore, required ...string) *authcheck.Result
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	checker PermissionChecker
	logger  *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(checker PermissionChecker, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{
		checker: checker,
		logger:  logger,
	}
}

// RequireAuth is a middleware that requires a valid session token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return m.RequirePermissions()(next)
}

// RequirePermissions is a middleware that requires a valid session token
// granting every permission in perms. On success the AuthContext and the raw
// token are added to the request context.
func (m *AuthMiddleware) RequirePermissions(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			result := m.checker.CheckRequiredPermissions(ctx, RequestTokenStore(r), perms...)
			if !result.Authorized {
				if err := result.Denial.Write(w); err != nil {
					m.logger.Error("failed to write denial",
						zap.String("request_id", GetRequestIDFromContext(ctx)),
						zap.Error(err))
				}
				return
			}

			ctx = authctx.WithContext(ctx, result.AuthContext)
			ctx = WithAccessToken(ctx, result.AccessToken)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestTokenStore reads the session token from the session cookie, falling
// back to an Authorization: Bearer header.
func RequestTokenStore(r *http.Request) authcheck.TokenStore {
	return authcheck.TokenStoreFunc(func() (string, bool) {
		token := extractToken(r)
		return token, token != ""
	})
}

func extractToken(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return extractBearerToken(r)
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
