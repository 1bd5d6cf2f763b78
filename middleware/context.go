package middleware

import (
	"context"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/upb/portal-gateway/authctx"
	"github.com/upb/portal-gateway/internal/shared"
)

// Context key type to avoid collisions
type contextKey string

// AccessTokenKey is the context key for the verified raw session token
const AccessTokenKey contextKey = "access_token"

// RequestIDHeader carries the request ID in and out of the gateway
const RequestIDHeader = "X-Request-ID"

// RequestID stores a request ID in the context and echoes it in the response.
// It reuses chi's request ID or an inbound X-Request-ID, else generates one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := chimw.GetReqID(r.Context())
		if requestID == "" {
			requestID = r.Header.Get(RequestIDHeader)
		}
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
	})
}

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	return shared.RequestIDFrom(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return shared.WithRequestID(ctx, requestID)
}

// GetAuthContextFromContext retrieves the caller's AuthContext from context
func GetAuthContextFromContext(ctx context.Context) *authctx.AuthContext {
	return authctx.FromContext(ctx)
}

// GetAccessTokenFromContext retrieves the verified session token from context
func GetAccessTokenFromContext(ctx context.Context) string {
	if token, ok := ctx.Value(AccessTokenKey).(string); ok {
		return token
	}
	return ""
}

// WithAccessToken adds the verified session token to the context
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, AccessTokenKey, token)
}
