package handlers

import (
	"net/http"

	"github.com/upb/portal-gateway/authctx"
	"github.com/upb/portal-gateway/middleware"
	"github.com/upb/portal-gateway/utils"
)

// SessionResponse is the response body for GET /api/v1/session
type SessionResponse struct {
	Authorized  bool                 `json:"authorized"`
	AuthContext *authctx.AuthContext `json:"authContext"`
}

// SessionHandler returns the caller's AuthContext. It must run behind
// AuthMiddleware.RequireAuth.
func SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac := middleware.GetAuthContextFromContext(r.Context())
		if ac == nil {
			_ = utils.WriteUnauthorized(w)
			return
		}
		_ = utils.WriteOK(w, SessionResponse{
			Authorized:  true,
			AuthContext: ac,
		})
	}
}
