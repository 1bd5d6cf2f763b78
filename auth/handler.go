// Package auth implements the login and logout endpoints that own the session
// cookie. Tokens obtained at login are verified before the cookie is set.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/upb/portal-gateway/authcheck"
	"github.com/upb/portal-gateway/authctx"
	"github.com/upb/portal-gateway/config"
	"github.com/upb/portal-gateway/middleware"
	"github.com/upb/portal-gateway/utils"
	"go.uber.org/zap"
)

// maxLoginBodySize caps the login request body.
const maxLoginBodySize = 16 << 10

// CredentialExchanger exchanges user credentials for a session token.
type CredentialExchanger interface {
	Exchange(ctx context.Context, email, password string) (string, error)
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=1,max=1024"`
}

// LoginResponse is returned after a successful login. The token itself is
// only ever sent in the httpOnly cookie.
type LoginResponse struct {
	Authorized  bool                 `json:"authorized"`
	AuthContext *authctx.AuthContext `json:"authContext"`
}

// Handler handles login and logout.
type Handler struct {
	session   config.SessionConfig
	exchanger CredentialExchanger
	checker   middleware.PermissionChecker
	logger    *zap.Logger
}

// NewHandler creates a new auth handler.
func NewHandler(session config.SessionConfig, exchanger CredentialExchanger, checker middleware.PermissionChecker, logger *zap.Logger) *Handler {
	return &Handler{
		session:   session,
		exchanger: exchanger,
		checker:   checker,
		logger:    logger,
	}
}

// HandleLogin exchanges credentials for a token, verifies it, and sets the session cookie
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	if h.exchanger == nil {
		h.logger.Error("login endpoint not configured",
			zap.String("request_id", requestID))
		_ = utils.WriteServiceUnavailable(w, "Login not configured")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBodySize)).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Validation failed", utils.GetValidationFields(err))
		return
	}

	token, err := h.exchanger.Exchange(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.logger.Info("login rejected by identity service",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w)
			return
		}
		h.logger.Error("credential exchange failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadGateway(w, "Identity service unavailable")
		return
	}

	result := h.checker.CheckRequiredPermissions(ctx, authcheck.TokenStoreFunc(func() (string, bool) {
		return token, true
	}))
	if !result.Authorized {
		_ = result.Denial.Write(w)
		return
	}

	http.SetCookie(w, h.sessionCookie(token, int(h.session.MaxAge.Seconds())))

	h.logger.Info("login succeeded",
		zap.String("request_id", requestID),
		zap.String("user_id", result.AuthContext.UserID()))
	_ = utils.WriteOK(w, LoginResponse{
		Authorized:  true,
		AuthContext: result.AuthContext,
	})
}

// HandleLogout clears the session cookie
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.sessionCookie("", -1))
	utils.WriteNoContent(w)
}

func (h *Handler) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.session.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
