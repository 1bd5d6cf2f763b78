package shared

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory groups error kinds by how they surface to clients.
type ErrorCategory string

const (
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryAuthorization  ErrorCategory = "authorization"
	CategoryKeyResolution  ErrorCategory = "key_resolution"
	CategoryClaims         ErrorCategory = "claims"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorKind identifies the specific reason a check failed. Kinds are logged,
// never returned to clients.
type ErrorKind string

const (
	KindMalformedToken          ErrorKind = "malformed_token"
	KindUnsupportedAlgorithm    ErrorKind = "unsupported_algorithm"
	KindSignatureInvalid        ErrorKind = "signature_invalid"
	KindExpired                 ErrorKind = "expired"
	KindNotYetValid             ErrorKind = "not_yet_valid"
	KindIssuerMismatch          ErrorKind = "issuer_mismatch"
	KindAudienceMismatch        ErrorKind = "audience_mismatch"
	KindKeyNotFound             ErrorKind = "key_not_found"
	KindKeyResolutionFailed     ErrorKind = "key_resolution_failed"
	KindKeyFetchThrottled       ErrorKind = "key_fetch_throttled"
	KindMissingSubject          ErrorKind = "missing_subject"
	KindInsufficientPermissions ErrorKind = "insufficient_permissions"
)

var kindCategories = map[ErrorKind]ErrorCategory{
	KindMalformedToken:          CategoryAuthentication,
	KindUnsupportedAlgorithm:    CategoryAuthentication,
	KindSignatureInvalid:        CategoryAuthentication,
	KindExpired:                 CategoryAuthentication,
	KindNotYetValid:             CategoryAuthentication,
	KindIssuerMismatch:          CategoryAuthentication,
	KindAudienceMismatch:        CategoryAuthentication,
	KindKeyNotFound:             CategoryAuthentication,
	KindKeyResolutionFailed:     CategoryKeyResolution,
	KindKeyFetchThrottled:       CategoryKeyResolution,
	KindMissingSubject:          CategoryClaims,
	KindInsufficientPermissions: CategoryAuthorization,
}

// AuthError is a classified authentication or authorization failure.
type AuthError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches any AuthError of the same kind.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Category returns the category the kind belongs to.
func (e *AuthError) Category() ErrorCategory {
	if c, ok := kindCategories[e.Kind]; ok {
		return c
	}
	return CategoryInternal
}

// Wrap returns a copy of e carrying cause.
func (e *AuthError) Wrap(cause error) *AuthError {
	return &AuthError{Kind: e.Kind, Message: e.Message, Err: cause}
}

// Wrapf returns a copy of e carrying a formatted cause.
func (e *AuthError) Wrapf(format string, args ...interface{}) *AuthError {
	return e.Wrap(fmt.Errorf(format, args...))
}

// NewAuthError creates a new AuthError
func NewAuthError(kind ErrorKind, message string, err error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Err: err}
}

var (
	// Token verification
	ErrMalformedToken       = NewAuthError(KindMalformedToken, "malformed token", nil)
	ErrUnsupportedAlgorithm = NewAuthError(KindUnsupportedAlgorithm, "unsupported signing algorithm", nil)
	ErrSignatureInvalid     = NewAuthError(KindSignatureInvalid, "signature verification failed", nil)
	ErrExpired              = NewAuthError(KindExpired, "token expired", nil)
	ErrNotYetValid          = NewAuthError(KindNotYetValid, "token not yet valid", nil)
	ErrIssuerMismatch       = NewAuthError(KindIssuerMismatch, "issuer mismatch", nil)
	ErrAudienceMismatch     = NewAuthError(KindAudienceMismatch, "audience mismatch", nil)

	// Key resolution
	ErrKeyNotFound         = NewAuthError(KindKeyNotFound, "signing key not found", nil)
	ErrKeyResolutionFailed = NewAuthError(KindKeyResolutionFailed, "signing key resolution failed", nil)
	ErrKeyFetchThrottled   = NewAuthError(KindKeyFetchThrottled, "signing key fetch throttled", nil)

	// Claims and permissions
	ErrMissingSubject          = NewAuthError(KindMissingSubject, "token has no subject", nil)
	ErrInsufficientPermissions = NewAuthError(KindInsufficientPermissions, "insufficient permissions", nil)
)

// KindOf returns the kind of the first AuthError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind, true
	}
	return "", false
}

// CategoryOf classifies err. Errors outside the taxonomy are internal.
func CategoryOf(err error) ErrorCategory {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Category()
	}
	return CategoryInternal
}

// HTTPStatus maps a category to the response status. Claims failures are
// reported as authentication failures.
func HTTPStatus(category ErrorCategory) int {
	switch category {
	case CategoryAuthentication, CategoryClaims:
		return http.StatusUnauthorized
	case CategoryAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
