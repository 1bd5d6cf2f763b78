package shared

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthError_Error(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		assert.Equal(t, "expired: token expired", ErrExpired.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		err := ErrKeyNotFound.Wrapf("kid %q not present", "kid-9")
		assert.Equal(t, `key_not_found: signing key not found (kid "kid-9" not present)`, err.Error())
	})
}

func TestAuthError_Is(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	wrapped := fmt.Errorf("verify: %w", ErrKeyResolutionFailed.Wrap(cause))

	assert.ErrorIs(t, wrapped, ErrKeyResolutionFailed)
	assert.ErrorIs(t, wrapped, cause)
	assert.NotErrorIs(t, wrapped, ErrKeyNotFound)
	assert.NotErrorIs(t, ErrExpired, errors.New("expired"))
}

func TestAuthError_WrapDoesNotMutateSentinel(t *testing.T) {
	_ = ErrSignatureInvalid.Wrap(errors.New("boom"))

	assert.Nil(t, ErrSignatureInvalid.Err)
}

func TestKindOf(t *testing.T) {
	kind, ok := KindOf(fmt.Errorf("outer: %w", ErrAudienceMismatch))
	assert.True(t, ok)
	assert.Equal(t, KindAudienceMismatch, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestCategoryAndStatus(t *testing.T) {
	tests := []struct {
		err          error
		wantCategory ErrorCategory
		wantStatus   int
	}{
		{ErrMalformedToken, CategoryAuthentication, http.StatusUnauthorized},
		{ErrUnsupportedAlgorithm, CategoryAuthentication, http.StatusUnauthorized},
		{ErrSignatureInvalid, CategoryAuthentication, http.StatusUnauthorized},
		{ErrExpired, CategoryAuthentication, http.StatusUnauthorized},
		{ErrNotYetValid, CategoryAuthentication, http.StatusUnauthorized},
		{ErrIssuerMismatch, CategoryAuthentication, http.StatusUnauthorized},
		{ErrAudienceMismatch, CategoryAuthentication, http.StatusUnauthorized},
		{ErrKeyNotFound, CategoryAuthentication, http.StatusUnauthorized},
		{ErrKeyResolutionFailed, CategoryKeyResolution, http.StatusInternalServerError},
		{ErrKeyFetchThrottled, CategoryKeyResolution, http.StatusInternalServerError},
		{ErrMissingSubject, CategoryClaims, http.StatusUnauthorized},
		{ErrInsufficientPermissions, CategoryAuthorization, http.StatusForbidden},
		{errors.New("unexpected"), CategoryInternal, http.StatusInternalServerError},
		{NewAuthError("unknown_kind", "x", nil), CategoryInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			category := CategoryOf(tt.err)
			assert.Equal(t, tt.wantCategory, category)
			assert.Equal(t, tt.wantStatus, HTTPStatus(category))
		})
	}
}
