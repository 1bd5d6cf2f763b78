// Package token verifies RS256 session tokens against the identity provider's
// published keys and the configured issuer and audience.
package token

import (
	"context"
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/portal-gateway/internal/shared"
)

// KeyResolver resolves the verification key for a token's kid. An empty kid
// means the token header carried none.
type KeyResolver interface {
	ResolveKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// Config holds configuration for Verifier
type Config struct {
	Issuer   string
	Audience string

	// Leeway tolerates clock skew on exp and nbf. Zero is strict.
	Leeway time.Duration
}

// Verifier checks signature and registered claims of session tokens.
type Verifier struct {
	keys     KeyResolver
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewVerifier creates a Verifier resolving keys through keys.
func NewVerifier(cfg Config, keys KeyResolver) *Verifier {
	return &Verifier{
		keys:     keys,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		leeway:   cfg.Leeway,
		now:      time.Now,
	}
}

// Verify parses raw and returns its claims when the token is signed with
// RS256 by a published key, unexpired, already valid, and issued by and for
// the configured parties. Failures are *shared.AuthError values.
func (v *Verifier) Verify(ctx context.Context, raw string) (jwt.MapClaims, error) {
	if raw == "" {
		return nil, shared.ErrMalformedToken.Wrapf("empty token")
	}

	parser := jwt.NewParser(
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)

	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		// The algorithm is pinned before any key lookup so a forged header
		// never triggers a JWKS fetch.
		if t.Method != jwt.SigningMethodRS256 {
			return nil, shared.ErrUnsupportedAlgorithm.Wrapf("alg %v", t.Header["alg"])
		}

		kid, _ := t.Header["kid"].(string)
		key, err := v.keys.ResolveKey(ctx, kid)
		if err != nil {
			var authErr *shared.AuthError
			if !errors.As(err, &authErr) {
				return nil, shared.ErrKeyResolutionFailed.Wrap(err)
			}
			return nil, err
		}
		return key, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return claims, nil
}

// classify maps a jwt parse error onto the auth error taxonomy. Errors raised
// by the key function already carry their kind.
func classify(err error) error {
	var authErr *shared.AuthError
	if errors.As(err, &authErr) {
		return authErr
	}

	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return shared.ErrMalformedToken.Wrap(err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return shared.ErrSignatureInvalid.Wrap(err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return shared.ErrUnsupportedAlgorithm.Wrap(err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return shared.ErrMalformedToken.Wrap(err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return shared.ErrExpired.Wrap(err)
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return shared.ErrNotYetValid.Wrap(err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return shared.ErrIssuerMismatch.Wrap(err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return shared.ErrAudienceMismatch.Wrap(err)
	default:
		return shared.ErrMalformedToken.Wrap(err)
	}
}

// Issuer returns the configured issuer, for logging.
func (v *Verifier) Issuer() string {
	return v.issuer
}
