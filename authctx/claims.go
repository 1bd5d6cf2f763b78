package authctx

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/portal-gateway/internal/shared"
)

// Claim names read from a verified token.
const (
	ClaimSubject     = "sub"
	ClaimOrgID       = "org_id"
	ClaimRoles       = "roles"
	ClaimPermissions = "permissions"
	ClaimEmail       = "email"
	ClaimName        = "name"
)

// FromClaims projects verified claims into an AuthContext. Only a missing or
// empty sub fails. Optional scalars that are absent or not strings are left
// unset; array members that are not strings are skipped.
func FromClaims(claims jwt.MapClaims) (*AuthContext, error) {
	sub, _ := claims[ClaimSubject].(string)
	if sub == "" {
		return nil, shared.ErrMissingSubject
	}

	return &AuthContext{
		userID:      sub,
		orgID:       optionalString(claims, ClaimOrgID),
		roles:       stringSlice(claims, ClaimRoles),
		permissions: stringSlice(claims, ClaimPermissions),
		email:       optionalString(claims, ClaimEmail),
		name:        optionalString(claims, ClaimName),
	}, nil
}

func optionalString(claims jwt.MapClaims, key string) *string {
	s, ok := claims[key].(string)
	if !ok {
		return nil
	}
	return &s
}

// stringSlice accepts both decoded JSON arrays and []string, which tests and
// in-process callers construct directly.
func stringSlice(claims jwt.MapClaims, key string) []string {
	switch v := claims[key].(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return copyStrings(v)
	default:
		return []string{}
	}
}
