// Package authctx holds the request-scoped identity produced from a verified
// session token.
package authctx

import (
	"context"
	"encoding/json"
)

// AuthContext is the identity and grants of the caller. It is built only by
// FromClaims and cannot be modified afterwards: getters return copies.
type AuthContext struct {
	userID      string
	orgID       *string
	roles       []string
	permissions []string
	email       *string
	name        *string
}

// New builds an AuthContext from already validated values. Slices are copied.
func New(userID string, orgID *string, roles, permissions []string, email, name *string) *AuthContext {
	return &AuthContext{
		userID:      userID,
		orgID:       copyString(orgID),
		roles:       copyStrings(roles),
		permissions: copyStrings(permissions),
		email:       copyString(email),
		name:        copyString(name),
	}
}

// UserID returns the token subject.
func (c *AuthContext) UserID() string {
	return c.userID
}

// OrgID returns the organization id and whether the token carried one.
func (c *AuthContext) OrgID() (string, bool) {
	if c.orgID == nil {
		return "", false
	}
	return *c.orgID, true
}

// Roles returns the roles in token order.
func (c *AuthContext) Roles() []string {
	return copyStrings(c.roles)
}

// Permissions returns the granted permissions in token order.
func (c *AuthContext) Permissions() []string {
	return copyStrings(c.permissions)
}

// Email returns the email and whether the token carried one.
func (c *AuthContext) Email() (string, bool) {
	if c.email == nil {
		return "", false
	}
	return *c.email, true
}

// Name returns the display name and whether the token carried one.
func (c *AuthContext) Name() (string, bool) {
	if c.name == nil {
		return "", false
	}
	return *c.name, true
}

// HasPermission reports whether p is granted, by exact match.
func (c *AuthContext) HasPermission(p string) bool {
	for _, granted := range c.permissions {
		if granted == p {
			return true
		}
	}
	return false
}

type authContextJSON struct {
	UserID      string   `json:"userId"`
	OrgID       *string  `json:"orgId"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Email       *string  `json:"email,omitempty"`
	Name        *string  `json:"name,omitempty"`
}

// MarshalJSON renders the context for session responses.
func (c *AuthContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(authContextJSON{
		UserID:      c.userID,
		OrgID:       c.orgID,
		Roles:       c.roles,
		Permissions: c.permissions,
		Email:       c.email,
		Name:        c.name,
	})
}

type contextKey struct{}

// WithContext returns a copy of ctx carrying ac.
func WithContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

// FromContext returns the AuthContext stored by WithContext, or nil.
func FromContext(ctx context.Context) *AuthContext {
	if ac, ok := ctx.Value(contextKey{}).(*AuthContext); ok {
		return ac
	}
	return nil
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
