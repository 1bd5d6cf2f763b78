// Package permission decides whether an authenticated caller holds the
// permissions a route requires.
package permission

import (
	"github.com/upb/portal-gateway/authctx"
)

// Decision is the outcome of a permission check.
type Decision struct {
	Authorized bool
	Required   []string
	Has        []string
	Missing    []string
}

// Check authorizes ac iff every required permission is granted, by exact
// case-sensitive match. Required echoes the caller's list as given;
// Missing lists each absent permission once. An empty required set is
// always authorized.
func Check(required []string, ac *authctx.AuthContext) Decision {
	var has []string
	if ac != nil {
		has = ac.Permissions()
	} else {
		has = []string{}
	}

	granted := make(map[string]struct{}, len(has))
	for _, p := range has {
		granted[p] = struct{}{}
	}

	missing := make([]string, 0)
	for _, p := range dedupe(required) {
		if _, ok := granted[p]; !ok {
			missing = append(missing, p)
		}
	}

	return Decision{
		Authorized: len(missing) == 0,
		Required:   append(make([]string, 0, len(required)), required...),
		Has:        has,
		Missing:    missing,
	}
}

// dedupe keeps first occurrences in order.
func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
