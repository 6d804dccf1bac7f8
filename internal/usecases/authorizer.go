package usecases

import (
	"sort"
	"strings"

	"token-gate.backend/internal/config"
	"token-gate.backend/internal/domain/entities"
	apperrors "token-gate.backend/internal/domain/errors"
)

// Satisfy selects how multiple required scopes combine.
type Satisfy string

const (
	// SatisfyAll requires every listed scope.
	SatisfyAll Satisfy = "all"
	// SatisfyAny requires at least one listed scope.
	SatisfyAny Satisfy = "any"
)

// ParseSatisfy maps the satisfy query parameter onto a mode. Empty means all.
func ParseSatisfy(s string) (Satisfy, error) {
	switch strings.ToLower(s) {
	case "", "all":
		return SatisfyAll, nil
	case "any":
		return SatisfyAny, nil
	default:
		return "", apperrors.BadRequest("satisfy must be all or any")
	}
}

// Authorizer decides scope checks against a verified claim set. Scopes come
// from the scope claim itself plus any scopes granted through group
// membership.
type Authorizer struct {
	groupMapping map[string][]string
}

// NewAuthorizer creates a new authorizer
func NewAuthorizer(cfg config.ScopesConfig) *Authorizer {
	return &Authorizer{groupMapping: cfg.GroupMapping}
}

// TokenScopes collects the effective scope set of a token: the scope claim,
// split on whitespace, unioned with scopes derived from isMemberOf group
// names through the group mapping.
func (a *Authorizer) TokenScopes(claims entities.Claims) map[string]bool {
	scopes := make(map[string]bool)
	for _, s := range strings.Fields(claims.Scope()) {
		scopes[s] = true
	}

	groups := make(map[string]bool)
	for _, g := range claims.Groups() {
		groups[g.Name] = true
	}
	for scope, grantedBy := range a.groupMapping {
		for _, group := range grantedBy {
			if groups[group] {
				scopes[scope] = true
				break
			}
		}
	}
	return scopes
}

// ScopeList renders a scope set sorted, for headers and claims.
func ScopeList(scopes map[string]bool) []string {
	list := make([]string, 0, len(scopes))
	for s := range scopes {
		list = append(list, s)
	}
	sort.Strings(list)
	return list
}

// Satisfies reports whether the claim set carries the required scopes under
// the given mode. An empty requirement is always satisfied.
func (a *Authorizer) Satisfies(claims entities.Claims, required []string, mode Satisfy) bool {
	if len(required) == 0 {
		return true
	}
	held := a.TokenScopes(claims)
	if mode == SatisfyAny {
		for _, s := range required {
			if held[s] {
				return true
			}
		}
		return false
	}
	for _, s := range required {
		if !held[s] {
			return false
		}
	}
	return true
}
