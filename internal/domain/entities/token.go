package entities

import (
	"time"
)

// Group is one entry of the isMemberOf claim.
type Group struct {
	Name string `json:"name"`
	ID   int64  `json:"id,omitempty"`
}

// Claims is a JWT claim set. Claim keys for username and numeric UID are
// deployment-configurable, so the set stays an open map with typed accessors.
type Claims map[string]interface{}

// VerifiedToken is a token whose signature and standard claims have been
// checked.
type VerifiedToken struct {
	Encoded string
	Header  map[string]interface{}
	Claims  Claims
}

// String returns the named claim as a string, or "" when absent or of
// another type.
func (c Claims) String(key string) string {
	v, ok := c[key].(string)
	if !ok {
		return ""
	}
	return v
}

// Issuer returns the iss claim.
func (c Claims) Issuer() string { return c.String("iss") }

// Audience returns the aud claim.
func (c Claims) Audience() string { return c.String("aud") }

// Subject returns the sub claim.
func (c Claims) Subject() string { return c.String("sub") }

// JTI returns the jti claim.
func (c Claims) JTI() string { return c.String("jti") }

// Scope returns the raw whitespace-separated scope claim.
func (c Claims) Scope() string { return c.String("scope") }

// Expiry returns the exp claim as a time, or the zero time when absent.
func (c Claims) Expiry() time.Time {
	return c.numericDate("exp")
}

// IssuedAt returns the iat claim as a time, or the zero time when absent.
func (c Claims) IssuedAt() time.Time {
	return c.numericDate("iat")
}

func (c Claims) numericDate(key string) time.Time {
	switch v := c[key].(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case int64:
		return time.Unix(v, 0)
	case int:
		return time.Unix(int64(v), 0)
	}
	return time.Time{}
}

// Groups returns the isMemberOf claim. Entries survive a JSON round-trip as
// generic maps, so both representations are accepted.
func (c Claims) Groups() []Group {
	switch v := c["isMemberOf"].(type) {
	case []Group:
		return v
	case []interface{}:
		groups := make([]Group, 0, len(v))
		for _, entry := range v {
			m, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			g := Group{}
			if name, ok := m["name"].(string); ok {
				g.Name = name
			}
			if id, ok := m["id"].(float64); ok {
				g.ID = int64(id)
			}
			if g.Name != "" {
				groups = append(groups, g)
			}
		}
		return groups
	}
	return nil
}

// Clone returns a shallow copy so reissue flows can rewrite claims without
// mutating the verified original.
func (c Claims) Clone() Claims {
	clone := make(Claims, len(c))
	for k, v := range c {
		clone[k] = v
	}
	return clone
}
