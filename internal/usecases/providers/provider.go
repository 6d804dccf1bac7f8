// Package providers implements the upstream identity providers a login can
// be delegated to.
package providers

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"strings"
	"time"

	"token-gate.backend/internal/domain/entities"
)

// Provider is an upstream identity provider. Exchange turns the callback
// authorization code into a claim set in our vocabulary.
type Provider interface {
	Name() string
	AuthorizationURL(state string) string
	Exchange(ctx context.Context, code string) (entities.Claims, error)
}

const (
	maxGroupNameLen = 64
	upstreamTimeout = 10 * time.Second
)

// normalizeGroupName bounds a derived group name at 64 characters. Longer
// names keep their first 55 characters plus a hash suffix so distinct long
// names stay distinct.
func normalizeGroupName(name string) string {
	if len(name) <= maxGroupNameLen {
		return name
	}
	sum := sha256.Sum256([]byte(name))
	suffix := strings.ToLower(base32.StdEncoding.EncodeToString(sum[:]))[:6]
	return name[:55] + "-" + suffix
}
