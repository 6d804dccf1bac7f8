package repositories

import (
	"context"
	"time"

	"token-gate.backend/internal/domain/entities"
)

// StateStore keeps the short-lived login state records keyed by the OAuth
// state parameter.
type StateStore interface {
	Put(ctx context.Context, state string, s *entities.LoginState, ttl time.Duration) error

	// Take returns and deletes the record; the state parameter is single
	// use. Returns nil (no error) when missing or expired.
	Take(ctx context.Context, state string) (*entities.LoginState, error)
}
