package repositories

import (
	"context"

	"github.com/redis/go-redis/v9"
	"token-gate.backend/internal/domain/entities"
)

// TokenIndex is the per-user listing of user-minted token handles. It is a
// denormalized view; the session store stays authoritative.
type TokenIndex interface {
	// AddTx queues an index entry on an open pipeline, together with the
	// handle pointer key that mirrors the session TTL.
	AddTx(ctx context.Context, pipe redis.Pipeliner, uid string, e *entities.TokenEntry) error

	// GetAll returns all entries for the user, oldest first.
	GetAll(ctx context.Context, uid string) ([]*entities.TokenEntry, error)

	// Revoke removes the index entry and the session record in one
	// transaction. It reports whether the entry existed.
	Revoke(ctx context.Context, uid, handleKey string) (bool, error)

	// Expire sweeps entries whose session has expired or disappeared.
	// Idempotent and safe to run concurrently.
	Expire(ctx context.Context, uid string) error
}
