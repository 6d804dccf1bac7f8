package repositories

import (
	"context"

	"github.com/redis/go-redis/v9"
	"token-gate.backend/internal/domain/entities"
	"token-gate.backend/pkg/ticket"
)

// SessionStore persists encrypted session records keyed by handle. The
// session record is the sole authority for whether a handle is valid.
//
// Writes that touch other keys in the same logical operation must go through
// the Tx variants inside one pipelined transaction.
type SessionStore interface {
	// Store writes the record on its own transaction. A record that is
	// already expired is silently skipped.
	Store(ctx context.Context, h *ticket.Handle, s *entities.Session) error

	// StoreTx queues the record write on an open pipeline.
	StoreTx(ctx context.Context, pipe redis.Pipeliner, h *ticket.Handle, s *entities.Session) error

	// Get returns the decrypted record, or nil (no error) when the key is
	// missing, the secret does not match, or the payload is corrupt.
	Get(ctx context.Context, h *ticket.Handle) (*entities.Session, error)

	// Exists reports whether a record is present for the handle key, without
	// needing the secret.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the record; it reports whether one was present.
	Delete(ctx context.Context, key string) (bool, error)

	// DeleteTx queues the removal on an open pipeline.
	DeleteTx(ctx context.Context, pipe redis.Pipeliner, key string)
}
