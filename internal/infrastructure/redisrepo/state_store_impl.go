package redisrepo

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"token-gate.backend/internal/domain/entities"
	"token-gate.backend/internal/domain/repositories"
	redispkg "token-gate.backend/pkg/redis"
)

// StateStoreImpl keeps login state records at state:<state>.
type StateStoreImpl struct{}

// NewStateStore creates a new login state store
func NewStateStore() repositories.StateStore {
	return &StateStoreImpl{}
}

func stateKey(state string) string {
	return "state:" + state
}

// Put stores a login state record with the given TTL.
func (s *StateStoreImpl) Put(ctx context.Context, state string, st *entities.LoginState, ttl time.Duration) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return redispkg.Set(ctx, stateKey(state), string(data), ttl)
}

// Take consumes a login state record. The state parameter is single use.
func (s *StateStoreImpl) Take(ctx context.Context, state string) (*entities.LoginState, error) {
	data, err := redispkg.GetDel(ctx, stateKey(state))
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st entities.LoginState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, nil
	}
	return &st, nil
}
