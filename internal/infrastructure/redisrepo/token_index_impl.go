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

// TokenIndexImpl keeps the per-user token listing in a sorted set at
// tokens:<uid>, scored by creation time, plus a handle:<uid>:<key> pointer
// whose TTL mirrors the session record.
type TokenIndexImpl struct {
	now func() time.Time
}

// NewTokenIndex creates a new token index
func NewTokenIndex() repositories.TokenIndex {
	return &TokenIndexImpl{now: time.Now}
}

func indexKey(uid string) string {
	return "tokens:" + uid
}

func pointerKey(uid, handleKey string) string {
	return "handle:" + uid + ":" + handleKey
}

// AddTx queues the index entry and its pointer on an open pipeline.
func (t *TokenIndexImpl) AddTx(ctx context.Context, pipe goredis.Pipeliner, uid string, e *entities.TokenEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe.ZAdd(ctx, indexKey(uid), goredis.Z{Score: float64(e.Created), Member: string(data)})
	if ttl := time.Unix(e.Expires, 0).Sub(t.now()); ttl > 0 {
		pipe.Set(ctx, pointerKey(uid, e.Key), e.Key, ttl)
	}
	return nil
}

// rawEntry pairs a parsed entry with the member string it came from, so
// removal hits the exact stored member.
type rawEntry struct {
	raw   string
	entry *entities.TokenEntry
}

func (t *TokenIndexImpl) getAllRaw(ctx context.Context, uid string) ([]rawEntry, error) {
	members, err := redispkg.GetClient().ZRange(ctx, indexKey(uid), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]rawEntry, 0, len(members))
	for _, member := range members {
		var e entities.TokenEntry
		if err := json.Unmarshal([]byte(member), &e); err != nil {
			// Corrupt members are skipped; the sweep removes them.
			continue
		}
		entries = append(entries, rawEntry{raw: member, entry: &e})
	}
	return entries, nil
}

// GetAll returns all entries for the user, oldest first.
func (t *TokenIndexImpl) GetAll(ctx context.Context, uid string) ([]*entities.TokenEntry, error) {
	raw, err := t.getAllRaw(ctx, uid)
	if err != nil {
		return nil, err
	}
	entries := make([]*entities.TokenEntry, 0, len(raw))
	for _, r := range raw {
		entries = append(entries, r.entry)
	}
	return entries, nil
}

// Revoke removes the index entry together with the session record, in one
// transaction. The session TTL bounds the damage if a retry is ever lost.
func (t *TokenIndexImpl) Revoke(ctx context.Context, uid, handleKey string) (bool, error) {
	raw, err := t.getAllRaw(ctx, uid)
	if err != nil {
		return false, err
	}
	var target *rawEntry
	for i := range raw {
		if raw[i].entry.Key == handleKey {
			target = &raw[i]
			break
		}
	}
	if target == nil {
		return false, nil
	}

	err = redispkg.WithTx(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRem(ctx, indexKey(uid), target.raw)
		pipe.Del(ctx, sessionKey(handleKey))
		pipe.Del(ctx, pointerKey(uid, handleKey))
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Expire sweeps entries whose session has expired or disappeared. Races with
// a concurrent sweep are benign: removing an already-removed member is a
// no-op.
func (t *TokenIndexImpl) Expire(ctx context.Context, uid string) error {
	raw, err := t.getAllRaw(ctx, uid)
	if err != nil {
		return err
	}

	now := t.now().Unix()
	var stale []rawEntry
	for _, r := range raw {
		if r.entry.Expires <= now {
			stale = append(stale, r)
			continue
		}
		exists, err := redispkg.Exists(ctx, sessionKey(r.entry.Key))
		if err != nil {
			return err
		}
		if !exists {
			stale = append(stale, r)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	return redispkg.WithTx(ctx, func(pipe goredis.Pipeliner) error {
		for _, r := range stale {
			pipe.ZRem(ctx, indexKey(uid), r.raw)
			pipe.Del(ctx, pointerKey(uid, r.entry.Key))
		}
		return nil
	})
}
