package redisrepo

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"token-gate.backend/internal/domain/entities"
	"token-gate.backend/internal/domain/repositories"
	"token-gate.backend/pkg/crypto"
	redispkg "token-gate.backend/pkg/redis"
	"token-gate.backend/pkg/ticket"
)

// SessionStoreImpl stores AES-GCM encrypted JSON session records under
// session:<key>, keyed by the handle secret. A caller without the matching
// secret cannot distinguish a wrong secret from a missing record.
type SessionStoreImpl struct {
	now func() time.Time
}

// NewSessionStore creates a new session store
func NewSessionStore() repositories.SessionStore {
	return &SessionStoreImpl{now: time.Now}
}

func sessionKey(key string) string {
	return "session:" + key
}

func (s *SessionStoreImpl) seal(h *ticket.Handle, sess *entities.Session) (string, time.Duration, error) {
	ttl := sess.TTL(s.now())
	if ttl == 0 {
		return "", 0, nil
	}
	secret, err := h.SecretBytes()
	if err != nil {
		return "", 0, err
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return "", 0, err
	}
	encrypted, err := crypto.EncryptGCM(secret, payload)
	if err != nil {
		return "", 0, err
	}
	return encrypted, ttl, nil
}

// Store writes the encrypted record. Storing an already-expired session is a
// no-op: the record would be born dead anyway.
func (s *SessionStoreImpl) Store(ctx context.Context, h *ticket.Handle, sess *entities.Session) error {
	encrypted, ttl, err := s.seal(h, sess)
	if err != nil || ttl == 0 {
		return err
	}
	return redispkg.Set(ctx, sessionKey(h.Key), encrypted, ttl)
}

// StoreTx queues the record write on an open pipeline.
func (s *SessionStoreImpl) StoreTx(ctx context.Context, pipe goredis.Pipeliner, h *ticket.Handle, sess *entities.Session) error {
	encrypted, ttl, err := s.seal(h, sess)
	if err != nil || ttl == 0 {
		return err
	}
	pipe.Set(ctx, sessionKey(h.Key), encrypted, ttl)
	return nil
}

// Get retrieves and decrypts a session record. Missing key, decryption
// failure, and corrupt JSON all come back as nil without error.
func (s *SessionStoreImpl) Get(ctx context.Context, h *ticket.Handle) (*entities.Session, error) {
	encrypted, err := redispkg.Get(ctx, sessionKey(h.Key))
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	secret, err := h.SecretBytes()
	if err != nil {
		return nil, nil
	}
	payload, err := crypto.DecryptGCM(secret, encrypted)
	if err != nil {
		return nil, nil
	}

	var sess entities.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, nil
	}
	return &sess, nil
}

// Exists reports whether a record is present without decrypting it.
func (s *SessionStoreImpl) Exists(ctx context.Context, key string) (bool, error) {
	return redispkg.Exists(ctx, sessionKey(key))
}

// Delete removes a session record
func (s *SessionStoreImpl) Delete(ctx context.Context, key string) (bool, error) {
	n, err := redispkg.GetClient().Del(ctx, sessionKey(key)).Result()
	return n > 0, err
}

// DeleteTx queues the removal on an open pipeline.
func (s *SessionStoreImpl) DeleteTx(ctx context.Context, pipe goredis.Pipeliner, key string) {
	pipe.Del(ctx, sessionKey(key))
}
