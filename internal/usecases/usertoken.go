package usecases

import (
	"context"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"token-gate.backend/internal/config"
	"token-gate.backend/internal/domain/entities"
	apperrors "token-gate.backend/internal/domain/errors"
	"token-gate.backend/internal/domain/repositories"
	redispkg "token-gate.backend/pkg/redis"
	"token-gate.backend/pkg/ticket"
)

// UserTokens manages the tokens a user mints for their own non-interactive
// use. Each token is an ordinary issued token plus an index entry so it can
// be listed and revoked later.
type UserTokens struct {
	cfg        *config.Config
	sessions   repositories.SessionStore
	index      repositories.TokenIndex
	issuer     *Issuer
	authorizer *Authorizer
}

// NewUserTokens creates a new user token usecase
func NewUserTokens(cfg *config.Config, sessions repositories.SessionStore, index repositories.TokenIndex, issuer *Issuer, authorizer *Authorizer) *UserTokens {
	return &UserTokens{cfg: cfg, sessions: sessions, index: index, issuer: issuer, authorizer: authorizer}
}

func (u *UserTokens) username(claims entities.Claims) (string, error) {
	uid := claims.String(u.cfg.Claims.UsernameKey)
	if uid == "" {
		return "", apperrors.Unauthenticated("token carries no username claim")
	}
	return uid, nil
}

// List sweeps dead entries and returns the live ones, oldest first.
func (u *UserTokens) List(ctx context.Context, claims entities.Claims) ([]*entities.TokenEntry, error) {
	uid, err := u.username(claims)
	if err != nil {
		return nil, err
	}
	if err := u.index.Expire(ctx, uid); err != nil {
		return nil, apperrors.Upstream(err)
	}
	entries, err := u.index.GetAll(ctx, uid)
	if err != nil {
		return nil, apperrors.Upstream(err)
	}
	return entries, nil
}

// GrantableScopes returns the known scopes the caller could put on a new
// token, with their descriptions.
func (u *UserTokens) GrantableScopes(claims entities.Claims) map[string]string {
	held := u.authorizer.TokenScopes(claims)
	grantable := make(map[string]string)
	for scope, desc := range u.cfg.Scopes.Known {
		if held[scope] {
			grantable[scope] = desc
		}
	}
	return grantable
}

// Create mints a token scoped to the intersection of the requested scopes,
// the caller's own scopes, and the known scope catalog. The session record
// and the index entry are written in one transaction.
func (u *UserTokens) Create(ctx context.Context, claims entities.Claims, requested []string) (*ticket.Handle, *entities.TokenEntry, error) {
	uid, err := u.username(claims)
	if err != nil {
		return nil, nil, err
	}

	held := u.authorizer.TokenScopes(claims)
	granted := make([]string, 0, len(requested))
	for _, scope := range requested {
		if _, known := u.cfg.Scopes.Known[scope]; known && held[scope] {
			granted = append(granted, scope)
		}
	}

	newClaims := claims.Clone()
	for _, registered := range []string{"jti", "iat", "exp", "aud", "act", "scope"} {
		delete(newClaims, registered)
	}
	newClaims["scope"] = strings.Join(ScopeList(toSet(granted)), " ")

	h, err := ticket.New()
	if err != nil {
		return nil, nil, apperrors.Upstream(err)
	}
	_, sess, err := u.issuer.Issue(newClaims, h)
	if err != nil {
		return nil, nil, err
	}
	entry := &entities.TokenEntry{
		Key:     h.Key,
		Scope:   newClaims.Scope(),
		Created: sess.CreatedAt,
		Expires: sess.ExpiresOn,
	}

	err = redispkg.WithTx(ctx, func(pipe goredis.Pipeliner) error {
		if err := u.sessions.StoreTx(ctx, pipe, h, sess); err != nil {
			return err
		}
		return u.index.AddTx(ctx, pipe, uid, entry)
	})
	if err != nil {
		return nil, nil, apperrors.Upstream(err)
	}
	return h, entry, nil
}

// Get returns one of the caller's tokens by handle key.
func (u *UserTokens) Get(ctx context.Context, claims entities.Claims, handleKey string) (*entities.TokenEntry, error) {
	uid, err := u.username(claims)
	if err != nil {
		return nil, err
	}
	entries, err := u.index.GetAll(ctx, uid)
	if err != nil {
		return nil, apperrors.Upstream(err)
	}
	for _, e := range entries {
		if e.Key == handleKey {
			return e, nil
		}
	}
	return nil, apperrors.NotFound("no such token")
}

// Revoke deletes one of the caller's tokens together with its session
// record.
func (u *UserTokens) Revoke(ctx context.Context, claims entities.Claims, handleKey string) error {
	uid, err := u.username(claims)
	if err != nil {
		return err
	}
	removed, err := u.index.Revoke(ctx, uid, handleKey)
	if err != nil {
		return apperrors.Upstream(err)
	}
	if !removed {
		return apperrors.NotFound("no such token")
	}
	return nil
}

func toSet(scopes []string) map[string]bool {
	set := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		set[s] = true
	}
	return set
}
