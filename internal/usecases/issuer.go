package usecases

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"token-gate.backend/internal/config"
	"token-gate.backend/internal/domain/entities"
	apperrors "token-gate.backend/internal/domain/errors"
	"token-gate.backend/internal/domain/repositories"
	"token-gate.backend/pkg/keypair"
	"token-gate.backend/pkg/ticket"
)

// Issuer mints RS256 tokens bound to a session handle: the jti claim always
// equals the handle key, so the token and its session record can be matched
// without decrypting anything.
type Issuer struct {
	cfg      config.IssuerConfig
	keys     *keypair.RSAKeyPair
	sessions repositories.SessionStore
	now      func() time.Time
}

// NewIssuer creates a new token issuer
func NewIssuer(cfg config.IssuerConfig, keys *keypair.RSAKeyPair, sessions repositories.SessionStore) *Issuer {
	return &Issuer{cfg: cfg, keys: keys, sessions: sessions, now: time.Now}
}

// KeyPair exposes the signing key pair for the JWKS document.
func (i *Issuer) KeyPair() *keypair.RSAKeyPair {
	return i.keys
}

// Issue signs a token for the claim set. Registered claims are normalized:
// iss is always ours, aud defaults to the primary audience, iat and exp are
// stamped fresh, and jti is set to the handle key. The companion session
// record is returned but not stored.
func (i *Issuer) Issue(claims entities.Claims, h *ticket.Handle) (string, *entities.Session, error) {
	now := i.now()
	expires := now.Add(i.cfg.Expiry)

	out := claims.Clone()
	out["iss"] = i.cfg.Iss
	if out.Audience() == "" {
		out["aud"] = i.cfg.Aud
	}
	out["iat"] = now.Unix()
	out["exp"] = expires.Unix()
	out["jti"] = h.Key

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims(out))
	token.Header["kid"] = i.keys.KeyID()
	encoded, err := token.SignedString(i.keys.Private())
	if err != nil {
		return "", nil, apperrors.Upstream(err)
	}

	sess := entities.NewSession(encoded, out.String("email"), now, expires)
	return encoded, sess, nil
}

// IssueAndStore signs the token and writes its session record in one call,
// for flows that do not need to batch the write with other keys.
func (i *Issuer) IssueAndStore(ctx context.Context, claims entities.Claims, h *ticket.Handle) (string, *entities.Session, error) {
	encoded, sess, err := i.Issue(claims, h)
	if err != nil {
		return "", nil, err
	}
	if err := i.sessions.Store(ctx, h, sess); err != nil {
		return "", nil, apperrors.Upstream(err)
	}
	return encoded, sess, nil
}
