package middleware

import (
	"github.com/gin-gonic/gin"
	"token-gate.backend/internal/config"
	"token-gate.backend/internal/domain/entities"
	apperrors "token-gate.backend/internal/domain/errors"
	"token-gate.backend/internal/domain/repositories"
	"token-gate.backend/internal/interfaces/http/response"
	"token-gate.backend/internal/usecases"
	"token-gate.backend/pkg/logger"
)

const (
	// ClaimsKey is the context key for the verified claim set
	ClaimsKey = "authClaims"
	// SessionCookieKey is the context key for the decrypted session cookie
	SessionCookieKey = "sessionCookie"
)

// AuthenticatedMiddleware guards the token management UI routes. The caller
// must present either a session cookie whose handle resolves to a live
// session, or a verified token in X-Auth-Request-Token (the header the
// ingress sets after a /auth probe).
func AuthenticatedMiddleware(cfg *config.Config, cookieKey *[32]byte, sessions repositories.SessionStore, verifier *usecases.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if sc := ReadSessionCookie(c, cookieKey, cfg.Session.CookieName); sc != nil {
			sess, err := sessions.Get(ctx, sc.Handle)
			if err != nil {
				response.Error(c, apperrors.Upstream(err))
				c.Abort()
				return
			}
			if sess != nil {
				verified, err := verifier.Verify(ctx, sess.Token)
				if err == nil {
					c.Set(ClaimsKey, verified.Claims)
					c.Set(SessionCookieKey, sc)
					c.Next()
					return
				}
				logger.Warn(ctx, "session cookie token failed verification: "+err.Error())
			}
		}

		if encoded := c.GetHeader("X-Auth-Request-Token"); encoded != "" {
			verified, err := verifier.Verify(ctx, encoded)
			if err == nil {
				c.Set(ClaimsKey, verified.Claims)
				c.Next()
				return
			}
			logger.Warn(ctx, "forwarded token failed verification: "+err.Error())
		}

		response.Error(c, apperrors.Unauthenticated("no valid session"))
		c.Abort()
	}
}

// GetClaims returns the verified claims set by AuthenticatedMiddleware.
func GetClaims(c *gin.Context) (entities.Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(entities.Claims)
	return claims, ok
}

// GetSessionCookie returns the decrypted session cookie, when the request
// authenticated with one.
func GetSessionCookie(c *gin.Context) (*SessionCookie, bool) {
	v, ok := c.Get(SessionCookieKey)
	if !ok {
		return nil, false
	}
	sc, ok := v.(*SessionCookie)
	return sc, ok
}
