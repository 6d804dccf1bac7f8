package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"token-gate.backend/pkg/crypto"
	"token-gate.backend/pkg/ticket"
)

const sessionCookieMaxAge = 30 * 24 * 60 * 60

// SessionCookie is the browser session payload: the session handle plus the
// CSRF token for form posts. It only ever travels encrypted.
type SessionCookie struct {
	Handle *ticket.Handle `json:"handle"`
	CSRF   string         `json:"csrf"`
}

// ReadSessionCookie decrypts the session cookie, or returns nil when absent
// or unreadable. An unreadable cookie is treated the same as no cookie.
func ReadSessionCookie(c *gin.Context, key *[32]byte, name string) *SessionCookie {
	value, err := c.Cookie(name)
	if err != nil || value == "" {
		return nil
	}
	plaintext, err := crypto.OpenCookie(key, value)
	if err != nil {
		return nil
	}
	var sc SessionCookie
	if err := json.Unmarshal(plaintext, &sc); err != nil || sc.Handle == nil {
		return nil
	}
	return &sc
}

// WriteSessionCookie encrypts and sets the session cookie.
func WriteSessionCookie(c *gin.Context, key *[32]byte, name string, sc *SessionCookie) error {
	payload, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	sealed, err := crypto.SealCookie(key, payload)
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, sealed, sessionCookieMaxAge, "/", "", requestIsSecure(c), true)
	return nil
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(c *gin.Context, name string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, "", -1, "/", "", requestIsSecure(c), true)
}

func requestIsSecure(c *gin.Context) bool {
	return c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https"
}
