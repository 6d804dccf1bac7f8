package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"token-gate.backend/internal/config"
	"token-gate.backend/internal/domain/repositories"
	"token-gate.backend/internal/interfaces/http/middleware"
	"token-gate.backend/internal/interfaces/http/response"
	"token-gate.backend/internal/usecases"
	"token-gate.backend/pkg/crypto"
	"token-gate.backend/pkg/logger"
)

// LoginHandler drives the browser login and logout endpoints.
type LoginHandler struct {
	cfg       *config.Config
	cookieKey *[32]byte
	login     *usecases.Login
	sessions  repositories.SessionStore
}

// NewLoginHandler creates a new login handler
func NewLoginHandler(cfg *config.Config, cookieKey *[32]byte, login *usecases.Login, sessions repositories.SessionStore) *LoginHandler {
	return &LoginHandler{cfg: cfg, cookieKey: cookieKey, login: login, sessions: sessions}
}

// Login serves both phases of the code flow: without a code it parks the
// return URL and redirects to the provider, with one it establishes the
// session
// GET /login
func (h *LoginHandler) Login(c *gin.Context) {
	if code := c.Query("code"); code != "" {
		h.callback(c, code)
		return
	}
	h.start(c)
}

func (h *LoginHandler) start(c *gin.Context) {
	returnURL := c.Query("rd")
	if returnURL == "" {
		returnURL = c.GetHeader("X-Auth-Request-Redirect")
	}
	if returnURL == "" {
		returnURL = c.GetHeader("Referer")
	}

	authURL, err := h.login.Start(c.Request.Context(), returnURL, c.Request.Host)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, authURL)
}

func (h *LoginHandler) callback(c *gin.Context, code string) {
	handle, returnURL, err := h.login.Callback(c.Request.Context(), code, c.Query("state"))
	if err != nil {
		response.Error(c, err)
		return
	}

	csrf, err := crypto.GenerateCSRFToken()
	if err != nil {
		response.Error(c, err)
		return
	}
	sc := &middleware.SessionCookie{Handle: handle, CSRF: csrf}
	if err := middleware.WriteSessionCookie(c, h.cookieKey, h.cfg.Session.CookieName, sc); err != nil {
		response.Error(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, returnURL)
}

// Logout drops the session cookie and its session record
// GET /logout
func (h *LoginHandler) Logout(c *gin.Context) {
	if sc := middleware.ReadSessionCookie(c, h.cookieKey, h.cfg.Session.CookieName); sc != nil {
		if _, err := h.sessions.Delete(c.Request.Context(), sc.Handle.Key); err != nil {
			logger.Warn(c.Request.Context(), "could not delete session on logout: "+err.Error())
		}
	}
	middleware.ClearSessionCookie(c, h.cfg.Session.CookieName)
	c.Redirect(http.StatusSeeOther, h.cfg.Server.AfterLogoutURL)
}
