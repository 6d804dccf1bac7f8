package handlers

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"token-gate.backend/internal/config"
	domainerrors "token-gate.backend/internal/domain/errors"
	"token-gate.backend/internal/interfaces/http/middleware"
	"token-gate.backend/internal/interfaces/http/response"
	"token-gate.backend/internal/usecases"
	"token-gate.backend/pkg/utils"
)

// TokenHandler is the backend for the user token management pages. All
// routes sit behind AuthenticatedMiddleware.
type TokenHandler struct {
	cfg    *config.Config
	tokens *usecases.UserTokens
}

// NewTokenHandler creates a new token handler
func NewTokenHandler(cfg *config.Config, tokens *usecases.UserTokens) *TokenHandler {
	return &TokenHandler{cfg: cfg, tokens: tokens}
}

// checkCSRF validates the _csrf form field against the session cookie.
// Requests authenticated without a cookie have no CSRF token and cannot
// post.
func (h *TokenHandler) checkCSRF(c *gin.Context) bool {
	sc, ok := middleware.GetSessionCookie(c)
	if !ok || sc.CSRF == "" {
		response.Error(c, domainerrors.BadRequest("no CSRF token in session"))
		return false
	}
	submitted := c.PostForm("_csrf")
	if subtle.ConstantTimeCompare([]byte(submitted), []byte(sc.CSRF)) != 1 {
		response.Error(c, domainerrors.BadRequest("CSRF token mismatch"))
		return false
	}
	return true
}

func sessionCSRF(c *gin.Context) string {
	if sc, ok := middleware.GetSessionCookie(c); ok {
		return sc.CSRF
	}
	return ""
}

// List lists the caller's tokens
// GET /auth/tokens
func (h *TokenHandler) List(c *gin.Context) {
	claims, _ := middleware.GetClaims(c)
	entries, err := h.tokens.List(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	params := utils.GetPaginationParams(page, limit)
	meta := utils.CalculateMeta(int64(len(entries)), params.Page, params.Limit)
	if params.Limit > 0 {
		offset := params.CalculateOffset()
		if offset > len(entries) {
			offset = len(entries)
		}
		end := offset + params.Limit
		if end > len(entries) {
			end = len(entries)
		}
		entries = entries[offset:end]
	}

	response.Success(c, http.StatusOK, gin.H{
		"csrf":   sessionCSRF(c),
		"tokens": entries,
		"meta":   meta,
	})
}

// NewForm returns the scopes the caller may put on a new token
// GET /auth/tokens/new
func (h *TokenHandler) NewForm(c *gin.Context) {
	claims, _ := middleware.GetClaims(c)
	response.Success(c, http.StatusOK, gin.H{
		"csrf":   sessionCSRF(c),
		"scopes": h.tokens.GrantableScopes(claims),
	})
}

// Create mints a new scoped token. The full handle appears in this response
// and never again
// POST /auth/tokens/new
func (h *TokenHandler) Create(c *gin.Context) {
	if !h.checkCSRF(c) {
		return
	}
	claims, _ := middleware.GetClaims(c)

	handle, entry, err := h.tokens.Create(c.Request.Context(), claims, c.PostFormArray("scope"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"handle": handle.Encode(),
		"token":  entry,
	})
}

// Get shows one token's metadata
// GET /auth/tokens/:handle
func (h *TokenHandler) Get(c *gin.Context) {
	claims, _ := middleware.GetClaims(c)
	entry, err := h.tokens.Get(c.Request.Context(), claims, c.Param("handle"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"token": entry})
}

// Modify handles the form-posted delete
// POST /auth/tokens/:handle
func (h *TokenHandler) Modify(c *gin.Context) {
	if c.PostForm("method_") != "DELETE" {
		response.Error(c, domainerrors.BadRequest("unsupported method_"))
		return
	}
	if !h.checkCSRF(c) {
		return
	}
	claims, _ := middleware.GetClaims(c)

	if err := h.tokens.Revoke(c.Request.Context(), claims, c.Param("handle")); err != nil {
		response.Error(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/auth/tokens")
}
