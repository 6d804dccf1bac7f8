package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"token-gate.backend/internal/config"
	"token-gate.backend/internal/domain/entities"
	domainerrors "token-gate.backend/internal/domain/errors"
	"token-gate.backend/internal/domain/repositories"
	"token-gate.backend/internal/interfaces/http/middleware"
	"token-gate.backend/internal/interfaces/http/response"
	"token-gate.backend/internal/usecases"
	"token-gate.backend/pkg/logger"
)

// Scopes the notebook alias expands to.
var notebookScopes = []string{"exec:notebook", "read:all"}

// AuthHandler answers the per-request authorization probes from the fronting
// proxy.
type AuthHandler struct {
	cfg        *config.Config
	cookieKey  *[32]byte
	sessions   repositories.SessionStore
	verifier   *usecases.Verifier
	authorizer *usecases.Authorizer
	reissuer   *usecases.Reissuer
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(cfg *config.Config, cookieKey *[32]byte, sessions repositories.SessionStore, verifier *usecases.Verifier, authorizer *usecases.Authorizer, reissuer *usecases.Reissuer) *AuthHandler {
	return &AuthHandler{
		cfg:        cfg,
		cookieKey:  cookieKey,
		sessions:   sessions,
		verifier:   verifier,
		authorizer: authorizer,
		reissuer:   reissuer,
	}
}

// Probe is the auth subrequest endpoint
// GET /auth
func (h *AuthHandler) Probe(c *gin.Context) {
	ctx := c.Request.Context()

	required, satisfy, err := h.requirements(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	encoded, found := h.extractCredential(c)
	if !found {
		middleware.CountAuthDecision("unauthenticated")
		h.challenge(c, "No Authorization header", "")
		return
	}

	token, err := h.verifier.Verify(ctx, encoded)
	if err != nil {
		middleware.CountAuthDecision("unauthenticated")
		logger.Info(ctx, "token verification failed", zap.Error(err))
		h.challenge(c, verificationErrorCode(err), err.Error())
		return
	}

	if !h.authorizer.Satisfies(token.Claims, required, satisfy) {
		middleware.CountAuthDecision("forbidden")
		logger.Warn(ctx, "token lacks required scope",
			zap.String("jti", token.Claims.JTI()),
			zap.Strings("required", required),
			zap.String("satisfy", string(satisfy)),
		)
		h.setScopeHeaders(c, token.Claims, required, satisfy)
		c.String(http.StatusForbidden, "Missing required scope")
		return
	}

	proxyCookie, _ := c.Cookie(h.cfg.Session.TicketPrefix)
	result, err := h.reissuer.MaybeReissue(ctx, token, c.Query("audience"), proxyCookie)
	if err != nil {
		middleware.CountAuthDecision("unauthenticated")
		var appErr *domainerrors.AppError
		if errors.As(err, &appErr) && appErr.Status == http.StatusUnauthorized {
			h.challenge(c, "Unable to reissue token", appErr.Message)
			return
		}
		response.Error(c, err)
		return
	}

	middleware.CountAuthDecision("ok")
	h.setScopeHeaders(c, result.Claims, required, satisfy)
	h.setIdentityHeaders(c, result)
	response.Success(c, http.StatusOK, gin.H{"status": "ok"})
}

// requirements collects the scope set and satisfy mode from the query. The
// legacy capability parameter accumulates into the same set, and the
// notebook alias expands to its fixed scopes.
func (h *AuthHandler) requirements(c *gin.Context) ([]string, usecases.Satisfy, error) {
	set := make(map[string]bool)
	for _, s := range c.QueryArray("scope") {
		set[s] = true
	}
	for _, s := range c.QueryArray("capability") {
		set[s] = true
	}

	satisfy, err := usecases.ParseSatisfy(c.Query("satisfy"))
	if err != nil {
		return nil, "", err
	}
	if c.Query("notebook") == "true" {
		for _, s := range notebookScopes {
			set[s] = true
		}
		satisfy = usecases.SatisfyAll
	}

	required := make([]string, 0, len(set))
	for s := range set {
		required = append(required, s)
	}
	sort.Strings(required)
	return required, satisfy, nil
}

// extractCredential walks the credential sources in precedence order. A
// session cookie beats the Authorization header only when the header scheme
// is "token" (JupyterHub sends those and the cookie is fresher).
func (h *AuthHandler) extractCredential(c *gin.Context) (string, bool) {
	authz := c.GetHeader("Authorization")
	if authz == "" && h.cfg.Server.HonorOrigAuthorization {
		authz = c.GetHeader("X-Orig-Authorization")
	}
	scheme, value, _ := strings.Cut(authz, " ")

	if strings.EqualFold(scheme, "token") {
		if encoded, ok := h.tokenFromCookie(c); ok {
			return encoded, true
		}
	}

	switch {
	case strings.EqualFold(scheme, "Bearer") && value != "":
		return value, true
	case strings.EqualFold(scheme, "Basic") && value != "":
		if encoded, ok := tokenFromBasic(c, value); ok {
			return encoded, true
		}
	}

	if fwd := c.GetHeader("X-Forwarded-Access-Token"); fwd != "" {
		return fwd, true
	}
	if fwd := c.GetHeader("X-Forwarded-Ticket-Id-Token"); fwd != "" {
		return fwd, true
	}
	return h.tokenFromCookie(c)
}

// tokenFromBasic unpacks the GitHub-style basic auth convention: the token
// rides in one half of the pair and the literal x-oauth-basic in the other.
func tokenFromBasic(c *gin.Context, value string) (string, bool) {
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", false
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", false
	}
	switch {
	case user == "x-oauth-basic":
		return pass, pass != ""
	case pass == "x-oauth-basic":
		return user, user != ""
	default:
		// Neither side is the sentinel; assume the password carries the
		// token, as oauth2_proxy did.
		logger.Warn(c.Request.Context(), "basic auth without x-oauth-basic sentinel, using password")
		return pass, pass != ""
	}
}

func (h *AuthHandler) tokenFromCookie(c *gin.Context) (string, bool) {
	sc := middleware.ReadSessionCookie(c, h.cookieKey, h.cfg.Session.CookieName)
	if sc == nil {
		return "", false
	}
	sess, err := h.sessions.Get(c.Request.Context(), sc.Handle)
	if err != nil || sess == nil {
		return "", false
	}
	return sess.Token, true
}

// challenge sends a 401 with the configured WWW-Authenticate scheme.
func (h *AuthHandler) challenge(c *gin.Context, errCode, description string) {
	realm := h.cfg.Server.Realm
	if h.cfg.Server.WWWAuthenticate == "basic" {
		c.Header("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", realm))
	} else {
		c.Header("WWW-Authenticate",
			fmt.Sprintf("Bearer realm=%q,error=%q,error_description=%q", realm, errCode, description))
	}
	c.JSON(http.StatusUnauthorized, gin.H{
		"code":    domainerrors.CodeUnauthenticated,
		"message": errCode,
	})
}

func verificationErrorCode(err error) string {
	switch {
	case errors.Is(err, usecases.ErrExpired):
		return "Expired token"
	case errors.Is(err, usecases.ErrUnknownIssuer):
		return "Unknown issuer"
	case errors.Is(err, usecases.ErrAudienceMismatch):
		return "Wrong audience"
	case errors.Is(err, usecases.ErrKeyFetchFailed):
		return "Unable to fetch issuer keys"
	default:
		return "Invalid token"
	}
}

func (h *AuthHandler) setScopeHeaders(c *gin.Context, claims entities.Claims, required []string, satisfy usecases.Satisfy) {
	held := usecases.ScopeList(h.authorizer.TokenScopes(claims))
	c.Header("X-Auth-Request-Token-Scopes", strings.Join(held, " "))
	c.Header("X-Auth-Request-Scopes-Accepted", strings.Join(required, " "))
	c.Header("X-Auth-Request-Scopes-Satisfy", string(satisfy))
}

func (h *AuthHandler) setIdentityHeaders(c *gin.Context, result *usecases.ReissueResult) {
	claims := result.Claims
	if h.cfg.Server.SetUserHeaders {
		if email := claims.String("email"); email != "" {
			c.Header("X-Auth-Request-Email", email)
		}
		if user := claims.String(h.cfg.Claims.UsernameKey); user != "" {
			c.Header("X-Auth-Request-User", user)
		}
		if uid := claimAsString(claims, h.cfg.Claims.UIDKey); uid != "" {
			c.Header("X-Auth-Request-Uid", uid)
		}
		if groups := claims.Groups(); len(groups) > 0 {
			names := make([]string, 0, len(groups))
			for _, g := range groups {
				names = append(names, g.Name)
			}
			c.Header("X-Auth-Request-Groups", strings.Join(names, ","))
		}
	}
	c.Header("X-Auth-Request-Token", result.Encoded)
	c.Header("X-Auth-Request-Token-Ticket", result.Ticket)
}

// claimAsString renders a claim that may be numeric after a JSON round-trip.
func claimAsString(claims entities.Claims, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case int64:
		return fmt.Sprintf("%d", v)
	}
	return ""
}

// Analyze introspects the caller's current session
// GET /auth/analyze
func (h *AuthHandler) Analyze(c *gin.Context) {
	ctx := c.Request.Context()

	sc := middleware.ReadSessionCookie(c, h.cookieKey, h.cfg.Session.CookieName)
	if sc == nil {
		response.Error(c, domainerrors.BadRequest("no session cookie to analyze"))
		return
	}

	out := gin.H{"handle": gin.H{"key": sc.Handle.Key}}
	sess, err := h.sessions.Get(ctx, sc.Handle)
	if err != nil {
		response.Error(c, err)
		return
	}
	if sess == nil {
		out["session"] = gin.H{"valid": false}
		response.Success(c, http.StatusOK, out)
		return
	}
	out["session"] = gin.H{
		"valid":      true,
		"email":      sess.Email,
		"created_at": sess.CreatedAt,
		"expires_on": sess.ExpiresOn,
	}

	tokenInfo := gin.H{}
	verified, err := h.verifier.Verify(ctx, sess.Token)
	if err != nil {
		tokenInfo["valid"] = false
		tokenInfo["errors"] = []string{err.Error()}
		if claims, peekErr := h.verifier.PeekUnverified(sess.Token); peekErr == nil {
			tokenInfo["data"] = claims
		}
	} else {
		tokenInfo["valid"] = true
		tokenInfo["header"] = verified.Header
		tokenInfo["data"] = verified.Claims
	}
	out["token"] = tokenInfo
	response.Success(c, http.StatusOK, out)
}
