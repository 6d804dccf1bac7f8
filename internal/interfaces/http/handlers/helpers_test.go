package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"token-gate.backend/internal/config"
	"token-gate.backend/internal/domain/entities"
	"token-gate.backend/internal/domain/repositories"
	"token-gate.backend/internal/infrastructure/redisrepo"
	"token-gate.backend/internal/interfaces/http/middleware"
	"token-gate.backend/internal/usecases"
	"token-gate.backend/internal/usecases/providers"
	"token-gate.backend/pkg/crypto"
	"token-gate.backend/pkg/keypair"
	redispkg "token-gate.backend/pkg/redis"
	"token-gate.backend/pkg/ticket"
)

const (
	testIssuer      = "https://gateway.example.com/"
	testAudience    = "https://example.com/"
	testInternalAud = "https://example.com/api"
)

type fixture struct {
	cfg       *config.Config
	cookieKey *[32]byte
	keys      *keypair.RSAKeyPair
	mr        *miniredis.Miniredis
	sessions  repositories.SessionStore
	index     repositories.TokenIndex
	states    repositories.StateStore
	issuer    *usecases.Issuer
	verifier  *usecases.Verifier
	provider  *fakeProvider
	router    *gin.Engine
}

// fakeProvider stands in for GitHub/OIDC in handler tests.
type fakeProvider struct {
	claims entities.Claims
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) AuthorizationURL(state string) string {
	return "https://idp.example.com/authorize?state=" + state
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (entities.Claims, error) {
	return p.claims.Clone(), nil
}

var _ providers.Provider = (*fakeProvider)(nil)

func testFixtureConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Realm:           "tokens",
			WWWAuthenticate: "bearer",
			SetUserHeaders:  true,
			AllowedHosts:    []string{"allowed.example.com"},
			AfterLogoutURL:  "/",
		},
		Issuer: config.IssuerConfig{
			Iss:         testIssuer,
			Aud:         testAudience,
			AudInternal: testInternalAud,
			KeyID:       "test-key",
			Expiry:      time.Hour,
		},
		Session: config.SessionConfig{
			SecretHex:    strings.Repeat("cd", 32),
			CookieName:   "gafaelfawr",
			TicketPrefix: "oauth2_proxy",
		},
		Claims: config.ClaimsConfig{UsernameKey: "uid", UIDKey: "uidNumber"},
		Scopes: config.ScopesConfig{
			Known: map[string]string{
				"exec:admin":    "Administrative access",
				"exec:notebook": "Notebook execution",
				"exec:test":     "Test execution",
				"read:all":      "Read everything",
			},
			GroupMapping: map[string][]string{"exec:admin": {"admin"}},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, nil)
}

func newFixtureWith(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	redispkg.SetClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))

	cfg := testFixtureConfig()
	if mutate != nil {
		mutate(cfg)
	}
	cookieKey, err := cfg.Session.SecretKey()
	require.NoError(t, err)
	keys, err := keypair.Generate(cfg.Issuer.KeyID)
	require.NoError(t, err)

	sessions := redisrepo.NewSessionStore()
	index := redisrepo.NewTokenIndex()
	states := redisrepo.NewStateStore()

	issuer := usecases.NewIssuer(cfg.Issuer, keys, sessions)
	verifier := usecases.NewVerifier(cfg, keys)
	authorizer := usecases.NewAuthorizer(cfg.Scopes)
	reissuer := usecases.NewReissuer(cfg, issuer, authorizer)
	userTokens := usecases.NewUserTokens(cfg, sessions, index, issuer, authorizer)

	provider := &fakeProvider{claims: entities.Claims{
		"sub":        "alice",
		"uid":        "alice",
		"email":      "alice@example.com",
		"isMemberOf": []entities.Group{{Name: "admin"}},
	}}
	login := usecases.NewLogin(cfg, provider, states, issuer, authorizer)

	authHandler := NewAuthHandler(cfg, cookieKey, sessions, verifier, authorizer, reissuer)
	loginHandler := NewLoginHandler(cfg, cookieKey, login, sessions)
	tokenHandler := NewTokenHandler(cfg, userTokens)
	wellKnownHandler := NewWellKnownHandler(cfg, keys)
	authenticated := middleware.AuthenticatedMiddleware(cfg, cookieKey, sessions, verifier)

	r := gin.New()
	r.GET("/auth", authHandler.Probe)
	r.GET("/auth/analyze", authHandler.Analyze)
	r.GET("/login", loginHandler.Login)
	r.GET("/logout", loginHandler.Logout)
	r.GET("/.well-known/jwks.json", wellKnownHandler.JWKS)
	r.GET("/.well-known/openid-configuration", wellKnownHandler.OpenIDConfiguration)
	tokens := r.Group("/auth/tokens")
	tokens.Use(authenticated)
	{
		tokens.GET("", tokenHandler.List)
		tokens.GET("/new", tokenHandler.NewForm)
		tokens.POST("/new", tokenHandler.Create)
		tokens.GET("/:handle", tokenHandler.Get)
		tokens.POST("/:handle", tokenHandler.Modify)
	}

	return &fixture{
		cfg:       cfg,
		cookieKey: cookieKey,
		keys:      keys,
		mr:        mr,
		sessions:  sessions,
		index:     index,
		states:    states,
		issuer:    issuer,
		verifier:  verifier,
		provider:  provider,
		router:    r,
	}
}

// issueToken mints a token with a fresh handle and a stored session.
func (f *fixture) issueToken(t *testing.T, claims entities.Claims) (string, *ticket.Handle) {
	t.Helper()
	h, err := ticket.New()
	require.NoError(t, err)
	encoded, _, err := f.issuer.IssueAndStore(context.Background(), claims, h)
	require.NoError(t, err)
	return encoded, h
}

// sessionCookieValue builds the encrypted browser cookie for a handle.
func (f *fixture) sessionCookieValue(t *testing.T, h *ticket.Handle, csrf string) string {
	t.Helper()
	payload, err := json.Marshal(middleware.SessionCookie{Handle: h, CSRF: csrf})
	require.NoError(t, err)
	sealed, err := crypto.SealCookie(f.cookieKey, payload)
	require.NoError(t, err)
	return sealed
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}
