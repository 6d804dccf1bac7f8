package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"token-gate.backend/internal/config"
	"token-gate.backend/internal/domain/entities"
	"token-gate.backend/pkg/keypair"
	"token-gate.backend/pkg/ticket"
)

func adminClaims() entities.Claims {
	return entities.Claims{
		"uid":        "alice",
		"uidNumber":  "1234",
		"email":      "alice@example.com",
		"sub":        "alice",
		"scope":      "exec:admin read:all",
		"isMemberOf": []entities.Group{{Name: "admin"}},
	}
}

func TestProbeNoCredential(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/auth?scope=exec:admin", nil)
	w := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t,
		`Bearer realm="tokens",error="No Authorization header",error_description=""`,
		w.Header().Get("WWW-Authenticate"))
}

func TestProbeBasicChallenge(t *testing.T) {
	f := newFixtureWith(t, func(cfg *config.Config) {
		cfg.Server.WWWAuthenticate = "basic"
	})

	w := f.do(httptest.NewRequest(http.MethodGet, "/auth?scope=exec:admin", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Basic realm="tokens"`, w.Header().Get("WWW-Authenticate"))
}

func TestProbeAuthorized(t *testing.T) {
	f := newFixture(t)
	encoded, _ := f.issueToken(t, adminClaims())

	req := httptest.NewRequest(http.MethodGet, "/auth?scope=exec:admin", nil)
	req.Header.Set("Authorization", "Bearer "+encoded)
	w := f.do(req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin", w.Header().Get("X-Auth-Request-Groups"))
	assert.Equal(t, "exec:admin read:all", w.Header().Get("X-Auth-Request-Token-Scopes"))
	assert.Equal(t, "alice", w.Header().Get("X-Auth-Request-User"))
	assert.Equal(t, "1234", w.Header().Get("X-Auth-Request-Uid"))
	assert.Equal(t, "alice@example.com", w.Header().Get("X-Auth-Request-Email"))
	assert.Equal(t, encoded, w.Header().Get("X-Auth-Request-Token"))
	assert.Equal(t, "exec:admin", w.Header().Get("X-Auth-Request-Scopes-Accepted"))
	assert.Equal(t, "all", w.Header().Get("X-Auth-Request-Scopes-Satisfy"))
}

func TestProbeSatisfyAny(t *testing.T) {
	f := newFixture(t)
	encoded, _ := f.issueToken(t, entities.Claims{"sub": "alice", "uid": "alice", "scope": "exec:test"})

	req := httptest.NewRequest(http.MethodGet, "/auth?scope=exec:admin&scope=exec:test&satisfy=any", nil)
	req.Header.Set("Authorization", "Bearer "+encoded)
	w := f.do(req)

	assert.Equal(t, http.StatusOK, w.Code)
	// Accepted scopes come back sorted.
	assert.Equal(t, "exec:admin exec:test", w.Header().Get("X-Auth-Request-Scopes-Accepted"))
	assert.Equal(t, "any", w.Header().Get("X-Auth-Request-Scopes-Satisfy"))
}

func TestProbeForbidden(t *testing.T) {
	f := newFixture(t)
	encoded, _ := f.issueToken(t, entities.Claims{"sub": "alice", "uid": "alice", "scope": "read:all"})

	req := httptest.NewRequest(http.MethodGet, "/auth?scope=exec:admin", nil)
	req.Header.Set("Authorization", "Bearer "+encoded)
	w := f.do(req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "read:all", w.Header().Get("X-Auth-Request-Token-Scopes"))
	assert.Equal(t, "exec:admin", w.Header().Get("X-Auth-Request-Scopes-Accepted"))
	assert.Equal(t, "all", w.Header().Get("X-Auth-Request-Scopes-Satisfy"))
	assert.Contains(t, w.Body.String(), "Missing required scope")
}

func TestProbeCapabilityAlias(t *testing.T) {
	f := newFixture(t)
	encoded, _ := f.issueToken(t, entities.Claims{"sub": "alice", "uid": "alice", "scope": "exec:admin"})

	req := httptest.NewRequest(http.MethodGet, "/auth?capability=exec:admin", nil)
	req.Header.Set("Authorization", "Bearer "+encoded)
	w := f.do(req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProbeNotebookAlias(t *testing.T) {
	f := newFixture(t)
	encoded, _ := f.issueToken(t, entities.Claims{"sub": "alice", "uid": "alice", "scope": "exec:notebook read:all"})

	req := httptest.NewRequest(http.MethodGet, "/auth?notebook=true", nil)
	req.Header.Set("Authorization", "Bearer "+encoded)
	w := f.do(req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "exec:notebook read:all", w.Header().Get("X-Auth-Request-Scopes-Accepted"))

	// A token with only one of the two is refused.
	partial, _ := f.issueToken(t, entities.Claims{"sub": "alice", "uid": "alice", "scope": "read:all"})
	req = httptest.NewRequest(http.MethodGet, "/auth?notebook=true", nil)
	req.Header.Set("Authorization", "Bearer "+partial)
	assert.Equal(t, http.StatusForbidden, f.do(req).Code)
}

func TestProbeBadSatisfy(t *testing.T) {
	f := newFixture(t)
	w := f.do(httptest.NewRequest(http.MethodGet, "/auth?scope=exec:admin&satisfy=sometimes", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProbeExpiredToken(t *testing.T) {
	f := newFixture(t)

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"iat": now.Add(-2 * time.Hour).Unix(),
		"exp": now.Add(-time.Hour).Unix(),
	})
	token.Header["kid"] = f.keys.KeyID()
	encoded, err := token.SignedString(f.keys.Private())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/auth?scope=exec:admin", nil)
	req.Header.Set("Authorization", "Bearer "+encoded)
	w := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), `error="Expired token"`)
}

func TestProbeBasicCredential(t *testing.T) {
	f := newFixture(t)
	encoded, _ := f.issueToken(t, entities.Claims{"sub": "alice", "uid": "alice", "scope": "exec:admin"})

	for _, pair := range []string{encoded + ":x-oauth-basic", "x-oauth-basic:" + encoded} {
		req := httptest.NewRequest(http.MethodGet, "/auth?scope=exec:admin", nil)
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(pair)))
		w := f.do(req)
		assert.Equal(t, http.StatusOK, w.Code, "pair %q", pair)
	}
}

func TestProbeForwardedToken(t *testing.T) {
	f := newFixture(t)
	encoded, _ := f.issueToken(t, entities.Claims{"sub": "alice", "uid": "alice", "scope": "exec:admin"})

	req := httptest.NewRequest(http.MethodGet, "/auth?scope=exec:admin", nil)
	req.Header.Set("X-Forwarded-Access-Token", encoded)
	assert.Equal(t, http.StatusOK, f.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/auth?scope=exec:admin", nil)
	req.Header.Set("X-Forwarded-Ticket-Id-Token", encoded)
	assert.Equal(t, http.StatusOK, f.do(req).Code)
}

func TestProbeSessionCookie(t *testing.T) {
	f := newFixture(t)
	_, h := f.issueToken(t, entities.Claims{"sub": "alice", "uid": "alice", "scope": "exec:admin"})

	req := httptest.NewRequest(http.MethodGet, "/auth?scope=exec:admin", nil)
	req.AddCookie(&http.Cookie{Name: "gafaelfawr", Value: f.sessionCookieValue(t, h, "csrf")})
	assert.Equal(t, http.StatusOK, f.do(req).Code)
}

func TestCookieBeatsTokenScheme(t *testing.T) {
	f := newFixture(t)
	_, h := f.issueToken(t, entities.Claims{"sub": "alice", "uid": "alice", "scope": "exec:admin"})

	req := httptest.NewRequest(http.MethodGet, "/auth?scope=exec:admin", nil)
	req.Header.Set("Authorization", "token not-a-real-token")
	req.AddCookie(&http.Cookie{Name: "gafaelfawr", Value: f.sessionCookieValue(t, h, "csrf")})
	assert.Equal(t, http.StatusOK, f.do(req).Code)
}

func TestOrigAuthorizationOptIn(t *testing.T) {
	f := newFixture(t)
	encoded, _ := f.issueToken(t, entities.Claims{"sub": "alice", "uid": "alice", "scope": "exec:admin"})

	req := httptest.NewRequest(http.MethodGet, "/auth?scope=exec:admin", nil)
	req.Header.Set("X-Orig-Authorization", "Bearer "+encoded)
	assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)

	optIn := newFixtureWith(t, func(cfg *config.Config) {
		cfg.Server.HonorOrigAuthorization = true
	})
	encoded, _ = optIn.issueToken(t, entities.Claims{"sub": "alice", "uid": "alice", "scope": "exec:admin"})
	req = httptest.NewRequest(http.MethodGet, "/auth?scope=exec:admin", nil)
	req.Header.Set("X-Orig-Authorization", "Bearer "+encoded)
	assert.Equal(t, http.StatusOK, optIn.do(req).Code)
}

func TestInternalAudienceReissue(t *testing.T) {
	f := newFixture(t)
	encoded, h := f.issueToken(t, adminClaims())

	req := httptest.NewRequest(http.MethodGet, "/auth?scope=exec:admin&audience="+testInternalAud, nil)
	req.Header.Set("Authorization", "Bearer "+encoded)
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	fresh := w.Header().Get("X-Auth-Request-Token")
	require.NotEmpty(t, fresh)
	require.NotEqual(t, encoded, fresh)

	verified, err := f.verifier.Verify(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, testInternalAud, verified.Claims.Audience())
	assert.NotEqual(t, h.Key, verified.Claims.JTI())

	act, ok := verified.Claims["act"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, testIssuer, act["iss"])
	assert.Equal(t, testAudience, act["aud"])
	assert.Equal(t, h.Key, act["jti"])
}

func TestIngressExchangeEndToEnd(t *testing.T) {
	upstreamKeys, err := keypair.Generate("upstream-key")
	require.NoError(t, err)
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(upstreamKeys.JWKS())
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	f := newFixtureWith(t, func(cfg *config.Config) {
		cfg.Issuer.AcceptedIssuers = []string{srv.URL}
	})

	now := time.Now()
	upstream := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   srv.URL,
		"aud":   testAudience,
		"sub":   "alice",
		"uid":   "alice",
		"jti":   "upstream-jti",
		"scope": "exec:admin",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	upstream.Header["kid"] = "upstream-key"
	encoded, err := upstream.SignedString(upstreamKeys.Private())
	require.NoError(t, err)

	h, err := ticket.New()
	require.NoError(t, err)
	cookie := base64.URLEncoding.EncodeToString([]byte(h.EncodeTicket("oauth2_proxy")))

	req := httptest.NewRequest(http.MethodGet, "/auth?scope=exec:admin", nil)
	req.Header.Set("Authorization", "Bearer "+encoded)
	req.AddCookie(&http.Cookie{Name: "oauth2_proxy", Value: cookie})
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	fresh := w.Header().Get("X-Auth-Request-Token")
	verified, err := f.verifier.Verify(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, testIssuer, verified.Claims.Issuer())
	assert.Equal(t, h.Key, verified.Claims.JTI())

	act, ok := verified.Claims["act"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, srv.URL, act["iss"])
	assert.Equal(t, "upstream-jti", act["jti"])

	assert.Equal(t, h.EncodeTicket("oauth2_proxy"), w.Header().Get("X-Auth-Request-Token-Ticket"))

	// The session store now holds a record under the ticket key.
	sess, err := f.sessions.Get(context.Background(), h)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, fresh, sess.Token)

	// Without the ticket cookie the exchange fails closed.
	req = httptest.NewRequest(http.MethodGet, "/auth?scope=exec:admin", nil)
	req.Header.Set("Authorization", "Bearer "+encoded)
	assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t)
	_, h := f.issueToken(t, adminClaims())

	req := httptest.NewRequest(http.MethodGet, "/auth/analyze", nil)
	req.AddCookie(&http.Cookie{Name: "gafaelfawr", Value: f.sessionCookieValue(t, h, "csrf")})
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	handle := body["handle"].(map[string]interface{})
	assert.Equal(t, h.Key, handle["key"])
	session := body["session"].(map[string]interface{})
	assert.Equal(t, true, session["valid"])
	token := body["token"].(map[string]interface{})
	assert.Equal(t, true, token["valid"])

	// No cookie is a bad request.
	assert.Equal(t, http.StatusBadRequest, f.do(httptest.NewRequest(http.MethodGet, "/auth/analyze", nil)).Code)
}
