package usecases

import (
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"token-gate.backend/internal/config"
	"token-gate.backend/pkg/keypair"
	redispkg "token-gate.backend/pkg/redis"
)

const (
	testIssuer      = "https://gateway.example.com/"
	testAudience    = "https://example.com/"
	testInternalAud = "https://example.com/api"
)

func testConfig() *config.Config {
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
			SecretHex:    strings.Repeat("ab", 32),
			CookieName:   "gafaelfawr",
			TicketPrefix: "oauth2_proxy",
		},
		Claims: config.ClaimsConfig{
			UsernameKey: "uid",
			UIDKey:      "uidNumber",
		},
		Scopes: config.ScopesConfig{
			Known: map[string]string{
				"exec:admin":    "Administrative access",
				"exec:notebook": "Notebook execution",
				"exec:test":     "Test execution",
				"read:all":      "Read everything",
			},
			GroupMapping: map[string][]string{
				"exec:admin": {"admin"},
			},
		},
	}
}

func testKeys(t *testing.T) *keypair.RSAKeyPair {
	t.Helper()
	keys, err := keypair.Generate("test-key")
	require.NoError(t, err)
	return keys
}

func setupRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	redispkg.SetClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	return mr
}
