package keypair

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	keys, err := Generate("test-key")
	require.NoError(t, err)

	assert.Equal(t, "test-key", keys.KeyID())
	assert.NotNil(t, keys.Private())
	assert.Equal(t, keys.Private().PublicKey, *keys.Public())
}

func TestLoadRoundTrip(t *testing.T) {
	keys, err := Generate("round-trip")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, []byte(keys.PrivatePEM()), 0o600))

	loaded, err := Load(path, "round-trip")
	require.NoError(t, err)
	assert.Equal(t, keys.Public(), loaded.Public())
}

func TestLoadFailures(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.pem"), "kid")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a pem file"), 0o600))
	_, err = Load(path, "kid")
	assert.Error(t, err)
}

func TestJWKS(t *testing.T) {
	keys, err := Generate("jwks-kid")
	require.NoError(t, err)

	set := keys.JWKS()
	require.Len(t, set.Keys, 1)
	jwk := set.Keys[0]
	assert.Equal(t, "jwks-kid", jwk.KeyID)
	assert.Equal(t, "RS256", jwk.Algorithm)
	assert.Equal(t, "sig", jwk.Use)

	matches := set.Key("jwks-kid")
	require.Len(t, matches, 1)
}

func TestPublicPEM(t *testing.T) {
	keys, err := Generate("pem-kid")
	require.NoError(t, err)

	pem, err := keys.PublicPEM()
	require.NoError(t, err)
	assert.Contains(t, pem, "BEGIN PUBLIC KEY")
}
