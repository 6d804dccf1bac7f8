package keypair

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	jose "github.com/go-jose/go-jose/v3"
)

const keySize = 2048

// RSAKeyPair wraps the deployment signing key. The key is immutable after
// startup.
type RSAKeyPair struct {
	key *rsa.PrivateKey
	kid string
}

// Load reads a PEM-encoded RSA private key (PKCS#1 or PKCS#8) from path.
func Load(path, kid string) (*RSAKeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block in key file")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &RSAKeyPair{key: key, kid: kid}, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("key file does not contain an RSA key")
	}
	return &RSAKeyPair{key: key, kid: kid}, nil
}

// Generate creates a fresh keypair. Used by the key generation command and
// by tests.
func Generate(kid string) (*RSAKeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return &RSAKeyPair{key: key, kid: kid}, nil
}

// Private returns the signing key.
func (k *RSAKeyPair) Private() *rsa.PrivateKey {
	return k.key
}

// Public returns the verification key.
func (k *RSAKeyPair) Public() *rsa.PublicKey {
	return &k.key.PublicKey
}

// KeyID returns the configured kid.
func (k *RSAKeyPair) KeyID() string {
	return k.kid
}

// JWKS returns the public key as a JSON Web Key Set for
// /.well-known/jwks.json.
func (k *RSAKeyPair) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       k.Public(),
				KeyID:     k.kid,
				Algorithm: "RS256",
				Use:       "sig",
			},
		},
	}
}

// PrivatePEM serializes the private key as PKCS#1 PEM.
func (k *RSAKeyPair) PrivatePEM() string {
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(k.key),
	}
	return string(pem.EncodeToMemory(block))
}

// PublicPEM serializes the public key as PKIX PEM for external verification.
func (k *RSAKeyPair) PublicPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(k.Public())
	if err != nil {
		return "", err
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}
