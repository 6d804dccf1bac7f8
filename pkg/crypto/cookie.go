package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

var errCookieInvalid = errors.New("invalid cookie ciphertext")

// SealCookie encrypts a browser cookie payload with XSalsa20-Poly1305 under
// the configured 32-byte session secret. The nonce is prepended and the value
// is base64url-encoded.
func SealCookie(key *[32]byte, plaintext []byte) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, key)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// OpenCookie reverses SealCookie.
func OpenCookie(key *[32]byte, value string) ([]byte, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, errCookieInvalid
	}
	if len(sealed) < 24 {
		return nil, errCookieInvalid
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, key)
	if !ok {
		return nil, errCookieInvalid
	}
	return plaintext, nil
}
