package ticket

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrMalformedHandle is returned when a handle or ticket string does not
	// match the expected grammar.
	ErrMalformedHandle = errors.New("malformed session handle")
)

const (
	// rawLen is the number of random bytes behind each handle component.
	rawLen = 16
	// encodedLen is the length of one base64url-encoded component.
	encodedLen = 22
)

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{22}\.[A-Za-z0-9_-]{22}$`)

// Handle is an opaque session identifier. Key is the storage key and Secret
// is the symmetric key for the session record. The secret is never stored
// server-side.
type Handle struct {
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

var randomRead = rand.Read

// New draws a fresh handle from the system's secure random source.
func New() (*Handle, error) {
	key, err := randomComponent()
	if err != nil {
		return nil, err
	}
	secret, err := randomComponent()
	if err != nil {
		return nil, err
	}
	return &Handle{Key: key, Secret: secret}, nil
}

func randomComponent() (string, error) {
	buf := make([]byte, rawLen)
	if _, err := randomRead(buf); err != nil {
		return "", fmt.Errorf("failed to draw handle bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Encode returns the external "<key>.<secret>" representation.
func (h *Handle) Encode() string {
	return h.Key + "." + h.Secret
}

// EncodeTicket returns the legacy oauth2_proxy ticket form
// "<prefix>-<key>.<secret>".
func (h *Handle) EncodeTicket(prefix string) string {
	return prefix + "-" + h.Key + "." + h.Secret
}

// SecretBytes decodes the secret component into raw key material for the
// session record cipher.
func (h *Handle) SecretBytes() ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(h.Secret)
	if err != nil || len(raw) != rawLen {
		return nil, ErrMalformedHandle
	}
	return raw, nil
}

// Parse parses the "<key>.<secret>" form.
func Parse(s string) (*Handle, error) {
	if !handlePattern.MatchString(s) {
		return nil, ErrMalformedHandle
	}
	return &Handle{Key: s[:encodedLen], Secret: s[encodedLen+1:]}, nil
}

// ParseTicket parses the legacy "<prefix>-<key>.<secret>" ticket form.
func ParseTicket(prefix, s string) (*Handle, error) {
	rest, ok := strings.CutPrefix(s, prefix+"-")
	if !ok {
		return nil, ErrMalformedHandle
	}
	return Parse(rest)
}

// FromProxyCookie extracts a ticket from a raw oauth2_proxy cookie value.
// The first pipe-separated segment of the cookie is the base64url-encoded
// ticket.
func FromProxyCookie(prefix, cookieVal string) (*Handle, error) {
	ticketPart, _, _ := strings.Cut(cookieVal, "|")
	decoded, err := base64.URLEncoding.DecodeString(ticketPart)
	if err != nil {
		// Some proxies write the ticket unencoded.
		return ParseTicket(prefix, ticketPart)
	}
	return ParseTicket(prefix, string(decoded))
}
