package usecases

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
	jose "github.com/go-jose/go-jose/v3"
	"token-gate.backend/internal/config"
	"token-gate.backend/internal/domain/entities"
	"token-gate.backend/pkg/keypair"
	"token-gate.backend/pkg/logger"
)

// Verification failure kinds. Handlers map these onto the WWW-Authenticate
// error codes.
var (
	ErrNoKID            = errors.New("token header carries no kid")
	ErrUnknownIssuer    = errors.New("token issuer is not trusted")
	ErrSignatureInvalid = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token is expired")
	ErrAudienceMismatch = errors.New("token audience is not accepted")
	ErrMalformedClaims  = errors.New("token claims are malformed")
	ErrKeyFetchFailed   = errors.New("could not fetch issuer keys")
	ErrMalformedToken   = errors.New("token is malformed")
)

var jwksFetches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "token_gate_jwks_fetches_total",
	Help: "JWKS document fetches by issuer and result",
}, []string{"issuer", "result"})

const (
	jwksCacheTTL    = time.Hour
	jwksNegativeTTL = time.Minute
	jwksFetchLimit  = 5 * time.Second

	// iatSkew is the clock skew tolerated on iat. exp gets none.
	iatSkew = time.Minute
)

// requiredClaims must all be present on a gateway token. The parser only
// validates exp when the claim exists, so presence is checked separately.
var requiredClaims = []string{"iss", "aud", "sub", "exp", "iat", "jti", "scope"}

type cachedKey struct {
	key     *rsa.PublicKey
	err     error
	fetched time.Time
}

// jwksCache caches issuer public keys by "issuer|kid". Concurrent misses for
// the same key collapse into one upstream fetch, and failures are held
// briefly so a broken issuer cannot be hammered.
type jwksCache struct {
	mu     sync.Mutex
	keys   map[string]cachedKey
	group  singleflight.Group
	client *http.Client
	now    func() time.Time
}

func newJWKSCache() *jwksCache {
	return &jwksCache{
		keys:   make(map[string]cachedKey),
		client: &http.Client{Timeout: jwksFetchLimit},
		now:    time.Now,
	}
}

func (c *jwksCache) get(ctx context.Context, issuer, kid string) (*rsa.PublicKey, error) {
	cacheKey := issuer + "|" + kid

	c.mu.Lock()
	cached, ok := c.keys[cacheKey]
	c.mu.Unlock()
	if ok {
		ttl := jwksCacheTTL
		if cached.err != nil {
			ttl = jwksNegativeTTL
		}
		if c.now().Sub(cached.fetched) < ttl {
			return cached.key, cached.err
		}
	}

	v, err, _ := c.group.Do(cacheKey, func() (interface{}, error) {
		key, err := c.fetch(ctx, issuer, kid)
		c.mu.Lock()
		c.keys[cacheKey] = cachedKey{key: key, err: err, fetched: c.now()}
		c.mu.Unlock()
		return key, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*rsa.PublicKey), nil
}

func (c *jwksCache) fetch(ctx context.Context, issuer, kid string) (*rsa.PublicKey, error) {
	url := strings.TrimSuffix(issuer, "/") + "/.well-known/jwks.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		jwksFetches.WithLabelValues(issuer, "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrKeyFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		jwksFetches.WithLabelValues(issuer, "error").Inc()
		return nil, fmt.Errorf("%w: %s returned %d", ErrKeyFetchFailed, url, resp.StatusCode)
	}

	var keySet jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&keySet); err != nil {
		jwksFetches.WithLabelValues(issuer, "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrKeyFetchFailed, err)
	}
	jwksFetches.WithLabelValues(issuer, "success").Inc()

	for _, k := range keySet.Key(kid) {
		if pub, ok := k.Key.(*rsa.PublicKey); ok {
			return pub, nil
		}
	}
	return nil, fmt.Errorf("%w: kid %q not in JWKS of %s", ErrSignatureInvalid, kid, issuer)
}

// Verifier validates tokens from any trusted issuer. Our own signing key is
// served locally; foreign issuer keys come from their JWKS documents.
type Verifier struct {
	issuers   map[string]bool
	audiences map[string]bool
	ownIss    string
	ownKey    *keypair.RSAKeyPair
	cache     *jwksCache
	parser    *jwt.Parser
}

// NewVerifier creates a new token verifier
func NewVerifier(cfg *config.Config, ownKey *keypair.RSAKeyPair) *Verifier {
	issuers := make(map[string]bool)
	for _, iss := range cfg.AcceptedIssuers() {
		issuers[iss] = true
	}
	audiences := make(map[string]bool)
	for _, aud := range cfg.AcceptedAudiences() {
		audiences[aud] = true
	}
	return &Verifier{
		issuers:   issuers,
		audiences: audiences,
		ownIss:    cfg.Issuer.Iss,
		ownKey:    ownKey,
		cache:     newJWKSCache(),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithExpirationRequired(),
		),
	}
}

// PeekUnverified decodes the token without checking the signature, for
// routing decisions only. Nothing from the result may be trusted.
func (v *Verifier) PeekUnverified(encoded string) (entities.Claims, error) {
	token, _, err := v.parser.ParseUnverified(encoded, jwt.MapClaims{})
	if err != nil {
		return nil, ErrMalformedToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrMalformedClaims
	}
	return entities.Claims(claims), nil
}

// Verify checks the signature against the issuer's key and validates the
// standard claims. Every claim in requiredClaims must be present.
func (v *Verifier) Verify(ctx context.Context, encoded string) (*entities.VerifiedToken, error) {
	token, err := v.verify(ctx, encoded, func(aud string) bool { return v.audiences[aud] })
	if err != nil {
		return nil, err
	}
	for _, name := range requiredClaims {
		if _, ok := token.Claims[name]; !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedClaims, name)
		}
	}
	return token, nil
}

// VerifyForAudience verifies a token addressed to an explicit audience, such
// as an OIDC id_token addressed to our client ID.
func (v *Verifier) VerifyForAudience(ctx context.Context, encoded, audience string) (*entities.VerifiedToken, error) {
	return v.verify(ctx, encoded, func(aud string) bool { return aud == audience })
}

func (v *Verifier) verify(ctx context.Context, encoded string, audOK func(string) bool) (*entities.VerifiedToken, error) {
	token, err := v.parser.Parse(encoded, func(t *jwt.Token) (interface{}, error) {
		claims, ok := t.Claims.(jwt.MapClaims)
		if !ok {
			return nil, ErrMalformedClaims
		}
		iss, _ := claims["iss"].(string)
		if !v.issuers[iss] {
			return nil, fmt.Errorf("%w: %q", ErrUnknownIssuer, iss)
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrNoKID
		}
		if iss == v.ownIss && kid == v.ownKey.KeyID() {
			return v.ownKey.Public(), nil
		}
		return v.cache.get(ctx, iss, kid)
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrMalformedClaims
	}
	aud, _ := claims["aud"].(string)
	if !audOK(aud) {
		logger.GetLogger().Debug(fmt.Sprintf("rejecting token with audience %q", aud))
		return nil, ErrAudienceMismatch
	}
	if iat := entities.Claims(claims).IssuedAt(); iat.After(time.Now().Add(iatSkew)) {
		return nil, fmt.Errorf("%w: iat is in the future", ErrMalformedClaims)
	}

	return &entities.VerifiedToken{
		Encoded: encoded,
		Header:  token.Header,
		Claims:  entities.Claims(claims),
	}, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownIssuer),
		errors.Is(err, ErrNoKID),
		errors.Is(err, ErrKeyFetchFailed),
		errors.Is(err, ErrMalformedClaims),
		errors.Is(err, ErrSignatureInvalid):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: missing exp", ErrMalformedClaims)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}
