package usecases

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"token-gate.backend/internal/config"
	"token-gate.backend/internal/domain/entities"
	apperrors "token-gate.backend/internal/domain/errors"
	"token-gate.backend/pkg/logger"
	"token-gate.backend/pkg/ticket"
)

// ReissueResult is the token handed back to the protected service. When no
// reissue applied it carries the incoming token unchanged.
type ReissueResult struct {
	Encoded  string
	Claims   entities.Claims
	Ticket   string
	Reissued bool
}

// Reissuer exchanges verified upstream tokens for tokens signed by us.
// Foreign-issuer tokens are always exchanged at the ingress; our own tokens
// are exchanged only to step down to the internal audience.
type Reissuer struct {
	cfg        *config.Config
	issuer     *Issuer
	authorizer *Authorizer
}

// NewReissuer creates a new reissuer
func NewReissuer(cfg *config.Config, issuer *Issuer, authorizer *Authorizer) *Reissuer {
	return &Reissuer{cfg: cfg, issuer: issuer, authorizer: authorizer}
}

// actClaim records the identity of the token this one was reissued from.
// Chained reissues nest.
func actClaim(claims entities.Claims) map[string]interface{} {
	act := map[string]interface{}{
		"iss": claims.Issuer(),
		"aud": claims.Audience(),
		"jti": claims.JTI(),
	}
	if prior, ok := claims["act"]; ok {
		act["act"] = prior
	}
	return act
}

// MaybeReissue applies the reissue policy to a verified token. audience is
// the audience query parameter; proxyCookie is the raw oauth2_proxy cookie
// value, or "" when absent.
func (r *Reissuer) MaybeReissue(ctx context.Context, token *entities.VerifiedToken, audience, proxyCookie string) (*ReissueResult, error) {
	if token.Claims.Issuer() != r.cfg.Issuer.Iss {
		return r.exchangeAtIngress(ctx, token, proxyCookie)
	}

	internal := r.cfg.Issuer.AudInternal
	if internal != "" && audience == internal && token.Claims.Audience() == r.cfg.Issuer.Aud {
		return r.stepDownToInternal(ctx, token)
	}

	result := &ReissueResult{Encoded: token.Encoded, Claims: token.Claims}
	if proxyCookie != "" {
		if h, err := ticket.FromProxyCookie(r.cfg.Session.TicketPrefix, proxyCookie); err == nil {
			result.Ticket = h.EncodeTicket(r.cfg.Session.TicketPrefix)
		}
	}
	return result, nil
}

// exchangeAtIngress replaces a foreign-issuer token with one of ours, bound
// to the proxy's session ticket so the handle can later retrieve the token.
// Without a parseable ticket the exchange fails closed.
func (r *Reissuer) exchangeAtIngress(ctx context.Context, token *entities.VerifiedToken, proxyCookie string) (*ReissueResult, error) {
	if proxyCookie == "" {
		return nil, apperrors.Unauthenticated("upstream token requires a session ticket")
	}
	h, err := ticket.FromProxyCookie(r.cfg.Session.TicketPrefix, proxyCookie)
	if err != nil {
		logger.GetLogger().Warn("rejecting upstream token with unparseable session ticket")
		return nil, apperrors.Unauthenticated("session ticket is malformed")
	}

	claims := token.Claims.Clone()
	claims["scope"] = strings.Join(ScopeList(r.authorizer.TokenScopes(token.Claims)), " ")
	claims["aud"] = r.cfg.Issuer.Aud
	claims["act"] = actClaim(token.Claims)

	encoded, _, err := r.issuer.IssueAndStore(ctx, claims, h)
	if err != nil {
		return nil, err
	}
	verified, err := peekIssued(encoded)
	if err != nil {
		return nil, err
	}
	return &ReissueResult{
		Encoded:  encoded,
		Claims:   verified,
		Ticket:   h.EncodeTicket(r.cfg.Session.TicketPrefix),
		Reissued: true,
	}, nil
}

// stepDownToInternal mints a narrower token for service-to-service calls. No
// session record is written: the internal token is never presented back
// through a handle.
func (r *Reissuer) stepDownToInternal(ctx context.Context, token *entities.VerifiedToken) (*ReissueResult, error) {
	h, err := ticket.New()
	if err != nil {
		return nil, apperrors.Upstream(err)
	}

	claims := token.Claims.Clone()
	claims["aud"] = r.cfg.Issuer.AudInternal
	claims["act"] = actClaim(token.Claims)

	encoded, _, err := r.issuer.Issue(claims, h)
	if err != nil {
		return nil, err
	}
	verified, err := peekIssued(encoded)
	if err != nil {
		return nil, err
	}
	return &ReissueResult{
		Encoded:  encoded,
		Claims:   verified,
		Ticket:   h.EncodeTicket(r.cfg.Session.TicketPrefix),
		Reissued: true,
	}, nil
}

// peekIssued reparses a token we just signed so downstream consumers see the
// normalized claim set.
func peekIssued(encoded string) (entities.Claims, error) {
	parts := strings.Split(encoded, ".")
	if len(parts) != 3 {
		return nil, apperrors.Upstream(ErrMalformedToken)
	}
	claims, err := decodeClaimsSegment(parts[1])
	if err != nil {
		return nil, apperrors.Upstream(err)
	}
	return claims, nil
}

func decodeClaimsSegment(segment string) (entities.Claims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, err
	}
	var claims entities.Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}
