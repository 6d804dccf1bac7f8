package providers

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
	"token-gate.backend/internal/config"
	"token-gate.backend/internal/domain/entities"
	apperrors "token-gate.backend/internal/domain/errors"
	"token-gate.backend/pkg/logger"
)

// IDTokenVerifier checks an OIDC id_token against the upstream issuer's
// keys. The audience is our client ID rather than a gateway audience.
type IDTokenVerifier interface {
	VerifyForAudience(ctx context.Context, encoded, audience string) (*entities.VerifiedToken, error)
}

// OIDCProvider authenticates against a generic OpenID Connect provider. The
// id_token's claims are passed through apart from the upstream audience; the
// upstream deployment is expected to populate the configured username and
// UID claims.
type OIDCProvider struct {
	oauth    *oauth2.Config
	verifier IDTokenVerifier
	client   *http.Client
}

// NewOIDCProvider creates a new OIDC provider
func NewOIDCProvider(cfg config.OIDCConfig, verifier IDTokenVerifier) *OIDCProvider {
	return &OIDCProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			Scopes: cfg.Scopes,
		},
		verifier: verifier,
		client:   &http.Client{Timeout: upstreamTimeout},
	}
}

// Name identifies the provider in logs
func (p *OIDCProvider) Name() string { return "oidc" }

// AuthorizationURL builds the redirect target for the login start phase.
func (p *OIDCProvider) AuthorizationURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange trades the authorization code for tokens and returns the claims
// of the verified id_token.
func (p *OIDCProvider) Exchange(ctx context.Context, code string) (entities.Claims, error) {
	token, err := p.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, p.client), code)
	if err != nil {
		logger.GetLogger().Warn("OIDC code exchange failed: " + err.Error())
		return nil, apperrors.Upstream(err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, apperrors.Upstream(errors.New("token response carried no id_token"))
	}
	verified, err := p.verifier.VerifyForAudience(ctx, rawIDToken, p.oauth.ClientID)
	if err != nil {
		return nil, apperrors.Unauthenticated("id_token did not verify: " + err.Error())
	}
	// The id_token's aud is our client ID. Drop it so the session token
	// gets the gateway's default audience instead.
	claims := verified.Claims.Clone()
	delete(claims, "aud")
	return claims, nil
}
