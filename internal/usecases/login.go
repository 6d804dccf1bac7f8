package usecases

import (
	"context"
	"net/url"
	"strings"
	"time"

	"token-gate.backend/internal/config"
	"token-gate.backend/internal/domain/entities"
	apperrors "token-gate.backend/internal/domain/errors"
	"token-gate.backend/internal/domain/repositories"
	"token-gate.backend/internal/usecases/providers"
	"token-gate.backend/pkg/crypto"
	"token-gate.backend/pkg/logger"
	"token-gate.backend/pkg/ticket"
)

const loginStateTTL = 15 * time.Minute

// Login drives the two-phase browser login against the configured upstream
// provider.
type Login struct {
	cfg        *config.Config
	provider   providers.Provider
	states     repositories.StateStore
	issuer     *Issuer
	authorizer *Authorizer
}

// NewLogin creates a new login usecase
func NewLogin(cfg *config.Config, provider providers.Provider, states repositories.StateStore, issuer *Issuer, authorizer *Authorizer) *Login {
	return &Login{cfg: cfg, provider: provider, states: states, issuer: issuer, authorizer: authorizer}
}

// Start validates the return URL, parks it under a fresh state parameter and
// returns the provider authorization URL to redirect to.
func (l *Login) Start(ctx context.Context, returnURL, currentHost string) (string, error) {
	if returnURL == "" {
		return "", apperrors.BadRequest("no destination URL for login")
	}
	u, err := url.Parse(returnURL)
	if err != nil {
		return "", apperrors.BadRequest("destination URL does not parse")
	}
	// Relative URLs stay on the current host; absolute ones must point at us
	// or at an allow-listed host.
	if u.Host != "" && !strings.EqualFold(u.Host, currentHost) && !l.hostAllowed(u.Host) {
		return "", apperrors.BadRequest("destination URL host is not allowed")
	}

	state, err := crypto.GenerateState()
	if err != nil {
		return "", apperrors.Upstream(err)
	}
	record := &entities.LoginState{ReturnURL: returnURL, CreatedAt: time.Now().Unix()}
	if err := l.states.Put(ctx, state, record, loginStateTTL); err != nil {
		return "", apperrors.Upstream(err)
	}
	return l.provider.AuthorizationURL(state), nil
}

func (l *Login) hostAllowed(host string) bool {
	for _, allowed := range l.cfg.Server.AllowedHosts {
		if strings.EqualFold(host, allowed) {
			return true
		}
	}
	return false
}

// Callback consumes the state parameter, exchanges the code upstream, and
// establishes the session. The state is gone after this call whether or not
// the exchange succeeds.
func (l *Login) Callback(ctx context.Context, code, state string) (*ticket.Handle, string, error) {
	record, err := l.states.Take(ctx, state)
	if err != nil {
		return nil, "", apperrors.Upstream(err)
	}
	if record == nil {
		return nil, "", apperrors.BadRequest("login state is missing or expired")
	}

	claims, err := l.provider.Exchange(ctx, code)
	if err != nil {
		return nil, "", err
	}
	claims["scope"] = strings.Join(ScopeList(l.authorizer.TokenScopes(claims)), " ")

	h, err := ticket.New()
	if err != nil {
		return nil, "", apperrors.Upstream(err)
	}
	if _, _, err := l.issuer.IssueAndStore(ctx, claims, h); err != nil {
		return nil, "", err
	}

	logger.GetLogger().Info("login established for " + claims.String(l.cfg.Claims.UsernameKey) + " via " + l.provider.Name())
	return h, record.ReturnURL, nil
}
