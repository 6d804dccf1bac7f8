package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"token-gate.backend/internal/config"
	"token-gate.backend/internal/domain/entities"
	apperrors "token-gate.backend/internal/domain/errors"
	"token-gate.backend/pkg/logger"
)

// GitHubProvider authenticates against GitHub OAuth and normalizes the
// GitHub user, primary email and team memberships into our claim
// vocabulary.
type GitHubProvider struct {
	oauth  *oauth2.Config
	apiURL string
	claims config.ClaimsConfig
	client *http.Client
}

// NewGitHubProvider creates a new GitHub provider
func NewGitHubProvider(cfg config.GitHubConfig, claims config.ClaimsConfig) *GitHubProvider {
	return &GitHubProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			Scopes: []string{"read:org", "user:email"},
		},
		apiURL: strings.TrimSuffix(cfg.APIURL, "/"),
		claims: claims,
		client: &http.Client{Timeout: upstreamTimeout},
	}
}

// Name identifies the provider in logs
func (p *GitHubProvider) Name() string { return "github" }

// AuthorizationURL builds the redirect target for the login start phase.
func (p *GitHubProvider) AuthorizationURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

type githubUser struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
	Name  string `json:"name"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

type githubTeam struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
	ID   int64  `json:"id"`
	Org  struct {
		Login string `json:"login"`
	} `json:"organization"`
}

// Exchange trades the authorization code for a GitHub token and assembles
// the normalized claim set.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (entities.Claims, error) {
	token, err := p.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, p.client), code)
	if err != nil {
		logger.GetLogger().Warn("GitHub code exchange failed: " + err.Error())
		return nil, apperrors.Upstream(err)
	}

	var user githubUser
	if err := p.getJSON(ctx, token, "/user", &user); err != nil {
		return nil, err
	}
	var emails []githubEmail
	if err := p.getJSON(ctx, token, "/user/emails", &emails); err != nil {
		return nil, err
	}
	var teams []githubTeam
	if err := p.getJSON(ctx, token, "/user/teams", &teams); err != nil {
		return nil, err
	}

	groups := make([]entities.Group, 0, len(teams))
	for _, t := range teams {
		name := normalizeGroupName(t.Org.Login + "-" + t.Slug)
		groups = append(groups, entities.Group{Name: name, ID: t.ID})
	}

	claims := entities.Claims{
		"sub":                user.Login,
		p.claims.UsernameKey: user.Login,
		p.claims.UIDKey:      strconv.FormatInt(user.ID, 10),
		"name":               user.Name,
		"isMemberOf":         groups,
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			claims["email"] = e.Email
			break
		}
	}
	return claims, nil
}

func (p *GitHubProvider) getJSON(ctx context.Context, token *oauth2.Token, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+path, nil)
	if err != nil {
		return apperrors.Upstream(err)
	}
	req.Header.Set("Authorization", "token "+token.AccessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.client.Do(req)
	if err != nil {
		return apperrors.Upstream(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperrors.Upstream(fmt.Errorf("GitHub API %s returned %d", path, resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Upstream(err)
	}
	return nil
}
