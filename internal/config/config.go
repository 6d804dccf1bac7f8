package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values
type Config struct {
	Server  ServerConfig
	Redis   RedisConfig
	Issuer  IssuerConfig
	Session SessionConfig
	Claims  ClaimsConfig
	Scopes  ScopesConfig
	GitHub  GitHubConfig
	OIDC    OIDCConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port                   string
	Env                    string
	Realm                  string
	WWWAuthenticate        string
	SetUserHeaders         bool
	HonorOrigAuthorization bool
	AllowedHosts           []string
	AfterLogoutURL         string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string
	Password string
}

// IssuerConfig holds the internal token issuer configuration
type IssuerConfig struct {
	Iss         string
	Aud         string
	AudInternal string
	KeyFile     string
	KeyID       string
	Expiry      time.Duration
	// Extra issuers whose JWKS the verifier may fetch, beyond our own and
	// the OIDC provider's.
	AcceptedIssuers []string
}

// SessionConfig holds the browser session cookie configuration
type SessionConfig struct {
	SecretHex    string
	CookieName   string
	TicketPrefix string
}

// ClaimsConfig names the deployment-configurable claim keys
type ClaimsConfig struct {
	UsernameKey string
	UIDKey      string
}

// ScopesConfig holds the known scope catalog and the group-to-scope mapping
type ScopesConfig struct {
	Known        map[string]string
	GroupMapping map[string][]string
}

// GitHubConfig holds the GitHub provider block
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	APIURL       string
	AuthURL      string
	TokenURL     string
}

// Enabled reports whether the GitHub provider is configured
func (c GitHubConfig) Enabled() bool {
	return c.ClientID != ""
}

// OIDCConfig holds the generic OIDC provider block
type OIDCConfig struct {
	ClientID     string
	ClientSecret string
	Issuer       string
	AuthURL      string
	TokenURL     string
	Scopes       []string
}

// Enabled reports whether the OIDC provider is configured
func (c OIDCConfig) Enabled() bool {
	return c.ClientID != ""
}

// SecretKey decodes the 32-byte session cookie key
func (c SessionConfig) SecretKey() (*[32]byte, error) {
	raw, err := hex.DecodeString(c.SecretHex)
	if err != nil {
		return nil, errors.New("invalid session secret hex")
	}
	if len(raw) != 32 {
		return nil, errors.New("session secret must be 32 bytes (64 hex chars)")
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// AcceptedAudiences returns the audiences the verifier accepts
func (c *Config) AcceptedAudiences() []string {
	auds := []string{c.Issuer.Aud}
	if c.Issuer.AudInternal != "" {
		auds = append(auds, c.Issuer.AudInternal)
	}
	return auds
}

// AcceptedIssuers returns every issuer the verifier may trust
func (c *Config) AcceptedIssuers() []string {
	issuers := []string{c.Issuer.Iss}
	if c.OIDC.Enabled() && c.OIDC.Issuer != "" {
		issuers = append(issuers, c.OIDC.Issuer)
	}
	issuers = append(issuers, c.Issuer.AcceptedIssuers...)
	return issuers
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                   getEnv("SERVER_PORT", "8080"),
			Env:                    getEnv("SERVER_ENV", "development"),
			Realm:                  getEnv("REALM", "tokens"),
			WWWAuthenticate:        strings.ToLower(getEnv("WWW_AUTHENTICATE", "bearer")),
			SetUserHeaders:         getEnvAsBool("SET_USER_HEADERS", true),
			HonorOrigAuthorization: getEnvAsBool("HONOR_ORIG_AUTHORIZATION", false),
			AllowedHosts:           getEnvAsList("ALLOWED_HOSTS"),
			AfterLogoutURL:         getEnv("AFTER_LOGOUT_URL", "/"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		Issuer: IssuerConfig{
			Iss:             getEnv("ISSUER_URL", ""),
			Aud:             getEnv("DEFAULT_AUDIENCE", ""),
			AudInternal:     getEnv("INTERNAL_AUDIENCE", ""),
			KeyFile:         getEnv("ISSUER_KEY_FILE", ""),
			KeyID:           getEnv("ISSUER_KEY_ID", "gateway-key"),
			Expiry:          getEnvAsDuration("TOKEN_EXPIRY", 24*time.Hour),
			AcceptedIssuers: getEnvAsList("ACCEPTED_ISSUERS"),
		},
		Session: SessionConfig{
			SecretHex:    getEnv("SESSION_SECRET", ""),
			CookieName:   getEnv("SESSION_COOKIE_NAME", "gafaelfawr"),
			TicketPrefix: getEnv("TICKET_PREFIX", "oauth2_proxy"),
		},
		Claims: ClaimsConfig{
			UsernameKey: getEnv("USERNAME_CLAIM", "uid"),
			UIDKey:      getEnv("UID_CLAIM", "uidNumber"),
		},
		Scopes: ScopesConfig{
			Known:        parseScopeCatalog(getEnv("KNOWN_SCOPES", "read:all:Read everything")),
			GroupMapping: parseGroupMapping(getEnv("GROUP_MAPPING", "")),
		},
		GitHub: GitHubConfig{
			ClientID:     getEnv("GITHUB_CLIENT_ID", ""),
			ClientSecret: getEnv("GITHUB_CLIENT_SECRET", ""),
			APIURL:       getEnv("GITHUB_API_URL", "https://api.github.com"),
			AuthURL:      getEnv("GITHUB_AUTH_URL", "https://github.com/login/oauth/authorize"),
			TokenURL:     getEnv("GITHUB_TOKEN_URL", "https://github.com/login/oauth/access_token"),
		},
		OIDC: OIDCConfig{
			ClientID:     getEnv("OIDC_CLIENT_ID", ""),
			ClientSecret: getEnv("OIDC_CLIENT_SECRET", ""),
			Issuer:       getEnv("OIDC_ISSUER", ""),
			AuthURL:      getEnv("OIDC_AUTH_URL", ""),
			TokenURL:     getEnv("OIDC_TOKEN_URL", ""),
			Scopes:       getEnvAsListDefault("OIDC_SCOPES", []string{"openid", "profile", "email"}),
		},
	}
}

// Validate rejects incomplete or contradictory settings at startup
func (c *Config) Validate() error {
	if c.Issuer.Iss == "" {
		return errors.New("ISSUER_URL is required")
	}
	if u, err := url.Parse(c.Issuer.Iss); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("ISSUER_URL is not an absolute URL: %q", c.Issuer.Iss)
	}
	if c.Issuer.Aud == "" {
		return errors.New("DEFAULT_AUDIENCE is required")
	}
	if c.Issuer.KeyFile == "" {
		return errors.New("ISSUER_KEY_FILE is required")
	}
	if _, err := c.Session.SecretKey(); err != nil {
		return fmt.Errorf("SESSION_SECRET: %w", err)
	}
	if c.Server.WWWAuthenticate != "bearer" && c.Server.WWWAuthenticate != "basic" {
		return fmt.Errorf("WWW_AUTHENTICATE must be bearer or basic, got %q", c.Server.WWWAuthenticate)
	}
	if c.GitHub.Enabled() == c.OIDC.Enabled() {
		return errors.New("exactly one of the GITHUB_* and OIDC_* provider blocks must be configured")
	}
	if c.OIDC.Enabled() {
		if c.OIDC.Issuer == "" || c.OIDC.AuthURL == "" || c.OIDC.TokenURL == "" {
			return errors.New("OIDC provider requires OIDC_ISSUER, OIDC_AUTH_URL and OIDC_TOKEN_URL")
		}
	}
	return nil
}

// parseScopeCatalog parses "name:description;name:description"
func parseScopeCatalog(raw string) map[string]string {
	catalog := make(map[string]string)
	for _, item := range strings.Split(raw, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		// Scope names themselves contain a colon (exec:admin), so split on
		// the last one.
		idx := strings.LastIndex(item, ":")
		if idx <= 0 {
			catalog[item] = ""
			continue
		}
		catalog[item[:idx]] = item[idx+1:]
	}
	return catalog
}

// parseGroupMapping parses "scope=group1|group2;scope=group3"
func parseGroupMapping(raw string) map[string][]string {
	mapping := make(map[string][]string)
	for _, item := range strings.Split(raw, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		scope, groups, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		for _, g := range strings.Split(groups, "|") {
			if g = strings.TrimSpace(g); g != "" {
				mapping[scope] = append(mapping[scope], g)
			}
		}
	}
	return mapping
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	return getEnvAsListDefault(key, nil)
}

func getEnvAsListDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
