package handlers

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"token-gate.backend/internal/config"
	"token-gate.backend/internal/interfaces/http/response"
	"token-gate.backend/pkg/keypair"
)

// WellKnownHandler serves the key discovery documents.
type WellKnownHandler struct {
	cfg  *config.Config
	keys *keypair.RSAKeyPair
}

// NewWellKnownHandler creates a new well-known handler
func NewWellKnownHandler(cfg *config.Config, keys *keypair.RSAKeyPair) *WellKnownHandler {
	return &WellKnownHandler{cfg: cfg, keys: keys}
}

// JWKS publishes the signing public key
// GET /.well-known/jwks.json
func (h *WellKnownHandler) JWKS(c *gin.Context) {
	response.Success(c, http.StatusOK, h.keys.JWKS())
}

// OpenIDConfiguration publishes a minimal discovery document
// GET /.well-known/openid-configuration
func (h *WellKnownHandler) OpenIDConfiguration(c *gin.Context) {
	iss := strings.TrimSuffix(h.cfg.Issuer.Iss, "/")

	scopes := make([]string, 0, len(h.cfg.Scopes.Known))
	for s := range h.cfg.Scopes.Known {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)

	response.Success(c, http.StatusOK, gin.H{
		"issuer":                                h.cfg.Issuer.Iss,
		"jwks_uri":                              iss + "/.well-known/jwks.json",
		"authorization_endpoint":                iss + "/login",
		"token_endpoint":                        iss + "/token",
		"response_types_supported":              []string{"code"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"scopes_supported":                      scopes,
	})
}
