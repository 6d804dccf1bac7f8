package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"token-gate.backend/internal/interfaces/http/handlers"
	"token-gate.backend/internal/interfaces/http/middleware"
)

type routeDeps struct {
	authHandler      *handlers.AuthHandler
	loginHandler     *handlers.LoginHandler
	tokenHandler     *handlers.TokenHandler
	wellKnownHandler *handlers.WellKnownHandler
	authenticated    gin.HandlerFunc
}

func registerHealthRoute(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func registerRoutes(r *gin.Engine, d routeDeps) {
	// Probe and introspection endpoints the ingress calls
	r.GET("/auth", d.authHandler.Probe)
	r.GET("/auth/analyze", d.authHandler.Analyze)

	// Browser login flow
	r.GET("/login", d.loginHandler.Login)
	r.GET("/logout", d.loginHandler.Logout)

	// Key discovery
	wellKnown := r.Group("/.well-known")
	{
		wellKnown.GET("/jwks.json", d.wellKnownHandler.JWKS)
		wellKnown.GET("/openid-configuration", d.wellKnownHandler.OpenIDConfiguration)
	}

	// User token management (authenticated)
	tokens := r.Group("/auth/tokens")
	tokens.Use(d.authenticated)
	{
		tokens.GET("", d.tokenHandler.List)
		tokens.GET("/new", d.tokenHandler.NewForm)
		tokens.POST("/new", d.tokenHandler.Create)
		tokens.GET("/:handle", d.tokenHandler.Get)
		tokens.POST("/:handle", d.tokenHandler.Modify)
	}

	// Prometheus scrape endpoint
	r.GET("/metrics", middleware.MetricsHandler())
}
