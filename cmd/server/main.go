package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"token-gate.backend/internal/config"
	"token-gate.backend/internal/infrastructure/redisrepo"
	"token-gate.backend/internal/interfaces/http/handlers"
	"token-gate.backend/internal/interfaces/http/middleware"
	"token-gate.backend/internal/usecases"
	"token-gate.backend/internal/usecases/providers"
	"token-gate.backend/pkg/keypair"
	"token-gate.backend/pkg/logger"
	"token-gate.backend/pkg/redis"
)

// Exit codes: 1 for configuration errors, 2 for key-load errors.
const (
	exitConfigError = 1
	exitKeyError    = 2
)

var (
	loadDotenv = godotenv.Load
	loadCfg    = config.Load
	initLog    = logger.Init
	initRedis  = redis.Init
	loadKeys   = keypair.Load
	runServer  = func(r *gin.Engine, port string) error { return r.Run(":" + port) }
)

func main() {
	if err := runMainProcess(); err != nil {
		log.Println(err)
		if code, ok := err.(*startupError); ok {
			os.Exit(code.exitCode)
		}
		os.Exit(1)
	}
}

type startupError struct {
	exitCode int
	err      error
}

func (e *startupError) Error() string { return e.err.Error() }
func (e *startupError) Unwrap() error { return e.err }

func runMainProcess() error {
	// Load .env file
	if err := loadDotenv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load and validate configuration
	cfg := loadCfg()
	if err := cfg.Validate(); err != nil {
		return &startupError{exitConfigError, fmt.Errorf("invalid configuration: %w", err)}
	}

	// Initialize Logger
	initLog(cfg.Server.Env)
	logger.Info(context.Background(), "Logger initialized", zap.String("env", cfg.Server.Env))

	// Load the signing key
	keys, err := loadKeys(cfg.Issuer.KeyFile, cfg.Issuer.KeyID)
	if err != nil {
		return &startupError{exitKeyError, fmt.Errorf("failed to load signing key: %w", err)}
	}
	cookieKey, err := cfg.Session.SecretKey()
	if err != nil {
		return &startupError{exitConfigError, fmt.Errorf("invalid session secret: %w", err)}
	}

	// Initialize Redis
	if err := initRedis(cfg.Redis.URL, cfg.Redis.Password); err != nil {
		logger.Error(context.Background(), "Failed to initialize Redis", zap.Error(err))
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	logger.Info(context.Background(), "Redis initialized")

	// Set Gin mode
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize repositories
	sessionStore := redisrepo.NewSessionStore()
	tokenIndex := redisrepo.NewTokenIndex()
	stateStore := redisrepo.NewStateStore()

	// Initialize usecases
	issuer := usecases.NewIssuer(cfg.Issuer, keys, sessionStore)
	verifier := usecases.NewVerifier(cfg, keys)
	authorizer := usecases.NewAuthorizer(cfg.Scopes)
	reissuer := usecases.NewReissuer(cfg, issuer, authorizer)
	userTokens := usecases.NewUserTokens(cfg, sessionStore, tokenIndex, issuer, authorizer)

	var provider providers.Provider
	if cfg.GitHub.Enabled() {
		provider = providers.NewGitHubProvider(cfg.GitHub, cfg.Claims)
	} else {
		provider = providers.NewOIDCProvider(cfg.OIDC, verifier)
	}
	login := usecases.NewLogin(cfg, provider, stateStore, issuer, authorizer)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(cfg, cookieKey, sessionStore, verifier, authorizer, reissuer)
	loginHandler := handlers.NewLoginHandler(cfg, cookieKey, login, sessionStore)
	tokenHandler := handlers.NewTokenHandler(cfg, userTokens)
	wellKnownHandler := handlers.NewWellKnownHandler(cfg, keys)

	authenticated := middleware.AuthenticatedMiddleware(cfg, cookieKey, sessionStore, verifier)

	// Initialize router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.MetricsMiddleware())

	registerHealthRoute(r)
	registerRoutes(r, routeDeps{
		authHandler:      authHandler,
		loginHandler:     loginHandler,
		tokenHandler:     tokenHandler,
		wellKnownHandler: wellKnownHandler,
		authenticated:    authenticated,
	})

	logger.Info(context.Background(), "starting server",
		zap.String("port", cfg.Server.Port),
		zap.String("issuer", cfg.Issuer.Iss),
		zap.String("provider", provider.Name()),
	)

	if err := runServer(r, cfg.Server.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}
