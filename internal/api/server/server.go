package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ledgerkit/bank-sync/internal/adapter"
	"github.com/ledgerkit/bank-sync/internal/api/middleware"
	"github.com/ledgerkit/bank-sync/internal/api/rest"
	"github.com/ledgerkit/bank-sync/internal/config"
	"github.com/ledgerkit/bank-sync/internal/logger"
	"github.com/ledgerkit/bank-sync/internal/messaging"
	"github.com/ledgerkit/bank-sync/internal/providers"
	"github.com/ledgerkit/bank-sync/internal/store"
	"github.com/ledgerkit/bank-sync/internal/token"
)

// Config holds the server configuration
type Config struct {
	Debug        bool
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// AllowedOrigins restricts CORS; empty allows all origins
	AllowedOrigins []string
	Auth           middleware.AuthConfig
	OAuth          config.OAuthConfig
	Providers      config.ProvidersConfig
}

// Server wraps the HTTP server
type Server struct {
	config     Config
	store      store.Store
	registry   *providers.Registry
	tokens     *token.Manager
	publisher  messaging.Publisher
	clock      adapter.Clock
	httpServer *http.Server
}

// New creates a new API server
func New(
	cfg Config,
	s store.Store,
	registry *providers.Registry,
	tokens *token.Manager,
	publisher messaging.Publisher,
	clock adapter.Clock,
) *Server {
	return &Server{
		config:    cfg,
		store:     s,
		registry:  registry,
		tokens:    tokens,
		publisher: publisher,
		clock:     clock,
	}
}

// Start initializes and starts the HTTP server
func (s *Server) Start() error {
	// Set Gin mode based on debug flag
	if s.config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Setup middleware
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.SetupCORS(s.config.AllowedOrigins))

	// Create REST handler
	states := rest.NewStateSigner(s.config.OAuth.StateSecret, s.config.OAuth.StateTTL, s.clock)
	restHandler := rest.NewHandler(
		s.store,
		s.registry,
		s.tokens,
		s.publisher,
		s.clock,
		states,
		s.config.Providers,
		s.config.OAuth.SuccessRedirectURL,
	)

	// Setup REST routes
	rest.SetupRoutes(router, restHandler, s.config.Auth)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	logger.Info("Starting API server",
		zap.String("address", addr),
	)

	// Start server
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down API server")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	return nil
}
