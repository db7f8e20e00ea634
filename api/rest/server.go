// Package rest provides the HTTP and WebSocket surface of the orchestrator.
package rest

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"

	"btk/orchestrator/internal/orchestrator"
)

// Server represents the orchestrator's REST API server.
type Server struct {
	app    *fiber.App
	orch   *orchestrator.Orchestrator
	hub    *BackendHub
	config *Config

	// shutdownFn is invoked by the shutdown endpoint after the grace delay.
	shutdownFn func()
}

// Config holds the configuration for the REST API server.
type Config struct {
	// Address is the address to listen on (e.g., ":8080").
	Address string `yaml:"address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing.
	EnableCORS bool `yaml:"enable_cors"`

	// ShutdownGrace is how long the shutdown endpoint waits before the
	// process actually stops.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// Auth holds authentication configuration.
	Auth *AuthConfig `yaml:"auth,omitempty"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// Enabled enables authentication.
	Enabled bool `yaml:"enabled"`

	// APIKey is the key expected in the X-API-Key header.
	APIKey string `yaml:"api_key,omitempty"`
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:       ":8080",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		EnableCORS:    true,
		ShutdownGrace: 2 * time.Second,
		Auth:          nil,
	}
}

// NewServer creates a new REST API server around an orchestrator.
func NewServer(orch *orchestrator.Orchestrator, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		ErrorHandler: customErrorHandler,
		AppName:      "Orchestrator API",
	})

	server := &Server{
		app:    app,
		orch:   orch,
		config: config,
	}
	server.hub = NewBackendHub(server)

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// SetShutdownFunc installs the process-stop callback used by the shutdown
// endpoint. Without one, the endpoint only stops the HTTP listener.
func (s *Server) SetShutdownFunc(fn func()) {
	s.shutdownFn = fn
}

// Hub returns the backend WebSocket hub.
func (s *Server) Hub() *BackendHub {
	return s.hub
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	// Recovery middleware - recovers from panics
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))

	// Logger middleware - logs HTTP requests
	s.app.Use(fiberlogger.New(fiberlogger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	// CORS middleware
	if s.config.EnableCORS {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins:     "*",
			AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
			AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-API-Key",
			AllowCredentials: false,
			MaxAge:           86400,
		}))
	}

	// Authentication middleware (if enabled)
	if s.config.Auth != nil && s.config.Auth.Enabled {
		s.app.Use(s.apiKeyAuth)
	}
}

// apiKeyAuth validates API key authentication. Health probes stay open.
func (s *Server) apiKeyAuth(c *fiber.Ctx) error {
	path := c.Path()
	if path == "/health" || path == "/ping" || path == "/api/v1/health" || path == "/api/v1/ping" {
		return c.Next()
	}

	apiKey := c.Get("X-API-Key")
	if apiKey == "" {
		apiKey = c.Query("api_key")
	}

	if apiKey == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:   "unauthorized",
			Message: "API key is required",
		})
	}
	if apiKey != s.config.Auth.APIKey {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:   "unauthorized",
			Message: "Invalid API key",
		})
	}
	return c.Next()
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	// Health check endpoints
	s.app.Get("/health", s.healthCheck)
	s.app.Get("/ping", s.ping)
	s.app.Post("/shutdown", s.shutdown)

	// API v1 routes
	api := s.app.Group("/api/v1")

	// Health check endpoints (also under /api/v1)
	api.Get("/health", s.healthCheck)
	api.Get("/ping", s.ping)

	// Task routes
	api.Post("/tasks", s.submitTask)

	// Tool discovery
	api.Get("/tools", s.listTools)

	// Backend routes
	api.Get("/backends", s.listBackends)

	// Session routes
	api.Post("/sessions", s.startSession)
	api.Get("/sessions", s.listSessions)
	api.Get("/sessions/:id", s.getSession)
	api.Post("/sessions/:id/step", s.stepSession)
	api.Delete("/sessions/:id", s.endSession)

	// Backend bridge WebSocket
	s.setupBridgeRoute()
}

// Start starts the REST API server.
func (s *Server) Start() error {
	return s.app.Listen(s.config.Address)
}

// StartWithContext starts the REST API server with context support.
func (s *Server) StartWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.app.Listen(s.config.Address)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// ShutdownWithTimeout gracefully shuts down the server with a timeout.
func (s *Server) ShutdownWithTimeout(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// customErrorHandler handles errors returned by handlers.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: message,
	})
}
