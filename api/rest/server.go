// Package rest exposes the execute-workflow use case over HTTP.
package rest

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"

	"yqhp/orchestration-engine/internal/config"
	"yqhp/orchestration-engine/internal/usecase"
)

// Server represents the REST API server.
type Server struct {
	app       *fiber.App
	usecase   *usecase.Service
	config    config.ServerConfig
	started   time.Time
	accessLog bool
}

// Option configures a Server.
type Option func(*Server)

// WithAccessLog toggles the per-request log line.
func WithAccessLog(enabled bool) Option {
	return func(s *Server) { s.accessLog = enabled }
}

// NewServer creates a REST API server over the use case.
func NewServer(uc *usecase.Service, cfg config.ServerConfig, opts ...Option) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		ErrorHandler:          customErrorHandler,
		AppName:               "Function Orchestration Engine API",
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		DisableStartupMessage: true,
	})

	s := &Server{
		app:       app,
		usecase:   uc,
		config:    cfg,
		started:   time.Now(),
		accessLog: true,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))

	if s.accessLog {
		s.app.Use(logger.New(logger.Config{
			Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
			TimeFormat: "2006-01-02 15:04:05",
		}))
	}

	if s.config.EnableCORS {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: "*",
			AllowMethods: "GET,POST,DELETE,OPTIONS",
			AllowHeaders: "Origin,Content-Type,Accept,Authorization",
			MaxAge:       86400,
		}))
	}
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthCheck)
	s.app.Get("/ready", s.readyCheck)

	api := s.app.Group("/api/v1")
	api.Get("/health", s.healthCheck)
	api.Get("/ready", s.readyCheck)

	api.Post("/executions", s.execute)
	api.Get("/executions/:id", s.getExecution)
	api.Get("/executions/:id/result", s.waitExecution)
	api.Post("/executions/:id/pause", s.pauseExecution)
	api.Post("/executions/:id/resume", s.resumeExecution)
	api.Delete("/executions/:id", s.stopExecution)

	// 上下文访问（层级权限）
	api.Get("/executions/:id/contexts/:nodeId", s.accessibleContexts)
	api.Get("/executions/:id/contexts/:nodeId/lateral", s.lateralContexts)
	api.Post("/executions/:id/contexts/access", s.requestAccess)
}

// Start starts the REST API server.
func (s *Server) Start() error {
	return s.app.Listen(s.config.Address)
}

// StartWithContext serves until ctx is done, then shuts down.
func (s *Server) StartWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(s.config.Address)
	}()

	select {
	case <-ctx.Done():
		return s.app.ShutdownWithTimeout(10 * time.Second)
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
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
	return c.Status(code).JSON(Response{
		Code:    code,
		Message: message,
	})
}
