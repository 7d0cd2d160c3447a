// Package web exposes the pipeline's health metrics over HTTP.
package web

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/n8n-extras/kafka-execution-logger/pkg/metrics"
)

// Pipeline is the read-only slice of the pipeline the handlers need.
type Pipeline interface {
	Metrics() metrics.Snapshot
	IsEnabled() bool
}

// Server serves the health surface on its own listener, outside the host's
// HTTP stack.
type Server struct {
	app      *fiber.App
	logger   *slog.Logger
	pipeline Pipeline
}

func NewServer(pipeline Pipeline, logger *slog.Logger) *Server {
	server := &Server{
		logger:   logger.With("module", "web"),
		pipeline: pipeline,
	}

	app := fiber.New()

	app.Get("/health", server.Health)
	app.Get("/metrics", server.Metrics)

	server.app = app

	return server
}

// Health reports liveness; a disabled pipeline answers with a problem
// document so probes can distinguish "up" from "delivering".
func (s *Server) Health(c fiber.Ctx) error {
	if !s.pipeline.IsEnabled() {
		problem := problems.NewStatusProblem(503).
			WithInstance(c.Path()).
			WithType("pipeline_disabled").
			WithDetail("execution log pipeline is disabled")

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)
	}

	return c.JSON(fiber.Map{
		"status":  "ok",
		"enabled": true,
	})
}

// Metrics returns a snapshot of the pipeline's health counters.
func (s *Server) Metrics(c fiber.Ctx) error {
	return c.JSON(s.pipeline.Metrics())
}

// App returns the underlying fiber app, used by tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on addr without blocking the caller.
func (s *Server) Start(addr string) {
	go func() {
		err := s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
		if err != nil {
			s.logger.Error("Health server stopped", "addr", addr, "error", err)
		}
	}()

	s.logger.Info("Health server listening", "addr", addr)
}

// Stop shuts the listener down; safe to call when Start never ran.
func (s *Server) Stop(ctx context.Context) {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		s.logger.WarnContext(ctx, "Health server shutdown failed", "error", err)
	}
}
