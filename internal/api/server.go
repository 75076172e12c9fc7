// Package api exposes monitors, history and the scheduler over HTTP.
package api

import (
	"errors"
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1broseidon/beacon/internal/config"
	"github.com/1broseidon/beacon/internal/logging"
	"github.com/1broseidon/beacon/internal/metrics"
	"github.com/1broseidon/beacon/internal/monitors"
	"github.com/1broseidon/beacon/internal/scheduler"
	"github.com/1broseidon/beacon/internal/storage"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// Deps are the collaborators the server routes to
type Deps struct {
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Manager   *monitors.Manager
	Scheduler *scheduler.Scheduler
	Store     storage.Store
}

// Server represents the API server
type Server struct {
	app       *fiber.App
	config    *config.Config
	logger    *logging.Logger
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	manager   *monitors.Manager
	scheduler *scheduler.Scheduler
	store     storage.Store
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps Deps) *Server {
	log := deps.Logger.WithComponent(logging.ComponentAPI)

	app := fiber.New(fiber.Config{
		AppName:               "Beacon v" + Version,
		DisableStartupMessage: true,
		ServerHeader:          "Beacon",
		ErrorHandler:          errorHandler(log),
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           120 * time.Second,
	})

	s := &Server{
		app:       app,
		config:    cfg,
		logger:    log,
		metrics:   deps.Metrics,
		gatherer:  deps.Gatherer,
		manager:   deps.Manager,
		scheduler: deps.Scheduler,
		store:     deps.Store,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures Fiber middleware
func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	corsOrigins := "*"
	if len(s.config.Server.CORSOrigins) > 0 {
		corsOrigins = strings.Join(s.config.Server.CORSOrigins, ",")
	}
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: corsOrigins,
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	s.app.Use(s.requestLogger)
}

// requestLogger records every request as a metric and a debug log line,
// labelled with the route pattern rather than the raw path.
func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else {
			status = fiber.StatusInternalServerError
		}
	}

	route := c.Route().Path
	s.metrics.RecordHTTPRequest(c.Method(), route, status)
	s.logger.WithFields(map[string]interface{}{
		"method":   c.Method(),
		"route":    route,
		"status":   status,
		"duration": time.Since(start).String(),
	}).Debug("HTTP request")
	return err
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthHandler)
	s.app.Get("/ready", s.readyHandler)
	if s.config.Metrics.Enabled && s.gatherer != nil {
		path := s.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.app.Get(path, adaptor.HTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := s.app.Group("/api/v1")

	api.Get("/monitors", s.listMonitorsHandler)
	api.Post("/monitors", s.createMonitorHandler)
	api.Get("/monitors/:id", s.getMonitorHandler)
	api.Put("/monitors/:id", s.updateMonitorHandler)
	api.Delete("/monitors/:id", s.deleteMonitorHandler)
	api.Post("/monitors/:id/trigger", s.triggerHandler)
	api.Get("/monitors/:id/history", s.historyHandler)
	api.Get("/monitors/:id/recent", s.recentHandler)
	api.Get("/monitors/:id/uptime", s.uptimeHandler)

	api.Get("/scheduler", s.schedulerHandler)
	api.Get("/config", s.getConfigHandler)
}

// Start starts the server
func (s *Server) Start() error {
	address := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)

	s.logger.WithEvent(logging.EventServerStart).
		WithFields(map[string]interface{}{
			"address": address,
		}).
		Info("Starting HTTP server")

	return s.app.Listen(address)
}

// Stop gracefully stops the server
func (s *Server) Stop(timeout time.Duration) error {
	s.logger.WithEvent(logging.EventServerStop).Info("Stopping HTTP server")
	return s.app.ShutdownWithTimeout(timeout)
}

// errorHandler handles errors that escape the handlers
func errorHandler(logger *logging.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		if code >= fiber.StatusInternalServerError {
			logger.WithFields(map[string]interface{}{
				"method": c.Method(),
				"path":   c.Path(),
				"status": code,
			}).
				WithError(err).
				Error("HTTP request error")
		}

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
