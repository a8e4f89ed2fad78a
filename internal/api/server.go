// Package api exposes the message interface to UI collaborators over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/tabcleaner/internal/app"
	"github.com/p-blackswan/tabcleaner/internal/health"
	"github.com/p-blackswan/tabcleaner/internal/metrics"
	"github.com/p-blackswan/tabcleaner/internal/requestid"
)

// ServerConfig holds configuration for the message API server.
type ServerConfig struct {
	ListenAddr  string
	CORSOrigins string
}

// Server is the message API Fiber application.
type Server struct {
	app      *fiber.App
	handlers *Handlers
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	config   ServerConfig
}

// NewServer creates and configures a new API server. metricsCollector may
// be nil.
func NewServer(
	cfg ServerConfig,
	core *app.Core,
	checker *health.Checker,
	metricsCollector *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	fapp := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:      fapp,
		handlers: NewHandlers(core, checker, logger),
		metrics:  metricsCollector,
		logger:   logger.With().Str("component", "api_server").Logger(),
		config:   cfg,
	}

	s.setupMiddleware(cfg)
	s.setupRoutes(s.handlers)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID middleware
	s.app.Use(func(c *fiber.Ctx) error {
		ctx, reqID := requestid.New(c.UserContext(), c.Get(requestid.Header))
		c.SetUserContext(ctx)
		c.Set(requestid.Header, reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
			AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
		}))
	}

	// Audit middleware (log and count every request)
	s.app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := c.Path()
		if path == "/healthz" || path == "/readyz" {
			return err
		}

		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		s.logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("request_id", fmt.Sprintf("%v", c.Locals("request_id"))).
			Msg("api request")

		if s.metrics != nil {
			s.metrics.RecordRequest(routeLabel(c), strconv.Itoa(status))
		}
		return err
	})
}

// routeLabel keeps metric cardinality bounded by using the route pattern,
// or the action for the message endpoint.
func routeLabel(c *fiber.Ctx) string {
	if action, ok := c.Locals("action").(string); ok && action != "" {
		return action
	}
	if r := c.Route(); r != nil && r.Path != "" && r.Path != "/" {
		return c.Method() + " " + r.Path
	}
	return "unmatched"
}

func (s *Server) setupRoutes(h *Handlers) {
	s.app.Get("/healthz", h.Liveness)
	s.app.Get("/readyz", h.Readiness)

	v1 := s.app.Group("/api/v1")

	// Runtime message shape
	v1.Post("/messages", h.Message)

	// Tabs
	v1.Get("/tabs", h.Tabs)
	v1.Post("/tabs/:id/close", h.CloseTab)

	// Recovery list
	v1.Get("/closed", h.Closed)
	v1.Post("/closed/:id/reopen", h.Reopen)

	// Settings and state
	v1.Get("/settings", h.GetSettings)
	v1.Put("/settings", h.PutSettings)
	v1.Get("/pause", h.GetPause)
	v1.Put("/pause", h.PutPause)
	v1.Post("/badge", h.Badge)
	v1.Post("/sweep", h.Sweep)

	// Statistics
	v1.Get("/stats", h.Stats)
	v1.Delete("/stats", h.ResetStats)

	v1.Get("/ping", h.Ping)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = "127.0.0.1:8788"
	}

	s.logger.Info().Str("addr", addr).Msg("message API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("message API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		errType := "request_error"
		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			errType = "internal_error"
			detail = "An internal error occurred"
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     errType,
			Title:    utils.StatusMessage(code),
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}
