package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/tabcleaner/internal/app"
	"github.com/p-blackswan/tabcleaner/internal/classify"
	perrors "github.com/p-blackswan/tabcleaner/internal/errors"
	"github.com/p-blackswan/tabcleaner/internal/health"
	"github.com/p-blackswan/tabcleaner/internal/recovery"
	"github.com/p-blackswan/tabcleaner/internal/settings"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	core    *app.Core
	checker *health.Checker
	now     func() time.Time
	logger  zerolog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(core *app.Core, checker *health.Checker, logger zerolog.Logger) *Handlers {
	return &Handlers{
		core:    core,
		checker: checker,
		now:     time.Now,
		logger:  logger.With().Str("component", "handlers").Logger(),
	}
}

// WithClock overrides the clock used for relative times.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.handlers.now = now
	return s
}

// Message handles POST /api/v1/messages.
func (h *Handlers) Message(c *fiber.Ctx) error {
	var msg app.Message
	if err := c.BodyParser(&msg); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if msg.Action == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_action", "Bad Request",
			"Message action is required")
	}
	c.Locals("action", msg.Action)

	out, err := h.core.Dispatch(c.UserContext(), msg)
	if err != nil {
		if out != nil {
			return c.Status(statusFor(err)).JSON(out)
		}
		return errorResponse(c, err)
	}
	if out == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(out)
}

// Tabs handles GET /api/v1/tabs.
func (h *Handlers) Tabs(c *fiber.Ctx) error {
	order, err := classify.ParseOrdering(c.Query("order"))
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_order", "Bad Request", err.Error())
	}
	views, err := h.core.TabsData(c.UserContext(), order)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(app.TabsData{Tabs: views})
}

// CloseTab handles POST /api/v1/tabs/:id/close.
func (h *Handlers) CloseTab(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_tab_id", "Bad Request",
			"Tab id must be a number: "+c.Params("id"))
	}
	entry, err := h.core.CloseWithTracking(c.UserContext(), id)
	if err != nil {
		return c.Status(statusFor(err)).JSON(app.CloseResult{Error: err.Error()})
	}
	return c.JSON(app.CloseResult{Success: true, Result: &entry})
}

// Closed handles GET /api/v1/closed.
func (h *Handlers) Closed(c *fiber.Ctx) error {
	list, err := h.core.RecentlyClosed(c.UserContext())
	if err != nil {
		return errorResponse(c, err)
	}
	now := h.now()
	views := make([]ClosedTabView, 0, len(list))
	for _, entry := range list {
		views = append(views, ClosedTabView{
			ClosedTab: entry,
			TimeSince: recovery.FormatSince(entry.ClosedAt, now),
		})
	}
	return c.JSON(ClosedListResponse{Tabs: views})
}

// Reopen handles POST /api/v1/closed/:id/reopen.
func (h *Handlers) Reopen(c *fiber.Ctx) error {
	res, err := h.core.ReopenResult(c.UserContext(), c.Params("id"))
	if err != nil {
		return c.Status(statusFor(err)).JSON(res)
	}
	return c.JSON(res)
}

// GetSettings handles GET /api/v1/settings.
func (h *Handlers) GetSettings(c *fiber.Ctx) error {
	return c.JSON(h.core.Settings())
}

// PutSettings handles PUT /api/v1/settings. Invalid fields take defaults.
func (h *Handlers) PutSettings(c *fiber.Ctx) error {
	s := settings.Defaults()
	if err := c.BodyParser(&s); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if err := h.core.UpdateSettings(c.UserContext(), s); err != nil {
		h.logger.Warn().Err(err).Msg("settings applied but not saved")
	}
	return c.JSON(h.core.Settings())
}

// GetPause handles GET /api/v1/pause.
func (h *Handlers) GetPause(c *fiber.Ctx) error {
	return c.JSON(PauseResponse{Paused: h.core.Paused()})
}

// PutPause handles PUT /api/v1/pause.
func (h *Handlers) PutPause(c *fiber.Ctx) error {
	var req PauseRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Paused == nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_paused", "Bad Request",
			"Field paused is required")
	}
	if err := h.core.SetPaused(c.UserContext(), *req.Paused); err != nil {
		h.logger.Warn().Err(err).Msg("pause flag applied but not saved")
	}
	return c.JSON(PauseResponse{Paused: h.core.Paused()})
}

// Badge handles POST /api/v1/badge.
func (h *Handlers) Badge(c *fiber.Ctx) error {
	return c.JSON(h.core.UpdateBadge(c.UserContext()))
}

// Sweep handles POST /api/v1/sweep.
func (h *Handlers) Sweep(c *fiber.Ctx) error {
	report, err := h.core.Sweep(c.UserContext())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(report)
}

// Stats handles GET /api/v1/stats.
func (h *Handlers) Stats(c *fiber.Ctx) error {
	return c.JSON(h.core.Statistics(c.UserContext()))
}

// ResetStats handles DELETE /api/v1/stats.
func (h *Handlers) ResetStats(c *fiber.Ctx) error {
	st, err := h.core.ResetStatistics(c.UserContext())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(st)
}

// Ping handles GET /api/v1/ping.
func (h *Handlers) Ping(c *fiber.Ctx) error {
	return c.JSON(h.core.Ping())
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	report := h.checker.Check(c.UserContext())
	if !report.Ready() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(report)
	}
	return c.JSON(report)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, perrors.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, perrors.ErrNotFound), errors.Is(err, perrors.ErrTabGone):
		return fiber.StatusNotFound
	case errors.Is(err, perrors.ErrTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, perrors.ErrNotConnected), errors.Is(err, perrors.ErrUnavailable):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

func errorResponse(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	errType := "internal_error"
	switch status {
	case fiber.StatusBadRequest:
		errType = "invalid_input"
	case fiber.StatusNotFound:
		errType = "not_found"
	case fiber.StatusGatewayTimeout:
		errType = "browser_timeout"
	case fiber.StatusServiceUnavailable:
		errType = "browser_unavailable"
	}
	return problemResponse(c, status, errType, utils.StatusMessage(status), err.Error())
}

func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
