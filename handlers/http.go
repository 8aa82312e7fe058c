package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"

	"github.com/karthikraju391/agent-dashboard/broadcast"
	"github.com/karthikraju391/agent-dashboard/config"
	"github.com/karthikraju391/agent-dashboard/ingest"
	"github.com/karthikraju391/agent-dashboard/models"
	"github.com/karthikraju391/agent-dashboard/query"
)

const (
	defaultRecentLimit   = 50
	defaultCategoryLimit = 100
)

// Submitter accepts raw message bodies.
type Submitter interface {
	SubmitJSON(ctx context.Context, category models.Category, body []byte) (ingest.Receipt, error)
}

type Handler struct {
	ingest  Submitter
	query   *query.Service
	hub     *broadcast.Hub
	service string
	ws      config.WebSocketConfig
	log     zerolog.Logger
}

func New(sub Submitter, q *query.Service, hub *broadcast.Hub, cfg config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		ingest:  sub,
		query:   q,
		hub:     hub,
		service: cfg.Server.ServiceName,
		ws:      cfg.WebSocket,
		log:     logger.With().Str("component", "http").Logger(),
	}
}

// NewApp builds the fiber app with every dashboard route registered.
func (h *Handler) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               h.service,
		DisableStartupMessage: true,
		ErrorHandler:          h.errorHandler,
	})
	app.Use(requestid.New())
	app.Use(RequestLogger(h.log))
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health", h.health)

	for _, c := range models.Categories {
		app.Post("/messages/"+string(c), h.submit(c))
	}
	// Fixed paths must precede the category parameter.
	app.Get("/messages/recent", h.recent)
	app.Get("/messages/alerts", h.alerts)
	app.Get("/messages/:category", h.byCategory)

	app.Get("/agent-status", h.agentStatus)
	app.Get("/compliance/summary", h.complianceSummary)
	app.Get("/compliance/test-results", h.complianceResults)
	app.Get("/dashboard/status", h.dashboardStatus)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/dashboard", websocket.New(h.HandleDashboard))

	app.Use(func(c *fiber.Ctx) error {
		return fiber.ErrNotFound
	})
	return app
}

func (h *Handler) envelope(status string) fiber.Map {
	return fiber.Map{"status": status, "service": h.service}
}

func (h *Handler) success(c *fiber.Ctx, fields fiber.Map) error {
	body := h.envelope("success")
	for k, v := range fields {
		body[k] = v
	}
	return c.JSON(body)
}

func (h *Handler) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	body := h.envelope("error")
	body["error"] = err.Error()

	var fe *fiber.Error
	switch {
	case errors.Is(err, models.ErrMalformed):
		code = fiber.StatusBadRequest
	case errors.Is(err, models.ErrValidation):
		code = fiber.StatusUnprocessableEntity
		fields := fiber.Map{}
		for _, f := range models.FieldErrors(err) {
			fields[f.Field] = f.Err.Error()
		}
		body["fields"] = fields
	case errors.As(err, &fe):
		code = fe.Code
		body["error"] = fe.Message
	}

	if code >= fiber.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.Status(code).JSON(body)
}

func (h *Handler) health(c *fiber.Ctx) error {
	body := h.envelope("healthy")
	body["version"] = config.Version
	body["timestamp"] = h.query.Now()
	return c.JSON(body)
}

func (h *Handler) submit(category models.Category) fiber.Handler {
	return func(c *fiber.Ctx) error {
		r, err := h.ingest.SubmitJSON(c.UserContext(), category, c.Body())
		if err != nil {
			return err
		}
		return h.success(c, fiber.Map{"message_id": r.ID, "timestamp": r.Timestamp})
	}
}

func (h *Handler) results(c *fiber.Ctx, msgs []models.Message, extra fiber.Map) error {
	fields := fiber.Map{"results": msgs, "total": len(msgs), "timestamp": h.query.Now()}
	for k, v := range extra {
		fields[k] = v
	}
	return h.success(c, fields)
}

func (h *Handler) recent(c *fiber.Ctx) error {
	return h.results(c, h.query.Recent(c.QueryInt("limit", defaultRecentLimit)), nil)
}

func (h *Handler) alerts(c *fiber.Ctx) error {
	return h.results(c, h.query.Alerts(), nil)
}

func (h *Handler) byCategory(c *fiber.Ctx) error {
	category := models.Category(c.Params("category"))
	msgs := h.query.ByCategory(category, c.QueryInt("limit", defaultCategoryLimit))
	return h.results(c, msgs, fiber.Map{"message_type": category})
}

func (h *Handler) agentStatus(c *fiber.Ctx) error {
	return h.success(c, fiber.Map{"results": h.query.AgentStatus()})
}

func (h *Handler) complianceSummary(c *fiber.Ctx) error {
	return h.success(c, fiber.Map{"results": h.query.ComplianceReport()})
}

func (h *Handler) complianceResults(c *fiber.Ctx) error {
	msgs := h.query.ComplianceResults(c.QueryInt("limit", defaultCategoryLimit))
	return h.success(c, fiber.Map{"results": fiber.Map{"results": msgs, "timestamp": h.query.Now()}})
}

func (h *Handler) dashboardStatus(c *fiber.Ctx) error {
	return h.success(c, fiber.Map{"results": h.query.DashboardStatus(c.UserContext())})
}

// RequestLogger logs one line per request after the error handler has set
// the final status.
func RequestLogger(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		if err := c.Next(); err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		ev := logger.Info()
		switch {
		case status >= fiber.StatusInternalServerError:
			ev = logger.Error()
		case status >= fiber.StatusBadRequest:
			ev = logger.Warn()
		}
		ev.Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("request_id", c.GetRespHeader(fiber.HeaderXRequestID)).
			Msg("request")
		return nil
	}
}
