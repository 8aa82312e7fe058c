// Package client is the outbound contract agents use to talk to the
// dashboard service. Requests that fail in transport or with a 5xx status
// are retried with capped exponential backoff; 4xx responses are returned
// immediately.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/karthikraju391/agent-dashboard/config"
	"github.com/karthikraju391/agent-dashboard/models"
	"github.com/karthikraju391/agent-dashboard/query"
)

var (
	// ErrUpstreamUnavailable is returned once retries are exhausted.
	ErrUpstreamUnavailable = errors.New("dashboard service unavailable")
	// ErrRejected is returned for 4xx responses.
	ErrRejected = errors.New("dashboard service rejected request")
)

// StatusError carries a non-2xx response.
type StatusError struct {
	Code    int
	Message string
	Fields  map[string]string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

type Client struct {
	baseURL    string
	maxRetries int
	timeout    time.Duration
	baseDelay  time.Duration
	maxDelay   time.Duration
	log        zerolog.Logger

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func New(cfg config.ClientConfig, logger zerolog.Logger) *Client {
	d := config.Default().Client
	if cfg.BaseURL == "" {
		cfg.BaseURL = d.BaseURL
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = d.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = d.MaxDelay
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		log:        logger.With().Str("component", "client").Logger(),
		sleep:      sleepContext,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff is the wait before retry number attempt (0-based): base doubled
// per attempt, never above ceiling.
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	return min(d, ceiling)
}

// envelope is the common response wrapper.
type envelope struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Error     string            `json:"error"`
	Fields    map[string]string `json:"fields"`
	MessageID string            `json:"message_id"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Total     int               `json:"total"`
	Results   json.RawMessage   `json:"results"`
}

type attemptError struct {
	err       error
	retryable bool
}

func (c *Client) call(ctx context.Context, method, path string, params url.Values, body any) (envelope, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var last error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return envelope{}, err
		}
		env, aerr := c.once(method, target, body)
		if aerr == nil {
			return env, nil
		}
		if !aerr.retryable {
			return envelope{}, aerr.err
		}
		last = aerr.err

		if attempt == c.maxRetries {
			break
		}
		wait := Backoff(attempt, c.baseDelay, c.maxDelay)
		c.log.Warn().Err(last).Str("url", target).Int("attempt", attempt+1).Dur("retry_in", wait).Msg("request failed, retrying")
		if err := c.sleep(ctx, wait); err != nil {
			return envelope{}, err
		}
	}
	c.log.Error().Err(last).Str("url", target).Int("attempts", c.maxRetries+1).Msg("request failed")
	return envelope{}, fmt.Errorf("%w: %s %s after %d attempts: %w", ErrUpstreamUnavailable, method, path, c.maxRetries+1, last)
}

func (c *Client) once(method, target string, body any) (envelope, *attemptError) {
	a := fiber.AcquireAgent()
	req := a.Request()
	req.Header.SetMethod(method)
	req.SetRequestURI(target)
	a.Timeout(c.timeout)
	if body != nil {
		a.JSON(body)
	}
	if err := a.Parse(); err != nil {
		fiber.ReleaseAgent(a)
		return envelope{}, &attemptError{err: fmt.Errorf("build request: %w", err)}
	}

	code, raw, errs := a.Bytes()
	if len(errs) > 0 {
		return envelope{}, &attemptError{err: errors.Join(errs...), retryable: true}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	switch {
	case code >= fiber.StatusInternalServerError:
		return envelope{}, &attemptError{err: &StatusError{Code: code, Message: env.Error}, retryable: true}
	case code >= fiber.StatusBadRequest:
		serr := &StatusError{Code: code, Message: env.Error, Fields: env.Fields}
		return envelope{}, &attemptError{err: fmt.Errorf("%w: %w", ErrRejected, serr)}
	case decodeErr != nil:
		return envelope{}, &attemptError{err: fmt.Errorf("decode response: %w", decodeErr)}
	case env.Status == "error":
		return envelope{}, &attemptError{err: &StatusError{Code: code, Message: env.Error}, retryable: true}
	}
	return env, nil
}

func decodeResults[T any](env envelope) (T, error) {
	var out T
	if len(env.Results) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(env.Results, &out); err != nil {
		return out, fmt.Errorf("decode results: %w", err)
	}
	return out, nil
}

func limitQuery(limit int) url.Values {
	return url.Values{"limit": []string{strconv.Itoa(limit)}}
}

type Health struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	env, err := c.call(ctx, fiber.MethodGet, "/health", nil, nil)
	if err != nil {
		return Health{}, err
	}
	return Health{Status: env.Status, Service: env.Service, Version: env.Version, Timestamp: env.Timestamp}, nil
}

// SendResult acknowledges an accepted message.
type SendResult struct {
	MessageID string
	Timestamp time.Time
}

// Send posts m to the endpoint for its category.
func (c *Client) Send(ctx context.Context, m models.Message) (SendResult, error) {
	if _, ok := models.ParseCategory(string(m.Category)); !ok {
		return SendResult{}, fmt.Errorf("%w: unknown category %q", ErrRejected, m.Category)
	}
	env, err := c.call(ctx, fiber.MethodPost, "/messages/"+string(m.Category), nil, m)
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{MessageID: env.MessageID, Timestamp: env.Timestamp}, nil
}

func (c *Client) Recent(ctx context.Context, limit int) ([]models.Message, error) {
	env, err := c.call(ctx, fiber.MethodGet, "/messages/recent", limitQuery(limit), nil)
	if err != nil {
		return nil, err
	}
	return decodeResults[[]models.Message](env)
}

func (c *Client) Alerts(ctx context.Context) ([]models.Message, error) {
	env, err := c.call(ctx, fiber.MethodGet, "/messages/alerts", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeResults[[]models.Message](env)
}

func (c *Client) ByCategory(ctx context.Context, cat models.Category, limit int) ([]models.Message, error) {
	env, err := c.call(ctx, fiber.MethodGet, "/messages/"+url.PathEscape(string(cat)), limitQuery(limit), nil)
	if err != nil {
		return nil, err
	}
	return decodeResults[[]models.Message](env)
}

func (c *Client) AgentStatus(ctx context.Context) (query.AgentStatus, error) {
	env, err := c.call(ctx, fiber.MethodGet, "/agent-status", nil, nil)
	if err != nil {
		return query.AgentStatus{}, err
	}
	return decodeResults[query.AgentStatus](env)
}

func (c *Client) ComplianceSummary(ctx context.Context) (query.ComplianceReport, error) {
	env, err := c.call(ctx, fiber.MethodGet, "/compliance/summary", nil, nil)
	if err != nil {
		return query.ComplianceReport{}, err
	}
	return decodeResults[query.ComplianceReport](env)
}

func (c *Client) ComplianceResults(ctx context.Context, limit int) ([]models.Message, error) {
	env, err := c.call(ctx, fiber.MethodGet, "/compliance/test-results", limitQuery(limit), nil)
	if err != nil {
		return nil, err
	}
	res, err := decodeResults[struct {
		Results []models.Message `json:"results"`
	}](env)
	return res.Results, err
}

func (c *Client) DashboardStatus(ctx context.Context) (query.DashboardStatus, error) {
	env, err := c.call(ctx, fiber.MethodGet, "/dashboard/status", nil, nil)
	if err != nil {
		return query.DashboardStatus{}, err
	}
	return decodeResults[query.DashboardStatus](env)
}
