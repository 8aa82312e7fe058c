package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karthikraju391/agent-dashboard/config"
	"github.com/karthikraju391/agent-dashboard/models"
)

// newClient points a client at srv and records backoff waits instead of
// sleeping.
func newClient(t *testing.T, srv *httptest.Server) (*Client, *[]time.Duration) {
	t.Helper()
	cfg := config.Default().Client
	cfg.BaseURL = srv.URL
	cfg.Timeout = 2 * time.Second
	c := New(cfg, zerolog.Nop())

	var mu sync.Mutex
	waits := []time.Duration{}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		waits = append(waits, d)
		return ctx.Err()
	}
	return c, &waits
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestBackoff(t *testing.T) {
	base, ceiling := 500*time.Millisecond, 8*time.Second
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for attempt, w := range want {
		assert.Equal(t, w, Backoff(attempt, base, ceiling), "attempt %d", attempt)
	}
}

func TestSend(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages/status", r.URL.Path)
		var got map[string]any
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		bodies <- got
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "success", "service": config.ServiceName, "message_id": "m-1", "timestamp": "2026-05-04T09:00:00Z",
		})
	}))
	defer srv.Close()
	c, waits := newClient(t, srv)

	res, err := c.ReportAgentHealth(context.Background(), "Bias Agent", "degraded", map[string]any{"lag": 3})
	require.NoError(t, err)

	assert.Equal(t, "m-1", res.MessageID)
	assert.Equal(t, time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC), res.Timestamp)
	assert.Empty(t, *waits)
	got := <-bodies
	assert.Equal(t, "status", got["type"])
	assert.Equal(t, "Bias Agent Health Status", got["title"])
	assert.Equal(t, "badge", got["presentation_method"])
	assert.Equal(t, "degraded", got["health_status"])
	assert.Equal(t, "Bias Agent", got["component"])
}

func TestRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "error": "warming up"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "service": config.ServiceName, "version": config.Version})
	}))
	defer srv.Close()
	c, waits := newClient(t, srv)

	h, err := c.Health(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, config.Version, h.Version)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, *waits)
}

func TestRetryCeiling(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "error": "boom"})
	}))
	defer srv.Close()
	c, waits := newClient(t, srv)

	_, err := c.Recent(context.Background(), 5)

	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusInternalServerError, serr.Code)
	assert.Equal(t, "boom", serr.Message)
	assert.Equal(t, int32(4), calls.Load(), "one attempt plus three retries")
	assert.Len(t, *waits, 3)
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c, _ := newClient(t, srv)
	srv.Close()

	_, err := c.Health(context.Background())
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestRejectedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"status": "error", "error": "invalid message", "fields": map[string]string{"severity": "severity is required for alerts"},
		})
	}))
	defer srv.Close()
	c, waits := newClient(t, srv)

	_, err := c.SendAlert(context.Background(), models.Message{Title: "t", Value: models.Int(1), Presentation: models.HintBadge})

	require.ErrorIs(t, err, ErrRejected)
	assert.NotErrorIs(t, err, ErrUpstreamUnavailable)
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Fields, "severity")
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, *waits)
}

func TestSend_UnknownCategory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()
	c, _ := newClient(t, srv)

	_, err := c.Send(context.Background(), models.Message{Category: "weather"})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestCancelledContextStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, map[string]any{"status": "error"})
	}))
	defer srv.Close()
	c, _ := newClient(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := c.Alerts(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/messages/alert":
			assert.Equal(t, "7", r.URL.Query().Get("limit"))
			writeJSON(w, http.StatusOK, map[string]any{
				"status": "success",
				"results": []map[string]any{{
					"message_id": "a1", "type": "alert", "title": "Disk", "value": 91, "presentation_method": "gauge", "severity": "high",
					"timestamp": "2026-05-04T09:00:00Z",
				}},
			})
		case "/agent-status":
			writeJSON(w, http.StatusOK, map[string]any{
				"status":  "success",
				"results": map[string]any{"count": 1, "agents": []map[string]any{{"name": "Compliance Agent", "status": "active", "message_count": 4}}, "message_counts": map[string]int{"Compliance Agent": 4}},
			})
		case "/compliance/test-results":
			writeJSON(w, http.StatusOK, map[string]any{
				"status":  "success",
				"results": map[string]any{"results": []map[string]any{{"type": "compliance", "title": "scan", "value": "ok", "presentation_method": "badge", "test_id": "t-9"}}},
			})
		case "/dashboard/status":
			writeJSON(w, http.StatusOK, map[string]any{
				"status":  "success",
				"results": map[string]any{"recent_messages": []any{}, "errors": []string{"active_alerts: boom"}, "compliance_summary": map[string]any{"overall_status": "needs_attention"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c, _ := newClient(t, srv)
	ctx := context.Background()

	alerts, err := c.ByCategory(ctx, models.CategoryAlert, 7)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "a1", alerts[0].ID)
	assert.Equal(t, models.SeverityHigh, alerts[0].Alert.Severity)
	n, ok := alerts[0].Value.AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(91), n)

	agents, err := c.AgentStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, agents.Count)
	assert.Equal(t, 4, agents.Agents[0].MessageCount)

	results, err := c.ComplianceResults(ctx, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "t-9", results[0].Compliance.TestID)

	status, err := c.DashboardStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"active_alerts: boom"}, status.Errors)
	assert.Equal(t, "needs_attention", status.Compliance.OverallStatus)
}

func TestSendCriticalAlert(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got map[string]any
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		bodies <- got
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message_id": "x"})
	}))
	defer srv.Close()
	c, _ := newClient(t, srv)
	fixed := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	_, err := c.SendCriticalAlert(context.Background(), "Breach", "credential leak", "security", 24*time.Hour)
	require.NoError(t, err)

	got := <-bodies
	assert.Equal(t, "alert", got["type"])
	assert.Equal(t, "critical", got["severity"])
	assert.Equal(t, true, got["action_required"])
	assert.Equal(t, "2026-05-05T09:00:00Z", got["expires_at"])
	assert.Equal(t, "2026-05-04T09:00:00Z", got["timestamp"])
}
