package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karthikraju391/agent-dashboard/client"
	"github.com/karthikraju391/agent-dashboard/models"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type recordingSender struct {
	sent   []models.Message
	failAt int
}

func (r *recordingSender) Send(_ context.Context, m models.Message) (client.SendResult, error) {
	if r.failAt > 0 && len(r.sent) == r.failAt {
		return client.SendResult{}, client.ErrUpstreamUnavailable
	}
	r.sent = append(r.sent, m)
	return client.SendResult{MessageID: "id"}, nil
}

func TestDemoBatchIsValid(t *testing.T) {
	seen := map[models.Category]bool{}
	for _, m := range demoBatch(epoch) {
		m.Normalize(epoch)
		assert.NoError(t, m.Validate(), m.Title)
		seen[m.Category] = true
	}
	assert.Len(t, seen, len(models.Categories))
}

func TestSendBatch(t *testing.T) {
	s := &recordingSender{}
	n, err := sendBatch(context.Background(), s, demoBatch(epoch), 0)
	require.NoError(t, err)
	assert.Equal(t, len(demoBatch(epoch)), n)
	assert.Len(t, s.sent, n)
}

func TestSendBatch_StopsOnFailure(t *testing.T) {
	s := &recordingSender{failAt: 2}
	n, err := sendBatch(context.Background(), s, demoBatch(epoch), 0)
	assert.ErrorIs(t, err, client.ErrUpstreamUnavailable)
	assert.Equal(t, 2, n)
}

func TestSendBatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := sendBatch(ctx, &recordingSender{}, demoBatch(epoch), time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n)
}

func TestSendCmdMessage(t *testing.T) {
	cmd := &SendCmd{
		title: "Disk", value: "91", hint: "gauge",
		severity: "high", label: "capacity", action: true, expiresIn: time.Hour,
	}
	m, err := cmd.message(models.CategoryAlert, epoch)
	require.NoError(t, err)

	n, ok := m.Value.AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(91), n)
	require.NotNil(t, m.Alert)
	assert.Equal(t, models.SeverityHigh, m.Alert.Severity)
	assert.True(t, m.Alert.ActionRequired)
	assert.Equal(t, epoch.Add(time.Hour), *m.Alert.ExpiresAt)

	m.Normalize(epoch)
	assert.NoError(t, m.Validate())
}

func TestSendCmdMessage_Throughput(t *testing.T) {
	cmd := &SendCmd{title: "Latency", value: "120.5", hint: "gauge", metric: "latency", unit: "ms", target: "100"}
	m, err := cmd.message(models.CategoryThroughput, epoch)
	require.NoError(t, err)
	require.NotNil(t, m.Throughput.TargetValue)
	assert.InDelta(t, 100.0, *m.Throughput.TargetValue, 0)

	cmd.target = "fast"
	_, err = cmd.message(models.CategoryThroughput, epoch)
	assert.Error(t, err)
}

func TestSendCmdMessage_NegativeExpiry(t *testing.T) {
	cmd := &SendCmd{title: "t", value: "v", hint: "text", severity: "low", expiresIn: -time.Minute}
	_, err := cmd.message(models.CategoryAlert, epoch)
	assert.Error(t, err)
}

func TestSetupLogger(t *testing.T) {
	_, err := setupLogger("loud", "console", "")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "logs", "dashboard.log")
	logger, err := setupLogger("debug", "json", path)
	require.NoError(t, err)
	logger.Debug().Msg("hello")
	assert.FileExists(t, path)
}

func TestCategoryNames(t *testing.T) {
	assert.Equal(t, "compliance, status, throughput, alert, informational", categoryNames())
}
