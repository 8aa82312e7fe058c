package client

import (
	"context"
	"time"

	"github.com/karthikraju391/agent-dashboard/models"
)

func (c *Client) SendCompliance(ctx context.Context, m models.Message) (SendResult, error) {
	m.Category = models.CategoryCompliance
	return c.Send(ctx, m)
}

func (c *Client) SendStatus(ctx context.Context, m models.Message) (SendResult, error) {
	m.Category = models.CategoryStatus
	return c.Send(ctx, m)
}

func (c *Client) SendThroughput(ctx context.Context, m models.Message) (SendResult, error) {
	m.Category = models.CategoryThroughput
	return c.Send(ctx, m)
}

func (c *Client) SendAlert(ctx context.Context, m models.Message) (SendResult, error) {
	m.Category = models.CategoryAlert
	return c.Send(ctx, m)
}

func (c *Client) SendInformational(ctx context.Context, m models.Message) (SendResult, error) {
	m.Category = models.CategoryInformational
	return c.Send(ctx, m)
}

// ReportAgentHealth sends a status badge for agent.
func (c *Client) ReportAgentHealth(ctx context.Context, agent, health string, details map[string]any) (SendResult, error) {
	return c.SendStatus(ctx, models.Message{
		Title:        agent + " Health Status",
		Value:        models.Text(health),
		Presentation: models.HintBadge,
		SourceAgent:  agent,
		Metadata:     details,
		Status:       &models.StatusFields{Component: agent, HealthStatus: health},
	})
}

// ReportComplianceResult sends one compliance test outcome.
func (c *Client) ReportComplianceResult(ctx context.Context, domain, testID, status string, details map[string]any) (SendResult, error) {
	return c.SendCompliance(ctx, models.Message{
		Title:        domain + " Compliance Test",
		Value:        models.Text(status),
		Presentation: models.HintBadge,
		Metadata:     details,
		Compliance:   &models.ComplianceFields{Domain: domain, Status: status, TestID: testID},
	})
}

// ReportPerformanceMetric sends a gauge reading. target may be nil.
func (c *Client) ReportPerformanceMetric(ctx context.Context, metric string, value float64, unit string, target *float64) (SendResult, error) {
	return c.SendThroughput(ctx, models.Message{
		Title:        metric + " Performance",
		Value:        models.Float(value),
		Presentation: models.HintGauge,
		Throughput:   &models.ThroughputFields{MetricName: metric, Unit: unit, TargetValue: target},
	})
}

// SendCriticalAlert raises a critical alert requiring action. With a zero
// expiresIn the alert never expires.
func (c *Client) SendCriticalAlert(ctx context.Context, title, text, category string, expiresIn time.Duration) (SendResult, error) {
	now := c.now()
	fields := &models.AlertFields{Severity: models.SeverityCritical, Category: category, ActionRequired: true}
	if expiresIn > 0 {
		exp := now.Add(expiresIn)
		fields.ExpiresAt = &exp
	}
	return c.SendAlert(ctx, models.Message{
		Title:        title,
		Value:        models.Text(text),
		Presentation: models.HintText,
		Timestamp:    now,
		Alert:        fields,
	})
}
