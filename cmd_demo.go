package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/karthikraju391/agent-dashboard/client"
	"github.com/karthikraju391/agent-dashboard/models"
)

type DemoCmd struct {
	flags *Flags
	delay time.Duration
}

func NewDemoCmd(flags *Flags) *DemoCmd {
	return &DemoCmd{flags: flags}
}

func (cmd *DemoCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "demo",
		Usage: "Populate a running dashboard with sample messages",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:        "delay",
				Usage:       "pause between messages",
				Value:       time.Second,
				Destination: &cmd.delay,
			},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			c := client.New(cmd.flags.Config.Client, cmd.flags.Logger)
			if _, err := c.Health(ctx); err != nil {
				return fmt.Errorf("dashboard not reachable: %w", err)
			}
			n, err := sendBatch(ctx, c, demoBatch(time.Now().UTC()), cmd.delay)
			cmd.flags.Logger.Info().Int("sent", n).Msg("demo messages sent")
			return err
		},
	})
	return app
}

type sender interface {
	Send(ctx context.Context, m models.Message) (client.SendResult, error)
}

// sendBatch stops at the first failure and reports how many were sent.
func sendBatch(ctx context.Context, s sender, msgs []models.Message, delay time.Duration) (int, error) {
	for i, m := range msgs {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-time.After(delay):
			}
		}
		if _, err := s.Send(ctx, m); err != nil {
			return i, fmt.Errorf("send %s: %w", m, err)
		}
	}
	return len(msgs), nil
}

// demoBatch covers every category, including a failing compliance run
// and an alert that expires within the hour.
func demoBatch(now time.Time) []models.Message {
	target := 100.0
	expires := now.Add(time.Hour)
	return []models.Message{
		{
			Category: models.CategoryCompliance, Title: "Security Compliance Check", Value: models.Text("passed"),
			Presentation: models.HintBadge, SourceAgent: "compliance_bot",
			Compliance: &models.ComplianceFields{Domain: "security", Status: "passed", TestID: "sec_audit_001"},
		},
		{
			Category: models.CategoryCompliance, Title: "Privacy Retention Check", Value: models.Text("failed"),
			Presentation: models.HintBadge, SourceAgent: "compliance_bot",
			Compliance: &models.ComplianceFields{Domain: "privacy", Status: "failed", TestID: "priv_retention_004"},
		},
		{
			Category: models.CategoryStatus, Title: "Database Health", Value: models.Text("healthy"),
			Presentation: models.HintBadge, SourceAgent: "health_checker",
			Status: &models.StatusFields{Component: "postgresql", HealthStatus: "healthy"},
		},
		{
			Category: models.CategoryThroughput, Title: "API Response Time", Value: models.Float(125.5),
			Presentation: models.HintGauge, SourceAgent: "performance_monitor",
			Throughput: &models.ThroughputFields{MetricName: "avg_response_time", Unit: "ms", TargetValue: &target},
		},
		{
			Category: models.CategoryInformational, Title: "Daily Backup Completed",
			Value:        models.Text("Backup finished successfully with 2.1GB archived"),
			Presentation: models.HintText, SourceAgent: "backup_service",
			Informational: &models.InformationalFields{Category: "maintenance", Priority: models.DefaultPriority},
		},
		{
			Category: models.CategoryStatus, Title: "High Memory Usage", Value: models.Text("degraded"),
			Presentation: models.HintGauge, SourceAgent: "system_monitor",
			Status: &models.StatusFields{Component: "web_server", HealthStatus: "degraded"},
		},
		{
			Category: models.CategoryAlert, Title: "Disk Nearly Full", Value: models.Int(93),
			Presentation: models.HintGauge, SourceAgent: "system_monitor",
			Alert: &models.AlertFields{Severity: models.SeverityHigh, Category: "capacity", ActionRequired: true, ExpiresAt: &expires},
		},
	}
}
