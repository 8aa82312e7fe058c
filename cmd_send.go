package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/karthikraju391/agent-dashboard/client"
	"github.com/karthikraju391/agent-dashboard/models"
	"github.com/karthikraju391/agent-dashboard/nats_service"
)

type SendCmd struct {
	flags *Flags

	via    string
	title  string
	value  string
	hint   string
	source string

	domain    string
	status    string
	testID    string
	component string
	health    string
	metric    string
	unit      string
	target    string
	severity  string
	label     string
	action    bool
	expiresIn time.Duration
	priority  string
}

func NewSendCmd(flags *Flags) *SendCmd {
	return &SendCmd{flags: flags}
}

func (cmd *SendCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "send",
		Usage:     "Send one message to the dashboard",
		UsageText: "dashboard send [options] <compliance|status|throughput|alert|informational>",
		Description: `Sends a single message over HTTP, or publishes it to NATS with --via nats.

Values that parse as JSON numbers, objects or arrays are sent as such;
anything else is sent as text.

Examples:
  dashboard send --title "Disk usage" --value 91 --hint gauge --severity high alert
  dashboard send --title "GDPR scan" --value passed --domain gdpr --status passed compliance
  dashboard send --via nats --title "Latency" --value 120.5 --metric latency --unit ms throughput`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "via", Usage: "transport: http or nats", Value: "http", Destination: &cmd.via},
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "message title", Required: true, Destination: &cmd.title},
			&cli.StringFlag{Name: "value", Usage: "message value", Required: true, Destination: &cmd.value},
			&cli.StringFlag{Name: "hint", Usage: "presentation method", Value: string(models.HintText), Destination: &cmd.hint},
			&cli.StringFlag{Name: "source", Usage: "source agent name", Destination: &cmd.source},
			&cli.StringFlag{Name: "domain", Usage: "compliance domain", Destination: &cmd.domain},
			&cli.StringFlag{Name: "status", Usage: "compliance result status", Destination: &cmd.status},
			&cli.StringFlag{Name: "test-id", Usage: "compliance test id", Destination: &cmd.testID},
			&cli.StringFlag{Name: "component", Usage: "status component", Destination: &cmd.component},
			&cli.StringFlag{Name: "health", Usage: "status health", Destination: &cmd.health},
			&cli.StringFlag{Name: "metric", Usage: "throughput metric name", Destination: &cmd.metric},
			&cli.StringFlag{Name: "unit", Usage: "throughput unit", Destination: &cmd.unit},
			&cli.StringFlag{Name: "target", Usage: "throughput target value", Destination: &cmd.target},
			&cli.StringFlag{Name: "severity", Usage: "alert severity (low, medium, high, critical)", Destination: &cmd.severity},
			&cli.StringFlag{Name: "label", Usage: "alert or informational category label", Destination: &cmd.label},
			&cli.BoolFlag{Name: "action-required", Usage: "alert requires action", Destination: &cmd.action},
			&cli.DurationFlag{Name: "expires-in", Usage: "alert lifetime; 0 never expires", Destination: &cmd.expiresIn},
			&cli.StringFlag{Name: "priority", Usage: "informational priority", Destination: &cmd.priority},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *SendCmd) run(ctx context.Context, c *cli.Command) error {
	category, ok := models.ParseCategory(c.Args().First())
	if !ok {
		return fmt.Errorf("unknown category %q; want one of %s", c.Args().First(), categoryNames())
	}
	m, err := cmd.message(category, time.Now().UTC())
	if err != nil {
		return err
	}

	switch cmd.via {
	case "http":
		res, err := client.New(cmd.flags.Config.Client, cmd.flags.Logger).Send(ctx, m)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"message_id": res.MessageID, "timestamp": res.Timestamp})
	case "nats":
		m.Normalize(time.Now().UTC())
		if err := m.Validate(); err != nil {
			return err
		}
		ns, err := nats_service.NewNatsService(ctx, cmd.flags.Config.NATS, cmd.flags.Logger)
		if err != nil {
			return err
		}
		defer ns.Close()
		if err := ns.PublishMessage(ctx, m); err != nil {
			return err
		}
		cmd.flags.Logger.Info().Str("subject", nats_service.Subject(cmd.flags.Config.NATS.SubjectPrefix, category)).Msg("message published")
		return nil
	default:
		return fmt.Errorf("unknown transport %q", cmd.via)
	}
}

func (cmd *SendCmd) message(category models.Category, now time.Time) (models.Message, error) {
	m := models.Message{
		Category:     category,
		Title:        cmd.title,
		Value:        models.ParseValue(cmd.value),
		Presentation: models.Hint(cmd.hint),
		SourceAgent:  cmd.source,
	}
	switch category {
	case models.CategoryCompliance:
		m.Compliance = &models.ComplianceFields{Domain: cmd.domain, Status: cmd.status, TestID: cmd.testID}
	case models.CategoryStatus:
		m.Status = &models.StatusFields{Component: cmd.component, HealthStatus: cmd.health}
	case models.CategoryThroughput:
		t := &models.ThroughputFields{MetricName: cmd.metric, Unit: cmd.unit}
		if cmd.target != "" {
			v, err := strconv.ParseFloat(cmd.target, 64)
			if err != nil {
				return models.Message{}, fmt.Errorf("invalid --target: %w", err)
			}
			t.TargetValue = &v
		}
		m.Throughput = t
	case models.CategoryAlert:
		a := &models.AlertFields{Severity: models.Severity(cmd.severity), Category: cmd.label, ActionRequired: cmd.action}
		if cmd.expiresIn < 0 {
			return models.Message{}, errors.New("--expires-in must not be negative")
		}
		if cmd.expiresIn > 0 {
			exp := now.Add(cmd.expiresIn)
			a.ExpiresAt = &exp
		}
		m.Alert = a
	case models.CategoryInformational:
		m.Informational = &models.InformationalFields{Category: cmd.label, Priority: cmd.priority}
	}
	return m, nil
}

func categoryNames() string {
	names := make([]string, len(models.Categories))
	for i, c := range models.Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type StatusCmd struct {
	flags *Flags
}

func NewStatusCmd(flags *Flags) *StatusCmd {
	return &StatusCmd{flags: flags}
}

func (cmd *StatusCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "status",
		Usage: "Print the composed dashboard status as JSON",
		Action: func(ctx context.Context, _ *cli.Command) error {
			status, err := client.New(cmd.flags.Config.Client, cmd.flags.Logger).DashboardStatus(ctx)
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	})
	return app
}
