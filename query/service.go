// Package query serves read-only views over the store.
package query

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/karthikraju391/agent-dashboard/clock"
	"github.com/karthikraju391/agent-dashboard/models"
	"github.com/karthikraju391/agent-dashboard/store"
)

const (
	// DashboardRecentLimit is how many recent messages DashboardStatus
	// includes.
	DashboardRecentLimit = 10
	// RecentFailuresLimit bounds ComplianceReport.RecentFailures.
	RecentFailuresLimit = 10
	// ActiveWindow is how recently an agent must have reported to count
	// as active.
	ActiveWindow = 5 * time.Minute
)

// Reader is the part of the store the query service needs.
type Reader interface {
	Recent(limit int) []models.Message
	ByCategory(c models.Category, limit int) []models.Message
	ActiveAlerts(now time.Time) []models.Message
	ComplianceSummary() map[string]store.DomainStats
	AgentActivity() []store.AgentActivity
	Counts(now time.Time) store.Counts
}

type Service struct {
	store Reader
	clock clock.Clock
	log   zerolog.Logger
}

func New(r Reader, clk clock.Clock, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{
		store: r,
		clock: clk,
		log:   logger.With().Str("component", "query").Logger(),
	}
}

func (s *Service) Now() time.Time { return s.clock.Now() }

func (s *Service) Recent(limit int) []models.Message {
	return s.store.Recent(limit)
}

func (s *Service) Alerts() []models.Message {
	return s.store.ActiveAlerts(s.clock.Now())
}

// ByCategory returns an empty result for unknown categories.
func (s *Service) ByCategory(c models.Category, limit int) []models.Message {
	return s.store.ByCategory(c, limit)
}

func (s *Service) ComplianceSummary() map[string]store.DomainStats {
	return s.store.ComplianceSummary()
}

// ComplianceResults returns the newest compliance messages.
func (s *Service) ComplianceResults(limit int) []models.Message {
	return s.store.ByCategory(models.CategoryCompliance, limit)
}

// Compliance status of a domain, derived from its pass rate.
const (
	StatusCompliant      = "compliant"
	StatusNeedsAttention = "needs_attention"
	StatusNonCompliant   = "non_compliant"
)

// DomainStatus grades a pass rate: at least 0.9 is compliant, at least
// 0.7 needs attention, anything lower is non-compliant.
func DomainStatus(passRate float64) string {
	switch {
	case passRate >= 0.9:
		return StatusCompliant
	case passRate >= 0.7:
		return StatusNeedsAttention
	default:
		return StatusNonCompliant
	}
}

func severity(status string) int {
	switch status {
	case StatusNonCompliant:
		return 2
	case StatusNeedsAttention:
		return 1
	default:
		return 0
	}
}

type DomainReport struct {
	store.DomainStats
	Status  string    `json:"status"`
	LastRun time.Time `json:"last_run"`
}

type ComplianceReport struct {
	OverallStatus  string                  `json:"overall_status"`
	Domains        map[string]DomainReport `json:"domains"`
	TotalMessages  int                     `json:"total_messages"`
	ActiveAlerts   int                     `json:"active_alerts"`
	RecentFailures []models.Message        `json:"recent_failures"`
}

// ComplianceReport grades every domain seen so far. The overall status is
// the worst domain status, or compliant when nothing has been reported.
func (s *Service) ComplianceReport() ComplianceReport {
	now := s.clock.Now()
	summary := s.store.ComplianceSummary()
	results := s.store.ByCategory(models.CategoryCompliance, math.MaxInt)

	lastRun := make(map[string]time.Time, len(summary))
	failures := make([]models.Message, 0, RecentFailuresLimit)
	for _, m := range results {
		domain, status := store.UnknownDomain, ""
		if m.Compliance != nil {
			if m.Compliance.Domain != "" {
				domain = m.Compliance.Domain
			}
			status = m.Compliance.Status
		}
		if m.Timestamp.After(lastRun[domain]) {
			lastRun[domain] = m.Timestamp
		}
		if (status == "failed" || status == "non_compliant") && len(failures) < RecentFailuresLimit {
			failures = append(failures, m)
		}
	}

	report := ComplianceReport{
		OverallStatus:  StatusCompliant,
		Domains:        make(map[string]DomainReport, len(summary)),
		TotalMessages:  len(results),
		ActiveAlerts:   s.store.Counts(now).ActiveAlerts,
		RecentFailures: failures,
	}
	for domain, st := range summary {
		d := DomainReport{DomainStats: st, Status: DomainStatus(st.PassRate), LastRun: lastRun[domain]}
		report.Domains[domain] = d
		if severity(d.Status) > severity(report.OverallStatus) {
			report.OverallStatus = d.Status
		}
	}
	return report
}

type Agent struct {
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	MessageCount int       `json:"message_count"`
	LastSeen     time.Time `json:"last_seen"`
}

type AgentStatus struct {
	Count         int            `json:"count"`
	Agents        []Agent        `json:"agents"`
	MessageCounts map[string]int `json:"message_counts"`
	Timestamp     time.Time      `json:"timestamp"`
}

// AgentStatus lists every agent that has sent a message, most recently
// seen first. Agents silent for longer than ActiveWindow are inactive.
func (s *Service) AgentStatus() AgentStatus {
	now := s.clock.Now()
	activity := s.store.AgentActivity()

	out := AgentStatus{
		Count:         len(activity),
		Agents:        make([]Agent, 0, len(activity)),
		MessageCounts: make(map[string]int, len(activity)),
		Timestamp:     now,
	}
	for _, a := range activity {
		status := "inactive"
		if now.Sub(a.LastSeen) <= ActiveWindow {
			status = "active"
		}
		out.Agents = append(out.Agents, Agent{Name: a.Name, Status: status, MessageCount: a.MessageCount, LastSeen: a.LastSeen})
		out.MessageCounts[a.Name] = a.MessageCount
	}
	return out
}

// DashboardStatus composes the agent, message, alert and compliance views.
// A piece that fails is replaced by its empty form and named in Errors;
// the call itself always succeeds.
type DashboardStatus struct {
	Agents         AgentStatus      `json:"agent_status"`
	RecentMessages []models.Message `json:"recent_messages"`
	ActiveAlerts   []models.Message `json:"active_alerts"`
	Compliance     ComplianceReport `json:"compliance_summary"`
	Errors         []string         `json:"errors,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

func (s *Service) DashboardStatus(ctx context.Context) DashboardStatus {
	var errs []string
	out := DashboardStatus{
		Agents: gather(ctx, s, "agent_status", &errs,
			AgentStatus{Agents: []Agent{}, MessageCounts: map[string]int{}},
			s.AgentStatus),
		RecentMessages: gather(ctx, s, "recent_messages", &errs, []models.Message{},
			func() []models.Message { return s.Recent(DashboardRecentLimit) }),
		ActiveAlerts: gather(ctx, s, "active_alerts", &errs, []models.Message{}, s.Alerts),
		Compliance: gather(ctx, s, "compliance_summary", &errs,
			ComplianceReport{OverallStatus: StatusCompliant, Domains: map[string]DomainReport{}, RecentFailures: []models.Message{}},
			s.ComplianceReport),
		Timestamp: s.clock.Now(),
	}
	out.Errors = errs
	return out
}

// gather runs fn, falling back to empty when ctx is done or fn panics.
func gather[T any](ctx context.Context, s *Service, name string, errs *[]string, empty T, fn func() T) (result T) {
	if err := ctx.Err(); err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", name, err))
		return empty
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("part", name).Interface("panic", r).Msg("dashboard status part failed")
			*errs = append(*errs, fmt.Sprintf("%s: %v", name, r))
			result = empty
		}
	}()
	return fn()
}
