// Package ingest accepts messages from every transport. A message is
// validated, then stored, then announced to subscribers; a rejected
// message never reaches the store.
package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/karthikraju391/agent-dashboard/clock"
	"github.com/karthikraju391/agent-dashboard/models"
)

type Appender interface {
	Append(m models.Message) string
}

type Notifier interface {
	Notify(m models.Message)
}

// Receipt acknowledges an accepted message.
type Receipt struct {
	ID        string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

type Service struct {
	store    Appender
	notifier Notifier
	clock    clock.Clock
	log      zerolog.Logger
}

func New(store Appender, notifier Notifier, clk clock.Clock, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{
		store:    store,
		notifier: notifier,
		clock:    clk,
		log:      logger.With().Str("component", "ingest").Logger(),
	}
}

// SubmitJSON decodes body as a message of the given category and submits
// it. Errors wrap models.ErrMalformed or models.ErrValidation.
func (s *Service) SubmitJSON(ctx context.Context, category models.Category, body []byte) (Receipt, error) {
	m, err := models.Decode(category, body, s.clock.Now())
	if err != nil {
		return Receipt{}, err
	}
	return s.accept(ctx, m)
}

// Submit validates m and, if it passes, stores and announces it.
func (s *Service) Submit(ctx context.Context, m models.Message) (Receipt, error) {
	m.ID = ""
	m.Normalize(s.clock.Now())
	if err := m.Validate(); err != nil {
		return Receipt{}, err
	}
	return s.accept(ctx, m)
}

func (s *Service) accept(ctx context.Context, m models.Message) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	m.ID = s.store.Append(m)
	if s.notifier != nil {
		s.notifier.Notify(m)
	}
	s.logAccepted(m)

	return Receipt{ID: m.ID, Timestamp: s.clock.Now()}, nil
}

func (s *Service) logAccepted(m models.Message) {
	ev := s.log.Info()
	if m.Category == models.CategoryAlert {
		ev = s.log.Warn()
		if m.Alert != nil {
			ev = ev.Str("severity", string(m.Alert.Severity)).Bool("action_required", m.Alert.ActionRequired)
		}
	}
	ev.Str("message_id", m.ID).
		Str("type", string(m.Category)).
		Str("title", m.Title).
		Str("source_agent", m.SourceAgent).
		Msg("message received")
}

func (s *Service) SubmitCompliance(ctx context.Context, m models.Message) (Receipt, error) {
	m.Category = models.CategoryCompliance
	if m.Compliance == nil {
		m.Compliance = &models.ComplianceFields{}
	}
	return s.Submit(ctx, m)
}

func (s *Service) SubmitStatus(ctx context.Context, m models.Message) (Receipt, error) {
	m.Category = models.CategoryStatus
	if m.Status == nil {
		m.Status = &models.StatusFields{}
	}
	return s.Submit(ctx, m)
}

func (s *Service) SubmitThroughput(ctx context.Context, m models.Message) (Receipt, error) {
	m.Category = models.CategoryThroughput
	if m.Throughput == nil {
		m.Throughput = &models.ThroughputFields{}
	}
	return s.Submit(ctx, m)
}

func (s *Service) SubmitAlert(ctx context.Context, m models.Message) (Receipt, error) {
	m.Category = models.CategoryAlert
	return s.Submit(ctx, m)
}

func (s *Service) SubmitInformational(ctx context.Context, m models.Message) (Receipt, error) {
	m.Category = models.CategoryInformational
	if m.Informational == nil {
		m.Informational = &models.InformationalFields{}
	}
	return s.Submit(ctx, m)
}
