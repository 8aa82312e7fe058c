package nats_service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/karthikraju391/agent-dashboard/config"
	"github.com/karthikraju391/agent-dashboard/ingest"
	"github.com/karthikraju391/agent-dashboard/models"
)

// Submitter is the ingestion entry point consumed messages are fed to.
type Submitter interface {
	SubmitJSON(ctx context.Context, category models.Category, body []byte) (ingest.Receipt, error)
}

type NatsService struct {
	js  jetstream.JetStream
	nc  *nats.Conn
	cfg config.NATSConfig
	log zerolog.Logger

	consumeCtx jetstream.ConsumeContext
}

// NewNatsService connects to NATS and makes sure the dashboard stream
// exists.
func NewNatsService(ctx context.Context, cfg config.NATSConfig, logger zerolog.Logger) (*NatsService, error) {
	log := logger.With().Str("component", "nats").Logger()

	nc, err := nats.Connect(cfg.URL, nats.Name(config.ServiceName))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, cfg.StreamName)
	if err != nil {
		log.Info().Str("stream", cfg.StreamName).Msg("stream not found, creating")
		stream, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        cfg.StreamName,
			Description: "Dashboard agent messages",
			Subjects:    []string{wildcard(cfg.SubjectPrefix)},
			MaxAge:      cfg.MaxAge,
			Storage:     jetstream.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream '%s': %w", cfg.StreamName, err)
		}
		log.Info().Str("stream", cfg.StreamName).Msg("stream created")
	} else {
		log.Info().Str("stream", stream.CachedInfo().Config.Name).Msg("found existing stream")
	}

	return &NatsService{js: js, nc: nc, cfg: cfg, log: log}, nil
}

// Close stops consuming and closes the connection.
func (s *NatsService) Close() {
	if s.consumeCtx != nil {
		s.consumeCtx.Stop()
	}
	if s.nc != nil {
		s.nc.Close()
	}
}

// PublishMessage sends m on the subject for its category.
func (s *NatsService) PublishMessage(ctx context.Context, m models.Message) error {
	subject := Subject(s.cfg.SubjectPrefix, m.Category)
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := s.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish message to subject '%s': %w", subject, err)
	}
	s.log.Debug().Str("subject", subject).Str("title", m.Title).Msg("message published")
	return nil
}

// Subject is the NATS subject carrying messages of category c.
func Subject(prefix string, c models.Category) string {
	return prefix + "." + string(c)
}

func wildcard(prefix string) string {
	return prefix + ".*"
}

// CategoryFromSubject reads the category from the last subject token.
func CategoryFromSubject(prefix, subject string) (models.Category, bool) {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok || strings.Contains(rest, ".") {
		return "", false
	}
	return models.ParseCategory(rest)
}

// Consume feeds every message on the dashboard subjects to sub through a
// durable consumer. It returns once consumption has started; Close stops
// it.
func (s *NatsService) Consume(ctx context.Context, sub Submitter) error {
	filter := wildcard(s.cfg.SubjectPrefix)
	cons, err := s.js.CreateOrUpdateConsumer(ctx, s.cfg.StreamName, jetstream.ConsumerConfig{
		Durable:       s.cfg.Consumer,
		FilterSubject: filter,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer for subject '%s': %w", filter, err)
	}

	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		s.handle(ctx, sub, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming from subject '%s': %w", filter, err)
	}
	s.consumeCtx = consumeCtx
	s.log.Info().Str("subject", filter).Str("consumer", s.cfg.Consumer).Msg("consuming")
	return nil
}

// inbound is the subset of jetstream.Msg the handler uses.
type inbound interface {
	Subject() string
	Data() []byte
	Ack() error
	Nak() error
}

// handle acks rejected payloads so they are not redelivered, and naks
// anything else that failed.
func (s *NatsService) handle(ctx context.Context, sub Submitter, msg inbound) {
	category, ok := CategoryFromSubject(s.cfg.SubjectPrefix, msg.Subject())
	if !ok {
		s.log.Warn().Str("subject", msg.Subject()).Msg("message on unknown subject dropped")
		_ = msg.Ack()
		return
	}

	r, err := sub.SubmitJSON(ctx, category, msg.Data())
	switch {
	case err == nil:
		s.log.Debug().Str("message_id", r.ID).Str("subject", msg.Subject()).Msg("message ingested")
		_ = msg.Ack()
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrMalformed):
		s.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("invalid message dropped")
		_ = msg.Ack()
	default:
		s.log.Error().Err(err).Str("subject", msg.Subject()).Msg("message ingest failed")
		_ = msg.Nak()
	}
}
