// Package rabbitmq_service ingests dashboard messages from a RabbitMQ
// topic exchange. The routing key messages.<category> names the category.
package rabbitmq_service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/karthikraju391/agent-dashboard/config"
	"github.com/karthikraju391/agent-dashboard/ingest"
	"github.com/karthikraju391/agent-dashboard/models"
)

// RoutingPrefix starts every routing key the adapter binds.
const RoutingPrefix = "messages"

type Submitter interface {
	SubmitJSON(ctx context.Context, category models.Category, body []byte) (ingest.Receipt, error)
}

type Adapter struct {
	cfg       config.RabbitMQConfig
	submitter Submitter
	log       zerolog.Logger

	conn      *amqp091.Connection
	ch        *amqp091.Channel
	deliver   <-chan amqp091.Delivery
	ops       chan amqp091.Delivery
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

func NewAdapter(cfg config.RabbitMQConfig, sub Submitter, logger zerolog.Logger) (*Adapter, error) {
	if cfg.URL == "" || cfg.Exchange == "" || cfg.Queue == "" {
		return nil, errors.New("rabbitmq url, exchange and queue are required")
	}
	if sub == nil {
		return nil, errors.New("submitter is required")
	}
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = config.ServiceName
	}
	return &Adapter{
		cfg:       cfg,
		submitter: sub,
		log:       logger.With().Str("component", "rabbitmq").Logger(),
		ops:       make(chan amqp091.Delivery, cfg.Prefetch),
		closed:    make(chan struct{}),
	}, nil
}

// Start declares the exchange and queue, then consumes in the background
// until ctx is done or Close is called.
func (a *Adapter) Start(ctx context.Context) error {
	conn, err := amqp091.DialConfig(a.cfg.URL, amqp091.Config{Properties: amqp091.Table{"connection_name": config.ServiceName}})
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open rabbitmq channel: %w", err)
	}
	fail := func(format string, err error) error {
		ch.Close()
		conn.Close()
		return fmt.Errorf(format, err)
	}
	if err := ch.Qos(a.cfg.Prefetch, 0, false); err != nil {
		return fail("set prefetch: %w", err)
	}
	if err := ch.ExchangeDeclare(a.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fail("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(a.cfg.Queue, true, false, false, false, nil); err != nil {
		return fail("declare queue: %w", err)
	}
	if err := ch.QueueBind(a.cfg.Queue, RoutingPrefix+".*", a.cfg.Exchange, false, nil); err != nil {
		return fail("bind queue: %w", err)
	}
	deliveries, err := ch.Consume(a.cfg.Queue, a.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fail("consume queue: %w", err)
	}
	a.conn, a.ch, a.deliver = conn, ch, deliveries

	a.wg.Add(1)
	go a.readLoop(ctx)
	for i := 0; i < a.cfg.Workers; i++ {
		a.wg.Add(1)
		go a.workerLoop(ctx)
	}
	a.log.Info().Str("exchange", a.cfg.Exchange).Str("queue", a.cfg.Queue).Msg("consuming")
	return nil
}

func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.closed)
		if a.ch != nil {
			_ = a.ch.Cancel(a.cfg.ConsumerTag, false)
		}
		a.wg.Wait()

		var errs []error
		if a.ch != nil {
			if err := a.ch.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.conn != nil {
			if err := a.conn.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

func (a *Adapter) readLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closed:
			return
		case d, ok := <-a.deliver:
			if !ok {
				return
			}
			select {
			case a.ops <- d:
			case <-ctx.Done():
				return
			case <-a.closed:
				return
			}
		}
	}
}

func (a *Adapter) workerLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closed:
			return
		case d := <-a.ops:
			a.processDelivery(ctx, d)
		}
	}
}

// processDelivery acks accepted messages, drops rejected ones and
// requeues anything that failed for another reason.
func (a *Adapter) processDelivery(ctx context.Context, d amqp091.Delivery) {
	category, ok := CategoryFromRoutingKey(d.RoutingKey)
	if !ok {
		a.log.Warn().Str("routing_key", d.RoutingKey).Msg("message with unknown routing key dropped")
		_ = d.Nack(false, false)
		return
	}

	r, err := a.submitter.SubmitJSON(ctx, category, d.Body)
	switch {
	case err == nil:
		a.log.Debug().Str("message_id", r.ID).Str("routing_key", d.RoutingKey).Msg("message ingested")
		_ = d.Ack(false)
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrMalformed):
		a.log.Warn().Err(err).Str("routing_key", d.RoutingKey).Msg("invalid message dropped")
		_ = d.Nack(false, false)
	default:
		a.log.Error().Err(err).Str("routing_key", d.RoutingKey).Msg("message ingest failed")
		_ = d.Nack(false, true)
	}
}

// RoutingKey is the key a publisher uses for category c.
func RoutingKey(c models.Category) string {
	return RoutingPrefix + "." + string(c)
}

func CategoryFromRoutingKey(key string) (models.Category, bool) {
	rest, ok := strings.CutPrefix(key, RoutingPrefix+".")
	if !ok {
		return "", false
	}
	return models.ParseCategory(rest)
}
