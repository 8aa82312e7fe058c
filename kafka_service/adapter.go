// Package kafka_service ingests dashboard messages from Kafka topics.
//
// Records are fanned out to a worker pool. A partition's offset is
// committed once the ingestion path has accepted or rejected every record
// up to it, so rejected payloads are not redelivered. A record that fails
// for any other reason stops commits on its partition for the rest of the
// run; after a restart it is redelivered along with everything after it.
package kafka_service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/karthikraju391/agent-dashboard/config"
	"github.com/karthikraju391/agent-dashboard/ingest"
	"github.com/karthikraju391/agent-dashboard/models"
)

// TypeHeader names the record header carrying the category.
const TypeHeader = "type"

const commitTimeout = 5 * time.Second

var ErrNoCategory = errors.New("kafka record has no known category")

type Submitter interface {
	SubmitJSON(ctx context.Context, category models.Category, body []byte) (ingest.Receipt, error)
}

type Adapter struct {
	cfg config.KafkaConfig
	log zerolog.Logger

	client  *kgo.Client
	records chan *kgo.Record
	acks    chan recordAck
	offsets *offsetTracker
	closed  atomic.Bool

	pauseMux sync.Mutex
	paused   bool

	submitter    Submitter
	markCommit   func(*kgo.Record)
	commitMarked func(context.Context) error
	pauseFetch   func(...string)
	resumeFetch  func(...string)
}

type recordAck struct {
	record *kgo.Record
	err    error
}

func withDefaults(c config.KafkaConfig) config.KafkaConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueLength <= 0 {
		c.QueueLength = 1024
	}
	if c.MaxPoll <= 0 {
		c.MaxPoll = 500
	}
	return c
}

func NewAdapter(cfg config.KafkaConfig, sub Submitter, logger zerolog.Logger, opts ...kgo.Opt) (*Adapter, error) {
	cfg = withDefaults(cfg)
	if len(cfg.Brokers) == 0 || len(cfg.Topics) == 0 || cfg.GroupID == "" {
		return nil, errors.New("kafka brokers, topics and group_id are required")
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.FetchMaxWait(time.Second),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	kopts = append(kopts, opts...)

	a := newAdapter(cfg, sub, logger)
	kopts = append(kopts,
		kgo.OnPartitionsRevoked(a.onPartitionsGone),
		kgo.OnPartitionsLost(a.onPartitionsGone),
	)
	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka client: %w", err)
	}
	a.client = cl
	a.markCommit = func(r *kgo.Record) { cl.MarkCommitRecords(r) }
	a.commitMarked = func(ctx context.Context) error { return cl.CommitMarkedOffsets(ctx) }
	a.pauseFetch = func(topics ...string) { _ = cl.PauseFetchTopics(topics...) }
	a.resumeFetch = func(topics ...string) { cl.ResumeFetchTopics(topics...) }
	return a, nil
}

func newAdapter(cfg config.KafkaConfig, sub Submitter, logger zerolog.Logger) *Adapter {
	return &Adapter{
		cfg:       cfg,
		log:       logger.With().Str("component", "kafka").Logger(),
		submitter: sub,
		records:   make(chan *kgo.Record, cfg.QueueLength),
		acks:      make(chan recordAck, cfg.QueueLength),
		offsets:   newOffsetTracker(),
	}
}

func (a *Adapter) onPartitionsGone(_ context.Context, _ *kgo.Client, partitions map[string][]int32) {
	a.offsets.forget(partitions)
}

// Start polls until ctx is done or a fetch fails. It returns after every
// worker has finished and the final acks are handled.
func (a *Adapter) Start(ctx context.Context) error {
	defer a.client.Close()
	stop := a.run(ctx)

	a.log.Info().Strs("topics", a.cfg.Topics).Str("group", a.cfg.GroupID).Msg("consuming")
	for {
		if ctx.Err() != nil || a.closed.Load() {
			stop()
			return ctx.Err()
		}
		fetches := a.client.PollRecords(ctx, a.cfg.MaxPoll)
		if fetches.IsClientClosed() {
			stop()
			return nil
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			if ctx.Err() != nil {
				continue
			}
			stop()
			return fmt.Errorf("kafka fetch %s: %w", errs[0].Topic, errs[0].Err)
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			a.enqueue(ctx, rec)
		})
		a.client.AllowRebalance()
	}
}

// run starts the workers and the ack loop. The returned stop closes the
// record queue and waits for both to drain.
func (a *Adapter) run(ctx context.Context) (stop func()) {
	var workers sync.WaitGroup
	for i := 0; i < a.cfg.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			a.runWorker(ctx)
		}()
	}
	acksDone := make(chan struct{})
	go func() {
		defer close(acksDone)
		a.handleAcks(ctx)
	}()
	go func() {
		workers.Wait()
		close(a.acks)
	}()

	return func() {
		close(a.records)
		<-acksDone
	}
}

// Close makes Start return after its current poll.
func (a *Adapter) Close() {
	a.closed.Store(true)
}

// enqueue tracks rec before a worker can see it. A record left unqueued
// at shutdown stays tracked and blocks commits past it.
func (a *Adapter) enqueue(ctx context.Context, rec *kgo.Record) {
	a.offsets.track(rec)
	for {
		select {
		case a.records <- rec:
			a.maybeResume()
			return
		case <-ctx.Done():
			return
		default:
			a.maybePause()
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func (a *Adapter) runWorker(ctx context.Context) {
	for rec := range a.records {
		a.acks <- recordAck{record: rec, err: a.process(ctx, rec)}
	}
}

func (a *Adapter) process(ctx context.Context, rec *kgo.Record) error {
	category, ok := RecordCategory(rec)
	if !ok {
		return ErrNoCategory
	}
	r, err := a.submitter.SubmitJSON(ctx, category, rec.Value)
	if err != nil {
		return err
	}
	a.log.Debug().Str("message_id", r.ID).Str("topic", rec.Topic).Int64("offset", rec.Offset).Msg("message ingested")
	return nil
}

// handleAcks commits accepted and rejected records in partition order
// until the ack channel is closed. Commits made after ctx is done use a
// detached context so the last completed offsets still reach the broker.
func (a *Adapter) handleAcks(ctx context.Context) {
	for ack := range a.acks {
		if ack.record == nil {
			continue
		}
		rec := ack.record
		ok := ack.err == nil || rejected(ack.err)
		switch {
		case ack.err == nil:
		case ok:
			a.log.Warn().Err(ack.err).Str("topic", rec.Topic).Int64("offset", rec.Offset).Msg("invalid message dropped")
		default:
			a.log.Error().Err(ack.err).Str("topic", rec.Topic).Int32("partition", rec.Partition).Int64("offset", rec.Offset).
				Msg("message ingest failed, commits halted for partition until restart")
		}

		commit := a.offsets.complete(rec, ok)
		if commit == nil {
			continue
		}
		a.markCommit(commit)
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
		if err := a.commitMarked(cctx); err != nil {
			a.log.Warn().Err(err).Msg("offset commit failed")
		}
		cancel()
	}
}

func rejected(err error) bool {
	return errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrMalformed) || errors.Is(err, ErrNoCategory)
}

// RecordCategory reads the category from the type header, falling back to
// the "type" field of the JSON body.
func RecordCategory(rec *kgo.Record) (models.Category, bool) {
	for _, h := range rec.Headers {
		if h.Key == TypeHeader {
			return models.ParseCategory(string(h.Value))
		}
	}
	var body struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(rec.Value, &body); err != nil {
		return "", false
	}
	return models.ParseCategory(body.Type)
}

func (a *Adapter) maybePause() {
	a.pauseMux.Lock()
	defer a.pauseMux.Unlock()
	if a.paused {
		return
	}
	if len(a.records) < cap(a.records) {
		return
	}
	a.pauseFetch(a.cfg.Topics...)
	a.paused = true
}

func (a *Adapter) maybeResume() {
	a.pauseMux.Lock()
	defer a.pauseMux.Unlock()
	if !a.paused {
		return
	}
	if len(a.records) > cap(a.records)/2 {
		return
	}
	a.resumeFetch(a.cfg.Topics...)
	a.paused = false
}
