// Package broadcast fans accepted messages and periodic status snapshots
// out to live subscribers.
//
// Every subscriber owns a bounded outbound queue drained by a single
// writer goroutine, so a subscriber sees events in the order they were
// queued. Queuing never blocks: when a queue is full the newest event is
// dropped for that subscriber only. A failed write closes only the
// subscriber that failed.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/karthikraju391/agent-dashboard/clock"
	"github.com/karthikraju391/agent-dashboard/models"
	"github.com/karthikraju391/agent-dashboard/store"
)

const (
	EventNewMessage   = "new_message"
	EventStatusUpdate = "status_update"

	DefaultInterval  = 5 * time.Second
	DefaultQueueSize = 256
)

var (
	// ErrDeliveryFailed wraps a write error that closed a subscriber.
	ErrDeliveryFailed = errors.New("subscriber delivery failed")
	ErrHubClosed      = errors.New("broadcast hub closed")
)

// Conn is the write side of a live connection.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Pinger is implemented by connections that need keepalive frames. Pings
// are sent from the subscriber's writer goroutine.
type Pinger interface {
	Ping() error
}

// Counter supplies the aggregate counts carried by status snapshots.
type Counter interface {
	Counts(now time.Time) store.Counts
}

// Event is one frame pushed to subscribers.
type Event struct {
	Type        string          `json:"type"`
	MessageType models.Category `json:"message_type,omitempty"`
	MessageID   string          `json:"message_id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        any             `json:"data"`
}

// StatusData is the payload of a status_update event.
type StatusData struct {
	store.Counts
	Subscribers int `json:"subscribers"`
}

type Options struct {
	// Interval between status snapshots.
	Interval time.Duration
	// QueueSize bounds each subscriber's outbound queue.
	QueueSize int
	// PingInterval enables keepalive pings for Pinger connections.
	PingInterval time.Duration
	Clock        clock.Clock
	Logger       zerolog.Logger
}

type Hub struct {
	mu      sync.Mutex
	subs    map[*Subscriber]struct{}
	closed  bool
	counter Counter
	opts    Options
	log     zerolog.Logger
}

func NewHub(counter Counter, opts Options) *Hub {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Hub{
		subs:    make(map[*Subscriber]struct{}),
		counter: counter,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "broadcast").Logger(),
	}
}

// Subscribe registers conn and starts its writer. The subscriber is
// Active when Subscribe returns.
func (h *Hub) Subscribe(conn Conn) (*Subscriber, error) {
	s := &Subscriber{
		id:    uuid.NewString(),
		hub:   h,
		conn:  conn,
		queue:   make(chan Event, h.opts.QueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.state.Store(int32(StateClosed))
		close(s.stopped)
		return nil, ErrHubClosed
	}
	h.subs[s] = struct{}{}
	s.state.Store(int32(StateActive))
	total := len(h.subs)
	h.mu.Unlock()

	go s.writeLoop()
	h.log.Info().Str("subscriber", s.id).Int("subscribers", total).Msg("subscriber connected")
	return s, nil
}

// Notify queues a new_message event for every active subscriber.
func (h *Hub) Notify(m models.Message) {
	h.publish(Event{
		Type:        EventNewMessage,
		MessageType: m.Category,
		MessageID:   m.ID,
		Timestamp:   h.opts.Clock.Now(),
		Data:        m,
	})
}

// PublishStatus queues a status_update snapshot for every subscriber.
func (h *Hub) PublishStatus() {
	now := h.opts.Clock.Now()
	data := StatusData{Subscribers: h.Len()}
	if h.counter != nil {
		data.Counts = h.counter.Counts(now)
	}
	h.publish(Event{Type: EventStatusUpdate, Timestamp: now, Data: data})
}

// Lock order matches Notify call order, so every subscriber receives
// events in the order they were published.
func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if !s.offer(ev) {
			h.log.Debug().Str("subscriber", s.id).Str("event", ev.Type).Msg("subscriber queue full, event dropped")
		}
	}
}

// Run emits status snapshots every Interval until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := h.opts.Clock.NewTicker(h.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.PublishStatus()
		}
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

func (h *Hub) remove(s *Subscriber) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
	return len(h.subs)
}

// State of a subscriber: Connecting → Active → Closed.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return "closed"
	}
}

type Subscriber struct {
	id        string
	hub       *Hub
	conn      Conn
	queue     chan Event
	done      chan struct{}
	stopped   chan struct{}
	state     atomic.Int32
	dropped   atomic.Uint64
	closeOnce sync.Once
	err       error
}

func (s *Subscriber) ID() string { return s.id }

func (s *Subscriber) State() State { return State(s.state.Load()) }

// Dropped counts events discarded because the queue was full.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// Done is closed once the subscriber is Closed.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Stopped is closed once the writer goroutine has returned. After that
// the subscriber never touches its Conn again.
func (s *Subscriber) Stopped() <-chan struct{} { return s.stopped }

// Err returns the delivery error that closed the subscriber, if any. Only
// valid after Done is closed.
func (s *Subscriber) Err() error { return s.err }

// Close disconnects the subscriber. Safe to call more than once.
func (s *Subscriber) Close() {
	s.closeWith(nil)
}

func (s *Subscriber) closeWith(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		s.state.Store(int32(StateClosed))
		remaining := s.hub.remove(s)
		_ = s.conn.Close()
		close(s.done)

		ev := s.hub.log.Info()
		if err != nil {
			ev = s.hub.log.Warn().Err(err)
		}
		ev.Str("subscriber", s.id).Int("subscribers", remaining).Msg("subscriber disconnected")
	})
}

func (s *Subscriber) offer(ev Event) bool {
	if s.State() != StateActive {
		return false
	}
	select {
	case s.queue <- ev:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *Subscriber) writeLoop() {
	defer close(s.stopped)

	var pings <-chan time.Time
	pinger, canPing := s.conn.(Pinger)
	if canPing && s.hub.opts.PingInterval > 0 {
		ticker := s.hub.opts.Clock.NewTicker(s.hub.opts.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			if s.State() == StateClosed {
				return
			}
			if err := s.conn.WriteJSON(ev); err != nil {
				s.closeWith(fmt.Errorf("%w: write %s: %w", ErrDeliveryFailed, ev.Type, err))
				return
			}
		case <-pings:
			if err := pinger.Ping(); err != nil {
				s.closeWith(fmt.Errorf("%w: ping: %w", ErrDeliveryFailed, err))
				return
			}
		}
	}
}
