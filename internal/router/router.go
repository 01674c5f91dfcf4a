// Package router implements the in-memory pub/sub engine: it accepts
// published events into a bounded queue and fans them out to matching
// live subscriber connections with backpressure and failure isolation.
package router

import (
	"log/slog"
	"sync"

	"github.com/edupulse/event-pipeline/internal/events"
	"github.com/edupulse/event-pipeline/internal/metrics"
)

// Conn is the delivery capability of one subscriber connection. A failed
// Send marks the subscription as dead; the router never retries it.
type Conn interface {
	Send(ev events.Event) error
}

// Config holds the router's construction-time capacity limits.
type Config struct {
	// QueueSize bounds the event queue; publishes beyond it are rejected.
	QueueSize int
	// MaxSubscribers bounds the registry; subscribes beyond it are rejected.
	MaxSubscribers int
}

// DefaultConfig returns the default router limits.
func DefaultConfig() Config {
	return Config{
		QueueSize:      10000,
		MaxSubscribers: 5000,
	}
}

// Stats is a read-only snapshot of the router for observability.
type Stats struct {
	ActiveSubscribers int `json:"active_subscribers"`
	QueueSize         int `json:"queue_size"`
}

// subscription pairs a live connection with its current filter.
type subscription struct {
	conn   Conn
	filter events.Filter
}

// Router routes published events to matching subscribers. Publish is safe
// for concurrent use and never blocks; delivery happens on a single
// dispatch goroutine, so no connection ever sees concurrent sends from
// the router.
type Router struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]subscription

	queue chan events.Event

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a Router with the given limits. Zero or negative limits
// fall back to the defaults.
func New(cfg Config, logger *slog.Logger) *Router {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.MaxSubscribers <= 0 {
		cfg.MaxSubscribers = DefaultConfig().MaxSubscribers
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[string]subscription),
		queue:  make(chan events.Event, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// Start spawns the background dispatch loop. Calling Start more than once
// is a caller error.
func (r *Router) Start() {
	r.wg.Add(1)
	go r.processEvents()
	r.logger.Info("event router started",
		slog.Int("queue_size", r.cfg.QueueSize),
		slog.Int("max_subscribers", r.cfg.MaxSubscribers))
}

// Stop signals the dispatch loop to terminate and waits for it to exit.
// Safe to call without Start and safe to call repeatedly. Events still
// queued at stop are dropped; persistence happens upstream of the router.
func (r *Router) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
	r.logger.Info("event router stopped")
}

// Subscribe registers a connection with its initial filter and returns
// the generated subscriber id. Returns ok=false without mutating the
// registry when the subscriber limit is reached.
func (r *Router) Subscribe(conn Conn, filter events.Filter) (id string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.subs) >= r.cfg.MaxSubscribers {
		r.logger.Warn("subscriber rejected (at capacity)",
			slog.Int("max_subscribers", r.cfg.MaxSubscribers))
		return "", false
	}

	id = events.NewSubscriberID()
	r.subs[id] = subscription{conn: conn, filter: filter}
	metrics.RouterSubscribersActive.Set(float64(len(r.subs)))
	r.logger.Info("subscriber added",
		slog.String("subscriber_id", id),
		slog.Any("filter", filter))
	return id, true
}

// Unsubscribe removes a subscription. Removing an unknown id is a no-op.
func (r *Router) Unsubscribe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.subs[id]; !exists {
		return
	}
	delete(r.subs, id)
	metrics.RouterSubscribersActive.Set(float64(len(r.subs)))
	r.logger.Info("subscriber removed", slog.String("subscriber_id", id))
}

// UpdateFilter replaces a subscriber's filter wholesale. Returns false if
// the id is not registered.
func (r *Router) UpdateFilter(id string, filter events.Filter) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, exists := r.subs[id]
	if !exists {
		return false
	}
	sub.filter = filter
	r.subs[id] = sub
	return true
}

// Publish enqueues an event for live routing. Returns false immediately
// when the queue is full; the event is dropped from the live path only,
// durable storage is the caller's concern and happens independently.
func (r *Router) Publish(ev events.Event) bool {
	select {
	case r.queue <- ev:
		metrics.RouterEventsPublished.Inc()
		metrics.RouterQueueDepth.Set(float64(len(r.queue)))
		return true
	default:
		metrics.RouterEventsDropped.Inc()
		r.logger.Error("event queue full, dropping event", slog.String("event_id", ev.ID))
		return false
	}
}

// Stats returns a point-in-time snapshot of the router.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	active := len(r.subs)
	r.mu.RUnlock()

	return Stats{
		ActiveSubscribers: active,
		QueueSize:         len(r.queue),
	}
}

// processEvents is the single dispatch loop. It drains the queue for the
// router's lifetime and terminates only on Stop.
func (r *Router) processEvents() {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			return
		case ev := <-r.queue:
			metrics.RouterQueueDepth.Set(float64(len(r.queue)))
			r.routeEvent(ev)
		}
	}
}

// routeEvent delivers one event to every matching subscription and
// removes subscribers whose connection failed. A fault while processing
// one event is contained to that event.
func (r *Router) routeEvent(ev events.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("error processing event",
				slog.String("event_id", ev.ID),
				slog.Any("panic", rec))
		}
	}()

	r.mu.RLock()
	snapshot := make(map[string]subscription, len(r.subs))
	for id, sub := range r.subs {
		snapshot[id] = sub
	}
	r.mu.RUnlock()

	var disconnected []string
	for id, sub := range snapshot {
		if !sub.filter.Matches(ev) {
			continue
		}
		if err := sub.conn.Send(ev); err != nil {
			disconnected = append(disconnected, id)
			continue
		}
		metrics.RouterEventsDelivered.Inc()
	}

	for _, id := range disconnected {
		metrics.RouterSubscriberDisconnects.Inc()
		r.Unsubscribe(id)
	}
}
