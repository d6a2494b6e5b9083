package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bus fans cluster events out to subscribers. Arbitration never blocks
// on observers: handlers run on their own goroutines and a slow sink
// only ever loses its own events.
type Bus interface {
	Publish(ctx context.Context, event Event)

	// Subscribe registers a handler and returns a cancel func that
	// removes it again. Daemon-lifetime sinks may discard the cancel.
	Subscribe(pattern string, handler Handler) (cancel func())

	// Replay returns retained events between from and to.
	Replay(from, to time.Time) []Event
}

// Event records one arbitration decision or observation.
type Event struct {
	ID        string         `json:"id"`
	Cluster   string         `json:"cluster"`
	Type      EventType      `json:"type"`
	NodeID    string         `json:"node_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventType categorizes events
type EventType string

const (
	NodeRegistered     EventType = "node.registered"
	NodeDown           EventType = "node.down"
	NodeRecovered      EventType = "node.recovered"
	LeaseAcquired      EventType = "lease.acquired"
	LeaseRenewFailed   EventType = "lease.renew_failed"
	LeaseReleased      EventType = "lease.released"
	FailoverStarted    EventType = "failover.started"
	FailoverCompleted  EventType = "failover.completed"
	ReplicationLagHigh EventType = "replication.lag_high"
	DNSUpdated         EventType = "dns.updated"
	ClusterDegraded    EventType = "cluster.degraded"
)

// Handler processes events
type Handler func(ctx context.Context, event Event) error

// SimpleBus is the in-memory implementation used by the daemon.
type SimpleBus struct {
	mu        sync.RWMutex
	handlers  map[string][]subscription
	nextID    int
	events    []Event
	maxEvents int
}

type subscription struct {
	id      int
	handler Handler
}

// NewSimpleBus creates a bus retaining up to maxEvents for replay.
func NewSimpleBus(maxEvents int) *SimpleBus {
	if maxEvents <= 0 {
		maxEvents = 10000
	}
	return &SimpleBus{
		handlers:  make(map[string][]subscription),
		events:    make([]Event, 0, maxEvents),
		maxEvents: maxEvents,
	}
}

// Publish sends an event. Missing id and timestamp are stamped here so
// emitters only fill in what they know.
func (eb *SimpleBus) Publish(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	// Store for replay
	eb.events = append(eb.events, event)
	if len(eb.events) > eb.maxEvents {
		eb.events = eb.events[1:] // Remove oldest
	}

	// Handlers run after Publish returns, so they must not inherit the
	// publisher's cancellation: a promote handler's deferred cancel
	// would otherwise strand the history and notifier writes mid-flight.
	hctx := context.WithoutCancel(ctx)
	for pattern, subs := range eb.handlers {
		if matchesPattern(string(event.Type), pattern) {
			for _, sub := range subs {
				go sub.handler(hctx, event) // Async processing
			}
		}
	}
}

// Subscribe registers a handler for a type pattern: an exact type, a
// "lease.*" prefix wildcard, or "*" for everything. The returned cancel
// func removes the handler; transient subscribers such as event watch
// connections must call it.
func (eb *SimpleBus) Subscribe(pattern string, handler Handler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.handlers[pattern] = append(eb.handlers[pattern], subscription{id: id, handler: handler})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()

		subs := eb.handlers[pattern]
		for i, sub := range subs {
			if sub.id == id {
				eb.handlers[pattern] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Replay returns retained events between from and to.
func (eb *SimpleBus) Replay(from, to time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, event := range eb.events {
		if event.Timestamp.After(from) && event.Timestamp.Before(to) {
			result = append(result, event)
		}
	}

	return result
}

// Query serves the events API from the retention buffer when no
// database history sink is configured. Newest first, same patterns and
// limit clamp as the history store.
func (eb *SimpleBus) Query(_ context.Context, limit int, typePattern string) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	out := make([]Event, 0, limit)
	for i := len(eb.events) - 1; i >= 0 && len(out) < limit; i-- {
		event := eb.events[i]
		if typePattern != "" && !matchesPattern(string(event.Type), typePattern) {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

// Recent returns up to limit retained events, newest last.
func (eb *SimpleBus) Recent(limit int) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if limit <= 0 || limit > len(eb.events) {
		limit = len(eb.events)
	}
	out := make([]Event, limit)
	copy(out, eb.events[len(eb.events)-limit:])
	return out
}

// matchesPattern checks if event type matches pattern
func matchesPattern(eventType, pattern string) bool {
	if pattern == "*" || eventType == pattern {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(eventType, prefix)
	}
	return false
}
