// Package eventbus implements the topic-based fan-out bus: subscribers
// register a bounded inbox, publishing is non-blocking, and a full
// inbox drops its oldest entry rather than blocking the publisher. See
// spec §4.I.
package eventbus

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Topic names used across the core. Producers and the orchestrator
// publish to these; sinks subscribe.
const (
	TopicMeasurement = "measurement"
	TopicHealth      = "health"
	TopicAnomaly     = "anomaly"
	TopicRegion      = "region"
	TopicAlert       = "alert"
)

// DefaultInboxCapacity is the per-subscriber bounded inbox size.
const DefaultInboxCapacity = 1024

// Event is an envelope carrying a topic and an arbitrary payload
// (models.Measurement, models.HealthSnapshot, models.AnomalyEvent,
// models.AnomalyRegion, or an alert string, depending on topic).
type Event struct {
	Topic   string
	Payload any
}

// Handle identifies a subscription for Unsubscribe.
type Handle uint64

// Inbox is a subscriber's bounded, drop-oldest mailbox.
type Inbox struct {
	C       chan Event
	dropped atomic.Uint64
}

// Dropped returns the number of events dropped for this subscriber due
// to a full inbox.
func (i *Inbox) Dropped() uint64 {
	return i.dropped.Load()
}

type subscription struct {
	handle Handle
	topic  string
	inbox  *Inbox
}

// Bus is the in-memory, non-blocking pub-sub fan-out used to deliver
// derived events to subscriber sinks (websocket, durable store).
// Publish never blocks on a slow subscriber: instead, a full inbox is
// drained of its oldest entry before the new one is enqueued.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription // topic -> subs
	nextID uint64
	logger *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{subs: make(map[string][]*subscription), logger: logger}
}

// Subscribe registers an inbox for a topic with the given capacity
// (falls back to DefaultInboxCapacity if <= 0) and returns the inbox
// plus a handle for Unsubscribe.
func (b *Bus) Subscribe(topic string, capacity int) (*Inbox, Handle) {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	inbox := &Inbox{C: make(chan Event, capacity)}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	h := Handle(b.nextID)
	b.subs[topic] = append(b.subs[topic], &subscription{handle: h, topic: topic, inbox: inbox})
	return inbox, h
}

// Unsubscribe removes a subscription by handle.
func (b *Bus) Unsubscribe(topic string, h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.subs[topic]
	for i, s := range entries {
		if s.handle == h {
			b.subs[topic] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to every subscriber of topic. It never
// blocks: a subscriber whose inbox is full has its oldest pending
// event dropped to make room, and its drop counter is incremented.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	subs := make([]*subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.RUnlock()

	ev := Event{Topic: topic, Payload: payload}
	for _, s := range subs {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s *subscription, ev Event) {
	select {
	case s.inbox.C <- ev:
		return
	default:
	}

	// Inbox full: drop the oldest entry and retry once.
	select {
	case <-s.inbox.C:
		s.inbox.dropped.Add(1)
	default:
	}

	select {
	case s.inbox.C <- ev:
	default:
		// Lost a race with another publisher; count this one dropped too.
		s.inbox.dropped.Add(1)
		b.logger.Warn("event dropped after contended inbox eviction", zap.String("topic", s.topic))
	}
}
