// Package sink defines the persistence contract the core depends on
// (spec §6 "Persistence sink contract") and a Persister that drains the
// event bus into a Sink off the ingest critical path, with a bounded
// timeout per call and failures counted rather than propagated (spec
// §7: sink_unavailable and resource_exhausted are "counted and logged,
// never propagated to ingest callers").
package sink

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/signalmesh/fleetwatch/internal/eventbus"
	"github.com/signalmesh/fleetwatch/internal/metrics"
	"github.com/signalmesh/fleetwatch/pkg/models"
)

// Sink is the append-only persistence surface the core writes derived
// state to. Implementations may fail or time out independently; the
// core does not depend on read-back (spec §1, §6).
type Sink interface {
	PersistMeasurement(ctx context.Context, m models.Measurement) error
	PersistAnomaly(ctx context.Context, ev models.AnomalyEvent) error
	PersistHealth(ctx context.Context, hs models.HealthSnapshot) error
	PersistRegion(ctx context.Context, r models.AnomalyRegion) error
}

// Persister subscribes to the event bus and forwards every event to a
// Sink, one topic per goroutine, each call bounded by a timeout. It is
// the generic "durable store" consumer described in spec §4.I; a
// websocket fan-out subscriber is a second, independent consumer of the
// same bus and does not go through this type.
type Persister struct {
	bus     *eventbus.Bus
	sink    Sink
	metrics *metrics.Metrics
	logger  *zap.Logger
	timeout time.Duration

	name string
}

// NewPersister creates a Persister. name identifies this sink in
// metrics and logs (e.g. "sqlstore").
func NewPersister(name string, bus *eventbus.Bus, sink Sink, m *metrics.Metrics, logger *zap.Logger, timeout time.Duration) *Persister {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{bus: bus, sink: sink, metrics: m, logger: logger, timeout: timeout, name: name}
}

// Run subscribes to every derived-event topic and drains them until ctx
// is cancelled. Call in its own goroutine.
func (p *Persister) Run(ctx context.Context) {
	topics := []string{eventbus.TopicMeasurement, eventbus.TopicAnomaly, eventbus.TopicHealth, eventbus.TopicRegion}
	for _, topic := range topics {
		inbox, handle := p.bus.Subscribe(topic, 0)
		go p.drain(ctx, topic, inbox)
		defer p.bus.Unsubscribe(topic, handle)
	}
	<-ctx.Done()
}

func (p *Persister) drain(ctx context.Context, topic string, inbox *eventbus.Inbox) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-inbox.C:
			p.persist(ctx, topic, ev.Payload)
		}
	}
}

func (p *Persister) persist(ctx context.Context, topic string, payload any) {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var err error
	switch topic {
	case eventbus.TopicMeasurement:
		err = p.sink.PersistMeasurement(cctx, payload.(models.Measurement))
	case eventbus.TopicAnomaly:
		err = p.sink.PersistAnomaly(cctx, payload.(models.AnomalyEvent))
	case eventbus.TopicHealth:
		err = p.sink.PersistHealth(cctx, payload.(models.HealthSnapshot))
	case eventbus.TopicRegion:
		err = p.sink.PersistRegion(cctx, payload.(models.AnomalyRegion))
	default:
		return
	}
	if err == nil {
		return
	}

	if cctx.Err() != nil {
		if p.metrics != nil {
			p.metrics.SinkTimeoutsTotal.WithLabelValues(p.name).Inc()
		}
		p.logger.Warn("sink call timed out", zap.String("sink", p.name), zap.String("topic", topic))
		return
	}
	if p.metrics != nil {
		p.metrics.SinkFailuresTotal.WithLabelValues(p.name).Inc()
	}
	p.logger.Warn("sink call failed", zap.String("sink", p.name), zap.String("topic", topic), zap.Error(err))
}
