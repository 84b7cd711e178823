// Package orchestrator wires the core's stages (smoothing, anomaly
// detection, multilateration, feature extraction, health scoring, spatial
// clustering) into one sequenced `ingest` operation plus the periodic
// tasks and query surface, per spec §4.J/§5/§6. It is the counterpart of
// the teacher's top-level service types (e.g. internal/pulse's monitor):
// one explicit handle constructed at startup, no package-level state.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/signalmesh/fleetwatch/internal/anomaly"
	"github.com/signalmesh/fleetwatch/internal/cluster"
	"github.com/signalmesh/fleetwatch/internal/config"
	"github.com/signalmesh/fleetwatch/internal/device"
	"github.com/signalmesh/fleetwatch/internal/errs"
	"github.com/signalmesh/fleetwatch/internal/eventbus"
	"github.com/signalmesh/fleetwatch/internal/feature"
	"github.com/signalmesh/fleetwatch/internal/health"
	"github.com/signalmesh/fleetwatch/internal/heatmap"
	"github.com/signalmesh/fleetwatch/internal/locate"
	"github.com/signalmesh/fleetwatch/internal/metrics"
	"github.com/signalmesh/fleetwatch/pkg/models"
)

// maxRecentAnomalies bounds the in-memory recent-anomaly buffer the
// query surface reads from; older entries are pruned lazily on read.
const maxRecentAnomalies = 4096

// Engine is the fleet-wide pipeline handle: one per process, holding the
// device registry, anchor set, anomaly scorer, multilateration engine,
// event bus, and the current region list.
type Engine struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	bus     *eventbus.Bus

	registry *device.Registry
	anchors  *locate.AnchorSet
	scorer   anomaly.Scorer
	locator  *locate.Engine

	regionsMu sync.RWMutex
	regions   []models.AnomalyRegion

	anomaliesMu sync.Mutex
	anomalies   []models.AnomalyEvent

	freshAnomalies atomic.Int64
}

// New builds an Engine from cfg, a shared event bus, and a metrics
// instance (may be nil in tests). The default anomaly scorer is the
// statistical detector; callers that want a learned scorer can call
// SetScorer before starting Run.
func New(cfg config.Config, bus *eventbus.Bus, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		bus:      bus,
		registry: device.NewRegistry(device.DefaultShardCount, cfg.RingCapacity, cfg.Smoothing),
		anchors:  locate.NewAnchorSet(),
		scorer:   anomaly.NewStatistical(cfg.Anomaly),
		locator:  locate.NewEngine(cfg.Locate),
	}
}

// SetScorer swaps the anomaly scorer (spec §9 pluggability note). Not
// safe to call concurrently with Ingest.
func (e *Engine) SetScorer(s anomaly.Scorer) { e.scorer = s }

// SetAnchor is the administrative companion to ingest (spec §6).
func (e *Engine) SetAnchor(id string, x, y, refRSSIAt1 float64) {
	e.anchors.Set(id, x, y, refRSSIAt1)
}

// RemoveAnchor removes a previously set anchor.
func (e *Engine) RemoveAnchor(id string) { e.anchors.Remove(id) }

// Ingest runs the full per-device pipeline for one measurement: append,
// smooth, anomaly-score, triangulate, and (on stride) recompute features
// and health, publishing derived events along the way. It always
// succeeds for a well-formed measurement (spec §7); only a missing
// device id is rejected.
func (e *Engine) Ingest(m models.Measurement) error {
	if m.DeviceID == "" {
		return errs.New(errs.KindInvalidInput, "ingest", errInvalidMeasurement("device_id is required"))
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	start := time.Now()
	e.registry.WithDevice(m.DeviceID, func(s *device.State) {
		e.ingestLocked(s, m)
	})
	if e.metrics != nil {
		e.metrics.IngestDuration.Observe(time.Since(start).Seconds())
		e.metrics.DevicesActive.Set(float64(e.registry.Count()))
	}
	return nil
}

// ingestLocked implements spec §4.J's six steps under the device's lock.
func (e *Engine) ingestLocked(s *device.State, m models.Measurement) {
	// 1+2: history is a snapshot of everything before m; smoothing
	// attaches to m before it is appended.
	history := s.Ring.All()
	kalmanRSSI, ewmaRSSI := s.Smoother.Update(m.RSSI)
	m.Smoothed = &models.SmoothedValues{KalmanRSSI: kalmanRSSI, EWMARSSI: ewmaRSSI}
	s.Ring.Append(m)
	s.LastSeen = m.Timestamp

	// 3: anomaly score, gated on ring length before this measurement.
	if len(history) >= anomaly.MinHistoryForDetection {
		score, kind, severity := e.scorer.Score(m, history)
		s.PushAnomalyScore(score)
		if score > 0.5 {
			ev := models.AnomalyEvent{
				ID:        uuid.NewString(),
				DeviceID:  m.DeviceID,
				Timestamp: m.Timestamp,
				Score:     score,
				Kind:      kind,
				Severity:  severity,
			}
			e.recordAnomaly(ev)
			e.bus.Publish(eventbus.TopicAnomaly, ev)
			if e.metrics != nil {
				e.metrics.AnomaliesTotal.WithLabelValues(string(kind)).Inc()
			}
			e.freshAnomalies.Add(1)
		}
	} else {
		s.PushAnomalyScore(0)
	}

	// 4: triangulation, if enough anchors and recent samples.
	recent := s.Ring.Tail(0)
	if e.anchors.Len() >= locate.MinAnchors && len(recent) >= 3 {
		if pos, ok := e.solvePosition(m.DeviceID, recent, m.Timestamp); ok {
			s.Position = &pos
		} else if e.metrics != nil {
			e.metrics.SolverFailuresTotal.Inc()
		}
	}

	// 5: feature/health recompute on stride.
	stride := e.cfg.HealthRecomputeStride
	if stride <= 0 {
		stride = 1
	}
	if s.Ring.Len() >= 3 && s.Ring.Len()%stride == 0 {
		e.recomputeHealth(s, recent, m.Timestamp)
	}

	// 6: measurement event, always.
	e.bus.Publish(eventbus.TopicMeasurement, m)
}

func (e *Engine) recomputeHealth(s *device.State, tail []models.Measurement, now time.Time) {
	feat := feature.Extract(tail)
	res := health.Score(feat, now)

	changed := !s.HasHealth || s.Health.Score != res.Score || s.Health.Risk != res.Risk
	s.Health = models.HealthSnapshot{
		DeviceID:         s.DeviceID,
		Score:            res.Score,
		Risk:             res.Risk,
		PredictedFailure: res.PredictedFailure,
		Confidence:       res.Confidence,
		Factors:          res.Factors,
		Recommendations:  res.Recommendations,
		UpdatedAt:        now,
		SampleCount:      len(tail),
	}
	s.HasHealth = true
	if changed {
		e.bus.Publish(eventbus.TopicHealth, s.Health)
	}
}

// solvePosition builds the per-anchor RSSI samples using the device's
// recent mean RSSI (spec §4.F: "the same device, using its recent mean
// RSSI against each anchor's ref_rssi") and solves for a live position.
func (e *Engine) solvePosition(deviceID string, recent []models.Measurement, now time.Time) (models.Position, bool) {
	meanRSSI := meanRecentRSSI(recent, e.cfg.Anomaly.RecentWindow)
	anchors := e.anchors.All()
	samples := make([]locate.AnchorRSSI, len(anchors))
	for i, a := range anchors {
		samples[i] = locate.AnchorRSSI{Anchor: a, MeanRSSI: meanRSSI}
	}
	return e.locator.Solve(deviceID, samples, now, models.PositionMethodTriangulation)
}

// meanRecentRSSI averages the last n raw RSSI readings (or fewer, if not
// available), oldest-first slice assumed.
func meanRecentRSSI(tail []models.Measurement, n int) float64 {
	if n <= 0 {
		n = 10
	}
	if n > len(tail) {
		n = len(tail)
	}
	window := tail[len(tail)-n:]
	var sum float64
	for _, m := range window {
		sum += m.RSSI
	}
	return sum / float64(len(window))
}

func (e *Engine) recordAnomaly(ev models.AnomalyEvent) {
	e.anomaliesMu.Lock()
	defer e.anomaliesMu.Unlock()
	e.anomalies = append(e.anomalies, ev)
	if len(e.anomalies) > maxRecentAnomalies {
		e.anomalies = e.anomalies[len(e.anomalies)-maxRecentAnomalies:]
	}
}

// --- Query surface (spec §6) ---

// HealthSummary aggregates fleet-wide health across every tracked device.
func (e *Engine) HealthSummary() models.HealthSummary {
	summary := models.HealthSummary{ByRisk: make(map[models.Risk]int)}
	var scoreSum float64
	e.registry.Each(func(s *device.State) {
		if !s.HasHealth {
			return
		}
		summary.TotalDevices++
		scoreSum += s.Health.Score
		summary.ByRisk[s.Health.Risk]++
		if s.Health.Risk == models.RiskHigh || s.Health.Risk == models.RiskCritical {
			summary.AtRisk = append(summary.AtRisk, s.DeviceID)
		}
	})
	if summary.TotalDevices > 0 {
		summary.MeanScore = scoreSum / float64(summary.TotalDevices)
	}
	sort.Strings(summary.AtRisk)
	return summary
}

// DeviceHealth returns the current health snapshot for one device.
func (e *Engine) DeviceHealth(deviceID string) (models.HealthSnapshot, bool) {
	var hs models.HealthSnapshot
	var hasHealth bool
	known := e.registry.Read(deviceID, func(s *device.State) {
		hasHealth = s.HasHealth
		hs = s.Health
	})
	if !known || !hasHealth {
		return models.HealthSnapshot{}, false
	}
	return hs, true
}

// DevicePosition returns a device's last solved position, if any.
func (e *Engine) DevicePosition(deviceID string) (models.Position, bool) {
	var pos models.Position
	var ok bool
	e.registry.Read(deviceID, func(s *device.State) {
		if s.Position != nil {
			pos = *s.Position
			ok = true
		}
	})
	return pos, ok
}

// RecentAnomalies returns every recorded anomaly event within window of
// now, oldest first.
func (e *Engine) RecentAnomalies(now time.Time, window time.Duration) []models.AnomalyEvent {
	cutoff := now.Add(-window)
	e.anomaliesMu.Lock()
	defer e.anomaliesMu.Unlock()

	pruned := e.anomalies[:0:0]
	for _, ev := range e.anomalies {
		if !ev.Timestamp.Before(cutoff) {
			pruned = append(pruned, ev)
		}
	}
	e.anomalies = pruned

	out := make([]models.AnomalyEvent, len(pruned))
	copy(out, pruned)
	return out
}

// Regions returns the current AnomalyRegion list.
func (e *Engine) Regions() []models.AnomalyRegion {
	e.regionsMu.RLock()
	defer e.regionsMu.RUnlock()
	out := make([]models.AnomalyRegion, len(e.regions))
	copy(out, e.regions)
	return out
}

// Heatmap builds a signal/anomaly grid over the given bounds from every
// device's last known position and most recent smoothed (EWMA) RSSI.
func (e *Engine) Heatmap(x0, y0, x1, y1 float64, resolution int) models.Heatmap {
	var samples []heatmap.DeviceSample
	e.registry.Each(func(s *device.State) {
		if s.Position == nil {
			return
		}
		last, ok := s.Ring.Last()
		if !ok {
			return
		}
		rssi := last.RSSI
		if last.Smoothed != nil {
			rssi = last.Smoothed.EWMARSSI
		}
		samples = append(samples, heatmap.DeviceSample{
			Position: models.Point{X: s.Position.X, Y: s.Position.Y},
			RSSI:     rssi,
		})
	})

	regions := e.Regions()
	hmRegions := make([]heatmap.Region, len(regions))
	for i, r := range regions {
		hmRegions[i] = heatmap.Region{Centre: r.Centre, Radius: r.Radius, Confidence: r.Confidence}
	}
	return heatmap.Generate(x0, y0, x1, y1, resolution, samples, hmRegions)
}

// Trajectory reconstructs a device's historical signal/position/anomaly
// sequence over the trailing window, oldest first. Position is filled in
// only where a historical multilateration solve succeeds (spec §4.F
// historical variant); SignalQuality normalizes EWMA RSSI into [0,1]
// against a -100..-30 dBm range.
func (e *Engine) Trajectory(deviceID string, now time.Time, window time.Duration) ([]models.TrajectoryPoint, bool) {
	var all []models.Measurement
	found := e.registry.Read(deviceID, func(s *device.State) {
		all = s.Ring.Window(now, window)
	})
	if !found {
		return nil, false
	}

	anchors := e.anchors.All()
	out := make([]models.TrajectoryPoint, 0, len(all))
	for i, m := range all {
		smoothedRSSI := m.RSSI
		if m.Smoothed != nil {
			smoothedRSSI = m.Smoothed.EWMARSSI
		}

		var score float64
		if i >= anomaly.MinHistoryForDetection {
			score, _, _ = e.scorer.Score(m, all[:i])
		}

		var pos *models.Point
		if len(anchors) >= locate.MinAnchors {
			if p, ok := e.historicalPosition(deviceID, anchors, all, m.Timestamp); ok {
				pos = &models.Point{X: p.X, Y: p.Y}
			}
		}

		out = append(out, models.TrajectoryPoint{
			Timestamp:     m.Timestamp,
			SmoothedRSSI:  smoothedRSSI,
			Position:      pos,
			SignalQuality: signalQuality(smoothedRSSI),
			AnomalyScore:  score,
		})
	}
	return out, true
}

// historicalPosition implements spec §4.F's historical variant: average
// the device's RSSI across measurements within ±HistoricalWindow of t,
// in place of the live recent mean.
func (e *Engine) historicalPosition(deviceID string, anchors []models.Anchor, all []models.Measurement, t time.Time) (models.Position, bool) {
	window := e.cfg.Locate.HistoricalWindow
	var sum float64
	var n int
	for _, m := range all {
		if absDuration(m.Timestamp.Sub(t)) <= window {
			sum += m.RSSI
			n++
		}
	}
	if n == 0 {
		return models.Position{}, false
	}
	meanRSSI := sum / float64(n)

	samples := make([]locate.AnchorRSSI, len(anchors))
	for i, a := range anchors {
		samples[i] = locate.AnchorRSSI{Anchor: a, MeanRSSI: meanRSSI}
	}
	return e.locator.Solve(deviceID, samples, t, models.PositionMethodHistorical)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// signalQuality normalizes an RSSI reading in the typical -100..-30 dBm
// range into [0,1].
func signalQuality(rssi float64) float64 {
	q := (rssi + 100) / 70
	if q < 0 {
		return 0
	}
	if q > 1 {
		return 1
	}
	return q
}

// Subscribe delegates to the shared event bus (spec §6 subscribe surface).
func (e *Engine) Subscribe(topic string, capacity int) (*eventbus.Inbox, eventbus.Handle) {
	return e.bus.Subscribe(topic, capacity)
}

// Unsubscribe delegates to the shared event bus.
func (e *Engine) Unsubscribe(topic string, h eventbus.Handle) {
	e.bus.Unsubscribe(topic, h)
}

// --- Periodic tasks (spec §4.J, §5) ---

// Run starts the clustering, health-sweep, and idle-eviction tasks and
// blocks until ctx is cancelled and every task has stopped. Each task
// recovers its own panics at the task boundary and resumes on the next
// tick (spec §7).
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { e.runClustering(gctx); return nil })
	g.Go(func() error { e.runHealthSweep(gctx); return nil })
	g.Go(func() error { e.runIdleEviction(gctx); return nil })
	return g.Wait()
}

func (e *Engine) runClustering(ctx context.Context) {
	interval := e.cfg.ClusteringInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	// Poll the fresh-anomaly counter more often than the interval so a
	// burst of anomalies can trigger recomputation early (spec open
	// question 3: "whichever fires first").
	poll := time.NewTicker(time.Second)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.safely("clustering", e.runClusterOnce)
		case <-poll.C:
			threshold := e.cfg.ClusteringFreshCount
			if threshold <= 0 {
				threshold = 5
			}
			if e.freshAnomalies.Load() >= int64(threshold) {
				e.safely("clustering", e.runClusterOnce)
			}
		}
	}
}

func (e *Engine) runClusterOnce() {
	e.freshAnomalies.Store(0)

	var points []cluster.Point
	e.registry.Each(func(s *device.State) {
		if s.Position == nil {
			return
		}
		mean, ok := s.MeanRecentAnomalyScore()
		if !ok || mean <= 0.5 {
			return
		}
		points = append(points, cluster.Point{
			DeviceID: s.DeviceID,
			Position: models.Point{X: s.Position.X, Y: s.Position.Y},
			Score:    mean,
		})
	})

	regions := cluster.Cluster(e.cfg.Cluster, points, time.Now().UTC())

	e.regionsMu.Lock()
	e.regions = regions
	e.regionsMu.Unlock()

	for _, r := range regions {
		e.bus.Publish(eventbus.TopicRegion, r)
	}
}

func (e *Engine) runHealthSweep(ctx context.Context) {
	interval := e.cfg.HealthSweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.safely("health_sweep", e.runHealthSweepOnce)
		}
	}
}

func (e *Engine) runHealthSweepOnce() {
	now := time.Now().UTC()
	e.registry.EachWrite(func(s *device.State) {
		tail := s.Ring.Tail(0)
		if len(tail) < 3 {
			return
		}
		e.recomputeHealth(s, tail, now)
	})
}

func (e *Engine) runIdleEviction(ctx context.Context) {
	interval := e.cfg.IdleEvictionInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.safely("idle_eviction", func() {
				evicted := e.registry.EvictIdle(time.Now().UTC(), e.cfg.IdleEvictionTimeout)
				if evicted > 0 {
					e.logger.Info("evicted idle devices", zap.Int("count", evicted))
				}
			})
		}
	}
}

// safely recovers a panic from a periodic task body, logs it, and lets
// the task resume on its next tick (spec §7: "any unexpected internal
// failure in a periodic task must be caught at the task boundary").
func (e *Engine) safely(task string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("periodic task panicked", zap.String("task", task), zap.Any("panic", r))
		}
	}()
	fn()
}

type invalidMeasurementError string

func (e invalidMeasurementError) Error() string { return string(e) }

func errInvalidMeasurement(msg string) error { return invalidMeasurementError(msg) }
