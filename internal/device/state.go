// Package device holds the per-device aggregate the ingest orchestrator
// mutates on every measurement: the ring buffer, the Kalman/EWMA smoother
// pair, the last computed position, and the rolling health snapshot
// (spec §3 "DeviceState"). Registry shards devices across a fixed pool
// of locks (spec §9) rather than a growing map-of-mutexes, so lookup and
// per-device serialization share one lock acquisition.
package device

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/signalmesh/fleetwatch/internal/ring"
	"github.com/signalmesh/fleetwatch/internal/smoothing"
	"github.com/signalmesh/fleetwatch/pkg/models"
)

// recentScoreWindow is the number of trailing anomaly scores kept per
// device for the spatial clusterer's eligibility test (spec §4.G: "mean
// anomaly score over its last 5 samples exceeds 0.5").
const recentScoreWindow = 5

// State is one device's mutable pipeline state. All fields are only
// ever touched while the owning shard's lock is held.
type State struct {
	DeviceID string
	Ring     *ring.Buffer
	Smoother *smoothing.Pair

	Position *models.Position

	Health    models.HealthSnapshot
	HasHealth bool

	recentScores []float64

	LastSeen time.Time
}

func newState(id string, ringCapacity int, smoothCfg smoothing.Config) *State {
	return &State{
		DeviceID: id,
		Ring:     ring.New(ringCapacity),
		Smoother: smoothing.NewPair(smoothCfg),
	}
}

// PushAnomalyScore records the latest per-signal anomaly score (even
// when it falls below the emission threshold) for the rolling window
// the clusterer reads.
func (s *State) PushAnomalyScore(score float64) {
	s.recentScores = append(s.recentScores, score)
	if len(s.recentScores) > recentScoreWindow {
		s.recentScores = s.recentScores[len(s.recentScores)-recentScoreWindow:]
	}
}

// MeanRecentAnomalyScore returns the mean of up to the last 5 recorded
// anomaly scores, and whether any have been recorded yet.
func (s *State) MeanRecentAnomalyScore() (float64, bool) {
	if len(s.recentScores) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range s.recentScores {
		sum += v
	}
	return sum / float64(len(s.recentScores)), true
}

// shard owns a fixed subset of devices, keyed by a hash of the device
// id, and serializes all access to them behind one RWMutex.
type shard struct {
	mu      sync.RWMutex
	devices map[string]*State
}

// Registry is the sharded-lane device store: a fixed pool of shards,
// each guarding a disjoint set of devices. This bounds lock contention
// without the overhead of a map-of-per-device-mutexes guarded by its
// own lock (spec §9).
type Registry struct {
	shards       []*shard
	ringCapacity int
	smoothCfg    smoothing.Config
}

// DefaultShardCount is the fixed worker-lane pool size.
const DefaultShardCount = 32

// NewRegistry creates a Registry with the given shard count (falls back
// to DefaultShardCount if <= 0), ring capacity, and smoothing config
// applied to every newly created device.
func NewRegistry(shardCount, ringCapacity int, smoothCfg smoothing.Config) *Registry {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	r := &Registry{shards: make([]*shard, shardCount), ringCapacity: ringCapacity, smoothCfg: smoothCfg}
	for i := range r.shards {
		r.shards[i] = &shard{devices: make(map[string]*State)}
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// WithDevice serializes fn against the named device: it acquires the
// owning shard's write lock, looks up (creating if absent) the
// device's State, and runs fn. This is the only way ingest touches
// device state, matching spec §4.J's "per-device lock" requirement.
func (r *Registry) WithDevice(id string, fn func(*State)) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.devices[id]
	if !ok {
		st = newState(id, r.ringCapacity, r.smoothCfg)
		sh.devices[id] = st
	}
	fn(st)
}

// Read runs fn against an existing device's State under a read lock,
// without creating one if absent. Returns false if the device is
// unknown. Used by the query surface, which must not block ingest for
// other devices.
func (r *Registry) Read(id string, fn func(*State)) bool {
	sh := r.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	st, ok := sh.devices[id]
	if !ok {
		return false
	}
	fn(st)
	return true
}

// Each runs fn against a read-locked snapshot of every known device.
// Each shard is locked independently and briefly; the callback must not
// retain references to State or its fields beyond the call.
func (r *Registry) Each(fn func(*State)) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, st := range sh.devices {
			fn(st)
		}
		sh.mu.RUnlock()
	}
}

// EachWrite is Each but under each shard's write lock, for callers that
// mutate state (the health sweep).
func (r *Registry) EachWrite(fn func(*State)) {
	for _, sh := range r.shards {
		sh.mu.Lock()
		for _, st := range sh.devices {
			fn(st)
		}
		sh.mu.Unlock()
	}
}

// EvictIdle removes every device whose LastSeen is older than
// now.Add(-timeout), returning the number evicted.
func (r *Registry) EvictIdle(now time.Time, timeout time.Duration) int {
	cutoff := now.Add(-timeout)
	evicted := 0
	for _, sh := range r.shards {
		sh.mu.Lock()
		for id, st := range sh.devices {
			if st.LastSeen.Before(cutoff) {
				delete(sh.devices, id)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

// Count returns the total number of tracked devices.
func (r *Registry) Count() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.devices)
		sh.mu.RUnlock()
	}
	return n
}
