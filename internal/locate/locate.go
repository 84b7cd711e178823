// Package locate implements the multilateration engine: converting
// RSSI against a set of known anchors into a 2-D position estimate via
// least squares (every anchor weighted equally), per spec §4.F.
package locate

import (
	"math"
	"time"

	"gonum.org/v1/gonum/optimize"

	"github.com/signalmesh/fleetwatch/pkg/models"
)

// MinAnchors is the minimum anchor-set size required to attempt a
// position solve.
const MinAnchors = 3

// Config holds tunable multilateration parameters.
type Config struct {
	PathLossExponent float64 `mapstructure:"path_loss_exponent"`
	MinDistanceM     float64 `mapstructure:"min_distance_m"`
	MaxDistanceM     float64 `mapstructure:"max_distance_m"`
	ConvergenceTol   float64 `mapstructure:"convergence_tolerance"`
	MaxIterations    int     `mapstructure:"max_iterations"`
	HistoricalWindow time.Duration `mapstructure:"historical_window"`
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		PathLossExponent: 2.0,
		MinDistanceM:     1,
		MaxDistanceM:     1000,
		ConvergenceTol:   1e-6,
		MaxIterations:    200,
		HistoricalWindow: 30 * time.Second,
	}
}

// Engine solves positions from an anchor set and per-anchor RSSI
// samples for a device.
type Engine struct {
	cfg Config
}

// NewEngine builds an Engine with the given config.
func NewEngine(cfg Config) *Engine {
	if cfg.PathLossExponent <= 0 {
		cfg.PathLossExponent = 2.0
	}
	if cfg.MinDistanceM <= 0 {
		cfg.MinDistanceM = 1
	}
	if cfg.MaxDistanceM <= cfg.MinDistanceM {
		cfg.MaxDistanceM = 1000
	}
	if cfg.ConvergenceTol <= 0 {
		cfg.ConvergenceTol = 1e-6
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 200
	}
	return &Engine{cfg: cfg}
}

// DistanceFromRSSI applies the log-distance path loss model to convert
// a received signal strength against a calibrated reference into a
// distance estimate, clamped to [min, max] meters.
func (e *Engine) DistanceFromRSSI(refRSSIAt1, rxRSSI float64) float64 {
	if rxRSSI >= refRSSIAt1 {
		return e.cfg.MinDistanceM
	}
	exp := (refRSSIAt1 - rxRSSI) / (10 * e.cfg.PathLossExponent)
	d := math.Pow(10, exp)
	if d < e.cfg.MinDistanceM {
		d = e.cfg.MinDistanceM
	}
	if d > e.cfg.MaxDistanceM {
		d = e.cfg.MaxDistanceM
	}
	return d
}

// anchorRSSI is one anchor paired with the device's estimated mean
// RSSI as observed against it.
type AnchorRSSI struct {
	Anchor models.Anchor
	MeanRSSI float64
}

// Solve computes a least-squares position from anchor/RSSI pairs,
// weighting every anchor's residual equally. It returns ok=false if fewer than MinAnchors are supplied, the
// anchors are colinear within tolerance, or the solver fails to
// converge.
func (e *Engine) Solve(deviceID string, samples []AnchorRSSI, now time.Time, method models.PositionMethod) (models.Position, bool) {
	if len(samples) < MinAnchors {
		return models.Position{}, false
	}
	if colinear(samples) {
		return models.Position{}, false
	}

	anchors := make([]models.Point, len(samples))
	dists := make([]float64, len(samples))
	for i, s := range samples {
		anchors[i] = models.Point{X: s.Anchor.X, Y: s.Anchor.Y}
		dists[i] = e.DistanceFromRSSI(s.Anchor.RefRSSIAt1, s.MeanRSSI)
	}

	cx, cy := centroid(anchors)

	residual := func(q []float64) float64 {
		var sum float64
		for i, a := range anchors {
			dx := q[0] - a.X
			dy := q[1] - a.Y
			r := math.Hypot(dx, dy) - dists[i]
			sum += r * r
		}
		return sum
	}

	problem := optimize.Problem{Func: residual}
	result, err := optimize.Minimize(problem, []float64{cx, cy}, &optimize.Settings{
		// MajorIterations is the global iteration cap spec §4.F names
		// ("iteration cap 200"). FunctionConverge.Iterations is a
		// different knob — how many consecutive non-improving
		// iterations to tolerate before declaring convergence — left at
		// gonum's own default rather than overloaded with the cap.
		MajorIterations: e.cfg.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute: e.cfg.ConvergenceTol,
		},
	}, &optimize.NelderMead{})
	if err != nil || result == nil {
		return models.Position{}, false
	}
	switch result.Status {
	case optimize.Success, optimize.FunctionConvergence, optimize.MethodConverge:
	default:
		return models.Position{}, false
	}

	q := result.X
	conf := confidenceFromResiduals(q, anchors, dists)

	return models.Position{
		DeviceID:   deviceID,
		X:          q[0],
		Y:          q[1],
		Confidence: conf,
		Timestamp:  now,
		Method:     method,
	}, true
}

func confidenceFromResiduals(q []float64, anchors []models.Point, dists []float64) float64 {
	var sum float64
	for i, a := range anchors {
		dx := q[0] - a.X
		dy := q[1] - a.Y
		r := math.Abs(math.Hypot(dx, dy) - dists[i])
		sum += r
	}
	mean := sum / float64(len(anchors))
	conf := 1 - mean/100
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

func centroid(pts []models.Point) (float64, float64) {
	var sx, sy float64
	for _, p := range pts {
		sx += p.X
		sy += p.Y
	}
	n := float64(len(pts))
	return sx / n, sy / n
}

// colinear reports whether all anchors lie on (or within tolerance of)
// a single line, using the shoelace-derived triangle area of the first
// three points and, if more are present, every subsequent triple.
func colinear(samples []AnchorRSSI) bool {
	if len(samples) < 3 {
		return true
	}
	x0, y0 := samples[0].Anchor.X, samples[0].Anchor.Y
	x1, y1 := samples[1].Anchor.X, samples[1].Anchor.Y
	for i := 2; i < len(samples); i++ {
		x2, y2 := samples[i].Anchor.X, samples[i].Anchor.Y
		area := (x1-x0)*(y2-y0) - (x2-x0)*(y1-y0)
		if math.Abs(area) > 1e-6 {
			return false
		}
	}
	return true
}
