// Package smoothing implements the two online filters the ingest
// pipeline runs over raw RSSI: a scalar Kalman filter and an EWMA. Both
// are deterministic and side-effect-free beyond their own state, update
// at most once per measurement, and never look ahead.
package smoothing

// Config holds the tunable parameters for both filters, mirroring the
// defaults in spec §4.B / §6.
type Config struct {
	KalmanQ  float64 `mapstructure:"kalman_q"` // process variance
	KalmanR  float64 `mapstructure:"kalman_r"` // measurement variance
	EWMAAlpha float64 `mapstructure:"ewma_alpha"`
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		KalmanQ:   1e-3,
		KalmanR:   0.1,
		EWMAAlpha: 0.3,
	}
}

// Kalman is a scalar Kalman filter tracking a single noisy channel.
type Kalman struct {
	Q, R        float64
	Estimate    float64
	Error       float64
	initialized bool
}

// NewKalman creates a Kalman filter with the given process/measurement
// variances. A non-positive Q or R falls back to the spec defaults.
func NewKalman(q, r float64) *Kalman {
	if q <= 0 {
		q = DefaultConfig().KalmanQ
	}
	if r <= 0 {
		r = DefaultConfig().KalmanR
	}
	return &Kalman{Q: q, R: r}
}

// Update processes one new scalar measurement and returns the updated
// estimate.
func (k *Kalman) Update(z float64) float64 {
	if !k.initialized {
		k.Estimate = z
		k.Error = 1
		k.initialized = true
		return k.Estimate
	}

	predictedError := k.Error + k.Q
	gain := predictedError / (predictedError + k.R)
	k.Estimate += gain * (z - k.Estimate)
	k.Error = (1 - gain) * predictedError
	return k.Estimate
}

// EWMA is an exponentially weighted moving average over a single channel.
type EWMA struct {
	Alpha       float64
	Value       float64
	initialized bool
}

// NewEWMA creates an EWMA tracker with the given smoothing factor. An
// out-of-range alpha falls back to the spec default of 0.3.
func NewEWMA(alpha float64) *EWMA {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultConfig().EWMAAlpha
	}
	return &EWMA{Alpha: alpha}
}

// Update processes one new scalar measurement and returns the updated
// smoothed value.
func (e *EWMA) Update(z float64) float64 {
	if !e.initialized {
		e.Value = z
		e.initialized = true
		return e.Value
	}
	e.Value = e.Alpha*z + (1-e.Alpha)*e.Value
	return e.Value
}

// Pair bundles a Kalman filter and an EWMA tracker for one device's RSSI
// channel, so the orchestrator has a single handle to update per
// measurement.
type Pair struct {
	Kalman *Kalman
	EWMA   *EWMA
}

// NewPair builds a Pair from the given config.
func NewPair(cfg Config) *Pair {
	return &Pair{
		Kalman: NewKalman(cfg.KalmanQ, cfg.KalmanR),
		EWMA:   NewEWMA(cfg.EWMAAlpha),
	}
}

// Update runs both filters over z, at most once each, and returns both
// smoothed values in ingest order.
func (p *Pair) Update(z float64) (kalman, ewma float64) {
	return p.Kalman.Update(z), p.EWMA.Update(z)
}
