package anomaly

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/signalmesh/fleetwatch/pkg/models"
)

// Config holds tunable thresholds for the statistical detector, mirroring
// spec §6's defaults.
type Config struct {
	ZScoreCutoff          float64 `mapstructure:"zscore_cutoff"`
	DropThresholdDBm      float64 `mapstructure:"drop_threshold_dbm"`
	OscillationThresholdDBm float64 `mapstructure:"oscillation_threshold_dbm"`
	RecentWindow          int     `mapstructure:"recent_window"`
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		ZScoreCutoff:            2.0,
		DropThresholdDBm:        20,
		OscillationThresholdDBm: 15,
		RecentWindow:            10,
	}
}

// Statistical implements Scorer using a z-score baseline plus
// drop/oscillation/latency/disconnect/temperature heuristics, per
// spec §4.E.
type Statistical struct {
	cfg Config
}

// NewStatistical creates a Statistical detector with the given config.
// A zero RecentWindow falls back to 10.
func NewStatistical(cfg Config) *Statistical {
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 10
	}
	return &Statistical{cfg: cfg}
}

var _ Scorer = (*Statistical)(nil)

// Score implements Scorer. history is the full tail (oldest first),
// NOT including m; the caller is responsible for appending m to the
// device's ring buffer before or after calling Score as convenient, as
// long as history reflects the state prior to m.
func (s *Statistical) Score(m models.Measurement, history []models.Measurement) (float64, models.AnomalyKind, models.Severity) {
	if len(history) < MinHistoryForDetection {
		return 0, "", ""
	}

	recentN := s.cfg.RecentWindow
	if recentN > len(history) {
		recentN = len(history)
	}
	baseline := history[:len(history)-recentN]
	recent := history[len(history)-recentN:]

	if len(baseline) == 0 {
		return 0, "", ""
	}

	var combined float64
	kind := models.AnomalyRSSIDeviation

	baseRSSI := rssiValues(baseline)
	baseMean, baseStd := stat.MeanStdDev(baseRSSI, nil)

	// 1. Z-score on RSSI.
	if baseStd > 0 {
		z := math.Abs(m.RSSI-baseMean) / baseStd
		if z >= s.cfg.ZScoreCutoff {
			combined += z
		}
	}

	// 2. Sudden drop: history[-2].rssi - m.rssi > threshold (history[-1]
	// in the original sequence before m is the last entry of `history`).
	if len(history) >= 1 {
		last := history[len(history)-1]
		if last.RSSI-m.RSSI > s.cfg.DropThresholdDBm {
			combined += 2.0
			kind = models.AnomalyDrop
		}
	}

	// 3. Oscillation: std(recent) > threshold.
	recentRSSI := rssiValues(recent)
	if len(recentRSSI) >= 2 {
		_, recentStd := stat.MeanStdDev(recentRSSI, nil)
		if recentStd > s.cfg.OscillationThresholdDBm {
			combined += 1.0
			if kind == models.AnomalyRSSIDeviation {
				kind = models.AnomalyOscillation
			}
		}
	}

	// 4. Latency spike.
	if m.ResponseTimeMS != nil {
		baseRT := responseTimeValues(baseline)
		if len(baseRT) > 0 {
			meanRT, _ := stat.MeanStdDev(baseRT, nil)
			if meanRT > 0 && *m.ResponseTimeMS > 2*meanRT {
				combined += 1.5
				kind = models.AnomalyLatencySpike
			}
		}
	}

	// 5. Unexpected disconnect: current offline while the last five
	// baseline entries were all online. The bump alone (3.0/5 = 0.6)
	// crosses the 0.5 event threshold.
	if m.IsOnline != nil && !*m.IsOnline {
		tailOnline := lastOnlineFlags(baseline, 5)
		if len(tailOnline) == 5 && allTrue(tailOnline) {
			combined += 3.0
			kind = models.AnomalyDisconnect
		}
	}

	// 6. Temperature spike.
	if m.TemperatureC != nil {
		baseTemp := temperatureValues(baseline)
		if len(baseTemp) > 0 {
			maxTemp := baseTemp[0]
			for _, v := range baseTemp[1:] {
				if v > maxTemp {
					maxTemp = v
				}
			}
			if *m.TemperatureC > maxTemp+10 {
				combined += 1.5
				kind = models.AnomalyTempSpike
			}
		}
	}

	score := math.Min(1.0, combined/5.0)
	if score <= 0.5 {
		return score, "", ""
	}
	return score, kind, SeverityFor(score)
}

func rssiValues(ms []models.Measurement) []float64 {
	out := make([]float64, len(ms))
	for i, m := range ms {
		out[i] = m.RSSI
	}
	return out
}

func responseTimeValues(ms []models.Measurement) []float64 {
	var out []float64
	for _, m := range ms {
		if m.ResponseTimeMS != nil {
			out = append(out, *m.ResponseTimeMS)
		}
	}
	return out
}

func temperatureValues(ms []models.Measurement) []float64 {
	var out []float64
	for _, m := range ms {
		if m.TemperatureC != nil {
			out = append(out, *m.TemperatureC)
		}
	}
	return out
}

// lastOnlineFlags returns up to n most recent is_online flags, oldest
// first within the returned slice, skipping entries that didn't report
// is_online at all.
func lastOnlineFlags(ms []models.Measurement, n int) []bool {
	var out []bool
	for i := len(ms) - 1; i >= 0 && len(out) < n; i-- {
		if ms[i].IsOnline != nil {
			out = append([]bool{*ms[i].IsOnline}, out...)
		}
	}
	return out
}

func allTrue(bs []bool) bool {
	for _, b := range bs {
		if !b {
			return false
		}
	}
	return true
}
