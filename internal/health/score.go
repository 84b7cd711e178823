// Package health implements the deterministic, rule-based health scorer:
// a pure function from a device's feature map to a 0-100 score, a risk
// bucket, a trend-based failure-date projection, and factor/recommendation
// lists. See spec §4.D.
package health

import (
	"time"

	"github.com/signalmesh/fleetwatch/internal/feature"
	"github.com/signalmesh/fleetwatch/pkg/models"
)

// degradationWindowDays is the W=30 day window used for failure projection.
const degradationWindowDays = 30.0

// Result is the output of Score: a snapshot without the device ID,
// timestamp, or sample count, which the caller fills in.
type Result struct {
	Score           float64
	Risk            models.Risk
	PredictedFailure *time.Time
	Confidence      float64
	Factors         []string
	Recommendations []string
}

// Score computes the deterministic health assessment for a device from
// its feature map, as of now.
func Score(f feature.Map, now time.Time) Result {
	score := 100.0
	apply := func(delta float64) {
		score -= delta
		if score < 0 {
			score = 0
		}
	}

	var factors, recs []string

	if v, ok := f[feature.RSSIMean]; ok {
		switch {
		case v < -70:
			apply(20)
			factors = append(factors, "Poor signal strength")
			recs = append(recs, "Reposition or add extender")
		case v < -60:
			apply(10)
			factors = append(factors, "Fair signal strength")
		}
	}

	if v, ok := f[feature.RSSIStd]; ok && v > 10 {
		apply(15)
		factors = append(factors, "Unstable signal")
	}

	if v, ok := f[feature.RTMean]; ok {
		switch {
		case v > 1000:
			apply(25)
			factors = append(factors, "Slow response time")
			recs = append(recs, "Investigate congestion/load")
		case v > 500:
			apply(15)
			factors = append(factors, "Degrading response time")
		}
	}

	if v, ok := f[feature.RTTrend]; ok && v > 0 {
		apply(10)
		factors = append(factors, "Rising latency trend")
	}

	if uptime, ok := f[feature.UptimeRatio]; ok {
		score *= uptime
		if score < 0 {
			score = 0
		}
	}

	if v, ok := f[feature.DisconnectEvents]; ok && v > 0 {
		apply(min(5*v, 30))
		factors = append(factors, "Frequent disconnections")
		if v > 5 {
			recs = append(recs, "Investigate network stability")
		}
	}

	if v, ok := f[feature.ErrorRate]; ok && v > 0 {
		apply(min(100*v, 40))
		factors = append(factors, "Elevated error rate")
		if v > 0.1 {
			recs = append(recs, "Review device logs")
		}
	}

	if v, ok := f[feature.TempMax]; ok {
		switch {
		case v > 85:
			apply(20)
			factors = append(factors, "Temperature concerns")
			recs = append(recs, "Improve ventilation/cooling")
		case v > 75:
			apply(10)
			factors = append(factors, "Temperature concerns")
		}
	}

	if v, ok := f[feature.PowerTrend]; ok && v > 0 {
		apply(10)
		factors = append(factors, "Power drift")
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	if score < 30 {
		recs = append(recs, "Schedule immediate maintenance")
	} else if score < 50 {
		recs = append(recs, "Plan preventive maintenance (within 2 weeks)")
	}

	res := Result{
		Score:           score,
		Risk:            riskFor(score),
		Factors:         factors,
		Recommendations: recs,
	}
	res.PredictedFailure, res.Confidence = projectFailure(f, score, now)
	return res
}

// riskFor is a pure function of the score, as required by spec invariant 4.
func riskFor(score float64) models.Risk {
	switch {
	case score >= 80:
		return models.RiskLow
	case score >= 60:
		return models.RiskMedium
	case score >= 30:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}

// projectFailure implements spec §4.D's failure-date projection: only
// considered when score <= 70 and at least one *_trend feature is
// negative.
func projectFailure(f feature.Map, score float64, now time.Time) (*time.Time, float64) {
	if score > 70 {
		return nil, 0
	}

	neg := 0
	for k, v := range f {
		if len(k) > 6 && k[len(k)-6:] == "_trend" && v < 0 {
			neg++
		}
	}
	if neg == 0 {
		return nil, 0
	}

	confidence := min(0.9, 0.5+0.1*float64(neg))
	rate := (100 - score) / degradationWindowDays // score units lost per day
	if rate <= 0 {
		return nil, 0
	}
	daysToFailure := (score - 30) / rate
	if daysToFailure < 1 {
		daysToFailure = 1
	}
	failAt := now.Add(time.Duration(daysToFailure * 24 * float64(time.Hour)))
	return &failAt, confidence
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
