// Package anomaly implements per-signal anomaly detection. The default
// Scorer is a statistical detector (z-score plus heuristics); an optional
// learned scorer (e.g. isolation-forest-style) can be swapped in behind
// the same interface per spec §9's pluggability note.
package anomaly

import (
	"github.com/signalmesh/fleetwatch/pkg/models"
)

// Scorer reduces a measurement and its device history to an anomaly
// score, kind, and severity. Implementations must be safe to call
// repeatedly and must not mutate history.
type Scorer interface {
	Score(m models.Measurement, history []models.Measurement) (score float64, kind models.AnomalyKind, severity models.Severity)
}

// MinHistoryForDetection is the spec §3 invariant 5 threshold: fewer than
// 10 samples produces no statistical-anomaly event.
const MinHistoryForDetection = 10

// SeverityFor maps a combined anomaly score in [0,1] to a severity
// bucket per spec §4.E.
func SeverityFor(score float64) models.Severity {
	switch {
	case score > 0.7:
		return models.SeverityHigh
	case score > 0.4:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
