package anomaly

import (
	"testing"
	"time"

	"github.com/signalmesh/fleetwatch/pkg/models"
)

func boolPtr(b bool) *bool        { return &b }
func f64Ptr(f float64) *float64   { return &f }

func steadyHistory(n int, rssi float64) []models.Measurement {
	out := make([]models.Measurement, n)
	base := time.Now()
	for i := range out {
		out[i] = models.Measurement{
			DeviceID:  "d1",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			RSSI:      rssi,
			IsOnline:  boolPtr(true),
		}
	}
	return out
}

func TestStatistical_FewerThanTenSamplesNoEvent(t *testing.T) {
	s := NewStatistical(DefaultConfig())
	history := steadyHistory(5, -55)
	score, kind, sev := s.Score(models.Measurement{RSSI: -55}, history)
	if score != 0 || kind != "" || sev != "" {
		t.Fatalf("expected no-op result with <10 samples, got (%v,%v,%v)", score, kind, sev)
	}
}

func TestStatistical_SuddenDropDetected(t *testing.T) {
	s := NewStatistical(DefaultConfig())
	history := steadyHistory(15, -55)
	score, kind, sev := s.Score(models.Measurement{RSSI: -80}, history)
	if score <= 0.5 {
		t.Fatalf("expected anomaly score > 0.5 for sudden drop, got %v", score)
	}
	if kind != models.AnomalyDrop {
		t.Fatalf("kind = %v, want drop", kind)
	}
	if sev == "" {
		t.Fatalf("expected a non-empty severity")
	}
}

func TestStatistical_DisconnectAfterAllOnlineBaseline(t *testing.T) {
	s := NewStatistical(DefaultConfig())
	history := steadyHistory(15, -55)
	m := models.Measurement{RSSI: -55, IsOnline: boolPtr(false)}
	score, kind, _ := s.Score(m, history)
	if score <= 0.5 {
		t.Fatalf("expected disconnect anomaly, got score %v", score)
	}
	if kind != models.AnomalyDisconnect {
		t.Fatalf("kind = %v, want disconnect", kind)
	}
}

func TestStatistical_ScoreNeverExceedsOne(t *testing.T) {
	s := NewStatistical(DefaultConfig())
	history := steadyHistory(20, -55)
	m := models.Measurement{
		RSSI:           -99,
		IsOnline:       boolPtr(false),
		ResponseTimeMS: f64Ptr(100000),
		TemperatureC:   f64Ptr(200),
	}
	score, _, _ := s.Score(m, history)
	if score > 1.0 {
		t.Fatalf("score = %v, must be <= 1.0", score)
	}
}

func TestStatistical_NoAnomalyOnSteadyInput(t *testing.T) {
	s := NewStatistical(DefaultConfig())
	history := steadyHistory(20, -55)
	score, kind, sev := s.Score(models.Measurement{RSSI: -55, IsOnline: boolPtr(true)}, history)
	if score > 0.5 {
		t.Fatalf("unexpected anomaly on steady input: score=%v kind=%v sev=%v", score, kind, sev)
	}
}
