package orchestrator

import (
	"math"
	"testing"
	"time"

	"github.com/signalmesh/fleetwatch/internal/config"
	"github.com/signalmesh/fleetwatch/internal/eventbus"
	"github.com/signalmesh/fleetwatch/pkg/models"
)

func newTestEngine() *Engine {
	cfg := config.DefaultConfig()
	bus := eventbus.NewBus(nil)
	return New(cfg, bus, nil, nil)
}

func meas(deviceID string, at time.Time, rssi float64) models.Measurement {
	return models.Measurement{DeviceID: deviceID, Timestamp: at, RSSI: rssi}
}

func TestIngest_RejectsEmptyDeviceID(t *testing.T) {
	e := newTestEngine()
	err := e.Ingest(models.Measurement{Timestamp: time.Now()})
	if err == nil {
		t.Fatalf("expected an error for missing device_id")
	}
}

func TestIngest_HealthyDeviceScoresMax(t *testing.T) {
	e := newTestEngine()
	now := time.Now().UTC()
	online := true
	zero := 0
	rt := 100.0
	temp := 60.0
	for i := 0; i < 50; i++ {
		m := meas("d1", now.Add(time.Duration(i)*time.Second), -55)
		m.IsOnline = &online
		m.ErrorCount = &zero
		m.ResponseTimeMS = &rt
		m.TemperatureC = &temp
		if err := e.Ingest(m); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	hs, ok := e.DeviceHealth("d1")
	if !ok {
		t.Fatalf("expected a health snapshot for d1")
	}
	if hs.Score != 100 {
		t.Fatalf("score = %v, want 100", hs.Score)
	}
	if hs.Risk != models.RiskLow {
		t.Fatalf("risk = %v, want low", hs.Risk)
	}
}

func TestIngest_UnknownDeviceHealthReturnsFalse(t *testing.T) {
	e := newTestEngine()
	if _, ok := e.DeviceHealth("ghost"); ok {
		t.Fatalf("expected no health snapshot for an unseen device")
	}
}

func TestHealthSummary_EmptyEngine(t *testing.T) {
	e := newTestEngine()
	summary := e.HealthSummary()
	if summary.TotalDevices != 0 || summary.MeanScore != 0 {
		t.Fatalf("expected empty summary, got %+v", summary)
	}
	if len(e.Regions()) != 0 {
		t.Fatalf("expected no regions")
	}
	if anomalies := e.RecentAnomalies(time.Now(), 24*time.Hour); len(anomalies) != 0 {
		t.Fatalf("expected no anomalies, got %d", len(anomalies))
	}
}

func TestIngest_TriangulatesWithThreeAnchors(t *testing.T) {
	e := newTestEngine()
	e.SetAnchor("a1", 0, 0, -30)
	e.SetAnchor("a2", 100, 0, -30)
	e.SetAnchor("a3", 50, 100, -30)

	rx := -30 - 20*math.Log10(50)
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		if err := e.Ingest(meas("d1", now.Add(time.Duration(i)*time.Second), rx)); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	pos, ok := e.DevicePosition("d1")
	if !ok {
		t.Fatalf("expected a solved position")
	}
	if math.Abs(pos.X-50) > 1.0 || math.Abs(pos.Y-28.8675) > 1.0 {
		t.Fatalf("position = (%v,%v), want near (50, 28.8675)", pos.X, pos.Y)
	}
}

func TestRecentAnomalies_PrunesOldEntries(t *testing.T) {
	e := newTestEngine()
	now := time.Now().UTC()
	e.recordAnomaly(models.AnomalyEvent{ID: "old", DeviceID: "d1", Timestamp: now.Add(-2 * time.Hour), Score: 0.9})
	e.recordAnomaly(models.AnomalyEvent{ID: "new", DeviceID: "d1", Timestamp: now, Score: 0.9})

	got := e.RecentAnomalies(now, time.Hour)
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("got %+v, want only the recent entry", got)
	}
}

func TestTrajectory_UnknownDeviceReturnsFalse(t *testing.T) {
	e := newTestEngine()
	if _, ok := e.Trajectory("ghost", time.Now(), time.Hour); ok {
		t.Fatalf("expected no trajectory for an unseen device")
	}
}

func TestSignalQuality_ClampsToUnitRange(t *testing.T) {
	if q := signalQuality(-30); q != 1 {
		t.Fatalf("signalQuality(-30) = %v, want 1", q)
	}
	if q := signalQuality(-100); q != 0 {
		t.Fatalf("signalQuality(-100) = %v, want 0", q)
	}
}
