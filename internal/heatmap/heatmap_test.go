package heatmap

import (
	"math"
	"testing"

	"github.com/signalmesh/fleetwatch/pkg/models"
)

func TestGenerate_DefaultsResolution(t *testing.T) {
	hm := Generate(0, 0, 10, 10, 0, nil, nil)
	if hm.Resolution != DefaultResolution {
		t.Fatalf("Resolution = %d, want %d", hm.Resolution, DefaultResolution)
	}
	if len(hm.Cells) != DefaultResolution*DefaultResolution {
		t.Fatalf("len(Cells) = %d, want %d", len(hm.Cells), DefaultResolution*DefaultResolution)
	}
}

func TestGenerate_SignalNearSourceApproachesItsValue(t *testing.T) {
	samples := []DeviceSample{{Position: models.Point{X: 5, Y: 5}, RSSI: -40}}
	hm := Generate(0, 0, 10, 10, 4, samples, nil)
	var nearest models.HeatmapCell
	best := math.MaxFloat64
	for _, c := range hm.Cells {
		d := (c.X-5)*(c.X-5) + (c.Y-5)*(c.Y-5)
		if d < best {
			best = d
			nearest = c
		}
	}
	if nearest.Signal < -45 || nearest.Signal > -40 {
		t.Fatalf("nearest cell signal = %v, want close to -40", nearest.Signal)
	}
}

func TestGenerate_NoSamplesZeroSignal(t *testing.T) {
	hm := Generate(0, 0, 10, 10, 2, nil, nil)
	for _, c := range hm.Cells {
		if c.Signal != 0 {
			t.Fatalf("expected 0 signal with no samples, got %v", c.Signal)
		}
	}
}

func TestGenerate_OverlayWithinRegionIsPositive(t *testing.T) {
	regions := []Region{{Centre: models.Point{X: 5, Y: 5}, Radius: 10, Confidence: 0.9}}
	hm := Generate(0, 0, 10, 10, 4, nil, regions)
	var anyPositive bool
	for _, c := range hm.Cells {
		if c.AnomalyOverlay > 0 {
			anyPositive = true
		}
	}
	if !anyPositive {
		t.Fatalf("expected at least one cell with positive anomaly overlay")
	}
}
