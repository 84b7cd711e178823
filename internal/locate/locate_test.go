package locate

import (
	"math"
	"testing"
	"time"

	"github.com/signalmesh/fleetwatch/pkg/models"
)

func TestDistanceFromRSSI_EqualOrStrongerThanRefReturnsMin(t *testing.T) {
	e := NewEngine(DefaultConfig())
	d := e.DistanceFromRSSI(-30, -20)
	if d != e.cfg.MinDistanceM {
		t.Fatalf("d = %v, want %v", d, e.cfg.MinDistanceM)
	}
}

func TestDistanceFromRSSI_ClampsToMax(t *testing.T) {
	e := NewEngine(DefaultConfig())
	d := e.DistanceFromRSSI(-30, -200)
	if d != e.cfg.MaxDistanceM {
		t.Fatalf("d = %v, want %v", d, e.cfg.MaxDistanceM)
	}
}

func TestSolve_FewerThanThreeAnchorsReturnsNoPosition(t *testing.T) {
	e := NewEngine(DefaultConfig())
	samples := []AnchorRSSI{
		{Anchor: models.Anchor{ID: "a1", X: 0, Y: 0, RefRSSIAt1: -30}, MeanRSSI: -36},
		{Anchor: models.Anchor{ID: "a2", X: 100, Y: 0, RefRSSIAt1: -30}, MeanRSSI: -36},
	}
	_, ok := e.Solve("d1", samples, time.Now(), models.PositionMethodTriangulation)
	if ok {
		t.Fatalf("expected no position with < 3 anchors")
	}
}

func TestSolve_ColinearAnchorsReturnsNoPosition(t *testing.T) {
	e := NewEngine(DefaultConfig())
	samples := []AnchorRSSI{
		{Anchor: models.Anchor{ID: "a1", X: 0, Y: 0, RefRSSIAt1: -30}, MeanRSSI: -40},
		{Anchor: models.Anchor{ID: "a2", X: 50, Y: 0, RefRSSIAt1: -30}, MeanRSSI: -40},
		{Anchor: models.Anchor{ID: "a3", X: 100, Y: 0, RefRSSIAt1: -30}, MeanRSSI: -40},
	}
	_, ok := e.Solve("d1", samples, time.Now(), models.PositionMethodTriangulation)
	if ok {
		t.Fatalf("expected no position with colinear anchors")
	}
}

func TestSolve_EquidistantTriangleConvergesNearCentroid(t *testing.T) {
	e := NewEngine(DefaultConfig())
	ref := -30.0
	// Implied distance for all three anchors is 50m: solve the RSSI that
	// yields d=50 under n=2: d = 10^((ref-rx)/20) => rx = ref - 20*log10(d)
	rx := ref - 20*math.Log10(50)
	samples := []AnchorRSSI{
		{Anchor: models.Anchor{ID: "a1", X: 0, Y: 0, RefRSSIAt1: ref}, MeanRSSI: rx},
		{Anchor: models.Anchor{ID: "a2", X: 100, Y: 0, RefRSSIAt1: ref}, MeanRSSI: rx},
		{Anchor: models.Anchor{ID: "a3", X: 50, Y: 100, RefRSSIAt1: ref}, MeanRSSI: rx},
	}
	pos, ok := e.Solve("d1", samples, time.Now(), models.PositionMethodTriangulation)
	if !ok {
		t.Fatalf("expected a converged position")
	}
	wantX, wantY := 50.0, 28.8675
	if math.Abs(pos.X-wantX) > 1.0 || math.Abs(pos.Y-wantY) > 1.0 {
		t.Fatalf("position = (%v,%v), want near (%v,%v)", pos.X, pos.Y, wantX, wantY)
	}
	if pos.Confidence < 0.8 {
		t.Fatalf("confidence = %v, want > 0.8", pos.Confidence)
	}
	if pos.Method != models.PositionMethodTriangulation {
		t.Fatalf("method = %v, want triangulation", pos.Method)
	}
}

func TestAnchorSet_SetGetRemove(t *testing.T) {
	as := NewAnchorSet()
	as.Set("a1", 1, 2, -30)
	anc, ok := as.Get("a1")
	if !ok || anc.X != 1 || anc.Y != 2 {
		t.Fatalf("unexpected anchor: %+v ok=%v", anc, ok)
	}
	if as.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", as.Len())
	}
	as.Remove("a1")
	if as.Len() != 0 {
		t.Fatalf("Len() after remove = %d, want 0", as.Len())
	}
}
