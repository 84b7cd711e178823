// Package heatmap builds inverse-distance-weighted interpolation grids
// of smoothed RSSI, with an anomaly-region overlay. See spec §4.H.
package heatmap

import (
	"math"

	"github.com/signalmesh/fleetwatch/pkg/models"
)

// DefaultResolution is the default R×R grid size.
const DefaultResolution = 100

// DeviceSample is one device's known position and most recent smoothed
// RSSI, used as an interpolation source point. The orchestrator fills
// RSSI from the EWMA output.
type DeviceSample struct {
	Position models.Point
	RSSI     float64
}

// Region is the subset of an AnomalyRegion's fields needed to compute
// the anomaly overlay.
type Region struct {
	Centre     models.Point
	Radius     float64
	Confidence float64
}

// Generate builds an R×R grid over [x0,x1]×[y0,y1]. resolution <= 0
// falls back to DefaultResolution.
func Generate(x0, y0, x1, y1 float64, resolution int, samples []DeviceSample, regions []Region) models.Heatmap {
	if resolution <= 0 {
		resolution = DefaultResolution
	}

	cells := make([]models.HeatmapCell, 0, resolution*resolution)
	dx := (x1 - x0) / float64(resolution)
	dy := (y1 - y0) / float64(resolution)

	for i := 0; i < resolution; i++ {
		for j := 0; j < resolution; j++ {
			cx := x0 + (float64(i)+0.5)*dx
			cy := y0 + (float64(j)+0.5)*dy
			cells = append(cells, models.HeatmapCell{
				X:              cx,
				Y:              cy,
				Signal:         interpolate(cx, cy, samples),
				AnomalyOverlay: overlay(cx, cy, regions),
			})
		}
	}

	return models.Heatmap{X0: x0, Y0: y0, X1: x1, Y1: y1, Resolution: resolution, Cells: cells}
}

func interpolate(x, y float64, samples []DeviceSample) float64 {
	var wSum, wvSum float64
	for _, s := range samples {
		d := math.Hypot(x-s.Position.X, y-s.Position.Y)
		var w float64
		if d < 1 {
			w = 1
		} else {
			w = 1 / (d * d)
		}
		wSum += w
		wvSum += w * s.RSSI
	}
	if wSum == 0 {
		return 0
	}
	return wvSum / wSum
}

func overlay(x, y float64, regions []Region) float64 {
	var max float64
	for _, r := range regions {
		if r.Radius <= 0 {
			continue
		}
		d := math.Hypot(x-r.Centre.X, y-r.Centre.Y)
		if d > r.Radius {
			continue
		}
		v := (1 - d/r.Radius) * r.Confidence
		if v > max {
			max = v
		}
	}
	return max
}
