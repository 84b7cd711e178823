// Package cluster implements the spatial anomaly clusterer: DBSCAN over
// recently-anomalous device positions, producing AnomalyRegions with a
// centre, radius, affected devices, and severity. See spec §4.G.
package cluster

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/signalmesh/fleetwatch/pkg/models"
)

// Config holds DBSCAN tunables.
type Config struct {
	EpsMeters  float64 `mapstructure:"eps_meters"`
	MinSamples int     `mapstructure:"min_samples"`
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{EpsMeters: 30, MinSamples: 2}
}

// Point is one anomalous device observation fed to the clusterer.
type Point struct {
	DeviceID string
	Position models.Point
	Score    float64 // mean anomaly score over the device's last 5 samples
}

const noise = -1

// Cluster runs DBSCAN over the given points and returns the resulting
// AnomalyRegions. The full region list is meant to replace any prior
// list atomically; this function is pure and has no side effects.
func Cluster(cfg Config, points []Point, now time.Time) []models.AnomalyRegion {
	if cfg.EpsMeters <= 0 {
		cfg.EpsMeters = 30
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 2
	}
	if len(points) == 0 {
		return nil
	}

	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = noise
	}
	visited := make([]bool, len(points))

	clusterID := 0
	for i := range points {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := regionQuery(points, i, cfg.EpsMeters)
		if len(neighbors) < cfg.MinSamples {
			continue // stays labeled noise
		}

		labels[i] = clusterID
		seeds := append([]int{}, neighbors...)
		for k := 0; k < len(seeds); k++ {
			j := seeds[k]
			if !visited[j] {
				visited[j] = true
				jNeighbors := regionQuery(points, j, cfg.EpsMeters)
				if len(jNeighbors) >= cfg.MinSamples {
					seeds = append(seeds, jNeighbors...)
				}
			}
			if labels[j] == noise {
				labels[j] = clusterID
			}
		}
		clusterID++
	}

	byCluster := make(map[int][]int)
	for i, l := range labels {
		if l == noise {
			continue
		}
		byCluster[l] = append(byCluster[l], i)
	}

	regions := make([]models.AnomalyRegion, 0, len(byCluster))
	for _, idxs := range byCluster {
		regions = append(regions, buildRegion(points, idxs, now))
	}
	return regions
}

func buildRegion(points []Point, idxs []int, now time.Time) models.AnomalyRegion {
	var cx, cy float64
	for _, i := range idxs {
		cx += points[i].Position.X
		cy += points[i].Position.Y
	}
	n := float64(len(idxs))
	centre := models.Point{X: cx / n, Y: cy / n}

	var radius float64
	for _, i := range idxs {
		d := dist(points[i].Position, centre)
		if d > radius {
			radius = d
		}
	}

	// Members: every device (not just the core/border points DBSCAN
	// grouped) whose position is within radius of centre.
	var members []string
	var scoreSum float64
	var scoreN int
	for _, p := range points {
		if dist(p.Position, centre) <= radius {
			members = append(members, p.DeviceID)
			scoreSum += p.Score
			scoreN++
		}
	}

	confidence := 0.0
	if scoreN > 0 {
		confidence = scoreSum / float64(scoreN)
	}

	severity := models.SeverityMedium
	if confidence > 0.7 {
		severity = models.SeverityHigh
	}

	return models.AnomalyRegion{
		ID:              uuid.NewString(),
		Centre:          centre,
		Radius:          radius,
		Severity:        severity,
		Kind:            "anomaly_hotspot",
		Confidence:      confidence,
		MemberDeviceIDs: members,
		CreatedAt:       now,
	}
}

// regionQuery returns every point within eps of points[i], including i
// itself — matching sklearn's DBSCAN(min_samples=N), which counts the
// query point as its own neighbor. With MinSamples=2 this means a pair
// of points within eps of each other already forms a cluster.
func regionQuery(points []Point, i int, eps float64) []int {
	out := []int{i}
	for j := range points {
		if j == i {
			continue
		}
		if dist(points[i].Position, points[j].Position) <= eps {
			out = append(out, j)
		}
	}
	return out
}

func dist(a, b models.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
