// Package models provides the public SDK types for the fleet telemetry
// engine: measurements coming off field agents, anchors used for
// multilateration, and the derived types (health, position, anomaly,
// region) produced by the core pipeline.
package models

import "time"

// Measurement is a single telemetry sample from a field agent for one
// device. It is immutable once it has been ingested.
type Measurement struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`

	RSSI      float64  `json:"rssi"` // dBm, typically -30..-100
	SNR       *float64 `json:"snr,omitempty"`
	Frequency *float64 `json:"frequency,omitempty"`
	Channel   *int     `json:"channel,omitempty"`

	// Location is the observer's own position, used only for diagnostics.
	Location *Point `json:"location,omitempty"`

	// Optional health channels. A nil pointer means "not reported for
	// this sample" -- downstream code must test presence, never assume
	// a zero value.
	ResponseTimeMS *float64 `json:"response_time_ms,omitempty"`
	IsOnline       *bool    `json:"is_online,omitempty"`
	ErrorCount     *int     `json:"error_count,omitempty"`
	TemperatureC   *float64 `json:"temperature_c,omitempty"`
	PowerW         *float64 `json:"power_w,omitempty"`
	CPUPct         *float64 `json:"cpu_pct,omitempty"`
	MemPct         *float64 `json:"mem_pct,omitempty"`
	BatteryPct     *float64 `json:"battery_pct,omitempty"`
	BytesTx        *int64   `json:"bytes_tx,omitempty"`
	BytesRx        *int64   `json:"bytes_rx,omitempty"`

	// Smoothed is filled in by the smoothing stage before the entry is
	// appended to the device's history; it is not set by the agent.
	Smoothed *SmoothedValues `json:"smoothed,omitempty"`
}

// SmoothedValues carries the Kalman and EWMA outputs attached to a
// measurement once it has passed through the smoothing stage.
type SmoothedValues struct {
	KalmanRSSI float64 `json:"kalman_rssi"`
	EWMARSSI   float64 `json:"ewma_rssi"`
}

// Point is a plain 2-D coordinate in the site's local reference frame.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Anchor is a fixed reference point with a known position and calibrated
// reference RSSI at 1 meter, used by the multilateration engine.
type Anchor struct {
	ID         string  `json:"id"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	RefRSSIAt1 float64 `json:"ref_rssi_at_1m"`
}

// PositionMethod indicates how a Position estimate was produced.
type PositionMethod string

const (
	PositionMethodTriangulation PositionMethod = "triangulation"
	PositionMethodHistorical    PositionMethod = "historical"
)

// Position is a device's estimated location at a point in time.
type Position struct {
	DeviceID   string         `json:"device_id"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Confidence float64        `json:"confidence"` // 0..1
	Timestamp  time.Time      `json:"timestamp"`
	Method     PositionMethod `json:"method"`
}

// Risk is a discrete label derived from a device's continuous health score.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// HealthSnapshot is the rolling health assessment for a single device.
type HealthSnapshot struct {
	DeviceID          string     `json:"device_id"`
	Score             float64    `json:"score"` // 0..100
	Risk              Risk       `json:"risk"`
	PredictedFailure  *time.Time `json:"predicted_failure_at,omitempty"`
	Confidence        float64    `json:"confidence"` // 0..1, only meaningful with a prediction
	Factors           []string   `json:"factors"`
	Recommendations   []string   `json:"recommendations"`
	UpdatedAt         time.Time  `json:"updated_at"`
	SampleCount       int        `json:"sample_count"`
}

// AnomalyKind discriminates the detected anomaly class.
type AnomalyKind string

const (
	AnomalyRSSIDeviation AnomalyKind = "rssi_deviation"
	AnomalyLatencySpike  AnomalyKind = "latency_spike"
	AnomalyDisconnect    AnomalyKind = "disconnect"
	AnomalyTempSpike     AnomalyKind = "temp_spike"
	AnomalyOscillation   AnomalyKind = "oscillation"
	AnomalyDrop          AnomalyKind = "drop"
)

// Severity is the coarse urgency bucket attached to an anomaly or region.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AnomalyEvent is a single detected anomaly on one device.
type AnomalyEvent struct {
	ID        string      `json:"id"`
	DeviceID  string      `json:"device_id"`
	Timestamp time.Time   `json:"timestamp"`
	Score     float64     `json:"score"` // 0..1
	Kind      AnomalyKind `json:"kind"`
	Severity  Severity    `json:"severity"`
}

// AnomalyRegion is a spatial cluster of recently-anomalous devices.
type AnomalyRegion struct {
	ID              string    `json:"id"`
	Centre          Point     `json:"centre"`
	Radius          float64   `json:"radius"`
	Severity        Severity  `json:"severity"`
	Kind            string    `json:"kind"`
	Confidence      float64   `json:"confidence"`
	MemberDeviceIDs []string  `json:"member_device_ids"`
	CreatedAt       time.Time `json:"created_at"`
}

// HeatmapCell is one sampled point of a signal-strength heatmap grid.
type HeatmapCell struct {
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Signal          float64 `json:"signal"`  // interpolated RSSI
	AnomalyOverlay  float64 `json:"anomaly_overlay"`
}

// Heatmap is a rectangular grid of interpolated signal strength with an
// anomaly-region overlay.
type Heatmap struct {
	X0, Y0, X1, Y1 float64       `json:"-"`
	Resolution     int           `json:"resolution"`
	Cells          []HeatmapCell `json:"cells"`
}

// TrajectoryPoint is one entry in a device's historical trajectory,
// combining smoothing, position, and anomaly-score state at a point
// in time.
type TrajectoryPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	SmoothedRSSI  float64   `json:"smoothed_rssi"`
	Position      *Point    `json:"position,omitempty"`
	SignalQuality float64   `json:"signal_quality"` // normalized 0..1
	AnomalyScore  float64   `json:"anomaly_score"`
}

// HealthSummary aggregates fleet-wide health for the query surface.
type HealthSummary struct {
	TotalDevices int            `json:"total_devices"`
	MeanScore    float64        `json:"mean_score"`
	ByRisk       map[Risk]int   `json:"by_risk"`
	AtRisk       []string       `json:"at_risk_device_ids"` // high or critical
}
