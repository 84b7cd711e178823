// Package feature reduces a device's tail window of measurements into a
// fixed feature map consumed by the health scorer. Channels observed
// fewer than 3 times are simply absent from the map; downstream code
// must test presence rather than assume a zero value.
package feature

import (
	"gonum.org/v1/gonum/stat"

	"github.com/signalmesh/fleetwatch/pkg/models"
)

// Keys used in the feature map, matching spec §3/§4.C.
const (
	RSSIMean         = "rssi_mean"
	RSSIStd          = "rssi_std"
	RTMean           = "rt_mean"
	RTTrend          = "rt_trend"
	UptimeRatio      = "uptime_ratio"
	DisconnectEvents = "disconnect_events"
	ErrorRate        = "error_rate"
	TempMax          = "temp_max"
	PowerTrend       = "power_trend"
)

// Map is the fixed feature map produced for one device from its tail
// window. Only channels that were observed at least 3 times are present.
type Map map[string]float64

// Extract computes the feature map from a tail window of measurements,
// oldest first.
func Extract(tail []models.Measurement) Map {
	m := Map{}

	if rssi := collect(tail, func(x models.Measurement) (float64, bool) {
		return x.RSSI, true
	}); len(rssi) >= 3 {
		mean, std := meanStd(rssi)
		m[RSSIMean] = mean
		m[RSSIStd] = std
	}

	if rt := collect(tail, func(x models.Measurement) (float64, bool) {
		if x.ResponseTimeMS == nil {
			return 0, false
		}
		return *x.ResponseTimeMS, true
	}); len(rt) >= 3 {
		mean, _ := meanStd(rt)
		m[RTMean] = mean
		m[RTTrend] = trend(rt)
	}

	if online := collectBool(tail, func(x models.Measurement) (bool, bool) {
		if x.IsOnline == nil {
			return false, false
		}
		return *x.IsOnline, true
	}); len(online) >= 3 {
		m[UptimeRatio] = uptimeRatio(online)
		m[DisconnectEvents] = float64(disconnectEvents(online))
	}

	if errs := collect(tail, func(x models.Measurement) (float64, bool) {
		if x.ErrorCount == nil {
			return 0, false
		}
		return float64(*x.ErrorCount), true
	}); len(errs) >= 3 {
		m[ErrorRate] = sum(errs) / float64(len(errs))
	}

	if temps := collect(tail, func(x models.Measurement) (float64, bool) {
		if x.TemperatureC == nil {
			return 0, false
		}
		return *x.TemperatureC, true
	}); len(temps) >= 3 {
		m[TempMax] = maxOf(temps)
	}

	if power := collect(tail, func(x models.Measurement) (float64, bool) {
		if x.PowerW == nil {
			return 0, false
		}
		return *x.PowerW, true
	}); len(power) >= 3 {
		m[PowerTrend] = trend(power)
	}

	return m
}

// trend is the slope of a degree-1 least-squares fit of values against
// 0..n-1 indices. Returns 0 if n < 2.
func trend(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, values, nil, false)
	return slope
}

func meanStd(values []float64) (mean, std float64) {
	mean, std = stat.MeanStdDev(values, nil)
	return mean, std
}

func sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// uptimeRatio is the mean of the boolean is_online sequence.
func uptimeRatio(online []bool) float64 {
	if len(online) == 0 {
		return 0
	}
	count := 0
	for _, v := range online {
		if v {
			count++
		}
	}
	return float64(count) / float64(len(online))
}

// disconnectEvents counts transitions from true to false in the sequence.
func disconnectEvents(online []bool) int {
	count := 0
	for i := 1; i < len(online); i++ {
		if online[i-1] && !online[i] {
			count++
		}
	}
	return count
}

func collect(tail []models.Measurement, get func(models.Measurement) (float64, bool)) []float64 {
	var out []float64
	for _, m := range tail {
		if v, ok := get(m); ok {
			out = append(out, v)
		}
	}
	return out
}

func collectBool(tail []models.Measurement, get func(models.Measurement) (bool, bool)) []bool {
	var out []bool
	for _, m := range tail {
		if v, ok := get(m); ok {
			out = append(out, v)
		}
	}
	return out
}
