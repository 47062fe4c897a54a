package models

import (
	"fmt"
	"time"
)

// Metric names a synthesized signal.
type Metric string

const (
	MetricCurrent     Metric = "current"
	MetricVibration   Metric = "vibration"
	MetricTemperature Metric = "temperature"
)

// AllMetrics lists the metrics every simulated robot exposes.
var AllMetrics = []Metric{MetricCurrent, MetricVibration, MetricTemperature}

// ParseMetric validates a metric name.
func ParseMetric(value string) (Metric, error) {
	switch Metric(value) {
	case MetricCurrent, MetricVibration, MetricTemperature:
		return Metric(value), nil
	}
	return "", fmt.Errorf("unknown metric %q", value)
}

// Point is a single sample of a series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Frame is one multi-metric telemetry reading.
type Frame struct {
	Current     float64 `json:"current"`
	Vibration   float64 `json:"vibration"`
	Temperature float64 `json:"temperature"`
}

// Get returns the value for metric.
func (f Frame) Get(metric Metric) float64 {
	switch metric {
	case MetricCurrent:
		return f.Current
	case MetricVibration:
		return f.Vibration
	case MetricTemperature:
		return f.Temperature
	}
	return 0
}

// Set assigns the value for metric; unknown metrics are ignored.
func (f *Frame) Set(metric Metric, value float64) {
	switch metric {
	case MetricCurrent:
		f.Current = value
	case MetricVibration:
		f.Vibration = value
	case MetricTemperature:
		f.Temperature = value
	}
}

// SeriesQuery is the metric query context supplied by dashboards.
type SeriesQuery struct {
	RobotID string
	Metric  Metric
	Start   time.Time
	End     time.Time
	Step    time.Duration
}
