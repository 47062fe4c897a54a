// Package detect turns telemetry series into alarms.
package detect

import (
	"math"
	"time"

	"github.com/miradorstack/faultsim/internal/metrics"
	"github.com/miradorstack/faultsim/internal/models"
)

// Detector type names reported on alarms.
const (
	TypeZScore    = "Z_SCORE"
	TypeThreshold = "THRESHOLD"
)

// Result is the outcome of one detector over a series.
type Result struct {
	Anomaly  bool
	Score    float64
	Level    models.AlarmLevel
	Evidence map[string]float64
}

// Detector evaluates the latest sample of a series.
type Detector interface {
	Detect(values []float64) Result
	Type() string
}

// ZScoreDetector flags the latest sample when it deviates from the window mean
// by more than Threshold standard deviations.
type ZScoreDetector struct {
	Threshold  float64
	MinSamples int
}

// NewZScoreDetector returns a detector with threshold 3 and a ten-sample minimum.
func NewZScoreDetector(threshold float64) *ZScoreDetector {
	if threshold <= 0 {
		threshold = 3
	}
	return &ZScoreDetector{Threshold: threshold, MinSamples: 10}
}

// Type implements Detector.
func (d *ZScoreDetector) Type() string { return TypeZScore }

// Detect implements Detector.
func (d *ZScoreDetector) Detect(values []float64) Result {
	if len(values) < d.MinSamples || len(values) == 0 {
		return Result{Level: models.AlarmInfo, Evidence: map[string]float64{"sampleCount": float64(len(values))}}
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += math.Pow(v-mean, 2)
	}
	variance /= float64(len(values))
	stdDev := math.Sqrt(variance)

	evidence := map[string]float64{
		"mean":        mean,
		"stdDev":      stdDev,
		"sampleCount": float64(len(values)),
	}
	if stdDev == 0 {
		return Result{Level: models.AlarmInfo, Evidence: evidence}
	}

	latest := values[len(values)-1]
	score := math.Abs((latest - mean) / stdDev)
	evidence["latestValue"] = latest
	evidence["threshold"] = d.Threshold

	level := models.AlarmInfo
	switch {
	case score >= 5:
		level = models.AlarmCritical
	case score >= 3:
		level = models.AlarmWarn
	}
	return Result{Anomaly: score > d.Threshold, Score: score, Level: level, Evidence: evidence}
}

// ThresholdDetector flags the latest sample outside [Lower, Upper]. The score
// is the relative distance beyond the violated bound.
type ThresholdDetector struct {
	Lower float64
	Upper float64
}

// Type implements Detector.
func (d *ThresholdDetector) Type() string { return TypeThreshold }

// Detect implements Detector.
func (d *ThresholdDetector) Detect(values []float64) Result {
	if len(values) == 0 {
		return Result{Level: models.AlarmInfo}
	}
	latest := values[len(values)-1]

	var deviation float64
	switch {
	case latest > d.Upper:
		deviation = (latest - d.Upper) / nonZero(d.Upper)
	case latest < d.Lower:
		deviation = (d.Lower - latest) / nonZero(d.Lower)
	default:
		return Result{Level: models.AlarmInfo, Evidence: map[string]float64{"latestValue": latest}}
	}

	level := models.AlarmInfo
	switch {
	case deviation >= 1:
		level = models.AlarmCritical
	case deviation >= 0.5:
		level = models.AlarmWarn
	}
	return Result{
		Anomaly: true,
		Score:   deviation,
		Level:   level,
		Evidence: map[string]float64{
			"latestValue": latest,
			"upper":       d.Upper,
			"lower":       d.Lower,
			"windowSize":  float64(len(values)),
		},
	}
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return math.Abs(v)
}

// Bounds are the accepted operating range of a metric.
type Bounds struct {
	Lower float64
	Upper float64
}

// Engine runs a z-score detector on every metric and a threshold detector on
// metrics with configured bounds.
type Engine struct {
	zscore     *ZScoreDetector
	thresholds map[models.Metric]*ThresholdDetector
}

// NewEngine builds an engine from a z threshold and per-metric bounds.
func NewEngine(zThreshold float64, bounds map[models.Metric]Bounds) *Engine {
	thresholds := make(map[models.Metric]*ThresholdDetector, len(bounds))
	for metric, b := range bounds {
		thresholds[metric] = &ThresholdDetector{Lower: b.Lower, Upper: b.Upper}
	}
	return &Engine{zscore: NewZScoreDetector(zThreshold), thresholds: thresholds}
}

// DefaultBounds returns operating ranges matching the stock signal profiles.
func DefaultBounds() map[models.Metric]Bounds {
	return map[models.Metric]Bounds{
		models.MetricCurrent:     {Lower: 0.5, Upper: 12},
		models.MetricVibration:   {Lower: 0.1, Upper: 2.5},
		models.MetricTemperature: {Lower: 25, Upper: 60},
	}
}

// Evaluate returns the alarms raised on the latest point of series.
func (e *Engine) Evaluate(robotID string, metric models.Metric, series []models.Point) []models.Alarm {
	if len(series) == 0 {
		return nil
	}
	values := make([]float64, len(series))
	for i, p := range series {
		values[i] = p.Value
	}
	latest := series[len(series)-1]

	detectors := []Detector{e.zscore}
	if td, ok := e.thresholds[metric]; ok {
		detectors = append(detectors, td)
	}

	var alarms []models.Alarm
	for _, d := range detectors {
		res := d.Detect(values)
		if !res.Anomaly {
			continue
		}
		alarms = append(alarms, models.Alarm{
			RobotID:   robotID,
			Metric:    metric,
			Detector:  d.Type(),
			Level:     res.Level,
			Score:     res.Score,
			Value:     latest.Value,
			Timestamp: timestampOr(latest.Timestamp),
		})
		metrics.ObserveAlarm(string(res.Level))
	}
	return alarms
}

func timestampOr(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts
}
