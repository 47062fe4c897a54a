package faults

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/faultsim/internal/models"
)

// Parameter defaults applied when a template omits a value.
const (
	DefaultDeltaC       = 20.0
	DefaultRampSeconds  = 15.0
	DefaultRMSDelta     = 0.6
	DefaultAmplitude    = 6.0
	DefaultWidthSeconds = 6.0
	DefaultDriftPerSec  = 0.02

	overheatCurrentGain = 0.6
	minSpikeWidth       = 0.05
)

// Delta returns the additive contribution of a single injection to metric at
// now. Injections that are not active at now contribute zero.
func Delta(metric models.Metric, inj models.FaultInjection, now time.Time) float64 {
	if !inj.ActiveAt(now) {
		return 0
	}

	window := inj.EndTs.Sub(inj.StartTs)
	if window < time.Millisecond {
		window = time.Millisecond
	}
	elapsed := now.Sub(inj.StartTs).Seconds()
	t01 := clamp(elapsed/window.Seconds(), 0, 1)
	params := inj.TemplateSnapshot.Params

	switch inj.TemplateSnapshot.FaultType {
	case models.FaultOverheat:
		ramp := math.Max(1, Param(params, "rampSeconds", DefaultRampSeconds))
		k := clamp(elapsed/ramp, 0, 1)
		switch metric {
		case models.MetricTemperature:
			return Param(params, "deltaC", DefaultDeltaC) * (1 - math.Exp(-3*k))
		case models.MetricCurrent:
			return overheatCurrentGain * k
		}
		return 0
	case models.FaultHighVibration:
		if metric == models.MetricVibration {
			return Param(params, "rmsDelta", DefaultRMSDelta)
		}
		return 0
	case models.FaultCurrentSpike:
		if metric != models.MetricCurrent {
			return 0
		}
		sigma := math.Max(minSpikeWidth, Param(params, "widthSeconds", DefaultWidthSeconds)) / 6
		x := (t01 - 0.5) / sigma
		return Param(params, "amplitude", DefaultAmplitude) * math.Exp(-x*x)
	case models.FaultSensorDrift:
		if metric == models.MetricTemperature {
			return Param(params, "driftPerSec", DefaultDriftPerSec) * elapsed
		}
		return 0
	default:
		return Param(params, string(metric)+"Delta", 0)
	}
}

// Overlay sums the deltas of every injection for metric at now.
func Overlay(metric models.Metric, injections []models.FaultInjection, now time.Time) float64 {
	var total float64
	for _, inj := range injections {
		total += Delta(metric, inj, now)
	}
	return total
}

// ApplyFrame returns frame with the overlay of every metric added in.
func ApplyFrame(frame models.Frame, injections []models.FaultInjection, now time.Time) models.Frame {
	out := frame
	for _, metric := range models.AllMetrics {
		out.Set(metric, frame.Get(metric)+Overlay(metric, injections, now))
	}
	return out
}

// Param reads a numeric parameter. Numbers and numeric strings are accepted;
// anything else, including NaN and infinities, yields def.
func Param(params map[string]any, key string, def float64) float64 {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def
	}
	var v float64
	switch typed := raw.(type) {
	case float64:
		v = typed
	case float32:
		v = float64(typed)
	case int:
		v = float64(typed)
	case int64:
		v = float64(typed)
	case int32:
		v = float64(typed)
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			return def
		}
		v = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return def
		}
		v = f
	default:
		return def
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
