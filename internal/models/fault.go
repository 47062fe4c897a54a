package models

import (
	"strings"
	"time"
)

// FaultType enumerates the supported fault behaviours.
type FaultType string

const (
	FaultOverheat      FaultType = "OVERHEAT"
	FaultHighVibration FaultType = "HIGH_VIBRATION"
	FaultCurrentSpike  FaultType = "CURRENT_SPIKE"
	FaultSensorDrift   FaultType = "SENSOR_DRIFT"
	FaultCustom        FaultType = "CUSTOM"
)

// Valid reports whether the fault type is one of the known values.
func (f FaultType) Valid() bool {
	switch f {
	case FaultOverheat, FaultHighVibration, FaultCurrentSpike, FaultSensorDrift, FaultCustom:
		return true
	}
	return false
}

// ParseFaultType normalises user input into a FaultType.
func ParseFaultType(value string) FaultType {
	return FaultType(strings.ToUpper(strings.TrimSpace(value)))
}

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether the severity is one of the known values.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// FaultTemplate is a reusable fault definition.
type FaultTemplate struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	FaultType       FaultType      `json:"faultType"`
	Severity        Severity       `json:"severity"`
	DurationSeconds int            `json:"durationSeconds"`
	Enabled         bool           `json:"enabled"`
	Params          map[string]any `json:"params"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	Builtin         bool           `json:"builtin"`
}

// Duration returns the template window length.
func (t FaultTemplate) Duration() time.Duration {
	return time.Duration(t.DurationSeconds) * time.Second
}

// Clone returns a deep copy; params are copied recursively so the result shares
// no mutable state with the receiver.
func (t FaultTemplate) Clone() FaultTemplate {
	out := t
	out.Params = cloneParams(t.Params)
	return out
}

func cloneParams(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneParams(typed)
	case []any:
		cp := make([]any, len(typed))
		for i, item := range typed {
			cp[i] = cloneValue(item)
		}
		return cp
	case []float64:
		return append([]float64(nil), typed...)
	case []string:
		return append([]string(nil), typed...)
	default:
		return v
	}
}

// InjectionStatus is derived from wall-clock time and never persisted.
type InjectionStatus string

const (
	StatusPending InjectionStatus = "PENDING"
	StatusActive  InjectionStatus = "ACTIVE"
	StatusExpired InjectionStatus = "EXPIRED"
)

// FaultInjection binds a frozen template snapshot to a run/robot over a window.
type FaultInjection struct {
	ID               string        `json:"id"`
	RunID            string        `json:"runId"`
	RobotID          string        `json:"robotId"`
	TemplateID       string        `json:"templateId"`
	TemplateSnapshot FaultTemplate `json:"templateSnapshot"`
	StartTs          time.Time     `json:"startTs"`
	EndTs            time.Time     `json:"endTs"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// StatusAt derives the lifecycle status at the supplied instant. Both window
// bounds are inclusive.
func (i FaultInjection) StatusAt(now time.Time) InjectionStatus {
	if now.Before(i.StartTs) {
		return StatusPending
	}
	if now.After(i.EndTs) {
		return StatusExpired
	}
	return StatusActive
}

// ActiveAt reports whether the window contains now.
func (i FaultInjection) ActiveAt(now time.Time) bool {
	return i.StatusAt(now) == StatusActive
}
