package faults

import (
	"time"

	"github.com/miradorstack/faultsim/internal/models"
)

// Built-in template identifiers.
const (
	BuiltinOverheatHigh        = "builtin-overheat-high"
	BuiltinHighVibrationMedium = "builtin-high-vibration-medium"
	BuiltinCurrentSpikeHigh    = "builtin-current-spike-high"
	BuiltinSensorDriftLow      = "builtin-sensor-drift-low"
)

// Builtins returns fresh copies of the protected template set, stamped at now.
func Builtins(now time.Time) []models.FaultTemplate {
	mk := func(id, name string, ft models.FaultType, sev models.Severity, dur int, params map[string]any) models.FaultTemplate {
		return models.FaultTemplate{
			ID:              id,
			Name:            name,
			FaultType:       ft,
			Severity:        sev,
			DurationSeconds: dur,
			Enabled:         true,
			Params:          params,
			CreatedAt:       now,
			UpdatedAt:       now,
			Builtin:         true,
		}
	}
	return []models.FaultTemplate{
		mk(BuiltinOverheatHigh, "Joint overheat (high)", models.FaultOverheat, models.SeverityHigh, 120,
			map[string]any{"deltaC": 25.0, "rampSeconds": 20.0}),
		mk(BuiltinHighVibrationMedium, "High vibration (medium)", models.FaultHighVibration, models.SeverityMedium, 120,
			map[string]any{"rmsDelta": 0.8}),
		mk(BuiltinCurrentSpikeHigh, "Current spike (high)", models.FaultCurrentSpike, models.SeverityHigh, 60,
			map[string]any{"amplitude": 8.0, "widthSeconds": 8.0}),
		mk(BuiltinSensorDriftLow, "Temperature sensor drift (low)", models.FaultSensorDrift, models.SeverityLow, 180,
			map[string]any{"driftPerSec": 0.03}),
	}
}

// IsBuiltinID reports whether id names one of the protected templates.
func IsBuiltinID(id string) bool {
	switch id {
	case BuiltinOverheatHigh, BuiltinHighVibrationMedium, BuiltinCurrentSpikeHigh, BuiltinSensorDriftLow:
		return true
	}
	return false
}
