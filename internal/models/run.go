package models

import "time"

// SimRun describes a simulation run that injections are attributed to.
type SimRun struct {
	ID         string    `json:"id"`
	SceneName  string    `json:"sceneName"`
	Mode       string    `json:"mode"`
	Status     string    `json:"status"`
	SamplingHz float64   `json:"samplingHz"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TelemetryMode selects where a robot's telemetry comes from.
type TelemetryMode string

const (
	// ModeMock serves telemetry from local generators.
	ModeMock TelemetryMode = "mock"
	// ModeReal fetches telemetry from the remote backend.
	ModeReal TelemetryMode = "real"
)

// RobotMode records the telemetry mode chosen for one robot.
type RobotMode struct {
	RobotID string        `json:"robotId"`
	Mode    TelemetryMode `json:"mode"`
}
