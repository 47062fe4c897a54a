package models

import "time"

// AlarmLevel grades a detection result.
type AlarmLevel string

const (
	AlarmInfo     AlarmLevel = "INFO"
	AlarmWarn     AlarmLevel = "WARN"
	AlarmCritical AlarmLevel = "CRITICAL"
)

// Alarm is an anomaly raised on a robot metric.
type Alarm struct {
	RobotID   string     `json:"robotId"`
	Metric    Metric     `json:"metric"`
	Detector  string     `json:"detector"`
	Level     AlarmLevel `json:"level"`
	Score     float64    `json:"score"`
	Value     float64    `json:"value"`
	Timestamp time.Time  `json:"timestamp"`
}
