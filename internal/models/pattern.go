package models

import "time"

// FaultSignature summarises how the detectors reacted to one fault type.
type FaultSignature struct {
	ID         string           `json:"id"`
	FaultType  FaultType        `json:"faultType"`
	Injections int              `json:"injections"`
	Detected   int              `json:"detected"`
	Recall     float64          `json:"recall"`
	LastSeen   time.Time        `json:"lastSeen"`
	Evidence   []MetricEvidence `json:"evidence"`
}

// MetricEvidence counts alarms of one detector on one metric.
type MetricEvidence struct {
	Metric    Metric  `json:"metric"`
	Detector  string  `json:"detector"`
	Count     int     `json:"count"`
	MeanScore float64 `json:"meanScore"`
}

// RunSignatures is the persisted signature set of one run.
type RunSignatures struct {
	RunID      string           `json:"runId"`
	MinedAt    time.Time        `json:"minedAt"`
	Signatures []FaultSignature `json:"signatures"`
	// Unattributed counts alarms raised outside every injection window.
	Unattributed int `json:"unattributed"`
}
