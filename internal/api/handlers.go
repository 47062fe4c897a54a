package api

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/faultsim/internal/faults"
	"github.com/miradorstack/faultsim/internal/models"
	"github.com/miradorstack/faultsim/internal/sim"
	"github.com/miradorstack/faultsim/internal/utils"
)

// TemplateIDRequest addresses a single template.
type TemplateIDRequest struct {
	ID string `json:"id"`
}

// UpsertTemplateRequest is the wire form of a template patch. Absent fields
// are left untouched.
type UpsertTemplateRequest struct {
	ID              string         `json:"id"`
	Name            *string        `json:"name"`
	FaultType       *string        `json:"faultType"`
	Severity        *string        `json:"severity"`
	DurationSeconds *int           `json:"durationSeconds"`
	Enabled         *bool          `json:"enabled"`
	Params          map[string]any `json:"params"`
}

// InjectFaultsRequest creates spaced injections starting now.
type InjectFaultsRequest struct {
	RunID           string   `json:"runId"`
	RobotID         string   `json:"robotId"`
	TemplateIDs     []string `json:"templateIds"`
	IntervalSeconds float64  `json:"intervalSeconds"`
}

// ScheduleBatchRequest lays templates back to back from StartTs.
type ScheduleBatchRequest struct {
	RunID       string    `json:"runId"`
	RobotID     string    `json:"robotId"`
	TemplateIDs []string  `json:"templateIds"`
	StartTs     time.Time `json:"startTs"`
	GapSeconds  float64   `json:"gapSeconds"`
}

// RunRequest addresses a simulation run.
type RunRequest struct {
	RunID string `json:"runId"`
}

// RobotRequest addresses a robot, optionally at a point in time.
type RobotRequest struct {
	RobotID string    `json:"robotId"`
	At      time.Time `json:"at"`
}

// SeriesRequest queries one metric series.
type SeriesRequest struct {
	RobotID     string    `json:"robotId"`
	Metric      string    `json:"metric"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	StepSeconds float64   `json:"stepSeconds"`
}

// AlarmsRequest evaluates detectors over a robot's metrics. An empty Metrics
// list means every metric.
type AlarmsRequest struct {
	RobotID string   `json:"robotId"`
	Metrics []string `json:"metrics"`
}

// TelemetryModeRequest switches a robot's telemetry source.
type TelemetryModeRequest struct {
	RobotID string `json:"robotId"`
	Mode    string `json:"mode"`
}

// TuneGeneratorRequest adjusts one live generator. Absent fields are left
// untouched; a seed restarts the random stream.
type TuneGeneratorRequest struct {
	RobotID         string   `json:"robotId"`
	Metric          string   `json:"metric"`
	Seed            *uint32  `json:"seed"`
	Min             *float64 `json:"min"`
	Max             *float64 `json:"max"`
	Noise           *float64 `json:"noise"`
	Trend           *float64 `json:"trend"`
	PeriodSeconds   *float64 `json:"periodSeconds"`
	IntervalSeconds *float64 `json:"intervalSeconds"`
	MaxPoints       *int     `json:"maxPoints"`
}

// InjectionView is an injection together with its derived status.
type InjectionView struct {
	models.FaultInjection
	Status models.InjectionStatus `json:"status"`
}

// NewInjectionViews attaches the status at now to every injection.
func NewInjectionViews(injections []models.FaultInjection, now time.Time) []InjectionView {
	out := make([]InjectionView, 0, len(injections))
	for _, inj := range injections {
		out = append(out, InjectionView{FaultInjection: inj, Status: inj.StatusAt(now)})
	}
	return out
}

// DecodeRequest maps a JSON-shaped Struct onto dst.
func DecodeRequest(in *structpb.Struct, dst any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// EncodeResponse converts src into a Struct through its JSON form. src must
// marshal to a JSON object.
func EncodeResponse(src any) (*structpb.Struct, error) {
	raw, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}

// ToTemplatePatch validates enum fields and builds the registry patch.
func ToTemplatePatch(req UpsertTemplateRequest) (faults.TemplatePatch, error) {
	patch := faults.TemplatePatch{
		ID:              req.ID,
		Name:            req.Name,
		DurationSeconds: req.DurationSeconds,
		Enabled:         req.Enabled,
		Params:          req.Params,
	}
	if req.FaultType != nil {
		ft := models.ParseFaultType(*req.FaultType)
		if !ft.Valid() {
			return faults.TemplatePatch{}, fmt.Errorf("unknown fault type %q", *req.FaultType)
		}
		patch.FaultType = &ft
	}
	if req.Severity != nil {
		sev := models.Severity(*req.Severity)
		if !sev.Valid() {
			return faults.TemplatePatch{}, fmt.Errorf("unknown severity %q", *req.Severity)
		}
		patch.Severity = &sev
	}
	return patch, nil
}

// ToSeriesQuery validates the metric and converts the step.
func ToSeriesQuery(req SeriesRequest) (models.SeriesQuery, error) {
	metric, err := models.ParseMetric(req.Metric)
	if err != nil {
		return models.SeriesQuery{}, err
	}
	if req.StepSeconds < 0 {
		return models.SeriesQuery{}, fmt.Errorf("stepSeconds must not be negative")
	}
	return models.SeriesQuery{
		RobotID: req.RobotID,
		Metric:  metric,
		Start:   req.Start,
		End:     req.End,
		Step:    time.Duration(req.StepSeconds * float64(time.Second)),
	}, nil
}

// ToMetrics parses a metric list, defaulting to every metric.
func ToMetrics(values []string) ([]models.Metric, error) {
	if len(values) == 0 {
		return append([]models.Metric(nil), models.AllMetrics...), nil
	}
	out := make([]models.Metric, 0, len(values))
	for _, v := range values {
		m, err := models.ParseMetric(v)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ToGeneratorPatch validates the metric and converts second-based fields.
func ToGeneratorPatch(req TuneGeneratorRequest) (models.Metric, sim.GeneratorPatch, error) {
	metric, err := models.ParseMetric(req.Metric)
	if err != nil {
		return "", sim.GeneratorPatch{}, err
	}
	patch := sim.GeneratorPatch{
		Min:       req.Min,
		Max:       req.Max,
		Noise:     req.Noise,
		Trend:     req.Trend,
		MaxPoints: req.MaxPoints,
	}
	if req.PeriodSeconds != nil {
		d := utils.SecondsToDuration(*req.PeriodSeconds)
		patch.Period = &d
	}
	if req.IntervalSeconds != nil {
		d := utils.SecondsToDuration(*req.IntervalSeconds)
		patch.Interval = &d
	}
	return metric, patch, nil
}
