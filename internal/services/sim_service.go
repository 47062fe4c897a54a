package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/faultsim/internal/api"
	"github.com/miradorstack/faultsim/internal/faults"
	"github.com/miradorstack/faultsim/internal/models"
	"github.com/miradorstack/faultsim/internal/runs"
	"github.com/miradorstack/faultsim/internal/sim"
	"github.com/miradorstack/faultsim/internal/telemetry"
	"github.com/miradorstack/faultsim/internal/utils"
)

// TemplateStore is the template catalog used by the service.
type TemplateStore interface {
	GetAll(ctx context.Context) []models.FaultTemplate
	Get(ctx context.Context, id string) (models.FaultTemplate, bool)
	Upsert(ctx context.Context, patch faults.TemplatePatch) (models.FaultTemplate, error)
	Delete(ctx context.Context, id string) error
}

// InjectionStore schedules and lists fault injections.
type InjectionStore interface {
	InjectFaults(ctx context.Context, req faults.InjectRequest) ([]models.FaultInjection, error)
	ScheduleBatch(ctx context.Context, req faults.BatchRequest) ([]models.FaultInjection, error)
	ListByRun(ctx context.Context, runID string) []models.FaultInjection
	ListActive(ctx context.Context, robotID string, now time.Time) []models.FaultInjection
	ClearRun(ctx context.Context, runID string) (int, error)
}

// TelemetryReader answers series and frame queries.
type TelemetryReader interface {
	Query(ctx context.Context, q models.SeriesQuery) ([]models.Point, error)
	Frame(ctx context.Context, robotID string, now time.Time) (models.Frame, error)
}

// RunCatalog stores runs and telemetry modes.
type RunCatalog interface {
	List(ctx context.Context) []models.SimRun
	EnsureDemoRun(ctx context.Context) (models.SimRun, error)
	SetMode(ctx context.Context, robotID string, mode models.TelemetryMode) error
}

// AlarmEvaluator raises alarms on a metric series.
type AlarmEvaluator interface {
	Evaluate(robotID string, metric models.Metric, series []models.Point) []models.Alarm
}

// GeneratorStats reports on the running generators.
type GeneratorStats interface {
	Robots() []string
	TickLatency() (p50, p95 time.Duration)
}

// GeneratorTuner adjusts live generators.
type GeneratorTuner interface {
	Tune(robotID string, metric models.Metric, seed *uint32, patch sim.GeneratorPatch) (models.Point, error)
}

// Dependencies groups the collaborators of SimService. Nil members disable the
// RPCs that need them.
type Dependencies struct {
	Templates  TemplateStore
	Injections InjectionStore
	Telemetry  TelemetryReader
	Runs       RunCatalog
	Alarms     AlarmEvaluator
	Generators GeneratorStats
	Tuner      GeneratorTuner
	Clock      func() time.Time
}

// SimService implements the FaultSim gRPC service.
type SimService struct {
	logger    *slog.Logger
	deps      Dependencies
	now       func() time.Time
	latencies *utils.LatencyTracker
}

var _ api.FaultSimServer = (*SimService)(nil)

// NewSimService constructs the service facade.
func NewSimService(logger *slog.Logger, deps Dependencies) *SimService {
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &SimService{
		logger:    logger,
		deps:      deps,
		now:       now,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// ListTemplates returns the full template catalog.
func (s *SimService) ListTemplates(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Templates == nil {
		return nil, status.Error(codes.FailedPrecondition, "template registry not configured")
	}
	return s.encode(map[string]any{"templates": s.deps.Templates.GetAll(ctx)})
}

// GetTemplate returns a single template.
func (s *SimService) GetTemplate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Templates == nil {
		return nil, status.Error(codes.FailedPrecondition, "template registry not configured")
	}
	var req api.TemplateIDRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	tpl, ok := s.deps.Templates.Get(ctx, req.ID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "template %s not found", req.ID)
	}
	return s.encode(map[string]any{"template": tpl})
}

// UpsertTemplate creates or patches a template.
func (s *SimService) UpsertTemplate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Templates == nil {
		return nil, status.Error(codes.FailedPrecondition, "template registry not configured")
	}
	var req api.UpsertTemplateRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	patch, err := api.ToTemplatePatch(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	tpl, err := s.deps.Templates.Upsert(ctx, patch)
	if err != nil {
		return nil, s.toStatus("upsert template", err)
	}
	return s.encode(map[string]any{"template": tpl})
}

// DeleteTemplate removes a custom template or disables a built-in one.
func (s *SimService) DeleteTemplate(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	if s.deps.Templates == nil {
		return nil, status.Error(codes.FailedPrecondition, "template registry not configured")
	}
	var req api.TemplateIDRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	if err := s.deps.Templates.Delete(ctx, req.ID); err != nil {
		return nil, s.toStatus("delete template", err)
	}
	return &emptypb.Empty{}, nil
}

// InjectFaults creates one injection per known template id.
func (s *SimService) InjectFaults(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Injections == nil {
		return nil, status.Error(codes.FailedPrecondition, "scheduler not configured")
	}
	var req api.InjectFaultsRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.RunID == "" || req.RobotID == "" {
		return nil, status.Error(codes.InvalidArgument, "runId and robotId are required")
	}

	s.logger.Debug("InjectFaults called",
		slog.String("runId", req.RunID),
		slog.String("robotId", req.RobotID),
		slog.Int("templates", len(req.TemplateIDs)))

	created, err := s.deps.Injections.InjectFaults(ctx, faults.InjectRequest{
		RunID:           req.RunID,
		RobotID:         req.RobotID,
		TemplateIDs:     req.TemplateIDs,
		IntervalSeconds: req.IntervalSeconds,
	})
	if err != nil {
		return nil, s.toStatus("inject faults", err)
	}
	return s.encode(map[string]any{"injections": api.NewInjectionViews(created, s.now())})
}

// ScheduleBatch lays the requested templates back to back. Every template id
// must resolve.
func (s *SimService) ScheduleBatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Injections == nil || s.deps.Templates == nil {
		return nil, status.Error(codes.FailedPrecondition, "scheduler not configured")
	}
	var req api.ScheduleBatchRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.RunID == "" || req.RobotID == "" {
		return nil, status.Error(codes.InvalidArgument, "runId and robotId are required")
	}

	templates := make([]models.FaultTemplate, 0, len(req.TemplateIDs))
	for _, id := range req.TemplateIDs {
		tpl, ok := s.deps.Templates.Get(ctx, id)
		if !ok {
			return nil, status.Errorf(codes.NotFound, "template %s not found", id)
		}
		templates = append(templates, tpl)
	}
	start := req.StartTs
	if start.IsZero() {
		start = s.now()
	}

	created, err := s.deps.Injections.ScheduleBatch(ctx, faults.BatchRequest{
		RunID:      req.RunID,
		RobotID:    req.RobotID,
		Templates:  templates,
		Start:      start,
		GapSeconds: req.GapSeconds,
	})
	if err != nil {
		return nil, s.toStatus("schedule batch", err)
	}
	return s.encode(map[string]any{"injections": api.NewInjectionViews(created, s.now())})
}

// ListInjectionsByRun returns a run's injections, newest first.
func (s *SimService) ListInjectionsByRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Injections == nil {
		return nil, status.Error(codes.FailedPrecondition, "scheduler not configured")
	}
	var req api.RunRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.RunID == "" {
		return nil, status.Error(codes.InvalidArgument, "runId is required")
	}
	list := s.deps.Injections.ListByRun(ctx, req.RunID)
	return s.encode(map[string]any{"injections": api.NewInjectionViews(list, s.now())})
}

// ListActiveInjections returns a robot's injections active at the requested
// instant, or now.
func (s *SimService) ListActiveInjections(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Injections == nil {
		return nil, status.Error(codes.FailedPrecondition, "scheduler not configured")
	}
	var req api.RobotRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.RobotID == "" {
		return nil, status.Error(codes.InvalidArgument, "robotId is required")
	}
	at := req.At
	if at.IsZero() {
		at = s.now()
	}
	list := s.deps.Injections.ListActive(ctx, req.RobotID, at)
	return s.encode(map[string]any{"injections": api.NewInjectionViews(list, at)})
}

// ClearRun removes every injection of a run.
func (s *SimService) ClearRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Injections == nil {
		return nil, status.Error(codes.FailedPrecondition, "scheduler not configured")
	}
	var req api.RunRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.RunID == "" {
		return nil, status.Error(codes.InvalidArgument, "runId is required")
	}
	removed, err := s.deps.Injections.ClearRun(ctx, req.RunID)
	if err != nil {
		return nil, s.toStatus("clear run", err)
	}
	return s.encode(map[string]any{"runId": req.RunID, "removed": removed})
}

// QuerySeries returns a windowed, downsampled metric series.
func (s *SimService) QuerySeries(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Telemetry == nil {
		return nil, status.Error(codes.FailedPrecondition, "telemetry not configured")
	}
	var req api.SeriesRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	q, err := api.ToSeriesQuery(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	start := time.Now()
	points, err := s.deps.Telemetry.Query(ctx, q)
	if err != nil {
		return nil, s.toStatus("query series", err)
	}
	s.latencies.Observe(time.Since(start))
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("query latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}

	return s.encode(map[string]any{
		"robotId": q.RobotID,
		"metric":  q.Metric,
		"points":  points,
	})
}

// GetFrame returns a robot's current multi-metric reading.
func (s *SimService) GetFrame(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Telemetry == nil {
		return nil, status.Error(codes.FailedPrecondition, "telemetry not configured")
	}
	var req api.RobotRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	at := req.At
	if at.IsZero() {
		at = s.now()
	}
	frame, err := s.deps.Telemetry.Frame(ctx, req.RobotID, at)
	if err != nil {
		return nil, s.toStatus("get frame", err)
	}
	return s.encode(map[string]any{"robotId": req.RobotID, "timestamp": at, "frame": frame})
}

// ListAlarms evaluates the detectors over the requested metrics of a robot.
func (s *SimService) ListAlarms(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Telemetry == nil || s.deps.Alarms == nil {
		return nil, status.Error(codes.FailedPrecondition, "detection not configured")
	}
	var req api.AlarmsRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	metricList, err := api.ToMetrics(req.Metrics)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	alarms := []models.Alarm{}
	for _, metric := range metricList {
		points, err := s.deps.Telemetry.Query(ctx, models.SeriesQuery{RobotID: req.RobotID, Metric: metric})
		if err != nil {
			return nil, s.toStatus("list alarms", err)
		}
		alarms = append(alarms, s.deps.Alarms.Evaluate(req.RobotID, metric, points)...)
	}
	return s.encode(map[string]any{"alarms": alarms})
}

// ListRuns returns the run catalog, creating the demo run on first use.
func (s *SimService) ListRuns(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Runs == nil {
		return nil, status.Error(codes.FailedPrecondition, "run catalog not configured")
	}
	if _, err := s.deps.Runs.EnsureDemoRun(ctx); err != nil {
		s.logger.Warn("demo run not persisted", slog.Any("error", err))
	}
	return s.encode(map[string]any{"runs": s.deps.Runs.List(ctx)})
}

// SetTelemetryMode switches a robot between mock and real telemetry.
func (s *SimService) SetTelemetryMode(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	if s.deps.Runs == nil {
		return nil, status.Error(codes.FailedPrecondition, "run catalog not configured")
	}
	var req api.TelemetryModeRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.deps.Runs.SetMode(ctx, req.RobotID, models.TelemetryMode(req.Mode)); err != nil {
		return nil, s.toStatus("set telemetry mode", err)
	}
	return &emptypb.Empty{}, nil
}

// TuneGenerator updates the parameters or seed of one robot metric generator.
func (s *SimService) TuneGenerator(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Tuner == nil {
		return nil, status.Error(codes.FailedPrecondition, "generators not configured")
	}
	var req api.TuneGeneratorRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.RobotID == "" {
		return nil, status.Error(codes.InvalidArgument, "robotId is required")
	}
	metric, patch, err := api.ToGeneratorPatch(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	latest, err := s.deps.Tuner.Tune(req.RobotID, metric, req.Seed, patch)
	if err != nil {
		return nil, s.toStatus("tune generator", err)
	}
	return s.encode(map[string]any{"robotId": req.RobotID, "metric": metric, "latest": latest})
}

// HealthCheck returns the current health state.
func (s *SimService) HealthCheck(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp := map[string]any{
		"status":         "SERVING",
		"queryP95Millis": float64(s.LatencyP95()) / float64(time.Millisecond),
	}
	if s.deps.Generators != nil {
		p50, p95 := s.deps.Generators.TickLatency()
		resp["robots"] = s.deps.Generators.Robots()
		resp["tickP50Millis"] = float64(p50) / float64(time.Millisecond)
		resp["tickP95Millis"] = float64(p95) / float64(time.Millisecond)
	}
	return s.encode(resp)
}

// LatencyP95 returns the current p95 series query latency.
func (s *SimService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

func (s *SimService) encode(v any) (*structpb.Struct, error) {
	out, err := api.EncodeResponse(v)
	if err != nil {
		s.logger.Error("encode response failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

func (s *SimService) toStatus(action string, err error) error {
	switch {
	case errors.Is(err, faults.ErrInvalidConfig),
		errors.Is(err, telemetry.ErrInvalidQuery),
		errors.Is(err, runs.ErrInvalidMode),
		errors.Is(err, sim.ErrInvalidParams):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	s.logger.Error(action+" failed", slog.String("op", utils.OpOf(err)), slog.Any("error", err))
	return status.Error(codes.Unavailable, fmt.Sprintf("%s failed: %v", action, err))
}
