// Package telemetry answers dashboard metric queries from live generators or
// from a recorded backend with fault overlays applied.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/miradorstack/faultsim/internal/faults"
	"github.com/miradorstack/faultsim/internal/models"
	"github.com/miradorstack/faultsim/internal/utils"
)

// ErrInvalidQuery marks malformed series queries.
var ErrInvalidQuery = errors.New("invalid telemetry query")

// ModeResolver reports the telemetry mode chosen for a robot.
type ModeResolver interface {
	Mode(ctx context.Context, robotID string) models.TelemetryMode
}

// LiveSource serves mock-mode telemetry.
type LiveSource interface {
	Series(robotID string, metric models.Metric) ([]models.Point, error)
	Frame(robotID string) (models.Frame, error)
}

// Remote serves real-mode telemetry.
type Remote interface {
	FetchSeries(ctx context.Context, q models.SeriesQuery) ([]models.Point, error)
	FetchFrame(ctx context.Context, robotID string, at time.Time) (models.Frame, error)
}

// InjectionLister returns a robot's injections for overlaying remote data.
type InjectionLister interface {
	ListByRobot(ctx context.Context, robotID string) []models.FaultInjection
}

// QueryService routes queries by telemetry mode.
type QueryService struct {
	modes      ModeResolver
	live       LiveSource
	remote     Remote
	injections InjectionLister
	logger     *slog.Logger
}

// NewQueryService wires the query paths. remote may be nil, in which case real
// mode yields empty results.
func NewQueryService(logger *slog.Logger, modes ModeResolver, live LiveSource, remote Remote, injections InjectionLister) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{modes: modes, live: live, remote: remote, injections: injections, logger: logger}
}

// Query returns the points of q.Metric for q.RobotID within [Start, End],
// thinned to at most one point per Step. Zero bounds are open.
func (s *QueryService) Query(ctx context.Context, q models.SeriesQuery) ([]models.Point, error) {
	if q.RobotID == "" {
		return nil, utils.NewAppError("telemetry.query", "robotId is required", ErrInvalidQuery)
	}
	if _, err := models.ParseMetric(string(q.Metric)); err != nil {
		return nil, utils.NewAppError("telemetry.query", err.Error(), ErrInvalidQuery)
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		return nil, utils.NewAppError("telemetry.query", "end before start", ErrInvalidQuery)
	}
	if q.Step < 0 {
		return nil, utils.NewAppError("telemetry.query", "negative step", ErrInvalidQuery)
	}

	if s.mode(ctx, q.RobotID) == models.ModeReal {
		return s.queryRemote(ctx, q), nil
	}

	points, err := s.live.Series(q.RobotID, q.Metric)
	if err != nil {
		return nil, err
	}
	return Downsample(Window(points, q.Start, q.End), q.Step), nil
}

// Frame returns the current multi-metric reading of a robot.
func (s *QueryService) Frame(ctx context.Context, robotID string, now time.Time) (models.Frame, error) {
	if robotID == "" {
		return models.Frame{}, utils.NewAppError("telemetry.frame", "robotId is required", ErrInvalidQuery)
	}
	if s.mode(ctx, robotID) != models.ModeReal {
		return s.live.Frame(robotID)
	}
	if s.remote == nil {
		return models.Frame{}, nil
	}
	frame, err := s.remote.FetchFrame(ctx, robotID, now)
	if err != nil {
		s.logger.Warn("remote frame unavailable", slog.String("robotId", robotID), slog.Any("error", err))
		return models.Frame{}, nil
	}
	return faults.ApplyFrame(frame, s.robotInjections(ctx, robotID), now), nil
}

func (s *QueryService) queryRemote(ctx context.Context, q models.SeriesQuery) []models.Point {
	if s.remote == nil {
		return []models.Point{}
	}
	points, err := s.remote.FetchSeries(ctx, q)
	if err != nil {
		s.logger.Warn("remote series unavailable",
			slog.String("robotId", q.RobotID),
			slog.String("metric", string(q.Metric)),
			slog.Any("error", err))
		return []models.Point{}
	}
	injections := s.robotInjections(ctx, q.RobotID)
	out := make([]models.Point, len(points))
	for i, p := range points {
		out[i] = models.Point{Timestamp: p.Timestamp, Value: p.Value + faults.Overlay(q.Metric, injections, p.Timestamp)}
	}
	return out
}

func (s *QueryService) robotInjections(ctx context.Context, robotID string) []models.FaultInjection {
	if s.injections == nil {
		return nil
	}
	return s.injections.ListByRobot(ctx, robotID)
}

func (s *QueryService) mode(ctx context.Context, robotID string) models.TelemetryMode {
	if s.modes == nil {
		return models.ModeMock
	}
	return s.modes.Mode(ctx, robotID)
}

// Window keeps points with start <= timestamp <= end. Zero bounds are open.
func Window(points []models.Point, start, end time.Time) []models.Point {
	out := make([]models.Point, 0, len(points))
	for _, p := range points {
		if !start.IsZero() && p.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && p.Timestamp.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Downsample keeps the first point of every step-long interval. A non-positive
// step returns points unchanged.
func Downsample(points []models.Point, step time.Duration) []models.Point {
	if step <= 0 || len(points) == 0 {
		return points
	}
	out := make([]models.Point, 0, len(points))
	var next time.Time
	for i, p := range points {
		if i > 0 && p.Timestamp.Before(next) {
			continue
		}
		out = append(out, p)
		next = p.Timestamp.Add(step)
	}
	return out
}
