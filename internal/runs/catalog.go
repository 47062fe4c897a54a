// Package runs keeps the simulation run catalog and per-robot telemetry modes.
package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/faultsim/internal/kv"
	"github.com/miradorstack/faultsim/internal/models"
	"github.com/miradorstack/faultsim/internal/utils"
)

// Storage keys of the persisted collections.
const (
	RunsKey  = "simRuns_v1"
	ModesKey = "robotTelemetryMode_v1"
)

// Demo run attributes.
const (
	DemoSceneName  = "Demo scene"
	DemoMode       = "REALTIME"
	DemoStatus     = "RUNNING"
	DemoSamplingHz = 1.0
)

// ErrInvalidMode marks rejected telemetry mode changes.
var ErrInvalidMode = errors.New("invalid telemetry mode")

// Catalog stores simulation runs and robot telemetry modes.
type Catalog struct {
	runs   *kv.Collection[models.SimRun]
	modes  *kv.Collection[models.RobotMode]
	now    func() time.Time
	logger *slog.Logger
}

// NewCatalog binds a catalog to backend. A nil clock means time.Now.
func NewCatalog(backend kv.Backend, logger *slog.Logger, clock func() time.Time) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Catalog{
		runs:   kv.NewCollection[models.SimRun](backend, RunsKey, logger),
		modes:  kv.NewCollection[models.RobotMode](backend, ModesKey, logger),
		now:    clock,
		logger: logger,
	}
}

// List returns every run in storage order.
func (c *Catalog) List(ctx context.Context) []models.SimRun {
	return c.runs.Load(ctx)
}

// EnsureDemoRun returns the first run, creating a demo run when none exist.
func (c *Catalog) EnsureDemoRun(ctx context.Context) (models.SimRun, error) {
	var run models.SimRun
	_, err := c.runs.Update(ctx, func(items []models.SimRun) ([]models.SimRun, bool, error) {
		if len(items) > 0 {
			run = items[0]
			return items, false, nil
		}
		run = models.SimRun{
			ID:         "mock-run-demo-" + uuid.New().String()[:8],
			SceneName:  DemoSceneName,
			Mode:       DemoMode,
			Status:     DemoStatus,
			SamplingHz: DemoSamplingHz,
			CreatedAt:  c.now(),
		}
		return []models.SimRun{run}, true, nil
	})
	if err != nil {
		return run, err
	}
	return run, nil
}

// Mode returns the robot's telemetry mode. Unknown robots and unreadable data
// resolve to mock.
func (c *Catalog) Mode(ctx context.Context, robotID string) models.TelemetryMode {
	for _, rm := range c.modes.Load(ctx) {
		if rm.RobotID == robotID {
			if rm.Mode == models.ModeReal {
				return models.ModeReal
			}
			return models.ModeMock
		}
	}
	return models.ModeMock
}

// SetMode records the telemetry mode of a robot.
func (c *Catalog) SetMode(ctx context.Context, robotID string, mode models.TelemetryMode) error {
	if robotID == "" {
		return utils.NewAppError("runs.setMode", "robotId is required", ErrInvalidMode)
	}
	if mode != models.ModeMock && mode != models.ModeReal {
		return utils.NewAppError("runs.setMode", fmt.Sprintf("unknown telemetry mode %q", mode), ErrInvalidMode)
	}
	_, err := c.modes.Update(ctx, func(items []models.RobotMode) ([]models.RobotMode, bool, error) {
		for i := range items {
			if items[i].RobotID == robotID {
				if items[i].Mode == mode {
					return items, false, nil
				}
				items[i].Mode = mode
				return items, true, nil
			}
		}
		return append(items, models.RobotMode{RobotID: robotID, Mode: mode}), true, nil
	})
	if err != nil {
		return err
	}
	c.logger.Info("telemetry mode changed", slog.String("robotId", robotID), slog.String("mode", string(mode)))
	return nil
}

// Subscribe registers a handler invoked after the run catalog changes.
func (c *Catalog) Subscribe(fn func()) func() {
	return c.runs.Subscribe(fn)
}
