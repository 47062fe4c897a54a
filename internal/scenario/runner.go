package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/faultsim/internal/faults"
	"github.com/miradorstack/faultsim/internal/kv"
	"github.com/miradorstack/faultsim/internal/models"
	"github.com/miradorstack/faultsim/internal/sim"
)

// TemplateCatalog resolves template ids.
type TemplateCatalog interface {
	GetAll(ctx context.Context) []models.FaultTemplate
	Get(ctx context.Context, id string) (models.FaultTemplate, bool)
}

// AlarmEvaluator raises alarms over a finished series.
type AlarmEvaluator interface {
	Evaluate(robotID string, metric models.Metric, series []models.Point) []models.Alarm
}

// Sample is one emitted tick of one robot.
type Sample struct {
	RobotID   string       `json:"robotId"`
	Timestamp time.Time    `json:"timestamp"`
	Frame     models.Frame `json:"frame"`
	Active    []string     `json:"activeTemplates,omitempty"`
}

// Result summarises a replay.
type Result struct {
	Injections []models.FaultInjection `json:"injections"`
	Alarms     []models.Alarm          `json:"alarms"`
	Samples    int                     `json:"samples"`
}

// Runner replays plans on a virtual clock, so the output depends only on the
// plan and the template catalog.
type Runner struct {
	templates TemplateCatalog
	profiles  map[models.Metric]sim.Profile
	alarms    AlarmEvaluator
	logger    *slog.Logger
}

// NewRunner constructs a runner. alarms may be nil.
func NewRunner(logger *slog.Logger, templates TemplateCatalog, profiles map[models.Metric]sim.Profile, alarms AlarmEvaluator) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if len(profiles) == 0 {
		profiles = sim.DefaultProfiles()
	}
	return &Runner{templates: templates, profiles: profiles, alarms: alarms, logger: logger}
}

// Run schedules the plan's faults and steps every robot from Start to End,
// calling emit once per robot per tick.
func (r *Runner) Run(ctx context.Context, plan Plan, emit func(Sample) error) (Result, error) {
	if err := plan.Validate(); err != nil {
		return Result{}, err
	}
	current := plan.Start
	clock := func() time.Time { return current }

	scheduler := faults.NewScheduler(kv.NewMemoryBackend(), r.templates,
		faults.WithClock(clock),
		faults.WithLogger(r.logger))

	var result Result
	for i, step := range plan.Faults {
		templates := make([]models.FaultTemplate, 0, len(step.TemplateIDs))
		for _, id := range step.TemplateIDs {
			tpl, ok := r.templates.Get(ctx, id)
			if !ok {
				return Result{}, fmt.Errorf("%w: faults[%d] references unknown template %q", ErrInvalidPlan, i, id)
			}
			templates = append(templates, tpl)
		}
		batch, err := scheduler.ScheduleBatch(ctx, faults.BatchRequest{
			RunID:      plan.RunID,
			RobotID:    step.RobotID,
			Templates:  templates,
			Start:      plan.Start.Add(time.Duration(step.OffsetSeconds * float64(time.Second))),
			GapSeconds: step.GapSeconds,
		})
		if err != nil {
			return Result{}, fmt.Errorf("schedule faults[%d]: %w", i, err)
		}
		result.Injections = append(result.Injections, batch...)
	}

	interval := plan.Interval()
	ticks := int(plan.End().Sub(plan.Start)/interval) + 1

	generators := make(map[string][]*sim.Generator, len(plan.Robots))
	effects := make(map[string][]models.FaultInjection, len(plan.Robots))
	for _, robotID := range plan.Robots {
		effects[robotID] = scheduler.ListByRobot(ctx, robotID)
		for _, metric := range models.AllMetrics {
			profile, ok := r.profiles[metric]
			if !ok {
				continue
			}
			gen, err := sim.NewGenerator(sim.GeneratorConfig{
				Metric:     metric,
				StartValue: profile.StartValue,
				Min:        profile.Min,
				Max:        profile.Max,
				Noise:      profile.Noise,
				Trend:      profile.Trend,
				Period:     profile.Period,
				Interval:   interval,
				MaxPoints:  ticks,
				Seed:       sim.DeriveSeed(plan.Seed, robotID, metric),
			}, clock)
			if err != nil {
				return Result{}, fmt.Errorf("generator %s/%s: %w", robotID, metric, err)
			}
			gen.SetFaultEffects(effects[robotID])
			generators[robotID] = append(generators[robotID], gen)
		}
	}

	r.logger.Info("scenario started",
		slog.String("name", plan.Name),
		slog.Int("robots", len(plan.Robots)),
		slog.Int("ticks", ticks),
		slog.Int("injections", len(result.Injections)))

	detectEvery := 0
	if plan.DetectEverySeconds > 0 && r.alarms != nil {
		detectEvery = int(time.Duration(plan.DetectEverySeconds*float64(time.Second)) / interval)
		if detectEvery < 1 {
			detectEvery = 1
		}
	}

	for i := 0; i < ticks; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		current = plan.Start.Add(time.Duration(i) * interval)
		for _, robotID := range plan.Robots {
			sample := Sample{RobotID: robotID, Timestamp: current}
			for _, gen := range generators[robotID] {
				sample.Frame.Set(gen.Metric(), gen.Step(current).Value)
			}
			for _, inj := range effects[robotID] {
				if inj.ActiveAt(current) {
					sample.Active = append(sample.Active, inj.TemplateID)
				}
			}
			result.Samples++
			if emit != nil {
				if err := emit(sample); err != nil {
					return result, err
				}
			}
		}
		if detectEvery > 0 && (i+1)%detectEvery == 0 {
			r.evaluate(plan.Robots, generators, &result)
		}
	}

	if r.alarms != nil && (detectEvery == 0 || ticks%detectEvery != 0) {
		r.evaluate(plan.Robots, generators, &result)
	}
	return result, nil
}

func (r *Runner) evaluate(robots []string, generators map[string][]*sim.Generator, result *Result) {
	for _, robotID := range robots {
		for _, gen := range generators[robotID] {
			result.Alarms = append(result.Alarms, r.alarms.Evaluate(robotID, gen.Metric(), gen.Series())...)
		}
	}
}

