package faults

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/miradorstack/faultsim/internal/kv"
	"github.com/miradorstack/faultsim/internal/metrics"
	"github.com/miradorstack/faultsim/internal/models"
	"github.com/miradorstack/faultsim/internal/utils"
)

// TemplateSource resolves template ids for the scheduler.
type TemplateSource interface {
	GetAll(ctx context.Context) []models.FaultTemplate
}

// InjectRequest asks for one injection per resolvable template id, spaced
// IntervalSeconds apart starting now.
type InjectRequest struct {
	RunID           string
	RobotID         string
	TemplateIDs     []string
	IntervalSeconds float64
}

// BatchRequest schedules templates back to back from Start with GapSeconds
// between consecutive windows.
type BatchRequest struct {
	RunID      string
	RobotID    string
	Templates  []models.FaultTemplate
	Start      time.Time
	GapSeconds float64
}

// Scheduler creates and queries fault injections.
type Scheduler struct {
	store     *kv.Collection[models.FaultInjection]
	templates TemplateSource
	opts      options
}

// NewScheduler binds a scheduler to backend, resolving templates from source.
func NewScheduler(backend kv.Backend, source TemplateSource, opts ...Option) *Scheduler {
	o := buildOptions(opts)
	return &Scheduler{
		store:     kv.NewCollection[models.FaultInjection](backend, InjectionsKey, o.logger),
		templates: source,
		opts:      o,
	}
}

// InjectFaults creates injections for the known ids in req and persists them in
// one write. Unknown ids are skipped and do not consume an interval slot.
func (s *Scheduler) InjectFaults(ctx context.Context, req InjectRequest) ([]models.FaultInjection, error) {
	if req.IntervalSeconds < 0 || math.IsNaN(req.IntervalSeconds) || math.IsInf(req.IntervalSeconds, 0) {
		metrics.ObserveRejectedInjection()
		return nil, utils.NewAppError("faults.inject", fmt.Sprintf("invalid interval %v", req.IntervalSeconds), ErrInvalidConfig)
	}

	byID := make(map[string]models.FaultTemplate)
	for _, tpl := range s.templates.GetAll(ctx) {
		byID[tpl.ID] = tpl
	}

	now := s.opts.now()
	interval := utils.SecondsToDuration(req.IntervalSeconds)
	created := make([]models.FaultInjection, 0, len(req.TemplateIDs))
	for _, id := range req.TemplateIDs {
		tpl, ok := byID[id]
		if !ok {
			s.opts.logger.Debug("skipping unknown template", slog.String("templateId", id))
			continue
		}
		start := now.Add(time.Duration(len(created)) * interval)
		inj, err := s.newInjection(req.RunID, req.RobotID, tpl, start, now)
		if err != nil {
			metrics.ObserveRejectedInjection()
			return nil, err
		}
		created = append(created, inj)
	}

	return s.persist(ctx, "faults.inject", created)
}

// BuildBatch lays out req.Templates sequentially without persisting anything.
func (s *Scheduler) BuildBatch(req BatchRequest) ([]models.FaultInjection, error) {
	if req.GapSeconds < 0 || math.IsNaN(req.GapSeconds) || math.IsInf(req.GapSeconds, 0) {
		return nil, utils.NewAppError("faults.batch", fmt.Sprintf("invalid gap %v", req.GapSeconds), ErrInvalidConfig)
	}
	now := s.opts.now()
	gap := utils.SecondsToDuration(req.GapSeconds)
	cursor := req.Start
	out := make([]models.FaultInjection, 0, len(req.Templates))
	for _, tpl := range req.Templates {
		inj, err := s.newInjection(req.RunID, req.RobotID, tpl, cursor, now)
		if err != nil {
			return nil, err
		}
		out = append(out, inj)
		cursor = inj.EndTs.Add(gap)
	}
	return out, nil
}

// ScheduleBatch builds a sequential batch and persists it in one write.
func (s *Scheduler) ScheduleBatch(ctx context.Context, req BatchRequest) ([]models.FaultInjection, error) {
	batch, err := s.BuildBatch(req)
	if err != nil {
		metrics.ObserveRejectedInjection()
		return nil, err
	}
	return s.persist(ctx, "faults.batch", batch)
}

// ListByRun returns a run's injections, most recently created first.
func (s *Scheduler) ListByRun(ctx context.Context, runID string) []models.FaultInjection {
	out := s.filter(ctx, func(inj models.FaultInjection) bool { return inj.RunID == runID })
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ListByRobot returns every injection targeting robotID in storage order.
func (s *Scheduler) ListByRobot(ctx context.Context, robotID string) []models.FaultInjection {
	return s.filter(ctx, func(inj models.FaultInjection) bool { return inj.RobotID == robotID })
}

// ListActive returns the robot's injections whose window contains now. A zero
// now means the current time.
func (s *Scheduler) ListActive(ctx context.Context, robotID string, now time.Time) []models.FaultInjection {
	if now.IsZero() {
		now = s.opts.now()
	}
	return s.filter(ctx, func(inj models.FaultInjection) bool {
		return inj.RobotID == robotID && inj.ActiveAt(now)
	})
}

// Status derives the lifecycle status of inj. A zero now means the current time.
func (s *Scheduler) Status(inj models.FaultInjection, now time.Time) models.InjectionStatus {
	if now.IsZero() {
		now = s.opts.now()
	}
	return inj.StatusAt(now)
}

// ClearRun removes every injection of runID and reports how many were dropped.
func (s *Scheduler) ClearRun(ctx context.Context, runID string) (int, error) {
	removed := 0
	_, err := s.store.Update(ctx, func(items []models.FaultInjection) ([]models.FaultInjection, bool, error) {
		kept := make([]models.FaultInjection, 0, len(items))
		for _, inj := range items {
			if inj.RunID == runID {
				removed++
				continue
			}
			kept = append(kept, inj)
		}
		return kept, removed > 0, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Subscribe registers a handler invoked after every persisted injection change.
func (s *Scheduler) Subscribe(fn func()) func() {
	return s.store.Subscribe(fn)
}

func (s *Scheduler) newInjection(runID, robotID string, tpl models.FaultTemplate, start, now time.Time) (models.FaultInjection, error) {
	if tpl.DurationSeconds <= 0 {
		return models.FaultInjection{}, utils.NewAppError("faults.schedule",
			fmt.Sprintf("template %s has non-positive duration %d", tpl.ID, tpl.DurationSeconds), ErrInvalidConfig)
	}
	end := start.Add(tpl.Duration())
	if !end.After(start) {
		return models.FaultInjection{}, utils.NewAppError("faults.schedule", "endTs must be after startTs", ErrInvalidConfig)
	}
	return models.FaultInjection{
		ID:               s.opts.newID(),
		RunID:            runID,
		RobotID:          robotID,
		TemplateID:       tpl.ID,
		TemplateSnapshot: tpl.Clone(),
		StartTs:          start,
		EndTs:            end,
		CreatedAt:        now,
	}, nil
}

func (s *Scheduler) persist(ctx context.Context, op string, created []models.FaultInjection) ([]models.FaultInjection, error) {
	if len(created) == 0 {
		return []models.FaultInjection{}, nil
	}
	_, err := s.store.Update(ctx, func(items []models.FaultInjection) ([]models.FaultInjection, bool, error) {
		next := make([]models.FaultInjection, 0, len(items)+len(created))
		for _, inj := range created {
			next = append(next, cloneInjection(inj))
		}
		return append(next, items...), true, nil
	})
	if err != nil {
		return nil, utils.NewAppError(op, "injections not persisted", err)
	}
	for _, inj := range created {
		metrics.ObserveInjections(string(inj.TemplateSnapshot.FaultType), 1)
	}
	return created, nil
}

func (s *Scheduler) filter(ctx context.Context, keep func(models.FaultInjection) bool) []models.FaultInjection {
	out := []models.FaultInjection{}
	for _, inj := range s.store.Load(ctx) {
		if keep(inj) {
			out = append(out, inj)
		}
	}
	return out
}

func cloneInjection(inj models.FaultInjection) models.FaultInjection {
	out := inj
	out.TemplateSnapshot = inj.TemplateSnapshot.Clone()
	return out
}
