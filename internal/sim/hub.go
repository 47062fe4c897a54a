package sim

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/faultsim/internal/metrics"
	"github.com/miradorstack/faultsim/internal/models"
	"github.com/miradorstack/faultsim/internal/utils"
)

// InjectionSource supplies a robot's injections and signals changes.
type InjectionSource interface {
	ListByRobot(ctx context.Context, robotID string) []models.FaultInjection
	Subscribe(fn func()) func()
}

// Profile is the signal shape of one metric.
type Profile struct {
	StartValue float64
	Min        float64
	Max        float64
	Noise      float64
	Trend      float64
	Period     time.Duration
}

// HubConfig configures every generator the hub creates.
type HubConfig struct {
	Seed      uint32
	Interval  time.Duration
	MaxPoints int
	Lookback  time.Duration
	Profiles  map[models.Metric]Profile
}

// DefaultProfiles returns the stock signal shapes for a robot joint.
func DefaultProfiles() map[models.Metric]Profile {
	return map[models.Metric]Profile{
		models.MetricCurrent:     {StartValue: 5, Min: 0, Max: 20, Noise: 0.15, Trend: 0.05, Period: 300 * time.Second},
		models.MetricVibration:   {StartValue: 1.2, Min: 0, Max: 10, Noise: 0.05, Trend: 0.05, Period: 300 * time.Second},
		models.MetricTemperature: {StartValue: 40, Min: 20, Max: 90, Noise: 0.5, Trend: 0.05, Period: 300 * time.Second},
	}
}

// Hub owns the generators of every simulated robot and keeps their fault
// effects in sync with the injection store.
type Hub struct {
	cfg    HubConfig
	source InjectionSource
	logger *slog.Logger
	clock  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	robots map[string]map[models.Metric]*Generator
	closed bool

	latency     *utils.LatencyTracker
	unsubscribe func()
}

// NewHub creates a hub and subscribes it to injection changes.
func NewHub(logger *slog.Logger, cfg HubConfig, source InjectionSource, clock func() time.Time) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = DefaultProfiles()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:     cfg,
		source:  source,
		logger:  logger,
		clock:   clock,
		ctx:     ctx,
		cancel:  cancel,
		robots:  make(map[string]map[models.Metric]*Generator),
		latency: utils.NewLatencyTracker(1024),
	}
	if source != nil {
		h.unsubscribe = source.Subscribe(h.refreshAll)
	}
	return h
}

// Series returns the buffer of a robot metric, starting the robot's
// generators on first use.
func (h *Hub) Series(robotID string, metric models.Metric) ([]models.Point, error) {
	gens, err := h.ensure(robotID)
	if err != nil {
		return nil, err
	}
	gen, ok := gens[metric]
	if !ok {
		return nil, utils.NewAppError("sim.series", "no generator for metric "+string(metric), nil)
	}
	return gen.Series(), nil
}

// Frame returns the latest value of every metric of a robot.
func (h *Hub) Frame(robotID string) (models.Frame, error) {
	gens, err := h.ensure(robotID)
	if err != nil {
		return models.Frame{}, err
	}
	var frame models.Frame
	for metric, gen := range gens {
		if p, ok := gen.Latest(); ok {
			frame.Set(metric, p.Value)
		}
	}
	return frame, nil
}

// Generator returns a robot's generator, starting the robot on first use.
func (h *Hub) Generator(robotID string, metric models.Metric) (*Generator, error) {
	gens, err := h.ensure(robotID)
	if err != nil {
		return nil, err
	}
	gen, ok := gens[metric]
	if !ok {
		return nil, utils.NewAppError("sim.generator", "no generator for metric "+string(metric), nil)
	}
	return gen, nil
}

// Tune merges patch into a robot's generator and, when seed is set, restarts its
// random stream. It returns the latest emitted point.
func (h *Hub) Tune(robotID string, metric models.Metric, seed *uint32, patch GeneratorPatch) (models.Point, error) {
	gen, err := h.Generator(robotID, metric)
	if err != nil {
		return models.Point{}, err
	}
	if err := gen.UpdateParams(patch); err != nil {
		return models.Point{}, utils.NewAppError("sim.tune", robotID+"/"+string(metric), err)
	}
	if seed != nil {
		gen.SetSeed(*seed)
	}
	h.logger.Info("generator tuned", slog.String("robotId", robotID), slog.String("metric", string(metric)))
	latest, _ := gen.Latest()
	return latest, nil
}

// Robots lists robots with running generators.
func (h *Hub) Robots() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.robots))
	for id := range h.robots {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// TickLatency returns the p50 and p95 tick compute time.
func (h *Hub) TickLatency() (p50, p95 time.Duration) {
	return h.latency.Percentile(50), h.latency.Percentile(95)
}

// Refresh reloads the injections of one robot into its generators.
func (h *Hub) Refresh(robotID string) {
	h.mu.RLock()
	gens := h.robots[robotID]
	h.mu.RUnlock()
	if gens == nil || h.source == nil {
		return
	}
	effects := h.source.ListByRobot(h.ctx, robotID)
	for _, gen := range gens {
		gen.SetFaultEffects(effects)
	}
}

// Close stops every generator and detaches from the injection source.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	robots := h.robots
	h.robots = make(map[string]map[models.Metric]*Generator)
	h.mu.Unlock()

	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.cancel()
	for _, gens := range robots {
		for _, gen := range gens {
			gen.Stop()
		}
	}
	metrics.SetGenerators(0)
}

func (h *Hub) refreshAll() {
	for _, robotID := range h.Robots() {
		h.Refresh(robotID)
	}
}

func (h *Hub) ensure(robotID string) (map[models.Metric]*Generator, error) {
	h.mu.RLock()
	gens, ok := h.robots[robotID]
	closed := h.closed
	h.mu.RUnlock()
	if ok {
		return gens, nil
	}
	if closed {
		return nil, utils.NewAppError("sim.hub", "hub closed", context.Canceled)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if gens, ok := h.robots[robotID]; ok {
		return gens, nil
	}

	var effects []models.FaultInjection
	if h.source != nil {
		effects = h.source.ListByRobot(h.ctx, robotID)
	}

	gens = make(map[models.Metric]*Generator, len(h.cfg.Profiles))
	for metric, profile := range h.cfg.Profiles {
		gen, err := NewGenerator(GeneratorConfig{
			Metric:     metric,
			StartValue: profile.StartValue,
			Min:        profile.Min,
			Max:        profile.Max,
			Noise:      profile.Noise,
			Trend:      profile.Trend,
			Period:     profile.Period,
			Interval:   h.cfg.Interval,
			MaxPoints:  h.cfg.MaxPoints,
			Lookback:   h.cfg.Lookback,
			Seed:       DeriveSeed(h.cfg.Seed, robotID, metric),
		}, h.clock)
		if err != nil {
			for _, started := range gens {
				started.Stop()
			}
			return nil, utils.NewAppError("sim.hub", "create generator for "+robotID, err)
		}
		gen.onTick = h.latency.Observe
		gen.SetFaultEffects(effects)
		gen.Start(h.ctx)
		gens[metric] = gen
	}
	h.robots[robotID] = gens
	metrics.SetGenerators(h.countLocked())
	h.logger.Info("started robot generators", slog.String("robotId", robotID), slog.Int("metrics", len(gens)))
	return gens, nil
}

func (h *Hub) countLocked() int {
	n := 0
	for _, gens := range h.robots {
		n += len(gens)
	}
	return n
}

// DeriveSeed mixes the base seed with robot and metric so every generator has
// its own stable stream.
func DeriveSeed(base uint32, robotID string, metric models.Metric) uint32 {
	h := fnv.New32a()
	h.Write([]byte(robotID))
	h.Write([]byte{0})
	h.Write([]byte(metric))
	return base ^ h.Sum32()
}
