// Package sim synthesizes seeded telemetry series and overlays active faults.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/miradorstack/faultsim/internal/faults"
	"github.com/miradorstack/faultsim/internal/metrics"
	"github.com/miradorstack/faultsim/internal/models"
	"github.com/miradorstack/faultsim/internal/utils"
)

const (
	periodicAmplitude = 0.1
	precision         = 1e4

	// DefaultLookback is the history back-filled by Start.
	DefaultLookback = 120 * time.Second
	// DefaultPeriod is the cycle length of the periodic component.
	DefaultPeriod = 300 * time.Second
	// DefaultInterval is the tick spacing.
	DefaultInterval = time.Second
	// DefaultMaxPoints bounds the series buffer.
	DefaultMaxPoints = 600
)

// ErrInvalidParams marks a rejected generator configuration.
var ErrInvalidParams = errors.New("invalid generator parameters")

// GeneratorConfig describes one metric's synthetic signal.
type GeneratorConfig struct {
	Metric     models.Metric
	StartValue float64
	Min        float64
	Max        float64
	Noise      float64
	Trend      float64
	Period     time.Duration
	Interval   time.Duration
	MaxPoints  int
	Lookback   time.Duration
	Seed       uint32
}

// GeneratorPatch updates a subset of the live configuration.
type GeneratorPatch struct {
	Min       *float64
	Max       *float64
	Noise     *float64
	Trend     *float64
	Period    *time.Duration
	Interval  *time.Duration
	MaxPoints *int
}

// Generator produces a bounded, reproducible series for a single metric.
type Generator struct {
	mu      sync.Mutex
	cfg     GeneratorConfig
	rng     *rng
	value   float64
	origin  time.Time
	series  []models.Point
	effects []models.FaultInjection

	now    func() time.Time
	onTick func(time.Duration)

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewGenerator validates cfg, applies defaults and returns a stopped generator.
// A nil clock means time.Now.
func NewGenerator(cfg GeneratorConfig, clock func() time.Time) (*Generator, error) {
	if clock == nil {
		clock = time.Now
	}
	applyGeneratorDefaults(&cfg)
	if err := validateGeneratorConfig(cfg); err != nil {
		return nil, err
	}
	return &Generator{
		cfg:    cfg,
		rng:    newRNG(cfg.Seed),
		value:  cfg.StartValue,
		origin: clock(),
		now:    clock,
	}, nil
}

// Start resets the buffer and elapsed origin to now, back-fills the look-back
// window and ticks every interval until Stop or ctx cancellation. Calling
// Start on a running generator does nothing.
func (g *Generator) Start(ctx context.Context) {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return
	}
	now := g.now()
	g.origin = now
	g.series = g.series[:0]

	n := int(g.cfg.Lookback / g.cfg.Interval)
	if n > g.cfg.MaxPoints {
		n = g.cfg.MaxPoints
	}
	for i := 0; i < n; i++ {
		g.stepLocked(now.Add(-time.Duration(n-1-i) * g.cfg.Interval))
	}

	runCtx, cancel := context.WithCancel(ctx)
	g.running = true
	g.cancel = cancel
	g.done = make(chan struct{})
	interval := g.cfg.Interval
	done := g.done
	g.mu.Unlock()

	go g.loop(runCtx, interval, done)
}

// Stop halts periodic ticking and waits for an in-flight tick to finish.
func (g *Generator) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	cancel, done := g.cancel, g.done
	g.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether periodic ticking is active.
func (g *Generator) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Step performs one tick at now and returns the appended point.
func (g *Generator) Step(now time.Time) models.Point {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stepLocked(now)
}

// Series returns a copy of the buffer.
func (g *Generator) Series() []models.Point {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.Point(nil), g.series...)
}

// Latest returns the newest point, if any.
func (g *Generator) Latest() (models.Point, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.series) == 0 {
		return models.Point{}, false
	}
	return g.series[len(g.series)-1], true
}

// Metric returns the metric this generator synthesizes.
func (g *Generator) Metric() models.Metric {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.Metric
}

// SetSeed replaces the RNG state. The current value and buffer are kept.
func (g *Generator) SetSeed(seed uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg.Seed = seed
	g.rng = newRNG(seed)
}

// UpdateParams merges patch into the live configuration. Interval changes take
// effect on the next Start.
func (g *Generator) UpdateParams(patch GeneratorPatch) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := g.cfg
	if patch.Min != nil {
		next.Min = *patch.Min
	}
	if patch.Max != nil {
		next.Max = *patch.Max
	}
	if patch.Noise != nil {
		next.Noise = *patch.Noise
	}
	if patch.Trend != nil {
		next.Trend = *patch.Trend
	}
	if patch.Period != nil {
		next.Period = *patch.Period
	}
	if patch.Interval != nil {
		next.Interval = *patch.Interval
	}
	if patch.MaxPoints != nil {
		next.MaxPoints = *patch.MaxPoints
	}
	if err := validateGeneratorConfig(next); err != nil {
		return err
	}
	g.cfg = next
	return nil
}

// SetFaultEffects replaces the injections considered by the overlay.
func (g *Generator) SetFaultEffects(effects []models.FaultInjection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.effects = append(g.effects[:0], effects...)
}

func (g *Generator) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			g.mu.Lock()
			g.running = false
			g.mu.Unlock()
			return
		case <-ticker.C:
			g.Step(g.now())
		}
	}
}

func (g *Generator) stepLocked(now time.Time) models.Point {
	began := time.Now()
	cfg := g.cfg

	elapsed := utils.SecondsSince(g.origin, now)
	mid := (cfg.Min + cfg.Max) / 2
	trend := (mid - g.value) * cfg.Trend
	periodic := math.Sin(2*math.Pi*elapsed/cfg.Period.Seconds()) * periodicAmplitude
	noise := g.rng.gaussian() * cfg.Noise

	g.value = clampValue(g.value+trend+periodic+noise, cfg.Min, cfg.Max)
	overlay := faults.Overlay(cfg.Metric, g.effects, now)
	point := models.Point{
		Timestamp: now,
		Value:     math.Round(clampValue(g.value+overlay, cfg.Min, cfg.Max)*precision) / precision,
	}

	g.series = append(g.series, point)
	if over := len(g.series) - cfg.MaxPoints; over > 0 {
		g.series = append(g.series[:0], g.series[over:]...)
	}

	took := time.Since(began)
	metrics.ObserveTick(string(cfg.Metric), took)
	if g.onTick != nil {
		g.onTick(took)
	}
	return point
}

func applyGeneratorDefaults(cfg *GeneratorConfig) {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxPoints <= 0 {
		cfg.MaxPoints = DefaultMaxPoints
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
}

func validateGeneratorConfig(cfg GeneratorConfig) error {
	if _, err := models.ParseMetric(string(cfg.Metric)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if math.IsNaN(cfg.Min) || math.IsNaN(cfg.Max) || cfg.Min > cfg.Max {
		return fmt.Errorf("%w: generator %s: min %v exceeds max %v", ErrInvalidParams, cfg.Metric, cfg.Min, cfg.Max)
	}
	if cfg.Period <= 0 || cfg.Interval <= 0 || cfg.MaxPoints <= 0 {
		return fmt.Errorf("%w: generator %s: period, interval and maxPoints must be positive", ErrInvalidParams, cfg.Metric)
	}
	if cfg.Noise < 0 || math.IsNaN(cfg.Noise) {
		return fmt.Errorf("%w: generator %s: negative noise %v", ErrInvalidParams, cfg.Metric, cfg.Noise)
	}
	return nil
}

func clampValue(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
