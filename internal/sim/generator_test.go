package sim

import (
	"context"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/miradorstack/faultsim/internal/models"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func temperatureConfig(seed uint32) GeneratorConfig {
	return GeneratorConfig{
		Metric:     models.MetricTemperature,
		StartValue: 40,
		Min:        20,
		Max:        90,
		Noise:      0.5,
		Trend:      0.05,
		Period:     300 * time.Second,
		Interval:   time.Second,
		MaxPoints:  600,
		Seed:       seed,
	}
}

func mustGenerator(t *testing.T, cfg GeneratorConfig) *Generator {
	t.Helper()
	gen, err := NewGenerator(cfg, fixedClock(epoch))
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	return gen
}

func stepSeconds(gen *Generator, n int) {
	for i := 0; i < n; i++ {
		gen.Step(epoch.Add(time.Duration(i) * time.Second))
	}
}

func TestRNGIsReproducible(t *testing.T) {
	a, b := newRNG(42), newRNG(42)
	for i := 0; i < 1000; i++ {
		x, y := a.next(), b.next()
		if x != y {
			t.Fatalf("sample %d diverged: %v vs %v", i, x, y)
		}
		if x < 0 || x >= 1 {
			t.Fatalf("sample %d out of range: %v", i, x)
		}
	}
	if newRNG(1).next() == newRNG(2).next() {
		t.Fatalf("expected different seeds to differ")
	}
}

func TestRNGKnownSequence(t *testing.T) {
	// mulberry32(0) first output.
	r := newRNG(0)
	got := r.next()
	want := 1144304738.0 / 4294967296
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestGeneratorDeterminism(t *testing.T) {
	a := mustGenerator(t, temperatureConfig(42))
	b := mustGenerator(t, temperatureConfig(42))
	stepSeconds(a, 200)
	stepSeconds(b, 200)

	if !reflect.DeepEqual(a.Series(), b.Series()) {
		t.Fatalf("expected identical series for identical seeds")
	}

	c := mustGenerator(t, temperatureConfig(43))
	stepSeconds(c, 200)
	if reflect.DeepEqual(a.Series(), c.Series()) {
		t.Fatalf("expected different seeds to produce different series")
	}
}

func TestGeneratorSetSeedReplacesStream(t *testing.T) {
	a := mustGenerator(t, temperatureConfig(7))
	b := mustGenerator(t, temperatureConfig(99))
	b.SetSeed(7)
	stepSeconds(a, 50)
	stepSeconds(b, 50)
	if !reflect.DeepEqual(a.Series(), b.Series()) {
		t.Fatalf("expected SetSeed to reproduce the seeded stream")
	}
}

func TestGeneratorClampsWithOverlay(t *testing.T) {
	for _, delta := range []float64{1000, -1000} {
		gen := mustGenerator(t, temperatureConfig(1))
		gen.SetFaultEffects([]models.FaultInjection{{
			StartTs: epoch,
			EndTs:   epoch.Add(time.Hour),
			TemplateSnapshot: models.FaultTemplate{
				FaultType: models.FaultCustom,
				Params:    map[string]any{"temperatureDelta": delta},
			},
		}})
		stepSeconds(gen, 100)
		for _, p := range gen.Series() {
			if p.Value < 20 || p.Value > 90 {
				t.Fatalf("value %v escaped [20, 90] with delta %v", p.Value, delta)
			}
		}
	}
}

func TestGeneratorRoundsToFourDecimals(t *testing.T) {
	gen := mustGenerator(t, temperatureConfig(5))
	stepSeconds(gen, 20)
	for _, p := range gen.Series() {
		scaled := p.Value * 1e4
		if math.Abs(scaled-math.Round(scaled)) > 1e-6 {
			t.Fatalf("value %v has more than four decimals", p.Value)
		}
	}
}

func TestGeneratorEvictsOldestPoints(t *testing.T) {
	cfg := temperatureConfig(3)
	cfg.MaxPoints = 5
	gen := mustGenerator(t, cfg)
	stepSeconds(gen, 12)

	series := gen.Series()
	if len(series) != 5 {
		t.Fatalf("expected 5 points, got %d", len(series))
	}
	if !series[0].Timestamp.Equal(epoch.Add(7 * time.Second)) {
		t.Fatalf("expected oldest retained point at +7s, got %v", series[0].Timestamp)
	}

	series[0].Value = -1
	if gen.Series()[0].Value == -1 {
		t.Fatalf("Series must return a copy")
	}
}

func TestGeneratorStartBackfillsOnce(t *testing.T) {
	cfg := temperatureConfig(11)
	cfg.MaxPoints = 50
	gen := mustGenerator(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen.Start(ctx)
	defer gen.Stop()

	series := gen.Series()
	if len(series) != 50 {
		t.Fatalf("expected back-fill capped at 50 points, got %d", len(series))
	}
	if !series[len(series)-1].Timestamp.Equal(epoch) {
		t.Fatalf("expected back-fill to end at now, got %v", series[len(series)-1].Timestamp)
	}
	if !gen.Running() {
		t.Fatalf("expected generator to run")
	}

	gen.Start(ctx)
	if got := len(gen.Series()); got != 50 {
		t.Fatalf("second Start must not reset buffer, got %d points", got)
	}

	gen.Stop()
	gen.Stop()
	if gen.Running() {
		t.Fatalf("expected generator stopped")
	}
}

func TestGeneratorBackfillUsesLookbackWindow(t *testing.T) {
	cfg := temperatureConfig(11)
	cfg.Interval = 10 * time.Second
	gen := mustGenerator(t, cfg)
	gen.Start(context.Background())
	defer gen.Stop()

	if got := len(gen.Series()); got != 12 {
		t.Fatalf("expected 120s/10s = 12 back-filled points, got %d", got)
	}
}

func TestGeneratorUpdateParams(t *testing.T) {
	gen := mustGenerator(t, temperatureConfig(1))

	bad := 10.0
	if err := gen.UpdateParams(GeneratorPatch{Max: &bad}); err == nil {
		t.Fatalf("expected max below min to be rejected")
	}

	noise := 0.0
	trend := 0.0
	if err := gen.UpdateParams(GeneratorPatch{Noise: &noise, Trend: &trend}); err != nil {
		t.Fatalf("update params: %v", err)
	}
	gen.Step(epoch)
	p := gen.Step(epoch)
	if math.Abs(p.Value-40) > 1e-9 {
		t.Fatalf("expected noiseless, trendless signal to stay at 40, got %v", p.Value)
	}
}

func TestNewGeneratorValidation(t *testing.T) {
	cfg := temperatureConfig(1)
	cfg.Metric = "pressure"
	if _, err := NewGenerator(cfg, nil); err == nil {
		t.Fatalf("expected unknown metric to be rejected")
	}
	cfg = temperatureConfig(1)
	cfg.Min, cfg.Max = 50, 10
	if _, err := NewGenerator(cfg, nil); err == nil {
		t.Fatalf("expected inverted bounds to be rejected")
	}
}

func TestOverheatOverlayEndToEnd(t *testing.T) {
	overheat := models.FaultInjection{
		StartTs: epoch,
		EndTs:   epoch.Add(120 * time.Second),
		TemplateSnapshot: models.FaultTemplate{
			FaultType:       models.FaultOverheat,
			DurationSeconds: 120,
			Params:          map[string]any{"deltaC": 25.0, "rampSeconds": 20.0},
		},
	}

	faulted := mustGenerator(t, temperatureConfig(42))
	faulted.SetFaultEffects([]models.FaultInjection{overheat})
	baseline := mustGenerator(t, temperatureConfig(42))

	var withFault, without models.Point
	for i := 0; i <= 20; i++ {
		now := epoch.Add(time.Duration(i) * time.Second)
		withFault = faulted.Step(now)
		without = baseline.Step(now)
	}

	delta := withFault.Value - without.Value
	want := 25 * (1 - math.Exp(-3))
	if math.Abs(delta-want) > 2e-4 {
		t.Fatalf("expected overlay %.4f at +20s, got %.4f", want, delta)
	}
}
