package runs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/faultsim/internal/kv"
	"github.com/miradorstack/faultsim/internal/models"
	"github.com/miradorstack/faultsim/internal/utils"
)

func TestEnsureDemoRunCreatesOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	catalog := NewCatalog(kv.NewMemoryBackend(), utils.NopLogger(), func() time.Time { return now })

	notified := 0
	catalog.Subscribe(func() { notified++ })

	first, err := catalog.EnsureDemoRun(ctx)
	if err != nil {
		t.Fatalf("ensure demo run: %v", err)
	}
	if !strings.HasPrefix(first.ID, "mock-run-demo-") {
		t.Fatalf("unexpected id %q", first.ID)
	}
	if first.Status != DemoStatus || first.Mode != DemoMode || first.SamplingHz != 1 {
		t.Fatalf("unexpected demo run %+v", first)
	}

	second, err := catalog.EnsureDemoRun(ctx)
	if err != nil {
		t.Fatalf("ensure demo run: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected existing run to be reused")
	}
	if len(catalog.List(ctx)) != 1 || notified != 1 {
		t.Fatalf("expected one run and one notification, got %d runs %d notifications", len(catalog.List(ctx)), notified)
	}
}

func TestTelemetryModeDefaultsToMock(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemoryBackend()
	catalog := NewCatalog(backend, utils.NopLogger(), nil)

	if got := catalog.Mode(ctx, "robot-1"); got != models.ModeMock {
		t.Fatalf("expected mock default, got %s", got)
	}
	if err := catalog.SetMode(ctx, "robot-1", models.ModeReal); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if got := catalog.Mode(ctx, "robot-1"); got != models.ModeReal {
		t.Fatalf("expected real, got %s", got)
	}
	if err := catalog.SetMode(ctx, "robot-1", "hybrid"); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected unknown mode to be rejected, got %v", err)
	}

	if err := backend.Set(ctx, ModesKey, []byte("not-json"), 0); err != nil {
		t.Fatalf("seed corrupt data: %v", err)
	}
	if got := catalog.Mode(ctx, "robot-1"); got != models.ModeMock {
		t.Fatalf("expected corrupt data to fall back to mock, got %s", got)
	}
}
