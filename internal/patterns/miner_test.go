package patterns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/faultsim/internal/kv"
	"github.com/miradorstack/faultsim/internal/models"
	"github.com/miradorstack/faultsim/internal/utils"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func injection(id, robot string, ft models.FaultType, start time.Time, seconds int) models.FaultInjection {
	return models.FaultInjection{
		ID:               id,
		RunID:            "run-1",
		RobotID:          robot,
		TemplateSnapshot: models.FaultTemplate{FaultType: ft, DurationSeconds: seconds},
		StartTs:          start,
		EndTs:            start.Add(time.Duration(seconds) * time.Second),
	}
}

func alarm(robot string, metric models.Metric, detector string, score float64, at time.Time) models.Alarm {
	return models.Alarm{RobotID: robot, Metric: metric, Detector: detector, Score: score, Timestamp: at}
}

func TestMinerAttributesAlarmsToActiveInjections(t *testing.T) {
	var stored models.RunSignatures
	miner := NewMiner(utils.NopLogger(), StoreFunc(func(_ context.Context, run models.RunSignatures) error {
		stored = run
		return nil
	}))

	injections := []models.FaultInjection{
		injection("a", "robot-a", models.FaultOverheat, epoch, 120),
		injection("b", "robot-a", models.FaultOverheat, epoch.Add(10*time.Minute), 120),
		injection("c", "robot-a", models.FaultCurrentSpike, epoch.Add(20*time.Minute), 60),
	}
	alarms := []models.Alarm{
		alarm("robot-a", models.MetricTemperature, "THRESHOLD", 0.4, epoch.Add(60*time.Second)),
		alarm("robot-a", models.MetricTemperature, "THRESHOLD", 0.6, epoch.Add(90*time.Second)),
		alarm("robot-a", models.MetricTemperature, "Z_SCORE", 4, epoch.Add(100*time.Second)),
		alarm("robot-b", models.MetricTemperature, "THRESHOLD", 1, epoch.Add(60*time.Second)),
		alarm("robot-a", models.MetricCurrent, "Z_SCORE", 6, epoch.Add(20*time.Minute+5*time.Second)),
		alarm("robot-a", models.MetricCurrent, "Z_SCORE", 6, epoch.Add(5*time.Minute)),
	}

	run, err := miner.Mine(context.Background(), "run-1", injections, alarms)
	if err != nil {
		t.Fatalf("mine: %v", err)
	}
	if stored.RunID != "run-1" {
		t.Fatalf("expected signatures to be stored")
	}
	if len(run.Signatures) != 2 {
		t.Fatalf("expected two fault types, got %d", len(run.Signatures))
	}
	if run.Unattributed != 2 {
		t.Fatalf("expected robot-b and the idle alarm to be unattributed, got %d", run.Unattributed)
	}

	spike, overheat := run.Signatures[0], run.Signatures[1]
	if spike.FaultType != models.FaultCurrentSpike || spike.Recall != 1 {
		t.Fatalf("unexpected first signature %+v", spike)
	}
	if overheat.Injections != 2 || overheat.Detected != 1 || overheat.Recall != 0.5 {
		t.Fatalf("unexpected overheat signature %+v", overheat)
	}
	top := overheat.Evidence[0]
	if top.Metric != models.MetricTemperature || top.Detector != "THRESHOLD" || top.Count != 2 || top.MeanScore != 0.5 {
		t.Fatalf("unexpected top evidence %+v", top)
	}
	if !overheat.LastSeen.Equal(epoch.Add(100 * time.Second)) {
		t.Fatalf("unexpected last seen %v", overheat.LastSeen)
	}
}

func TestMinerToleratesStoreFailure(t *testing.T) {
	miner := NewMiner(utils.NopLogger(), StoreFunc(func(context.Context, models.RunSignatures) error {
		return errors.New("disk full")
	}))
	run, err := miner.Mine(context.Background(), "run-1",
		[]models.FaultInjection{injection("a", "r", models.FaultSensorDrift, epoch, 60)}, nil)
	if err != nil {
		t.Fatalf("store failures must not fail mining: %v", err)
	}
	if len(run.Signatures) != 1 || run.Signatures[0].Recall != 0 {
		t.Fatalf("unexpected signatures %+v", run.Signatures)
	}
}

func TestKVStoreReplacesRun(t *testing.T) {
	ctx := context.Background()
	store := NewKVStore(kv.NewMemoryBackend(), utils.NopLogger())

	if err := store.StoreSignatures(ctx, models.RunSignatures{RunID: "run-1", Unattributed: 1}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.StoreSignatures(ctx, models.RunSignatures{RunID: "run-1", Unattributed: 3}); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, ok := store.Get(ctx, "run-1")
	if !ok || got.Unattributed != 3 {
		t.Fatalf("expected replaced run, got %+v %v", got, ok)
	}
	if _, ok := store.Get(ctx, "run-2"); ok {
		t.Fatalf("unexpected run-2")
	}
}
