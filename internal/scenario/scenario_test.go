package scenario

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/miradorstack/faultsim/internal/faults"
	"github.com/miradorstack/faultsim/internal/kv"
	"github.com/miradorstack/faultsim/internal/models"
	"github.com/miradorstack/faultsim/internal/utils"
)

const overheatPlan = `
name: hot-joint
seed: 7
start: 2024-05-01T12:00:00Z
durationSeconds: 120
robots: [robot-a, robot-b]
faults:
  - robotId: robot-a
    templateIds: [builtin-overheat-high]
`

type alarmRecorder struct {
	calls int
}

func (a *alarmRecorder) Evaluate(robotID string, metric models.Metric, series []models.Point) []models.Alarm {
	a.calls++
	return []models.Alarm{{RobotID: robotID, Metric: metric, Value: series[len(series)-1].Value}}
}

func newRunner(alarms AlarmEvaluator) *Runner {
	registry := faults.NewRegistry(kv.NewMemoryBackend(), faults.WithLogger(utils.NopLogger()))
	return NewRunner(utils.NopLogger(), registry, nil, alarms)
}

func collect(t *testing.T, r *Runner, plan Plan) ([]Sample, Result) {
	t.Helper()
	var samples []Sample
	res, err := r.Run(context.Background(), plan, func(s Sample) error {
		samples = append(samples, s)
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return samples, res
}

func TestParsePlanDefaults(t *testing.T) {
	plan, err := ParsePlan([]byte(overheatPlan))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if plan.RunID != "offline-hot-joint" {
		t.Fatalf("unexpected run id %q", plan.RunID)
	}
	if plan.Interval() != time.Second {
		t.Fatalf("unexpected interval %v", plan.Interval())
	}
	if !plan.End().Equal(time.Date(2024, 5, 1, 12, 2, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end %v", plan.End())
	}
}

func TestParsePlanRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no duration":   "robots: [a]",
		"no robots":     "durationSeconds: 10",
		"unknown robot": "durationSeconds: 10\nrobots: [a]\nfaults:\n  - robotId: b\n    templateIds: [x]",
		"no templates":  "durationSeconds: 10\nrobots: [a]\nfaults:\n  - robotId: a",
		"negative gap":  "durationSeconds: 10\nrobots: [a]\nfaults:\n  - robotId: a\n    templateIds: [x]\n    gapSeconds: -1",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParsePlan([]byte(doc)); !errors.Is(err, ErrInvalidPlan) {
				t.Fatalf("expected ErrInvalidPlan, got %v", err)
			}
		})
	}
}

func TestRunIsDeterministic(t *testing.T) {
	plan, err := ParsePlan([]byte(overheatPlan))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	first, res := collect(t, newRunner(nil), plan)
	second, _ := collect(t, newRunner(nil), plan)

	if res.Samples != 2*121 || len(first) != res.Samples {
		t.Fatalf("unexpected sample count %d", res.Samples)
	}
	for i := range first {
		if first[i].Frame != second[i].Frame {
			t.Fatalf("sample %d differs: %+v vs %+v", i, first[i].Frame, second[i].Frame)
		}
	}
	if len(res.Injections) != 1 || res.Injections[0].RunID != "offline-hot-joint" {
		t.Fatalf("unexpected injections %+v", res.Injections)
	}
}

func TestRunOverlaysFaultOnTargetRobotOnly(t *testing.T) {
	plan, err := ParsePlan([]byte(overheatPlan))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	withFault, _ := collect(t, newRunner(nil), plan)
	plan.Faults = nil
	baseline, _ := collect(t, newRunner(nil), plan)

	// samples alternate robot-a, robot-b; index 120 is robot-a at t=60s
	hot, cold := withFault[120], baseline[120]
	if hot.RobotID != "robot-a" || len(hot.Active) != 1 {
		t.Fatalf("unexpected sample %+v", hot)
	}
	if diff := hot.Frame.Temperature - cold.Frame.Temperature; diff < 20 || diff > 25 {
		t.Fatalf("expected overheat offset near 23.76, got %v", diff)
	}
	if diff := hot.Frame.Current - cold.Frame.Current; math.Abs(diff-0.6) > 1e-3 {
		t.Fatalf("expected overheat to raise current by 0.6, got %v", diff)
	}
	if withFault[121].Frame != baseline[121].Frame {
		t.Fatalf("robot-b must be unaffected")
	}
}

func TestRunUnknownTemplate(t *testing.T) {
	plan, _ := ParsePlan([]byte(overheatPlan))
	plan.Faults[0].TemplateIDs = []string{"missing"}
	_, err := newRunner(nil).Run(context.Background(), plan, nil)
	if !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("expected ErrInvalidPlan, got %v", err)
	}
}

func TestRunStopsOnEmitError(t *testing.T) {
	plan, _ := ParsePlan([]byte(overheatPlan))
	stop := errors.New("sink closed")
	n := 0
	_, err := newRunner(nil).Run(context.Background(), plan, func(Sample) error {
		n++
		if n == 3 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || n != 3 {
		t.Fatalf("expected to stop after third sample, got %v after %d", err, n)
	}
}

func TestRunEvaluatesAlarms(t *testing.T) {
	plan, _ := ParsePlan([]byte(overheatPlan))
	rec := &alarmRecorder{}
	_, res := collect(t, newRunner(rec), plan)
	if rec.calls != len(plan.Robots)*len(models.AllMetrics) || len(res.Alarms) != rec.calls {
		t.Fatalf("unexpected alarm evaluation: calls=%d alarms=%d", rec.calls, len(res.Alarms))
	}
}

func TestRunDetectsPeriodically(t *testing.T) {
	plan, _ := ParsePlan([]byte(overheatPlan + "detectEverySeconds: 30\n"))
	rec := &alarmRecorder{}
	collect(t, newRunner(rec), plan)
	// 121 ticks: evaluations after ticks 30, 60, 90, 120 plus the final one
	if want := 5 * len(plan.Robots) * len(models.AllMetrics); rec.calls != want {
		t.Fatalf("expected %d evaluations, got %d", want, rec.calls)
	}
}
