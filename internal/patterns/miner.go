// Package patterns mines fault signatures: which detectors fire, on which
// metrics, while each fault type is active.
package patterns

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/miradorstack/faultsim/internal/models"
)

// Store abstracts persistence for mined signatures.
type Store interface {
	StoreSignatures(ctx context.Context, run models.RunSignatures) error
}

// Miner correlates alarms with the injections active when they were raised.
type Miner struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(logger *slog.Logger, store Store) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{store: store, logger: logger, now: time.Now}
}

// Mine aggregates alarms per fault type. An alarm counts towards every
// injection on the same robot whose window contains the alarm timestamp.
func (m *Miner) Mine(ctx context.Context, runID string, injections []models.FaultInjection, alarms []models.Alarm) (models.RunSignatures, error) {
	run := models.RunSignatures{RunID: runID, MinedAt: m.now()}
	if len(injections) == 0 && len(alarms) == 0 {
		return run, nil
	}

	stats := make(map[models.FaultType]*faultAggregate)
	attributed := make([]bool, len(alarms))
	for _, inj := range injections {
		agg := ensureAggregate(stats, inj.TemplateSnapshot.FaultType)
		agg.injections++
		hit := false
		for i, alarm := range alarms {
			if alarm.RobotID != inj.RobotID || !inj.ActiveAt(alarm.Timestamp) {
				continue
			}
			hit = true
			attributed[i] = true
			key := evidenceKey{metric: alarm.Metric, detector: alarm.Detector}
			agg.counts[key]++
			agg.scores[key] += alarm.Score
			if alarm.Timestamp.After(agg.lastSeen) {
				agg.lastSeen = alarm.Timestamp
			}
		}
		if hit {
			agg.detected++
		}
	}
	for _, ok := range attributed {
		if !ok {
			run.Unattributed++
		}
	}

	run.Signatures = make([]models.FaultSignature, 0, len(stats))
	for faultType, agg := range stats {
		sig := models.FaultSignature{
			ID:         "signature-" + string(faultType),
			FaultType:  faultType,
			Injections: agg.injections,
			Detected:   agg.detected,
			Recall:     float64(agg.detected) / float64(agg.injections),
			LastSeen:   agg.lastSeen,
		}
		for _, key := range agg.topEvidence(3) {
			sig.Evidence = append(sig.Evidence, models.MetricEvidence{
				Metric:    key.metric,
				Detector:  key.detector,
				Count:     agg.counts[key],
				MeanScore: agg.scores[key] / float64(agg.counts[key]),
			})
		}
		run.Signatures = append(run.Signatures, sig)
	}

	sort.Slice(run.Signatures, func(i, j int) bool {
		if run.Signatures[i].Recall != run.Signatures[j].Recall {
			return run.Signatures[i].Recall > run.Signatures[j].Recall
		}
		return run.Signatures[i].FaultType < run.Signatures[j].FaultType
	})

	if m.store != nil {
		if err := m.store.StoreSignatures(ctx, run); err != nil {
			m.logger.Warn("signature store failed", slog.String("runId", runID), slog.Any("error", err))
		}
	}
	return run, nil
}

type evidenceKey struct {
	metric   models.Metric
	detector string
}

type faultAggregate struct {
	injections int
	detected   int
	lastSeen   time.Time
	counts     map[evidenceKey]int
	scores     map[evidenceKey]float64
}

func ensureAggregate(m map[models.FaultType]*faultAggregate, faultType models.FaultType) *faultAggregate {
	if faultType == "" {
		faultType = models.FaultCustom
	}
	agg, ok := m[faultType]
	if !ok {
		agg = &faultAggregate{
			counts: make(map[evidenceKey]int),
			scores: make(map[evidenceKey]float64),
		}
		m[faultType] = agg
	}
	return agg
}

func (agg *faultAggregate) topEvidence(limit int) []evidenceKey {
	keys := make([]evidenceKey, 0, len(agg.counts))
	for key := range agg.counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := agg.counts[keys[i]], agg.counts[keys[j]]
		if ci != cj {
			return ci > cj
		}
		if keys[i].metric != keys[j].metric {
			return keys[i].metric < keys[j].metric
		}
		return keys[i].detector < keys[j].detector
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}
