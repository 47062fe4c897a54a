package patterns

import (
	"context"
	"log/slog"

	"github.com/miradorstack/faultsim/internal/kv"
	"github.com/miradorstack/faultsim/internal/models"
)

// SignaturesKey is the storage key of mined signatures.
const SignaturesKey = "faultSignatures_v1"

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, run models.RunSignatures) error

// StoreSignatures implements Store.
func (f StoreFunc) StoreSignatures(ctx context.Context, run models.RunSignatures) error {
	return f(ctx, run)
}

// KVStore keeps the latest signature set of every run in a kv backend.
type KVStore struct {
	runs *kv.Collection[models.RunSignatures]
}

// NewKVStore binds a store to backend.
func NewKVStore(backend kv.Backend, logger *slog.Logger) *KVStore {
	return &KVStore{runs: kv.NewCollection[models.RunSignatures](backend, SignaturesKey, logger)}
}

// StoreSignatures replaces the signatures recorded for run.RunID.
func (s *KVStore) StoreSignatures(ctx context.Context, run models.RunSignatures) error {
	_, err := s.runs.Update(ctx, func(items []models.RunSignatures) ([]models.RunSignatures, bool, error) {
		for i := range items {
			if items[i].RunID == run.RunID {
				items[i] = run
				return items, true, nil
			}
		}
		return append(items, run), true, nil
	})
	return err
}

// Get returns the signatures recorded for runID.
func (s *KVStore) Get(ctx context.Context, runID string) (models.RunSignatures, bool) {
	for _, run := range s.runs.Load(ctx) {
		if run.RunID == runID {
			return run, true
		}
	}
	return models.RunSignatures{}, false
}
