package faults

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/miradorstack/faultsim/internal/kv"
	"github.com/miradorstack/faultsim/internal/metrics"
	"github.com/miradorstack/faultsim/internal/models"
	"github.com/miradorstack/faultsim/internal/utils"
)

// Template defaults applied when a patch creates a new record.
const (
	DefaultTemplateName     = "New template"
	DefaultTemplateDuration = 60
)

// TemplatePatch carries the fields of an upsert. Nil fields are left untouched
// on existing templates and defaulted on new ones.
type TemplatePatch struct {
	ID              string
	Name            *string
	FaultType       *models.FaultType
	Severity        *models.Severity
	DurationSeconds *int
	Enabled         *bool
	Params          map[string]any
}

// Registry manages the fault template catalog. Built-in templates are always
// present on read and can only be disabled.
type Registry struct {
	store *kv.Collection[models.FaultTemplate]
	opts  options
}

// NewRegistry binds a registry to backend.
func NewRegistry(backend kv.Backend, opts ...Option) *Registry {
	o := buildOptions(opts)
	return &Registry{
		store: kv.NewCollection[models.FaultTemplate](backend, TemplatesKey, o.logger),
		opts:  o,
	}
}

// GetAll returns every template, built-ins first. An empty store is seeded with
// the built-in set and missing built-ins are merged back and persisted. When the
// store cannot be read the built-ins are returned and nothing is written.
func (r *Registry) GetAll(ctx context.Context) []models.FaultTemplate {
	var out []models.FaultTemplate
	_, err := r.store.Update(ctx, func(saved []models.FaultTemplate) ([]models.FaultTemplate, bool, error) {
		out = r.repair(saved)
		return out, len(saved) == 0 || len(out) != len(saved), nil
	})
	if err != nil {
		r.opts.logger.Warn("template repair not persisted", slog.Any("error", err))
		if out == nil {
			out = r.repair(nil)
		}
	}
	return cloneTemplates(out)
}

// Get returns one template by id.
func (r *Registry) Get(ctx context.Context, id string) (models.FaultTemplate, bool) {
	for _, tpl := range r.GetAll(ctx) {
		if tpl.ID == id {
			return tpl, true
		}
	}
	return models.FaultTemplate{}, false
}

// Upsert merges patch into the template with the same id, or creates a new
// template when the id is empty or unknown.
func (r *Registry) Upsert(ctx context.Context, patch TemplatePatch) (models.FaultTemplate, error) {
	if err := validatePatch(patch); err != nil {
		return models.FaultTemplate{}, err
	}

	var result models.FaultTemplate
	_, err := r.store.Update(ctx, func(saved []models.FaultTemplate) ([]models.FaultTemplate, bool, error) {
		items := r.repair(saved)
		now := r.opts.now()
		for i := range items {
			if patch.ID != "" && items[i].ID == patch.ID {
				applyPatch(&items[i], patch)
				items[i].UpdatedAt = now
				result = items[i].Clone()
				return items, true, nil
			}
		}

		created := models.FaultTemplate{
			ID:              patch.ID,
			Name:            DefaultTemplateName,
			FaultType:       models.FaultCustom,
			Severity:        models.SeverityLow,
			DurationSeconds: DefaultTemplateDuration,
			Enabled:         true,
			Params:          map[string]any{},
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if created.ID == "" {
			created.ID = r.opts.newID()
		}
		applyPatch(&created, patch)
		result = created.Clone()
		return append(items, created), true, nil
	})
	if err != nil {
		return models.FaultTemplate{}, err
	}
	metrics.ObserveTemplateMutation("upsert")
	return result, nil
}

// Delete removes a user template. Built-ins are disabled instead.
func (r *Registry) Delete(ctx context.Context, id string) error {
	_, err := r.store.Update(ctx, func(saved []models.FaultTemplate) ([]models.FaultTemplate, bool, error) {
		items := r.repair(saved)
		out := items[:0:0]
		changed := false
		for _, tpl := range items {
			if tpl.ID != id {
				out = append(out, tpl)
				continue
			}
			changed = true
			if tpl.Builtin {
				tpl.Enabled = false
				tpl.UpdatedAt = r.opts.now()
				out = append(out, tpl)
			}
		}
		return out, changed, nil
	})
	if err != nil {
		return err
	}
	metrics.ObserveTemplateMutation("delete")
	return nil
}

// Subscribe registers a handler invoked after every persisted template change.
func (r *Registry) Subscribe(fn func()) func() {
	return r.store.Subscribe(fn)
}

// repair merges the built-in set under saved, de-duplicates by id and orders
// built-ins first.
func (r *Registry) repair(saved []models.FaultTemplate) []models.FaultTemplate {
	merged := make([]models.FaultTemplate, 0, len(saved)+4)
	merged = append(merged, Builtins(r.opts.now())...)
	merged = append(merged, saved...)
	return normalize(merged)
}

// normalize keeps the first position of each id with the last value written to
// it, then stable-sorts built-ins to the front.
func normalize(items []models.FaultTemplate) []models.FaultTemplate {
	index := make(map[string]int, len(items))
	out := make([]models.FaultTemplate, 0, len(items))
	for _, tpl := range items {
		if tpl.ID == "" {
			continue
		}
		if IsBuiltinID(tpl.ID) {
			tpl.Builtin = true
		}
		if tpl.Params == nil {
			tpl.Params = map[string]any{}
		}
		if i, ok := index[tpl.ID]; ok {
			out[i] = tpl
			continue
		}
		index[tpl.ID] = len(out)
		out = append(out, tpl)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Builtin && !out[j].Builtin
	})
	return out
}

func validatePatch(patch TemplatePatch) error {
	if patch.DurationSeconds != nil && *patch.DurationSeconds <= 0 {
		return utils.NewAppError("faults.upsert", fmt.Sprintf("durationSeconds must be positive, got %d", *patch.DurationSeconds), ErrInvalidConfig)
	}
	if patch.FaultType != nil && !patch.FaultType.Valid() {
		return utils.NewAppError("faults.upsert", fmt.Sprintf("unknown fault type %q", *patch.FaultType), ErrInvalidConfig)
	}
	if patch.Severity != nil && !patch.Severity.Valid() {
		return utils.NewAppError("faults.upsert", fmt.Sprintf("unknown severity %q", *patch.Severity), ErrInvalidConfig)
	}
	return nil
}

func applyPatch(tpl *models.FaultTemplate, patch TemplatePatch) {
	if patch.Name != nil {
		tpl.Name = *patch.Name
	}
	if patch.FaultType != nil {
		tpl.FaultType = *patch.FaultType
	}
	if patch.Severity != nil {
		tpl.Severity = *patch.Severity
	}
	if patch.DurationSeconds != nil {
		tpl.DurationSeconds = *patch.DurationSeconds
	}
	if patch.Enabled != nil {
		tpl.Enabled = *patch.Enabled
	}
	if patch.Params != nil {
		tpl.Params = models.FaultTemplate{Params: patch.Params}.Clone().Params
	}
}

func cloneTemplates(in []models.FaultTemplate) []models.FaultTemplate {
	out := make([]models.FaultTemplate, len(in))
	for i, tpl := range in {
		out[i] = tpl.Clone()
	}
	return out
}
