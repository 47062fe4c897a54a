package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/miradorstack/faultsim/internal/faults"
	"github.com/miradorstack/faultsim/internal/models"
)

func newTemplatesCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect and edit the fault template catalog in configured storage",
	}
	cmd.AddCommand(newTemplatesListCommand(root), newTemplatesUpsertCommand(root), newTemplatesDeleteCommand(root))
	return cmd
}

func openRegistry(cmd *cobra.Command, root *rootOptions) (*faults.Registry, func(), error) {
	cfg, logger, err := loadConfig(root)
	if err != nil {
		return nil, nil, err
	}
	backend, err := openBackend(cmd.Context(), cfg.Storage, afero.NewOsFs())
	if err != nil {
		return nil, nil, err
	}
	return faults.NewRegistry(backend, faults.WithLogger(logger)), func() { _ = backend.Close() }, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTemplatesListCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, closeFn, err := openRegistry(cmd, root)
			if err != nil {
				return err
			}
			defer closeFn()
			return printJSON(cmd, registry.GetAll(cmd.Context()))
		},
	}
}

func newTemplatesUpsertCommand(root *rootOptions) *cobra.Command {
	var (
		name      string
		faultType string
		severity  string
		duration  int
		enabled   bool
		params    []string
	)
	cmd := &cobra.Command{
		Use:   "upsert [ID]",
		Short: "Create a template, or patch the one with ID",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := faults.TemplatePatch{}
			if len(args) == 1 {
				patch.ID = args[0]
			}
			flags := cmd.Flags()
			if flags.Changed("name") {
				patch.Name = &name
			}
			if flags.Changed("type") {
				ft := models.ParseFaultType(faultType)
				patch.FaultType = &ft
			}
			if flags.Changed("severity") {
				sev := models.Severity(strings.ToUpper(severity))
				patch.Severity = &sev
			}
			if flags.Changed("duration") {
				patch.DurationSeconds = &duration
			}
			if flags.Changed("enabled") {
				patch.Enabled = &enabled
			}
			if len(params) > 0 {
				parsed, err := parseParams(params)
				if err != nil {
					return err
				}
				patch.Params = parsed
			}

			registry, closeFn, err := openRegistry(cmd, root)
			if err != nil {
				return err
			}
			defer closeFn()
			tpl, err := registry.Upsert(cmd.Context(), patch)
			if err != nil {
				return err
			}
			return printJSON(cmd, tpl)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&faultType, "type", "", "Fault type (OVERHEAT, HIGH_VIBRATION, CURRENT_SPIKE, SENSOR_DRIFT, CUSTOM)")
	cmd.Flags().StringVar(&severity, "severity", "", "Severity (LOW, MEDIUM, HIGH, CRITICAL)")
	cmd.Flags().IntVar(&duration, "duration", 0, "Window length in seconds")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "Whether the template is offered for injection")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Effect parameter as key=value (repeatable)")
	return cmd
}

func newTemplatesDeleteCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a custom template or disable a built-in one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, closeFn, err := openRegistry(cmd, root)
			if err != nil {
				return err
			}
			defer closeFn()
			return registry.Delete(cmd.Context(), args[0])
		},
	}
}

// parseParams turns key=value pairs into template params; numeric values are
// stored as numbers.
func parseParams(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("param %q must be key=value", pair)
		}
		value = strings.TrimSpace(value)
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			out[key] = f
			continue
		}
		out[key] = value
	}
	return out, nil
}
