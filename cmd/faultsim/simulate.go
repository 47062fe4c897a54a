package main

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/miradorstack/faultsim/internal/detect"
	"github.com/miradorstack/faultsim/internal/faults"
	"github.com/miradorstack/faultsim/internal/patterns"
	"github.com/miradorstack/faultsim/internal/scenario"
)

type simulateOptions struct {
	output   string
	seed     int64
	noAlarms bool
}

func newSimulateCommand(root *rootOptions) *cobra.Command {
	opts := &simulateOptions{seed: -1}
	cmd := &cobra.Command{
		Use:   "simulate PLAN",
		Short: "Replay a YAML fault plan offline and print samples as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, root, opts, args[0])
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write samples to a file instead of stdout")
	cmd.Flags().Int64Var(&opts.seed, "seed", -1, "Override the plan seed")
	cmd.Flags().BoolVar(&opts.noAlarms, "no-alarms", false, "Skip anomaly detection on the finished series")
	return cmd
}

func runSimulate(cmd *cobra.Command, root *rootOptions, opts *simulateOptions, planPath string) error {
	cfg, logger, err := loadConfig(root)
	if err != nil {
		return err
	}
	plan, err := scenario.LoadPlan(planPath)
	if err != nil {
		return err
	}
	if opts.seed >= 0 {
		plan.Seed = uint32(opts.seed)
	}

	backend, err := openBackend(cmd.Context(), cfg.Storage, afero.NewOsFs())
	if err != nil {
		return err
	}
	defer backend.Close()

	profiles, err := profilesFrom(cfg.Simulation)
	if err != nil {
		return err
	}
	var alarms scenario.AlarmEvaluator
	if !opts.noAlarms {
		bounds, err := boundsFrom(cfg.Detection)
		if err != nil {
			return err
		}
		alarms = detect.NewEngine(cfg.Detection.ZThreshold, bounds)
	}

	var out io.Writer = cmd.OutOrStdout()
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriter(out)
	defer w.Flush()
	enc := json.NewEncoder(w)

	registry := faults.NewRegistry(backend, faults.WithLogger(logger))
	runner := scenario.NewRunner(logger, registry, profiles, alarms)
	result, err := runner.Run(cmd.Context(), plan, func(s scenario.Sample) error {
		return enc.Encode(s)
	})
	if err != nil {
		return err
	}
	summary := map[string]any{"summary": result}
	if alarms != nil {
		miner := patterns.NewMiner(logger, patterns.NewKVStore(backend, logger))
		signatures, err := miner.Mine(cmd.Context(), plan.RunID, result.Injections, result.Alarms)
		if err != nil {
			return err
		}
		summary["signatures"] = signatures
	}
	logger.Info("scenario finished",
		slog.String("name", plan.Name),
		slog.Int("samples", result.Samples),
		slog.Int("alarms", len(result.Alarms)))
	return enc.Encode(summary)
}
