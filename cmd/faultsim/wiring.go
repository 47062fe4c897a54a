package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/miradorstack/faultsim/internal/config"
	"github.com/miradorstack/faultsim/internal/detect"
	"github.com/miradorstack/faultsim/internal/kv"
	"github.com/miradorstack/faultsim/internal/models"
	"github.com/miradorstack/faultsim/internal/sim"
	"github.com/miradorstack/faultsim/internal/utils"
)

func loadConfig(opts *rootOptions) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	return cfg, utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON), nil
}

// openBackend selects the storage backend named in the configuration.
func openBackend(ctx context.Context, cfg config.StorageConfig, fsys afero.Fs) (kv.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return kv.NewMemoryBackend(), nil
	case config.BackendFile:
		backend, err := kv.NewFileBackend(fsys, cfg.Dir)
		if err != nil {
			return nil, err
		}
		return backend, nil
	case config.BackendValkey:
		backend, err := kv.NewValkeyBackend(ctx, kv.ValkeyConfig{
			Addr:         cfg.Valkey.Addr,
			Username:     cfg.Valkey.Username,
			Password:     cfg.Valkey.Password,
			DB:           cfg.Valkey.DB,
			KeyPrefix:    cfg.Valkey.KeyPrefix,
			DialTimeout:  cfg.Valkey.DialTimeout,
			ReadTimeout:  cfg.Valkey.ReadTimeout,
			WriteTimeout: cfg.Valkey.WriteTimeout,
			MaxRetries:   cfg.Valkey.MaxRetries,
			TLS:          cfg.Valkey.TLS,
		})
		if err != nil {
			return nil, err
		}
		return backend, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// profilesFrom overlays configured profiles on the stock ones.
func profilesFrom(cfg config.SimulationConfig) (map[models.Metric]sim.Profile, error) {
	profiles := sim.DefaultProfiles()
	for name, p := range cfg.Profiles {
		metric, err := models.ParseMetric(name)
		if err != nil {
			return nil, fmt.Errorf("simulation.profiles: %w", err)
		}
		period := p.Period
		if period <= 0 {
			period = sim.DefaultPeriod
		}
		profiles[metric] = sim.Profile{
			StartValue: p.StartValue,
			Min:        p.Min,
			Max:        p.Max,
			Noise:      p.Noise,
			Trend:      p.Trend,
			Period:     period,
		}
	}
	return profiles, nil
}

func hubConfigFrom(cfg config.SimulationConfig) (sim.HubConfig, error) {
	profiles, err := profilesFrom(cfg)
	if err != nil {
		return sim.HubConfig{}, err
	}
	return sim.HubConfig{
		Seed:      cfg.Seed,
		Interval:  cfg.Interval,
		MaxPoints: cfg.MaxPoints,
		Lookback:  cfg.Lookback,
		Profiles:  profiles,
	}, nil
}

// boundsFrom overlays configured bounds on the stock ones.
func boundsFrom(cfg config.DetectionConfig) (map[models.Metric]detect.Bounds, error) {
	bounds := detect.DefaultBounds()
	for name, b := range cfg.Bounds {
		metric, err := models.ParseMetric(name)
		if err != nil {
			return nil, fmt.Errorf("detection.bounds: %w", err)
		}
		if b.Lower > b.Upper {
			return nil, fmt.Errorf("detection.bounds.%s: lower %v exceeds upper %v", name, b.Lower, b.Upper)
		}
		bounds[metric] = detect.Bounds{Lower: b.Lower, Upper: b.Upper}
	}
	return bounds, nil
}

func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}
