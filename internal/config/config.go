package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendValkey = "valkey"
)

// Config captures the settings required to boot the simulator.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	Simulation SimulationConfig `yaml:"simulation"`
	Remote     RemoteConfig     `yaml:"remote"`
	Detection  DetectionConfig  `yaml:"detection"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StorageConfig selects where templates, injections and runs are persisted.
type StorageConfig struct {
	Backend string       `yaml:"backend"`
	Dir     string       `yaml:"dir"`
	Valkey  ValkeyConfig `yaml:"valkey"`
}

// ValkeyConfig configures the Valkey storage backend.
type ValkeyConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"keyPrefix"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// SimulationConfig shapes the series generators.
type SimulationConfig struct {
	Seed      uint32                   `yaml:"seed"`
	Interval  time.Duration            `yaml:"interval"`
	MaxPoints int                      `yaml:"maxPoints"`
	Lookback  time.Duration            `yaml:"lookback"`
	Profiles  map[string]ProfileConfig `yaml:"profiles"`
	Robots    []string                 `yaml:"robots"`
}

// ProfileConfig is the signal shape of one metric.
type ProfileConfig struct {
	StartValue float64       `yaml:"startValue"`
	Min        float64       `yaml:"min"`
	Max        float64       `yaml:"max"`
	Noise      float64       `yaml:"noise"`
	Trend      float64       `yaml:"trend"`
	Period     time.Duration `yaml:"period"`
}

// RemoteConfig configures the real-mode telemetry backend.
type RemoteConfig struct {
	BaseURL    string        `yaml:"baseURL"`
	SeriesPath string        `yaml:"seriesPath"`
	FramePath  string        `yaml:"framePath"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheTTL   time.Duration `yaml:"cacheTTL"`
}

// DetectionConfig configures alarm detectors.
type DetectionConfig struct {
	ZThreshold float64                 `yaml:"zThreshold"`
	Bounds     map[string]BoundsConfig `yaml:"bounds"`
}

// BoundsConfig is the accepted range of a metric.
type BoundsConfig struct {
	Lower float64 `yaml:"lower"`
	Upper float64 `yaml:"upper"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("FAULTSIM_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail deep inside startup.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir is required for the file backend")
		}
	case BackendValkey:
		if c.Storage.Valkey.Addr == "" {
			return fmt.Errorf("storage.valkey.addr is required for the valkey backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Simulation.Interval <= 0 {
		return fmt.Errorf("simulation.interval must be positive")
	}
	for name, p := range c.Simulation.Profiles {
		if p.Min > p.Max {
			return fmt.Errorf("simulation.profiles.%s: min %v exceeds max %v", name, p.Min, p.Max)
		}
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Storage: StorageConfig{
			Backend: BackendMemory,
			Dir:     "data",
			Valkey: ValkeyConfig{
				KeyPrefix:    "faultsim:",
				DialTimeout:  2 * time.Second,
				ReadTimeout:  500 * time.Millisecond,
				WriteTimeout: 500 * time.Millisecond,
				MaxRetries:   2,
			},
		},
		Simulation: SimulationConfig{
			Seed:      42,
			Interval:  time.Second,
			MaxPoints: 600,
			Lookback:  120 * time.Second,
		},
		Remote: RemoteConfig{
			SeriesPath: "/api/v1/telemetry/series",
			FramePath:  "/api/v1/telemetry/frame",
			Timeout:    5 * time.Second,
			CacheTTL:   30 * time.Second,
		},
		Detection: DetectionConfig{ZThreshold: 3},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FAULTSIM_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("FAULTSIM_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("FAULTSIM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FAULTSIM_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("FAULTSIM_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("FAULTSIM_STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
	if v := os.Getenv("FAULTSIM_VALKEY_ADDR"); v != "" {
		cfg.Storage.Valkey.Addr = v
	}
	if v := os.Getenv("FAULTSIM_VALKEY_USERNAME"); v != "" {
		cfg.Storage.Valkey.Username = v
	}
	if v := os.Getenv("FAULTSIM_VALKEY_PASSWORD"); v != "" {
		cfg.Storage.Valkey.Password = v
	}
	if v := os.Getenv("FAULTSIM_VALKEY_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Storage.Valkey.DB = db
		}
	}
	if v := os.Getenv("FAULTSIM_VALKEY_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Storage.Valkey.TLS = true
	}
	if v := os.Getenv("FAULTSIM_VALKEY_MAX_RETRIES"); v != "" {
		if retry, err := strconv.Atoi(v); err == nil {
			cfg.Storage.Valkey.MaxRetries = retry
		}
	}
	if v := os.Getenv("FAULTSIM_SEED"); v != "" {
		if seed, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Simulation.Seed = uint32(seed)
		}
	}
	if v := os.Getenv("FAULTSIM_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Simulation.Interval = d
		}
	}
	if v := os.Getenv("FAULTSIM_REMOTE_BASE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("FAULTSIM_REMOTE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Remote.Timeout = d
		}
	}
	if v := os.Getenv("FAULTSIM_REMOTE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Remote.CacheTTL = d
		}
	}
}
