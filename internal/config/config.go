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

// Config captures the settings required to run the RCA engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Detectors DetectorsConfig `yaml:"detectors"`
	Logging   LoggingConfig   `yaml:"logging"`
	Rules     RulesConfig     `yaml:"rules"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Report    ReportConfig    `yaml:"report"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ServerConfig controls the HTTP listener behaviour in serve mode.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// EngineConfig holds correlation and ranking tunables. The thresholds are
// empirically tuned; the scenario tests pin their observable behaviour.
type EngineConfig struct {
	SimilarityThreshold float64       `yaml:"similarityThreshold"`
	ClusterWindow       time.Duration `yaml:"clusterWindow"`
	LinkHalfLife        time.Duration `yaml:"linkHalfLife"`
	LinkLookback        time.Duration `yaml:"linkLookback"`
	MinLinkStrength     float64       `yaml:"minLinkStrength"`
	TopK                int           `yaml:"topK"`
	CorroborationBonus  float64       `yaml:"corroborationBonus"`
}

// DetectorsConfig holds detection thresholds and the per-detector timeout.
type DetectorsConfig struct {
	Timeout                time.Duration `yaml:"timeout"`
	LeakSlopeMBPerMin      float64       `yaml:"leakSlopeMBPerMin"`
	LatencyRatioThreshold  float64       `yaml:"latencyRatioThreshold"`
	ErrorRateDeltaPct      float64       `yaml:"errorRateDeltaPct"`
	RestartCountThreshold  int           `yaml:"restartCountThreshold"`
	CascadeWindow          time.Duration `yaml:"cascadeWindow"`
	CascadeMinEntries      int           `yaml:"cascadeMinEntries"`
	ConfidenceCeiling      float64       `yaml:"confidenceCeiling"`
	CorroborationIncrement float64       `yaml:"corroborationIncrement"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig controls remediation rule-pack loading.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// SnapshotConfig locates the incident evidence datasets.
type SnapshotConfig struct {
	Dir string `yaml:"dir"`
}

// ReportConfig controls where finished RCA reports are written.
type ReportConfig struct {
	Dir string `yaml:"dir"`
}

// CacheConfig controls in-memory caching of completed investigations in
// serve mode.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// Load initialises Config from a YAML file and optional environment
// overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SLEUTH_RCA_CONFIG")
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

// Validate rejects values the engine cannot work with.
func (c *Config) Validate() error {
	if c.Engine.SimilarityThreshold < 0 || c.Engine.SimilarityThreshold > 1 {
		return fmt.Errorf("engine.similarityThreshold must be in [0,1], got %f", c.Engine.SimilarityThreshold)
	}
	if c.Engine.MinLinkStrength < 0 || c.Engine.MinLinkStrength > 1 {
		return fmt.Errorf("engine.minLinkStrength must be in [0,1], got %f", c.Engine.MinLinkStrength)
	}
	if c.Engine.TopK <= 0 {
		return fmt.Errorf("engine.topK must be positive, got %d", c.Engine.TopK)
	}
	if c.Engine.LinkHalfLife <= 0 {
		return fmt.Errorf("engine.linkHalfLife must be positive, got %s", c.Engine.LinkHalfLife)
	}
	if c.Detectors.Timeout <= 0 {
		return fmt.Errorf("detectors.timeout must be positive, got %s", c.Detectors.Timeout)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			SimilarityThreshold: 0.3,
			ClusterWindow:       30 * time.Minute,
			LinkHalfLife:        30 * time.Minute,
			LinkLookback:        24 * time.Hour,
			MinLinkStrength:     0.2,
			TopK:                3,
			CorroborationBonus:  0.08,
		},
		Detectors: DetectorsConfig{
			Timeout:                10 * time.Second,
			LeakSlopeMBPerMin:      10,
			LatencyRatioThreshold:  3.0,
			ErrorRateDeltaPct:      20.0,
			RestartCountThreshold:  3,
			CascadeWindow:          time.Minute,
			CascadeMinEntries:      5,
			ConfidenceCeiling:      0.99,
			CorroborationIncrement: 0.02,
		},
		Logging:  LoggingConfig{Level: "info", JSON: false},
		Rules:    RulesConfig{Path: "configs/rules/default.yaml"},
		Snapshot: SnapshotConfig{Dir: "snapshot"},
		Report:   ReportConfig{Dir: "reports"},
		Cache:    CacheConfig{Enabled: true, TTL: 5 * time.Minute},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SLEUTH_RCA_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SLEUTH_RCA_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SLEUTH_RCA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SLEUTH_RCA_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SLEUTH_RCA_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("SLEUTH_RCA_SNAPSHOT_DIR"); v != "" {
		cfg.Snapshot.Dir = v
	}
	if v := os.Getenv("SLEUTH_RCA_REPORT_DIR"); v != "" {
		cfg.Report.Dir = v
	}
	if v := os.Getenv("SLEUTH_RCA_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Engine.TopK = k
		}
	}
	if v := os.Getenv("SLEUTH_RCA_DETECTOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Detectors.Timeout = d
		}
	}
	if v := os.Getenv("SLEUTH_RCA_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SLEUTH_RCA_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
}
