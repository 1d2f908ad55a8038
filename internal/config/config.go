// Package config loads archon configuration from <workspace>/.archon/config.yaml
// with environment overrides. Every tuning knob of the governance pipeline
// lives here; components receive their slice of the config at construction
// and never read files or the environment themselves.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all archon configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Trust weight store tuning
	Trust TrustConfig `yaml:"trust"`

	// Decision thresholds per mutation class
	Thresholds ThresholdConfig `yaml:"thresholds"`

	// Remediation engine tuning
	Remediation RemediationConfig `yaml:"remediation"`

	// Persistence collaborator wiring
	Stores StoresConfig `yaml:"stores"`

	// Policy kernel
	Policy PolicyConfig `yaml:"policy"`

	// Executor sandbox
	Executor ExecutorConfig `yaml:"executor"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// TrustConfig configures the EMA trust weight store.
type TrustConfig struct {
	InitialScore    float64       `yaml:"initial_score"`
	SmoothingFactor float64       `yaml:"smoothing_factor"`
	PenaltyBoost    float64       `yaml:"penalty_boost"`
	AuditEpsilon    float64       `yaml:"audit_epsilon"`
	DebounceWindow  time.Duration `yaml:"debounce_window"`
}

// ThresholdConfig supplies the required pass threshold per mutation class.
type ThresholdConfig struct {
	Ordinary   float64 `yaml:"ordinary"`
	Retirement float64 `yaml:"retirement"`
	Emergency  float64 `yaml:"emergency"`
}

// RemediationConfig tunes failure-to-mandate mapping.
type RemediationConfig struct {
	VetoRetryTarget       float64 `yaml:"veto_retry_target"`
	MajorDeficitGap       float64 `yaml:"major_deficit_gap"`
	MinimumIncrease       int     `yaml:"minimum_increase"`
	SensitivityMultiplier float64 `yaml:"sensitivity_multiplier"`
	ReadinessBuffer       float64 `yaml:"readiness_buffer"`
	PolicyMapPath         string  `yaml:"policy_map_path"`
}

// StoresConfig selects persistence backends. Backend is "sqlite" or "file".
type StoresConfig struct {
	Backend      string `yaml:"backend"`
	DatabasePath string `yaml:"database_path"`
	LedgerPath   string `yaml:"ledger_path"`
	SnapshotPath string `yaml:"snapshot_path"`
	WeightsPath  string `yaml:"weights_path"`
}

// PolicyConfig configures the datalog policy kernel.
type PolicyConfig struct {
	FactLimit    int           `yaml:"fact_limit"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	WatchPolicy  bool          `yaml:"watch_policy"` // hot-reload policy map via fsnotify
}

// ExecutorConfig configures mutation execution.
type ExecutorConfig struct {
	Mode    string        `yaml:"mode"` // "recording" or "sandbox"
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig controls category file logging.
type LoggingConfig struct {
	DebugMode bool `yaml:"debug_mode"`
}

// Default returns the configuration used when no config file exists.
func Default(workspace string) *Config {
	base := filepath.Join(workspace, ".archon")
	return &Config{
		Name:    "archon",
		Version: "1.0",
		Trust: TrustConfig{
			InitialScore:    0.5,
			SmoothingFactor: 0.15,
			PenaltyBoost:    0.35,
			AuditEpsilon:    0.001,
			DebounceWindow:  4 * time.Second,
		},
		Thresholds: ThresholdConfig{
			Ordinary:   0.70,
			Retirement: 0.85,
			Emergency:  0.95,
		},
		Remediation: RemediationConfig{
			VetoRetryTarget:       0.95,
			MajorDeficitGap:       0.10,
			MinimumIncrease:       5,
			SensitivityMultiplier: 1.5,
			ReadinessBuffer:       0.10,
			PolicyMapPath:         filepath.Join(base, "remediation.yaml"),
		},
		Stores: StoresConfig{
			Backend:      "sqlite",
			DatabasePath: filepath.Join(base, "archon.db"),
			LedgerPath:   filepath.Join(base, "ledger.jsonl"),
			SnapshotPath: filepath.Join(base, "snapshots.json"),
			WeightsPath:  filepath.Join(base, "weights.json"),
		},
		Policy: PolicyConfig{
			FactLimit:    20000,
			QueryTimeout: 5 * time.Second,
			WatchPolicy:  false,
		},
		Executor: ExecutorConfig{
			Mode:    "recording",
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{DebugMode: false},
	}
}

// Load reads the workspace config file, applies defaults for anything unset,
// then applies environment overrides. A missing file is not an error.
func Load(workspace string) (*Config, error) {
	cfg := Default(workspace)

	path := filepath.Join(workspace, ".archon", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies ARCHON_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ARCHON_DEBUG"); v != "" {
		c.Logging.DebugMode = v == "1" || v == "true"
	}
	if v := os.Getenv("ARCHON_STORE_BACKEND"); v != "" {
		c.Stores.Backend = v
	}
	if v := os.Getenv("ARCHON_DB_PATH"); v != "" {
		c.Stores.DatabasePath = v
	}
	if v := os.Getenv("ARCHON_EXECUTOR_MODE"); v != "" {
		c.Executor.Mode = v
	}
	if v := os.Getenv("ARCHON_DEBOUNCE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Trust.DebounceWindow = d
		}
	}
	if v := os.Getenv("ARCHON_VETO_RETRY_TARGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Remediation.VetoRetryTarget = f
		}
	}
}

func (c *Config) validate() error {
	if c.Trust.InitialScore < 0 || c.Trust.InitialScore > 1 {
		return fmt.Errorf("trust.initial_score %v out of [0,1]", c.Trust.InitialScore)
	}
	if c.Trust.SmoothingFactor <= 0 || c.Trust.SmoothingFactor >= 1 {
		return fmt.Errorf("trust.smoothing_factor %v out of (0,1)", c.Trust.SmoothingFactor)
	}
	if c.Trust.PenaltyBoost <= 0 || c.Trust.PenaltyBoost >= 1 {
		return fmt.Errorf("trust.penalty_boost %v out of (0,1)", c.Trust.PenaltyBoost)
	}
	if c.Trust.DebounceWindow <= 0 {
		return fmt.Errorf("trust.debounce_window must be positive")
	}
	for name, th := range map[string]float64{
		"ordinary":   c.Thresholds.Ordinary,
		"retirement": c.Thresholds.Retirement,
		"emergency":  c.Thresholds.Emergency,
	} {
		if th < 0 || th > 1 {
			return fmt.Errorf("thresholds.%s %v out of [0,1]", name, th)
		}
	}
	switch c.Stores.Backend {
	case "sqlite", "file":
	default:
		return fmt.Errorf("stores.backend %q must be sqlite or file", c.Stores.Backend)
	}
	switch c.Executor.Mode {
	case "recording", "sandbox":
	default:
		return fmt.Errorf("executor.mode %q must be recording or sandbox", c.Executor.Mode)
	}
	return nil
}

// ThresholdFor returns the required threshold for a mutation class name.
// Unknown classes get the strictest threshold rather than the most lenient.
func (c *Config) ThresholdFor(class string) float64 {
	switch class {
	case "ordinary":
		return c.Thresholds.Ordinary
	case "retirement":
		return c.Thresholds.Retirement
	default:
		return c.Thresholds.Emergency
	}
}
