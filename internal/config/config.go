package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/swapforge/swapforge/pkg/types"
)

// Configuration is the complete engine configuration: ambient settings,
// the operator override layer, and the record consumed from the
// surrounding toolkit.
type Configuration struct {
	Engine    EngineConfig         `yaml:"engine"`
	Overrides OverridesConfig      `yaml:"overrides"`
	External  types.ExternalConfig `yaml:"external"`
}

// EngineConfig holds the settings shared by every pipeline stage,
// independent of any one run's overrides.
type EngineConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	LogRoot     string `yaml:"log_root"`
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
	DryRun      bool   `yaml:"dry_run"`

	// Debug turns on per-stage event tracing via pkg/utils's debug
	// session facility, giving an operator reproducing a failed run a
	// timestamped, per-component trace of every pipeline stage without
	// needing DEBUG-level logging turned on everywhere.
	Debug bool `yaml:"debug"`
}

// OverridesConfig wraps types.Overrides so the YAML/env loaders live in
// this package while the Plan Calculator consumes the embedded value
// directly with no translation step.
type OverridesConfig struct {
	types.Overrides `yaml:",inline"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Engine: EngineConfig{
			LogLevel:    "INFO",
			LogFile:     "/var/log/swapforge/engine.log",
			LogRoot:     "/var/log/swapforge",
			MetricsPort: 9090,
			HealthPort:  9091,
			DryRun:      false,
			Debug:       false,
		},
		Overrides: OverridesConfig{
			Overrides: types.Overrides{
				PreserveRootGiB: 10,
				AllowRootShrink: false,
				BenchDurationS:  5,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file, merging onto
// whatever defaults are already set.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables. Recognized
// names mirror the override keys of spec §6 plus the ambient engine
// settings; unrecognized SWAPFORGE_* variables are ignored rather than
// rejected, since the surrounding toolkit may export others.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("SWAPFORGE_LOG_LEVEL"); val != "" {
		c.Engine.LogLevel = val
	}
	if val := os.Getenv("SWAPFORGE_LOG_FILE"); val != "" {
		c.Engine.LogFile = val
	}
	if val := os.Getenv("SWAPFORGE_LOG_ROOT"); val != "" {
		c.Engine.LogRoot = val
	}
	if val := os.Getenv("SWAPFORGE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Engine.MetricsPort = port
		}
	}
	if val := os.Getenv("SWAPFORGE_HEALTH_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Engine.HealthPort = port
		}
	}
	if val := os.Getenv("SWAPFORGE_DRY_RUN"); val != "" {
		c.Engine.DryRun = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("SWAPFORGE_DEBUG"); val != "" {
		c.Engine.Debug = strings.ToLower(val) == "true"
	}

	if val := os.Getenv("SWAPFORGE_RAM_SOLUTION"); val != "" {
		c.Overrides.RAMSolution = &val
	}
	if val := os.Getenv("SWAPFORGE_RAM_POOL_BYTES"); val != "" {
		if n, err := strconv.ParseUint(val, 10, 64); err == nil {
			c.Overrides.RAMPoolBytes = &n
		}
	}
	if val := os.Getenv("SWAPFORGE_COMPRESSOR"); val != "" {
		c.Overrides.Compressor = &val
	}
	if val := os.Getenv("SWAPFORGE_ALLOCATOR"); val != "" {
		c.Overrides.Allocator = &val
	}
	if val := os.Getenv("SWAPFORGE_DISK_BACKING"); val != "" {
		c.Overrides.DiskBacking = &val
	}
	if val := os.Getenv("SWAPFORGE_DISK_TOTAL_BYTES"); val != "" {
		if n, err := strconv.ParseUint(val, 10, 64); err == nil {
			c.Overrides.DiskTotalBytes = &n
		}
	}
	if val := os.Getenv("SWAPFORGE_STRIPE_WIDTH"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Overrides.StripeWidth = &n
		}
	}
	if val := os.Getenv("SWAPFORGE_PRESERVE_ROOT_GIB"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			c.Overrides.PreserveRootGiB = f
		}
	}
	if val := os.Getenv("SWAPFORGE_ALLOW_ROOT_SHRINK"); val != "" {
		c.Overrides.AllowRootShrink = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("SWAPFORGE_BENCH_DURATION_S"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Overrides.BenchDurationS = n
		}
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file, creating the parent
// directory if needed. The pipeline in cmd/swapforge does not call it.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for internal consistency. It does not
// check overrides against a running machine's Inventory — that
// cross-check is the Plan Calculator's job (spec §7 PlanError) since it
// needs the probed Inventory to do it.
func (c *Configuration) Validate() error {
	if c.Engine.MetricsPort == c.Engine.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Engine.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Engine.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Overrides.PreserveRootGiB < 0 {
		return fmt.Errorf("preserve_root_gib cannot be negative")
	}

	if c.Overrides.BenchDurationS <= 0 {
		return fmt.Errorf("bench_duration_s must be greater than 0")
	}

	if c.Overrides.RAMSolution != nil {
		switch *c.Overrides.RAMSolution {
		case "compressed_cache", "compressed_block_device", "none", "auto":
		default:
			return fmt.Errorf("invalid ram_solution override: %s", *c.Overrides.RAMSolution)
		}
	}

	if c.Overrides.DiskBacking != nil {
		switch *c.Overrides.DiskBacking {
		case "files_in_root", "native_swap_partitions", "zvol_partitions",
			"files_on_dedicated_partition", "none", "auto":
		default:
			return fmt.Errorf("invalid disk_backing override: %s", *c.Overrides.DiskBacking)
		}
	}

	if c.Overrides.StripeWidth != nil && *c.Overrides.StripeWidth <= 0 {
		return fmt.Errorf("stripe_width must be greater than 0")
	}

	return nil
}
