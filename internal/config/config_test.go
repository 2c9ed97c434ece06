package config

import (
	"os"
	"path/filepath"
	"testing"
)

// Test Constants
const (
	TestDebugLevel = "DEBUG"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Engine.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Engine.LogLevel)
	}
	if cfg.Engine.MetricsPort != 9090 {
		t.Errorf("Expected MetricsPort to be 9090, got %d", cfg.Engine.MetricsPort)
	}
	if cfg.Engine.HealthPort != 9091 {
		t.Errorf("Expected HealthPort to be 9091, got %d", cfg.Engine.HealthPort)
	}
	if cfg.Engine.DryRun {
		t.Error("Expected DryRun to be disabled by default")
	}

	if cfg.Overrides.PreserveRootGiB != 10 {
		t.Errorf("Expected PreserveRootGiB to be 10, got %v", cfg.Overrides.PreserveRootGiB)
	}
	if cfg.Overrides.AllowRootShrink {
		t.Error("Expected AllowRootShrink to be disabled by default")
	}
	if cfg.Overrides.BenchDurationS != 5 {
		t.Errorf("Expected BenchDurationS to be 5, got %d", cfg.Overrides.BenchDurationS)
	}
	if cfg.Overrides.RAMSolution != nil {
		t.Error("Expected RAMSolution override to be unset by default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *Configuration
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: func() *Configuration {
				return NewDefault()
			},
			wantErr: false,
		},
		{
			name: "same metrics and health ports",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Engine.MetricsPort = 9090
				cfg.Engine.HealthPort = 9090
				return cfg
			},
			wantErr: true,
			errMsg:  "metrics_port and health_port cannot be the same",
		},
		{
			name: "invalid log level",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Engine.LogLevel = "INVALID"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid log_level",
		},
		{
			name: "negative preserve_root_gib",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Overrides.PreserveRootGiB = -1
				return cfg
			},
			wantErr: true,
			errMsg:  "preserve_root_gib",
		},
		{
			name: "zero bench_duration_s",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Overrides.BenchDurationS = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "bench_duration_s",
		},
		{
			name: "invalid ram_solution override",
			config: func() *Configuration {
				cfg := NewDefault()
				bogus := "quantum"
				cfg.Overrides.RAMSolution = &bogus
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid ram_solution",
		},
		{
			name: "invalid disk_backing override",
			config: func() *Configuration {
				cfg := NewDefault()
				bogus := "cloud"
				cfg.Overrides.DiskBacking = &bogus
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid disk_backing",
		},
		{
			name: "zero stripe_width override",
			config: func() *Configuration {
				cfg := NewDefault()
				zero := 0
				cfg.Overrides.StripeWidth = &zero
				return cfg
			},
			wantErr: true,
			errMsg:  "stripe_width",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config()
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil && tt.errMsg != "" && !contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want error containing %v", err, tt.errMsg)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
engine:
  log_level: DEBUG
  metrics_port: 9190
  health_port: 9191

overrides:
  ram_solution: compressed_cache
  allow_root_shrink: true
  bench_duration_s: 10

external:
  skip_stages:
    - tunables
`

	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Engine.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", cfg.Engine.LogLevel)
	}
	if cfg.Engine.MetricsPort != 9190 {
		t.Errorf("Expected MetricsPort to be 9190, got %d", cfg.Engine.MetricsPort)
	}
	if cfg.Overrides.RAMSolution == nil || *cfg.Overrides.RAMSolution != "compressed_cache" {
		t.Errorf("Expected RAMSolution override to be compressed_cache, got %v", cfg.Overrides.RAMSolution)
	}
	if !cfg.Overrides.AllowRootShrink {
		t.Error("Expected AllowRootShrink to be true")
	}
	if cfg.Overrides.BenchDurationS != 10 {
		t.Errorf("Expected BenchDurationS to be 10, got %d", cfg.Overrides.BenchDurationS)
	}
	if len(cfg.External.SkipStages) != 1 || cfg.External.SkipStages[0] != "tunables" {
		t.Errorf("Expected SkipStages to be [tunables], got %v", cfg.External.SkipStages)
	}
}

func TestLoadFromFileNonExistent(t *testing.T) {
	cfg := NewDefault()
	err := cfg.LoadFromFile("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Expected error when loading non-existent config file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	testEnvVars := map[string]string{
		"SWAPFORGE_LOG_LEVEL":         "ERROR",
		"SWAPFORGE_METRICS_PORT":      "9290",
		"SWAPFORGE_DRY_RUN":           "true",
		"SWAPFORGE_RAM_SOLUTION":      "compressed_block_device",
		"SWAPFORGE_ALLOW_ROOT_SHRINK": "true",
		"SWAPFORGE_BENCH_DURATION_S":  "20",
		"SWAPFORGE_STRIPE_WIDTH":      "4",
	}

	for key, value := range testEnvVars {
		t.Setenv(key, value)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Engine.LogLevel != "ERROR" {
		t.Errorf("Expected LogLevel to be ERROR, got %s", cfg.Engine.LogLevel)
	}
	if cfg.Engine.MetricsPort != 9290 {
		t.Errorf("Expected MetricsPort to be 9290, got %d", cfg.Engine.MetricsPort)
	}
	if !cfg.Engine.DryRun {
		t.Error("Expected DryRun to be true")
	}
	if cfg.Overrides.RAMSolution == nil || *cfg.Overrides.RAMSolution != "compressed_block_device" {
		t.Errorf("Expected RAMSolution override to be compressed_block_device, got %v", cfg.Overrides.RAMSolution)
	}
	if !cfg.Overrides.AllowRootShrink {
		t.Error("Expected AllowRootShrink to be true")
	}
	if cfg.Overrides.BenchDurationS != 20 {
		t.Errorf("Expected BenchDurationS to be 20, got %d", cfg.Overrides.BenchDurationS)
	}
	if cfg.Overrides.StripeWidth == nil || *cfg.Overrides.StripeWidth != 4 {
		t.Errorf("Expected StripeWidth override to be 4, got %v", cfg.Overrides.StripeWidth)
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "saved_config.yaml")

	cfg := NewDefault()
	cfg.Engine.LogLevel = TestDebugLevel
	cfg.Overrides.BenchDurationS = 15

	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	newCfg := NewDefault()
	if err := newCfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if newCfg.Engine.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", newCfg.Engine.LogLevel)
	}
	if newCfg.Overrides.BenchDurationS != 15 {
		t.Errorf("Expected BenchDurationS to be 15, got %d", newCfg.Overrides.BenchDurationS)
	}
}

func TestSaveToFileCreateDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := NewDefault()
	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}
	if _, err := os.Stat(filepath.Dir(configFile)); os.IsNotExist(err) {
		t.Error("Config directory was not created")
	}
}

// Helper function to check if a string contains a substring
func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || (len(s) > len(substr) &&
		(s[:len(substr)] == substr || s[len(s)-len(substr):] == substr ||
			indexOf(s, substr) >= 0)))
}

func indexOf(s, substr string) int {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
