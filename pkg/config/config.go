// Package config loads and validates the resource core's configuration:
// built-in defaults, overridden by an optional JSON file, overridden by
// environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds the resource core's full configuration.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Resources  ResourcesConfig  `json:"resources"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Adaptive   AdaptiveConfig   `json:"adaptive"`
	Admission  AdmissionConfig  `json:"admission"`
	Repository RepositoryConfig `json:"repository"`
	Institution InstitutionConfig `json:"institution"`
}

// LoggingConfig mirrors the teacher's ambient logging configuration.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
	File   string `json:"file"`
}

// ResourcesConfig is openfinance.resources.*
type ResourcesConfig struct {
	Enabled bool `json:"enabled"`

	// Batch bounds, openfinance.resources.batch.*
	BatchSize           int `json:"batch_size"`
	BatchMaxConcurrent  int `json:"batch_max_concurrent"`
	BatchParallelFactor int `json:"batch_parallel_factor"`

	// openfinance.resources.adaptive.{memory-threshold,cpu-threshold}
	AdaptiveMemoryThreshold float64 `json:"adaptive_memory_threshold"`
	AdaptiveCPUThreshold    float64 `json:"adaptive_cpu_threshold"`

	// openfinance.resources.adaptive.interval.{min,max}, in milliseconds
	AdaptiveIntervalMinMs int `json:"adaptive_interval_min_ms"`
	AdaptiveIntervalMaxMs int `json:"adaptive_interval_max_ms"`
}

// SchedulerConfig is openfinance.scheduler.*
type SchedulerConfig struct {
	Enabled             bool `json:"enabled"`
	StartupDelayMs      int  `json:"startup_delay_ms"`
	BackupIntervalMs    int  `json:"backup_interval_ms"`
	BatchSize           int  `json:"batch_size"`
	MaxConcurrent       int  `json:"max_concurrent"`
	RetryMaxAttempts    int  `json:"retry_max_attempts"`
	TaskTimeoutMs       int  `json:"task_timeout_ms"`
	BatchTimeoutMs      int  `json:"batch_timeout_ms"`
	ShutdownGraceMs     int  `json:"shutdown_grace_ms"`
}

// AdaptiveConfig exposes the C3 tuning constants as configuration, per
// spec.md §4.3's requirement that every numeric threshold be a recognized
// option.
type AdaptiveConfig struct {
	CPUHigh             float64 `json:"cpu_high"`
	CPULow              float64 `json:"cpu_low"`
	MemHigh             float64 `json:"mem_high"`
	MemLow              float64 `json:"mem_low"`
	MinBatch            int     `json:"min_batch"`
	MaxBatch            int     `json:"max_batch"`
	MinConcurrency      int     `json:"min_concurrency"`
	MaxConcurrency      int     `json:"max_concurrency"`
	ControlPeriodMinMs  int     `json:"control_period_min_ms"`
	ControlPeriodMaxMs  int     `json:"control_period_max_ms"`
	WindowWeightNew     float64 `json:"window_weight_new"`
}

// AdmissionConfig holds initial capacities and per-class bounds for the six
// admission semaphores (spec.md §4.2).
type AdmissionConfig struct {
	Discovery       ClassBounds `json:"discovery"`
	Sync            ClassBounds `json:"sync"`
	Validation      ClassBounds `json:"validation"`
	Monitoring      ClassBounds `json:"monitoring"`
	ApiCall         ClassBounds `json:"api_call"`
	BatchProcessing ClassBounds `json:"batch_processing"`
}

// ClassBounds is an initial capacity plus the [min,max] range the adaptive
// controller is allowed to resize it within.
type ClassBounds struct {
	Initial int `json:"initial"`
	Min     int `json:"min"`
	Max     int `json:"max"`
}

// RepositoryConfig configures the Postgres repository port implementation.
type RepositoryConfig struct {
	ConnectionString string `json:"connection_string"`
	MaxConnections    int32  `json:"max_connections"`
	MigrationsPath    string `json:"migrations_path"`
}

// InstitutionConfig is openfinance.institution.* — the HTTP client that
// talks to upstream Open Finance participants.
type InstitutionConfig struct {
	BaseURL        string `json:"base_url"`
	RequestTimeoutMs int  `json:"request_timeout_ms"`
}

// DefaultConfig returns a configuration with the defaults named throughout
// spec.md §4.2/§4.3.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "console",
		},
		Resources: ResourcesConfig{
			Enabled:                 true,
			BatchSize:               200,
			BatchMaxConcurrent:      100,
			BatchParallelFactor:     4,
			AdaptiveMemoryThreshold: 0.85,
			AdaptiveCPUThreshold:    0.80,
			AdaptiveIntervalMinMs:   10_000,
			AdaptiveIntervalMaxMs:   120_000,
		},
		Scheduler: SchedulerConfig{
			Enabled:          true,
			StartupDelayMs:   0,
			BackupIntervalMs: 60_000,
			BatchSize:        200,
			MaxConcurrent:    100,
			RetryMaxAttempts: 3,
			TaskTimeoutMs:    30_000,
			BatchTimeoutMs:   120_000,
			ShutdownGraceMs:  30_000,
		},
		Adaptive: AdaptiveConfig{
			CPUHigh:            0.80,
			CPULow:             0.40,
			MemHigh:            0.85,
			MemLow:             0.50,
			MinBatch:           50,
			MaxBatch:           1000,
			MinConcurrency:     10,
			MaxConcurrency:     500,
			ControlPeriodMinMs: 10_000,
			ControlPeriodMaxMs: 120_000,
			WindowWeightNew:    0.2,
		},
		Admission: AdmissionConfig{
			Discovery:       ClassBounds{Initial: 50, Min: 5, Max: 200},
			Sync:            ClassBounds{Initial: 75, Min: 10, Max: 300},
			Validation:      ClassBounds{Initial: 30, Min: 5, Max: 100},
			Monitoring:      ClassBounds{Initial: 40, Min: 5, Max: 150},
			ApiCall:         ClassBounds{Initial: 200, Min: 20, Max: 1000},
			BatchProcessing: ClassBounds{Initial: 10, Min: 10, Max: 10},
		},
		Repository: RepositoryConfig{
			MaxConnections: 10,
			MigrationsPath: "file://migrations",
		},
		Institution: InstitutionConfig{
			RequestTimeoutMs: 15_000,
		},
	}
}

// Load builds a Config from defaults, an optional JSON file, and
// environment variable overrides (OPENFINANCE_<SECTION>_<KEY>), in that
// precedence order.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, c)
}

func (c *Config) applyEnvironmentOverrides() {
	if val := os.Getenv("OPENFINANCE_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("OPENFINANCE_LOG_FORMAT"); val != "" {
		c.Logging.Format = val
	}

	if val := os.Getenv("OPENFINANCE_RESOURCES_ENABLED"); val != "" {
		c.Resources.Enabled = strings.EqualFold(val, "true")
	}
	if val := os.Getenv("OPENFINANCE_SCHEDULER_ENABLED"); val != "" {
		c.Scheduler.Enabled = strings.EqualFold(val, "true")
	}
	if val := os.Getenv("OPENFINANCE_SCHEDULER_BATCH_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Scheduler.BatchSize = n
		}
	}
	if val := os.Getenv("OPENFINANCE_SCHEDULER_MAX_CONCURRENT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Scheduler.MaxConcurrent = n
		}
	}
	if val := os.Getenv("OPENFINANCE_SCHEDULER_RETRY_MAX_ATTEMPTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Scheduler.RetryMaxAttempts = n
		}
	}
	if val := os.Getenv("OPENFINANCE_REPOSITORY_CONNECTION_STRING"); val != "" {
		c.Repository.ConnectionString = val
	}
	if val := os.Getenv("OPENFINANCE_INSTITUTION_BASE_URL"); val != "" {
		c.Institution.BaseURL = val
	}
}

// Validate enforces the bounds named in spec.md §4.2/§4.3.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Adaptive.MinBatch <= 0 || c.Adaptive.MinBatch > c.Adaptive.MaxBatch {
		return fmt.Errorf("invalid batch size bounds: [%d, %d]", c.Adaptive.MinBatch, c.Adaptive.MaxBatch)
	}
	if c.Adaptive.MinConcurrency <= 0 || c.Adaptive.MinConcurrency > c.Adaptive.MaxConcurrency {
		return fmt.Errorf("invalid concurrency bounds: [%d, %d]", c.Adaptive.MinConcurrency, c.Adaptive.MaxConcurrency)
	}
	if c.Adaptive.ControlPeriodMinMs <= 0 || c.Adaptive.ControlPeriodMinMs > c.Adaptive.ControlPeriodMaxMs {
		return fmt.Errorf("invalid control period bounds: [%dms, %dms]", c.Adaptive.ControlPeriodMinMs, c.Adaptive.ControlPeriodMaxMs)
	}

	for name, cb := range map[string]ClassBounds{
		"discovery":        c.Admission.Discovery,
		"sync":             c.Admission.Sync,
		"validation":       c.Admission.Validation,
		"monitoring":       c.Admission.Monitoring,
		"api_call":         c.Admission.ApiCall,
		"batch_processing": c.Admission.BatchProcessing,
	} {
		if cb.Min > cb.Max || cb.Initial < cb.Min || cb.Initial > cb.Max {
			return fmt.Errorf("invalid admission bounds for class %s: initial=%d min=%d max=%d", name, cb.Initial, cb.Min, cb.Max)
		}
	}

	return nil
}

// SaveToFile writes the configuration to a JSON file, creating parent
// directories as needed.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}
