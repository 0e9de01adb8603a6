// Package config loads process configuration from a YAML file with
// environment variable overrides, following the same load-then-apply-
// defaults-then-apply-env-then-validate pipeline the teacher's own
// config loader uses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// AppConfig carries process identity and logging setup.
type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// ServerConfig configures the trace control HTTP surface
// (internal/control).
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MetricsConfig configures the Prometheus scrape listener
// (internal/metrics).
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EngineConfig controls the outer engine's flush cadence and shutdown
// grace period. A trace context's own embedded engine always uses
// 1s/1s regardless of this setting (spec.md §4.3 step 2).
type EngineConfig struct {
	FlushSeconds int `yaml:"flush_seconds"`
	GraceSeconds int `yaml:"grace_seconds"`
}

// TraceConfig holds the global switch the trace sub-pipeline checks
// before minting any context (spec.md §4.3 step 1, §7 Disabled).
type TraceConfig struct {
	Enabled bool `yaml:"enabled"`
}

// OutputConfig describes one output instance the outer engine
// registers at startup. Outputs registered here are what
// context_new's credential-propagation path (output kind "calyptia")
// scans when a trace context asks for that sink.
type OutputConfig struct {
	Name       string            `yaml:"name"`
	Kind       string            `yaml:"kind"`
	Properties map[string]string `yaml:"properties"`
}

// Config is the root configuration object produced by LoadConfig.
type Config struct {
	App     AppConfig      `yaml:"app"`
	Server  ServerConfig   `yaml:"server"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Engine  EngineConfig   `yaml:"engine"`
	Trace   TraceConfig    `yaml:"trace"`
	Outputs []OutputConfig `yaml:"outputs"`
}

// LoadConfig reads configFile (if non-empty), fills in defaults for
// anything left unset, applies environment variable overrides, and
// validates the result.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		if err := loadConfigFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configFile, err)
		}
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "tracepiped"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "production"
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.LogFormat == "" {
		cfg.App.LogFormat = "json"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 2021
	}

	if cfg.Metrics.Host == "" {
		cfg.Metrics.Host = "0.0.0.0"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 2022
	}

	if cfg.Engine.FlushSeconds == 0 {
		cfg.Engine.FlushSeconds = 1
	}
	if cfg.Engine.GraceSeconds == 0 {
		cfg.Engine.GraceSeconds = 5
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	cfg.App.Name = getEnvString("TRACEPIPE_APP_NAME", cfg.App.Name)
	cfg.App.Environment = getEnvString("TRACEPIPE_ENVIRONMENT", cfg.App.Environment)
	cfg.App.LogLevel = getEnvString("TRACEPIPE_LOG_LEVEL", cfg.App.LogLevel)
	cfg.App.LogFormat = getEnvString("TRACEPIPE_LOG_FORMAT", cfg.App.LogFormat)

	cfg.Server.Enabled = getEnvBool("TRACEPIPE_SERVER_ENABLED", cfg.Server.Enabled)
	cfg.Server.Host = getEnvString("TRACEPIPE_SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("TRACEPIPE_SERVER_PORT", cfg.Server.Port)

	cfg.Metrics.Enabled = getEnvBool("TRACEPIPE_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Host = getEnvString("TRACEPIPE_METRICS_HOST", cfg.Metrics.Host)
	cfg.Metrics.Port = getEnvInt("TRACEPIPE_METRICS_PORT", cfg.Metrics.Port)

	cfg.Trace.Enabled = getEnvBool("TRACEPIPE_TRACE_ENABLED", cfg.Trace.Enabled)

	cfg.Engine.FlushSeconds = getEnvInt("TRACEPIPE_ENGINE_FLUSH_SECONDS", cfg.Engine.FlushSeconds)
	cfg.Engine.GraceSeconds = getEnvInt("TRACEPIPE_ENGINE_GRACE_SECONDS", cfg.Engine.GraceSeconds)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// ValidateConfig checks the loaded configuration for values that
// would fail later at startup rather than at load time.
func ValidateConfig(cfg *Config) error {
	v := &validator{cfg: cfg}
	v.checkServer()
	v.checkMetrics()
	v.checkEngine()
	v.checkOutputs()
	return v.result()
}

type validator struct {
	cfg    *Config
	errors []string
}

func (v *validator) fail(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *validator) checkServer() {
	if v.cfg.Server.Enabled && (v.cfg.Server.Port <= 0 || v.cfg.Server.Port > 65535) {
		v.fail("server.port %d is out of range", v.cfg.Server.Port)
	}
}

func (v *validator) checkMetrics() {
	if v.cfg.Metrics.Enabled && (v.cfg.Metrics.Port <= 0 || v.cfg.Metrics.Port > 65535) {
		v.fail("metrics.port %d is out of range", v.cfg.Metrics.Port)
	}
	if v.cfg.Metrics.Enabled && v.cfg.Server.Enabled && v.cfg.Metrics.Port == v.cfg.Server.Port {
		v.fail("metrics.port and server.port must not be the same (%d)", v.cfg.Server.Port)
	}
}

func (v *validator) checkEngine() {
	if v.cfg.Engine.FlushSeconds <= 0 {
		v.fail("engine.flush_seconds must be positive, got %d", v.cfg.Engine.FlushSeconds)
	}
	if v.cfg.Engine.GraceSeconds <= 0 {
		v.fail("engine.grace_seconds must be positive, got %d", v.cfg.Engine.GraceSeconds)
	}
}

func (v *validator) checkOutputs() {
	seen := make(map[string]bool)
	for _, out := range v.cfg.Outputs {
		if out.Name == "" {
			v.fail("an output entry is missing a name")
			continue
		}
		if seen[out.Name] {
			v.fail("duplicate output name %q", out.Name)
		}
		seen[out.Name] = true
		if out.Kind == "" {
			v.fail("output %q is missing a kind", out.Name)
		}
	}
}

func (v *validator) result() error {
	if len(v.errors) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(v.errors, "; "))
}
