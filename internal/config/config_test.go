package config

import "testing"

func TestApplyDefaultsFillsUnsetFields(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	if cfg.App.Name != "tracepiped" {
		t.Errorf("expected default app name, got %q", cfg.App.Name)
	}
	if cfg.Server.Port != 2021 {
		t.Errorf("expected default server port 2021, got %d", cfg.Server.Port)
	}
	if cfg.Metrics.Port != 2022 {
		t.Errorf("expected default metrics port 2022, got %d", cfg.Metrics.Port)
	}
	if cfg.Engine.FlushSeconds != 1 {
		t.Errorf("expected default flush seconds 1, got %d", cfg.Engine.FlushSeconds)
	}
	if cfg.Engine.GraceSeconds != 5 {
		t.Errorf("expected default grace seconds 5, got %d", cfg.Engine.GraceSeconds)
	}
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{App: AppConfig{Name: "custom"}, Server: ServerConfig{Port: 9000}}
	applyDefaults(cfg)

	if cfg.App.Name != "custom" {
		t.Errorf("expected explicit app name to survive defaulting, got %q", cfg.App.Name)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected explicit server port to survive defaulting, got %d", cfg.Server.Port)
	}
}

func TestValidateConfigRejectsCollidingPorts(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{Enabled: true, Port: 2021},
		Metrics: MetricsConfig{Enabled: true, Port: 2021},
		Engine:  EngineConfig{FlushSeconds: 1, GraceSeconds: 1},
	}

	if err := ValidateConfig(cfg); err == nil {
		t.Error("expected validation error when server and metrics ports collide")
	}
}

func TestValidateConfigRejectsDuplicateOutputNames(t *testing.T) {
	cfg := &Config{
		Engine: EngineConfig{FlushSeconds: 1, GraceSeconds: 1},
		Outputs: []OutputConfig{
			{Name: "primary", Kind: "null"},
			{Name: "primary", Kind: "local_file"},
		},
	}

	if err := ValidateConfig(cfg); err == nil {
		t.Error("expected validation error for duplicate output names")
	}
}

func TestValidateConfigAcceptsWellFormedConfig(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{Enabled: true, Port: 2021},
		Metrics: MetricsConfig{Enabled: true, Port: 2022},
		Engine:  EngineConfig{FlushSeconds: 1, GraceSeconds: 5},
		Outputs: []OutputConfig{{Name: "primary", Kind: "null"}},
	}

	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("expected no validation error, got %v", err)
	}
}
