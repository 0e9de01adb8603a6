package app

import (
	"testing"

	"tracepipe/internal/config"
)

func TestNewBuildsComponentsWithoutConfigFile(t *testing.T) {
	application, err := New("")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if application.outer == nil {
		t.Fatal("expected outer engine to be constructed")
	}
	if application.controlServer == nil {
		t.Fatal("expected control server to be constructed")
	}
	if application.metricsServer == nil {
		t.Fatal("expected metrics server to be constructed")
	}
}

func TestStartStopWithServersDisabled(t *testing.T) {
	application, err := New("")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	application.config.Server.Enabled = false
	application.config.Metrics.Enabled = false

	if err := application.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := application.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
}

func TestInitComponentsRegistersConfiguredOutputs(t *testing.T) {
	application, err := New("")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	application.config.Outputs = []config.OutputConfig{{Name: "primary", Kind: "null"}}

	if err := application.initComponents(); err != nil {
		t.Fatalf("initComponents returned error: %v", err)
	}
	if _, ok := application.outer.FindOutputByKind("null"); !ok {
		t.Fatal("expected the configured null output to be registered on the outer engine")
	}
}
