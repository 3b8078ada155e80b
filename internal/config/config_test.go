package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ARGO_INSIGHT_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Detector.WarmUp != 30 || cfg.Detector.DefaultThreshold != 2.5 {
		t.Fatalf("unexpected detector defaults: %+v", cfg.Detector)
	}
	if cfg.Aggregator.Gap != 72*time.Hour || cfg.Aggregator.RadiusKm != 300 {
		t.Fatalf("unexpected aggregator defaults: %+v", cfg.Aggregator)
	}
	if cfg.Capabilities.Timeout != 3*time.Second {
		t.Fatalf("expected 3s capability timeout, got %v", cfg.Capabilities.Timeout)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "insight.yaml")
	body := []byte(`
detector:
  mode: window
  window: 45
  thresholds:
    salinity: 3.0
aggregator:
  radiusKm: 150
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ARGO_INSIGHT_DETECTOR_WARMUP", "12")
	t.Setenv("ARGO_INSIGHT_AGGREGATOR_GAP", "24h")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Detector.Mode != "window" || cfg.Detector.Window != 45 {
		t.Fatalf("file values not applied: %+v", cfg.Detector)
	}
	if cfg.Detector.ThresholdFor("salinity") != 3.0 || cfg.Detector.ThresholdFor("temperature") != 2.5 {
		t.Fatalf("unexpected thresholds")
	}
	if cfg.Detector.WarmUp != 12 || cfg.Aggregator.Gap != 24*time.Hour {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Detector, cfg.Aggregator)
	}
	if cfg.Aggregator.RadiusKm != 150 {
		t.Fatalf("expected radius 150, got %v", cfg.Aggregator.RadiusKm)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Setenv("ARGO_INSIGHT_DETECTOR_MODE", "median")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected validation error")
	}
}
