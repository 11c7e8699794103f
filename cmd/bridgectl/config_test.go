package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/neurobridge/internal/config"
)

func TestLoadBridgeConfigDefaultsWithoutPath(t *testing.T) {
	cfg, err := loadBridgeConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Mode != config.ModeServer || !cfg.Device.Simulation {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadBridgeConfigRejectsDefinedZero(t *testing.T) {
	// max_seconds = 0 is explicitly defined, so it replaces the default and fails validation.
	_, err := loadBridgeConfig(filepath.Join("testdata", "bridge.toml"))
	if err == nil || !strings.Contains(err.Error(), "max_seconds") {
		t.Fatalf("expected max_seconds validation error, got %v", err)
	}
}

func TestLoadBridgeConfigOverlaysDefinedKeys(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("testdata", "bridge.toml"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	body := strings.Replace(string(raw), "max_seconds = 0", "max_seconds = 600", 1)
	path := filepath.Join(t.TempDir(), "bridge.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := loadBridgeConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ID != "bench-rig" || cfg.Server.Mode != config.ModeClient {
		t.Fatalf("server overlay: %+v", cfg.Server)
	}
	if cfg.Server.ListenAddr != ":63365" {
		t.Fatalf("undefined key replaced: %q", cfg.Server.ListenAddr)
	}
	if cfg.Transport.ReconnectDelay.Duration != 2*time.Second || cfg.Transport.HeartbeatInterval.Duration != 5*time.Second {
		t.Fatalf("transport overlay: %+v", cfg.Transport)
	}
	if cfg.Device.Simulation || cfg.Device.MaxSeconds != 600 || cfg.Device.SampleRate != 1000 {
		t.Fatalf("device overlay: %+v", cfg.Device)
	}
	if len(cfg.Session.TriggerMarkers) != 0 {
		t.Fatalf("explicit empty markers should disable auto-trigger: %v", cfg.Session.TriggerMarkers)
	}
	if cfg.Admin.Enabled {
		t.Fatalf("admin overlay not applied")
	}
}

func TestLoadBridgeConfigRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.toml")
	if err := os.WriteFile(path, []byte("[device]\nchanels = 32\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := loadBridgeConfig(path)
	if err == nil || !strings.Contains(err.Error(), "device.chanels") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadBridgeConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yml")
	if err := os.WriteFile(path, []byte("device:\n  channels: 16\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := loadBridgeConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Device.Channels != 16 {
		t.Fatalf("yaml not applied: %d", cfg.Device.Channels)
	}
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := loadBridgeConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load example: %v", err)
	}
	def := config.Default()
	if cfg.Server != def.Server || cfg.Transport != def.Transport || cfg.Device != def.Device {
		t.Fatalf("example drifted from defaults:\n got=%+v\nwant=%+v", cfg, def)
	}
	if cfg.Session.ActiveInterval != def.Session.ActiveInterval || cfg.Session.BuildFolds != def.Session.BuildFolds {
		t.Fatalf("session section drifted: %+v", cfg.Session)
	}
}
