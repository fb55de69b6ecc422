package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "unittest")
	chdir(t, t.TempDir()) // no config file anywhere

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RelayURL != "wss://localhost:8080/ws" {
		t.Errorf("relay url %q", cfg.RelayURL)
	}
	if cfg.PingPeriod != 54*time.Second {
		t.Errorf("ping period %s, want 54s", cfg.PingPeriod)
	}
	if cfg.Reconnect.MaxAttempts != 5 || cfg.Reconnect.BaseDelay != 500*time.Millisecond {
		t.Errorf("unexpected reconnect defaults: %+v", cfg.Reconnect)
	}
	if len(cfg.STUNServers) == 0 {
		t.Error("no default STUN server")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
relay_url: wss://relay.example.com/ws
api_base_url: https://api.example.com/v1
display_name: Thandi
reconnect:
  max_attempts: 3
  base_delay: 250ms
  max_delay: 4s
`)
	t.Setenv("CONFIG_ENV", "unittest")
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RelayURL != "wss://relay.example.com/ws" || cfg.DisplayName != "Thandi" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Reconnect.MaxAttempts != 3 || cfg.Reconnect.MaxDelay != 4*time.Second {
		t.Errorf("reconnect not applied: %+v", cfg.Reconnect)
	}
	// untouched keys keep their defaults
	if cfg.PingPeriod != 54*time.Second || cfg.ReadLimit != 32768 {
		t.Errorf("defaults lost when merging: ping=%s read_limit=%d", cfg.PingPeriod, cfg.ReadLimit)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
relay_url: not-a-url
`)
	t.Setenv("CONFIG_ENV", "unittest")
	chdir(t, dir)

	if _, err := Load(); err == nil {
		t.Fatal("want validation error for a broken relay url")
	}
}

func TestLoadRejectsOutOfRangeReconnect(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
reconnect:
  max_attempts: 50
`)
	t.Setenv("CONFIG_ENV", "unittest")
	chdir(t, dir)

	if _, err := Load(); err == nil {
		t.Fatal("want validation error for max_attempts out of range")
	}
}

// chdir switches to dir for the duration of the test, like t.Chdir in newer Go.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatalf("chdir back: %v", err)
		}
	})
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, "config", "config.unittest.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}
