package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source != SourceGoogle || cfg.HorizonDays != 7 || cfg.AtCommand != "at" {
		t.Errorf("defaults = %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config perms = %o, want 0600", perm)
	}
}

func TestLoadNormalizesPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	partial := "source: ics\nics_url: https://example.com/feed.ics\nhorizon_days: 0\n"
	if err := os.WriteFile(path, []byte(partial), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source != SourceICS || cfg.ICSURL != "https://example.com/feed.ics" {
		t.Errorf("explicit values lost: %+v", cfg)
	}
	if cfg.HorizonDays != 7 || cfg.SyncCron == "" || cfg.SchedulerTimeoutSec <= 0 {
		t.Errorf("defaults not filled: %+v", cfg)
	}
}

func TestNormalizeRejectsUnknownSource(t *testing.T) {
	cfg := &Config{Source: "carrier-pigeon"}
	cfg.Normalize()
	if cfg.Source != SourceGoogle {
		t.Errorf("source = %q, want fallback to google", cfg.Source)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.CalendarID = "me@example.com"
	cfg.SyncCron = "*/5 * * * *"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.CalendarID != "me@example.com" || loaded.SyncCron != "*/5 * * * *" {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}
