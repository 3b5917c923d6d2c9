package config_test

import (
	"testing"
	"time"

	"eventreservoir/internal/config"
)

func TestFromYAMLOverridesDefaults(t *testing.T) {
	raw := []byte(`
server:
  addr: ":8080"
kiosk:
  server_url: "http://10.0.0.5:8080/api"
  push_interval: 10s
  backup:
    keep: 3
log:
  level: debug
  format: json
`)
	cfg, err := config.FromYAML(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr: %s", cfg.Server.Addr)
	}
	if cfg.Kiosk.PushInterval.Std() != 10*time.Second {
		t.Fatalf("push interval: %v", cfg.Kiosk.PushInterval.Std())
	}
	// untouched fields keep defaults
	if cfg.Kiosk.PullInterval.Std() != 5*time.Minute {
		t.Fatalf("pull interval default: %v", cfg.Kiosk.PullInterval.Std())
	}
	if cfg.Kiosk.Backup.Keep != 3 {
		t.Fatalf("keep: %d", cfg.Kiosk.Backup.Keep)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("log format: %s", cfg.Log.Format)
	}
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad duration":  "kiosk:\n  push_interval: soon\n",
		"zero interval": "kiosk:\n  push_interval: 0s\n",
		"bad format":    "log:\n  format: xml\n",
		"empty url":     "kiosk:\n  server_url: \"\"\n",
	}
	for name, raw := range cases {
		if _, err := config.FromYAML([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":5000" {
		t.Fatalf("expected defaults, got %+v", cfg.Server)
	}
}
