package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Monitor.RepeatInterval != 4*time.Hour {
		t.Errorf("repeat_interval default = %s", cfg.Monitor.RepeatInterval)
	}
	if cfg.Monitor.ManualCooldown != 30*time.Minute {
		t.Errorf("manual_cooldown default = %s", cfg.Monitor.ManualCooldown)
	}
	if cfg.Monitor.PendingTTL != 168*time.Hour {
		t.Errorf("pending_ttl default = %s", cfg.Monitor.PendingTTL)
	}
	if cfg.Monitor.Trigger.DailyHour != 9 || cfg.Monitor.Trigger.DailyMinute != 30 {
		t.Errorf("daily trigger default = %d:%d", cfg.Monitor.Trigger.DailyHour, cfg.Monitor.Trigger.DailyMinute)
	}
	if cfg.Fetcher.Source != "api" {
		t.Errorf("fetcher source default = %s", cfg.Fetcher.Source)
	}
}

func TestLoadRejectsInvalidTrigger(t *testing.T) {
	_, err := Load(writeConfig(t, "monitor:\n  trigger:\n    hourly_minute: 75\n"))
	if err == nil {
		t.Fatal("hourly_minute 75 should fail validation")
	}
}

func TestLoadRejectsTargetsWithoutRecipient(t *testing.T) {
	_, err := Load(writeConfig(t, `
targets:
  - symbol: fUSD
    threshold: 5.0
`))
	if err == nil {
		t.Fatal("top-level targets without recipient should fail validation")
	}
}

func TestLoadRejectsUnknownFetcherSource(t *testing.T) {
	_, err := Load(writeConfig(t, "fetcher:\n  source: carrier-pigeon\n"))
	if err == nil {
		t.Fatal("unknown fetcher source should fail validation")
	}
}

func TestMonitorGroupsSyntheticGroup(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
recipient: flat@example.com
targets:
  - symbol: fUSD
    threshold: 5.0
groups:
  - id: ops
    name: Ops
    email: ops@example.com
    targets:
      - symbol: fEUR
        exchange: kraken
        timeframe: 4h
        threshold: 3.0
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	groups := cfg.MonitorGroups()
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}

	flat := groups[0]
	if flat.ID != "" || flat.Email != "flat@example.com" || !flat.Enabled {
		t.Fatalf("synthetic group malformed: %+v", flat)
	}
	if key := flat.Targets[0].Key; key.Exchange != "bitfinex" || key.Timeframe != "1h" {
		t.Fatalf("flat target defaults not applied: %+v", key)
	}
	if !flat.Targets[0].Enabled {
		t.Fatal("targets default to enabled")
	}

	ops := groups[1]
	if ops.ID != "ops" || len(ops.Targets) != 1 {
		t.Fatalf("group malformed: %+v", ops)
	}
	if key := ops.Targets[0].Key; key.Exchange != "kraken" || key.Timeframe != "4h" {
		t.Fatalf("explicit target key not honoured: %+v", key)
	}
}

func TestMonitorWindowFailsOpenOnBadClock(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
monitor:
  window:
    enabled: true
    start: "nonsense"
    end: "18:00"
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	w := cfg.MonitorWindow(zerolog.Nop())
	if w.Enabled {
		t.Fatal("invalid window must fail open (disabled)")
	}
	if !w.IsOpen(time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)) {
		t.Fatal("failed-open window must always be open")
	}
}

func TestMonitorWindowParsesValidClocks(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
monitor:
  window:
    enabled: true
    start: "20:00"
    end: "06:00"
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	w := cfg.MonitorWindow(zerolog.Nop())
	if !w.Enabled || w.Start != 20*60 || w.End != 6*60 {
		t.Fatalf("window not parsed: %+v", w)
	}
}

func TestLoadRejectsEmailWithoutProviders(t *testing.T) {
	_, err := Load(writeConfig(t, `
alerting:
  email:
    enabled: true
`))
	if err == nil {
		t.Fatal("enabled email without providers should fail validation")
	}
}
