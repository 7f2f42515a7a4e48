package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Journal.Backend != "file" || cfg.Journal.Threshold != 85 {
		t.Fatalf("unexpected journal defaults: %+v", cfg.Journal)
	}
	if cfg.Scheduler.Interval != 24*time.Hour {
		t.Fatalf("unexpected scheduler interval: %v", cfg.Scheduler.Interval)
	}
	if cfg.Intelligence.Weights != (WeightsConfig{Geopolitical: 0.3, Technical: 0.3, ML: 0.4}) {
		t.Fatalf("unexpected weights: %+v", cfg.Intelligence.Weights)
	}
	if cfg.Retrain.ConsecutiveDays != 3 || cfg.Model.Trees != 150 {
		t.Fatalf("unexpected retrain/model defaults: %+v %+v", cfg.Retrain, cfg.Model)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
journal:
  backend: file
  path: /tmp/j.jsonl
scheduler:
  interval: 12h
  tickers: [NVDA, INTC]
retrain:
  builder_command: ["./rebuild.sh", "--fast"]
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PRICECAST_INTELLIGENCE_ALERT_BELOW", "55")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Journal.Path != "/tmp/j.jsonl" || cfg.Scheduler.Interval != 12*time.Hour {
		t.Fatalf("file values not applied: %+v %+v", cfg.Journal, cfg.Scheduler)
	}
	if len(cfg.Scheduler.Tickers) != 2 || cfg.Scheduler.Tickers[1] != "INTC" {
		t.Fatalf("unexpected tickers: %v", cfg.Scheduler.Tickers)
	}
	if len(cfg.Retrain.BuilderCommand) != 2 {
		t.Fatalf("unexpected builder command: %v", cfg.Retrain.BuilderCommand)
	}
	if cfg.Intelligence.AlertBelow != 55 {
		t.Fatalf("env override not applied: %v", cfg.Intelligence.AlertBelow)
	}
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	base, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	cases := map[string]func(c *Config){
		"postgres without dsn": func(c *Config) { c.Journal.Backend = "postgres" },
		"unknown backend":      func(c *Config) { c.Journal.Backend = "sqlite" },
		"threshold too high":   func(c *Config) { c.Journal.Threshold = 120 },
		"zero weights":         func(c *Config) { c.Intelligence.Weights = WeightsConfig{} },
		"short history":        func(c *Config) { c.Model.MinHistory = 10 },
		"telegram no token":    func(c *Config) { c.Alerting.Telegram.Enabled = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := *base
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	c := &Config{Export: ExportConfig{MaxDataPoints: 10}}
	if c.ResolveMaxPoints(0) != 10 || c.ResolveMaxPoints(3) != 3 {
		t.Fatal("unexpected max points resolution")
	}
}

// chdir switches the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore wd: %v", err)
		}
	})
}
