package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func providerWithEnv(filename string, env map[string]string) *YAMLProvider {
	p := NewYAMLProvider(filename)
	p.getenv = func(k string) string { return env[k] }
	return p
}

func TestDefaultsWithoutFile(t *testing.T) {
	c, err := providerWithEnv("", nil).LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if c.Storage.Backend != BackendSQLite || c.Storage.SQLite.Path != DefaultSQLitePath {
		t.Errorf("storage = %+v", c.Storage)
	}
	if c.Server.Port != 5000 || c.Server.ListenAddr != "0.0.0.0" {
		t.Errorf("server = %+v", c.Server)
	}
	if c.Trainer.Contamination != 0.01 || c.Trainer.MinSamples != 20 || c.Trainer.Seed() != 42 {
		t.Errorf("trainer = %+v", c.Trainer)
	}
	if d, _ := c.Trainer.TrainingInterval(); d != time.Hour {
		t.Errorf("interval = %v", d)
	}
	if c.Alerting.DefaultThresholds.Tier3 != 0.050 || c.Alerting.BatteryLimit() != 20 {
		t.Errorf("alerting = %+v", c.Alerting)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: postgres
  postgres:
    connection_string: "host=db password=${PGPASS}"
server:
  port: 8080
  admin_token: ${TOKEN}
trainer:
  random_seed: 0
  interval: 30m
`)
	c, err := providerWithEnv(path, map[string]string{"PGPASS": "s3cret", "TOKEN": "abc"}).LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.Storage.Postgres.ConnectionString != "host=db password=s3cret" {
		t.Errorf("connection string = %q", c.Storage.Postgres.ConnectionString)
	}
	if c.Server.AdminToken != "abc" || c.Server.Port != 8080 {
		t.Errorf("server = %+v", c.Server)
	}
	if c.Trainer.Seed() != 0 {
		t.Errorf("explicit zero seed replaced by %d", c.Trainer.Seed())
	}
}

func TestCloudEnvironmentSelectsPostgres(t *testing.T) {
	env := map[string]string{
		"DB_HOST":        "db.internal",
		"DB_PORT":        "5432",
		"DB_NAME":        "sinkbot",
		"DB_USER":        "bot",
		"ADMIN_PASSWORD": "hunter2",
	}
	c, err := providerWithEnv("", env).LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.Storage.Backend != BackendPostgres {
		t.Fatalf("backend = %s", c.Storage.Backend)
	}
	want := "host=db.internal port=5432 dbname=sinkbot user=bot"
	if c.Storage.Postgres.ConnectionString != want {
		t.Errorf("connection string = %q, want %q", c.Storage.Postgres.ConnectionString, want)
	}
	if c.Server.AdminToken != "hunter2" {
		t.Errorf("admin token = %q", c.Server.AdminToken)
	}
}

func TestLowBatteryPercent(t *testing.T) {
	tests := []struct {
		name string
		body string
		want float64
	}{
		{"default", "server:\n  port: 5000\n", 20},
		{"explicit", "alerting:\n  low_battery_percent: 35\n", 35},
		{"disabled", "alerting:\n  low_battery_percent: 0\n", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := providerWithEnv(writeConfig(t, tt.body), nil).LoadConfig()
			if err != nil {
				t.Fatalf("LoadConfig: %v", err)
			}
			if got := c.Alerting.BatteryLimit(); got != tt.want {
				t.Errorf("BatteryLimit() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"unknown backend", "storage:\n  backend: influx\n", "unknown storage backend"},
		{"postgres without dsn", "storage:\n  backend: postgres\n", "connection_string"},
		{"contamination too high", "trainer:\n  contamination: 0.9\n", "contamination"},
		{"min samples", "trainer:\n  min_samples: 1\n", "min_samples"},
		{"bad interval", "trainer:\n  interval: soon\n", "interval"},
		{"non-monotonic defaults", "alerting:\n  default_thresholds: {tier1: 0.05, tier2: 0.03, tier3: 0.1}\n", "default_thresholds"},
		{"cert without key", "server:\n  cert: a.pem\n", "cert"},
		{"battery above 100", "alerting:\n  low_battery_percent: 120\n", "low_battery_percent"},
		{"unknown field", "server:\n  prot: 80\n", "prot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := providerWithEnv(writeConfig(t, tt.body), nil).LoadConfig()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestSectionGettersLoadLazily(t *testing.T) {
	p := providerWithEnv("", nil)
	s, err := p.GetServerConfig()
	if err != nil {
		t.Fatalf("GetServerConfig: %v", err)
	}
	if s.Port != 5000 {
		t.Errorf("port = %d", s.Port)
	}
	if !p.IsReadOnly() {
		t.Error("YAML provider should be read-only")
	}
}
