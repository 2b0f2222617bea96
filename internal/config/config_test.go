package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_Defaults(t *testing.T) {
	envVars := []string{
		"SKYLIFT_ADDR", "SKYLIFT_DB_PATH", "SKYLIFT_ENGINE",
		"SKYLIFT_LOCK_BACKEND", "SKYLIFT_REDIS_ADDR", "SKYLIFT_LOCK_TTL_SECONDS",
		"SKYLIFT_STACKSET_NAME", "SKYLIFT_ARTIFACT_BUCKET", "SKYLIFT_ARTIFACT_PREFIX",
		"SKYLIFT_PARAMS_OFFLINE",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Default Addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Workflow.Engine != "sync" {
		t.Errorf("Default Engine = %q, want %q", cfg.Workflow.Engine, "sync")
	}
	if cfg.Lock.Backend != "sqlite" {
		t.Errorf("Default Lock.Backend = %q, want %q", cfg.Lock.Backend, "sqlite")
	}
	if got := cfg.Lock.TTL(); got != 5*time.Minute {
		t.Errorf("Default Lock.TTL() = %v, want %v", got, 5*time.Minute)
	}
	if got := cfg.FanOut.Timeout(); got != 30*time.Minute {
		t.Errorf("Default FanOut.Timeout() = %v, want %v", got, 30*time.Minute)
	}
	if cfg.Params.SSMBasePath != "/skylift" {
		t.Errorf("Default SSMBasePath = %q, want %q", cfg.Params.SSMBasePath, "/skylift")
	}
}

func TestConfig_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  addr: ":9999"
workflow:
  engine: goworkflows
lock:
  backend: redis
  redis_addr: "localhost:6379"
  ttl_seconds: 120
params:
  offline: true
  base:
    LogLevel: info
  environments:
    prod:
      LogLevel: warn
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	os.Setenv("SKYLIFT_ENGINE", "sync")
	defer os.Unsetenv("SKYLIFT_ENGINE")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":9999" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, ":9999")
	}
	// Environment takes precedence over the file.
	if cfg.Workflow.Engine != "sync" {
		t.Errorf("Workflow.Engine = %q, want %q", cfg.Workflow.Engine, "sync")
	}
	if cfg.Lock.Backend != "redis" || cfg.Lock.RedisAddr != "localhost:6379" {
		t.Errorf("Lock = %+v, want redis backend at localhost:6379", cfg.Lock)
	}
	if got := cfg.Lock.TTL(); got != 2*time.Minute {
		t.Errorf("Lock.TTL() = %v, want %v", got, 2*time.Minute)
	}
	if !cfg.Params.Offline {
		t.Error("Params.Offline = false, want true")
	}
	if cfg.Params.Environments["prod"]["LogLevel"] != "warn" {
		t.Errorf("Params.Environments[prod][LogLevel] = %q, want %q",
			cfg.Params.Environments["prod"]["LogLevel"], "warn")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"unknown engine", func(c *Config) { c.Workflow.Engine = "temporal" }, true},
		{"dbos without url", func(c *Config) { c.Workflow.Engine = "dbos" }, true},
		{"dbos with url", func(c *Config) {
			c.Workflow.Engine = "dbos"
			c.Workflow.DBOSDatabaseURL = "postgres://localhost/dbos"
		}, false},
		{"unknown lock backend", func(c *Config) { c.Lock.Backend = "zookeeper" }, true},
		{"redis without addr", func(c *Config) { c.Lock.Backend = "redis" }, true},
		{"zero lock ttl", func(c *Config) { c.Lock.TTLSeconds = 0 }, true},
		{"zero poll interval", func(c *Config) { c.FanOut.PollIntervalSeconds = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.mutate(cfg)
			err = cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
