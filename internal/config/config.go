// Package config loads server configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Lock      LockConfig      `yaml:"lock"`
	FanOut    FanOutConfig    `yaml:"fanout"`
	StackSet  StackSetConfig  `yaml:"stackset"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Params    ParamsConfig    `yaml:"params"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// WorkflowConfig selects the durable execution engine. Engine is one of
// "sync", "goworkflows", or "dbos".
type WorkflowConfig struct {
	Engine                 string `yaml:"engine"`
	DBOSDatabaseURL        string `yaml:"dbos_database_url"`
	AttemptDeadlineSeconds int    `yaml:"attempt_deadline_seconds"`
}

func (c WorkflowConfig) AttemptDeadline() time.Duration {
	return time.Duration(c.AttemptDeadlineSeconds) * time.Second
}

// LockConfig selects the lock backend. Backend is "sqlite" or "redis".
type LockConfig struct {
	Backend              string `yaml:"backend"`
	RedisAddr            string `yaml:"redis_addr"`
	TTLSeconds           int    `yaml:"ttl_seconds"`
	RetryIntervalSeconds int    `yaml:"retry_interval_seconds"`
	MaxAttempts          int    `yaml:"max_attempts"`
}

func (c LockConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c LockConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSeconds) * time.Second
}

type FanOutConfig struct {
	PollIntervalSeconds      int `yaml:"poll_interval_seconds"`
	MaxPollIntervalSeconds   int `yaml:"max_poll_interval_seconds"`
	TimeoutSeconds           int `yaml:"timeout_seconds"`
	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`
}

func (c FanOutConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c FanOutConfig) MaxPollInterval() time.Duration {
	return time.Duration(c.MaxPollIntervalSeconds) * time.Second
}

func (c FanOutConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c FanOutConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

type StackSetConfig struct {
	Name string `yaml:"name"`
}

type ArtifactsConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// ParamsConfig selects the deployment parameter source. When Offline is
// true the static maps are used instead of SSM Parameter Store.
type ParamsConfig struct {
	Offline      bool                         `yaml:"offline"`
	SSMBasePath  string                       `yaml:"ssm_base_path"`
	Base         map[string]string            `yaml:"base"`
	Environments map[string]map[string]string `yaml:"environments"`
}

// Load reads configuration from path (if it exists), applies defaults
// for anything unset, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			Path: "./data/skylift.db",
		},
		Workflow: WorkflowConfig{
			Engine:                 "sync",
			AttemptDeadlineSeconds: 3600,
		},
		Lock: LockConfig{
			Backend:              "sqlite",
			TTLSeconds:           300,
			RetryIntervalSeconds: 5,
			MaxAttempts:          60,
		},
		FanOut: FanOutConfig{
			PollIntervalSeconds:      5,
			MaxPollIntervalSeconds:   60,
			TimeoutSeconds:           1800,
			HeartbeatIntervalSeconds: 30,
		},
		StackSet: StackSetConfig{
			Name: "skylift-app",
		},
		Artifacts: ArtifactsConfig{
			Bucket: "skylift-artifacts",
			Prefix: "releases",
		},
		Params: ParamsConfig{
			SSMBasePath: "/skylift",
		},
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if addr := os.Getenv("SKYLIFT_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if dbPath := os.Getenv("SKYLIFT_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if engine := os.Getenv("SKYLIFT_ENGINE"); engine != "" {
		cfg.Workflow.Engine = engine
	}
	if dbosURL := os.Getenv("SKYLIFT_DBOS_DATABASE_URL"); dbosURL != "" {
		cfg.Workflow.DBOSDatabaseURL = dbosURL
	}
	if backend := os.Getenv("SKYLIFT_LOCK_BACKEND"); backend != "" {
		cfg.Lock.Backend = backend
	}
	if redisAddr := os.Getenv("SKYLIFT_REDIS_ADDR"); redisAddr != "" {
		cfg.Lock.RedisAddr = redisAddr
	}
	if ttl := os.Getenv("SKYLIFT_LOCK_TTL_SECONDS"); ttl != "" {
		if v, err := strconv.Atoi(ttl); err == nil {
			cfg.Lock.TTLSeconds = v
		}
	}
	if name := os.Getenv("SKYLIFT_STACKSET_NAME"); name != "" {
		cfg.StackSet.Name = name
	}
	if bucket := os.Getenv("SKYLIFT_ARTIFACT_BUCKET"); bucket != "" {
		cfg.Artifacts.Bucket = bucket
	}
	if prefix := os.Getenv("SKYLIFT_ARTIFACT_PREFIX"); prefix != "" {
		cfg.Artifacts.Prefix = prefix
	}
	if offline := os.Getenv("SKYLIFT_PARAMS_OFFLINE"); offline == "true" {
		cfg.Params.Offline = true
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Workflow.Engine {
	case "sync", "goworkflows", "dbos":
	default:
		return fmt.Errorf("unknown workflow engine %q", c.Workflow.Engine)
	}
	if c.Workflow.Engine == "dbos" && c.Workflow.DBOSDatabaseURL == "" {
		return fmt.Errorf("workflow engine %q requires dbos_database_url", c.Workflow.Engine)
	}
	switch c.Lock.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("unknown lock backend %q", c.Lock.Backend)
	}
	if c.Lock.Backend == "redis" && c.Lock.RedisAddr == "" {
		return fmt.Errorf("lock backend %q requires redis_addr", c.Lock.Backend)
	}
	if c.Lock.TTLSeconds <= 0 {
		return fmt.Errorf("lock ttl_seconds must be positive, got %d", c.Lock.TTLSeconds)
	}
	if c.FanOut.PollIntervalSeconds <= 0 {
		return fmt.Errorf("fanout poll_interval_seconds must be positive, got %d", c.FanOut.PollIntervalSeconds)
	}
	return nil
}
