// Package config reads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the complete server configuration
type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Database    DatabaseConfig
	Moderation  ModerationConfig
	Replication ReplicationConfig
	SMTP        SMTPConfig
	Tracing     TracingConfig
}

type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
	MetricsInterval time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type DatabaseConfig struct {
	Backend string
	Path    string
}

type ModerationConfig struct {
	// PolicyPath is the JSON moderation policy file
	PolicyPath string
	// SeedUsersPath lists accounts to create at startup
	SeedUsersPath string
}

// ReplicationConfig enables mirroring to MongoDB when MongoURI is set
type ReplicationConfig struct {
	MongoURI      string
	MongoDatabase string
	Interval      time.Duration
	BatchSize     int
	MaxAttempts   int
}

// Enabled reports whether a remote mirror is configured
func (c ReplicationConfig) Enabled() bool {
	return c.MongoURI != ""
}

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

type TracingConfig struct {
	// Endpoint is the OTLP HTTP collector (host:port). Empty disables tracing.
	Endpoint string
	// SampleRatio is the fraction of root spans kept, 0..1
	SampleRatio float64
}

// Load reads a .env file if present and then the process environment
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a getenv function
func FromEnv(getenv func(string) string) (*Config, error) {
	e := env{getenv: getenv}

	cfg := &Config{
		Server: ServerConfig{
			Port:            e.str("PORT", "8080"),
			ShutdownTimeout: e.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
			MetricsInterval: e.duration("METRICS_INTERVAL", 30*time.Second),
		},
		Log: LogConfig{
			Level:  e.str("LOG_LEVEL", "info"),
			Format: e.str("LOG_FORMAT", "console"),
		},
		Database: DatabaseConfig{
			Backend: e.str("STUDYHALL_DB_BACKEND", "bolt"),
			Path:    e.str("STUDYHALL_DB_PATH", ""),
		},
		Moderation: ModerationConfig{
			PolicyPath:    e.str("STUDYHALL_POLICY_PATH", ""),
			SeedUsersPath: e.str("STUDYHALL_SEED_USERS", ""),
		},
		Replication: ReplicationConfig{
			MongoURI:      e.str("STUDYHALL_MONGO_URI", ""),
			MongoDatabase: e.str("STUDYHALL_MONGO_DB", "studyhall"),
			Interval:      e.duration("STUDYHALL_REPLICATION_INTERVAL", 5*time.Second),
			BatchSize:     e.int("STUDYHALL_REPLICATION_BATCH", 100),
			MaxAttempts:   e.int("STUDYHALL_REPLICATION_MAX_ATTEMPTS", 10),
		},
		SMTP: SMTPConfig{
			Host: e.str("SMTP_HOST", ""),
			Port: e.int("SMTP_PORT", 587),
			User: e.str("SMTP_USER", ""),
			Pass: e.str("SMTP_PASS", ""),
			From: e.str("SMTP_FROM", ""),
		},
		Tracing: TracingConfig{
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			SampleRatio: e.float("OTEL_TRACES_SAMPLER_ARG", 1),
		},
	}

	if e.err != nil {
		return nil, e.err
	}

	switch cfg.Database.Backend {
	case "bolt", "sqlite":
	default:
		return nil, fmt.Errorf("STUDYHALL_DB_BACKEND must be bolt or sqlite, got %q", cfg.Database.Backend)
	}
	if r := cfg.Tracing.SampleRatio; r < 0 || r > 1 {
		return nil, fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be between 0 and 1, got %v", r)
	}
	if cfg.Replication.Enabled() && cfg.Database.Backend != "bolt" {
		return nil, errors.New("STUDYHALL_MONGO_URI requires the bolt backend")
	}

	if cfg.Database.Path == "" {
		path, err := defaultDBPath(getenv, cfg.Database.Backend)
		if err != nil {
			return nil, err
		}
		cfg.Database.Path = path
	}

	return cfg, nil
}

// defaultDBPath puts the database under the XDG data directory so the
// server can run from read-only locations
func defaultDBPath(getenv func(string) string, backend string) (string, error) {
	dataDir := getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	name := "studyhall.db"
	if backend == "sqlite" {
		name = "studyhall.sqlite"
	}
	return filepath.Join(dataDir, "studyhall", name), nil
}

// env collects the first parse error so FromEnv can report it once
type env struct {
	getenv func(string) string
	err    error
}

func (e *env) str(key, def string) string {
	if v := e.getenv(key); v != "" {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func (e *env) float(key string, def float64) float64 {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(fmt.Errorf("%s: invalid number %q", key, v))
		return def
	}
	return f
}

func (e *env) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}
