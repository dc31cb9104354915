// Package config loads snitch settings from a YAML file and the
// environment.
//
// Load reads the file (a missing file yields the defaults), applies
// SNITCH_* environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read when neither --config nor SNITCH_CONF_FILE is set.
const DefaultPath = "/etc/snitch/snitch.yml"

// PathEnv names the environment variable holding the config file path.
const PathEnv = "SNITCH_CONF_FILE"

// Config is the full configuration.
type Config struct {
	DataDir     string `yaml:"data_dir"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	Backend     string `yaml:"backend"`
	MaxRetries  int    `yaml:"max_retries"`
	Concurrency int    `yaml:"concurrency"`

	SQLite  SQLite  `yaml:"sqlite"`
	Neo4j   Neo4j   `yaml:"neo4j"`
	Lock    Lock    `yaml:"lock"`
	Redis   Redis   `yaml:"redis"`
	Diff    Diff    `yaml:"diff"`
	Metrics Metrics `yaml:"metrics"`
}

type SQLite struct {
	Path string `yaml:"path"`
}

type Neo4j struct {
	URI                   string        `yaml:"uri"`
	Username              string        `yaml:"username"`
	Password              string        `yaml:"password"`
	Database              string        `yaml:"database"`
	MaxConnectionPoolSize int           `yaml:"max_connection_pool_size"`
	ConnectionTimeout     time.Duration `yaml:"connection_timeout"`
}

type Lock struct {
	Backend string        `yaml:"backend"` // graph | redis
	TTL     time.Duration `yaml:"ttl"`     // redis only; held locks are refreshed every ttl/3
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Diff configures the diff cache.
type Diff struct {
	Cache       string        `yaml:"cache"` // memory | redis
	TTL         time.Duration `yaml:"ttl"`
	ErrorTTL    time.Duration `yaml:"error_ttl"`
	InitialWait time.Duration `yaml:"initial_wait"`
	PageSize    int           `yaml:"page_size"`
}

type Metrics struct {
	// Textfile receives the metrics after every sync when set.
	Textfile string `yaml:"textfile"`
}

// Default returns the configuration used for absent keys.
func Default() Config {
	return Config{
		DataDir:     "/var/lib/snitch/data",
		LogLevel:    "info",
		LogFormat:   "text",
		Backend:     "sqlite",
		MaxRetries:  5,
		Concurrency: 1,
		SQLite:      SQLite{Path: "/var/lib/snitch/snitch.db"},
		Neo4j: Neo4j{
			URI:                   "bolt://localhost:7687",
			Username:              "neo4j",
			Database:              "neo4j",
			MaxConnectionPoolSize: 50,
			ConnectionTimeout:     30 * time.Second,
		},
		Lock:  Lock{Backend: "graph", TTL: time.Hour},
		Redis: Redis{Addr: "localhost:6379"},
		Diff: Diff{
			Cache:       "memory",
			TTL:         time.Hour,
			ErrorTTL:    time.Minute,
			InitialWait: 5 * time.Second,
			PageSize:    1000,
		},
	}
}

// Path resolves the config file path from flag, then SNITCH_CONF_FILE.
func Path(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads path over the defaults, applies environment overrides and
// validates.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		env string
		dst *string
	}{
		{"SNITCH_DATA_DIR", &c.DataDir},
		{"SNITCH_LOG_LEVEL", &c.LogLevel},
		{"SNITCH_BACKEND", &c.Backend},
		{"SNITCH_SQLITE_PATH", &c.SQLite.Path},
		{"SNITCH_NEO4J_URI", &c.Neo4j.URI},
		{"SNITCH_NEO4J_USERNAME", &c.Neo4j.Username},
		{"SNITCH_NEO4J_PASSWORD", &c.Neo4j.Password},
		{"SNITCH_REDIS_ADDR", &c.Redis.Addr},
	}
	for _, s := range strs {
		if v, ok := lookup(s.env); ok {
			*s.dst = v
		}
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"SNITCH_MAX_RETRIES", &c.MaxRetries},
		{"SNITCH_CONCURRENCY", &c.Concurrency},
	}
	for _, i := range ints {
		v, ok := lookup(i.env)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", i.env, err)
		}
		*i.dst = n
	}
	return nil
}

// Validate rejects unknown enum values and non-positive limits.
func (c Config) Validate() error {
	var errs []error
	oneOf := func(field, v string, allowed ...string) {
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: %q is not one of %s", field, v, strings.Join(allowed, ", ")))
	}
	oneOf("log_level", c.LogLevel, "debug", "info", "warn", "error")
	oneOf("log_format", c.LogFormat, "text", "json")
	oneOf("backend", c.Backend, "sqlite", "neo4j")
	oneOf("lock.backend", c.Lock.Backend, "graph", "redis")
	oneOf("diff.cache", c.Diff.Cache, "memory", "redis")

	if c.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("max_retries must be positive, got %d", c.MaxRetries))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.Diff.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("diff.page_size must be positive, got %d", c.Diff.PageSize))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	return errors.Join(errs...)
}

// Level returns the slog level of LogLevel.
func (c Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
