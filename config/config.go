// Package config provides configuration management for the council command.
// It supports loading configuration from YAML files, environment variables, and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/council-search/pkg/db"
	"github.com/otherjamesbrown/council-search/pkg/logging"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable plain text output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COUNCIL_"

// Default configuration values.
const (
	DefaultConfigDir    = ".council"
	DefaultConfigFile   = "config.yaml"
	DefaultSQLitePath   = "~/.council/council.db"
	DefaultHTTPAddr     = ":8000"
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 60 * time.Second
	DefaultRedisAddr    = "localhost:6379"
	DefaultConcurrency  = 4
	DefaultFetchTimeout = 60 * time.Second
	DefaultUserAgent    = "council-search"
	DefaultFullInterval = 7 * 24 * time.Hour
	DefaultNewInterval  = 24 * time.Hour
	MaxConcurrency      = 64
)

// StorageConfig selects the storage backend.
type StorageConfig struct {
	// Driver is sqlite or postgres.
	Driver string `yaml:"driver" env:"DRIVER"`

	// SQLitePath is the database file for the sqlite driver. Supports ~.
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
}

// RedisConfig holds the event publisher connection.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password,omitempty" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// HTTPConfig holds the API server settings.
type HTTPConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

// IngestConfig holds ingestion and scheduling settings.
type IngestConfig struct {
	// Enabled runs the periodic re-ingestion schedule inside `council serve`.
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	Concurrency  int           `yaml:"concurrency" env:"CONCURRENCY"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT"`
	UserAgent    string        `yaml:"user_agent" env:"USER_AGENT"`
	FullInterval time.Duration `yaml:"full_interval" env:"FULL_INTERVAL"`
	NewInterval  time.Duration `yaml:"new_interval" env:"NEW_INTERVAL"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level       string `yaml:"level" env:"LEVEL"`
	JSON        bool   `yaml:"json" env:"JSON"`
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
}

// LoggerConfig converts to a logging.Config.
func (c LoggingConfig) LoggerConfig() *logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.Level(c.Level)
	cfg.JSONFormat = c.JSON
	if c.Environment != "" {
		cfg.Environment = c.Environment
	}
	return cfg
}

// Config holds the council configuration settings.
type Config struct {
	Storage      StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`
	Postgres     db.Config     `yaml:"postgres" envPrefix:"POSTGRES_"`
	Redis        RedisConfig   `yaml:"redis" envPrefix:"REDIS_"`
	HTTP         HTTPConfig    `yaml:"http" envPrefix:"HTTP_"`
	Ingest       IngestConfig  `yaml:"ingest" envPrefix:"INGEST_"`
	Logging      LoggingConfig `yaml:"logging" envPrefix:"LOG_"`
	OutputFormat OutputFormat  `yaml:"output_format" env:"OUTPUT_FORMAT"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:     DriverSQLite,
			SQLitePath: DefaultSQLitePath,
		},
		Postgres: *db.DefaultConfig(),
		Redis: RedisConfig{
			Addr: DefaultRedisAddr,
		},
		HTTP: HTTPConfig{
			Addr:         DefaultHTTPAddr,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
		},
		Ingest: IngestConfig{
			Concurrency:  DefaultConcurrency,
			FetchTimeout: DefaultFetchTimeout,
			UserAgent:    DefaultUserAgent,
			FullInterval: DefaultFullInterval,
			NewInterval:  DefaultNewInterval,
		},
		Logging: LoggingConfig{
			Level:       string(logging.LevelInfo),
			Environment: "development",
		},
		OutputFormat: OutputFormatText,
	}
}

// ConfigDir returns the configuration directory path.
// Uses $COUNCIL_CONFIG_DIR if set, otherwise ~/.council
func ConfigDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// Load loads the configuration from the default path. See LoadFrom.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}
	return LoadFrom(path)
}

// LoadFrom loads the configuration. Later sources override earlier:
// 1. Default values
// 2. The YAML file at path, when it exists
// 3. COUNCIL_* environment variables
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg. Keys absent from the file keep
// their current values.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if err := c.Postgres.Validate(); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	default:
		return fmt.Errorf("invalid storage.driver: %q (must be sqlite or postgres)", c.Storage.Driver)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}

	if c.Ingest.Concurrency < 1 || c.Ingest.Concurrency > MaxConcurrency {
		return fmt.Errorf("ingest.concurrency must be between 1 and %d", MaxConcurrency)
	}
	if c.Ingest.FetchTimeout <= 0 {
		return fmt.Errorf("ingest.fetch_timeout must be positive")
	}
	if c.Ingest.FullInterval <= 0 || c.Ingest.NewInterval <= 0 {
		return fmt.Errorf("ingest intervals must be positive")
	}

	switch logging.Level(strings.ToLower(c.Logging.Level)) {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return fmt.Errorf("invalid logging.level: %q (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("invalid output_format: %q (must be text, json, or yaml)", c.OutputFormat)
	}

	return nil
}

// SQLitePath returns the expanded sqlite database path.
func (c *Config) SQLitePath() (string, error) {
	return ExpandPath(c.Storage.SQLitePath)
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// SaveConfig writes cfg to the config file. Secrets are never written.
func SaveConfig(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveConfigTo(cfg, path)
}

// SaveConfigTo writes cfg to path.
func SaveConfigTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	out := *cfg
	out.Redis.Password = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
