package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the instrument daemon.
// All configuration is loaded from YAML and can be overridden by
// environment variables.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Instruments InstrumentsConfig `yaml:"instruments"`
	History     HistoryConfig     `yaml:"history"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	SendBuffer     int    `yaml:"send_buffer"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	MaxMessageSize int    `yaml:"max_message_size"`
}

// InfluxDBConfig contains the measurement sink settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// InstrumentsConfig contains the instrument defaults and the declared
// connection entries the daemon brings up at startup.
type InstrumentsConfig struct {
	// CachingAllowed is the tree-wide default caching permission applied
	// to every driver the daemon constructs.
	CachingAllowed bool `yaml:"caching_allowed"`

	// AutoOpen makes the first property access open a connection that
	// was never opened explicitly.
	AutoOpen bool `yaml:"auto_open"`

	// Connections declares the instruments to instantiate at startup.
	Connections []InstrumentEntry `yaml:"connections"`
}

// InstrumentEntry declares one instrument connection.
type InstrumentEntry struct {
	// Name is the registered driver name in the driver registry.
	Name string `yaml:"name"`

	// Transport selects the wire implementation: tcp, mqtt or sim.
	Transport string `yaml:"transport"`

	// Address is the instrument (tcp) or broker (mqtt) host:port.
	Address string `yaml:"address"`

	// BaseTopic is the instrument's topic prefix for mqtt transports.
	BaseTopic string `yaml:"base_topic"`

	// CachingPermissions disables caching for the named dotted property
	// paths on this instrument, overriding the property declarations.
	CachingPermissions map[string]bool `yaml:"caching_permissions"`
}

// HistoryConfig contains property history retention settings.
type HistoryConfig struct {
	// RecordReads persists observed values as well as programmed ones.
	RecordReads bool `yaml:"record_reads"`

	// RetentionDays bounds how long history rows are kept; 0 disables
	// pruning.
	RetentionDays int `yaml:"retention_days"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: INSTRUMENTD_SECTION_KEY.
// For example: INSTRUMENTD_DATABASE_PATH, INSTRUMENTD_API_HOST.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/instrumentd.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			SendBuffer:     64,
			PingInterval:   30,
			PongTimeout:    10,
			MaxMessageSize: 4096,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Instruments: InstrumentsConfig{
			CachingAllowed: true,
			AutoOpen:       true,
		},
		History: HistoryConfig{
			RetentionDays: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INSTRUMENTD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("INSTRUMENTD_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("INSTRUMENTD_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("INSTRUMENTD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("INSTRUMENTD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}
	if c.History.RetentionDays < 0 {
		errs = append(errs, "history.retention_days must not be negative")
	}

	seen := make(map[string]bool, len(c.Instruments.Connections))
	for i, entry := range c.Instruments.Connections {
		if entry.Name == "" {
			errs = append(errs, fmt.Sprintf("instruments.connections[%d].name is required", i))
			continue
		}
		if seen[entry.Name] {
			errs = append(errs, fmt.Sprintf("instruments.connections: duplicate name %q", entry.Name))
		}
		seen[entry.Name] = true

		switch entry.Transport {
		case "", "sim":
		case "tcp":
			if entry.Address == "" {
				errs = append(errs, fmt.Sprintf("instruments.connections[%d]: tcp needs an address", i))
			}
		case "mqtt":
			if entry.Address == "" || entry.BaseTopic == "" {
				errs = append(errs, fmt.Sprintf("instruments.connections[%d]: mqtt needs an address and base_topic", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("instruments.connections[%d]: unknown transport %q", i, entry.Transport))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// HistoryRetention returns the history retention window; zero when
// pruning is disabled.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}
