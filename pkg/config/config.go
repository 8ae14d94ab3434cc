package config

import (
	"fmt"
	"time"

	"github.com/chain-relay/evmindexor/internal/common"
)

// Config is the ambient configuration tree for an evmindexor process:
// database connection parameters, RPC retry behavior, background
// maintenance, logging, and metrics. Per-network, per-contract, per-event
// indexing declarations live in the CLI's manifest type instead (cmd/indexer),
// which this package does not know about.
type Config struct {
	// DB contains the SQLite connection and pragma configuration shared by
	// the progress store and the reorg block-hash cache.
	DB DatabaseConfig `koanf:"db" toml:"db" json:"db"`

	// Retry controls the backoff behavior of the RPC client.
	Retry RetryConfig `koanf:"retry" toml:"retry" json:"retry"`

	// Maintenance controls periodic WAL checkpointing and VACUUM.
	Maintenance MaintenanceConfig `koanf:"maintenance" toml:"maintenance" json:"maintenance"`

	// Logging controls the process-wide logger.
	Logging LoggingConfig `koanf:"logging" toml:"logging" json:"logging"`

	// Metrics controls the Prometheus exposition endpoint.
	Metrics MetricsConfig `koanf:"metrics" toml:"metrics" json:"metrics"`
}

// RetryConfig controls the exponential backoff applied to retryable RPC
// errors.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `koanf:"max_attempts" toml:"max_attempts" json:"max_attempts"`

	// InitialBackoff is the delay before the first retry.
	InitialBackoff common.Duration `koanf:"initial_backoff" toml:"initial_backoff" json:"initial_backoff"`

	// MaxBackoff caps the computed delay regardless of attempt count.
	MaxBackoff common.Duration `koanf:"max_backoff" toml:"max_backoff" json:"max_backoff"`

	// BackoffMultiplier scales the delay on each successive attempt.
	BackoffMultiplier float64 `koanf:"backoff_multiplier" toml:"backoff_multiplier" json:"backoff_multiplier"`
}

// ApplyDefaults sets default values for optional retry configuration fields.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(500 * time.Millisecond)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second)
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database.
	Path string `koanf:"path" toml:"path" json:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE").
	// WAL mode is recommended for better concurrency.
	JournalMode string `koanf:"journal_mode" toml:"journal_mode" json:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF").
	// NORMAL provides a good balance between safety and performance.
	Synchronous string `koanf:"synchronous" toml:"synchronous" json:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked.
	BusyTimeout int `koanf:"busy_timeout" toml:"busy_timeout" json:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages).
	CacheSize int `koanf:"cache_size" toml:"cache_size" json:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections.
	MaxOpenConnections int `koanf:"max_open_connections" toml:"max_open_connections" json:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool.
	MaxIdleConnections int `koanf:"max_idle_connections" toml:"max_idle_connections" json:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement.
	EnableForeignKeys bool `koanf:"enable_foreign_keys" toml:"enable_foreign_keys" json:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
	// EnableForeignKeys defaults to false (zero value).
}

// MaintenanceConfig controls the background WAL checkpoint / VACUUM worker.
type MaintenanceConfig struct {
	// Enabled turns on the background maintenance worker.
	Enabled bool `koanf:"enabled" toml:"enabled" json:"enabled"`

	// CheckInterval is how often the worker wakes up to run maintenance.
	CheckInterval common.Duration `koanf:"check_interval" toml:"check_interval" json:"check_interval"`

	// VacuumOnStartup runs one maintenance pass immediately on Start.
	VacuumOnStartup bool `koanf:"vacuum_on_startup" toml:"vacuum_on_startup" json:"vacuum_on_startup"`

	// WALCheckpointMode is the PRAGMA wal_checkpoint mode: PASSIVE, FULL,
	// RESTART, or TRUNCATE.
	WALCheckpointMode string `koanf:"wal_checkpoint_mode" toml:"wal_checkpoint_mode" json:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = common.NewDuration(10 * time.Minute)
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// LoggingConfig controls the process-wide logger.
type LoggingConfig struct {
	// Level is the minimum zap level name ("debug", "info", "warn", "error").
	Level string `koanf:"level" toml:"level" json:"level"`

	// Development switches to zap's human-readable console encoder.
	Development bool `koanf:"development" toml:"development" json:"development"`
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	// Enabled turns on the metrics HTTP listener.
	Enabled bool `koanf:"enabled" toml:"enabled" json:"enabled"`

	// ListenAddress is the address the metrics server binds, e.g. ":9090".
	ListenAddress string `koanf:"listen_address" toml:"listen_address" json:"listen_address"`

	// Path is the HTTP path the Prometheus handler is mounted on.
	Path string `koanf:"path" toml:"path" json:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// ApplyDefaults sets default values for optional configuration fields across
// the whole tree.
func (c *Config) ApplyDefaults() {
	c.DB.ApplyDefaults()
	c.Retry.ApplyDefaults()
	c.Maintenance.ApplyDefaults()
	c.Logging.ApplyDefaults()
	c.Metrics.ApplyDefaults()
}

// Validate checks if the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}

	switch c.DB.JournalMode {
	case "WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY":
	default:
		return fmt.Errorf("db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	switch c.DB.Synchronous {
	case "FULL", "NORMAL", "OFF":
	default:
		return fmt.Errorf("db.synchronous must be one of: FULL, NORMAL, OFF")
	}

	switch c.Maintenance.WALCheckpointMode {
	case "PASSIVE", "FULL", "RESTART", "TRUNCATE":
	default:
		return fmt.Errorf("maintenance.wal_checkpoint_mode must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
	}

	return nil
}
