// Package config loads, validates, and persists the romstack server
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/romstack/romstack/internal/bytesize"
	"github.com/romstack/romstack/pkg/api"
	"github.com/romstack/romstack/pkg/catalog/store"
)

// Config represents the romstack server configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (ROMSTACK_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database configures the catalog database (SQLite or PostgreSQL)
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Metrics controls Prometheus collection. The /metrics endpoint is
	// served on the API port.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the REST/SSE server configuration
	API api.Config `mapstructure:"api" yaml:"api"`

	// Ingest controls the chunked upload pipeline and storage roots
	Ingest IngestConfig `mapstructure:"ingest" yaml:"ingest"`

	// Assembly controls the background assembly worker pool
	Assembly AssemblyConfig `mapstructure:"assembly" yaml:"assembly"`

	// Maintenance controls the scheduled janitor jobs
	Maintenance MaintenanceConfig `mapstructure:"maintenance" yaml:"maintenance"`

	// Metadata configures the enrichment sources and cache
	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`

	// Offload configures the optional S3 cold mirror
	Offload OffloadConfig `mapstructure:"offload" yaml:"offload"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig controls Prometheus metrics collection.
// When Enabled is false, no collectors are registered (zero overhead).
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// IngestConfig controls the upload pipeline and the two storage roots.
type IngestConfig struct {
	// TempDir holds per-upload scope directories for in-flight chunks.
	// Default: $XDG_DATA_HOME/romstack/tmp
	TempDir string `mapstructure:"temp_dir" validate:"required" yaml:"temp_dir"`

	// RomDir is the permanent library root. Finalized files land under
	// RomDir/<platform>/, required BIOS images under RomDir/bios/.
	// Default: $XDG_DATA_HOME/romstack/library
	RomDir string `mapstructure:"rom_dir" validate:"required" yaml:"rom_dir"`

	// UploadTimeout sets the expiry deadline stamped at initiation.
	// Default: 2h
	UploadTimeout time.Duration `mapstructure:"upload_timeout" validate:"omitempty,gt=0" yaml:"upload_timeout"`

	// ChunkWriteTimeout bounds a single durable chunk write.
	// Default: 60s
	ChunkWriteTimeout time.Duration `mapstructure:"chunk_write_timeout" validate:"omitempty,gt=0" yaml:"chunk_write_timeout"`

	// MaxConcurrentWrites bounds parallel chunk writes across uploads.
	// Default: 16
	MaxConcurrentWrites int `mapstructure:"max_concurrent_writes" validate:"omitempty,min=1" yaml:"max_concurrent_writes"`

	// MaxChunkSize rejects absurd chunk sizes at initiation.
	// Supports human-readable formats: "32Mi", "8MB", or plain bytes.
	// Default: 32Mi
	MaxChunkSize bytesize.ByteSize `mapstructure:"max_chunk_size" yaml:"max_chunk_size"`

	// ArchiveBombRatio caps an archive's declared-uncompressed over
	// compressed size. Default: 100
	ArchiveBombRatio int64 `mapstructure:"archive_bomb_ratio" validate:"omitempty,min=1" yaml:"archive_bomb_ratio"`

	// ProgressQueueDepth bounds each progress subscriber's pending events.
	// Default: 64
	ProgressQueueDepth int `mapstructure:"progress_queue_depth" validate:"omitempty,min=1" yaml:"progress_queue_depth"`
}

// AssemblyConfig controls the background assembly worker pool.
type AssemblyConfig struct {
	// Workers is the number of concurrent assembly pipelines. Default: 2
	Workers int `mapstructure:"workers" validate:"omitempty,min=1" yaml:"workers"`

	// QueueDepth bounds the pending-assembly queue. Default: 128
	QueueDepth int `mapstructure:"queue_depth" validate:"omitempty,min=1" yaml:"queue_depth"`
}

// MaintenanceConfig controls the scheduled janitor jobs. Schedules use
// standard cron syntax plus the @hourly/@weekly descriptors.
type MaintenanceConfig struct {
	ExpirySchedule     string `mapstructure:"expiry_schedule" yaml:"expiry_schedule"`
	ReclaimSchedule    string `mapstructure:"reclaim_schedule" yaml:"reclaim_schedule"`
	RollupSchedule     string `mapstructure:"rollup_schedule" yaml:"rollup_schedule"`
	DiskProbeSchedule  string `mapstructure:"disk_probe_schedule" yaml:"disk_probe_schedule"`
	CompactionSchedule string `mapstructure:"compaction_schedule" yaml:"compaction_schedule"`

	// TerminalRetention keeps finished upload rows queryable before reaping.
	// Default: 24h
	TerminalRetention time.Duration `mapstructure:"terminal_retention" validate:"omitempty,gt=0" yaml:"terminal_retention"`

	// ScopeGrace protects freshly modified temp directories from
	// reclamation. Default: 1h
	ScopeGrace time.Duration `mapstructure:"scope_grace" validate:"omitempty,gt=0" yaml:"scope_grace"`

	// StatsRetention bounds the platform statistics history. Default: 2160h
	// (90 days)
	StatsRetention time.Duration `mapstructure:"stats_retention" validate:"omitempty,gt=0" yaml:"stats_retention"`

	// Disk pressure thresholds in percent used.
	DiskWarnPercent  float64 `mapstructure:"disk_warn_percent" validate:"omitempty,gt=0,lte=100" yaml:"disk_warn_percent"`
	DiskErrorPercent float64 `mapstructure:"disk_error_percent" validate:"omitempty,gt=0,lte=100" yaml:"disk_error_percent"`
}

// MetadataConfig configures the enrichment layer.
type MetadataConfig struct {
	// CacheEntries caps the in-process lookup cache. Default: 2048
	CacheEntries int64 `mapstructure:"cache_entries" validate:"omitempty,min=1" yaml:"cache_entries"`

	// PerSourceTimeout bounds each provider call. Default: 30s
	PerSourceTimeout time.Duration `mapstructure:"per_source_timeout" validate:"omitempty,gt=0" yaml:"per_source_timeout"`

	// Sources lists remote metadata providers, tried in priority order.
	// The built-in filename heuristic always runs last.
	Sources []MetadataSourceConfig `mapstructure:"sources" validate:"dive" yaml:"sources,omitempty"`
}

// MetadataSourceConfig describes one remote metadata provider.
type MetadataSourceConfig struct {
	Name    string `mapstructure:"name" validate:"required" yaml:"name"`
	BaseURL string `mapstructure:"base_url" validate:"required,url" yaml:"base_url"`

	// APIKey is sent as X-Api-Key when set
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`

	// Priority orders providers; lower runs first
	Priority int `mapstructure:"priority" yaml:"priority"`

	// RatePerSecond throttles outgoing calls. <= 0 disables throttling.
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second,omitempty"`

	// MaxRetries bounds transient-error retries per call. Default: 3
	MaxRetries uint64 `mapstructure:"max_retries" yaml:"max_retries,omitempty"`
}

// OffloadConfig configures the optional S3-compatible cold mirror.
type OffloadConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	Bucket string `mapstructure:"bucket" validate:"required_if=Enabled true" yaml:"bucket,omitempty"`
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint overrides the AWS endpoint for S3-compatible stores
	// (MinIO, Ceph RGW). Leave empty for AWS.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// Static credentials. Leave empty to use the ambient AWS credential
	// chain (env, shared config, instance role).
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`

	// ForcePathStyle is required by most S3-compatible endpoints
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`

	// KeyPrefix is prepended to object keys. Default: "library/"
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`

	// BatchSize bounds entries mirrored per pass. Default: 32
	BatchSize int `mapstructure:"batch_size" validate:"omitempty,min=1" yaml:"batch_size,omitempty"`

	// Interval between mirror passes. Default: 15m
	Interval time.Duration `mapstructure:"interval" validate:"omitempty,gt=0" yaml:"interval,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (ROMSTACK_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// No config file means pure defaults.
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when an explicit
// config file is missing. A missing file at the default location is fine:
// the server runs on defaults.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if DefaultConfigExists() {
			configPath = GetDefaultConfigPath()
		}
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  romstack config init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the offload section may hold credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file
// settings. Environment variables use the ROMSTACK_ prefix with underscores,
// for example ROMSTACK_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("ROMSTACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/romstack/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing file
// is not an error.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize so
// config files can use human-readable sizes like "32Mi" or "100MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration so config files can
// use human-readable durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path. Uses
// XDG_CONFIG_HOME if set, otherwise ~/.config, or the current directory if
// the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "romstack")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "romstack")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
