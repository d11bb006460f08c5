package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/romstack/romstack/internal/bytesize"
	"github.com/romstack/romstack/pkg/api"
	"github.com/romstack/romstack/pkg/broadcast"
	"github.com/romstack/romstack/pkg/catalog/store"
	"github.com/romstack/romstack/pkg/content"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit values
// are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyShutdownTimeoutDefaults(cfg)
	cfg.Database.ApplyDefaults()
	applyAPIDefaults(&cfg.API)
	applyIngestDefaults(&cfg.Ingest)
	applyAssemblyDefaults(&cfg.Assembly)
	applyMaintenanceDefaults(&cfg.Maintenance)
	applyMetadataDefaults(&cfg.Metadata)
	applyOffloadDefaults(&cfg.Offload)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyAPIDefaults(cfg *api.Config) {
	if cfg.Port <= 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = int64(32 * bytesize.MiB)
	}
}

func applyIngestDefaults(cfg *IngestConfig) {
	dataDir := defaultDataDir()
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(dataDir, "romstack", "tmp")
	}
	if cfg.RomDir == "" {
		cfg.RomDir = filepath.Join(dataDir, "romstack", "library")
	}
	if cfg.UploadTimeout == 0 {
		cfg.UploadTimeout = 2 * time.Hour
	}
	if cfg.ChunkWriteTimeout == 0 {
		cfg.ChunkWriteTimeout = 60 * time.Second
	}
	if cfg.MaxConcurrentWrites == 0 {
		cfg.MaxConcurrentWrites = 16
	}
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = 32 * bytesize.MiB
	}
	if cfg.ArchiveBombRatio == 0 {
		cfg.ArchiveBombRatio = content.DefaultBombRatio
	}
	if cfg.ProgressQueueDepth == 0 {
		cfg.ProgressQueueDepth = broadcast.DefaultQueueDepth
	}
}

func applyAssemblyDefaults(cfg *AssemblyConfig) {
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = 128
	}
}

func applyMaintenanceDefaults(cfg *MaintenanceConfig) {
	if cfg.ExpirySchedule == "" {
		cfg.ExpirySchedule = "*/15 * * * *"
	}
	if cfg.ReclaimSchedule == "" {
		cfg.ReclaimSchedule = "@hourly"
	}
	if cfg.RollupSchedule == "" {
		cfg.RollupSchedule = "@weekly"
	}
	if cfg.DiskProbeSchedule == "" {
		cfg.DiskProbeSchedule = "0 */6 * * *"
	}
	if cfg.CompactionSchedule == "" {
		cfg.CompactionSchedule = "@weekly"
	}
	if cfg.TerminalRetention == 0 {
		cfg.TerminalRetention = 24 * time.Hour
	}
	if cfg.ScopeGrace == 0 {
		cfg.ScopeGrace = time.Hour
	}
	if cfg.StatsRetention == 0 {
		cfg.StatsRetention = 90 * 24 * time.Hour
	}
	if cfg.DiskWarnPercent == 0 {
		cfg.DiskWarnPercent = 80
	}
	if cfg.DiskErrorPercent == 0 {
		cfg.DiskErrorPercent = 90
	}
}

func applyMetadataDefaults(cfg *MetadataConfig) {
	if cfg.CacheEntries == 0 {
		cfg.CacheEntries = 2048
	}
	if cfg.PerSourceTimeout == 0 {
		cfg.PerSourceTimeout = 30 * time.Second
	}
	for i := range cfg.Sources {
		if cfg.Sources[i].MaxRetries == 0 {
			cfg.Sources[i].MaxRetries = 3
		}
	}
}

func applyOffloadDefaults(cfg *OffloadConfig) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "library/"
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 32
	}
	if cfg.Interval == 0 {
		cfg.Interval = 15 * time.Minute
	}
}

// defaultDataDir returns the base data directory honoring XDG_DATA_HOME.
func defaultDataDir() string {
	if dataDir := os.Getenv("XDG_DATA_HOME"); dataDir != "" {
		return dataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}

// GetDefaultConfig returns a fully defaulted configuration.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Database: store.Config{
			Type: store.DatabaseTypeSQLite,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
