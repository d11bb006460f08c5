package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/romstack/romstack/internal/bytesize"
	"github.com/romstack/romstack/pkg/catalog/store"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Level = %s, want INFO", cfg.Logging.Level)
	}
	if cfg.Database.Type != store.DatabaseTypeSQLite {
		t.Errorf("Database.Type = %s, want sqlite", cfg.Database.Type)
	}
	if cfg.Ingest.UploadTimeout != 2*time.Hour {
		t.Errorf("UploadTimeout = %s, want 2h", cfg.Ingest.UploadTimeout)
	}
	if cfg.Ingest.ArchiveBombRatio != 100 {
		t.Errorf("ArchiveBombRatio = %d, want default 100", cfg.Ingest.ArchiveBombRatio)
	}
	if cfg.Ingest.ProgressQueueDepth != 64 {
		t.Errorf("ProgressQueueDepth = %d, want default 64", cfg.Ingest.ProgressQueueDepth)
	}
}

func TestLoad_ParsesHumanReadableValues(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  level: debug
  format: json
ingest:
  temp_dir: /tmp/romstack-test/tmp
  rom_dir: /tmp/romstack-test/library
  max_chunk_size: 8Mi
  upload_timeout: 45m
  archive_bomb_ratio: 25
  progress_queue_depth: 16
assembly:
  workers: 4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Level = %s, want DEBUG (normalized)", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Format = %s, want json", cfg.Logging.Format)
	}
	if cfg.Ingest.MaxChunkSize != 8*bytesize.MiB {
		t.Errorf("MaxChunkSize = %d, want 8Mi", cfg.Ingest.MaxChunkSize)
	}
	if cfg.Ingest.UploadTimeout != 45*time.Minute {
		t.Errorf("UploadTimeout = %s, want 45m", cfg.Ingest.UploadTimeout)
	}
	if cfg.Assembly.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Assembly.Workers)
	}
	if cfg.Ingest.ArchiveBombRatio != 25 {
		t.Errorf("ArchiveBombRatio = %d, want 25", cfg.Ingest.ArchiveBombRatio)
	}
	if cfg.Ingest.ProgressQueueDepth != 16 {
		t.Errorf("ProgressQueueDepth = %d, want 16", cfg.Ingest.ProgressQueueDepth)
	}

	// Untouched sections still get defaults.
	if cfg.Assembly.QueueDepth != 128 {
		t.Errorf("QueueDepth = %d, want default 128", cfg.Assembly.QueueDepth)
	}
	if cfg.Maintenance.ReclaimSchedule != "@hourly" {
		t.Errorf("ReclaimSchedule = %s, want @hourly", cfg.Maintenance.ReclaimSchedule)
	}
}

func TestLoad_MetadataSources(t *testing.T) {
	path := writeConfigFile(t, `
metadata:
  sources:
    - name: gamesdb
      base_url: https://metadata.example.com
      api_key: secret
      priority: 10
      rate_per_second: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Metadata.Sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(cfg.Metadata.Sources))
	}
	src := cfg.Metadata.Sources[0]
	if src.Name != "gamesdb" || src.Priority != 10 {
		t.Errorf("source = %+v", src)
	}
	if src.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want default 3", src.MaxRetries)
	}
}

func TestLoad_InvalidConfigFails(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  level: LOUD
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation failure for bad log level")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.API.Port = 9999
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.API.Port != 9999 {
		t.Errorf("Port = %d, want 9999", loaded.API.Port)
	}
}
