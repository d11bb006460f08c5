package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidAPIPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.API.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_MissingTempDir(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Ingest.TempDir = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing temp dir")
	}
	if !strings.Contains(err.Error(), "TempDir") {
		t.Errorf("Expected error about TempDir, got: %v", err)
	}
}

func TestValidate_OffloadEnabledWithoutBucket(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Offload.Enabled = true

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for enabled offload without bucket")
	}
	if !strings.Contains(err.Error(), "Bucket") {
		t.Errorf("Expected error about Bucket, got: %v", err)
	}

	cfg.Offload.Bucket = "romstack-cold"
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected config with bucket to pass, got: %v", err)
	}
}

func TestValidate_SourceWithoutURL(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metadata.Sources = []MetadataSourceConfig{{Name: "gamesdb"}}

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for source without base URL")
	}
}

func TestValidate_DiskThresholdOrdering(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Maintenance.DiskWarnPercent = 95
	cfg.Maintenance.DiskErrorPercent = 90

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for warn above error threshold")
	}
	if !strings.Contains(err.Error(), "disk_warn_percent") {
		t.Errorf("Expected threshold ordering error, got: %v", err)
	}
}
