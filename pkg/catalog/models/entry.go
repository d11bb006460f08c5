package models

import (
	"encoding/json"
	"time"
)

// CatalogEntry represents one successfully ingested artifact.
//
// ContentDigest is unique across entries; the unique index is what makes the
// dedup race between two concurrent uploads of the same bytes safe.
type CatalogEntry struct {
	ID            string `gorm:"primaryKey;size:36" json:"id"`
	ContentDigest string `gorm:"uniqueIndex;not null;size:64" json:"content_digest"`
	SanitizedName string `gorm:"not null;size:512" json:"sanitized_name"`
	Title         string `gorm:"size:512" json:"title"`
	PlatformID    string `gorm:"not null;size:32;index" json:"platform_id"`
	FinalPath     string `gorm:"not null;size:1024" json:"final_path"`
	Size          int64  `gorm:"not null" json:"size"`
	Region        string `gorm:"size:64" json:"region,omitempty"`

	// HeaderSummary and Metadata are JSON blobs (header.Summary and
	// metadata.Metadata respectively).
	HeaderSummary string `gorm:"type:text" json:"-"`
	Metadata      string `gorm:"type:text" json:"-"`

	// ArchiveContents is a JSON array of the member names the source archive
	// held, empty for plain uploads.
	ArchiveContents string `gorm:"type:text" json:"-"`

	// Warnings collects non-fatal ingest notes (signature probe miss, ...).
	Warnings string `gorm:"type:text" json:"warnings,omitempty"`

	// ArchiveKey is set once the artifact is mirrored to object storage.
	ArchiveKey string `gorm:"size:512" json:"archive_key,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for CatalogEntry.
func (CatalogEntry) TableName() string {
	return "catalog_entries"
}

// HeaderSummaryMap decodes the stored header summary blob.
func (e *CatalogEntry) HeaderSummaryMap() (map[string]any, error) {
	if e.HeaderSummary == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(e.HeaderSummary), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ArchiveContentsList decodes the stored archive member list.
func (e *CatalogEntry) ArchiveContentsList() ([]string, error) {
	if e.ArchiveContents == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(e.ArchiveContents), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MetadataMap decodes the stored enriched metadata blob.
func (e *CatalogEntry) MetadataMap() (map[string]any, error) {
	if e.Metadata == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(e.Metadata), &out); err != nil {
		return nil, err
	}
	return out, nil
}
