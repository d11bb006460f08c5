package models

import "time"

// Chunk represents one slice of an upload. Rows are pre-created at initiation
// with expected sizes; receipt flips Received exactly once.
type Chunk struct {
	UploadID     string     `gorm:"primaryKey;size:36" json:"upload_id"`
	Index        int        `gorm:"primaryKey;column:idx" json:"index"`
	ExpectedSize int64      `gorm:"not null" json:"expected_size"`
	Received     bool       `gorm:"not null;default:false" json:"received"`
	Digest       string     `gorm:"size:64" json:"digest,omitempty"`
	Path         string     `gorm:"size:1024" json:"-"`
	ReceivedAt   *time.Time `json:"received_at,omitempty"`
}

// TableName returns the table name for Chunk.
func (Chunk) TableName() string {
	return "chunks"
}
