package models

import (
	"math"
	"time"
)

// UploadState represents the lifecycle state of an upload session.
type UploadState string

const (
	// StateInitiated means the session exists but no chunk has arrived yet.
	StateInitiated UploadState = "INITIATED"
	// StateUploading means at least one chunk has been received.
	StateUploading UploadState = "UPLOADING"
	// StateProcessing means all chunks arrived and assembly is in flight.
	StateProcessing UploadState = "PROCESSING"
	// StateCompleted means a catalog entry was published.
	StateCompleted UploadState = "COMPLETED"
	// StateFailed means assembly or validation failed.
	StateFailed UploadState = "FAILED"
	// StateCancelled means the client aborted the session.
	StateCancelled UploadState = "CANCELLED"
	// StateExpired means the session outlived its deadline.
	StateExpired UploadState = "EXPIRED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s UploadState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateExpired:
		return true
	}
	return false
}

// allowedTransitions encodes the upload state machine. Terminal states have
// no successors.
var allowedTransitions = map[UploadState][]UploadState{
	StateInitiated:  {StateUploading, StateProcessing, StateFailed, StateCancelled, StateExpired},
	StateUploading:  {StateProcessing, StateFailed, StateCancelled, StateExpired},
	StateProcessing: {StateCompleted, StateFailed, StateCancelled},
}

// CanTransition reports whether moving from s to next is legal.
func (s UploadState) CanTransition(next UploadState) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Upload represents one chunked upload session.
//
// The row is created at initiation, mutated by chunk receipt and by the
// assembly pipeline, and reaped by maintenance once terminal and stale.
type Upload struct {
	ID             string `gorm:"primaryKey;size:36" json:"id"`
	OriginalName   string `gorm:"not null;size:512" json:"original_name"`
	SanitizedName  string `gorm:"not null;size:512" json:"sanitized_name"`
	DeclaredSize   int64  `gorm:"not null" json:"declared_size"`
	DeclaredDigest string `gorm:"size:64" json:"declared_digest,omitempty"`
	ChunkSize      int64  `gorm:"not null" json:"chunk_size"`
	TotalChunks    int    `gorm:"not null" json:"total_chunks"`

	DetectedPlatform string `gorm:"size:32;index" json:"detected_platform"`
	MimeHint         string `gorm:"size:128" json:"mime_hint,omitempty"`

	TempScope string      `gorm:"size:64" json:"-"`
	State     UploadState `gorm:"not null;size:16;index" json:"state"`

	UploadedChunks int `gorm:"not null;default:0" json:"uploaded_chunks"`

	ProcessingErrorKind string `gorm:"size:64" json:"processing_error_kind,omitempty"`
	ProcessingError     string `gorm:"type:text" json:"processing_error,omitempty"`

	FinalPath string `gorm:"size:1024" json:"final_path,omitempty"`
	EntryID   string `gorm:"size:36" json:"entry_id,omitempty"`

	// ExtractedMetadata carries the enriched metadata JSON blob once
	// assembly succeeds.
	ExtractedMetadata string `gorm:"type:text" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`

	Chunks []Chunk `gorm:"foreignKey:UploadID" json:"-"`
}

// TableName returns the table name for Upload.
func (Upload) TableName() string {
	return "uploads"
}

// Progress returns completion in [0, 1] based on received chunks.
func (u *Upload) Progress() float64 {
	if u.TotalChunks == 0 {
		return 0
	}
	return float64(u.UploadedChunks) / float64(u.TotalChunks)
}

// ExpectedChunkSize returns the expected byte size of a chunk index. The last
// chunk carries the remainder when the declared size does not divide evenly.
func (u *Upload) ExpectedChunkSize(index int) int64 {
	if index < 0 || index >= u.TotalChunks {
		return 0
	}
	if index == u.TotalChunks-1 {
		rem := u.DeclaredSize - int64(u.TotalChunks-1)*u.ChunkSize
		return rem
	}
	return u.ChunkSize
}

// ChunkCount computes ceil(declaredSize / chunkSize).
func ChunkCount(declaredSize, chunkSize int64) int {
	if chunkSize <= 0 || declaredSize <= 0 {
		return 0
	}
	return int(math.Ceil(float64(declaredSize) / float64(chunkSize)))
}
