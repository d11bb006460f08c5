package models

import "errors"

// Common errors for catalog store operations.
var (
	// Upload errors
	ErrUploadNotFound = errors.New("upload not found")
	ErrStateConflict  = errors.New("upload state does not allow this transition")

	// Chunk errors
	ErrChunkNotFound = errors.New("chunk not found")

	// Catalog entry errors
	ErrEntryNotFound  = errors.New("catalog entry not found")
	ErrDuplicateEntry = errors.New("catalog entry with this content digest already exists")
)
