package store

import (
	"context"

	"github.com/romstack/romstack/pkg/catalog/models"
)

// ============================================
// CHUNK OPERATIONS
// ============================================

// GetChunk returns one chunk row.
func (s *GORMStore) GetChunk(ctx context.Context, uploadID string, index int) (*models.Chunk, error) {
	var chunk models.Chunk
	err := s.db.WithContext(ctx).
		Where("upload_id = ? AND idx = ?", uploadID, index).
		First(&chunk).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrChunkNotFound)
	}
	return &chunk, nil
}

// GetChunks returns all chunk rows of an upload ordered by index.
func (s *GORMStore) GetChunks(ctx context.Context, uploadID string) ([]models.Chunk, error) {
	var chunks []models.Chunk
	err := s.db.WithContext(ctx).
		Where("upload_id = ?", uploadID).
		Order("idx ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// ReceivedBitmap returns a received/missing flag per chunk index, for resume
// support in status responses.
func (s *GORMStore) ReceivedBitmap(ctx context.Context, uploadID string) ([]bool, error) {
	chunks, err := s.GetChunks(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	bitmap := make([]bool, len(chunks))
	for _, c := range chunks {
		if c.Index >= 0 && c.Index < len(bitmap) {
			bitmap[c.Index] = c.Received
		}
	}
	return bitmap, nil
}
