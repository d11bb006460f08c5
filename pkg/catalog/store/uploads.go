package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/romstack/romstack/pkg/catalog/models"
)

// ============================================
// UPLOAD OPERATIONS
// ============================================

// CreateUpload persists an upload and pre-creates its chunk rows in one
// transaction.
func (s *GORMStore) CreateUpload(ctx context.Context, upload *models.Upload, chunks []models.Chunk) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(upload).Error; err != nil {
			return err
		}
		if len(chunks) > 0 {
			if err := tx.CreateInBatches(chunks, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetUpload loads an upload with its chunk rows ordered by index.
func (s *GORMStore) GetUpload(ctx context.Context, id string) (*models.Upload, error) {
	var upload models.Upload
	err := s.db.WithContext(ctx).
		Preload("Chunks", func(db *gorm.DB) *gorm.DB { return db.Order("idx ASC") }).
		Where("id = ?", id).
		First(&upload).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrUploadNotFound)
	}
	return &upload, nil
}

// MarkChunkReceived flips a chunk to received exactly once. The transition,
// counter increment, and INITIATED→UPLOADING promotion happen in a single
// transaction; a replay of an already-received chunk reports first=false and
// leaves everything untouched.
func (s *GORMStore) MarkChunkReceived(ctx context.Context, uploadID string, index int, digest, path string) (newCount int, first bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&models.Chunk{}).
			Where("upload_id = ? AND idx = ? AND received = ?", uploadID, index, false).
			Updates(map[string]any{
				"received":    true,
				"digest":      digest,
				"path":        path,
				"received_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		first = res.RowsAffected == 1

		if first {
			if err := tx.Model(&models.Upload{}).
				Where("id = ?", uploadID).
				UpdateColumn("uploaded_chunks", gorm.Expr("uploaded_chunks + 1")).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.Upload{}).
				Where("id = ? AND state = ?", uploadID, models.StateInitiated).
				Update("state", models.StateUploading).Error; err != nil {
				return err
			}
		}

		var upload models.Upload
		if err := tx.Select("uploaded_chunks").Where("id = ?", uploadID).First(&upload).Error; err != nil {
			return convertNotFoundError(err, models.ErrUploadNotFound)
		}
		newCount = upload.UploadedChunks
		return nil
	})
	return newCount, first, err
}

// TransitionUpload moves an upload to a new state, guarded by the set of
// states it may come from. Extra column updates ride the same statement.
// Returns ErrStateConflict when the upload exists but its current state is
// not in from.
func (s *GORMStore) TransitionUpload(ctx context.Context, id string, from []models.UploadState, to models.UploadState, updates map[string]any) error {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["state"] = to

	res := s.db.WithContext(ctx).
		Model(&models.Upload{}).
		Where("id = ? AND state IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Upload{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return models.ErrUploadNotFound
		}
		return models.ErrStateConflict
	}
	return nil
}

// SaveUploadResult records the outcome columns of a finished assembly.
func (s *GORMStore) SaveUploadResult(ctx context.Context, id string, updates map[string]any) error {
	res := s.db.WithContext(ctx).
		Model(&models.Upload{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrUploadNotFound
	}
	return nil
}

// ListExpired returns non-terminal uploads whose deadline has passed.
func (s *GORMStore) ListExpired(ctx context.Context, now time.Time) ([]*models.Upload, error) {
	var uploads []*models.Upload
	err := s.db.WithContext(ctx).
		Where("expires_at < ? AND state IN ?", now,
			[]models.UploadState{models.StateInitiated, models.StateUploading}).
		Find(&uploads).Error
	if err != nil {
		return nil, err
	}
	return uploads, nil
}

// ListTerminalBefore returns terminal uploads last touched before cutoff.
// Completed rows are included; their catalog entries are permanent and do not
// reference the upload row.
func (s *GORMStore) ListTerminalBefore(ctx context.Context, cutoff time.Time) ([]*models.Upload, error) {
	var uploads []*models.Upload
	err := s.db.WithContext(ctx).
		Where("updated_at < ? AND state IN ?", cutoff,
			[]models.UploadState{models.StateCompleted, models.StateFailed, models.StateCancelled, models.StateExpired}).
		Find(&uploads).Error
	if err != nil {
		return nil, err
	}
	return uploads, nil
}

// ListByState returns uploads in the given state, oldest first.
func (s *GORMStore) ListByState(ctx context.Context, state models.UploadState) ([]*models.Upload, error) {
	var uploads []*models.Upload
	err := s.db.WithContext(ctx).
		Where("state = ?", state).
		Order("updated_at ASC").
		Find(&uploads).Error
	if err != nil {
		return nil, err
	}
	return uploads, nil
}

// DeleteUpload removes an upload row and its chunk rows.
func (s *GORMStore) DeleteUpload(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("upload_id = ?", id).Delete(&models.Chunk{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Upload{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.ErrUploadNotFound
		}
		return nil
	})
}

// FindByFingerprint looks for a live upload with the same dedup fingerprint:
// matching declared digest when present, else matching sanitized name and
// declared size.
func (s *GORMStore) FindByFingerprint(ctx context.Context, declaredDigest, sanitizedName string, declaredSize int64) (*models.Upload, error) {
	active := []models.UploadState{models.StateInitiated, models.StateUploading, models.StateProcessing}

	q := s.db.WithContext(ctx).Where("state IN ?", active)
	if declaredDigest != "" {
		q = q.Where("declared_digest = ?", declaredDigest)
	} else {
		q = q.Where("sanitized_name = ? AND declared_size = ?", sanitizedName, declaredSize)
	}

	var upload models.Upload
	if err := q.First(&upload).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrUploadNotFound)
	}
	return &upload, nil
}

// ActiveScopes returns the temp scope tokens maintenance must not reclaim:
// every non-terminal upload, plus FAILED ones, whose chunks stay on disk for
// diagnosis until the retention sweep reaps the row.
func (s *GORMStore) ActiveScopes(ctx context.Context) (map[string]bool, error) {
	var scopes []string
	err := s.db.WithContext(ctx).
		Model(&models.Upload{}).
		Where("state IN ?", []models.UploadState{models.StateInitiated, models.StateUploading, models.StateProcessing, models.StateFailed}).
		Pluck("temp_scope", &scopes).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]bool, len(scopes))
	for _, scope := range scopes {
		if scope != "" {
			out[scope] = true
		}
	}
	return out, nil
}

// CountUploadsByState returns a state→count map across all upload rows.
func (s *GORMStore) CountUploadsByState(ctx context.Context) (map[models.UploadState]int64, error) {
	type row struct {
		State models.UploadState
		N     int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&models.Upload{}).
		Select("state, count(*) as n").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[models.UploadState]int64, len(rows))
	for _, r := range rows {
		out[r.State] = r.N
	}
	return out, nil
}
