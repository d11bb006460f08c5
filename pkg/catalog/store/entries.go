package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/romstack/romstack/pkg/catalog/models"
)

// ============================================
// CATALOG ENTRY OPERATIONS
// ============================================

// CreateEntry inserts a catalog entry. The unique index on content_digest is
// the arbiter of the concurrent-dedup race: the loser gets
// ErrDuplicateEntry.
func (s *GORMStore) CreateEntry(ctx context.Context, entry *models.CatalogEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		if isUniqueConstraintError(err) {
			return "", models.ErrDuplicateEntry
		}
		return "", err
	}
	return entry.ID, nil
}

// GetEntry returns a catalog entry by ID.
func (s *GORMStore) GetEntry(ctx context.Context, id string) (*models.CatalogEntry, error) {
	var entry models.CatalogEntry
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrEntryNotFound)
	}
	return &entry, nil
}

// GetEntryByDigest returns a catalog entry by content digest.
func (s *GORMStore) GetEntryByDigest(ctx context.Context, digest string) (*models.CatalogEntry, error) {
	var entry models.CatalogEntry
	if err := s.db.WithContext(ctx).Where("content_digest = ?", digest).First(&entry).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrEntryNotFound)
	}
	return &entry, nil
}

// EntryExistsByDigest reports whether any entry carries the digest.
func (s *GORMStore) EntryExistsByDigest(ctx context.Context, digest string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.CatalogEntry{}).
		Where("content_digest = ?", digest).
		Count(&count).Error
	return count > 0, err
}

// EntryFilter narrows ListEntries.
type EntryFilter struct {
	PlatformID string
	Search     string // substring match on title or sanitized name
	Limit      int
	Offset     int
}

// ListEntries returns entries newest first, with the total row count for the
// filter (ignoring pagination).
func (s *GORMStore) ListEntries(ctx context.Context, filter EntryFilter) ([]*models.CatalogEntry, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.CatalogEntry{})
	if filter.PlatformID != "" {
		q = q.Where("platform_id = ?", filter.PlatformID)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		q = q.Where("title LIKE ? OR sanitized_name LIKE ?", like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var entries []*models.CatalogEntry
	if err := q.Order("created_at DESC").Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// DeleteEntry removes a catalog entry row. The caller owns removing the file.
func (s *GORMStore) DeleteEntry(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.CatalogEntry{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrEntryNotFound
	}
	return nil
}

// SetEntryArchiveKey records the object storage key after archival offload.
func (s *GORMStore) SetEntryArchiveKey(ctx context.Context, id, key string) error {
	res := s.db.WithContext(ctx).
		Model(&models.CatalogEntry{}).
		Where("id = ?", id).
		Update("archive_key", key)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrEntryNotFound
	}
	return nil
}

// ListUnarchivedEntries returns entries not yet mirrored to object storage.
func (s *GORMStore) ListUnarchivedEntries(ctx context.Context, limit int) ([]*models.CatalogEntry, error) {
	var entries []*models.CatalogEntry
	q := s.db.WithContext(ctx).
		Where("archive_key = '' OR archive_key IS NULL").
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
