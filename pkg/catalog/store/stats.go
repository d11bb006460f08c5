package store

import (
	"context"
	"time"

	"github.com/romstack/romstack/pkg/catalog/models"
)

// ============================================
// STATISTICS & COMPACTION
// ============================================

// PlatformRollup aggregates the catalog per platform.
type PlatformRollup struct {
	PlatformID string
	EntryCount int64
	TotalBytes int64
}

// RollupByPlatform aggregates entry counts and sizes grouped by platform.
func (s *GORMStore) RollupByPlatform(ctx context.Context) ([]PlatformRollup, error) {
	var rows []PlatformRollup
	err := s.db.WithContext(ctx).
		Model(&models.CatalogEntry{}).
		Select("platform_id, count(*) as entry_count, coalesce(sum(size), 0) as total_bytes").
		Group("platform_id").
		Order("platform_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// RecordPlatformStats appends one rollup snapshot.
func (s *GORMStore) RecordPlatformStats(ctx context.Context, stats []models.PlatformStat) error {
	if len(stats) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(stats, 100).Error
}

// ListPlatformStats returns rollup rows newest first.
func (s *GORMStore) ListPlatformStats(ctx context.Context, limit int) ([]*models.PlatformStat, error) {
	var rows []*models.PlatformStat
	q := s.db.WithContext(ctx).Order("collected_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// PruneStatsBefore collapses rollup history older than the cutoff. Returns
// the number of rows removed.
func (s *GORMStore) PruneStatsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("collected_at < ?", cutoff).
		Delete(&models.PlatformStat{})
	return res.RowsAffected, res.Error
}

// Compact reclaims space and refreshes query planner statistics, using the
// dialect's native maintenance statement.
func (s *GORMStore) Compact(ctx context.Context) error {
	switch s.config.Type {
	case DatabaseTypePostgres:
		return s.db.WithContext(ctx).Exec("VACUUM ANALYZE").Error
	default:
		if err := s.db.WithContext(ctx).Exec("VACUUM").Error; err != nil {
			return err
		}
		return s.db.WithContext(ctx).Exec("ANALYZE").Error
	}
}
