// Package offload mirrors catalog artifacts into object storage. Entries are
// compressed and uploaded under a content-addressed key; the archive key on
// the entry records where the copy lives.
package offload

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/pgzip"

	"github.com/romstack/romstack/internal/logger"
	"github.com/romstack/romstack/pkg/catalog/models"
	"github.com/romstack/romstack/pkg/catalog/store"
)

// ObjectStore is the bucket surface the archiver needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64) error
}

// Config holds archiver tunables.
type Config struct {
	// BatchSize bounds entries mirrored per pass. Default 32.
	BatchSize int
	// Interval between passes when running as a loop. Default 15m.
	Interval time.Duration
	// KeyPrefix is prepended to object keys.
	KeyPrefix string
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Interval <= 0 {
		c.Interval = 15 * time.Minute
	}
}

// Archiver mirrors unarchived catalog entries to the object store.
type Archiver struct {
	cfg     Config
	store   *store.GORMStore
	objects ObjectStore
}

// New creates an archiver.
func New(cfg Config, st *store.GORMStore, objects ObjectStore) *Archiver {
	cfg.applyDefaults()
	return &Archiver{cfg: cfg, store: st, objects: objects}
}

// Run mirrors one batch of unarchived entries. Per-entry failures are logged
// and skipped so one bad file cannot wedge the backlog.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	entries, err := a.store.ListUnarchivedEntries(ctx, a.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("offload: list unarchived: %w", err)
	}

	mirrored := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return mirrored, err
		}
		if err := a.mirror(ctx, entry); err != nil {
			logger.Warn("Offload failed",
				"entry_id", entry.ID, "path", entry.FinalPath, "error", err.Error())
			continue
		}
		mirrored++
	}
	if mirrored > 0 {
		logger.Info("Offload pass finished", "mirrored", mirrored)
	}
	return mirrored, nil
}

// RunLoop runs passes on the configured interval until the context ends.
func (a *Archiver) RunLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Offload pass failed", "error", err.Error())
			}
		}
	}
}

// Key returns the content-addressed object key for a digest.
func (a *Archiver) Key(digest string) string {
	return a.cfg.KeyPrefix + "sha256/" + digest + ".gz"
}

// mirror compresses the artifact to a spill file and uploads it. The spill
// file keeps the body seekable for the uploader without holding large ROMs in
// memory.
func (a *Archiver) mirror(ctx context.Context, entry *models.CatalogEntry) error {
	src, err := os.Open(entry.FinalPath)
	if err != nil {
		return err
	}
	defer src.Close()

	spill, err := os.CreateTemp("", "romstack-offload-*.gz")
	if err != nil {
		return err
	}
	defer func() {
		spill.Close()
		os.Remove(spill.Name())
	}()

	zw := pgzip.NewWriter(spill)
	if _, err := io.Copy(zw, src); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	size, err := spill.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := spill.Seek(0, io.SeekStart); err != nil {
		return err
	}

	key := a.Key(entry.ContentDigest)
	if err := a.objects.Put(ctx, key, spill, size); err != nil {
		return err
	}
	return a.store.SetEntryArchiveKey(ctx, entry.ID, key)
}
