//go:build integration

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/romstack/romstack/pkg/catalog/models"
)

// newPostgresStore spins up a throwaway PostgreSQL container and opens the
// store against it.
func newPostgresStore(t *testing.T) *GORMStore {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("romstack_test"),
		postgres.WithUsername("romstack_test"),
		postgres.WithPassword("romstack_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	s, err := New(&Config{
		Type: DatabaseTypePostgres,
		Postgres: PostgresConfig{
			Host:     host,
			Port:     port.Int(),
			Database: "romstack_test",
			User:     "romstack_test",
			Password: "romstack_test",
			SSLMode:  "disable",
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresChunkReceiptAndDedup(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()

	upload := &models.Upload{
		ID:               uuid.NewString(),
		OriginalName:     "game.nes",
		SanitizedName:    "game",
		DeclaredSize:     32,
		ChunkSize:        16,
		TotalChunks:      2,
		DetectedPlatform: "nes",
		TempScope:        uuid.NewString(),
		State:            models.StateInitiated,
		ExpiresAt:        time.Now().Add(time.Hour),
	}
	chunks := []models.Chunk{
		{UploadID: upload.ID, Index: 0, ExpectedSize: 16},
		{UploadID: upload.ID, Index: 1, ExpectedSize: 16},
	}
	if err := s.CreateUpload(ctx, upload, chunks); err != nil {
		t.Fatalf("CreateUpload: %v", err)
	}

	count, first, err := s.MarkChunkReceived(ctx, upload.ID, 0, "d0", "p0")
	if err != nil || !first || count != 1 {
		t.Fatalf("first receipt: count=%d first=%v err=%v", count, first, err)
	}
	count, first, err = s.MarkChunkReceived(ctx, upload.ID, 0, "d0", "p0")
	if err != nil || first || count != 1 {
		t.Fatalf("replay: count=%d first=%v err=%v", count, first, err)
	}

	// The unique index arbitration must use postgres error phrasing.
	if _, err := s.CreateEntry(ctx, &models.CatalogEntry{
		ContentDigest: "race",
		SanitizedName: "game",
		PlatformID:    "nes",
		FinalPath:     "/roms/nes/game.nes",
		Size:          32,
	}); err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	_, err = s.CreateEntry(ctx, &models.CatalogEntry{
		ContentDigest: "race",
		SanitizedName: "game2",
		PlatformID:    "nes",
		FinalPath:     "/roms/nes/game2.nes",
		Size:          32,
	})
	if !errors.Is(err, models.ErrDuplicateEntry) {
		t.Fatalf("duplicate digest on postgres: %v", err)
	}

	if err := s.Compact(ctx); err != nil {
		t.Errorf("Compact: %v", err)
	}
}
