package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/romstack/romstack/pkg/catalog/models"
)

func newTestStore(t *testing.T) *GORMStore {
	t.Helper()
	s, err := New(&Config{
		Type:   DatabaseTypeSQLite,
		SQLite: SQLiteConfig{Path: filepath.Join(t.TempDir(), "catalog.db")},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUpload(t *testing.T, s *GORMStore, totalChunks int) *models.Upload {
	t.Helper()
	upload := &models.Upload{
		ID:               uuid.NewString(),
		OriginalName:     "game.nes",
		SanitizedName:    "game",
		DeclaredSize:     40,
		ChunkSize:        16,
		TotalChunks:      totalChunks,
		DetectedPlatform: "nes",
		TempScope:        uuid.NewString(),
		State:            models.StateInitiated,
		ExpiresAt:        time.Now().Add(time.Hour),
	}
	chunks := make([]models.Chunk, totalChunks)
	for i := range chunks {
		size := int64(16)
		if i == totalChunks-1 {
			size = 8
		}
		chunks[i] = models.Chunk{UploadID: upload.ID, Index: i, ExpectedSize: size}
	}
	if err := s.CreateUpload(context.Background(), upload, chunks); err != nil {
		t.Fatalf("CreateUpload: %v", err)
	}
	return upload
}

func TestCreateAndGetUpload(t *testing.T) {
	s := newTestStore(t)
	up := seedUpload(t, s, 3)

	got, err := s.GetUpload(context.Background(), up.ID)
	if err != nil {
		t.Fatalf("GetUpload: %v", err)
	}
	if got.State != models.StateInitiated {
		t.Errorf("state = %s", got.State)
	}
	if len(got.Chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got.Chunks))
	}
	for i, c := range got.Chunks {
		if c.Index != i {
			t.Errorf("chunk order broken at %d: idx %d", i, c.Index)
		}
	}
	if got.Chunks[2].ExpectedSize != 8 {
		t.Errorf("last chunk expected size = %d, want 8", got.Chunks[2].ExpectedSize)
	}

	if _, err := s.GetUpload(context.Background(), "missing"); !errors.Is(err, models.ErrUploadNotFound) {
		t.Errorf("missing upload: %v", err)
	}
}

func TestMarkChunkReceivedIdempotent(t *testing.T) {
	s := newTestStore(t)
	up := seedUpload(t, s, 3)
	ctx := context.Background()

	count, first, err := s.MarkChunkReceived(ctx, up.ID, 0, "digest0", "/tmp/chunk-0")
	if err != nil {
		t.Fatalf("MarkChunkReceived: %v", err)
	}
	if !first || count != 1 {
		t.Errorf("first receipt: first=%v count=%d", first, count)
	}

	// Replay must not increment the counter.
	count, first, err = s.MarkChunkReceived(ctx, up.ID, 0, "digest0", "/tmp/chunk-0")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if first || count != 1 {
		t.Errorf("replay: first=%v count=%d, want false/1", first, count)
	}

	got, _ := s.GetUpload(ctx, up.ID)
	if got.State != models.StateUploading {
		t.Errorf("state after first chunk = %s, want UPLOADING", got.State)
	}
	if got.UploadedChunks != 1 {
		t.Errorf("uploaded_chunks = %d, want 1", got.UploadedChunks)
	}
}

func TestTransitionUploadGuards(t *testing.T) {
	s := newTestStore(t)
	up := seedUpload(t, s, 1)
	ctx := context.Background()

	err := s.TransitionUpload(ctx, up.ID,
		[]models.UploadState{models.StateInitiated, models.StateUploading},
		models.StateProcessing, nil)
	if err != nil {
		t.Fatalf("valid transition: %v", err)
	}

	// Guard: cannot re-enter PROCESSING from PROCESSING.
	err = s.TransitionUpload(ctx, up.ID,
		[]models.UploadState{models.StateInitiated, models.StateUploading},
		models.StateProcessing, nil)
	if !errors.Is(err, models.ErrStateConflict) {
		t.Errorf("conflicting transition: %v, want ErrStateConflict", err)
	}

	err = s.TransitionUpload(ctx, "missing",
		[]models.UploadState{models.StateInitiated},
		models.StateCancelled, nil)
	if !errors.Is(err, models.ErrUploadNotFound) {
		t.Errorf("missing upload transition: %v", err)
	}
}

func TestEntryDigestUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := &models.CatalogEntry{
		ContentDigest: "abc123",
		SanitizedName: "game",
		Title:         "Game",
		PlatformID:    "nes",
		FinalPath:     "/roms/nes/Game.nes",
		Size:          40,
	}
	if _, err := s.CreateEntry(ctx, entry); err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}

	dup := &models.CatalogEntry{
		ContentDigest: "abc123",
		SanitizedName: "game-copy",
		PlatformID:    "nes",
		FinalPath:     "/roms/nes/GameCopy.nes",
		Size:          40,
	}
	if _, err := s.CreateEntry(ctx, dup); !errors.Is(err, models.ErrDuplicateEntry) {
		t.Fatalf("duplicate digest: %v, want ErrDuplicateEntry", err)
	}

	exists, err := s.EntryExistsByDigest(ctx, "abc123")
	if err != nil || !exists {
		t.Errorf("EntryExistsByDigest = %v, %v", exists, err)
	}
}

func TestListExpiredAndTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := seedUpload(t, s, 1)
	if err := s.SaveUploadResult(ctx, stale.ID, map[string]any{
		"expires_at": time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatal(err)
	}
	fresh := seedUpload(t, s, 1)

	expired, err := s.ListExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListExpired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != stale.ID {
		t.Errorf("expired = %v", expired)
	}

	// Terminal reaping keys on updated_at.
	if err := s.TransitionUpload(ctx, fresh.ID,
		[]models.UploadState{models.StateInitiated},
		models.StateCancelled, nil); err != nil {
		t.Fatal(err)
	}
	old, err := s.ListTerminalBefore(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListTerminalBefore: %v", err)
	}
	if len(old) != 0 {
		t.Errorf("recently cancelled upload should not be reaped yet: %v", old)
	}
	recent, err := s.ListTerminalBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].ID != fresh.ID {
		t.Errorf("terminal list = %v", recent)
	}
}

func TestFindByFingerprint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	up := seedUpload(t, s, 1)
	if err := s.SaveUploadResult(ctx, up.ID, map[string]any{"declared_digest": "ddd"}); err != nil {
		t.Fatal(err)
	}

	byDigest, err := s.FindByFingerprint(ctx, "ddd", "", 0)
	if err != nil || byDigest.ID != up.ID {
		t.Errorf("by digest: %v, %v", byDigest, err)
	}

	byName, err := s.FindByFingerprint(ctx, "", "game", 40)
	if err != nil || byName.ID != up.ID {
		t.Errorf("by name+size: %v, %v", byName, err)
	}

	if _, err := s.FindByFingerprint(ctx, "", "other", 40); !errors.Is(err, models.ErrUploadNotFound) {
		t.Errorf("no match: %v", err)
	}

	// Terminal uploads do not hold the fingerprint.
	if err := s.TransitionUpload(ctx, up.ID,
		[]models.UploadState{models.StateInitiated},
		models.StateCancelled, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindByFingerprint(ctx, "ddd", "", 0); !errors.Is(err, models.ErrUploadNotFound) {
		t.Errorf("terminal upload still matched: %v", err)
	}
}

func TestActiveScopes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := seedUpload(t, s, 1)
	b := seedUpload(t, s, 1)
	if err := s.TransitionUpload(ctx, b.ID,
		[]models.UploadState{models.StateInitiated},
		models.StateCancelled, nil); err != nil {
		t.Fatal(err)
	}
	c := seedUpload(t, s, 1)
	if err := s.TransitionUpload(ctx, c.ID,
		[]models.UploadState{models.StateInitiated},
		models.StateFailed, nil); err != nil {
		t.Fatal(err)
	}

	scopes, err := s.ActiveScopes(ctx)
	if err != nil {
		t.Fatalf("ActiveScopes: %v", err)
	}
	if !scopes[a.TempScope] {
		t.Error("active scope missing")
	}
	if scopes[b.TempScope] {
		t.Error("cancelled upload scope should not be active")
	}
	if !scopes[c.TempScope] {
		t.Error("failed upload scope must stay protected until reaped")
	}
}

func TestReceivedBitmap(t *testing.T) {
	s := newTestStore(t)
	up := seedUpload(t, s, 3)
	ctx := context.Background()

	if _, _, err := s.MarkChunkReceived(ctx, up.ID, 1, "d1", "p1"); err != nil {
		t.Fatal(err)
	}

	bitmap, err := s.ReceivedBitmap(ctx, up.ID)
	if err != nil {
		t.Fatalf("ReceivedBitmap: %v", err)
	}
	want := []bool{false, true, false}
	for i := range want {
		if bitmap[i] != want[i] {
			t.Errorf("bitmap[%d] = %v, want %v", i, bitmap[i], want[i])
		}
	}
}

func TestDeleteUploadCascades(t *testing.T) {
	s := newTestStore(t)
	up := seedUpload(t, s, 2)
	ctx := context.Background()

	if err := s.DeleteUpload(ctx, up.ID); err != nil {
		t.Fatalf("DeleteUpload: %v", err)
	}
	if _, err := s.GetUpload(ctx, up.ID); !errors.Is(err, models.ErrUploadNotFound) {
		t.Errorf("upload survived delete: %v", err)
	}
	chunks, err := s.GetChunks(ctx, up.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("chunk rows survived delete: %d", len(chunks))
	}

	if err := s.DeleteUpload(ctx, up.ID); !errors.Is(err, models.ErrUploadNotFound) {
		t.Errorf("double delete: %v", err)
	}
}

func TestRollupAndCompaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, digest := range []string{"d1", "d2", "d3"} {
		platform := "nes"
		if i == 2 {
			platform = "snes"
		}
		if _, err := s.CreateEntry(ctx, &models.CatalogEntry{
			ContentDigest: digest,
			SanitizedName: "g",
			PlatformID:    platform,
			FinalPath:     "/roms/" + digest,
			Size:          100,
		}); err != nil {
			t.Fatal(err)
		}
	}

	rollup, err := s.RollupByPlatform(ctx)
	if err != nil {
		t.Fatalf("RollupByPlatform: %v", err)
	}
	if len(rollup) != 2 {
		t.Fatalf("rollup rows = %d, want 2", len(rollup))
	}
	if rollup[0].PlatformID != "nes" || rollup[0].EntryCount != 2 || rollup[0].TotalBytes != 200 {
		t.Errorf("nes rollup = %+v", rollup[0])
	}

	stats := []models.PlatformStat{
		{PlatformID: "nes", EntryCount: 2, TotalBytes: 200, CollectedAt: time.Now().Add(-48 * time.Hour)},
		{PlatformID: "nes", EntryCount: 2, TotalBytes: 200, CollectedAt: time.Now()},
	}
	if err := s.RecordPlatformStats(ctx, stats); err != nil {
		t.Fatal(err)
	}
	pruned, err := s.PruneStatsBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil || pruned != 1 {
		t.Errorf("pruned = %d, %v, want 1", pruned, err)
	}

	if err := s.Compact(ctx); err != nil {
		t.Errorf("Compact: %v", err)
	}
}
