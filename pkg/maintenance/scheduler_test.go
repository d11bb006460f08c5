package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/romstack/romstack/pkg/catalog/models"
	"github.com/romstack/romstack/pkg/catalog/store"
)

type fakeJanitor struct {
	expired int
	reaped  int
}

func (f *fakeJanitor) ExpireDue(context.Context, time.Time) (int, error) {
	return f.expired, nil
}

func (f *fakeJanitor) ReapTerminal(context.Context, time.Time) (int, error) {
	return f.reaped, nil
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *store.GORMStore, string, string) {
	t.Helper()
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "catalog.db")},
	})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	tempRoot := t.TempDir()
	romRoot := t.TempDir()
	return New(cfg, st, &fakeJanitor{expired: 2, reaped: 1}, tempRoot, romRoot, nil), st, tempRoot, romRoot
}

func backdate(t *testing.T, path string, age time.Duration) {
	t.Helper()
	old := time.Now().Add(-age)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
}

func TestReclaimTempSkipsActiveAndFresh(t *testing.T) {
	sched, st, tempRoot, _ := newTestScheduler(t, Config{ScopeGrace: time.Hour})
	ctx := context.Background()

	// An active scope referenced by a live upload.
	activeScope := uuid.NewString()
	upload := &models.Upload{
		ID:            uuid.NewString(),
		OriginalName:  "game.nes",
		SanitizedName: "game",
		DeclaredSize:  40,
		ChunkSize:     16,
		TotalChunks:   3,
		TempScope:     activeScope,
		State:         models.StateUploading,
		ExpiresAt:     time.Now().Add(time.Hour),
	}
	if err := st.CreateUpload(ctx, upload, nil); err != nil {
		t.Fatalf("CreateUpload: %v", err)
	}

	// A failed upload's scope holds its chunks for diagnosis until the
	// retention sweep deletes the row.
	failedScope := uuid.NewString()
	failed := &models.Upload{
		ID:            uuid.NewString(),
		OriginalName:  "broken.nes",
		SanitizedName: "broken",
		DeclaredSize:  40,
		ChunkSize:     16,
		TotalChunks:   3,
		TempScope:     failedScope,
		State:         models.StateFailed,
		ExpiresAt:     time.Now().Add(-time.Hour),
	}
	if err := st.CreateUpload(ctx, failed, nil); err != nil {
		t.Fatalf("CreateUpload: %v", err)
	}

	activeDir := filepath.Join(tempRoot, activeScope)
	failedDir := filepath.Join(tempRoot, failedScope)
	staleDir := filepath.Join(tempRoot, uuid.NewString())
	freshDir := filepath.Join(tempRoot, uuid.NewString())
	for _, dir := range []string{activeDir, failedDir, staleDir, freshDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
	}
	backdate(t, activeDir, 3*time.Hour)
	backdate(t, failedDir, 3*time.Hour)
	backdate(t, staleDir, 3*time.Hour)

	if err := sched.ReclaimTemp(ctx); err != nil {
		t.Fatalf("ReclaimTemp: %v", err)
	}

	if _, err := os.Stat(activeDir); err != nil {
		t.Error("active scope dir was removed")
	}
	if _, err := os.Stat(failedDir); err != nil {
		t.Error("failed upload's scope dir was removed before its row was reaped")
	}
	if _, err := os.Stat(freshDir); err != nil {
		t.Error("fresh dir inside grace window was removed")
	}
	if _, err := os.Stat(staleDir); !os.IsNotExist(err) {
		t.Error("stale orphan dir survived")
	}
}

func TestRollupStatsRecordsBIOSState(t *testing.T) {
	sched, st, _, romRoot := newTestScheduler(t, Config{})
	ctx := context.Background()

	for _, seed := range []struct {
		platform string
		size     int64
	}{{"nes", 100}, {"gba", 200}, {"gba", 300}} {
		if _, err := st.CreateEntry(ctx, &models.CatalogEntry{
			ContentDigest: uuid.NewString() + uuid.NewString()[:28],
			SanitizedName: "g",
			Title:         "G",
			PlatformID:    seed.platform,
			FinalPath:     "/x",
			Size:          seed.size,
		}); err != nil {
			t.Fatalf("CreateEntry: %v", err)
		}
	}

	if err := sched.RollupStats(ctx); err != nil {
		t.Fatalf("RollupStats: %v", err)
	}

	stats, err := st.ListPlatformStats(ctx, 10)
	if err != nil {
		t.Fatalf("ListPlatformStats: %v", err)
	}
	byPlatform := map[string]*models.PlatformStat{}
	for _, s := range stats {
		byPlatform[s.PlatformID] = s
	}

	if got := byPlatform["gba"]; got == nil || got.EntryCount != 2 || got.TotalBytes != 500 {
		t.Errorf("gba rollup = %+v", got)
	}
	// GBA requires a BIOS that is absent; NES requires none.
	if !byPlatform["gba"].BIOSMissing {
		t.Error("gba should report missing BIOS")
	}
	if byPlatform["nes"].BIOSMissing {
		t.Error("nes requires no BIOS")
	}

	// Dropping the BIOS file in place clears the flag on the next rollup.
	biosDir := filepath.Join(romRoot, "bios")
	if err := os.MkdirAll(biosDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(biosDir, "gba_bios.bin"), []byte{0}, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := sched.RollupStats(ctx); err != nil {
		t.Fatalf("second RollupStats: %v", err)
	}
	stats, err = st.ListPlatformStats(ctx, 2)
	if err != nil {
		t.Fatalf("ListPlatformStats: %v", err)
	}
	for _, s := range stats {
		if s.PlatformID == "gba" && s.BIOSMissing {
			t.Error("gba BIOS still reported missing after install")
		}
	}
}

func TestRunGCDryRunDeletesNothing(t *testing.T) {
	sched, _, tempRoot, _ := newTestScheduler(t, Config{ScopeGrace: time.Minute})

	staleDir := filepath.Join(tempRoot, uuid.NewString())
	if err := os.MkdirAll(staleDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	backdate(t, staleDir, time.Hour)

	report, err := sched.RunGC(context.Background(), true)
	if err != nil {
		t.Fatalf("RunGC: %v", err)
	}
	if report.ReclaimedDirs != 0 {
		t.Errorf("dry run removed %d dirs", report.ReclaimedDirs)
	}
	if len(report.CandidateDirs) != 1 || report.CandidateDirs[0] != staleDir {
		t.Errorf("candidates = %v", report.CandidateDirs)
	}
	if _, err := os.Stat(staleDir); err != nil {
		t.Error("dry run deleted the candidate")
	}
	if report.Compacted {
		t.Error("dry run compacted the database")
	}
}

func TestRunGC(t *testing.T) {
	sched, _, tempRoot, _ := newTestScheduler(t, Config{ScopeGrace: time.Minute})

	staleDir := filepath.Join(tempRoot, uuid.NewString())
	if err := os.MkdirAll(staleDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	backdate(t, staleDir, time.Hour)

	report, err := sched.RunGC(context.Background(), false)
	if err != nil {
		t.Fatalf("RunGC: %v", err)
	}
	if report.Expired != 2 || report.Reaped != 1 {
		t.Errorf("janitor counts = %+v", report)
	}
	if report.ReclaimedDirs != 1 {
		t.Errorf("reclaimed %d dirs, want 1", report.ReclaimedDirs)
	}
	if !report.Compacted {
		t.Error("database not compacted")
	}
	if _, err := os.Stat(staleDir); !os.IsNotExist(err) {
		t.Error("stale dir survived gc")
	}
}

func TestExpirySweepUsesJanitor(t *testing.T) {
	sched, _, _, _ := newTestScheduler(t, Config{})
	if err := sched.ExpirySweep(context.Background()); err != nil {
		t.Fatalf("ExpirySweep: %v", err)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	sched, _, _, _ := newTestScheduler(t, Config{ExpirySchedule: "not a schedule"})
	if err := sched.Start(); err == nil {
		t.Fatal("expected schedule parse error")
	}
}
