package content

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/romstack/romstack/pkg/fault"
	"github.com/romstack/romstack/pkg/platform"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	base := t.TempDir()
	s, err := NewStore(filepath.Join(base, "tmp"), filepath.Join(base, "roms"), 0)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestWriteChunkAndAssemble(t *testing.T) {
	s := newTestStore(t)
	scope, err := s.NewScope()
	if err != nil {
		t.Fatalf("NewScope: %v", err)
	}

	chunks := [][]byte{
		bytes.Repeat([]byte{0xAA}, 1024),
		bytes.Repeat([]byte{0xBB}, 512),
		[]byte("tail"),
	}

	var paths []string
	var whole []byte
	for i, data := range chunks {
		p := s.ChunkPath(scope, i)
		digest, err := s.WriteChunk(context.Background(), p, data)
		if err != nil {
			t.Fatalf("WriteChunk %d: %v", i, err)
		}
		want := sha256.Sum256(data)
		if digest != hex.EncodeToString(want[:]) {
			t.Errorf("chunk %d digest mismatch", i)
		}
		paths = append(paths, p)
		whole = append(whole, data...)
	}

	out := s.AssembledPath(scope)
	if err := s.Assemble(context.Background(), paths, out); err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	digest, n, err := s.StreamDigest(out)
	if err != nil {
		t.Fatalf("StreamDigest: %v", err)
	}
	if n != int64(len(whole)) {
		t.Errorf("assembled size = %d, want %d", n, len(whole))
	}
	want := sha256.Sum256(whole)
	if digest != hex.EncodeToString(want[:]) {
		t.Error("assembled digest does not match concatenation")
	}

	if err := s.ReleaseScope(scope); err != nil {
		t.Fatalf("ReleaseScope: %v", err)
	}
	if _, err := os.Stat(s.ScopeDir(scope)); !os.IsNotExist(err) {
		t.Error("scope dir still present after release")
	}
}

func TestAssembleCancelledContext(t *testing.T) {
	s := newTestStore(t)
	scope, _ := s.NewScope()
	p := s.ChunkPath(scope, 0)
	if _, err := s.WriteChunk(context.Background(), p, []byte("data")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := s.AssembledPath(scope)
	if err := s.Assemble(ctx, []string{p}, out); err == nil {
		t.Fatal("Assemble with cancelled context should fail")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("partial assembled file left behind after cancel")
	}
}

func TestReleaseScopeRejectsEscapingToken(t *testing.T) {
	s := newTestStore(t)
	if err := s.ReleaseScope("../../etc"); !fault.IsKind(err, fault.KindPathUnsafe) {
		t.Fatalf("err = %v, want PathUnsafe", err)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"Super Mario Bros.", "Super Mario Bros.", false},
		{"  lots   of\t\tspace  ", "lots of space", false},
		{`bad<>:"/\|?*chars`, "badchars", false},
		{"ctrl\x00\x1fchars", "ctrlchars", false},
		{"../../etc/passwd", "", true}, // leading dot survives stripping
		{".hidden", "", true},
		{"///", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := SanitizeName(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("SanitizeName(%q) = %q, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("SanitizeName(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFinalPathStaysUnderRoot(t *testing.T) {
	s := newTestStore(t)

	p, err := s.FinalPath(platform.NES, "Super Mario Bros", ".nes")
	if err != nil {
		t.Fatalf("FinalPath: %v", err)
	}
	want := filepath.Join(s.RomRoot(), "nes", "Super Mario Bros.nes")
	if p != want {
		t.Errorf("FinalPath = %q, want %q", p, want)
	}

	if _, err := s.FinalPath(platform.NES, "../escape", ".nes"); !fault.IsKind(err, fault.KindPathUnsafe) {
		t.Errorf("traversal name accepted: %v", err)
	}
}

func TestPublishFinal(t *testing.T) {
	s := newTestStore(t)
	scope, _ := s.NewScope()
	src := s.AssembledPath(scope)
	if err := os.WriteFile(src, []byte("rom bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	dst, err := s.FinalPath(platform.GB, "Tetris", ".gb")
	if err != nil {
		t.Fatalf("FinalPath: %v", err)
	}
	if err := s.PublishFinal(src, dst); err != nil {
		t.Fatalf("PublishFinal: %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read published file: %v", err)
	}
	if string(data) != "rom bytes" {
		t.Error("published content differs from source")
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source still present after publish")
	}
}

func writeZip(t *testing.T, path string, files map[string][]byte) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExtractArchive(t *testing.T) {
	s := newTestStore(t)
	archive := filepath.Join(s.TempRoot(), "bundle.zip")
	writeZip(t, archive, map[string][]byte{
		"game.nes":   bytes.Repeat([]byte{0x42}, 2048),
		"readme.txt": []byte("docs"),
	})

	files, err := s.ExtractArchive(context.Background(), archive, s.ExtractDir())
	if err != nil {
		t.Fatalf("ExtractArchive: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("extracted %d files, want 2", len(files))
	}
	for _, f := range files {
		info, err := os.Stat(f.Path)
		if err != nil {
			t.Errorf("missing extracted file %q: %v", f.Path, err)
			continue
		}
		if info.Size() != f.Size {
			t.Errorf("%q: reported size %d, on disk %d", f.Name, f.Size, info.Size())
		}
	}
}

func TestExtractArchiveRejectsTraversal(t *testing.T) {
	s := newTestStore(t)
	archive := filepath.Join(s.TempRoot(), "evil.zip")
	writeZip(t, archive, map[string][]byte{
		"../../escape.nes": []byte("nope"),
	})

	_, err := s.ExtractArchive(context.Background(), archive, s.ExtractDir())
	if !fault.IsKind(err, fault.KindPathUnsafe) {
		t.Fatalf("err = %v, want PathUnsafe", err)
	}
}

func TestExtractArchiveRejectsBomb(t *testing.T) {
	s := newTestStore(t)
	archive := filepath.Join(s.TempRoot(), "bomb.zip")
	// Highly compressible payload: deflate shrinks it far past the
	// expansion-ratio limit.
	writeZip(t, archive, map[string][]byte{
		"zeros.bin": make([]byte, 4<<20),
	})

	_, err := s.ExtractArchive(context.Background(), archive, s.ExtractDir())
	if !fault.IsKind(err, fault.KindArchiveBomb) {
		t.Fatalf("err = %v, want ArchiveBomb", err)
	}
}

func TestExtractArchiveHonorsConfiguredBombRatio(t *testing.T) {
	base := t.TempDir()
	strict, err := NewStore(filepath.Join(base, "tmp"), filepath.Join(base, "roms"), 2)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	// A repeated random block compresses to roughly one block: the ratio
	// lands well above 2 but nowhere near the default 100.
	block := make([]byte, 8<<10)
	rand.New(rand.NewSource(1)).Read(block)
	archive := filepath.Join(strict.TempRoot(), "dense.zip")
	writeZip(t, archive, map[string][]byte{
		"game.nes": bytes.Repeat(block, 8),
	})

	_, err = strict.ExtractArchive(context.Background(), archive, strict.ExtractDir())
	if !fault.IsKind(err, fault.KindArchiveBomb) {
		t.Fatalf("strict store: err = %v, want ArchiveBomb", err)
	}

	relaxed, err := NewStore(filepath.Join(base, "tmp"), filepath.Join(base, "roms"), 0)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := relaxed.ExtractArchive(context.Background(), archive, relaxed.ExtractDir()); err != nil {
		t.Fatalf("default ratio rejected the archive: %v", err)
	}
}

func TestExtractArchiveUnsupportedCodec(t *testing.T) {
	s := newTestStore(t)
	archive := filepath.Join(s.TempRoot(), "bundle.7z")
	if err := os.WriteFile(archive, []byte("7z\xBC\xAF\x27\x1C"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := s.ExtractArchive(context.Background(), archive, s.ExtractDir())
	if !fault.IsKind(err, fault.KindNoRecognizedContent) {
		t.Fatalf("err = %v, want NoRecognizedContent", err)
	}
}
