// Package content implements the on-disk content store: per-upload scoped
// temp directories, durable chunk writes, streaming assembly and hashing,
// signature probing, and publication of finished artifacts under the ROM
// root.
//
// The store owns two directory trees. The temp root holds one scope directory
// per active upload (chunks plus the assembled file); the ROM root holds the
// final artifacts, one subdirectory per platform. Scopes are released on any
// terminal upload state; maintenance sweeps reclaim anything left behind by a
// crash.
package content

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/romstack/romstack/internal/logger"
	"github.com/romstack/romstack/pkg/fault"
	"github.com/romstack/romstack/pkg/header"
	"github.com/romstack/romstack/pkg/platform"
)

// Store provides scoped temp allocation and final artifact placement.
type Store struct {
	tempRoot  string
	romRoot   string
	bombRatio int64
}

// NewStore creates the temp and ROM roots if missing and resolves them to
// real paths so later containment checks are symlink-safe. bombRatio caps
// archive expansion; <= 0 selects DefaultBombRatio.
func NewStore(tempRoot, romRoot string, bombRatio int64) (*Store, error) {
	for _, dir := range []string{tempRoot, romRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage root %q: %w", dir, err)
		}
	}

	realTemp, err := filepath.EvalSymlinks(tempRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve temp root: %w", err)
	}
	realRom, err := filepath.EvalSymlinks(romRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve rom root: %w", err)
	}

	if bombRatio <= 0 {
		bombRatio = DefaultBombRatio
	}
	return &Store{tempRoot: realTemp, romRoot: realRom, bombRatio: bombRatio}, nil
}

// TempRoot returns the resolved temp root directory.
func (s *Store) TempRoot() string { return s.tempRoot }

// RomRoot returns the resolved ROM root directory.
func (s *Store) RomRoot() string { return s.romRoot }

// NewScope allocates a private temp directory for one upload and returns its
// opaque token.
func (s *Store) NewScope() (string, error) {
	scope := uuid.NewString()
	if err := os.MkdirAll(s.ScopeDir(scope), 0o755); err != nil {
		return "", fmt.Errorf("create scope: %w", err)
	}
	return scope, nil
}

// ScopeDir returns the directory backing a scope token.
func (s *Store) ScopeDir(scope string) string {
	return filepath.Join(s.tempRoot, scope)
}

// ChunkPath returns the on-disk path for a chunk index within a scope.
func (s *Store) ChunkPath(scope string, index int) string {
	return filepath.Join(s.ScopeDir(scope), fmt.Sprintf("chunk-%d", index))
}

// AssembledPath returns the path of the concatenated artifact within a scope.
func (s *Store) AssembledPath(scope string) string {
	return filepath.Join(s.ScopeDir(scope), "assembled")
}

// ExtractDir returns a fresh extraction directory path under the temp root.
// The "extract-" prefix lets temp reclamation find stale ones.
func (s *Store) ExtractDir() string {
	return filepath.Join(s.tempRoot, "extract-"+uuid.NewString())
}

// ReleaseScope removes a scope directory and everything in it.
func (s *Store) ReleaseScope(scope string) error {
	if scope == "" {
		return nil
	}
	dir := s.ScopeDir(scope)
	// Refuse to remove anything outside the temp root, however the token was
	// obtained.
	if err := ensureUnder(s.tempRoot, dir); err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// WriteChunk durably writes chunk bytes: temp file in the same directory,
// fsync, atomic rename. Returns the hex SHA-256 of the written bytes.
func (s *Store) WriteChunk(ctx context.Context, path string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return "", fault.Wrap(fault.KindChunkWriteFailed, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Assemble concatenates the ordered chunk files into outPath. The context is
// consulted between chunks so a cancel aborts within one chunk read.
func (s *Store) Assemble(ctx context.Context, chunkPaths []string, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fault.Wrap(fault.KindAssemblyIO, err)
	}
	w := bufio.NewWriterSize(out, 256*1024)

	fail := func(cause error) error {
		out.Close()
		os.Remove(outPath)
		return cause
	}

	for _, p := range chunkPaths {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		in, err := os.Open(p)
		if err != nil {
			return fail(fault.Wrap(fault.KindAssemblyIO, err))
		}
		_, err = io.Copy(w, in)
		in.Close()
		if err != nil {
			return fail(fault.Wrap(fault.KindAssemblyIO, err))
		}
	}

	if err := w.Flush(); err != nil {
		return fail(fault.Wrap(fault.KindAssemblyIO, err))
	}
	if err := out.Sync(); err != nil {
		return fail(fault.Wrap(fault.KindAssemblyIO, err))
	}
	if err := out.Close(); err != nil {
		os.Remove(outPath)
		return fault.Wrap(fault.KindAssemblyIO, err)
	}
	return nil
}

// StreamDigest computes the hex SHA-256 of a file in a single pass and
// returns it with the byte count.
func (s *Store) StreamDigest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ProbeSignature checks the family magic of a file. A failed probe is
// advisory; callers record it as a warning, not an error.
func (s *Store) ProbeSignature(path string, family platform.HeaderFamily) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	return header.CheckMagic(family, f, info.Size()), nil
}

// FinalPath derives the artifact destination under the ROM root:
// <romRoot>/<platform>/<sanitized><ext>. The result is verified to stay
// inside the root.
func (s *Store) FinalPath(id platform.ID, name, ext string) (string, error) {
	clean, err := SanitizeName(name)
	if err != nil {
		return "", err
	}
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	dst := filepath.Join(s.romRoot, string(id), clean+ext)
	if err := ensureUnder(s.romRoot, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// PublishFinal moves the assembled artifact to its final path. Rename is
// atomic when temp and ROM roots share a filesystem; otherwise the artifact
// is copied through a pending file and swapped in atomically.
func (s *Store) PublishFinal(src, dst string) error {
	if err := ensureUnder(s.romRoot, dst); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	logger.Debug("Rename across devices, falling back to copy", "src", src, "dst", dst)

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	pending, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o644))
	if err != nil {
		return err
	}
	defer pending.Cleanup()

	if _, err := io.Copy(pending, in); err != nil {
		return err
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return err
	}
	return os.Remove(src)
}

// ensureUnder verifies that path stays inside root after lexical resolution
// and that no existing ancestor is a symlink escaping root.
func ensureUnder(root, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fault.Wrap(fault.KindPathUnsafe, err)
	}
	if !contained(root, abs) {
		return fault.Newf(fault.KindPathUnsafe, "path %q escapes %q", path, root)
	}

	// Resolve the deepest existing ancestor through symlinks; it must still
	// live under root.
	dir := filepath.Dir(abs)
	for {
		real, err := filepath.EvalSymlinks(dir)
		if err == nil {
			if !contained(root, real) {
				return fault.Newf(fault.KindPathUnsafe, "path %q resolves outside %q", path, root)
			}
			return nil
		}
		if !os.IsNotExist(err) {
			return fault.Wrap(fault.KindPathUnsafe, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}

func contained(root, abs string) bool {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
