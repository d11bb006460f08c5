package content

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/romstack/romstack/internal/logger"
	"github.com/romstack/romstack/pkg/fault"
	"github.com/romstack/romstack/pkg/platform"
)

// DefaultBombRatio caps declared-uncompressed over compressed size when the
// configuration does not say otherwise. Totals come from the central
// directory and are re-enforced while streaming, so a lying header cannot
// blow past them.
const DefaultBombRatio = 100

// maxExtractTotal is the cap on total uncompressed bytes per archive.
func maxExtractTotal() int64 {
	return 2 * platform.MaxSizeAny()
}

// ExtractedFile describes one file produced by archive extraction.
type ExtractedFile struct {
	Name string // base name inside the archive, sanitized
	Path string // extracted location on disk
	Size int64
}

// ExtractArchive unpacks a zip archive into outDir and returns the extracted
// files. The central directory totals are validated before any byte is
// written; oversize or over-expanding archives fail with KindArchiveBomb and
// entries that try to escape outDir fail with KindPathUnsafe.
//
// Containers other than zip (.7z, .rar) are recognized by the registry but
// not unpacked here; they report KindNoRecognizedContent.
func (s *Store) ExtractArchive(ctx context.Context, archivePath, outDir string) ([]ExtractedFile, error) {
	if ext := strings.ToLower(filepath.Ext(archivePath)); ext != ".zip" {
		return nil, fault.Newf(fault.KindNoRecognizedContent, "unsupported archive codec %q", ext)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fault.Wrap(fault.KindAssemblyIO, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fault.Wrap(fault.KindAssemblyIO, err)
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, fault.Newf(fault.KindNoRecognizedContent, "not a zip archive: %v", err)
	}
	// The stdlib inflater is replaced with the faster one across the board;
	// output is identical.
	zr.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})

	if err := s.checkArchiveBudget(zr); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fault.Wrap(fault.KindAssemblyIO, err)
	}

	var out []ExtractedFile
	for _, entry := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.FileInfo().IsDir() {
			continue
		}

		name := filepath.Base(filepath.ToSlash(entry.Name))
		if name == "." || name == ".." || name == "/" {
			return nil, fault.Newf(fault.KindPathUnsafe, "archive entry %q has no usable name", entry.Name)
		}
		if strings.Contains(entry.Name, "..") {
			return nil, fault.Newf(fault.KindPathUnsafe, "archive entry %q contains traversal", entry.Name)
		}

		dst := filepath.Join(outDir, name)
		if err := ensureUnder(s.tempRoot, dst); err != nil {
			return nil, err
		}

		n, err := extractEntry(entry, dst)
		if err != nil {
			return nil, err
		}
		out = append(out, ExtractedFile{Name: name, Path: dst, Size: n})
	}

	if len(out) == 0 {
		return nil, fault.New(fault.KindNoRecognizedContent, "archive contains no files")
	}

	logger.Debug("Extracted archive", "archive", filepath.Base(archivePath), "files", len(out))
	return out, nil
}

// checkArchiveBudget rejects bombs using central directory metadata only.
func (s *Store) checkArchiveBudget(zr *zip.Reader) error {
	var compressed, uncompressed int64
	for _, entry := range zr.File {
		compressed += int64(entry.CompressedSize64)
		uncompressed += int64(entry.UncompressedSize64)
	}

	if uncompressed > maxExtractTotal() {
		return fault.Newf(fault.KindArchiveBomb,
			"archive declares %d uncompressed bytes, limit %d", uncompressed, maxExtractTotal())
	}
	if compressed > 0 && uncompressed/compressed > s.bombRatio {
		return fault.Newf(fault.KindArchiveBomb,
			"archive expands %dx, limit %dx", uncompressed/compressed, s.bombRatio)
	}
	return nil
}

// extractEntry streams one entry to disk, holding it to its declared size.
func extractEntry(entry *zip.File, dst string) (int64, error) {
	rc, err := entry.Open()
	if err != nil {
		return 0, fault.Wrap(fault.KindAssemblyIO, err)
	}
	defer rc.Close()

	w, err := os.Create(dst)
	if err != nil {
		return 0, fault.Wrap(fault.KindAssemblyIO, err)
	}

	declared := int64(entry.UncompressedSize64)
	n, err := io.Copy(w, io.LimitReader(rc, declared+1))
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return 0, fault.Wrap(fault.KindAssemblyIO, err)
	}
	if n > declared {
		os.Remove(dst)
		return 0, fault.Newf(fault.KindArchiveBomb,
			"entry %q exceeds its declared size %d", entry.Name, declared)
	}
	return n, nil
}
