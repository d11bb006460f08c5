// Package platform holds the static registry of supported console platforms:
// file extensions, size caps, BIOS requirements, and header families.
//
// The registry is immutable and process-wide. Ambiguous extensions (".bin",
// ".iso") resolve to the first platform registered with that extension;
// archive content is re-classified after extraction by picking the largest
// recognized file.
package platform

import (
	"path/filepath"
	"strings"
)

// ID identifies a platform in the registry.
type ID string

const (
	NES     ID = "nes"
	SNES    ID = "snes"
	N64     ID = "n64"
	GB      ID = "gb"
	GBA     ID = "gba"
	Genesis ID = "genesis"
	PSX     ID = "psx"
)

// HeaderFamily selects the ROM header layout used for parsing and signature
// probing.
type HeaderFamily string

const (
	FamilyNES     HeaderFamily = "NES"
	FamilySNES    HeaderFamily = "SNES"
	FamilyN64     HeaderFamily = "N64"
	FamilyGB      HeaderFamily = "GB"
	FamilyGBA     HeaderFamily = "GBA"
	FamilyGenesis HeaderFamily = "GENESIS"
	FamilyPSXISO  HeaderFamily = "PSX_ISO"
	FamilyUnknown HeaderFamily = "UNKNOWN"
)

// Spec describes a single platform.
type Spec struct {
	ID           ID
	Name         string
	Extensions   []string // lowercase, with leading dot
	MimeHints    []string
	MaxSize      int64 // bytes
	BIOSRequired bool
	BIOSFiles    []string
	Family       HeaderFamily
}

const (
	mib = 1 << 20
	gib = 1 << 30
)

// specs is the closed registration list. Order matters: ambiguous extensions
// resolve to the first platform that claims them.
var specs = []Spec{
	{
		ID:         NES,
		Name:       "Nintendo Entertainment System",
		Extensions: []string{".nes"},
		MimeHints:  []string{"application/x-nes-rom"},
		MaxSize:    4 * mib,
		Family:     FamilyNES,
	},
	{
		ID:         SNES,
		Name:       "Super Nintendo",
		Extensions: []string{".sfc", ".smc"},
		MimeHints:  []string{"application/x-snes-rom"},
		MaxSize:    16 * mib,
		Family:     FamilySNES,
	},
	{
		ID:         N64,
		Name:       "Nintendo 64",
		Extensions: []string{".n64", ".z64", ".v64"},
		MimeHints:  []string{"application/x-n64-rom"},
		MaxSize:    96 * mib,
		Family:     FamilyN64,
	},
	{
		ID:         GB,
		Name:       "Game Boy",
		Extensions: []string{".gb", ".gbc"},
		MimeHints:  []string{"application/x-gameboy-rom", "application/x-gameboy-color-rom"},
		MaxSize:    8 * mib,
		Family:     FamilyGB,
	},
	{
		ID:           GBA,
		Name:         "Game Boy Advance",
		Extensions:   []string{".gba"},
		MimeHints:    []string{"application/x-gba-rom"},
		MaxSize:      32 * mib,
		BIOSRequired: true,
		BIOSFiles:    []string{"gba_bios.bin"},
		Family:       FamilyGBA,
	},
	{
		ID:         Genesis,
		Name:       "Sega Genesis / Mega Drive",
		Extensions: []string{".md", ".gen", ".smd", ".bin"},
		MimeHints:  []string{"application/x-genesis-rom"},
		MaxSize:    16 * mib,
		Family:     FamilyGenesis,
	},
	{
		ID:           PSX,
		Name:         "Sony PlayStation",
		Extensions:   []string{".iso", ".img", ".bin", ".cue"},
		MimeHints:    []string{"application/x-iso9660-image"},
		MaxSize:      4 * gib,
		BIOSRequired: true,
		BIOSFiles:    []string{"scph1001.bin", "scph5501.bin", "scph7001.bin"},
		Family:       FamilyPSXISO,
	},
}

// byID and byExt are derived lookup tables. byExt keeps only the first
// registrant per extension, which encodes the tie-break order.
var (
	byID  = make(map[ID]*Spec, len(specs))
	byExt = make(map[string]ID, len(specs)*2)
)

func init() {
	for i := range specs {
		s := &specs[i]
		byID[s.ID] = s
		for _, ext := range s.Extensions {
			if _, taken := byExt[ext]; !taken {
				byExt[ext] = s.ID
			}
		}
	}
}

// archiveExtensions are containers the pipeline unpacks (or at least
// recognizes) before classification.
var archiveExtensions = map[string]bool{
	".zip": true,
	".7z":  true,
	".rar": true,
}

// ClassifyByExtension maps a file name to a platform by extension.
// Returns false for unknown extensions and for archive containers.
func ClassifyByExtension(name string) (ID, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	id, ok := byExt[ext]
	return id, ok
}

// Get returns the spec for a platform ID.
func Get(id ID) (*Spec, bool) {
	s, ok := byID[id]
	return s, ok
}

// MaxSize returns the size cap for a platform, or 0 for unknown platforms.
func MaxSize(id ID) int64 {
	if s, ok := byID[id]; ok {
		return s.MaxSize
	}
	return 0
}

// MaxSizeAny returns the largest size cap across all platforms. Used to bound
// archive extraction.
func MaxSizeAny() int64 {
	var max int64
	for i := range specs {
		if specs[i].MaxSize > max {
			max = specs[i].MaxSize
		}
	}
	return max
}

// IsArchive reports whether the name carries an archive container extension.
func IsArchive(name string) bool {
	return archiveExtensions[strings.ToLower(filepath.Ext(name))]
}

// IsRecognized reports whether the extension belongs to any platform.
func IsRecognized(name string) bool {
	_, ok := ClassifyByExtension(name)
	return ok
}

// All returns the specs in registration order.
func All() []Spec {
	out := make([]Spec, len(specs))
	copy(out, specs)
	return out
}
