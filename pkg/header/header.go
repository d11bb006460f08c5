// Package header parses console ROM headers. Each supported family has a
// fixed, bit-exact layout; parsers extract the embedded title, region,
// version, and checksum where the format defines them.
//
// Parsers never fail ingestion: a malformed header yields ErrNoHeader (or a
// partially filled Summary) rather than failing ingestion. The assembler
// records the absence as a warning and falls back to the file name.
package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/romstack/romstack/pkg/platform"
)

// ErrNoHeader indicates the content does not carry a recognizable header for
// the requested family.
var ErrNoHeader = errors.New("no recognizable header")

// Summary is the parsed header content. Fields not defined by a family stay
// zero.
type Summary struct {
	Family   platform.HeaderFamily `json:"family"`
	Title    string                `json:"title,omitempty"`
	Region   string                `json:"region,omitempty"`
	Version  string                `json:"version,omitempty"`
	GameCode string                `json:"game_code,omitempty"`
	Checksum uint32                `json:"checksum,omitempty"`

	// Family-specific extras.
	PRGBanks int  `json:"prg_banks,omitempty"` // NES: PRG ROM x16 KiB
	CHRBanks int  `json:"chr_banks,omitempty"` // NES: CHR ROM x8 KiB
	CGB      bool `json:"cgb,omitempty"`       // GB: Color Game Boy capable
	SGB      bool `json:"sgb,omitempty"`       // GB: Super Game Boy aware
}

// Parse reads and decodes the header for the given family.
func Parse(family platform.HeaderFamily, r io.ReaderAt, size int64) (*Summary, error) {
	switch family {
	case platform.FamilyNES:
		return parseNES(r, size)
	case platform.FamilySNES:
		return parseSNES(r, size)
	case platform.FamilyN64:
		return parseN64(r, size)
	case platform.FamilyGB:
		return parseGB(r, size)
	case platform.FamilyGBA:
		return parseGBA(r, size)
	case platform.FamilyGenesis:
		return parseGenesis(r, size)
	case platform.FamilyPSXISO:
		return parsePSXISO(r, size)
	default:
		return nil, fmt.Errorf("%w: family %q", ErrNoHeader, family)
	}
}

// CheckMagic probes only the family signature without decoding the full
// header. Used by the content store's cheap signature probe.
func CheckMagic(family platform.HeaderFamily, r io.ReaderAt, size int64) bool {
	switch family {
	case platform.FamilyNES:
		var m [4]byte
		if _, err := r.ReadAt(m[:], 0); err != nil {
			return false
		}
		return string(m[:]) == "NES\x1a"
	case platform.FamilySNES:
		_, err := findSNESHeader(r, size)
		return err == nil
	case platform.FamilyN64:
		var m [4]byte
		if _, err := r.ReadAt(m[:], 0); err != nil {
			return false
		}
		return binary.BigEndian.Uint32(m[:]) == 0x80371240
	case platform.FamilyGB:
		// The GB header has no magic string; the Nintendo logo bitmap at
		// 0x104..0x133 is the de-facto signature.
		var logo [4]byte
		if _, err := r.ReadAt(logo[:], 0x104); err != nil {
			return false
		}
		return logo == [4]byte{0xCE, 0xED, 0x66, 0x66}
	case platform.FamilyGBA:
		// Fixed value 0x96 at offset 0xB2 per the cartridge header spec.
		var b [1]byte
		if _, err := r.ReadAt(b[:], 0xB2); err != nil {
			return false
		}
		return b[0] == 0x96
	case platform.FamilyGenesis:
		var tag [16]byte
		if _, err := r.ReadAt(tag[:], 0x100); err != nil {
			return false
		}
		return strings.Contains(string(tag[:]), "SEGA")
	case platform.FamilyPSXISO:
		var id [5]byte
		if _, err := r.ReadAt(id[:], 0x8001); err != nil {
			return false
		}
		return string(id[:]) == "CD001"
	default:
		return false
	}
}

// parseNES decodes an iNES header: magic "NES\x1A", PRG/CHR bank counts, and
// the TV system flag in byte 6 bit 0.
func parseNES(r io.ReaderAt, size int64) (*Summary, error) {
	if size < 16 {
		return nil, ErrNoHeader
	}
	var h [16]byte
	if _, err := r.ReadAt(h[:], 0); err != nil {
		return nil, err
	}
	if string(h[:4]) != "NES\x1a" {
		return nil, ErrNoHeader
	}

	s := &Summary{
		Family:   platform.FamilyNES,
		PRGBanks: int(h[4]),
		CHRBanks: int(h[5]),
	}
	if h[6]&0x01 == 0 {
		s.Region = "NTSC"
	} else {
		s.Region = "PAL"
	}
	return s, nil
}

// snesHeaderOffsets are the candidate locations of the SNES internal header:
// LoROM, HiROM, and ExLoROM images respectively.
var snesHeaderOffsets = []int64{0x7FC0, 0xFFC0, 0x40C0}

// findSNESHeader locates the internal header by requiring the checksum and
// its complement (both u16 LE) to XOR-combine to 0xFFFF.
func findSNESHeader(r io.ReaderAt, size int64) (int64, error) {
	for _, off := range snesHeaderOffsets {
		if off+32 > size {
			continue
		}
		var block [32]byte
		if _, err := r.ReadAt(block[:], off); err != nil {
			continue
		}
		checksum := binary.LittleEndian.Uint16(block[28:30])
		complement := binary.LittleEndian.Uint16(block[30:32])
		if checksum^complement == 0xFFFF {
			return off, nil
		}
	}
	return 0, ErrNoHeader
}

func parseSNES(r io.ReaderAt, size int64) (*Summary, error) {
	off, err := findSNESHeader(r, size)
	if err != nil {
		return nil, err
	}
	var block [32]byte
	if _, err := r.ReadAt(block[:], off); err != nil {
		return nil, err
	}
	return &Summary{
		Family:   platform.FamilySNES,
		Title:    cleanASCII(block[:21]),
		Checksum: uint32(binary.LittleEndian.Uint16(block[28:30])),
	}, nil
}

func parseN64(r io.ReaderAt, size int64) (*Summary, error) {
	if size < 64 {
		return nil, ErrNoHeader
	}
	var h [64]byte
	if _, err := r.ReadAt(h[:], 0); err != nil {
		return nil, err
	}
	if binary.BigEndian.Uint32(h[0:4]) != 0x80371240 {
		return nil, ErrNoHeader
	}
	return &Summary{
		Family:   platform.FamilyN64,
		Title:    cleanASCII(h[32:52]),
		GameCode: cleanASCII(h[59:63]),
	}, nil
}

func parseGB(r io.ReaderAt, size int64) (*Summary, error) {
	if size < 0x150 {
		return nil, ErrNoHeader
	}
	var h [0x150]byte
	if _, err := r.ReadAt(h[:], 0); err != nil {
		return nil, err
	}
	s := &Summary{
		Family: platform.FamilyGB,
		Title:  cleanASCII(h[0x134:0x144]),
		CGB:    h[0x143] == 0x80 || h[0x143] == 0xC0,
		SGB:    h[0x146] == 0x03,
	}
	// A CGB-flagged title field is 15 bytes; drop the flag byte if it leaked
	// into the title.
	if s.CGB {
		s.Title = cleanASCII(h[0x134:0x143])
	}
	return s, nil
}

func parseGBA(r io.ReaderAt, size int64) (*Summary, error) {
	if size < 0xC0 {
		return nil, ErrNoHeader
	}
	var h [0xC0]byte
	if _, err := r.ReadAt(h[:], 0); err != nil {
		return nil, err
	}
	return &Summary{
		Family:   platform.FamilyGBA,
		Title:    cleanASCII(h[0xA0:0xAC]),
		GameCode: cleanASCII(h[0xAC:0xB0]),
	}, nil
}

// genesisRegions maps the region field characters to readable names.
var genesisRegions = map[byte]string{
	'J': "Japan",
	'U': "USA",
	'E': "Europe",
}

func parseGenesis(r io.ReaderAt, size int64) (*Summary, error) {
	if size < 0x200 {
		return nil, ErrNoHeader
	}
	var h [0x200]byte
	if _, err := r.ReadAt(h[:], 0); err != nil {
		return nil, err
	}
	if !strings.Contains(string(h[0x100:0x110]), "SEGA") {
		return nil, ErrNoHeader
	}

	var regions []string
	for _, b := range h[0x1F0:0x1F3] {
		if name, ok := genesisRegions[b]; ok {
			regions = append(regions, name)
		}
	}
	return &Summary{
		Family: platform.FamilyGenesis,
		Title:  cleanASCII(h[0x150:0x190]),
		Region: strings.Join(regions, ","),
	}, nil
}

func parsePSXISO(r io.ReaderAt, size int64) (*Summary, error) {
	// Primary volume descriptor lives at sector 16 of a 2048-byte sector ISO.
	const pvdOffset = 0x8000
	if size < pvdOffset+2048 {
		return nil, ErrNoHeader
	}
	sector := make([]byte, 2048)
	if _, err := r.ReadAt(sector, pvdOffset); err != nil {
		return nil, err
	}
	if string(sector[1:6]) != "CD001" {
		return nil, ErrNoHeader
	}
	return &Summary{
		Family: platform.FamilyPSXISO,
		// Volume identifier: bytes 40..72 of the PVD, space padded.
		Title: cleanASCII(sector[40:72]),
	}, nil
}

// cleanASCII trims NULs, space padding, and non-printable bytes from a fixed
// header field.
func cleanASCII(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c >= 0x20 && c < 0x7F {
			out = append(out, c)
		}
	}
	return strings.TrimSpace(string(out))
}
