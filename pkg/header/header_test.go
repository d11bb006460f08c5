package header

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/romstack/romstack/pkg/platform"
)

func nesImage(prg, chr byte, pal bool) []byte {
	rom := make([]byte, 64)
	copy(rom, "NES\x1a")
	rom[4] = prg
	rom[5] = chr
	if pal {
		rom[6] |= 0x01
	}
	return rom
}

func TestParseNES(t *testing.T) {
	s, err := Parse(platform.FamilyNES, bytes.NewReader(nesImage(2, 1, false)), 64)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.PRGBanks != 2 || s.CHRBanks != 1 {
		t.Errorf("banks = %d/%d, want 2/1", s.PRGBanks, s.CHRBanks)
	}
	if s.Region != "NTSC" {
		t.Errorf("region = %q, want NTSC", s.Region)
	}

	s, err = Parse(platform.FamilyNES, bytes.NewReader(nesImage(1, 0, true)), 64)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Region != "PAL" {
		t.Errorf("region = %q, want PAL", s.Region)
	}
}

func TestParseNESBadMagic(t *testing.T) {
	rom := make([]byte, 64)
	copy(rom, "NOPE")
	if _, err := Parse(platform.FamilyNES, bytes.NewReader(rom), 64); !errors.Is(err, ErrNoHeader) {
		t.Fatalf("err = %v, want ErrNoHeader", err)
	}
}

func snesImage(title string, offset int64) []byte {
	rom := make([]byte, offset+0x8000)
	copy(rom[offset:], []byte(title))
	checksum := uint16(0xBEEF)
	binary.LittleEndian.PutUint16(rom[offset+28:], checksum)
	binary.LittleEndian.PutUint16(rom[offset+30:], checksum^0xFFFF)
	return rom
}

func TestParseSNES(t *testing.T) {
	for _, off := range []int64{0x7FC0, 0xFFC0, 0x40C0} {
		rom := snesImage("SUPER TEST GAME", off)
		s, err := Parse(platform.FamilySNES, bytes.NewReader(rom), int64(len(rom)))
		if err != nil {
			t.Fatalf("offset %#x: %v", off, err)
		}
		if s.Title != "SUPER TEST GAME" {
			t.Errorf("offset %#x: title = %q", off, s.Title)
		}
		if s.Checksum != 0xBEEF {
			t.Errorf("offset %#x: checksum = %#x", off, s.Checksum)
		}
	}
}

func TestParseSNESRejectsBrokenChecksumPair(t *testing.T) {
	rom := snesImage("GAME", 0x7FC0)
	rom[0x7FC0+30] ^= 0xFF // break the complement
	if _, err := Parse(platform.FamilySNES, bytes.NewReader(rom), int64(len(rom))); !errors.Is(err, ErrNoHeader) {
		t.Fatalf("err = %v, want ErrNoHeader", err)
	}
}

func TestParseN64(t *testing.T) {
	rom := make([]byte, 64)
	binary.BigEndian.PutUint32(rom[0:4], 0x80371240)
	copy(rom[32:], "ZELDA MAJORA")
	copy(rom[59:], "NZSE")
	s, err := Parse(platform.FamilyN64, bytes.NewReader(rom), 64)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Title != "ZELDA MAJORA" {
		t.Errorf("title = %q", s.Title)
	}
	if s.GameCode != "NZSE" {
		t.Errorf("game code = %q", s.GameCode)
	}
}

func TestParseGB(t *testing.T) {
	rom := make([]byte, 0x150)
	copy(rom[0x134:], "POKEMON RED")
	rom[0x146] = 0x03
	s, err := Parse(platform.FamilyGB, bytes.NewReader(rom), 0x150)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Title != "POKEMON RED" {
		t.Errorf("title = %q", s.Title)
	}
	if !s.SGB || s.CGB {
		t.Errorf("flags = cgb:%v sgb:%v, want sgb only", s.CGB, s.SGB)
	}

	rom[0x143] = 0xC0
	s, err = Parse(platform.FamilyGB, bytes.NewReader(rom), 0x150)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !s.CGB {
		t.Error("CGB flag 0xC0 not detected")
	}
}

func TestParseGBA(t *testing.T) {
	rom := make([]byte, 0x100)
	copy(rom[0xA0:], "METROIDFUSIO")
	copy(rom[0xAC:], "AMTE")
	rom[0xB2] = 0x96
	s, err := Parse(platform.FamilyGBA, bytes.NewReader(rom), 0x100)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Title != "METROIDFUSIO" || s.GameCode != "AMTE" {
		t.Errorf("title = %q, code = %q", s.Title, s.GameCode)
	}
	if !CheckMagic(platform.FamilyGBA, bytes.NewReader(rom), 0x100) {
		t.Error("GBA magic probe failed")
	}
}

func TestParseGenesis(t *testing.T) {
	rom := make([]byte, 0x200)
	copy(rom[0x100:], "SEGA MEGA DRIVE ")
	copy(rom[0x150:], "SONIC THE HEDGEHOG")
	copy(rom[0x1F0:], "JUE")
	s, err := Parse(platform.FamilyGenesis, bytes.NewReader(rom), 0x200)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Title != "SONIC THE HEDGEHOG" {
		t.Errorf("title = %q", s.Title)
	}
	if s.Region != "Japan,USA,Europe" {
		t.Errorf("region = %q", s.Region)
	}
}

func TestParsePSXISO(t *testing.T) {
	iso := make([]byte, 0x8000+2048)
	iso[0x8000] = 0x01
	copy(iso[0x8001:], "CD001")
	copy(iso[0x8000+40:], "CRASH_BANDICOOT")
	s, err := Parse(platform.FamilyPSXISO, bytes.NewReader(iso), int64(len(iso)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Title != "CRASH_BANDICOOT" {
		t.Errorf("title = %q", s.Title)
	}
	if !CheckMagic(platform.FamilyPSXISO, bytes.NewReader(iso), int64(len(iso))) {
		t.Error("PSX magic probe failed")
	}
}

func TestParseTruncatedImages(t *testing.T) {
	families := []platform.HeaderFamily{
		platform.FamilyNES,
		platform.FamilySNES,
		platform.FamilyN64,
		platform.FamilyGB,
		platform.FamilyGBA,
		platform.FamilyGenesis,
		platform.FamilyPSXISO,
	}
	tiny := []byte{0x00, 0x01}
	for _, fam := range families {
		if _, err := Parse(fam, bytes.NewReader(tiny), int64(len(tiny))); err == nil {
			t.Errorf("family %s: parsing a 2-byte file should fail", fam)
		}
	}
}

func TestCheckMagicNES(t *testing.T) {
	if !CheckMagic(platform.FamilyNES, bytes.NewReader(nesImage(1, 1, false)), 64) {
		t.Error("NES magic probe failed")
	}
	if CheckMagic(platform.FamilyNES, bytes.NewReader(make([]byte, 64)), 64) {
		t.Error("NES magic probe matched zeroes")
	}
}
