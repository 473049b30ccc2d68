package linker

import (
	"debug/elf"

	"github.com/maplestarplayl/elkr/pkg/utils"
)

// Each relocation is a pure function of the patch site bytes and the
// (S, A, P) triple. Instruction patches read-modify-write the 32-bit word
// so every opcode bit outside the immediate field survives.
type relocFunc func(loc []byte, S, A, P uint64) error

var relocTable = map[elf.R_AARCH64]relocFunc{
	elf.R_AARCH64_ABS64:               relocAbs64,
	elf.R_AARCH64_ABS32:               relocAbs32,
	elf.R_AARCH64_PREL32:              relocPrel32,
	elf.R_AARCH64_ADR_PREL_PG_HI21:    relocAdrPage21,
	elf.R_AARCH64_ADD_ABS_LO12_NC:     relocAddLo12,
	elf.R_AARCH64_JUMP26:              relocBranch26,
	elf.R_AARCH64_CALL26:              relocBranch26,
	elf.R_AARCH64_LDST8_ABS_LO12_NC:   relocLdstLo12(0),
	elf.R_AARCH64_LDST16_ABS_LO12_NC:  relocLdstLo12(1),
	elf.R_AARCH64_LDST32_ABS_LO12_NC:  relocLdstLo12(2),
	elf.R_AARCH64_LDST64_ABS_LO12_NC:  relocLdstLo12(3),
	elf.R_AARCH64_LDST128_ABS_LO12_NC: relocLdstLo12(4),
}

func IsSupportedRelocation(typ elf.R_AARCH64) bool {
	_, ok := relocTable[typ]
	return ok
}

// Both the psABI's 0 and glibc's historical 256 mean "no operation".
func isRelocNone(typ uint32) bool {
	return typ == uint32(elf.R_AARCH64_NONE) || typ == uint32(elf.R_AARCH64_NULL)
}

func ApplyRelocation(typ elf.R_AARCH64, loc []byte, S, A, P uint64) error {
	fn, ok := relocTable[typ]
	if !ok {
		return &UnsupportedRelocationError{Type: uint32(typ)}
	}
	err := fn(loc, S, A, P)
	if overflow, ok := err.(*RelocationOverflowError); ok {
		overflow.Type = uint32(typ)
	}
	return err
}

func page(val uint64) uint64 {
	return val &^ 0xfff
}

func relocAbs64(loc []byte, S, A, P uint64) error {
	utils.Write[uint64](loc, S+A)
	return nil
}

func relocAbs32(loc []byte, S, A, P uint64) error {
	val := int64(S + A)
	if val < -(1<<31) || val >= (1<<32) {
		return &RelocationOverflowError{Type: uint32(elf.R_AARCH64_ABS32), Value: val}
	}
	utils.Write[uint32](loc, uint32(val))
	return nil
}

func relocPrel32(loc []byte, S, A, P uint64) error {
	val := int64(S + A - P)
	if val < -(1<<31) || val >= (1<<32) {
		return &RelocationOverflowError{Type: uint32(elf.R_AARCH64_PREL32), Value: val}
	}
	utils.Write[uint32](loc, uint32(val))
	return nil
}

// ADRP: X = Page(S+A) - Page(P), X fits in ±4GiB; bits [32:12] of X land in
// immlo (instruction bits 30:29) and immhi (bits 23:5).
func relocAdrPage21(loc []byte, S, A, P uint64) error {
	val := int64(page(S+A) - page(P))
	if val < -(1<<32) || val >= (1<<32) {
		return &RelocationOverflowError{Type: uint32(elf.R_AARCH64_ADR_PREL_PG_HI21), Value: val}
	}
	writeAdr(loc, uint64(val)>>12)
	return nil
}

func relocAddLo12(loc []byte, S, A, P uint64) error {
	writeImm12(loc, (S+A)&0xfff)
	return nil
}

// LDST: X = ((S+A) & 0xFFF) >> scale. The in-page offset is isolated
// before the granule shift, so page-number bits never leak into imm12.
func relocLdstLo12(scale int) relocFunc {
	return func(loc []byte, S, A, P uint64) error {
		writeImm12(loc, ((S+A)&0xfff)>>scale)
		return nil
	}
}

// B/BL: X = S+A-P, word-aligned, within ±128MiB; X>>2 lands in imm26
// (instruction bits 25:0).
func relocBranch26(loc []byte, S, A, P uint64) error {
	val := int64(S + A - P)
	if val&3 != 0 || val < -(1<<27) || val >= (1<<27) {
		return &RelocationOverflowError{Type: uint32(elf.R_AARCH64_CALL26), Value: val}
	}

	mask := uint32(0xfc00_0000)
	imm26 := uint32(val>>2) & 0x03ff_ffff
	utils.Write[uint32](loc, (utils.Read[uint32](loc)&mask)|imm26)
	return nil
}

func writeAdr(loc []byte, val uint64) {
	mask := uint32(0x9f00_001f)
	immlo := uint32(utils.Bits(val, 1, 0)) << 29
	immhi := uint32(utils.Bits(val, 20, 2)) << 5
	utils.Write[uint32](loc, (utils.Read[uint32](loc)&mask)|immlo|immhi)
}

// val must already be reduced to 12 bits by the caller.
func writeImm12(loc []byte, val uint64) {
	mask := uint32(0xffc0_03ff)
	imm12 := uint32(val) << 10
	utils.Write[uint32](loc, (utils.Read[uint32](loc)&mask)|imm12)
}
