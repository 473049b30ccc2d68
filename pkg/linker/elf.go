package linker

import (
	"bytes"
	"debug/elf"
	"fmt"
	"unsafe"
)

const PageSize = 4096
const ImageBase uint64 = 0x400000

type Ehdr struct {
	Ident     [16]uint8
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	PhOff     uint64
	ShOff     uint64
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrndx  uint16
}

type Shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

type Phdr struct {
	Type     uint32
	Flags    uint32
	Offset   uint64
	VAddr    uint64
	PAddr    uint64
	FileSize uint64
	MemSize  uint64
	Align    uint64
}

type Sym struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Val   uint64
	Size  uint64
}

// Rela keeps r_info split into its low (type) and high (symbol index)
// halves, which on little-endian matches the on-disk layout.
type Rela struct {
	Offset uint64
	Type   uint32
	Sym    uint32
	Addend int64
}

const EhdrSize = int(unsafe.Sizeof(Ehdr{}))
const ShdrSize = int(unsafe.Sizeof(Shdr{}))
const PhdrSize = int(unsafe.Sizeof(Phdr{}))
const SymSize = int(unsafe.Sizeof(Sym{}))
const RelaSize = int(unsafe.Sizeof(Rela{}))

func (s *Sym) IsUndef() bool {
	return s.Shndx == uint16(elf.SHN_UNDEF)
}

func (s *Sym) IsAbs() bool {
	return s.Shndx == uint16(elf.SHN_ABS)
}

func (s *Sym) IsCommon() bool {
	return s.Shndx == uint16(elf.SHN_COMMON)
}

func (s *Sym) IsWeak() bool {
	return s.Bind() == uint8(elf.STB_WEAK)
}

func (s *Sym) IsGlobal() bool {
	return s.Bind() == uint8(elf.STB_GLOBAL)
}

func (s *Sym) Bind() uint8 {
	return s.Info >> 4
}

func (s *Sym) SymType() uint8 {
	return s.Info & 0xf
}

func CheckMagic(contents []byte) bool {
	return bytes.HasPrefix(contents, []byte("\177ELF"))
}

func WriteMagic(contents []byte) {
	copy(contents, "\177ELF")
}

// ElfGetName reads the NUL-terminated string at offset in a string table.
func ElfGetName(strTab []byte, offset uint32) (string, error) {
	if offset >= uint32(len(strTab)) {
		return "", fmt.Errorf("%w: offset %d exceeds string table size %d",
			ErrBadStringIndex, offset, len(strTab))
	}
	length := bytes.IndexByte(strTab[offset:], 0)
	if length == -1 {
		return "", fmt.Errorf("%w: unterminated string at offset %d",
			ErrBadStringIndex, offset)
	}
	return string(strTab[offset : offset+uint32(length)]), nil
}
