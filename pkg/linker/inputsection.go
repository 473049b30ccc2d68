package linker

import (
	"debug/elf"
	"math"
	"math/bits"

	"github.com/maplestarplayl/elkr/pkg/utils"
)

type InputSection struct {
	File     *ObjectFile
	Contents []byte
	Shndx    uint32
	ShSize   uint32
	IsAlive  bool
	P2Align  uint8

	Offset        uint32
	OutputSection *OutputSection

	RelsecIdx uint32
	Rels      []Rela

	name string
}

func NewInputSection(ctx *Context, name string, file *ObjectFile, shndx uint32) (*InputSection, error) {
	s := &InputSection{
		File:      file,
		Shndx:     shndx,
		IsAlive:   true,
		Offset:    math.MaxUint32,
		RelsecIdx: math.MaxUint32,
		name:      name,
	}

	shdr := s.Shdr()
	contents, err := file.GetBytesFromShdr(shdr)
	if err != nil {
		return nil, err
	}
	s.Contents = contents
	s.ShSize = uint32(shdr.Size)

	toP2Align := func(align uint64) uint8 {
		if align == 0 {
			return 0
		}
		return uint8(bits.TrailingZeros64(align))
	}
	s.P2Align = toP2Align(shdr.AddrAlign)

	s.OutputSection = GetOutputSection(ctx, name, uint64(shdr.Type), shdr.Flags)

	return s, nil
}

func (i *InputSection) Shdr() *Shdr {
	utils.Assert(i.Shndx < uint32(len(i.File.ElfSections)))
	return &i.File.ElfSections[i.Shndx]
}

func (i *InputSection) Name() string {
	return i.name
}

func (i *InputSection) GetAddr() uint64 {
	return i.OutputSection.Shdr.Addr + uint64(i.Offset)
}

func (i *InputSection) WriteTo(ctx *Context, buf []byte) error {
	if i.Shdr().Type == uint32(elf.SHT_NOBITS) || i.ShSize == 0 {
		return nil
	}

	i.CopyContents(buf)

	if i.Shdr().Flags&uint64(elf.SHF_ALLOC) != 0 {
		return i.ApplyRelocAlloc(ctx, buf)
	}
	return nil
}

func (i *InputSection) CopyContents(buf []byte) {
	copy(buf, i.Contents)
}

func (i *InputSection) ApplyRelocAlloc(ctx *Context, base []byte) error {
	for _, rel := range i.Rels {
		if isRelocNone(rel.Type) {
			continue
		}

		sym := i.File.Symbols[rel.Sym]
		loc := base[rel.Offset:]

		S := sym.GetAddr()
		A := uint64(rel.Addend)
		P := i.GetAddr() + rel.Offset

		if err := ApplyRelocation(elf.R_AARCH64(rel.Type), loc, S, A, P); err != nil {
			if overflow, ok := err.(*RelocationOverflowError); ok {
				overflow.File = i.File.Name()
				overflow.Symbol = sym.Name
				return overflow
			}
			return err
		}
	}
	return nil
}
