package linker

import (
	"debug/elf"
	"fmt"

	"github.com/maplestarplayl/elkr/pkg/utils"
)

type InputFile struct {
	File         *File
	ElfSections  []Shdr
	ShStrtab     []byte
	ElfSyms      []Sym
	FirstGlobal  int
	SymbolStrtab []byte
	Symbols      []*Symbol
	LocalSymbols []Symbol
}

func NewInputFile(file *File) (InputFile, error) {
	f := InputFile{File: file}

	if len(file.Contents) < EhdrSize {
		return f, fmt.Errorf("%s: %w: file too small", file.Name, ErrMalformedHeader)
	}
	if !CheckMagic(file.Contents) {
		return f, fmt.Errorf("%s: %w: not an ELF file", file.Name, ErrMalformedHeader)
	}

	ehdr := utils.Read[Ehdr](file.Contents)
	if elf.Class(ehdr.Ident[elf.EI_CLASS]) != elf.ELFCLASS64 {
		return f, fmt.Errorf("%s: %w: not a 64-bit object", file.Name, ErrMalformedHeader)
	}
	if elf.Data(ehdr.Ident[elf.EI_DATA]) != elf.ELFDATA2LSB {
		return f, fmt.Errorf("%s: %w: not little-endian", file.Name, ErrMalformedHeader)
	}
	if elf.Machine(ehdr.Machine) != elf.EM_AARCH64 {
		return f, fmt.Errorf("%s: %w: machine %d", file.Name, ErrUnsupportedMachine, ehdr.Machine)
	}

	if ehdr.ShOff > uint64(len(file.Contents)) {
		return f, fmt.Errorf("%s: %w: section header table at %#x",
			file.Name, ErrTruncatedTable, ehdr.ShOff)
	}
	contents := file.Contents[ehdr.ShOff:]
	if len(contents) < ShdrSize {
		return f, fmt.Errorf("%s: %w: section header table", file.Name, ErrTruncatedTable)
	}
	shdr := utils.Read[Shdr](contents)

	numSections := int64(ehdr.ShNum)
	if numSections == 0 {
		numSections = int64(shdr.Size)
	}
	if uint64(numSections)*uint64(ShdrSize) > uint64(len(contents)) {
		return f, fmt.Errorf("%s: %w: %d section headers", file.Name, ErrTruncatedTable, numSections)
	}

	f.ElfSections = []Shdr{shdr}
	for numSections > 1 {
		contents = contents[ShdrSize:]
		f.ElfSections = append(f.ElfSections, utils.Read[Shdr](contents))
		numSections--
	}

	shstrndx := int64(ehdr.ShStrndx)
	if ehdr.ShStrndx == uint16(elf.SHN_XINDEX) {
		shstrndx = int64(shdr.Link)
	}
	if shstrndx < 0 || shstrndx >= int64(len(f.ElfSections)) {
		return f, fmt.Errorf("%s: %w: shstrndx %d", file.Name, ErrBadStringIndex, shstrndx)
	}

	shstrtab, err := f.GetBytesFromIdx(shstrndx)
	if err != nil {
		return f, err
	}
	f.ShStrtab = shstrtab
	return f, nil
}

func (f *InputFile) Name() string {
	return f.File.Name
}

func (f *InputFile) GetBytesFromShdr(s *Shdr) ([]byte, error) {
	if s.Type == uint32(elf.SHT_NOBITS) {
		return nil, nil
	}
	end := s.Offset + s.Size
	if uint64(len(f.File.Contents)) < end {
		return nil, fmt.Errorf("%s: %w: section data at %#x+%#x",
			f.Name(), ErrTruncatedTable, s.Offset, s.Size)
	}
	return f.File.Contents[s.Offset:end], nil
}

func (f *InputFile) GetBytesFromIdx(idx int64) ([]byte, error) {
	return f.GetBytesFromShdr(&f.ElfSections[idx])
}

func (f *InputFile) FillUpElfSyms(s *Shdr) error {
	bs, err := f.GetBytesFromShdr(s)
	if err != nil {
		return err
	}
	f.ElfSyms = utils.ReadSlice[Sym](bs, SymSize)
	return nil
}

func (f *InputFile) FindSection(ty uint32) *Shdr {
	for i := 0; i < len(f.ElfSections); i++ {
		shdr := &f.ElfSections[i]
		if shdr.Type == ty {
			return shdr
		}
	}

	return nil
}

func (f *InputFile) SectionName(i int) (string, error) {
	return ElfGetName(f.ShStrtab, f.ElfSections[i].Name)
}

func (f *InputFile) SymbolName(i int) (string, error) {
	return ElfGetName(f.SymbolStrtab, f.ElfSyms[i].Name)
}

func (f *InputFile) GetEhdr() Ehdr {
	return utils.Read[Ehdr](f.File.Contents)
}
