package linker

import (
	"bytes"
	"debug/elf"
	"fmt"
	"math"

	"github.com/maplestarplayl/elkr/pkg/utils"
)

type ObjectFile struct {
	InputFile
	SymtabSec         *Shdr
	SymtabShndxSec    []uint32
	Sections          []*InputSection
	MergeableSections []*MergeableSection
}

func NewObjectFile(file *File) (*ObjectFile, error) {
	inputFile, err := NewInputFile(file)
	if err != nil {
		return nil, err
	}
	return &ObjectFile{InputFile: inputFile}, nil
}

func (o *ObjectFile) Parse(ctx *Context) error {
	o.SymtabSec = o.FindSection(uint32(elf.SHT_SYMTAB))
	if o.SymtabSec == nil {
		return fmt.Errorf("%s: %w: .symtab", o.Name(), ErrMissingSection)
	}
	o.FirstGlobal = int(o.SymtabSec.Info)
	if err := o.FillUpElfSyms(o.SymtabSec); err != nil {
		return err
	}
	if int64(o.SymtabSec.Link) >= int64(len(o.ElfSections)) {
		return fmt.Errorf("%s: %w: symtab link %d",
			o.Name(), ErrTruncatedTable, o.SymtabSec.Link)
	}
	strtab, err := o.GetBytesFromIdx(int64(o.SymtabSec.Link))
	if err != nil {
		return err
	}
	o.SymbolStrtab = strtab

	if err := o.InitializeSections(ctx); err != nil {
		return err
	}
	if err := o.InitializeSymbols(ctx); err != nil {
		return err
	}
	return o.InitializeMergeableSections(ctx)
}

func (o *ObjectFile) InitializeSections(ctx *Context) error {
	o.Sections = make([]*InputSection, len(o.ElfSections))
	for i := 0; i < len(o.ElfSections); i++ {
		shdr := &o.ElfSections[i]
		switch elf.SectionType(shdr.Type) {
		case elf.SHT_GROUP, elf.SHT_SYMTAB, elf.SHT_STRTAB, elf.SHT_REL, elf.SHT_RELA,
			elf.SHT_NULL:
			break
		case elf.SHT_SYMTAB_SHNDX:
			if err := o.FillUpSymtabShndxSec(shdr); err != nil {
				return err
			}
		default:
			if shdr.Flags&uint64(elf.SHF_ALLOC) == 0 {
				break
			}
			name, err := ElfGetName(o.ShStrtab, shdr.Name)
			if err != nil {
				return fmt.Errorf("%s: %w", o.Name(), err)
			}
			if !IsOutputName(GetOutputName(name, shdr.Flags)) {
				break
			}
			isec, err := NewInputSection(ctx, name, o, uint32(i))
			if err != nil {
				return err
			}
			o.Sections[i] = isec
		}
	}

	// Attach each RELA table to the section it patches and decode it now,
	// so truncation shows up at parse time.
	for i := 0; i < len(o.ElfSections); i++ {
		shdr := &o.ElfSections[i]
		if shdr.Type != uint32(elf.SHT_RELA) {
			continue
		}

		if shdr.Info >= uint32(len(o.Sections)) {
			return fmt.Errorf("%s: %w: rela info %d",
				o.Name(), ErrTruncatedTable, shdr.Info)
		}
		target := o.Sections[shdr.Info]
		if target == nil {
			continue
		}

		utils.Assert(target.RelsecIdx == math.MaxUint32)
		target.RelsecIdx = uint32(i)
		bs, err := o.GetBytesFromShdr(shdr)
		if err != nil {
			return err
		}
		target.Rels = utils.ReadSlice[Rela](bs, RelaSize)
	}
	return nil
}

func (o *ObjectFile) FillUpSymtabShndxSec(s *Shdr) error {
	bs, err := o.GetBytesFromShdr(s)
	if err != nil {
		return err
	}
	o.SymtabShndxSec = utils.ReadSlice[uint32](bs, 4)
	return nil
}

func (o *ObjectFile) InitializeSymbols(ctx *Context) error {
	if o.SymtabSec == nil {
		return nil
	}

	o.LocalSymbols = make([]Symbol, o.FirstGlobal)
	for i := 0; i < len(o.LocalSymbols); i++ {
		o.LocalSymbols[i] = *NewSymbol("")
	}
	if len(o.LocalSymbols) > 0 {
		o.LocalSymbols[0].File = o
	}

	for i := 1; i < len(o.LocalSymbols); i++ {
		esym := &o.ElfSyms[i]
		sym := &o.LocalSymbols[i]
		name, err := ElfGetName(o.SymbolStrtab, esym.Name)
		if err != nil {
			return fmt.Errorf("%s: %w", o.Name(), err)
		}
		sym.Name = name
		sym.File = o
		sym.Value = esym.Val
		sym.SymIdx = i

		if !esym.IsAbs() {
			shndx, err := o.GetShndx(esym, i)
			if err != nil {
				return err
			}
			sym.SetInputSection(o.Sections[shndx])
		}
	}

	o.Symbols = make([]*Symbol, len(o.ElfSyms))
	for i := 0; i < len(o.LocalSymbols); i++ {
		o.Symbols[i] = &o.LocalSymbols[i]
	}
	for i := len(o.LocalSymbols); i < len(o.ElfSyms); i++ {
		esym := &o.ElfSyms[i]
		name, err := ElfGetName(o.SymbolStrtab, esym.Name)
		if err != nil {
			return fmt.Errorf("%s: %w", o.Name(), err)
		}
		o.Symbols[i] = GetSymbolByName(ctx, name)
	}
	return nil
}

func (o *ObjectFile) GetShndx(esym *Sym, idx int) (int64, error) {
	utils.Assert(idx >= 0 && idx < len(o.ElfSyms))

	shndx := int64(esym.Shndx)
	if esym.Shndx == uint16(elf.SHN_XINDEX) {
		if idx >= len(o.SymtabShndxSec) {
			return 0, fmt.Errorf("%s: %w: symtab shndx entry %d",
				o.Name(), ErrTruncatedTable, idx)
		}
		shndx = int64(o.SymtabShndxSec[idx])
	}
	if shndx < 0 || shndx >= int64(len(o.Sections)) {
		return 0, fmt.Errorf("%s: %w: symbol section index %d",
			o.Name(), ErrTruncatedTable, shndx)
	}
	return shndx, nil
}

// ResolveSymbols claims global definitions for this file. The first strong
// definition wins; a strong definition displaces a weak one; two strong
// definitions of the same name are an error.
func (o *ObjectFile) ResolveSymbols() []error {
	var errs []error
	for i := o.FirstGlobal; i < len(o.ElfSyms); i++ {
		sym := o.Symbols[i]
		esym := &o.ElfSyms[i]

		if esym.IsUndef() {
			continue
		}

		var isec *InputSection
		if !esym.IsAbs() {
			shndx, err := o.GetShndx(esym, i)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			isec = o.Sections[shndx]
			if isec == nil {
				continue
			}
		}

		switch {
		case sym.File == nil:
			// first definition
		case sym.ElfSym().IsWeak() && !esym.IsWeak():
			// strong displaces weak
		case !sym.ElfSym().IsWeak() && !esym.IsWeak():
			errs = append(errs, &MultipleDefinitionError{
				Name:  sym.Name,
				Files: [2]string{sym.File.Name(), o.Name()},
			})
			continue
		default:
			continue
		}

		sym.File = o
		sym.SetInputSection(isec)
		sym.Value = esym.Val
		sym.SymIdx = i
	}
	return errs
}

// RelasFor returns the decoded relocations targeting section i.
func (o *ObjectFile) RelasFor(i int) []Rela {
	if isec := o.Sections[i]; isec != nil {
		return isec.Rels
	}
	return nil
}

func (o *ObjectFile) GetSection(esym *Sym, idx int) (*InputSection, error) {
	shndx, err := o.GetShndx(esym, idx)
	if err != nil {
		return nil, err
	}
	return o.Sections[shndx], nil
}

func (o *ObjectFile) InitializeMergeableSections(ctx *Context) error {
	o.MergeableSections = make([]*MergeableSection, len(o.Sections))
	for i := 0; i < len(o.Sections); i++ {
		isec := o.Sections[i]
		if isec != nil && isec.IsAlive &&
			isec.Shdr().Flags&uint64(elf.SHF_MERGE) != 0 {
			m, err := splitSection(ctx, isec)
			if err != nil {
				return err
			}
			o.MergeableSections[i] = m
			isec.IsAlive = false
		}
	}
	return nil
}

func findNull(data []byte, entSize int) int {
	if entSize == 1 {
		return bytes.IndexByte(data, 0)
	}

	for i := 0; i <= len(data)-entSize; i += entSize {
		bs := data[i : i+entSize]
		if utils.AllZeros(bs) {
			return i
		}
	}

	return -1
}

func splitSection(ctx *Context, isec *InputSection) (*MergeableSection, error) {
	m := &MergeableSection{}
	shdr := isec.Shdr()

	m.Parent = GetMergedSectionInstance(ctx, isec.Name(), shdr.Type, shdr.Flags)
	m.P2Align = isec.P2Align

	data := isec.Contents
	offset := uint64(0)
	if shdr.Flags&uint64(elf.SHF_STRINGS) != 0 {
		ent := shdr.EntSize
		if ent == 0 {
			ent = 1
		}
		for len(data) > 0 {
			end := findNull(data, int(ent))
			if end == -1 {
				return nil, fmt.Errorf("%s: %s: %w: string is not null terminated",
					isec.File.Name(), isec.Name(), ErrBadStringIndex)
			}

			sz := uint64(end) + ent
			substr := data[:sz]
			data = data[sz:]
			m.Strs = append(m.Strs, string(substr))
			m.FragOffsets = append(m.FragOffsets, uint32(offset))
			offset += sz
		}
	} else {
		if shdr.EntSize == 0 || uint64(len(data))%shdr.EntSize != 0 {
			return nil, fmt.Errorf("%s: %s: %w: size is not a multiple of entsize",
				isec.File.Name(), isec.Name(), ErrTruncatedTable)
		}

		for len(data) > 0 {
			substr := data[:shdr.EntSize]
			data = data[shdr.EntSize:]
			m.Strs = append(m.Strs, string(substr))
			m.FragOffsets = append(m.FragOffsets, uint32(offset))
			offset += shdr.EntSize
		}
	}

	return m, nil
}

func (o *ObjectFile) RegisterSectionPieces() error {
	for _, m := range o.MergeableSections {
		if m == nil {
			continue
		}

		m.Fragments = make([]*SectionFragment, 0, len(m.Strs))
		for i := 0; i < len(m.Strs); i++ {
			m.Fragments = append(m.Fragments,
				m.Parent.Insert(m.Strs[i], uint32(m.P2Align)))
		}
	}

	for i := 1; i < len(o.ElfSyms); i++ {
		sym := o.Symbols[i]
		esym := &o.ElfSyms[i]

		if esym.IsAbs() || esym.IsUndef() || esym.IsCommon() {
			continue
		}

		shndx, err := o.GetShndx(esym, i)
		if err != nil {
			return err
		}
		m := o.MergeableSections[shndx]
		if m == nil {
			continue
		}

		frag, fragOffset := m.GetFragment(uint32(esym.Val))
		if frag == nil {
			return fmt.Errorf("%s: %w: bad symbol value %#x",
				o.Name(), ErrTruncatedTable, esym.Val)
		}
		sym.SetSectionFragment(frag)
		sym.Value = uint64(fragOffset)
	}
	return nil
}

// ScanRelocations rejects relocations that emission could not handle,
// before any output bytes exist.
func (o *ObjectFile) ScanRelocations() []error {
	var errs []error
	for _, isec := range o.Sections {
		if isec == nil || !isec.IsAlive ||
			isec.Shdr().Flags&uint64(elf.SHF_ALLOC) == 0 {
			continue
		}

		for _, rel := range isec.Rels {
			if isRelocNone(rel.Type) {
				continue
			}
			if !IsSupportedRelocation(elf.R_AARCH64(rel.Type)) {
				errs = append(errs, &UnsupportedRelocationError{
					File:    o.Name(),
					Section: isec.Name(),
					Type:    rel.Type,
				})
				continue
			}
			if int(rel.Sym) >= len(o.Symbols) {
				errs = append(errs, fmt.Errorf("%s: %s: %w: relocation symbol index %d",
					o.Name(), isec.Name(), ErrTruncatedTable, rel.Sym))
				continue
			}
			if rel.Offset >= uint64(isec.ShSize) {
				errs = append(errs, fmt.Errorf("%s: %s: %w: relocation offset %#x",
					o.Name(), isec.Name(), ErrTruncatedTable, rel.Offset))
			}
		}
	}
	return errs
}
