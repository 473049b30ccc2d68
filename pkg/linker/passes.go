package linker

import (
	"debug/elf"
	"errors"
	"math"
	"sort"

	"github.com/maplestarplayl/elkr/pkg/utils"
)

// Link runs the whole pipeline over the ingested objects and leaves the
// finished executable image in ctx.Buf. Any error aborts; nothing is
// written to disk here.
func Link(ctx *Context) error {
	if err := ResolveSymbols(ctx); err != nil {
		return err
	}

	if err := RegisterSectionPieces(ctx); err != nil {
		return err
	}
	ComputeMergedSectionSizes(ctx)

	CreateSyntheticSections(ctx)
	BinSections(ctx)
	ctx.Chunks = append(ctx.Chunks, CollectOutputSections(ctx)...)

	if err := ScanRelocations(ctx); err != nil {
		return err
	}

	ComputeSectionSizes(ctx)
	SortOutputSections(ctx)
	AssignSectionIndices(ctx)

	for _, chunk := range ctx.Chunks {
		chunk.UpdateShdr(ctx)
	}

	fileSize := SetOutputSectionOffsets(ctx)
	DumpLayout(ctx)

	ctx.Buf = make([]byte, fileSize)
	for _, chunk := range ctx.Chunks {
		if err := chunk.CopyBuf(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ResolveSymbols binds every global reference to its definition.
// Duplicate and undefined symbols are collected across all inputs and
// reported together.
func ResolveSymbols(ctx *Context) error {
	var errs []error
	for _, file := range ctx.Objs {
		errs = append(errs, file.ResolveSymbols()...)
	}

	reported := make(map[string]bool)
	for _, file := range ctx.Objs {
		for i := file.FirstGlobal; i < len(file.ElfSyms); i++ {
			esym := &file.ElfSyms[i]
			sym := file.Symbols[i]
			if !esym.IsUndef() || esym.IsWeak() {
				continue
			}
			if sym.IsDefined() || reported[sym.Name] {
				continue
			}
			reported[sym.Name] = true
			errs = append(errs, &UndefinedReferenceError{
				Name: sym.Name,
				File: file.Name(),
			})
		}
	}

	return errors.Join(errs...)
}

func RegisterSectionPieces(ctx *Context) error {
	for _, file := range ctx.Objs {
		if err := file.RegisterSectionPieces(); err != nil {
			return err
		}
	}
	return nil
}

func ComputeMergedSectionSizes(ctx *Context) {
	for _, osec := range ctx.MergedSections {
		osec.AssignOffsets()
	}
}

func CreateSyntheticSections(ctx *Context) {
	push := func(chunk Chunker) Chunker {
		ctx.Chunks = append(ctx.Chunks, chunk)
		return chunk
	}

	ctx.Ehdr = push(NewOutputEhdr()).(*OutputEhdr)
	ctx.Phdr = push(NewOutputPhdr()).(*OutputPhdr)
	ctx.Shdr = push(NewOutputShdr()).(*OutputShdr)
	ctx.Shstrtab = push(NewShstrtabSection()).(*ShstrtabSection)
	ctx.Symtab = push(NewSymtabSection()).(*SymtabSection)
	ctx.Strtab = push(NewStrtabSection()).(*StrtabSection)
}

func BinSections(ctx *Context) {
	group := make([][]*InputSection, len(ctx.OutputSections))
	for _, file := range ctx.Objs {
		for _, isec := range file.Sections {
			if isec == nil || !isec.IsAlive {
				continue
			}

			idx := isec.OutputSection.Idx
			group[idx] = append(group[idx], isec)
		}
	}

	for idx, osec := range ctx.OutputSections {
		osec.Members = group[idx]
	}
}

func CollectOutputSections(ctx *Context) []Chunker {
	osecs := make([]Chunker, 0)
	for _, osec := range ctx.OutputSections {
		if len(osec.Members) > 0 {
			osecs = append(osecs, osec)
		}
	}

	for _, osec := range ctx.MergedSections {
		if osec.Shdr.Size > 0 {
			osecs = append(osecs, osec)
		}
	}

	return osecs
}

func ScanRelocations(ctx *Context) error {
	var errs []error
	for _, file := range ctx.Objs {
		errs = append(errs, file.ScanRelocations()...)
	}
	return errors.Join(errs...)
}

func ComputeSectionSizes(ctx *Context) {
	for _, osec := range ctx.OutputSections {
		offset := uint64(0)
		p2align := uint8(0)

		for _, isec := range osec.Members {
			offset = utils.AlignTo(offset, 1<<isec.P2Align)
			isec.Offset = uint32(offset)
			offset += uint64(isec.ShSize)
			if isec.P2Align > p2align {
				p2align = isec.P2Align
			}
		}

		osec.Shdr.Size = offset
		osec.Shdr.AddrAlign = 1 << p2align
	}
}

// SortOutputSections fixes the file order: headers, then alloc sections
// (.text, .rodata, .data, .bss last), then the non-alloc tables, with the
// section header table at the very end.
func SortOutputSections(ctx *Context) {
	rank := func(chunk Chunker) int32 {
		typ := chunk.GetShdr().Type
		flags := chunk.GetShdr().Flags

		if chunk == Chunker(ctx.Shdr) {
			return math.MaxInt32
		}
		if flags&uint64(elf.SHF_ALLOC) == 0 {
			return math.MaxInt32 - 1
		}
		if chunk == Chunker(ctx.Ehdr) {
			return 0
		}
		if chunk == Chunker(ctx.Phdr) {
			return 1
		}

		b2i := func(b bool) int32 {
			if b {
				return 1
			}
			return 0
		}

		writeable := b2i(flags&uint64(elf.SHF_WRITE) != 0)
		notExec := b2i(flags&uint64(elf.SHF_EXECINSTR) == 0)
		isBss := b2i(typ == uint32(elf.SHT_NOBITS))

		return 2 + (writeable<<7 | notExec<<6 | isBss<<4)
	}

	sort.SliceStable(ctx.Chunks, func(i, j int) bool {
		return rank(ctx.Chunks[i]) < rank(ctx.Chunks[j])
	})
}

// AssignSectionIndices numbers the chunks that get a section header
// entry; index 0 stays the null section.
func AssignSectionIndices(ctx *Context) {
	shndx := int64(1)
	for _, chunk := range ctx.Chunks {
		switch chunk.(type) {
		case *OutputEhdr, *OutputPhdr, *OutputShdr:
			continue
		}
		chunk.SetShndx(shndx)
		shndx++
	}
}

// SetOutputSectionOffsets assigns virtual addresses from ImageBase and
// file offsets such that every alloc chunk's offset stays congruent to
// its address modulo the page size. NOBITS consumes addresses only.
func SetOutputSectionOffsets(ctx *Context) uint64 {
	addr := ImageBase
	for _, chunk := range ctx.Chunks {
		shdr := chunk.GetShdr()
		if shdr.Flags&uint64(elf.SHF_ALLOC) == 0 {
			continue
		}

		addr = utils.AlignTo(addr, shdr.AddrAlign)
		shdr.Addr = addr
		addr += shdr.Size
	}

	fileoff := uint64(0)
	for _, chunk := range ctx.Chunks {
		shdr := chunk.GetShdr()
		switch {
		case shdr.Type == uint32(elf.SHT_NOBITS):
			shdr.Offset = shdr.Addr - ImageBase
		case shdr.Flags&uint64(elf.SHF_ALLOC) != 0:
			shdr.Offset = shdr.Addr - ImageBase
			fileoff = shdr.Offset + shdr.Size
		default:
			fileoff = utils.AlignTo(fileoff, shdr.AddrAlign)
			shdr.Offset = fileoff
			fileoff += shdr.Size
		}
	}

	// Program header values were computed before addresses existed;
	// rebuild them now that the layout is final.
	ctx.Phdr.UpdateShdr(ctx)
	return fileoff
}
