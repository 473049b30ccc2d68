package linker

import (
	"debug/elf"

	"github.com/maplestarplayl/elkr/pkg/utils"
)

// SymtabSection emits a debugging .symtab: the null entry followed by
// every resolved global with its final address. The kernel never reads
// it; objdump and gdb do.
type SymtabSection struct {
	Chunk
	syms []*Symbol
}

func NewSymtabSection() *SymtabSection {
	o := &SymtabSection{Chunk: NewChunk()}
	o.Name = ".symtab"
	o.Shdr.Type = uint32(elf.SHT_SYMTAB)
	o.Shdr.EntSize = uint64(SymSize)
	o.Shdr.AddrAlign = 8
	return o
}

func (o *SymtabSection) UpdateShdr(ctx *Context) {
	o.syms = o.syms[:0]
	for _, obj := range ctx.Objs {
		for i := obj.FirstGlobal; i < len(obj.ElfSyms); i++ {
			sym := obj.Symbols[i]
			if sym.File != obj || sym.SymIdx != i {
				continue
			}
			o.syms = append(o.syms, sym)
			ctx.Strtab.tab.Add(sym.Name)
		}
	}

	o.Shdr.Size = uint64(len(o.syms)+1) * uint64(SymSize)
	o.Shdr.Link = uint32(ctx.Strtab.Shndx)
	// Only the null entry is local.
	o.Shdr.Info = 1

	ctx.Strtab.Shdr.Size = ctx.Strtab.tab.Size()
}

func (o *SymtabSection) shndxFor(sym *Symbol) uint16 {
	if sym.InputSection != nil {
		return uint16(sym.InputSection.OutputSection.Shndx)
	}
	if sym.SectionFragment != nil {
		return uint16(sym.SectionFragment.OutputSection.Shndx)
	}
	return uint16(elf.SHN_ABS)
}

func (o *SymtabSection) CopyBuf(ctx *Context) error {
	base := ctx.Buf[o.Shdr.Offset:]
	utils.Write[Sym](base, Sym{})

	for i, sym := range o.syms {
		esym := sym.ElfSym()
		out := Sym{
			Name:  ctx.Strtab.tab.Get(sym.Name),
			Info:  esym.Info,
			Other: esym.Other,
			Shndx: o.shndxFor(sym),
			Val:   sym.GetAddr(),
			Size:  esym.Size,
		}
		utils.Write[Sym](base[(i+1)*SymSize:], out)
	}
	return nil
}
