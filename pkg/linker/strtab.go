package linker

import (
	"debug/elf"

	"github.com/maplestarplayl/elkr/pkg/utils"
)

// stringTable is a deduplicating ELF string table builder. Offset 0 is
// the mandatory empty string.
type stringTable struct {
	offsets map[string]uint32
	pos     uint32
}

func newStringTable() *stringTable {
	return &stringTable{
		offsets: map[string]uint32{"": 0},
		pos:     1,
	}
}

func (t *stringTable) Add(s string) uint32 {
	if off, ok := t.offsets[s]; ok {
		return off
	}
	off := t.pos
	t.offsets[s] = off
	t.pos += uint32(len(s)) + 1
	return off
}

func (t *stringTable) Get(s string) uint32 {
	off, ok := t.offsets[s]
	utils.Assert(ok)
	return off
}

func (t *stringTable) Size() uint64 {
	return uint64(t.pos)
}

func (t *stringTable) WriteTo(buf []byte) {
	for s, off := range t.offsets {
		copy(buf[off:], s)
	}
}

// ShstrtabSection holds the section names of every chunk that appears in
// the section header table.
type ShstrtabSection struct {
	Chunk
	tab *stringTable
}

func NewShstrtabSection() *ShstrtabSection {
	o := &ShstrtabSection{Chunk: NewChunk(), tab: newStringTable()}
	o.Name = ".shstrtab"
	o.Shdr.Type = uint32(elf.SHT_STRTAB)
	return o
}

func (o *ShstrtabSection) UpdateShdr(ctx *Context) {
	for _, chunk := range ctx.Chunks {
		if chunk.GetShndx() > 0 {
			chunk.GetShdr().Name = o.tab.Add(chunk.GetName())
		}
	}
	o.Shdr.Size = o.tab.Size()
}

func (o *ShstrtabSection) CopyBuf(ctx *Context) error {
	o.tab.WriteTo(ctx.Buf[o.Shdr.Offset:])
	return nil
}

// StrtabSection holds the names of the emitted symbols; it is filled by
// the symtab chunk's UpdateShdr.
type StrtabSection struct {
	Chunk
	tab *stringTable
}

func NewStrtabSection() *StrtabSection {
	o := &StrtabSection{Chunk: NewChunk(), tab: newStringTable()}
	o.Name = ".strtab"
	o.Shdr.Type = uint32(elf.SHT_STRTAB)
	return o
}

func (o *StrtabSection) CopyBuf(ctx *Context) error {
	o.tab.WriteTo(ctx.Buf[o.Shdr.Offset:])
	return nil
}
