package linker

import (
	"debug/elf"

	"github.com/maplestarplayl/elkr/pkg/utils"
)

type OutputPhdr struct {
	Chunk

	Phdrs []Phdr
}

func NewOutputPhdr() *OutputPhdr {
	o := &OutputPhdr{Chunk: NewChunk()}
	o.Shdr.Flags = uint64(elf.SHF_ALLOC)
	o.Shdr.AddrAlign = 8
	return o
}

func ToPhdrFlags(chunk Chunker) uint32 {
	ret := uint32(elf.PF_R)
	if chunk.GetShdr().Flags&uint64(elf.SHF_WRITE) != 0 {
		ret |= uint32(elf.PF_W)
	}
	if chunk.GetShdr().Flags&uint64(elf.SHF_EXECINSTR) != 0 {
		ret |= uint32(elf.PF_X)
	}
	return ret
}

// CreatePhdr emits one PT_LOAD per emitted output section. A NOBITS
// section occupies memory but no file bytes.
func CreatePhdr(ctx *Context) []Phdr {
	vec := make([]Phdr, 0)

	define := func(typ uint32, flags uint32, chunk Chunker) {
		shdr := chunk.GetShdr()
		phdr := Phdr{
			Type:    typ,
			Flags:   flags,
			Offset:  shdr.Offset,
			VAddr:   shdr.Addr,
			PAddr:   shdr.Addr,
			MemSize: shdr.Size,
			Align:   PageSize,
		}
		if shdr.Type != uint32(elf.SHT_NOBITS) {
			phdr.FileSize = shdr.Size
		}
		vec = append(vec, phdr)
	}

	for _, chunk := range ctx.Chunks {
		shdr := chunk.GetShdr()
		if shdr.Flags&uint64(elf.SHF_ALLOC) == 0 ||
			shdr.Type == uint32(elf.SHT_NULL) {
			continue
		}
		define(uint32(elf.PT_LOAD), ToPhdrFlags(chunk), chunk)
	}

	return vec
}

func (o *OutputPhdr) UpdateShdr(ctx *Context) {
	o.Phdrs = CreatePhdr(ctx)
	o.Shdr.Size = uint64(len(o.Phdrs)) * uint64(PhdrSize)
}

func (o *OutputPhdr) CopyBuf(ctx *Context) error {
	utils.Write(ctx.Buf[o.Shdr.Offset:], o.Phdrs)
	return nil
}
