package linker

import (
	"os"

	"github.com/k0kubun/pp/v3"
)

type chunkDump struct {
	Name   string
	Addr   uint64
	Offset uint64
	Size   uint64
	Shndx  int64
}

type symbolDump struct {
	Name string
	File string
	Addr uint64
}

// DumpLayout pretty-prints the final layout and the resolved globals to
// stderr when ELKR_DEBUG is set.
func DumpLayout(ctx *Context) {
	if !ctx.Debug {
		return
	}

	chunks := make([]chunkDump, 0, len(ctx.Chunks))
	for _, chunk := range ctx.Chunks {
		shdr := chunk.GetShdr()
		chunks = append(chunks, chunkDump{
			Name:   chunk.GetName(),
			Addr:   shdr.Addr,
			Offset: shdr.Offset,
			Size:   shdr.Size,
			Shndx:  chunk.GetShndx(),
		})
	}

	syms := make([]symbolDump, 0)
	for _, obj := range ctx.Objs {
		for i := obj.FirstGlobal; i < len(obj.ElfSyms); i++ {
			sym := obj.Symbols[i]
			if sym.File != obj || sym.SymIdx != i {
				continue
			}
			syms = append(syms, symbolDump{
				Name: sym.Name,
				File: obj.Name(),
				Addr: sym.GetAddr(),
			})
		}
	}

	pp.Fprintln(os.Stderr, chunks)
	pp.Fprintln(os.Stderr, syms)
}
