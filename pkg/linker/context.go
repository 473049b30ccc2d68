package linker

import "github.com/xyproto/env/v2"

type ContextArgs struct {
	Output string
}

// Context owns everything the pipeline touches: the parsed inputs, the
// interned global symbols, the output chunks, and the emission buffer.
type Context struct {
	Args ContextArgs
	Buf  []byte

	Ehdr     *OutputEhdr
	Phdr     *OutputPhdr
	Shdr     *OutputShdr
	Shstrtab *ShstrtabSection
	Symtab   *SymtabSection
	Strtab   *StrtabSection

	OutputSections []*OutputSection

	Chunks []Chunker

	Objs           []*ObjectFile
	SymbolMap      map[string]*Symbol
	MergedSections []*MergedSection

	Debug bool
}

func NewContext() *Context {
	return &Context{
		Args: ContextArgs{
			Output: "a.out",
		},
		SymbolMap: make(map[string]*Symbol),
		Debug:     env.Bool("ELKR_DEBUG"),
	}
}
