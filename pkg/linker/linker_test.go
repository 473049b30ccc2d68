package linker

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maplestarplayl/elkr/pkg/utils"
)

const (
	instRet  = 0xd65f03c0
	instNop  = 0xd503201f
	instBl0  = 0x94000000
	instAdrp = 0x90000000 // adrp x0, 0
	instAdd0 = 0x91000000 // add x0, x0, #0
)

func insts(words ...uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		utils.Write[uint32](buf[4*i:], w)
	}
	return buf
}

type objSection struct {
	name    string
	typ     uint32
	flags   uint64
	align   uint64
	entsize uint64
	data    []byte
	size    uint64 // NOBITS only
}

type objSymbol struct {
	name string
	bind uint8
	typ  uint8
	sec  int // 1-based section index; 0 = undefined, -1 = absolute
	val  uint64
}

type objReloc struct {
	sec    int // 1-based target section
	offset uint64
	typ    uint32
	sym    string
	symIdx int // used when sym is empty
	addend int64
}

func textSection(code []byte) objSection {
	return objSection{
		name:  ".text",
		typ:   uint32(elf.SHT_PROGBITS),
		flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
		align: 4,
		data:  code,
	}
}

func dataSection(data []byte) objSection {
	return objSection{
		name:  ".data",
		typ:   uint32(elf.SHT_PROGBITS),
		flags: uint64(elf.SHF_ALLOC | elf.SHF_WRITE),
		align: 8,
		data:  data,
	}
}

func globalFunc(name string, sec int, val uint64) objSymbol {
	return objSymbol{
		name: name,
		bind: uint8(elf.STB_GLOBAL),
		typ:  uint8(elf.STT_FUNC),
		sec:  sec,
		val:  val,
	}
}

// buildObject assembles a minimal ET_REL AArch64 object: the given
// sections, a symbol table (locals first), and one .rela.<name> table per
// relocated section.
func buildObject(t *testing.T, secs []objSection, locals, globals []objSymbol, relocs []objReloc) []byte {
	t.Helper()

	type builtSec struct {
		shdr Shdr
		data []byte
	}

	shstr := newStringTable()
	var list []builtSec
	add := func(name string, shdr Shdr, data []byte) int {
		shdr.Name = shstr.Add(name)
		if shdr.Size == 0 {
			shdr.Size = uint64(len(data))
		}
		list = append(list, builtSec{shdr, data})
		return len(list) - 1
	}

	add("", Shdr{}, nil)
	for _, s := range secs {
		align := s.align
		if align == 0 {
			align = 4
		}
		size := uint64(len(s.data))
		if s.typ == uint32(elf.SHT_NOBITS) {
			size = s.size
		}
		add(s.name, Shdr{
			Type:      s.typ,
			Flags:     s.flags,
			Size:      size,
			AddrAlign: align,
			EntSize:   s.entsize,
		}, s.data)
	}

	strtab := newStringTable()
	shndxOf := func(s objSymbol) uint16 {
		switch {
		case s.sec == 0:
			return uint16(elf.SHN_UNDEF)
		case s.sec < 0:
			return uint16(elf.SHN_ABS)
		default:
			return uint16(s.sec)
		}
	}

	symbs := []Sym{{}}
	for _, s := range locals {
		symbs = append(symbs, Sym{
			Name:  strtab.Add(s.name),
			Info:  s.bind<<4 | s.typ,
			Shndx: shndxOf(s),
			Val:   s.val,
		})
	}
	firstGlobal := len(symbs)
	for _, s := range globals {
		symbs = append(symbs, Sym{
			Name:  strtab.Add(s.name),
			Info:  s.bind<<4 | s.typ,
			Shndx: shndxOf(s),
			Val:   s.val,
		})
	}

	symIndex := func(r objReloc) uint32 {
		if r.sym == "" {
			return uint32(r.symIdx)
		}
		for i, s := range locals {
			if s.name == r.sym {
				return uint32(1 + i)
			}
		}
		for i, s := range globals {
			if s.name == r.sym {
				return uint32(firstGlobal + i)
			}
		}
		t.Fatalf("unknown relocation symbol %q", r.sym)
		return 0
	}

	var targets []int
	for si := 1; si <= len(secs); si++ {
		for _, r := range relocs {
			if r.sec == si {
				targets = append(targets, si)
				break
			}
		}
	}

	symtabIdx := 1 + len(secs) + len(targets)
	strtabIdx := symtabIdx + 1

	for _, si := range targets {
		var rl []byte
		for _, r := range relocs {
			if r.sec != si {
				continue
			}
			entry := make([]byte, RelaSize)
			utils.Write[Rela](entry, Rela{
				Offset: r.offset,
				Type:   r.typ,
				Sym:    symIndex(r),
				Addend: r.addend,
			})
			rl = append(rl, entry...)
		}
		add(".rela"+secs[si-1].name, Shdr{
			Type:      uint32(elf.SHT_RELA),
			Link:      uint32(symtabIdx),
			Info:      uint32(si),
			AddrAlign: 8,
			EntSize:   uint64(RelaSize),
		}, rl)
	}

	symData := make([]byte, len(symbs)*SymSize)
	for i, s := range symbs {
		utils.Write[Sym](symData[i*SymSize:], s)
	}
	add(".symtab", Shdr{
		Type:      uint32(elf.SHT_SYMTAB),
		Link:      uint32(strtabIdx),
		Info:      uint32(firstGlobal),
		AddrAlign: 8,
		EntSize:   uint64(SymSize),
	}, symData)

	strData := make([]byte, strtab.Size())
	strtab.WriteTo(strData)
	add(".strtab", Shdr{Type: uint32(elf.SHT_STRTAB), AddrAlign: 1}, strData)

	shstrtabIdx := add(".shstrtab", Shdr{Type: uint32(elf.SHT_STRTAB), AddrAlign: 1}, nil)
	shData := make([]byte, shstr.Size())
	shstr.WriteTo(shData)
	list[shstrtabIdx].data = shData
	list[shstrtabIdx].shdr.Size = uint64(len(shData))

	off := uint64(EhdrSize)
	for i := range list {
		if i == 0 {
			continue
		}
		s := &list[i]
		off = utils.AlignTo(off, s.shdr.AddrAlign)
		s.shdr.Offset = off
		if s.shdr.Type != uint32(elf.SHT_NOBITS) {
			off += uint64(len(s.data))
		}
	}
	shoff := utils.AlignTo(off, 8)

	buf := make([]byte, shoff+uint64(len(list)*ShdrSize))
	ehdr := Ehdr{
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(elf.EM_AARCH64),
		Version:   1,
		ShOff:     shoff,
		EhSize:    uint16(EhdrSize),
		ShEntSize: uint16(ShdrSize),
		ShNum:     uint16(len(list)),
		ShStrndx:  uint16(shstrtabIdx),
	}
	WriteMagic(ehdr.Ident[:])
	ehdr.Ident[elf.EI_CLASS] = uint8(elf.ELFCLASS64)
	ehdr.Ident[elf.EI_DATA] = uint8(elf.ELFDATA2LSB)
	ehdr.Ident[elf.EI_VERSION] = 1
	utils.Write[Ehdr](buf, ehdr)

	for i, s := range list {
		if s.data != nil && s.shdr.Type != uint32(elf.SHT_NOBITS) {
			copy(buf[s.shdr.Offset:], s.data)
		}
		utils.Write[Shdr](buf[shoff+uint64(i*ShdrSize):], s.shdr)
	}
	return buf
}

func linkObjects(t *testing.T, files ...*File) (*Context, error) {
	t.Helper()
	ctx := NewContext()
	ctx.Debug = false
	for _, f := range files {
		if err := ReadFile(ctx, f); err != nil {
			return ctx, err
		}
	}
	return ctx, Link(ctx)
}

// outputSections parses the linked image with the module's own readers
// and indexes the section headers by name.
func outputSections(t *testing.T, buf []byte) (Ehdr, []Phdr, map[string]Shdr) {
	t.Helper()
	ehdr := utils.Read[Ehdr](buf)

	phend := ehdr.PhOff + uint64(ehdr.PhNum)*uint64(PhdrSize)
	phdrs := utils.ReadSlice[Phdr](buf[ehdr.PhOff:phend], PhdrSize)

	shend := ehdr.ShOff + uint64(ehdr.ShNum)*uint64(ShdrSize)
	shdrs := utils.ReadSlice[Shdr](buf[ehdr.ShOff:shend], ShdrSize)

	shstr := shdrs[ehdr.ShStrndx]
	strs := buf[shstr.Offset : shstr.Offset+shstr.Size]

	byName := make(map[string]Shdr)
	for _, shdr := range shdrs[1:] {
		name, err := ElfGetName(strs, shdr.Name)
		require.NoError(t, err)
		byName[name] = shdr
	}
	return ehdr, phdrs, byName
}

func TestLinkSingleObject(t *testing.T) {
	code := insts(0xd2800540, instRet) // mov x0, #42; ret
	obj := buildObject(t,
		[]objSection{textSection(code)},
		nil,
		[]objSymbol{globalFunc("_start", 1, 0)},
		nil)

	ctx, err := linkObjects(t, &File{Name: "start.o", Contents: obj})
	require.NoError(t, err)

	buf := ctx.Buf
	ehdr, phdrs, secs := outputSections(t, buf)

	assert.True(t, CheckMagic(buf))
	assert.Equal(t, uint8(elf.ELFCLASS64), ehdr.Ident[elf.EI_CLASS])
	assert.Equal(t, uint8(elf.ELFDATA2LSB), ehdr.Ident[elf.EI_DATA])
	assert.Equal(t, uint16(elf.ET_EXEC), ehdr.Type)
	assert.Equal(t, uint16(elf.EM_AARCH64), ehdr.Machine)
	assert.Equal(t, uint64(EhdrSize), ehdr.PhOff)
	assert.Zero(t, ehdr.ShOff%8)

	text, ok := secs[".text"]
	require.True(t, ok)
	assert.GreaterOrEqual(t, text.Addr, ImageBase)
	assert.Equal(t, ehdr.Entry, text.Addr, "entry is _start")
	assert.Equal(t, code, buf[text.Offset:text.Offset+uint64(len(code))])

	require.Len(t, phdrs, 1)
	load := phdrs[0]
	assert.Equal(t, uint32(elf.PT_LOAD), load.Type)
	assert.Equal(t, uint32(elf.PF_R|elf.PF_X), load.Flags)
	assert.Equal(t, uint64(PageSize), load.Align)
	assert.Equal(t, load.VAddr%PageSize, load.Offset%PageSize)
	assert.Equal(t, load.FileSize, load.MemSize)

	for _, name := range []string{".symtab", ".strtab", ".shstrtab"} {
		_, ok := secs[name]
		assert.True(t, ok, "missing %s", name)
	}
}

func TestLinkCallAcrossFiles(t *testing.T) {
	start := buildObject(t,
		[]objSection{textSection(insts(instBl0, instRet))},
		nil,
		[]objSymbol{globalFunc("_start", 1, 0), globalFunc("main", 0, 0)},
		[]objReloc{{sec: 1, offset: 0, typ: uint32(elf.R_AARCH64_CALL26), sym: "main"}})
	// the callee symtab also carries an undefined reference back at
	// _start, which the other file satisfies
	main := buildObject(t,
		[]objSection{textSection(insts(instRet))},
		nil,
		[]objSymbol{globalFunc("main", 1, 0), globalFunc("_start", 0, 0)},
		nil)

	ctx, err := linkObjects(t,
		&File{Name: "start.o", Contents: start},
		&File{Name: "main.o", Contents: main})
	require.NoError(t, err)

	ehdr, _, secs := outputSections(t, ctx.Buf)
	text := secs[".text"]

	// start.o contributes 8 bytes at offset 0, main.o follows at 8
	S := text.Addr + 8
	P := text.Addr
	patched := utils.Read[uint32](ctx.Buf[text.Offset:])
	assert.Equal(t, uint32(instBl0), patched&0xfc000000)
	assert.Equal(t, uint32((S-P)>>2), patched&0x03ffffff)

	mainSym := ctx.SymbolMap["main"]
	require.NotNil(t, mainSym)
	assert.Equal(t, S, mainSym.GetAddr())
	assert.Equal(t, text.Addr, ehdr.Entry)

	// every member sits aligned inside its output section
	for _, osec := range ctx.OutputSections {
		for _, isec := range osec.Members {
			assert.Zero(t, isec.GetAddr()%(1<<isec.P2Align))
			assert.LessOrEqual(t, isec.GetAddr()+uint64(isec.ShSize),
				osec.Shdr.Addr+osec.Shdr.Size)
		}
	}
}

func TestLinkAdrpAdd(t *testing.T) {
	code := insts(instAdrp, instAdd0, instRet)
	obj := buildObject(t,
		[]objSection{
			textSection(code),
			dataSection([]byte{1, 2, 3, 4, 5, 6, 7, 8}),
		},
		nil,
		[]objSymbol{
			globalFunc("_start", 1, 0),
			{name: "counter", bind: uint8(elf.STB_GLOBAL), typ: uint8(elf.STT_OBJECT), sec: 2, val: 4},
		},
		[]objReloc{
			{sec: 1, offset: 0, typ: uint32(elf.R_AARCH64_ADR_PREL_PG_HI21), sym: "counter"},
			{sec: 1, offset: 4, typ: uint32(elf.R_AARCH64_ADD_ABS_LO12_NC), sym: "counter"},
		})

	ctx, err := linkObjects(t, &File{Name: "main.o", Contents: obj})
	require.NoError(t, err)

	_, phdrs, secs := outputSections(t, ctx.Buf)
	text := secs[".text"]
	data := secs[".data"]

	S := data.Addr + 4
	P := text.Addr

	adrp := utils.Read[uint32](ctx.Buf[text.Offset:])
	assert.Equal(t, uint32(instAdrp), adrp&0x9f00001f)
	imm21 := (adrp>>29)&0x3 | (adrp>>5&0x7ffff)<<2
	assert.Equal(t, uint32(((S&^0xfff)-(P&^0xfff))>>12)&0x1fffff, imm21)

	addInstr := utils.Read[uint32](ctx.Buf[text.Offset+4:])
	assert.Equal(t, uint32(instAdd0), addInstr&0xffc003ff)
	assert.Equal(t, uint32(S&0xfff), (addInstr>>10)&0xfff)

	// .text R+X, .data R+W, both page-congruent
	require.Len(t, phdrs, 2)
	assert.Equal(t, uint32(elf.PF_R|elf.PF_X), phdrs[0].Flags)
	assert.Equal(t, uint32(elf.PF_R|elf.PF_W), phdrs[1].Flags)
	for _, phdr := range phdrs {
		assert.Equal(t, phdr.VAddr%PageSize, phdr.Offset%PageSize)
	}
}

func TestLinkLdstPastFirstPage(t *testing.T) {
	// A page of .rodata pushes .data beyond ImageBase+0x1000, so the
	// LDR immediate is wrong unless the in-page offset is isolated
	// before the granule shift.
	code := insts(0xf9400211, instRet) // ldr x17, [x16]; ret
	obj := buildObject(t,
		[]objSection{
			textSection(code),
			{
				name:  ".rodata",
				typ:   uint32(elf.SHT_PROGBITS),
				flags: uint64(elf.SHF_ALLOC),
				align: 8,
				data:  make([]byte, PageSize),
			},
			dataSection(make([]byte, 32)),
		},
		nil,
		[]objSymbol{
			globalFunc("_start", 1, 0),
			{name: "counter", bind: uint8(elf.STB_GLOBAL), typ: uint8(elf.STT_OBJECT), sec: 3, val: 0x10},
		},
		[]objReloc{{sec: 1, offset: 0, typ: uint32(elf.R_AARCH64_LDST64_ABS_LO12_NC), sym: "counter"}})

	ctx, err := linkObjects(t, &File{Name: "main.o", Contents: obj})
	require.NoError(t, err)

	_, _, secs := outputSections(t, ctx.Buf)
	text := secs[".text"]
	data := secs[".data"]

	S := data.Addr + 0x10
	require.GreaterOrEqual(t, S, ImageBase+PageSize, "symbol must land past the first page")
	require.NotEqual(t, uint32(S>>3)&0xfff, uint32(S&0xfff)>>3,
		"page bits must be distinguishable from the in-page offset")

	ldr := utils.Read[uint32](ctx.Buf[text.Offset:])
	assert.Equal(t, uint32(0xf9400211), ldr&0xffc003ff, "opcode and registers")
	assert.Equal(t, uint32(S&0xfff)>>3, (ldr>>10)&0xfff, "imm12")
}

func TestLinkAbs64DataRelocation(t *testing.T) {
	obj := buildObject(t,
		[]objSection{
			textSection(insts(instRet)),
			dataSection(make([]byte, 8)),
		},
		nil,
		[]objSymbol{globalFunc("_start", 1, 0)},
		[]objReloc{{sec: 2, offset: 0, typ: uint32(elf.R_AARCH64_ABS64), sym: "_start"}})

	ctx, err := linkObjects(t, &File{Name: "main.o", Contents: obj})
	require.NoError(t, err)

	ehdr, _, secs := outputSections(t, ctx.Buf)
	data := secs[".data"]
	assert.Equal(t, ehdr.Entry, utils.Read[uint64](ctx.Buf[data.Offset:]))
}

func TestLinkSectionSymbolRelocation(t *testing.T) {
	obj := buildObject(t,
		[]objSection{
			textSection(insts(instNop, instRet)),
			dataSection(make([]byte, 8)),
		},
		[]objSymbol{{name: "", bind: uint8(elf.STB_LOCAL), typ: uint8(elf.STT_SECTION), sec: 1, val: 0}},
		[]objSymbol{globalFunc("_start", 1, 0)},
		[]objReloc{{sec: 2, offset: 0, typ: uint32(elf.R_AARCH64_ABS64), symIdx: 1, addend: 4}})

	ctx, err := linkObjects(t, &File{Name: "main.o", Contents: obj})
	require.NoError(t, err)

	_, _, secs := outputSections(t, ctx.Buf)
	text := secs[".text"]
	data := secs[".data"]
	assert.Equal(t, text.Addr+4, utils.Read[uint64](ctx.Buf[data.Offset:]))
}

func TestLinkBss(t *testing.T) {
	obj := buildObject(t,
		[]objSection{
			textSection(insts(instRet)),
			{
				name:  ".bss",
				typ:   uint32(elf.SHT_NOBITS),
				flags: uint64(elf.SHF_ALLOC | elf.SHF_WRITE),
				align: 8,
				size:  32,
			},
		},
		nil,
		[]objSymbol{
			globalFunc("_start", 1, 0),
			{name: "scratch", bind: uint8(elf.STB_GLOBAL), typ: uint8(elf.STT_OBJECT), sec: 2, val: 0},
		},
		nil)

	ctx, err := linkObjects(t, &File{Name: "main.o", Contents: obj})
	require.NoError(t, err)

	_, phdrs, secs := outputSections(t, ctx.Buf)
	bss, ok := secs[".bss"]
	require.True(t, ok)
	assert.Equal(t, uint32(elf.SHT_NOBITS), bss.Type)
	assert.Equal(t, uint64(32), bss.Size)

	var bssLoad *Phdr
	for i := range phdrs {
		if phdrs[i].FileSize == 0 && phdrs[i].MemSize == 32 {
			bssLoad = &phdrs[i]
		}
	}
	require.NotNil(t, bssLoad, "PT_LOAD with filesz < memsz")
	assert.Equal(t, uint32(elf.PF_R|elf.PF_W), bssLoad.Flags)
	assert.Equal(t, bss.Addr, bssLoad.VAddr)

	assert.Equal(t, bss.Addr, ctx.SymbolMap["scratch"].GetAddr())
}

func TestLinkMergedStrings(t *testing.T) {
	strSection := func(data []byte) objSection {
		return objSection{
			name:    ".rodata.str1.1",
			typ:     uint32(elf.SHT_PROGBITS),
			flags:   uint64(elf.SHF_ALLOC | elf.SHF_MERGE | elf.SHF_STRINGS),
			align:   1,
			entsize: 1,
			data:    data,
		}
	}

	one := buildObject(t,
		[]objSection{textSection(insts(instRet)), strSection([]byte("hi\x00"))},
		nil,
		[]objSymbol{globalFunc("_start", 1, 0)},
		nil)
	two := buildObject(t,
		[]objSection{strSection([]byte("yo\x00hi\x00"))},
		nil, nil, nil)

	ctx, err := linkObjects(t,
		&File{Name: "one.o", Contents: one},
		&File{Name: "two.o", Contents: two})
	require.NoError(t, err)

	_, _, secs := outputSections(t, ctx.Buf)
	pool, ok := secs[".rodata.str"]
	require.True(t, ok)
	assert.Equal(t, uint64(6), pool.Size, "duplicate strings fold")
	assert.Equal(t, []byte("hi\x00yo\x00"), ctx.Buf[pool.Offset:pool.Offset+6])
}

func TestUndefinedReference(t *testing.T) {
	obj := buildObject(t,
		[]objSection{textSection(insts(instBl0, instRet))},
		nil,
		[]objSymbol{globalFunc("_start", 1, 0), globalFunc("missing", 0, 0)},
		[]objReloc{{sec: 1, offset: 0, typ: uint32(elf.R_AARCH64_CALL26), sym: "missing"}})

	_, err := linkObjects(t, &File{Name: "main.o", Contents: obj})
	require.Error(t, err)

	var undef *UndefinedReferenceError
	require.ErrorAs(t, err, &undef)
	assert.Equal(t, "missing", undef.Name)
	assert.Equal(t, "main.o", undef.File)
}

func TestMultipleDefinition(t *testing.T) {
	one := buildObject(t,
		[]objSection{textSection(insts(instRet))},
		nil,
		[]objSymbol{globalFunc("_start", 1, 0), globalFunc("dup", 1, 0)},
		nil)
	two := buildObject(t,
		[]objSection{textSection(insts(instRet))},
		nil,
		[]objSymbol{globalFunc("dup", 1, 0)},
		nil)

	_, err := linkObjects(t,
		&File{Name: "a.o", Contents: one},
		&File{Name: "b.o", Contents: two})
	require.Error(t, err)

	var dup *MultipleDefinitionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "dup", dup.Name)
	assert.Equal(t, [2]string{"a.o", "b.o"}, dup.Files)
}

func TestSymbolErrorsReportedTogether(t *testing.T) {
	one := buildObject(t,
		[]objSection{textSection(insts(instRet))},
		nil,
		[]objSymbol{globalFunc("_start", 1, 0), globalFunc("dup", 1, 0), globalFunc("missing", 0, 0)},
		nil)
	two := buildObject(t,
		[]objSection{textSection(insts(instRet))},
		nil,
		[]objSymbol{globalFunc("dup", 1, 0)},
		nil)

	_, err := linkObjects(t,
		&File{Name: "a.o", Contents: one},
		&File{Name: "b.o", Contents: two})
	require.Error(t, err)
	assert.ErrorContains(t, err, "dup")
	assert.ErrorContains(t, err, "missing")
}

func TestMissingEntry(t *testing.T) {
	obj := buildObject(t,
		[]objSection{textSection(insts(instRet))},
		nil,
		[]objSymbol{globalFunc("main", 1, 0)},
		nil)

	_, err := linkObjects(t, &File{Name: "main.o", Contents: obj})
	assert.ErrorIs(t, err, ErrMissingEntry)
}

func TestWeakDefinitionOverride(t *testing.T) {
	weak := buildObject(t,
		[]objSection{textSection(insts(instRet))},
		nil,
		[]objSymbol{
			globalFunc("_start", 1, 0),
			{name: "helper", bind: uint8(elf.STB_WEAK), typ: uint8(elf.STT_FUNC), sec: 1, val: 0},
		},
		nil)
	strong := buildObject(t,
		[]objSection{textSection(insts(instNop, instRet))},
		nil,
		[]objSymbol{
			{name: "helper", bind: uint8(elf.STB_GLOBAL), typ: uint8(elf.STT_FUNC), sec: 1, val: 4},
		},
		nil)

	ctx, err := linkObjects(t,
		&File{Name: "weak.o", Contents: weak},
		&File{Name: "strong.o", Contents: strong})
	require.NoError(t, err)

	helper := ctx.SymbolMap["helper"]
	require.NotNil(t, helper.File)
	assert.Equal(t, "strong.o", helper.File.Name())
}

func TestWeakDefinitionSatisfies(t *testing.T) {
	obj := buildObject(t,
		[]objSection{textSection(insts(instRet))},
		nil,
		[]objSymbol{
			globalFunc("_start", 1, 0),
			{name: "helper", bind: uint8(elf.STB_WEAK), typ: uint8(elf.STT_FUNC), sec: 1, val: 0},
		},
		nil)
	user := buildObject(t,
		[]objSection{textSection(insts(instRet))},
		nil,
		[]objSymbol{globalFunc("helper", 0, 0)},
		nil)

	_, err := linkObjects(t,
		&File{Name: "def.o", Contents: obj},
		&File{Name: "use.o", Contents: user})
	assert.NoError(t, err)
}

func TestUnsupportedRelocationType(t *testing.T) {
	obj := buildObject(t,
		[]objSection{textSection(insts(instNop, instRet))},
		nil,
		[]objSymbol{globalFunc("_start", 1, 0)},
		[]objReloc{{sec: 1, offset: 0, typ: uint32(elf.R_AARCH64_TLSDESC_CALL), sym: "_start"}})

	_, err := linkObjects(t, &File{Name: "main.o", Contents: obj})
	var unsupported *UnsupportedRelocationError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, uint32(elf.R_AARCH64_TLSDESC_CALL), unsupported.Type)
	assert.Equal(t, ".text", unsupported.Section)
}

func TestRelocationOverflowAborts(t *testing.T) {
	obj := buildObject(t,
		[]objSection{
			textSection(insts(instRet)),
			dataSection(make([]byte, 8)),
		},
		nil,
		[]objSymbol{globalFunc("_start", 1, 0)},
		[]objReloc{{sec: 2, offset: 0, typ: uint32(elf.R_AARCH64_ABS32), sym: "_start", addend: 1 << 33}})

	_, err := linkObjects(t, &File{Name: "main.o", Contents: obj})
	var overflow *RelocationOverflowError
	require.ErrorAs(t, err, &overflow)
	assert.Equal(t, "main.o", overflow.File)
	assert.Equal(t, "_start", overflow.Symbol)
}

func TestLayoutDeterminism(t *testing.T) {
	build := func() []*File {
		start := buildObject(t,
			[]objSection{textSection(insts(instBl0, instRet))},
			nil,
			[]objSymbol{globalFunc("_start", 1, 0)},
			[]objReloc{{sec: 1, offset: 0, typ: uint32(elf.R_AARCH64_CALL26), sym: "main"}})
		main := buildObject(t,
			[]objSection{
				textSection(insts(instRet)),
				dataSection([]byte{9, 8, 7, 6, 5, 4, 3, 2}),
			},
			nil,
			[]objSymbol{globalFunc("main", 1, 0)},
			nil)
		return []*File{
			{Name: "start.o", Contents: start},
			{Name: "main.o", Contents: main},
		}
	}

	ctx1, err := linkObjects(t, build()...)
	require.NoError(t, err)
	ctx2, err := linkObjects(t, build()...)
	require.NoError(t, err)

	assert.Equal(t, ctx1.Buf, ctx2.Buf, "same inputs, same bytes")
}

func TestSymtabEmission(t *testing.T) {
	obj := buildObject(t,
		[]objSection{textSection(insts(instNop, instRet))},
		nil,
		[]objSymbol{
			globalFunc("_start", 1, 0),
			globalFunc("other", 1, 4),
		},
		nil)

	ctx, err := linkObjects(t, &File{Name: "main.o", Contents: obj})
	require.NoError(t, err)

	_, _, secs := outputSections(t, ctx.Buf)
	symtab := secs[".symtab"]
	strtab := secs[".strtab"]
	require.Equal(t, uint64(SymSize)*3, symtab.Size, "null + two globals")

	syms := utils.ReadSlice[Sym](ctx.Buf[symtab.Offset:symtab.Offset+symtab.Size], SymSize)
	assert.Equal(t, Sym{}, syms[0])

	text := secs[".text"]
	strs := ctx.Buf[strtab.Offset : strtab.Offset+strtab.Size]
	byName := make(map[string]Sym)
	for _, sym := range syms[1:] {
		name, err := ElfGetName(strs, sym.Name)
		require.NoError(t, err)
		byName[name] = sym
	}
	assert.Equal(t, text.Addr, byName["_start"].Val)
	assert.Equal(t, text.Addr+4, byName["other"].Val)
}
