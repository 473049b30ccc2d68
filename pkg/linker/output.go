package linker

import (
	"debug/elf"
	"strings"
)

var prefixes = []string{
	".text.", ".rodata.", ".data.", ".bss.",
}

// GetOutputName folds -ffunction-sections/-fdata-sections style names
// (.text.main, .data.counter) into their base output section, and routes
// mergeable .rodata variants to the string/constant pools.
func GetOutputName(name string, flags uint64) string {
	if (name == ".rodata" || strings.HasPrefix(name, ".rodata.")) &&
		flags&uint64(elf.SHF_MERGE) != 0 {
		if flags&uint64(elf.SHF_STRINGS) != 0 {
			return ".rodata.str"
		} else {
			return ".rodata.cst"
		}
	}

	for _, prefix := range prefixes {
		stem := prefix[:len(prefix)-1]
		if name == stem || strings.HasPrefix(name, prefix) {
			return stem
		}
	}

	return name
}

var outputNames = map[string]bool{
	".text":       true,
	".rodata":     true,
	".rodata.str": true,
	".rodata.cst": true,
	".data":       true,
	".bss":        true,
}

// Sections whose folded name is not a known output are silently dropped.
func IsOutputName(name string) bool {
	return outputNames[name]
}
