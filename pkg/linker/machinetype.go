package linker

import (
	"debug/elf"

	"github.com/maplestarplayl/elkr/pkg/utils"
)

type MachineType = uint8

const (
	MachineTypeNone MachineType = iota
	MachineTypeAArch64
)

func GetMachineTypeFromContents(contents []byte) MachineType {
	if GetFileType(contents) != FileTypeObject || len(contents) < 20 {
		return MachineTypeNone
	}

	machine := elf.Machine(utils.Read[uint16](contents[18:]))
	if machine == elf.EM_AARCH64 {
		class := elf.Class(contents[4])
		switch class {
		case elf.ELFCLASS64:
			return MachineTypeAArch64
		}
	}

	return MachineTypeNone
}

type MachineTypeStringer struct {
	MachineType
}

func (m MachineTypeStringer) String() string {
	switch m.MachineType {
	case MachineTypeAArch64:
		return "aarch64"
	}

	utils.Assert(m.MachineType == MachineTypeNone)
	return ""
}
