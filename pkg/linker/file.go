package linker

import (
	"bytes"
	"debug/elf"
	"fmt"
	"os"

	"github.com/maplestarplayl/elkr/pkg/utils"
)

type File struct {
	Name     string
	Contents []byte
}

func NewFile(filename string) (*File, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	return &File{
		Name:     filename,
		Contents: contents,
	}, nil
}

type FileType = uint8

const (
	FileTypeUnknown FileType = iota
	FileTypeEmpty
	FileTypeObject
	FileTypeArchive
)

func GetFileType(contents []byte) FileType {
	if len(contents) == 0 {
		return FileTypeEmpty
	}

	if CheckMagic(contents) && len(contents) >= 18 {
		et := elf.Type(utils.Read[uint16](contents[16:]))
		if et == elf.ET_REL {
			return FileTypeObject
		}
	}

	if bytes.HasPrefix(contents, []byte("!<arch>\n")) {
		return FileTypeArchive
	}

	return FileTypeUnknown
}
