package linker

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedHeader    = errors.New("malformed ELF header")
	ErrUnsupportedMachine = errors.New("unsupported machine")
	ErrTruncatedTable     = errors.New("truncated table")
	ErrBadStringIndex     = errors.New("bad string table index")
	ErrMissingSection     = errors.New("missing section")
	ErrMissingEntry       = errors.New("undefined entry symbol: _start")
)

type MultipleDefinitionError struct {
	Name  string
	Files [2]string
}

func (e *MultipleDefinitionError) Error() string {
	return fmt.Sprintf("duplicate symbol: %s: %s: %s",
		e.Files[0], e.Files[1], e.Name)
}

type UndefinedReferenceError struct {
	Name string
	File string
}

func (e *UndefinedReferenceError) Error() string {
	return fmt.Sprintf("undefined symbol: %s: %s", e.File, e.Name)
}

type UnsupportedRelocationError struct {
	File    string
	Section string
	Type    uint32
}

func (e *UnsupportedRelocationError) Error() string {
	return fmt.Sprintf("%s: %s: unsupported relocation type %d",
		e.File, e.Section, e.Type)
}

type RelocationOverflowError struct {
	File   string
	Symbol string
	Type   uint32
	Value  int64
}

func (e *RelocationOverflowError) Error() string {
	return fmt.Sprintf("%s: relocation type %d against %s out of range: %#x",
		e.File, e.Type, e.Symbol, e.Value)
}
