package linker

import "fmt"

func ReadInputFiles(ctx *Context, paths []string) error {
	for _, path := range paths {
		file, err := NewFile(path)
		if err != nil {
			return err
		}
		if err := ReadFile(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

func ReadFile(ctx *Context, file *File) error {
	switch GetFileType(file.Contents) {
	case FileTypeObject:
		obj, err := CreateObjectFile(ctx, file)
		if err != nil {
			return err
		}
		ctx.Objs = append(ctx.Objs, obj)
		return nil
	case FileTypeArchive:
		return fmt.Errorf("%s: archives are not supported, pass object files", file.Name)
	default:
		return fmt.Errorf("%s: %w: not a relocatable object", file.Name, ErrMalformedHeader)
	}
}

func CreateObjectFile(ctx *Context, file *File) (*ObjectFile, error) {
	if GetMachineTypeFromContents(file.Contents) != MachineTypeAArch64 {
		return nil, fmt.Errorf("%s: %w: want aarch64 elf64", file.Name, ErrUnsupportedMachine)
	}

	obj, err := NewObjectFile(file)
	if err != nil {
		return nil, err
	}
	if err := obj.Parse(ctx); err != nil {
		return nil, err
	}
	return obj, nil
}
