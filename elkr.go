package main

import (
	"fmt"
	"os"

	"github.com/maplestarplayl/elkr/pkg/linker"
	"github.com/maplestarplayl/elkr/pkg/utils"
)

var version string

func main() {
	ctx := linker.NewContext()
	inputs := parseArgs(ctx)

	if len(inputs) == 0 {
		utils.Fatal("no input files")
	}

	if err := linker.ReadInputFiles(ctx, inputs); err != nil {
		utils.Fatal(err)
	}

	if err := linker.Link(ctx); err != nil {
		utils.Fatal(err)
	}

	file, err := os.OpenFile(ctx.Args.Output,
		os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0777)
	utils.MustNo(err)
	_, err = file.Write(ctx.Buf)
	utils.MustNo(err)
	utils.MustNo(file.Close())
}

// parseArgs consumes the flags and returns the input object paths. The
// first positional argument is the output path.
func parseArgs(ctx *linker.Context) []string {
	args := os.Args[1:]

	readFlag := func(name string) bool {
		for _, opt := range []string{"-" + name, "--" + name} {
			if len(args) > 0 && args[0] == opt {
				args = args[1:]
				return true
			}
		}
		return false
	}

	positional := make([]string, 0)
	for len(args) > 0 {
		if readFlag("help") || readFlag("h") {
			fmt.Printf("usage: %s <output> <input.o>...\n", os.Args[0])
			os.Exit(0)
		}

		if readFlag("v") || readFlag("version") {
			fmt.Printf("elkr %s\n", version)
			os.Exit(0)
		}

		if args[0][0] == '-' {
			utils.Fatal(fmt.Sprintf("unknown command line option: %s", args[0]))
		}
		positional = append(positional, args[0])
		args = args[1:]
	}

	if len(positional) == 0 {
		utils.Fatal(fmt.Sprintf("usage: %s <output> <input.o>...", os.Args[0]))
	}

	ctx.Args.Output = positional[0]
	return positional[1:]
}
