// Command wasmrun is a thin CLI collaborator around package runtime: decode
// and validate a Wasm 1.0 binary, optionally instantiate and invoke one of
// its exports, printing results in `<type>:<value>` form.
package main

import (
	"fmt"
	"os"

	"github.com/wasmatix/corewasm/cmd/wasmrun/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
