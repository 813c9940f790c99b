// Package cli wires the wasmrun command tree: validate, run, and version.
package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wasmatix/corewasm/internal/logging"
)

var verbose bool

// NewRootCommand builds the top-level wasmrun command with its three
// subcommands attached.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "wasmrun",
		Short:         "Decode, validate, and run WebAssembly 1.0 binaries",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				if l, err := zap.NewDevelopment(); err == nil {
					logging.SetLogger(l)
				}
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable structured debug logging")

	root.AddCommand(newValidateCommand())
	root.AddCommand(newRunCommand())
	root.AddCommand(newVersionCommand())
	return root
}
