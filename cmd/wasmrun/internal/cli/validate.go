package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wasmatix/corewasm/internal/logging"
	"github.com/wasmatix/corewasm/runtime"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.wasm>",
		Short: "Decode and statically validate a Wasm binary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			logging.Logger().Debug("decoding module", zap.String("path", args[0]))
			mod, err := runtime.DecodeModule(raw)
			if err != nil {
				return fmt.Errorf("decode: %w", err)
			}
			if err := runtime.ValidateModule(mod); err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
			return nil
		},
	}
}
