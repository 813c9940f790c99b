package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wasmatix/corewasm/api"
	"github.com/wasmatix/corewasm/internal/logging"
	"github.com/wasmatix/corewasm/runtime"
)

func newRunCommand() *cobra.Command {
	var invokeName string
	var argsCSV string

	cmd := &cobra.Command{
		Use:   "run <file.wasm>",
		Short: "Decode, validate, instantiate, and optionally invoke an export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			rt := runtime.New()
			inst, err := rt.LoadAndInstantiate(raw, moduleName(args[0]))
			if err != nil {
				return err
			}
			if invokeName == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: instantiated\n", args[0])
				return nil
			}

			callArgs, _, err := parseArgs(argsCSV)
			if err != nil {
				return err
			}
			logging.Logger().Debug("invoking export",
				zap.String("export", invokeName), zap.Int("argc", len(callArgs)))

			results, err := rt.Invoke(inst, invokeName, callArgs)
			if err != nil {
				return err
			}
			resultTypes, err := exportResultTypes(rt, inst, invokeName)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatResults(results, resultTypes))
			return nil
		},
	}
	cmd.Flags().StringVar(&invokeName, "invoke", "", "export name to call after instantiation")
	cmd.Flags().StringVar(&argsCSV, "args", "", "comma-separated type:value pairs, e.g. i32:1,i64:2")
	return cmd
}

func moduleName(path string) string {
	base := path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		base = path[i+1:]
	}
	return strings.TrimSuffix(base, ".wasm")
}

// parseArgs decodes the --args flag's "i32:1,i64:2,f32:1.5" syntax into raw
// operand-stack values plus their declared types. The run command uses only
// the values: the result line is formatted from the export's declared result
// types, and runtime.Invoke checks only the argument count against the
// export's signature, not the argument types.
func parseArgs(csv string) (values []uint64, types []api.ValueType, err error) {
	if csv == "" {
		return nil, nil, nil
	}
	for _, pair := range strings.Split(csv, ",") {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, nil, fmt.Errorf("invalid --args entry %q: want type:value", pair)
		}
		v, t, err := parseTypedValue(parts[0], parts[1])
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --args entry %q: %w", pair, err)
		}
		values = append(values, v)
		types = append(types, t)
	}
	return values, types, nil
}

func parseTypedValue(kind, raw string) (uint64, api.ValueType, error) {
	switch kind {
	case "i32":
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return 0, 0, err
		}
		return api.EncodeI32(int32(n)), api.ValueTypeI32, nil
	case "i64":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, 0, err
		}
		return api.EncodeI64(n), api.ValueTypeI64, nil
	case "f32":
		f, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return 0, 0, err
		}
		return api.EncodeF32(float32(f)), api.ValueTypeF32, nil
	case "f64":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, 0, err
		}
		return api.EncodeF64(f), api.ValueTypeF64, nil
	default:
		return 0, 0, fmt.Errorf("unknown value type %q", kind)
	}
}

// exportResultTypes looks up the declared result signature of a function
// export, so CLI output can render each value in its real type rather than
// as an opaque integer.
func exportResultTypes(rt *runtime.Runtime, inst *runtime.Instance, export string) ([]api.ValueType, error) {
	exp, ok := inst.Exports[export]
	if !ok {
		return nil, fmt.Errorf("export %q not found", export)
	}
	if exp.Type != api.ExternTypeFunc {
		return nil, fmt.Errorf("export %q is not a function", export)
	}
	return rt.Store.Functions[exp.Index].Type.Results, nil
}

// formatResults renders results as "type:value" per export-declared result
// type, space-separated.
func formatResults(results []uint64, types []api.ValueType) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = formatValue(r, types[i])
	}
	return strings.Join(parts, " ")
}

func formatValue(v uint64, t api.ValueType) string {
	switch t {
	case api.ValueTypeI32:
		return fmt.Sprintf("i32:%d", int32(uint32(v)))
	case api.ValueTypeI64:
		return fmt.Sprintf("i64:%d", int64(v))
	case api.ValueTypeF32:
		return fmt.Sprintf("f32:%g", api.DecodeF32(v))
	case api.ValueTypeF64:
		return fmt.Sprintf("f64:%g", api.DecodeF64(v))
	default:
		return fmt.Sprintf("i64:%d", int64(v))
	}
}
