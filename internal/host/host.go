// Package host lets an embedder expose Go functions as a Wasm import
// module, built from a plain Go func value the same way the standard
// library's reflect-based callback registries work, but without reflect: a
// host Function declares its own Wasm signature and takes raw []uint64 args,
// the same calling convention internal/engine/interpreter already uses for
// everything else.
package host

import (
	"github.com/google/uuid"

	"github.com/wasmatix/corewasm/api"
	"github.com/wasmatix/corewasm/internal/wasm"
)

// Function is a single host-provided import: its declared Wasm signature
// (Params/Results) and the Go closure the interpreter invokes for it. Func's
// args and results carry values encoded exactly as
// api.EncodeI32/EncodeF64/etc. produce them.
type Function struct {
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
	Func    func(args []uint64) ([]uint64, error)
}

// Invoke implements wasm.HostFunction.
func (f *Function) Invoke(args []uint64) ([]uint64, error) {
	return f.Func(args)
}

// Module is a named collection of host Functions, instantiated into a Store
// as an InternalModule the same way a decoded Wasm module is, so Wasm code
// can import from it with no special-casing at link time.
type Module struct {
	Name      string
	Functions []Function
}

// NewModule builds Module from name and fns; fns are exposed in the order
// given, each also becoming an exported function of the same name.
func NewModule(name string, fns ...Function) *Module {
	return &Module{Name: name, Functions: fns}
}

// Instantiate allocates m's functions into store and registers the result
// under m.Name in externs, so Wasm modules can subsequently import from it.
func Instantiate(store *wasm.Store, externs *wasm.ExternalModules, m *Module) *wasm.InternalModule {
	im := &wasm.InternalModule{
		Name:       m.Name,
		InstanceID: uuid.NewString(),
		Exports:    map[string]wasm.ExportInstance{},
	}
	for i := range m.Functions {
		fn := &m.Functions[i]
		ft := &wasm.FunctionType{Params: fn.Params, Results: fn.Results}
		fi := &wasm.FunctionInstance{
			Type:      ft,
			Host:      fn,
			DebugName: m.Name + "." + fn.Name,
		}
		idx := store.AddFunction(fi)
		im.FunctionIndices = append(im.FunctionIndices, idx)
		im.Exports[fn.Name] = wasm.ExportInstance{Type: api.ExternTypeFunc, Index: idx}
	}
	store.Modules = append(store.Modules, im)
	externs.Register(m.Name, im)
	return im
}
