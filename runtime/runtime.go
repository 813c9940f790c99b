// Package runtime is the embedder-facing API: decode a Wasm binary,
// validate it, instantiate it against a Store and a registry of previously
// instantiated modules, invoke its exports, and register it so later
// modules can import from it. It is the single place the error taxonomies
// (DecodeError, ValidationError, LinkError, Trap) meet a caller. Each is
// returned unwrapped as a plain error, so a caller who only wants "did it
// succeed" checks err != nil and never needs to import
// internal/wasm/binary, internal/validate, or internal/trap directly.
package runtime

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wasmatix/corewasm/api"
	"github.com/wasmatix/corewasm/internal/engine/interpreter"
	"github.com/wasmatix/corewasm/internal/link"
	"github.com/wasmatix/corewasm/internal/logging"
	"github.com/wasmatix/corewasm/internal/validate"
	"github.com/wasmatix/corewasm/internal/wasm"
	"github.com/wasmatix/corewasm/internal/wasm/binary"
)

// Store is the process-wide allocation space every Instantiate call
// populates: functions, tables, memories, globals, and the instantiated
// modules that reference them.
type Store = wasm.Store

// Module is a decoded, not-yet-instantiated Wasm binary.
type Module = wasm.Module

// Instance is the post-link view of an instantiated Module: its export
// table and the Store-level indices backing it.
type Instance = wasm.InternalModule

// Registry tracks instantiated modules by name for future import
// resolution, and doubles as the set a Go host module is registered into.
type Registry = wasm.ExternalModules

// NewStore allocates an empty Store.
func NewStore() *Store { return wasm.NewStore() }

// NewRegistry allocates an empty Registry.
func NewRegistry() *Registry { return wasm.NewExternalModules() }

// Runtime bundles a Store, a Registry, and the interpreter that executes
// against them — the typical embedder only needs one of these for its
// whole process lifetime.
type Runtime struct {
	Store    *Store
	Registry *Registry
	engine   *interpreter.Interpreter
}

// New allocates a Runtime with a fresh Store and Registry.
func New() *Runtime {
	return &Runtime{Store: NewStore(), Registry: NewRegistry(), engine: interpreter.New()}
}

// DecodeModule parses raw Wasm binary bytes into a Module, failing with a
// *wasm.DecodeError on any malformed encoding.
func DecodeModule(raw []byte) (*Module, error) {
	return binary.DecodeModule(raw)
}

// ValidateModule statically checks m for type soundness, failing with a
// *validate.ValidationError. Call this before Instantiate; Instantiate does
// not re-validate.
func ValidateModule(m *Module) error {
	return validate.Validate(m)
}

// Instantiate decodes-then-links are split on purpose (DecodeModule,
// ValidateModule, Instantiate are independently callable), but Instantiate
// itself performs only linking: resolving m's imports against rt's
// Registry, allocating its instances into rt's Store, applying segments,
// and running its start function. The result is registered under name so
// later Instantiate calls can import from it.
func (rt *Runtime) Instantiate(m *Module, name string) (*Instance, error) {
	im, err := link.Instantiate(rt.Store, rt.engine, rt.Registry, m, name)
	if err != nil {
		return nil, err
	}
	logging.Logger().Info("instantiated module",
		zap.String("name", im.Name), zap.String("instance_id", im.InstanceID))
	rt.Registry.Register(name, im)
	return im, nil
}

// Register makes an already-built Instance (e.g. one returned by
// internal/host.Instantiate for a Go-defined module) available to future
// Instantiate calls under name.
func (rt *Runtime) Register(name string, im *Instance) {
	rt.Registry.Register(name, im)
}

// Invoke calls the export named exportName on im with args, type-checking
// the argument count against the export's declared signature before
// entering the interpreter, exactly as the embedder API's TypeMismatch
// precondition requires.
func (rt *Runtime) Invoke(im *Instance, exportName string, args []uint64) ([]uint64, error) {
	exp, ok := im.Exports[exportName]
	if !ok {
		return nil, fmt.Errorf("wasm: export %q not found in module %q", exportName, im.Name)
	}
	if exp.Type != api.ExternTypeFunc {
		return nil, fmt.Errorf("wasm: export %q in module %q is not a function", exportName, im.Name)
	}
	fn := rt.Store.Functions[exp.Index]
	if len(args) != len(fn.Type.Params) {
		return nil, fmt.Errorf("wasm: export %q: expected %d arguments, got %d", exportName, len(fn.Type.Params), len(args))
	}
	return rt.engine.Call(rt.Store, fn, args)
}

// LoadAndInstantiate is a convenience wrapper around DecodeModule,
// ValidateModule and Instantiate for the common case of running a single
// binary end to end.
func (rt *Runtime) LoadAndInstantiate(raw []byte, name string) (*Instance, error) {
	m, err := DecodeModule(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateModule(m); err != nil {
		return nil, err
	}
	return rt.Instantiate(m, name)
}
