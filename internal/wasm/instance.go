package wasm

import (
	"github.com/wasmatix/corewasm/api"
	"github.com/wasmatix/corewasm/internal/instruction"
)

// FunctionInstance is either an internal function (owned by a Module: its
// signature, its body's local-variable types in declaration order, and its
// flattened instruction stream) or an external one (a host-provided
// callable with a declared FunctionType and an opaque host identity).
type FunctionInstance struct {
	Type *FunctionType

	// Internal fields. Body is nil for an external function.
	LocalTypes []api.ValueType
	Body       []instruction.Instruction
	// ModuleInstanceIndex is the InternalModule that owns this function's
	// globals/memory/table; 0 for external functions, which carry no module
	// affiliation of their own.
	ModuleInstanceIndex Index

	// External fields, set only when Body == nil.
	Host HostFunction

	// DebugName identifies this function in trap messages. internal/link
	// sets it to the decoded name-section entry, or to "$3" (the function's
	// index in its module's function index space) when unnamed;
	// internal/host sets it to "module.name".
	DebugName string
}

// IsInternal reports whether this is a module-defined function with a body,
// as opposed to a host-provided one.
func (f *FunctionInstance) IsInternal() bool { return f.Body != nil }

// HostFunction is the capability set an external FunctionInstance's host
// identity must implement: a synchronous call. Its signature is carried by
// FunctionInstance.Type, not by the HostFunction.
// internal/host.Function satisfies this; it is declared here (rather than
// imported from internal/host) to avoid a dependency cycle, since
// internal/host itself needs to construct FunctionInstance values.
type HostFunction interface {
	Invoke(args []uint64) ([]uint64, error)
}

// MemoryInstance is a resizable byte buffer with a minimum and optional
// maximum page count (1 page = 65536 bytes). Initial content is zero, then
// data-segment initializers are applied in module-definition order.
type MemoryInstance struct {
	Buffer []byte
	Min    uint32
	Max    *uint32
}

// PageCount returns the current size of m in 64KiB pages.
func (m *MemoryInstance) PageCount() uint32 {
	return uint32(len(m.Buffer) / MemoryPageSize)
}

// Grow extends m by delta pages, returning the previous page count. It
// refuses growth past Max (or MemoryMaxPages when Max is unset).
func (m *MemoryInstance) Grow(delta uint32) (previous uint32, ok bool) {
	previous = m.PageCount()
	next := previous + delta
	if delta == 0 {
		return previous, true
	}
	if next < previous { // overflow
		return previous, false
	}
	if m.Max != nil && next > *m.Max {
		return previous, false
	}
	if next > MemoryMaxPages {
		return previous, false
	}
	grown := make([]byte, uint64(next)*MemoryPageSize)
	copy(grown, m.Buffer)
	m.Buffer = grown
	return previous, true
}

// TableInstance is a vector of optional function references (NullFuncIndex
// meaning unset), with limits identical in shape to MemoryInstance's. Wasm 1.0
// allows at most one table per module.
type TableInstance struct {
	// Elements holds, for each slot, the Indice of a FunctionInstance in the
	// owning Store, or the sentinel NullFuncIndex when unset.
	Elements []Index
	Min      uint32
	Max      *uint32
}

// NullFuncIndex marks an unset table slot. A real Store compacts function
// indices from zero, so the maximum uint32 value is never a valid index.
const NullFuncIndex Index = ^Index(0)

// GlobalInstance is a ValueType, a mutability flag, and a current value.
// Const globals are written exactly once, at initialization.
type GlobalInstance struct {
	Type  GlobalType
	Value uint64
}

// Indice is a 32-bit unsigned handle into one of the Store's vectors. All
// cross-references (callee indices, type indices, local indices, table
// element funcidx) are Indices.
type Indice = Index

// InternalModule is the post-link view exposed to callers: an export table
// mapping names to (kind, store-level Indice) pairs, plus the optional
// start function index (already invoked by the time instantiation returns
// this value).
type InternalModule struct {
	Name string

	// InstanceID is a random v4 UUID stamped at instantiation time, distinct
	// from Name (which callers choose and may reuse across re-instantiation).
	// It disambiguates instances of the same named module in logs; trap
	// frames carry function debug names only.
	InstanceID string

	Exports map[string]ExportInstance

	// FunctionIndices/TableIndices/MemoryIndices/GlobalIndices map this
	// module's own local index spaces to Store-level Indices, needed by the
	// interpreter to resolve local.get-style accesses that reach into this
	// module's instances and by re-export resolution.
	FunctionIndices []Indice
	TableIndices    []Indice
	MemoryIndices   []Indice
	GlobalIndices   []Indice

	Types []*FunctionType

	Start *Index // local function index, already invoked.
}

// ExportInstance is one resolved entry of an InternalModule's export table.
type ExportInstance struct {
	Type  api.ExternType
	Index Indice // Store-level.
}

// Store is the process-wide allocation space for one runtime: parallel
// vectors of FunctionInstance, TableInstance, MemoryInstance, GlobalInstance.
// The Store holds no function-types table: each InternalModule carries its
// own Types, and each FunctionInstance points at its FunctionType. The Store
// exclusively owns all instances; InternalModule and Module carry Indices
// only.
type Store struct {
	Functions []*FunctionInstance
	Tables    []*TableInstance
	Memories  []*MemoryInstance
	Globals   []*GlobalInstance

	// Modules holds every InternalModule instantiated against this Store, in
	// instantiation order, so the Store can be iterated for diagnostics.
	Modules []*InternalModule
}

// NewStore allocates an empty Store.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) addFunction(f *FunctionInstance) Indice {
	s.Functions = append(s.Functions, f)
	return Indice(len(s.Functions) - 1)
}

func (s *Store) addTable(t *TableInstance) Indice {
	s.Tables = append(s.Tables, t)
	return Indice(len(s.Tables) - 1)
}

func (s *Store) addMemory(m *MemoryInstance) Indice {
	s.Memories = append(s.Memories, m)
	return Indice(len(s.Memories) - 1)
}

func (s *Store) addGlobal(g *GlobalInstance) Indice {
	s.Globals = append(s.Globals, g)
	return Indice(len(s.Globals) - 1)
}

// AddFunction, AddTable, AddMemory and AddGlobal allocate a new instance in
// s and return its Store-level Indice. Exported for internal/link and
// internal/host, the packages outside internal/wasm that populate a Store.
func (s *Store) AddFunction(f *FunctionInstance) Indice { return s.addFunction(f) }
func (s *Store) AddTable(t *TableInstance) Indice       { return s.addTable(t) }
func (s *Store) AddMemory(m *MemoryInstance) Indice     { return s.addMemory(m) }
func (s *Store) AddGlobal(g *GlobalInstance) Indice     { return s.addGlobal(g) }

// ExternalModules is a registry of previously-instantiated InternalModules
// keyed by module name, consulted during import resolution.
type ExternalModules struct {
	byName map[string]*InternalModule
}

// NewExternalModules allocates an empty registry.
func NewExternalModules() *ExternalModules {
	return &ExternalModules{byName: map[string]*InternalModule{}}
}

// Register makes mod available to future import resolution under name,
// overwriting any previous registration of that name.
func (e *ExternalModules) Register(name string, mod *InternalModule) {
	e.byName[name] = mod
}

// Lookup returns the InternalModule previously registered under name, or
// nil if none exists.
func (e *ExternalModules) Lookup(name string) *InternalModule {
	return e.byName[name]
}
