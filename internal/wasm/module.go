// Package wasm holds the data model decoded from, validated against, and
// executed from a WebAssembly 1.0 binary: the Module produced by
// internal/wasm/binary, the Store and instance types produced by
// internal/link, and the static DecodeError taxonomy raised while parsing.
package wasm

import (
	"crypto/sha256"
	"fmt"

	"github.com/wasmatix/corewasm/api"
	"github.com/wasmatix/corewasm/internal/instruction"
)

// Index is a position in one of a Module's index spaces (types, functions,
// tables, memories, globals). Imports occupy the low end of each space,
// followed by the module's own definitions, exactly as laid out by the
// binary format.
type Index = uint32

// ModuleID is the content hash of the raw bytes a Module was decoded from,
// computed at decode time and kept in Module.ID. The Store has no
// compiled-code cache keyed by it, and trap messages do not include it.
type ModuleID [sha256.Size]byte

// ModuleIDFrom hashes raw to a ModuleID.
func ModuleIDFrom(raw []byte) (id ModuleID) {
	id = sha256.Sum256(raw)
	return
}

func (id ModuleID) String() string {
	return fmt.Sprintf("%x", id[:8])
}

// FunctionType is a function signature, interned once per Module in its
// TypeSection and referenced by index from FunctionSection and Import.
type FunctionType struct {
	Params  []api.ValueType
	Results []api.ValueType

	// string is a cached, canonical text representation ("(i32,i32)(i32)"),
	// filled in by String. Signature comparisons (import matching, indirect
	// calls) use EqualsSignature, not this string.
	string string
}

// String returns ft's canonical textual signature, computing and caching it
// on first use.
func (ft *FunctionType) String() string {
	if ft.string == "" {
		ft.string = ft.buildString()
	}
	return ft.string
}

func (ft *FunctionType) buildString() string {
	s := "("
	for i, t := range ft.Params {
		if i > 0 {
			s += ","
		}
		s += api.ValueTypeName(t)
	}
	s += ")("
	for i, t := range ft.Results {
		if i > 0 {
			s += ","
		}
		s += api.ValueTypeName(t)
	}
	return s + ")"
}

// EqualsSignature reports whether ft has the given parameter and result
// types, used to validate indirect calls without interning.
func (ft *FunctionType) EqualsSignature(params, results []api.ValueType) bool {
	if len(ft.Params) != len(params) || len(ft.Results) != len(results) {
		return false
	}
	for i, p := range params {
		if ft.Params[i] != p {
			return false
		}
	}
	for i, r := range results {
		if ft.Results[i] != r {
			return false
		}
	}
	return true
}

// LimitsType bounds a Table's or Memory's size, in table-elements or
// 64KiB Memory pages respectively.
type LimitsType struct {
	Min uint32
	Max *uint32 // nil means unbounded (subject to the embedder's own ceiling).
}

// MemoryType is the LimitsType of a memory, in pages (65536 bytes each).
type MemoryType = LimitsType

const (
	// MemoryPageSize is the size, in bytes, of one unit of Memory growth.
	MemoryPageSize = 65536
	// MemoryMaxPages is the hard ceiling on Memory size the binary format's
	// 32-bit addressing allows.
	MemoryMaxPages = 65536
)

// RefType distinguishes the reference types a Table may hold. Wasm 1.0 has
// exactly one: funcref.
type RefType = byte

const RefTypeFuncref RefType = 0x70

// TableType is the element type and LimitsType of a table.
type TableType struct {
	ElemType RefType
	Limits   LimitsType
}

// GlobalType is the value type and mutability of a global.
type GlobalType struct {
	ValType api.ValueType
	Mutable bool
}

// Import describes a single entry of the import section: an external/
// Module-name-qualified reference to a func, table, memory, or global, typed
// by one of the fields below depending on Type.
type Import struct {
	Type       api.ExternType
	Module     string
	Name       string
	DescFunc   Index // TypeSection index, when Type == ExternTypeFunc.
	DescTable  TableType
	DescMem    MemoryType
	DescGlobal GlobalType
}

// Export describes a single entry of the export section: a Module-local
// name bound to an index in one of the four index spaces.
type Export struct {
	Type  api.ExternType
	Name  string
	Index Index
}

// ConstExprOpcode is the opcode of a constant expression, the restricted
// instruction set Wasm 1.0 allows in global initializers and element/data
// segment offsets.
type ConstExprOpcode = byte

const (
	OpcodeI32Const ConstExprOpcode = 0x41
	OpcodeI64Const ConstExprOpcode = 0x42
	OpcodeF32Const ConstExprOpcode = 0x43
	OpcodeF64Const ConstExprOpcode = 0x44
	OpcodeGlobalGet ConstExprOpcode = 0x23
	OpcodeEnd       ConstExprOpcode = 0x0b
)

// ConstantExpression is a decoded constant expression: one of i32.const,
// i64.const, f32.const, f64.const, or global.get, terminated by end.
type ConstantExpression struct {
	Opcode ConstExprOpcode
	// Data holds the opcode's immediate, little-endian encoded in 8 bytes for
	// every opcode: i32/f32 immediates and the referenced global index are
	// widened to 64 bits.
	Data []byte
}

// Code is a decoded function body: its local declarations (expanded from
// the binary format's run-length encoding) and its flattened instruction
// stream.
type Code struct {
	LocalTypes []api.ValueType // expanded, one entry per local (not run-length).
	Body       []instruction.Instruction
	// BodySize is the byte length of the original code entry, retained
	// only for diagnostics.
	BodySize uint32
}

// ElementSegment initializes a range of a Table with function indices,
// evaluated at instantiation time.
type ElementSegment struct {
	TableIndex Index
	Offset     ConstantExpression
	Init       []Index // function indices
}

// DataSegment initializes a range of linear Memory with raw bytes,
// evaluated at instantiation time.
type DataSegment struct {
	MemoryIndex Index
	Offset      ConstantExpression
	Init        []byte
}

// NameSection holds the optional debug names carried by the custom "name"
// section. Never consulted by validation or execution; names fall back to
// an index-derived placeholder when absent.
type NameSection struct {
	ModuleName    string
	FunctionNames map[Index]string
	LocalNames    map[Index]map[Index]string
}

// Module is the frozen result of decoding a single Wasm binary: every
// section's contents, normalized into Go values, with no further relation to
// the source bytes beyond ID. A Module is immutable and may be instantiated
// any number of times.
type Module struct {
	ID ModuleID

	TypeSection     []*FunctionType
	ImportSection   []Import
	FunctionSection []Index // TypeSection indices, one per module-defined function.
	TableSection    []TableType
	MemorySection   []MemoryType
	GlobalSection   []GlobalInit
	ExportSection   []Export
	StartSection    *Index
	ElementSection  []ElementSegment
	CodeSection     []Code
	DataSection     []DataSegment

	NameSection *NameSection
}

// GlobalInit is a module-defined global: its type and constant initializer.
// Imported globals are described by Import.DescGlobal instead.
type GlobalInit struct {
	Type GlobalType
	Init ConstantExpression
}

// ImportedFunctionCount returns how many entries of the function index
// space are satisfied by imports, i.e. the offset at which module-defined
// function indices begin.
func (m *Module) ImportedFunctionCount() Index {
	var n Index
	for _, imp := range m.ImportSection {
		if imp.Type == api.ExternTypeFunc {
			n++
		}
	}
	return n
}

// ImportedTableCount is the TableSection analogue of ImportedFunctionCount.
func (m *Module) ImportedTableCount() Index {
	var n Index
	for _, imp := range m.ImportSection {
		if imp.Type == api.ExternTypeTable {
			n++
		}
	}
	return n
}

// ImportedMemoryCount is the MemorySection analogue of ImportedFunctionCount.
func (m *Module) ImportedMemoryCount() Index {
	var n Index
	for _, imp := range m.ImportSection {
		if imp.Type == api.ExternTypeMemory {
			n++
		}
	}
	return n
}

// ImportedGlobalCount is the GlobalSection analogue of ImportedFunctionCount.
func (m *Module) ImportedGlobalCount() Index {
	var n Index
	for _, imp := range m.ImportSection {
		if imp.Type == api.ExternTypeGlobal {
			n++
		}
	}
	return n
}

// TypeOfFunction resolves a function index (imports first, then
// module-defined) to its FunctionType.
func (m *Module) TypeOfFunction(idx Index) (*FunctionType, error) {
	importedFns := Index(0)
	for _, imp := range m.ImportSection {
		if imp.Type != api.ExternTypeFunc {
			continue
		}
		if importedFns == idx {
			return m.typeAt(imp.DescFunc)
		}
		importedFns++
	}
	local := idx - importedFns
	if int(local) >= len(m.FunctionSection) {
		return nil, fmt.Errorf("function index %d out of range", idx)
	}
	return m.typeAt(m.FunctionSection[local])
}

func (m *Module) typeAt(idx Index) (*FunctionType, error) {
	if int(idx) >= len(m.TypeSection) {
		return nil, fmt.Errorf("type index %d out of range", idx)
	}
	return m.TypeSection[idx], nil
}
