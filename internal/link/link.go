// Package link resolves a decoded Module's imports against a Store's
// already-instantiated modules, allocates its functions/tables/memories/
// globals into the Store, applies its element and data segments, and runs
// its start function — the steps the Wasm spec calls "instantiation".
package link

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/wasmatix/corewasm/api"
	"github.com/wasmatix/corewasm/internal/wasm"
)

// Engine is the capability internal/link needs from the interpreter to run
// a start function, kept as an interface to avoid a dependency cycle
// (internal/engine/interpreter itself depends on internal/wasm).
type Engine interface {
	Call(store *wasm.Store, fn *wasm.FunctionInstance, args []uint64) ([]uint64, error)
}

// LinkError reports a failure to resolve an import or apply a segment,
// distinct from wasm.DecodeError (malformed bytes) and validate.ValidationError
// (static type error): this is specific to the instantiation step, where the
// failure depends on what other modules happen to be registered.
type LinkError struct {
	Context string
	Detail  string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("wasm: link error: %s: %s", e.Context, e.Detail)
}

func newErr(ctx, detail string) *LinkError { return &LinkError{Context: ctx, Detail: detail} }

// Instantiate links mod against store and externs: resolves every import,
// allocates mod's own functions/tables/memories/globals into store, applies
// element and data segments, runs the start function (if any) via eng, and
// returns the InternalModule view registered under name. On any failure no
// partial allocation is left observable to future imports: the returned
// error is non-nil and the caller should not register the result.
func Instantiate(store *wasm.Store, eng Engine, externs *wasm.ExternalModules, mod *wasm.Module, name string) (*wasm.InternalModule, error) {
	funcIdx, tableIdx, memIdx, globalIdx, types, err := resolveImports(store, externs, mod)
	if err != nil {
		return nil, err
	}

	types = append(types, mod.TypeSection...)

	// moduleInstanceIndex is this module's eventual position in
	// store.Modules, known in advance since Instantiate appends exactly one
	// InternalModule and nothing else touches store.Modules concurrently.
	moduleInstanceIndex := wasm.Index(len(store.Modules))

	for i, ft := range mod.FunctionSection {
		code := mod.CodeSection[i]
		debugName := fmt.Sprintf("$%d", len(funcIdx))
		if mod.NameSection != nil {
			if n, ok := mod.NameSection.FunctionNames[wasm.Index(len(funcIdx))]; ok {
				debugName = n
			}
		}
		fi := &wasm.FunctionInstance{
			Type:                mod.TypeSection[ft],
			LocalTypes:          code.LocalTypes,
			Body:                code.Body,
			ModuleInstanceIndex: moduleInstanceIndex,
			DebugName:           debugName,
		}
		funcIdx = append(funcIdx, store.AddFunction(fi))
	}

	for _, tt := range mod.TableSection {
		elems := make([]wasm.Index, tt.Limits.Min)
		for i := range elems {
			elems[i] = wasm.NullFuncIndex
		}
		ti := &wasm.TableInstance{Elements: elems, Min: tt.Limits.Min, Max: tt.Limits.Max}
		tableIdx = append(tableIdx, store.AddTable(ti))
	}

	for _, mt := range mod.MemorySection {
		mi := &wasm.MemoryInstance{
			Buffer: make([]byte, uint64(mt.Min)*wasm.MemoryPageSize),
			Min:    mt.Min,
			Max:    mt.Max,
		}
		memIdx = append(memIdx, store.AddMemory(mi))
	}

	globalValues := make([]uint64, len(globalIdx))
	for i, g := range globalIdx {
		globalValues[i] = store.Globals[g].Value
	}
	for _, g := range mod.GlobalSection {
		v, err := evalConstExpr(g.Init, globalValues)
		if err != nil {
			return nil, newErr("global initializer", err.Error())
		}
		gi := &wasm.GlobalInstance{Type: g.Type, Value: v}
		globalIdx = append(globalIdx, store.AddGlobal(gi))
		globalValues = append(globalValues, v)
	}

	// Every segment is bounds-checked before any is written, so a failing
	// segment leaves imported tables and memories untouched.
	elemOffsets := make([]uint64, len(mod.ElementSection))
	for i, seg := range mod.ElementSection {
		offset, err := evalConstExpr(seg.Offset, globalValues)
		if err != nil {
			return nil, newErr(fmt.Sprintf("element segment %d", i), err.Error())
		}
		table := store.Tables[tableIdx[seg.TableIndex]]
		if int(offset)+len(seg.Init) > len(table.Elements) {
			return nil, newErr(fmt.Sprintf("element segment %d", i), "out of table bounds")
		}
		elemOffsets[i] = offset
	}

	dataOffsets := make([]uint64, len(mod.DataSection))
	for i, seg := range mod.DataSection {
		offset, err := evalConstExpr(seg.Offset, globalValues)
		if err != nil {
			return nil, newErr(fmt.Sprintf("data segment %d", i), err.Error())
		}
		mem := store.Memories[memIdx[seg.MemoryIndex]]
		if int(offset)+len(seg.Init) > len(mem.Buffer) {
			return nil, newErr(fmt.Sprintf("data segment %d", i), "out of memory bounds")
		}
		dataOffsets[i] = offset
	}

	for i, seg := range mod.ElementSection {
		table := store.Tables[tableIdx[seg.TableIndex]]
		for j, fnLocal := range seg.Init {
			table.Elements[int(elemOffsets[i])+j] = funcIdx[fnLocal]
		}
	}
	for i, seg := range mod.DataSection {
		copy(store.Memories[memIdx[seg.MemoryIndex]].Buffer[dataOffsets[i]:], seg.Init)
	}

	im := &wasm.InternalModule{
		Name:            name,
		InstanceID:      uuid.NewString(),
		Exports:         map[string]wasm.ExportInstance{},
		FunctionIndices: funcIdx,
		TableIndices:    tableIdx,
		MemoryIndices:   memIdx,
		GlobalIndices:   globalIdx,
		Types:           types,
	}
	for _, e := range mod.ExportSection {
		var storeIdx wasm.Indice
		switch e.Type {
		case api.ExternTypeFunc:
			storeIdx = funcIdx[e.Index]
		case api.ExternTypeTable:
			storeIdx = tableIdx[e.Index]
		case api.ExternTypeMemory:
			storeIdx = memIdx[e.Index]
		case api.ExternTypeGlobal:
			storeIdx = globalIdx[e.Index]
		}
		im.Exports[e.Name] = wasm.ExportInstance{Type: e.Type, Index: storeIdx}
	}

	store.Modules = append(store.Modules, im)

	if mod.StartSection != nil {
		im.Start = mod.StartSection
		fn := store.Functions[funcIdx[*mod.StartSection]]
		if eng != nil {
			if _, err := eng.Call(store, fn, nil); err != nil {
				return nil, newErr("start function", err.Error())
			}
		}
	}

	return im, nil
}

// resolveImports walks mod's import section in order, looking each one up
// in externs and type-checking it against the declared Import descriptor.
// The four returned slices are seeded with the Store-level Indices of the
// resolved imports, in mod's own index-space order, ready to be appended to
// as mod's own definitions are allocated.
func resolveImports(store *wasm.Store, externs *wasm.ExternalModules, mod *wasm.Module) (funcIdx, tableIdx, memIdx, globalIdx []wasm.Indice, types []*wasm.FunctionType, err error) {
	for _, imp := range mod.ImportSection {
		src := externs.Lookup(imp.Module)
		if src == nil {
			return nil, nil, nil, nil, nil, newErr(fmt.Sprintf("%s.%s", imp.Module, imp.Name), "module not registered")
		}
		exp, ok := src.Exports[imp.Name]
		if !ok {
			return nil, nil, nil, nil, nil, newErr(fmt.Sprintf("%s.%s", imp.Module, imp.Name), "export not found")
		}
		if exp.Type != imp.Type {
			return nil, nil, nil, nil, nil, newErr(fmt.Sprintf("%s.%s", imp.Module, imp.Name), "extern kind mismatch")
		}
		switch imp.Type {
		case api.ExternTypeFunc:
			actual := store.Functions[exp.Index].Type
			expected := mod.TypeSection[imp.DescFunc]
			if !actual.EqualsSignature(expected.Params, expected.Results) {
				return nil, nil, nil, nil, nil, newErr(fmt.Sprintf("%s.%s", imp.Module, imp.Name), "function signature mismatch")
			}
			funcIdx = append(funcIdx, exp.Index)
		case api.ExternTypeTable:
			actual := store.Tables[exp.Index]
			if !limitsCompatible(actual.Min, actual.Max, imp.DescTable.Limits) {
				return nil, nil, nil, nil, nil, newErr(fmt.Sprintf("%s.%s", imp.Module, imp.Name), "table limits incompatible")
			}
			tableIdx = append(tableIdx, exp.Index)
		case api.ExternTypeMemory:
			actual := store.Memories[exp.Index]
			if !limitsCompatible(actual.Min, actual.Max, imp.DescMem) {
				return nil, nil, nil, nil, nil, newErr(fmt.Sprintf("%s.%s", imp.Module, imp.Name), "memory limits incompatible")
			}
			memIdx = append(memIdx, exp.Index)
		case api.ExternTypeGlobal:
			actual := store.Globals[exp.Index]
			if actual.Type != imp.DescGlobal {
				return nil, nil, nil, nil, nil, newErr(fmt.Sprintf("%s.%s", imp.Module, imp.Name), "global type mismatch")
			}
			globalIdx = append(globalIdx, exp.Index)
		}
	}
	return funcIdx, tableIdx, memIdx, globalIdx, types, nil
}

// limitsCompatible reports whether an already-allocated instance with
// (actualMin, actualMax) satisfies an importer's required limits: the
// instance must be at least as large as required and, if the importer
// demands a maximum, the instance's own maximum must be no larger.
func limitsCompatible(actualMin uint32, actualMax *uint32, want wasm.LimitsType) bool {
	if actualMin < want.Min {
		return false
	}
	if want.Max == nil {
		return true
	}
	if actualMax == nil {
		return false
	}
	return *actualMax <= *want.Max
}

// evalConstExpr evaluates a restricted constant expression, resolving
// global.get against the importedGlobals slice (Store-level values of this
// module's globals in index-space order, imported ones first — exactly the
// prefix available by the time a later initializer runs).
func evalConstExpr(ce wasm.ConstantExpression, importedGlobals []uint64) (uint64, error) {
	switch ce.Opcode {
	case wasm.OpcodeI32Const, wasm.OpcodeI64Const, wasm.OpcodeF32Const, wasm.OpcodeF64Const:
		return binary.LittleEndian.Uint64(ce.Data), nil
	case wasm.OpcodeGlobalGet:
		idx := uint32(binary.LittleEndian.Uint64(ce.Data))
		if int(idx) >= len(importedGlobals) {
			return 0, fmt.Errorf("global index %d out of range in constant expression", idx)
		}
		return importedGlobals[idx], nil
	default:
		return 0, fmt.Errorf("unsupported constant expression opcode %#x", ce.Opcode)
	}
}
