package link

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmatix/corewasm/api"
	"github.com/wasmatix/corewasm/internal/instruction"
	"github.com/wasmatix/corewasm/internal/wasm"
)

func le8(v uint64) []byte {
	return []byte{
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
		byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56),
	}
}

func TestInstantiate_NoImportsRegistersExports(t *testing.T) {
	ft := &wasm.FunctionType{Results: []api.ValueType{api.ValueTypeI32}}
	mod := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{ft},
		FunctionSection: []wasm.Index{0},
		CodeSection: []wasm.Code{{Body: []instruction.Instruction{
			{Kind: instruction.KindConstI32, U1: 42},
			{Kind: instruction.KindEnd},
		}}},
		ExportSection: []wasm.Export{{Type: api.ExternTypeFunc, Name: "answer", Index: 0}},
	}

	store := wasm.NewStore()
	externs := wasm.NewExternalModules()
	im, err := Instantiate(store, nil, externs, mod, "m")
	require.NoError(t, err)
	require.NotEmpty(t, im.InstanceID)

	exp, ok := im.Exports["answer"]
	require.True(t, ok)
	require.Equal(t, api.ExternTypeFunc, exp.Type)
	require.Equal(t, mod.TypeSection[0], store.Functions[exp.Index].Type)
}

func TestInstantiate_MissingImportModuleFails(t *testing.T) {
	mod := &wasm.Module{
		ImportSection: []wasm.Import{{Type: api.ExternTypeFunc, Module: "env", Name: "missing"}},
	}
	store := wasm.NewStore()
	externs := wasm.NewExternalModules()
	_, err := Instantiate(store, nil, externs, mod, "m")
	require.Error(t, err)
	var le *LinkError
	require.ErrorAs(t, err, &le)
}

func TestInstantiate_FunctionSignatureMismatchFails(t *testing.T) {
	// Register a provider module exporting a (i32)->() function...
	providerFT := &wasm.FunctionType{Params: []api.ValueType{api.ValueTypeI32}}
	provider := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{providerFT},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []wasm.Code{{Body: []instruction.Instruction{{Kind: instruction.KindDrop}, {Kind: instruction.KindEnd}}}},
		ExportSection:   []wasm.Export{{Type: api.ExternTypeFunc, Name: "f", Index: 0}},
	}
	store := wasm.NewStore()
	externs := wasm.NewExternalModules()
	providerInst, err := Instantiate(store, nil, externs, provider, "env")
	require.NoError(t, err)
	externs.Register("env", providerInst)

	// ...then import it expecting a ()->(i32) function instead.
	wantFT := &wasm.FunctionType{Results: []api.ValueType{api.ValueTypeI32}}
	importer := &wasm.Module{
		TypeSection:   []*wasm.FunctionType{wantFT},
		ImportSection: []wasm.Import{{Type: api.ExternTypeFunc, Module: "env", Name: "f", DescFunc: 0}},
	}
	_, err = Instantiate(store, nil, externs, importer, "importer")
	require.Error(t, err)
	var le *LinkError
	require.ErrorAs(t, err, &le)
}

func TestInstantiate_ElementSegmentPopulatesTable(t *testing.T) {
	ft := &wasm.FunctionType{Results: []api.ValueType{api.ValueTypeI32}}
	mod := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{ft},
		FunctionSection: []wasm.Index{0},
		TableSection:    []wasm.TableType{{ElemType: wasm.RefTypeFuncref, Limits: wasm.LimitsType{Min: 2}}},
		ElementSection: []wasm.ElementSegment{
			{TableIndex: 0, Offset: wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: le8(1)}, Init: []wasm.Index{0}},
		},
		CodeSection: []wasm.Code{{Body: []instruction.Instruction{
			{Kind: instruction.KindConstI32, U1: 7},
			{Kind: instruction.KindEnd},
		}}},
	}

	store := wasm.NewStore()
	externs := wasm.NewExternalModules()
	im, err := Instantiate(store, nil, externs, mod, "m")
	require.NoError(t, err)

	table := store.Tables[im.TableIndices[0]]
	require.Equal(t, wasm.NullFuncIndex, table.Elements[0])
	require.Equal(t, im.FunctionIndices[0], table.Elements[1])
}
