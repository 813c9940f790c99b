package validate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmatix/corewasm/api"
	"github.com/wasmatix/corewasm/internal/instruction"
	"github.com/wasmatix/corewasm/internal/wasm"
)

func simpleModule(body []instruction.Instruction, params, results []api.ValueType) *wasm.Module {
	ft := &wasm.FunctionType{Params: params, Results: results}
	return &wasm.Module{
		TypeSection:     []*wasm.FunctionType{ft},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []wasm.Code{{Body: body}},
	}
}

func TestValidate_WellTypedFunctionPasses(t *testing.T) {
	m := simpleModule([]instruction.Instruction{
		{Kind: instruction.KindLocalGet, U1: 0},
		{Kind: instruction.KindLocalGet, U1: 1},
		{Kind: instruction.KindAdd, Type: instruction.TypeI32},
		{Kind: instruction.KindEnd},
	}, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32})

	require.NoError(t, Validate(m))
}

func TestValidate_TypeMismatchRejected(t *testing.T) {
	// Adds an i32 local to an f64 local: a genuine type mismatch.
	m := simpleModule([]instruction.Instruction{
		{Kind: instruction.KindLocalGet, U1: 0},
		{Kind: instruction.KindLocalGet, U1: 1},
		{Kind: instruction.KindAdd, Type: instruction.TypeI32},
		{Kind: instruction.KindEnd},
	}, []api.ValueType{api.ValueTypeI32, api.ValueTypeF64}, []api.ValueType{api.ValueTypeI32})

	err := Validate(m)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, TypeMismatch, ve.Code)
}

func TestValidate_StackUnderflowRejected(t *testing.T) {
	m := simpleModule([]instruction.Instruction{
		{Kind: instruction.KindLocalGet, U1: 0},
		{Kind: instruction.KindAdd, Type: instruction.TypeI32}, // only one operand pushed
		{Kind: instruction.KindEnd},
	}, []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32})

	err := Validate(m)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, StackUnderflow, ve.Code)
}

func TestValidate_BrTablePopsIndexOperand(t *testing.T) {
	// A br_table whose only preceding push is its own index operand, with
	// each branch target returning a value of the declared result type,
	// must validate cleanly once the index is consumed.
	m := simpleModule([]instruction.Instruction{
		{Kind: instruction.KindLocalGet, U1: 0},
		{Kind: instruction.KindBrTable, BrTable: []instruction.BrTarget{{Target: 2}, {Target: 4}}},
		{Kind: instruction.KindConstI32, U1: 1},
		{Kind: instruction.KindReturn},
		{Kind: instruction.KindConstI32, U1: 2},
		{Kind: instruction.KindReturn},
		{Kind: instruction.KindEnd},
	}, []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32})

	require.NoError(t, Validate(m))
}

func TestValidate_DuplicateExportNameRejected(t *testing.T) {
	m := simpleModule([]instruction.Instruction{{Kind: instruction.KindEnd}}, nil, nil)
	m.ExportSection = []wasm.Export{
		{Type: api.ExternTypeFunc, Name: "f", Index: 0},
		{Type: api.ExternTypeFunc, Name: "f", Index: 0},
	}

	err := Validate(m)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, DuplicateExportName, ve.Code)
}

func TestValidate_MultipleMemoriesRejected(t *testing.T) {
	m := simpleModule([]instruction.Instruction{{Kind: instruction.KindEnd}}, nil, nil)
	m.MemorySection = []wasm.MemoryType{{Min: 1}, {Min: 1}}

	err := Validate(m)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, MultipleMemories, ve.Code)
}

func TestValidate_StartFunctionMustBeNiladic(t *testing.T) {
	m := simpleModule([]instruction.Instruction{
		{Kind: instruction.KindLocalGet, U1: 0},
		{Kind: instruction.KindEnd},
	}, []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32})
	start := wasm.Index(0)
	m.StartSection = &start

	err := Validate(m)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, InvalidStartFunction, ve.Code)
}

func TestValidate_GlobalGetInConstExprRejectsMutable(t *testing.T) {
	m := simpleModule([]instruction.Instruction{{Kind: instruction.KindEnd}}, nil, nil)
	m.ImportSection = []wasm.Import{
		{Type: api.ExternTypeGlobal, Module: "env", Name: "g", DescGlobal: wasm.GlobalType{ValType: api.ValueTypeI32, Mutable: true}},
	}
	m.GlobalSection = []wasm.GlobalInit{
		{
			Type: wasm.GlobalType{ValType: api.ValueTypeI32, Mutable: false},
			Init: wasm.ConstantExpression{Opcode: wasm.OpcodeGlobalGet, Data: []byte{0, 0, 0, 0, 0, 0, 0, 0}},
		},
	}

	err := Validate(m)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, InvalidConstantExpression, ve.Code)
}
