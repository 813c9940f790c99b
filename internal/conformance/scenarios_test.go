package conformance

import (
	"encoding/binary"
	"testing"

	"github.com/wasmatix/corewasm/api"
	"github.com/wasmatix/corewasm/internal/instruction"
	"github.com/wasmatix/corewasm/internal/trap"
	"github.com/wasmatix/corewasm/internal/wasm"
)

// le8 encodes v as the 8-byte little-endian form every ConstantExpression's
// Data holds, regardless of the constant's declared width (see
// internal/wasm/binary/sections.go's decodeConstantExpression).
func le8(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func i32Const(v int32) wasm.ConstantExpression {
	return wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: le8(uint64(uint32(v)))}
}

// TestFibonacci exercises recursive Call and the BrIfZero `if` lowering:
// fib(10) computed by two-way recursion must equal 55.
func TestFibonacci(t *testing.T) {
	fibType := &wasm.FunctionType{
		Params:  []api.ValueType{api.ValueTypeI32},
		Results: []api.ValueType{api.ValueTypeI32},
	}
	body := []instruction.Instruction{
		{Kind: instruction.KindLocalGet, U1: 0},                                          // 0: n
		{Kind: instruction.KindConstI32, U1: 2},                                           // 1: 2
		{Kind: instruction.KindLt, Type: instruction.TypeI32, Sign: instruction.Signed},   // 2: n < 2
		{Kind: instruction.KindBrIfZero, U1: 6},                                           // 3: if !(n<2) jump to 6
		{Kind: instruction.KindLocalGet, U1: 0},                                           // 4: n
		{Kind: instruction.KindReturn},                                                    // 5: return n
		{Kind: instruction.KindLocalGet, U1: 0},                                           // 6: n
		{Kind: instruction.KindConstI32, U1: 1},                                           // 7: 1
		{Kind: instruction.KindSub, Type: instruction.TypeI32},                            // 8: n-1
		{Kind: instruction.KindCall, U1: 0},                                               // 9: fib(n-1)
		{Kind: instruction.KindLocalGet, U1: 0},                                           // 10: n
		{Kind: instruction.KindConstI32, U1: 2},                                           // 11: 2
		{Kind: instruction.KindSub, Type: instruction.TypeI32},                            // 12: n-2
		{Kind: instruction.KindCall, U1: 0},                                               // 13: fib(n-2)
		{Kind: instruction.KindAdd, Type: instruction.TypeI32},                            // 14: +
		{Kind: instruction.KindEnd},                                                       // 15
	}
	mod := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{fibType},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []wasm.Code{{Body: body}},
		ExportSection:   []wasm.Export{{Type: api.ExternTypeFunc, Name: "fib", Index: 0}},
	}

	h := NewHarness()
	h.Run(t, []Command{
		{Type: Module, Name: "fib", ModuleData: mod},
		{
			Type:     AssertReturn,
			Action:   Action{Field: "fib", Args: []uint64{api.EncodeI32(10)}},
			Expected: []uint64{api.EncodeI32(55)},
		},
	})
}

// TestDivisionTrap exercises the integer-divide-by-zero trap rule.
func TestDivisionTrap(t *testing.T) {
	divType := &wasm.FunctionType{
		Params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
		Results: []api.ValueType{api.ValueTypeI32},
	}
	body := []instruction.Instruction{
		{Kind: instruction.KindLocalGet, U1: 0},
		{Kind: instruction.KindLocalGet, U1: 1},
		{Kind: instruction.KindDiv, Type: instruction.TypeI32, Sign: instruction.Signed},
		{Kind: instruction.KindEnd},
	}
	mod := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{divType},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []wasm.Code{{Body: body}},
		ExportSection:   []wasm.Export{{Type: api.ExternTypeFunc, Name: "div", Index: 0}},
	}

	h := NewHarness()
	h.Run(t, []Command{
		{Type: Module, Name: "divmod", ModuleData: mod},
		{
			Type:       AssertTrap,
			Action:     Action{Field: "div", Args: []uint64{api.EncodeI32(10), api.EncodeI32(0)}},
			TrapReason: trap.IntegerDivideByZero,
		},
	})
}

// TestMemoryBounds exercises the out-of-bounds-memory-access trap: a single
// 64KiB page only covers addresses [0, 65536), so a load far past that
// must trap rather than silently wrap or panic uncatchably.
func TestMemoryBounds(t *testing.T) {
	loadType := &wasm.FunctionType{
		Params:  []api.ValueType{api.ValueTypeI32},
		Results: []api.ValueType{api.ValueTypeI32},
	}
	body := []instruction.Instruction{
		{Kind: instruction.KindLocalGet, U1: 0},
		{Kind: instruction.KindLoad, Type: instruction.TypeI32},
		{Kind: instruction.KindEnd},
	}
	mod := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{loadType},
		FunctionSection: []wasm.Index{0},
		MemorySection:   []wasm.MemoryType{{Min: 1}},
		CodeSection:     []wasm.Code{{Body: body}},
		ExportSection:   []wasm.Export{{Type: api.ExternTypeFunc, Name: "load32", Index: 0}},
	}

	h := NewHarness()
	h.Run(t, []Command{
		{Type: Module, Name: "mem", ModuleData: mod},
		{
			Type:     AssertReturn,
			Action:   Action{Field: "load32", Args: []uint64{api.EncodeI32(0)}},
			Expected: []uint64{api.EncodeI32(0)},
		},
		{
			Type:       AssertTrap,
			Action:     Action{Field: "load32", Args: []uint64{api.EncodeI32(1_000_000)}},
			TrapReason: trap.OutOfBoundsMemoryAccess,
		},
	})
}

// TestIndirectCallMismatch exercises call_indirect's dynamic signature
// check: the table holds a (i32)->(i32) function, but the call site
// declares ()->() as its expected type, so the call must trap rather than
// silently invoking with a mismatched ABI.
func TestIndirectCallMismatch(t *testing.T) {
	identityType := &wasm.FunctionType{
		Params:  []api.ValueType{api.ValueTypeI32},
		Results: []api.ValueType{api.ValueTypeI32},
	}
	thunkType := &wasm.FunctionType{}

	identityBody := []instruction.Instruction{
		{Kind: instruction.KindLocalGet, U1: 0},
		{Kind: instruction.KindEnd},
	}
	callerBody := []instruction.Instruction{
		{Kind: instruction.KindConstI32, U1: 0}, // table index 0
		{Kind: instruction.KindCallIndirect, U1: 1},
		{Kind: instruction.KindEnd},
	}

	mod := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{identityType, thunkType},
		FunctionSection: []wasm.Index{0, 1},
		TableSection:    []wasm.TableType{{ElemType: wasm.RefTypeFuncref, Limits: wasm.LimitsType{Min: 1}}},
		ElementSection: []wasm.ElementSegment{
			{TableIndex: 0, Offset: i32Const(0), Init: []wasm.Index{0}},
		},
		CodeSection:   []wasm.Code{{Body: identityBody}, {Body: callerBody}},
		ExportSection: []wasm.Export{{Type: api.ExternTypeFunc, Name: "call_it", Index: 1}},
	}

	h := NewHarness()
	h.Run(t, []Command{
		{Type: Module, Name: "indirect", ModuleData: mod},
		{
			Type:       AssertTrap,
			Action:     Action{Field: "call_it"},
			TrapReason: trap.IndirectCallTypeMismatch,
		},
	})
}

// TestBrTableDefault exercises br_table's default-target fallback: any
// index at or past the number of explicit targets clamps to the trailing
// default entry instead of indexing out of range.
func TestBrTableDefault(t *testing.T) {
	switchType := &wasm.FunctionType{
		Params:  []api.ValueType{api.ValueTypeI32},
		Results: []api.ValueType{api.ValueTypeI32},
	}
	body := []instruction.Instruction{
		{Kind: instruction.KindLocalGet, U1: 0}, // 0
		{Kind: instruction.KindBrTable, BrTable: []instruction.BrTarget{ // 1
			{Target: 2},
			{Target: 4},
			{Target: 6}, // default
		}},
		{Kind: instruction.KindConstI32, U1: uint64(uint32(10))}, // 2
		{Kind: instruction.KindReturn},                           // 3
		{Kind: instruction.KindConstI32, U1: uint64(uint32(20))}, // 4
		{Kind: instruction.KindReturn},                           // 5
		{Kind: instruction.KindConstI32, U1: uint64(uint32(99))}, // 6
		{Kind: instruction.KindReturn},                           // 7
		{Kind: instruction.KindEnd},                              // 8
	}
	mod := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{switchType},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []wasm.Code{{Body: body}},
		ExportSection:   []wasm.Export{{Type: api.ExternTypeFunc, Name: "pick", Index: 0}},
	}

	h := NewHarness()
	h.Run(t, []Command{
		{Type: Module, Name: "brtable", ModuleData: mod},
		{Type: AssertReturn, Action: Action{Field: "pick", Args: []uint64{api.EncodeI32(0)}}, Expected: []uint64{api.EncodeI32(10)}},
		{Type: AssertReturn, Action: Action{Field: "pick", Args: []uint64{api.EncodeI32(1)}}, Expected: []uint64{api.EncodeI32(20)}},
		{Type: AssertReturn, Action: Action{Field: "pick", Args: []uint64{api.EncodeI32(7)}}, Expected: []uint64{api.EncodeI32(99)}},
	})
}

// TestNaNCanonicalization exercises float division's NaN propagation: 0/0
// must produce a NaN result whose bits carry the arithmetic-NaN class (the
// canonical bit pattern is a valid instance of that class).
func TestNaNCanonicalization(t *testing.T) {
	divType := &wasm.FunctionType{
		Params:  []api.ValueType{api.ValueTypeF64, api.ValueTypeF64},
		Results: []api.ValueType{api.ValueTypeF64},
	}
	body := []instruction.Instruction{
		{Kind: instruction.KindLocalGet, U1: 0},
		{Kind: instruction.KindLocalGet, U1: 1},
		{Kind: instruction.KindDiv, Type: instruction.TypeF64},
		{Kind: instruction.KindEnd},
	}
	mod := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{divType},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []wasm.Code{{Body: body}},
		ExportSection:   []wasm.Export{{Type: api.ExternTypeFunc, Name: "fdiv", Index: 0}},
	}

	h := NewHarness()
	h.Run(t, []Command{
		{Type: Module, Name: "nan", ModuleData: mod},
		{
			Type:    AssertReturnArithmeticNaN,
			Action:  Action{Field: "fdiv", Args: []uint64{api.EncodeF64(0), api.EncodeF64(0)}},
			NaNType: api.ValueTypeF64,
		},
	})
}
