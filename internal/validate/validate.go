// Package validate statically checks a decoded internal/wasm.Module for
// type soundness before it is linked or executed: the abstract type-stack
// algorithm from the Wasm Core 1.0 specification's appendix, plus the
// module-level checks (duplicate exports, index bounds, start function
// arity, single memory/table) the binary format alone can't catch.
package validate

import (
	"fmt"

	"github.com/wasmatix/corewasm/api"
	"github.com/wasmatix/corewasm/internal/instruction"
	"github.com/wasmatix/corewasm/internal/wasm"
)

// ErrorCode classifies a ValidationError, mirrored closely on
// original_source's validate_time::TypeError enum.
type ErrorCode int

const (
	TypeMismatch ErrorCode = iota
	StackUnderflow
	UnknownFunction
	UnknownTable
	UnknownMemory
	UnknownGlobal
	UnknownType
	UnknownLocal
	UnknownLabel
	ImmutableGlobalAssignment
	DuplicateExportName
	MultipleMemories
	MultipleTables
	InvalidStartFunction
	InvalidConstantExpression
	AlignmentTooLarge
	TypeCountMismatch
)

var names = map[ErrorCode]string{
	TypeMismatch:              "type mismatch",
	StackUnderflow:            "stack underflow",
	UnknownFunction:           "unknown function",
	UnknownTable:              "unknown table",
	UnknownMemory:             "unknown memory",
	UnknownGlobal:             "unknown global",
	UnknownType:               "unknown type",
	UnknownLocal:              "unknown local",
	UnknownLabel:              "unknown label",
	ImmutableGlobalAssignment: "global.set on an immutable global",
	DuplicateExportName:       "duplicate export name",
	MultipleMemories:          "at most one memory is allowed",
	MultipleTables:            "at most one table is allowed",
	InvalidStartFunction:      "start function must take no parameters and return no values",
	InvalidConstantExpression: "invalid constant expression",
	AlignmentTooLarge:         "alignment must not be larger than natural alignment",
	TypeCountMismatch:         "type count mismatch",
}

// ValidationError is returned when a Module fails static type-checking,
// distinct from the malformed-bytes DecodeError and the dynamic Trap raised
// during execution.
type ValidationError struct {
	Code    ErrorCode
	Context string // e.g. "function 3"
	Detail  string
}

func (e *ValidationError) Error() string {
	s := names[e.Code]
	if e.Context != "" {
		s = fmt.Sprintf("%s: %s", e.Context, s)
	}
	if e.Detail != "" {
		s = fmt.Sprintf("%s (%s)", s, e.Detail)
	}
	return "wasm: validation error: " + s
}

func newErr(code ErrorCode, ctx, detail string) *ValidationError {
	return &ValidationError{Code: code, Context: ctx, Detail: detail}
}

// Validate checks every invariant of m that the binary decoder could not:
// module-level structure, then each function body's abstract type stack.
func Validate(m *wasm.Module) error {
	if len(m.MemorySection)+int(m.ImportedMemoryCount()) > 1 {
		return newErr(MultipleMemories, "", "")
	}
	if len(m.TableSection)+int(m.ImportedTableCount()) > 1 {
		return newErr(MultipleTables, "", "")
	}
	if err := validateExports(m); err != nil {
		return err
	}
	if err := validateStart(m); err != nil {
		return err
	}
	if err := validateGlobalInits(m); err != nil {
		return err
	}
	if err := validateElementAndDataSegments(m); err != nil {
		return err
	}
	for i, code := range m.CodeSection {
		idx := m.ImportedFunctionCount() + wasm.Index(i)
		ft, err := m.TypeOfFunction(idx)
		if err != nil {
			return newErr(UnknownType, fmt.Sprintf("function %d", idx), err.Error())
		}
		if err := validateFunctionBody(m, ft, code, idx); err != nil {
			return err
		}
	}
	return nil
}

func validateExports(m *wasm.Module) error {
	seen := map[string]bool{}
	for _, e := range m.ExportSection {
		if seen[e.Name] {
			return newErr(DuplicateExportName, "", e.Name)
		}
		seen[e.Name] = true
		switch e.Type {
		case api.ExternTypeFunc:
			if e.Index >= m.ImportedFunctionCount()+wasm.Index(len(m.FunctionSection)) {
				return newErr(UnknownFunction, "export "+e.Name, "")
			}
		case api.ExternTypeTable:
			if e.Index >= m.ImportedTableCount()+wasm.Index(len(m.TableSection)) {
				return newErr(UnknownTable, "export "+e.Name, "")
			}
		case api.ExternTypeMemory:
			if e.Index >= m.ImportedMemoryCount()+wasm.Index(len(m.MemorySection)) {
				return newErr(UnknownMemory, "export "+e.Name, "")
			}
		case api.ExternTypeGlobal:
			if e.Index >= m.ImportedGlobalCount()+wasm.Index(len(m.GlobalSection)) {
				return newErr(UnknownGlobal, "export "+e.Name, "")
			}
		}
	}
	return nil
}

func validateStart(m *wasm.Module) error {
	if m.StartSection == nil {
		return nil
	}
	ft, err := m.TypeOfFunction(*m.StartSection)
	if err != nil {
		return newErr(UnknownFunction, "start", err.Error())
	}
	if len(ft.Params) != 0 || len(ft.Results) != 0 {
		return newErr(InvalidStartFunction, "start", "")
	}
	return nil
}

// validateGlobalInits checks that every global initializer is
// one of the restricted constant-expression forms and, for global.get,
// references an earlier *imported* global only (forward/self references and
// references to mutable globals are rejected per the spec).
func validateGlobalInits(m *wasm.Module) error {
	importedGlobals := m.ImportedGlobalCount()
	for i, g := range m.GlobalSection {
		if err := checkConstExpr(m, g.Init, g.Type.ValType, importedGlobals); err != nil {
			return newErr(InvalidConstantExpression, fmt.Sprintf("global %d", int(importedGlobals)+i), err.Error())
		}
	}
	return nil
}

func validateElementAndDataSegments(m *wasm.Module) error {
	importedGlobals := m.ImportedGlobalCount()
	tableCount := m.ImportedTableCount() + wasm.Index(len(m.TableSection))
	for i, seg := range m.ElementSection {
		if seg.TableIndex >= tableCount {
			return newErr(UnknownTable, fmt.Sprintf("element %d", i), "")
		}
		if err := checkConstExpr(m, seg.Offset, api.ValueTypeI32, importedGlobals); err != nil {
			return newErr(InvalidConstantExpression, fmt.Sprintf("element %d", i), err.Error())
		}
		fnCount := m.ImportedFunctionCount() + wasm.Index(len(m.FunctionSection))
		for _, fnIdx := range seg.Init {
			if fnIdx >= fnCount {
				return newErr(UnknownFunction, fmt.Sprintf("element %d", i), "")
			}
		}
	}
	memCount := m.ImportedMemoryCount() + wasm.Index(len(m.MemorySection))
	for i, seg := range m.DataSection {
		if seg.MemoryIndex >= memCount {
			return newErr(UnknownMemory, fmt.Sprintf("data %d", i), "")
		}
		if err := checkConstExpr(m, seg.Offset, api.ValueTypeI32, importedGlobals); err != nil {
			return newErr(InvalidConstantExpression, fmt.Sprintf("data %d", i), err.Error())
		}
	}
	return nil
}

func checkConstExpr(m *wasm.Module, ce wasm.ConstantExpression, want api.ValueType, importedGlobals wasm.Index) error {
	switch ce.Opcode {
	case wasm.OpcodeI32Const:
		if want != api.ValueTypeI32 {
			return fmt.Errorf("expected i32")
		}
	case wasm.OpcodeI64Const:
		if want != api.ValueTypeI64 {
			return fmt.Errorf("expected i64")
		}
	case wasm.OpcodeF32Const:
		if want != api.ValueTypeF32 {
			return fmt.Errorf("expected f32")
		}
	case wasm.OpcodeF64Const:
		if want != api.ValueTypeF64 {
			return fmt.Errorf("expected f64")
		}
	case wasm.OpcodeGlobalGet:
		idx := wasm.Index(leU32(ce.Data))
		if idx >= importedGlobals {
			return fmt.Errorf("global.get in a constant expression may only reference an imported global")
		}
		gt, err := globalTypeOf(m, idx)
		if err != nil {
			return err
		}
		if gt.Mutable {
			return fmt.Errorf("global.get in a constant expression may not reference a mutable global")
		}
		if gt.ValType != want {
			return fmt.Errorf("global type mismatch")
		}
	default:
		return fmt.Errorf("unsupported constant expression opcode %#x", ce.Opcode)
	}
	return nil
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// vtStack is the abstract type stack the validation algorithm tracks
// per-function: each entry is a concrete value type. In unreachable
// (stack-polymorphic) code, pop below the frame's height yields anyType
// instead of a StackUnderflow error; anyType is never stored.
type vtStack struct {
	types   []api.ValueType
	unknown []bool // not written by the validator; polymorphic slots are never stored.
}

const anyType api.ValueType = 0xff

func (s *vtStack) push(t api.ValueType) { s.types = append(s.types, t) }

func (s *vtStack) pop(ctx string, frame *ctrlFrame) (api.ValueType, error) {
	if len(s.types) <= frame.height {
		if frame.unreachable {
			return anyType, nil
		}
		return 0, newErr(StackUnderflow, ctx, "")
	}
	n := len(s.types) - 1
	t := s.types[n]
	s.types = s.types[:n]
	return t, nil
}

func (s *vtStack) popExpect(ctx string, frame *ctrlFrame, want api.ValueType) error {
	t, err := s.pop(ctx, frame)
	if err != nil {
		return err
	}
	if t != anyType && want != anyType && t != want {
		return newErr(TypeMismatch, ctx, fmt.Sprintf("expected %s got %s", api.ValueTypeName(want), api.ValueTypeName(t)))
	}
	return nil
}

type ctrlFrame struct {
	height      int // operand stack height when this frame was entered.
	labelType   api.ValueType
	hasLabel    bool
	resultType  api.ValueType
	hasResult   bool
	unreachable bool
	isLoop      bool
}

func validateFunctionBody(m *wasm.Module, ft *wasm.FunctionType, code wasm.Code, fnIdx wasm.Index) error {
	ctx := fmt.Sprintf("function %d", fnIdx)
	locals := append(append([]api.ValueType{}, ft.Params...), code.LocalTypes...)

	stack := &vtStack{}
	frames := []*ctrlFrame{{height: 0, hasResult: len(ft.Results) == 1, resultType: singleOrZero(ft.Results)}}

	pop := func(want api.ValueType) error { return stack.popExpect(ctx, frames[len(frames)-1], want) }
	popAny := func() (api.ValueType, error) { return stack.pop(ctx, frames[len(frames)-1]) }

	for pc := range code.Body {
		in := &code.Body[pc]
		f := frames[len(frames)-1]
		switch in.Kind {
		case instruction.KindUnreachable:
			f.unreachable = true
		case instruction.KindNop, instruction.KindLabel:
		case instruction.KindEnd:
			if !f.unreachable && f.hasResult {
				if err := pop(f.resultType); err != nil {
					return err
				}
			}
		case instruction.KindBr, instruction.KindBrIf, instruction.KindBrIfZero:
			if in.Kind == instruction.KindBrIf || in.Kind == instruction.KindBrIfZero {
				if err := pop(api.ValueTypeI32); err != nil {
					return err
				}
			}
		case instruction.KindBrTable:
			if err := pop(api.ValueTypeI32); err != nil {
				return err
			}
		case instruction.KindReturn:
			for i := len(ft.Results) - 1; i >= 0; i-- {
				if err := pop(ft.Results[i]); err != nil {
					return err
				}
			}
			f.unreachable = true
		case instruction.KindCall:
			callee, err := m.TypeOfFunction(wasm.Index(in.U1))
			if err != nil {
				return newErr(UnknownFunction, ctx, err.Error())
			}
			for i := len(callee.Params) - 1; i >= 0; i-- {
				if err := pop(callee.Params[i]); err != nil {
					return err
				}
			}
			for _, r := range callee.Results {
				stack.push(r)
			}
		case instruction.KindCallIndirect:
			if int(in.U1) >= len(m.TypeSection) {
				return newErr(UnknownType, ctx, "")
			}
			callee := m.TypeSection[in.U1]
			if err := pop(api.ValueTypeI32); err != nil { // table index operand
				return err
			}
			for i := len(callee.Params) - 1; i >= 0; i-- {
				if err := pop(callee.Params[i]); err != nil {
					return err
				}
			}
			for _, r := range callee.Results {
				stack.push(r)
			}
		case instruction.KindDrop:
			if _, err := popAny(); err != nil {
				return err
			}
		case instruction.KindSelect:
			if err := pop(api.ValueTypeI32); err != nil {
				return err
			}
			t2, err := popAny()
			if err != nil {
				return err
			}
			if err := pop(t2); err != nil {
				return err
			}
			stack.push(t2)
		case instruction.KindLocalGet:
			if int(in.U1) >= len(locals) {
				return newErr(UnknownLocal, ctx, "")
			}
			stack.push(locals[in.U1])
		case instruction.KindLocalSet:
			if int(in.U1) >= len(locals) {
				return newErr(UnknownLocal, ctx, "")
			}
			if err := pop(locals[in.U1]); err != nil {
				return err
			}
		case instruction.KindLocalTee:
			if int(in.U1) >= len(locals) {
				return newErr(UnknownLocal, ctx, "")
			}
			t := locals[in.U1]
			if err := pop(t); err != nil {
				return err
			}
			stack.push(t)
		case instruction.KindGlobalGet:
			gt, err := globalTypeOf(m, wasm.Index(in.U1))
			if err != nil {
				return newErr(UnknownGlobal, ctx, err.Error())
			}
			stack.push(gt.ValType)
		case instruction.KindGlobalSet:
			gt, err := globalTypeOf(m, wasm.Index(in.U1))
			if err != nil {
				return newErr(UnknownGlobal, ctx, err.Error())
			}
			if !gt.Mutable {
				return newErr(ImmutableGlobalAssignment, ctx, "")
			}
			if err := pop(gt.ValType); err != nil {
				return err
			}
		case instruction.KindLoad, instruction.KindLoad8, instruction.KindLoad16, instruction.KindLoad32:
			if err := pop(api.ValueTypeI32); err != nil {
				return err
			}
			stack.push(numTypeToValueType(in.Type))
		case instruction.KindStore, instruction.KindStore8, instruction.KindStore16, instruction.KindStore32:
			if err := pop(numTypeToValueType(in.Type)); err != nil {
				return err
			}
			if err := pop(api.ValueTypeI32); err != nil {
				return err
			}
		case instruction.KindMemorySize:
			stack.push(api.ValueTypeI32)
		case instruction.KindMemoryGrow:
			if err := pop(api.ValueTypeI32); err != nil {
				return err
			}
			stack.push(api.ValueTypeI32)
		case instruction.KindConstI32:
			stack.push(api.ValueTypeI32)
		case instruction.KindConstI64:
			stack.push(api.ValueTypeI64)
		case instruction.KindConstF32:
			stack.push(api.ValueTypeF32)
		case instruction.KindConstF64:
			stack.push(api.ValueTypeF64)
		case instruction.KindEq, instruction.KindNe, instruction.KindLt, instruction.KindGt, instruction.KindLe, instruction.KindGe:
			vt := numTypeToValueType(in.Type)
			if err := pop(vt); err != nil {
				return err
			}
			if err := pop(vt); err != nil {
				return err
			}
			stack.push(api.ValueTypeI32)
		case instruction.KindEqz:
			if err := pop(numTypeToValueType(in.Type)); err != nil {
				return err
			}
			stack.push(api.ValueTypeI32)
		case instruction.KindAdd, instruction.KindSub, instruction.KindMul, instruction.KindDiv, instruction.KindRem,
			instruction.KindAnd, instruction.KindOr, instruction.KindXor, instruction.KindShl, instruction.KindShr,
			instruction.KindRotl, instruction.KindRotr, instruction.KindMin, instruction.KindMax, instruction.KindCopysign:
			vt := numTypeToValueType(in.Type)
			if err := pop(vt); err != nil {
				return err
			}
			if err := pop(vt); err != nil {
				return err
			}
			stack.push(vt)
		case instruction.KindClz, instruction.KindCtz, instruction.KindPopcnt, instruction.KindAbs, instruction.KindNeg,
			instruction.KindCeil, instruction.KindFloor, instruction.KindTrunc, instruction.KindNearest, instruction.KindSqrt:
			vt := numTypeToValueType(in.Type)
			if err := pop(vt); err != nil {
				return err
			}
			stack.push(vt)
		case instruction.KindI32WrapI64:
			if err := pop(api.ValueTypeI64); err != nil {
				return err
			}
			stack.push(api.ValueTypeI32)
		case instruction.KindExtend:
			if err := pop(api.ValueTypeI32); err != nil {
				return err
			}
			stack.push(api.ValueTypeI64)
		case instruction.KindSignExtend:
			vt := numTypeToValueType(in.Type)
			if err := pop(vt); err != nil {
				return err
			}
			stack.push(vt)
		case instruction.KindITruncFromF:
			if err := pop(numTypeToValueType(instruction.NumType(in.U2))); err != nil {
				return err
			}
			stack.push(numTypeToValueType(in.Type))
		case instruction.KindFConvertFromI:
			if err := pop(numTypeToValueType(instruction.NumType(in.U2))); err != nil {
				return err
			}
			stack.push(numTypeToValueType(in.Type))
		case instruction.KindF32DemoteF64:
			if err := pop(api.ValueTypeF64); err != nil {
				return err
			}
			stack.push(api.ValueTypeF32)
		case instruction.KindF64PromoteF32:
			if err := pop(api.ValueTypeF32); err != nil {
				return err
			}
			stack.push(api.ValueTypeF64)
		case instruction.KindReinterpret:
			var from api.ValueType
			switch in.Type {
			case instruction.TypeI32:
				from = api.ValueTypeF32
			case instruction.TypeI64:
				from = api.ValueTypeF64
			case instruction.TypeF32:
				from = api.ValueTypeI32
			case instruction.TypeF64:
				from = api.ValueTypeI64
			}
			if err := pop(from); err != nil {
				return err
			}
			stack.push(numTypeToValueType(in.Type))
		}
	}
	return nil
}

func singleOrZero(results []api.ValueType) api.ValueType {
	if len(results) == 0 {
		return 0
	}
	return results[0]
}

func numTypeToValueType(t instruction.NumType) api.ValueType {
	switch t {
	case instruction.TypeI32:
		return api.ValueTypeI32
	case instruction.TypeI64:
		return api.ValueTypeI64
	case instruction.TypeF32:
		return api.ValueTypeF32
	default:
		return api.ValueTypeF64
	}
}

func globalTypeOf(m *wasm.Module, idx wasm.Index) (wasm.GlobalType, error) {
	importedGlobals := m.ImportedGlobalCount()
	if idx < importedGlobals {
		var n wasm.Index
		for _, imp := range m.ImportSection {
			if imp.Type != api.ExternTypeGlobal {
				continue
			}
			if n == idx {
				return imp.DescGlobal, nil
			}
			n++
		}
	}
	local := idx - importedGlobals
	if int(local) >= len(m.GlobalSection) {
		return wasm.GlobalType{}, fmt.Errorf("global index %d out of range", idx)
	}
	return m.GlobalSection[local].Type, nil
}
