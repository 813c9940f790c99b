// Package interpreter executes a decoded function body's flattened
// instruction stream directly: no further lowering, no JIT, a plain
// operand-stack machine with one Go call per Wasm call. It implements
// internal/link.Engine so internal/link can invoke a module's start
// function, and is the engine the runtime package drives at the embedder
// boundary.
package interpreter

import (
	"math"
	"math/bits"

	"github.com/wasmatix/corewasm/api"
	"github.com/wasmatix/corewasm/internal/instruction"
	"github.com/wasmatix/corewasm/internal/moremath"
	"github.com/wasmatix/corewasm/internal/trap"
	"github.com/wasmatix/corewasm/internal/wasm"
)

// maxCallDepth bounds recursive Wasm-to-Wasm calls, mirroring the teacher's
// callStackCeiling: Go's own goroutine stack would eventually overflow first
// on a misbehaving infinitely-recursive module, but this turns that into a
// catchable Trap well before the runtime panics uncatchably.
const maxCallDepth = 3000

// Interpreter is a stateless internal/wasm.Store executor satisfying
// internal/link.Engine. It carries no fields: all per-call state lives in
// the executor value run() constructs, so one Interpreter is safe to share
// across concurrent calls into the same or different Stores.
type Interpreter struct{}

// New returns a ready-to-use Interpreter.
func New() *Interpreter { return &Interpreter{} }

// Call invokes fn with args against store, recovering any trap (or
// unexpected panic) raised during execution into a returned error.
func (in *Interpreter) Call(store *wasm.Store, fn *wasm.FunctionInstance, args []uint64) (results []uint64, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = trap.Recover(v, debugName(fn))
		}
	}()
	return invoke(store, fn, args, 0)
}

func debugName(fn *wasm.FunctionInstance) string {
	if fn.DebugName != "" {
		return fn.DebugName
	}
	return "<function>"
}

// invoke dispatches to a host call or a fresh executor, tracking recursion
// depth across nested Wasm-to-Wasm calls for the call-stack-overflow trap.
func invoke(store *wasm.Store, fn *wasm.FunctionInstance, args []uint64, depth int) ([]uint64, error) {
	if depth > maxCallDepth {
		trap.Throw(trap.CallStackOverflow)
	}
	if !fn.IsInternal() {
		return fn.Host.Invoke(args)
	}

	locals := make([]uint64, len(fn.Type.Params)+len(fn.LocalTypes))
	copy(locals, args)

	ex := &executor{store: store, fn: fn, locals: locals, depth: depth}
	return ex.run()
}

// executor holds the mutable state of one function activation: its operand
// stack, its locals (params followed by declared locals), and the depth
// counter threaded through nested calls.
type executor struct {
	store  *wasm.Store
	fn     *wasm.FunctionInstance
	locals []uint64
	stack  []uint64
	depth  int
}

func (ex *executor) push(v uint64) { ex.stack = append(ex.stack, v) }

func (ex *executor) pop() uint64 {
	n := len(ex.stack) - 1
	v := ex.stack[n]
	ex.stack = ex.stack[:n]
	return v
}

func (ex *executor) popN(n int) []uint64 {
	out := make([]uint64, n)
	copy(out, ex.stack[len(ex.stack)-n:])
	ex.stack = ex.stack[:len(ex.stack)-n]
	return out
}

func (ex *executor) module() *wasm.InternalModule {
	return ex.store.Modules[ex.fn.ModuleInstanceIndex]
}

func (ex *executor) memory() *wasm.MemoryInstance {
	m := ex.module()
	if len(m.MemoryIndices) == 0 {
		return nil
	}
	return ex.store.Memories[m.MemoryIndices[0]]
}

func (ex *executor) table() *wasm.TableInstance {
	m := ex.module()
	if len(m.TableIndices) == 0 {
		return nil
	}
	return ex.store.Tables[m.TableIndices[0]]
}

func (ex *executor) global(localIdx uint64) *wasm.GlobalInstance {
	m := ex.module()
	return ex.store.Globals[m.GlobalIndices[localIdx]]
}

// adjustForBranch discards popValues operands from beneath the top arity
// values, the stack-height fixup every taken branch applies before jumping,
// per the PopValues the decoder precomputed for this branch.
func (ex *executor) adjustForBranch(arity, popValues uint32) {
	if popValues == 0 {
		return
	}
	top := ex.popN(int(arity))
	ex.stack = ex.stack[:len(ex.stack)-int(popValues)]
	ex.stack = append(ex.stack, top...)
}

func (ex *executor) branch(in *instruction.Instruction) int {
	arity, popValues := instructionArityPop(in)
	ex.adjustForBranch(arity, popValues)
	return int(in.U1)
}

// instructionArityPop unpacks the (arity, popValues) pair a Br/BrIf
// instruction carries in U2, packed by the decoder's packArityPop.
func instructionArityPop(in *instruction.Instruction) (arity, popValues uint32) {
	return uint32(in.U2 >> 32), uint32(in.U2)
}

// run executes ex.fn's body to completion and returns its result values,
// read off the top of the operand stack in declaration order.
func (ex *executor) run() ([]uint64, error) {
	body := ex.fn.Body
	pc := 0
	for {
		in := &body[pc]
		switch in.Kind {
		case instruction.KindUnreachable:
			trap.Throw(trap.Unreachable)
		case instruction.KindNop, instruction.KindLabel:
		case instruction.KindEnd:
			return ex.results(), nil
		case instruction.KindBr:
			pc = ex.branch(in)
			continue
		case instruction.KindBrIf:
			cond := ex.pop()
			if cond != 0 {
				pc = ex.branch(in)
				continue
			}
		case instruction.KindBrIfZero:
			cond := ex.pop()
			if cond == 0 {
				pc = int(in.U1)
				continue
			}
		case instruction.KindBrTable:
			idx := ex.pop()
			n := uint64(len(in.BrTable) - 1)
			if idx > n {
				idx = n
			}
			target := in.BrTable[idx]
			ex.adjustForBranch(target.Arity, target.PopValues)
			pc = int(target.Target)
			continue
		case instruction.KindReturn:
			return ex.results(), nil
		case instruction.KindCall:
			ex.execCall(wasm.Index(in.U1))
		case instruction.KindCallIndirect:
			ex.execCallIndirect(wasm.Index(in.U1))
		case instruction.KindDrop:
			ex.pop()
		case instruction.KindSelect:
			cond := ex.pop()
			v2 := ex.pop()
			v1 := ex.pop()
			if cond != 0 {
				ex.push(v1)
			} else {
				ex.push(v2)
			}
		case instruction.KindLocalGet:
			ex.push(ex.locals[in.U1])
		case instruction.KindLocalSet:
			ex.locals[in.U1] = ex.pop()
		case instruction.KindLocalTee:
			ex.locals[in.U1] = ex.stack[len(ex.stack)-1]
		case instruction.KindGlobalGet:
			ex.push(ex.global(in.U1).Value)
		case instruction.KindGlobalSet:
			ex.global(in.U1).Value = ex.pop()
		case instruction.KindLoad, instruction.KindLoad8, instruction.KindLoad16, instruction.KindLoad32:
			ex.execLoad(in)
		case instruction.KindStore, instruction.KindStore8, instruction.KindStore16, instruction.KindStore32:
			ex.execStore(in)
		case instruction.KindMemorySize:
			ex.push(uint64(ex.memory().PageCount()))
		case instruction.KindMemoryGrow:
			delta := uint32(ex.pop())
			prev, ok := ex.memory().Grow(delta)
			if !ok {
				ex.push(uint64(uint32(0xffffffff)))
			} else {
				ex.push(uint64(prev))
			}
		case instruction.KindConstI32, instruction.KindConstI64:
			ex.push(in.U1)
		case instruction.KindConstF32:
			ex.push(api.EncodeF32(in.F32))
		case instruction.KindConstF64:
			ex.push(api.EncodeF64(in.F64))
		case instruction.KindEqz:
			v := ex.pop()
			if in.Type == instruction.TypeI64 {
				ex.pushBool(v == 0)
			} else {
				ex.pushBool(uint32(v) == 0)
			}
		case instruction.KindEq, instruction.KindNe, instruction.KindLt, instruction.KindGt, instruction.KindLe, instruction.KindGe:
			ex.execCompare(in)
		case instruction.KindAdd, instruction.KindSub, instruction.KindMul, instruction.KindDiv, instruction.KindRem,
			instruction.KindAnd, instruction.KindOr, instruction.KindXor, instruction.KindShl, instruction.KindShr,
			instruction.KindRotl, instruction.KindRotr, instruction.KindMin, instruction.KindMax, instruction.KindCopysign:
			ex.execBinOp(in)
		case instruction.KindClz, instruction.KindCtz, instruction.KindPopcnt, instruction.KindAbs, instruction.KindNeg,
			instruction.KindCeil, instruction.KindFloor, instruction.KindTrunc, instruction.KindNearest, instruction.KindSqrt:
			ex.execUnaryOp(in)
		case instruction.KindI32WrapI64:
			ex.push(uint64(uint32(ex.pop())))
		case instruction.KindExtend:
			v := ex.pop()
			if in.Sign == instruction.Signed {
				ex.push(uint64(int64(int32(uint32(v)))))
			} else {
				ex.push(uint64(uint32(v)))
			}
		case instruction.KindSignExtend:
			ex.execSignExtend(in)
		case instruction.KindITruncFromF:
			ex.execTrunc(in)
		case instruction.KindFConvertFromI:
			ex.execConvert(in)
		case instruction.KindF32DemoteF64:
			ex.push(api.EncodeF32(float32(api.DecodeF64(ex.pop()))))
		case instruction.KindF64PromoteF32:
			ex.push(api.EncodeF64(float64(api.DecodeF32(ex.pop()))))
		case instruction.KindReinterpret:
			// The operand stack already carries every value as raw bits, so
			// reinterpretation between same-width types is a pure no-op.
		}
		pc++
	}
}

func (ex *executor) results() []uint64 {
	n := len(ex.fn.Type.Results)
	if n == 0 {
		return nil
	}
	return ex.popN(n)
}

func (ex *executor) pushBool(b bool) {
	if b {
		ex.push(1)
	} else {
		ex.push(0)
	}
}

func (ex *executor) execCall(localIdx wasm.Index) {
	storeIdx := ex.module().FunctionIndices[localIdx]
	callee := ex.store.Functions[storeIdx]
	args := ex.popN(len(callee.Type.Params))
	results, err := invoke(ex.store, callee, args, ex.depth+1)
	if err != nil {
		panic(err)
	}
	for _, r := range results {
		ex.push(r)
	}
}

func (ex *executor) execCallIndirect(typeIdx wasm.Index) {
	tableIdx := uint32(ex.pop())
	table := ex.table()
	if table == nil || tableIdx >= uint32(len(table.Elements)) {
		trap.Throw(trap.UndefinedElement)
	}
	storeIdx := table.Elements[tableIdx]
	if storeIdx == wasm.NullFuncIndex {
		trap.Throw(trap.UninitializedElement)
	}
	callee := ex.store.Functions[storeIdx]
	want := ex.module().Types[typeIdx]
	if !callee.Type.EqualsSignature(want.Params, want.Results) {
		trap.Throw(trap.IndirectCallTypeMismatch)
	}
	args := ex.popN(len(callee.Type.Params))
	results, err := invoke(ex.store, callee, args, ex.depth+1)
	if err != nil {
		panic(err)
	}
	for _, r := range results {
		ex.push(r)
	}
}

func (ex *executor) execLoad(in *instruction.Instruction) {
	offset := uint32(in.U2)
	addr := uint32(ex.pop())
	mem := ex.memory()
	ea := uint64(addr) + uint64(offset)

	readN := func(n uint64) []byte {
		if ea+n > uint64(len(mem.Buffer)) {
			trap.Throw(trap.OutOfBoundsMemoryAccess)
		}
		return mem.Buffer[ea : ea+n]
	}

	switch in.Kind {
	case instruction.KindLoad:
		switch in.Type {
		case instruction.TypeI32:
			ex.push(uint64(leUint32(readN(4))))
		case instruction.TypeI64:
			ex.push(leUint64(readN(8)))
		case instruction.TypeF32:
			ex.push(uint64(leUint32(readN(4))))
		case instruction.TypeF64:
			ex.push(leUint64(readN(8)))
		}
	case instruction.KindLoad8:
		b := readN(1)[0]
		if in.Sign == instruction.Signed {
			v := int64(int8(b))
			if in.Type == instruction.TypeI32 {
				ex.push(uint64(uint32(int32(v))))
			} else {
				ex.push(uint64(v))
			}
		} else {
			ex.push(uint64(b))
		}
	case instruction.KindLoad16:
		v16 := leUint16(readN(2))
		if in.Sign == instruction.Signed {
			v := int64(int16(v16))
			if in.Type == instruction.TypeI32 {
				ex.push(uint64(uint32(int32(v))))
			} else {
				ex.push(uint64(v))
			}
		} else {
			ex.push(uint64(v16))
		}
	case instruction.KindLoad32:
		v32 := leUint32(readN(4))
		if in.Sign == instruction.Signed {
			ex.push(uint64(int64(int32(v32))))
		} else {
			ex.push(uint64(v32))
		}
	}
}

func (ex *executor) execStore(in *instruction.Instruction) {
	offset := uint32(in.U2)
	value := ex.pop()
	addr := uint32(ex.pop())
	mem := ex.memory()
	ea := uint64(addr) + uint64(offset)

	writeN := func(n uint64) []byte {
		if ea+n > uint64(len(mem.Buffer)) {
			trap.Throw(trap.OutOfBoundsMemoryAccess)
		}
		return mem.Buffer[ea : ea+n]
	}

	switch in.Kind {
	case instruction.KindStore:
		switch in.Type {
		case instruction.TypeI32, instruction.TypeF32:
			putUint32(writeN(4), uint32(value))
		case instruction.TypeI64, instruction.TypeF64:
			putUint64(writeN(8), value)
		}
	case instruction.KindStore8:
		writeN(1)[0] = byte(value)
	case instruction.KindStore16:
		putUint16(writeN(2), uint16(value))
	case instruction.KindStore32:
		putUint32(writeN(4), uint32(value))
	}
}

func (ex *executor) execCompare(in *instruction.Instruction) {
	b := ex.pop()
	a := ex.pop()
	switch in.Type {
	case instruction.TypeI32:
		if in.Sign == instruction.Signed {
			ex.pushBool(cmpOp(in.Kind, int64(int32(uint32(a))), int64(int32(uint32(b)))))
		} else {
			ex.pushBool(cmpOp(in.Kind, uint32(a), uint32(b)))
		}
	case instruction.TypeI64:
		if in.Sign == instruction.Signed {
			ex.pushBool(cmpOp(in.Kind, int64(a), int64(b)))
		} else {
			ex.pushBool(cmpOp(in.Kind, a, b))
		}
	case instruction.TypeF32:
		ex.pushBool(cmpOp(in.Kind, api.DecodeF32(a), api.DecodeF32(b)))
	case instruction.TypeF64:
		ex.pushBool(cmpOp(in.Kind, api.DecodeF64(a), api.DecodeF64(b)))
	}
}

// cmpOp implements Eq/Ne/Lt/Gt/Le/Ge over any ordered Go numeric type. Float
// comparisons against NaN correctly fall through every branch to false,
// which is exactly Wasm's required behavior (NaN is never ==, <, >, etc.
// even to itself) since Go's own <,>,== on floats already follow IEEE-754.
func cmpOp[T int32 | uint32 | int64 | uint64 | float32 | float64](kind instruction.Kind, a, b T) bool {
	switch kind {
	case instruction.KindEq:
		return a == b
	case instruction.KindNe:
		return a != b
	case instruction.KindLt:
		return a < b
	case instruction.KindGt:
		return a > b
	case instruction.KindLe:
		return a <= b
	default: // KindGe
		return a >= b
	}
}

func (ex *executor) execBinOp(in *instruction.Instruction) {
	b := ex.pop()
	a := ex.pop()
	switch in.Type {
	case instruction.TypeI32:
		ex.push(uint64(intBinOp32(in, uint32(a), uint32(b))))
	case instruction.TypeI64:
		ex.push(intBinOp64(in, a, b))
	case instruction.TypeF32:
		ex.push(api.EncodeF32(floatBinOp(in, api.DecodeF32(a), api.DecodeF32(b))))
	case instruction.TypeF64:
		ex.push(api.EncodeF64(floatBinOp(in, api.DecodeF64(a), api.DecodeF64(b))))
	}
}

func intBinOp32(in *instruction.Instruction, a, b uint32) uint32 {
	switch in.Kind {
	case instruction.KindAdd:
		return a + b
	case instruction.KindSub:
		return a - b
	case instruction.KindMul:
		return a * b
	case instruction.KindDiv:
		if b == 0 {
			trap.Throw(trap.IntegerDivideByZero)
		}
		if in.Sign == instruction.Signed {
			sa, sb := int32(a), int32(b)
			if sa == math.MinInt32 && sb == -1 {
				trap.Throw(trap.IntegerOverflow)
			}
			return uint32(sa / sb)
		}
		return a / b
	case instruction.KindRem:
		if b == 0 {
			trap.Throw(trap.IntegerDivideByZero)
		}
		if in.Sign == instruction.Signed {
			sa, sb := int32(a), int32(b)
			if sa == math.MinInt32 && sb == -1 {
				return 0
			}
			return uint32(sa % sb)
		}
		return a % b
	case instruction.KindAnd:
		return a & b
	case instruction.KindOr:
		return a | b
	case instruction.KindXor:
		return a ^ b
	case instruction.KindShl:
		return a << (b % 32)
	case instruction.KindShr:
		if in.Sign == instruction.Signed {
			return uint32(int32(a) >> (b % 32))
		}
		return a >> (b % 32)
	case instruction.KindRotl:
		return bits.RotateLeft32(a, int(b%32))
	case instruction.KindRotr:
		return bits.RotateLeft32(a, -int(b%32))
	}
	panic("unreachable binop32")
}

func intBinOp64(in *instruction.Instruction, a, b uint64) uint64 {
	switch in.Kind {
	case instruction.KindAdd:
		return a + b
	case instruction.KindSub:
		return a - b
	case instruction.KindMul:
		return a * b
	case instruction.KindDiv:
		if b == 0 {
			trap.Throw(trap.IntegerDivideByZero)
		}
		if in.Sign == instruction.Signed {
			sa, sb := int64(a), int64(b)
			if sa == math.MinInt64 && sb == -1 {
				trap.Throw(trap.IntegerOverflow)
			}
			return uint64(sa / sb)
		}
		return a / b
	case instruction.KindRem:
		if b == 0 {
			trap.Throw(trap.IntegerDivideByZero)
		}
		if in.Sign == instruction.Signed {
			sa, sb := int64(a), int64(b)
			if sa == math.MinInt64 && sb == -1 {
				return 0
			}
			return uint64(sa % sb)
		}
		return a % b
	case instruction.KindAnd:
		return a & b
	case instruction.KindOr:
		return a | b
	case instruction.KindXor:
		return a ^ b
	case instruction.KindShl:
		return a << (b % 64)
	case instruction.KindShr:
		if in.Sign == instruction.Signed {
			return uint64(int64(a) >> (b % 64))
		}
		return a >> (b % 64)
	case instruction.KindRotl:
		return bits.RotateLeft64(a, int(b%64))
	case instruction.KindRotr:
		return bits.RotateLeft64(a, -int(b%64))
	}
	panic("unreachable binop64")
}

func floatBinOp[T float32 | float64](in *instruction.Instruction, a, b T) T {
	switch in.Kind {
	case instruction.KindAdd:
		return a + b
	case instruction.KindSub:
		return a - b
	case instruction.KindMul:
		return a * b
	case instruction.KindDiv:
		return a / b
	case instruction.KindMin:
		return T(moremath.WasmCompatMin(float64(a), float64(b)))
	case instruction.KindMax:
		return T(moremath.WasmCompatMax(float64(a), float64(b)))
	case instruction.KindCopysign:
		return T(math.Copysign(float64(a), float64(b)))
	}
	panic("unreachable float binop")
}

func (ex *executor) execUnaryOp(in *instruction.Instruction) {
	v := ex.pop()
	switch in.Type {
	case instruction.TypeI32:
		ex.push(uint64(intUnaryOp32(in, uint32(v))))
	case instruction.TypeI64:
		ex.push(intUnaryOp64(in, v))
	case instruction.TypeF32:
		ex.push(api.EncodeF32(floatUnaryOp(in, api.DecodeF32(v))))
	case instruction.TypeF64:
		ex.push(api.EncodeF64(floatUnaryOp(in, api.DecodeF64(v))))
	}
}

func intUnaryOp32(in *instruction.Instruction, v uint32) uint32 {
	switch in.Kind {
	case instruction.KindClz:
		return uint32(bits.LeadingZeros32(v))
	case instruction.KindCtz:
		return uint32(bits.TrailingZeros32(v))
	case instruction.KindPopcnt:
		return uint32(bits.OnesCount32(v))
	}
	panic("unreachable unaryop32")
}

func intUnaryOp64(in *instruction.Instruction, v uint64) uint64 {
	switch in.Kind {
	case instruction.KindClz:
		return uint64(bits.LeadingZeros64(v))
	case instruction.KindCtz:
		return uint64(bits.TrailingZeros64(v))
	case instruction.KindPopcnt:
		return uint64(bits.OnesCount64(v))
	}
	panic("unreachable unaryop64")
}

func floatUnaryOp[T float32 | float64](in *instruction.Instruction, v T) T {
	switch in.Kind {
	case instruction.KindAbs:
		return T(math.Abs(float64(v)))
	case instruction.KindNeg:
		return -v
	case instruction.KindCeil:
		return T(math.Ceil(float64(v)))
	case instruction.KindFloor:
		return T(math.Floor(float64(v)))
	case instruction.KindTrunc:
		return T(math.Trunc(float64(v)))
	case instruction.KindSqrt:
		return T(math.Sqrt(float64(v)))
	case instruction.KindNearest:
		switch any(v).(type) {
		case float32:
			return T(moremath.WasmCompatNearestF32(float32(v)))
		default:
			return T(moremath.WasmCompatNearestF64(float64(v)))
		}
	}
	panic("unreachable float unaryop")
}

func (ex *executor) execSignExtend(in *instruction.Instruction) {
	v := ex.pop()
	switch in.U1 {
	case 8:
		s := int64(int8(v))
		if in.Type == instruction.TypeI32 {
			ex.push(uint64(uint32(int32(s))))
		} else {
			ex.push(uint64(s))
		}
	case 16:
		s := int64(int16(v))
		if in.Type == instruction.TypeI32 {
			ex.push(uint64(uint32(int32(s))))
		} else {
			ex.push(uint64(s))
		}
	case 32:
		ex.push(uint64(int64(int32(v))))
	}
}

// execTrunc implements the i32/i64.trunc_f32/f64_s/u family: truncate
// toward zero, trapping on NaN (invalid conversion) or a magnitude that
// doesn't fit the target integer type (overflow), exactly as the Wasm spec
// requires (unlike a plain Go float-to-int conversion, which silently
// wraps).
func (ex *executor) execTrunc(in *instruction.Instruction) {
	v := ex.pop()
	var f float64
	if instruction.NumType(in.U2) == instruction.TypeF32 {
		f = float64(api.DecodeF32(v))
	} else {
		f = api.DecodeF64(v)
	}
	if math.IsNaN(f) {
		trap.Throw(trap.InvalidConversionToInteger)
	}
	truncated := math.Trunc(f)

	switch {
	case in.Type == instruction.TypeI32 && in.Sign == instruction.Signed:
		if truncated < -2147483648 || truncated >= 2147483648 {
			trap.Throw(trap.IntegerOverflow)
		}
		ex.push(uint64(uint32(int32(truncated))))
	case in.Type == instruction.TypeI32 && in.Sign == instruction.Unsigned:
		if truncated < 0 || truncated >= 4294967296 {
			trap.Throw(trap.IntegerOverflow)
		}
		ex.push(uint64(uint32(truncated)))
	case in.Type == instruction.TypeI64 && in.Sign == instruction.Signed:
		if truncated < -9223372036854775808 || truncated >= 9223372036854775808 {
			trap.Throw(trap.IntegerOverflow)
		}
		ex.push(uint64(int64(truncated)))
	default: // I64, Unsigned
		if truncated < 0 || truncated >= 18446744073709551616 {
			trap.Throw(trap.IntegerOverflow)
		}
		ex.push(uint64(truncated))
	}
}

// execConvert implements the f32/f64.convert_i32/i64_s/u family: integers
// the target float cannot hold exactly are rounded to the nearest
// representable value; never traps.
func (ex *executor) execConvert(in *instruction.Instruction) {
	v := ex.pop()
	from := instruction.NumType(in.U2)

	var f float64
	switch {
	case from == instruction.TypeI32 && in.Sign == instruction.Signed:
		f = float64(int32(uint32(v)))
	case from == instruction.TypeI32 && in.Sign == instruction.Unsigned:
		f = float64(uint32(v))
	case from == instruction.TypeI64 && in.Sign == instruction.Signed:
		f = float64(int64(v))
	default: // I64, Unsigned
		f = float64(v)
	}

	if in.Type == instruction.TypeF32 {
		ex.push(api.EncodeF32(float32(f)))
	} else {
		ex.push(api.EncodeF64(f))
	}
}

func leUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func leUint64(b []byte) uint64 {
	return uint64(leUint32(b)) | uint64(leUint32(b[4:]))<<32
}
func putUint16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putUint32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}
func putUint64(b []byte, v uint64) {
	putUint32(b, uint32(v))
	putUint32(b[4:], uint32(v>>32))
}
