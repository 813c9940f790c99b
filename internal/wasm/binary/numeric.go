package binary

import (
	"github.com/wasmatix/corewasm/internal/instruction"
	"github.com/wasmatix/corewasm/internal/wasm"
)

// memarg decodes a load/store instruction's (align, offset) immediate pair,
// packing both into one uint64 (offset is the value that actually matters at
// runtime; align is retained only for round-tripping/diagnostics since this
// interpreter does not special-case aligned accesses).
func (d *funcDecoder) memarg(r *reader) (packed uint64, err error) {
	align, err := r.u32()
	if err != nil {
		return 0, err
	}
	offset, err := r.u32()
	if err != nil {
		return 0, err
	}
	return uint64(align)<<32 | uint64(offset), nil
}

// decodeMemOrNumeric handles every opcode byte not already special-cased in
// decodeInstructions: memory loads/stores and the numeric instruction set.
// Each case mirrors one row of the Core 1.0 opcode table; Type/Sign fields
// let the interpreter share one case body across the four numeric types the
// way the teacher's callEngine does via its op.b1 byte.
func (d *funcDecoder) decodeMemOrNumeric(r *reader, op byte, off int) error {
	switch op {
	case opI32Load:
		return d.load(r, instruction.TypeI32)
	case opI64Load:
		return d.load(r, instruction.TypeI64)
	case opF32Load:
		return d.load(r, instruction.TypeF32)
	case opF64Load:
		return d.load(r, instruction.TypeF64)
	case opI32Load8S:
		return d.loadN(r, instruction.KindLoad8, instruction.TypeI32, instruction.Signed)
	case opI32Load8U:
		return d.loadN(r, instruction.KindLoad8, instruction.TypeI32, instruction.Unsigned)
	case opI32Load16S:
		return d.loadN(r, instruction.KindLoad16, instruction.TypeI32, instruction.Signed)
	case opI32Load16U:
		return d.loadN(r, instruction.KindLoad16, instruction.TypeI32, instruction.Unsigned)
	case opI64Load8S:
		return d.loadN(r, instruction.KindLoad8, instruction.TypeI64, instruction.Signed)
	case opI64Load8U:
		return d.loadN(r, instruction.KindLoad8, instruction.TypeI64, instruction.Unsigned)
	case opI64Load16S:
		return d.loadN(r, instruction.KindLoad16, instruction.TypeI64, instruction.Signed)
	case opI64Load16U:
		return d.loadN(r, instruction.KindLoad16, instruction.TypeI64, instruction.Unsigned)
	case opI64Load32S:
		return d.loadN(r, instruction.KindLoad32, instruction.TypeI64, instruction.Signed)
	case opI64Load32U:
		return d.loadN(r, instruction.KindLoad32, instruction.TypeI64, instruction.Unsigned)
	case opI32Store:
		return d.store(r, instruction.KindStore, instruction.TypeI32)
	case opI64Store:
		return d.store(r, instruction.KindStore, instruction.TypeI64)
	case opF32Store:
		return d.store(r, instruction.KindStore, instruction.TypeF32)
	case opF64Store:
		return d.store(r, instruction.KindStore, instruction.TypeF64)
	case opI32Store8:
		return d.store(r, instruction.KindStore8, instruction.TypeI32)
	case opI32Store16:
		return d.store(r, instruction.KindStore16, instruction.TypeI32)
	case opI64Store8:
		return d.store(r, instruction.KindStore8, instruction.TypeI64)
	case opI64Store16:
		return d.store(r, instruction.KindStore16, instruction.TypeI64)
	case opI64Store32:
		return d.store(r, instruction.KindStore32, instruction.TypeI64)

	case opI32Eqz:
		d.unary()
		d.emit(instruction.Instruction{Kind: instruction.KindEqz, Type: instruction.TypeI32})
	case opI64Eqz:
		d.unary()
		d.emit(instruction.Instruction{Kind: instruction.KindEqz, Type: instruction.TypeI64})

	case opI32Eq:
		d.cmp(instruction.KindEq, instruction.TypeI32, instruction.Unsigned)
	case opI32Ne:
		d.cmp(instruction.KindNe, instruction.TypeI32, instruction.Unsigned)
	case opI32LtS:
		d.cmp(instruction.KindLt, instruction.TypeI32, instruction.Signed)
	case opI32LtU:
		d.cmp(instruction.KindLt, instruction.TypeI32, instruction.Unsigned)
	case opI32GtS:
		d.cmp(instruction.KindGt, instruction.TypeI32, instruction.Signed)
	case opI32GtU:
		d.cmp(instruction.KindGt, instruction.TypeI32, instruction.Unsigned)
	case opI32LeS:
		d.cmp(instruction.KindLe, instruction.TypeI32, instruction.Signed)
	case opI32LeU:
		d.cmp(instruction.KindLe, instruction.TypeI32, instruction.Unsigned)
	case opI32GeS:
		d.cmp(instruction.KindGe, instruction.TypeI32, instruction.Signed)
	case opI32GeU:
		d.cmp(instruction.KindGe, instruction.TypeI32, instruction.Unsigned)

	case opI64Eq:
		d.cmp(instruction.KindEq, instruction.TypeI64, instruction.Unsigned)
	case opI64Ne:
		d.cmp(instruction.KindNe, instruction.TypeI64, instruction.Unsigned)
	case opI64LtS:
		d.cmp(instruction.KindLt, instruction.TypeI64, instruction.Signed)
	case opI64LtU:
		d.cmp(instruction.KindLt, instruction.TypeI64, instruction.Unsigned)
	case opI64GtS:
		d.cmp(instruction.KindGt, instruction.TypeI64, instruction.Signed)
	case opI64GtU:
		d.cmp(instruction.KindGt, instruction.TypeI64, instruction.Unsigned)
	case opI64LeS:
		d.cmp(instruction.KindLe, instruction.TypeI64, instruction.Signed)
	case opI64LeU:
		d.cmp(instruction.KindLe, instruction.TypeI64, instruction.Unsigned)
	case opI64GeS:
		d.cmp(instruction.KindGe, instruction.TypeI64, instruction.Signed)
	case opI64GeU:
		d.cmp(instruction.KindGe, instruction.TypeI64, instruction.Unsigned)

	case opF32Eq:
		d.cmp(instruction.KindEq, instruction.TypeF32, instruction.Unsigned)
	case opF32Ne:
		d.cmp(instruction.KindNe, instruction.TypeF32, instruction.Unsigned)
	case opF32Lt:
		d.cmp(instruction.KindLt, instruction.TypeF32, instruction.Unsigned)
	case opF32Gt:
		d.cmp(instruction.KindGt, instruction.TypeF32, instruction.Unsigned)
	case opF32Le:
		d.cmp(instruction.KindLe, instruction.TypeF32, instruction.Unsigned)
	case opF32Ge:
		d.cmp(instruction.KindGe, instruction.TypeF32, instruction.Unsigned)

	case opF64Eq:
		d.cmp(instruction.KindEq, instruction.TypeF64, instruction.Unsigned)
	case opF64Ne:
		d.cmp(instruction.KindNe, instruction.TypeF64, instruction.Unsigned)
	case opF64Lt:
		d.cmp(instruction.KindLt, instruction.TypeF64, instruction.Unsigned)
	case opF64Gt:
		d.cmp(instruction.KindGt, instruction.TypeF64, instruction.Unsigned)
	case opF64Le:
		d.cmp(instruction.KindLe, instruction.TypeF64, instruction.Unsigned)
	case opF64Ge:
		d.cmp(instruction.KindGe, instruction.TypeF64, instruction.Unsigned)

	case opI32Clz:
		d.unaryOp(instruction.KindClz, instruction.TypeI32)
	case opI32Ctz:
		d.unaryOp(instruction.KindCtz, instruction.TypeI32)
	case opI32Popcnt:
		d.unaryOp(instruction.KindPopcnt, instruction.TypeI32)
	case opI64Clz:
		d.unaryOp(instruction.KindClz, instruction.TypeI64)
	case opI64Ctz:
		d.unaryOp(instruction.KindCtz, instruction.TypeI64)
	case opI64Popcnt:
		d.unaryOp(instruction.KindPopcnt, instruction.TypeI64)

	case opI32Add:
		d.binOp(instruction.KindAdd, instruction.TypeI32, instruction.Unsigned)
	case opI32Sub:
		d.binOp(instruction.KindSub, instruction.TypeI32, instruction.Unsigned)
	case opI32Mul:
		d.binOp(instruction.KindMul, instruction.TypeI32, instruction.Unsigned)
	case opI32DivS:
		d.binOp(instruction.KindDiv, instruction.TypeI32, instruction.Signed)
	case opI32DivU:
		d.binOp(instruction.KindDiv, instruction.TypeI32, instruction.Unsigned)
	case opI32RemS:
		d.binOp(instruction.KindRem, instruction.TypeI32, instruction.Signed)
	case opI32RemU:
		d.binOp(instruction.KindRem, instruction.TypeI32, instruction.Unsigned)
	case opI32And:
		d.binOp(instruction.KindAnd, instruction.TypeI32, instruction.Unsigned)
	case opI32Or:
		d.binOp(instruction.KindOr, instruction.TypeI32, instruction.Unsigned)
	case opI32Xor:
		d.binOp(instruction.KindXor, instruction.TypeI32, instruction.Unsigned)
	case opI32Shl:
		d.binOp(instruction.KindShl, instruction.TypeI32, instruction.Unsigned)
	case opI32ShrS:
		d.binOp(instruction.KindShr, instruction.TypeI32, instruction.Signed)
	case opI32ShrU:
		d.binOp(instruction.KindShr, instruction.TypeI32, instruction.Unsigned)
	case opI32Rotl:
		d.binOp(instruction.KindRotl, instruction.TypeI32, instruction.Unsigned)
	case opI32Rotr:
		d.binOp(instruction.KindRotr, instruction.TypeI32, instruction.Unsigned)

	case opI64Add:
		d.binOp(instruction.KindAdd, instruction.TypeI64, instruction.Unsigned)
	case opI64Sub:
		d.binOp(instruction.KindSub, instruction.TypeI64, instruction.Unsigned)
	case opI64Mul:
		d.binOp(instruction.KindMul, instruction.TypeI64, instruction.Unsigned)
	case opI64DivS:
		d.binOp(instruction.KindDiv, instruction.TypeI64, instruction.Signed)
	case opI64DivU:
		d.binOp(instruction.KindDiv, instruction.TypeI64, instruction.Unsigned)
	case opI64RemS:
		d.binOp(instruction.KindRem, instruction.TypeI64, instruction.Signed)
	case opI64RemU:
		d.binOp(instruction.KindRem, instruction.TypeI64, instruction.Unsigned)
	case opI64And:
		d.binOp(instruction.KindAnd, instruction.TypeI64, instruction.Unsigned)
	case opI64Or:
		d.binOp(instruction.KindOr, instruction.TypeI64, instruction.Unsigned)
	case opI64Xor:
		d.binOp(instruction.KindXor, instruction.TypeI64, instruction.Unsigned)
	case opI64Shl:
		d.binOp(instruction.KindShl, instruction.TypeI64, instruction.Unsigned)
	case opI64ShrS:
		d.binOp(instruction.KindShr, instruction.TypeI64, instruction.Signed)
	case opI64ShrU:
		d.binOp(instruction.KindShr, instruction.TypeI64, instruction.Unsigned)
	case opI64Rotl:
		d.binOp(instruction.KindRotl, instruction.TypeI64, instruction.Unsigned)
	case opI64Rotr:
		d.binOp(instruction.KindRotr, instruction.TypeI64, instruction.Unsigned)

	case opF32Abs:
		d.unaryOp(instruction.KindAbs, instruction.TypeF32)
	case opF32Neg:
		d.unaryOp(instruction.KindNeg, instruction.TypeF32)
	case opF32Ceil:
		d.unaryOp(instruction.KindCeil, instruction.TypeF32)
	case opF32Floor:
		d.unaryOp(instruction.KindFloor, instruction.TypeF32)
	case opF32Trunc:
		d.unaryOp(instruction.KindTrunc, instruction.TypeF32)
	case opF32Nearest:
		d.unaryOp(instruction.KindNearest, instruction.TypeF32)
	case opF32Sqrt:
		d.unaryOp(instruction.KindSqrt, instruction.TypeF32)
	case opF32Add:
		d.binOp(instruction.KindAdd, instruction.TypeF32, instruction.Unsigned)
	case opF32Sub:
		d.binOp(instruction.KindSub, instruction.TypeF32, instruction.Unsigned)
	case opF32Mul:
		d.binOp(instruction.KindMul, instruction.TypeF32, instruction.Unsigned)
	case opF32Div:
		d.binOp(instruction.KindDiv, instruction.TypeF32, instruction.Unsigned)
	case opF32Min:
		d.binOp(instruction.KindMin, instruction.TypeF32, instruction.Unsigned)
	case opF32Max:
		d.binOp(instruction.KindMax, instruction.TypeF32, instruction.Unsigned)
	case opF32Copysign:
		d.binOp(instruction.KindCopysign, instruction.TypeF32, instruction.Unsigned)

	case opF64Abs:
		d.unaryOp(instruction.KindAbs, instruction.TypeF64)
	case opF64Neg:
		d.unaryOp(instruction.KindNeg, instruction.TypeF64)
	case opF64Ceil:
		d.unaryOp(instruction.KindCeil, instruction.TypeF64)
	case opF64Floor:
		d.unaryOp(instruction.KindFloor, instruction.TypeF64)
	case opF64Trunc:
		d.unaryOp(instruction.KindTrunc, instruction.TypeF64)
	case opF64Nearest:
		d.unaryOp(instruction.KindNearest, instruction.TypeF64)
	case opF64Sqrt:
		d.unaryOp(instruction.KindSqrt, instruction.TypeF64)
	case opF64Add:
		d.binOp(instruction.KindAdd, instruction.TypeF64, instruction.Unsigned)
	case opF64Sub:
		d.binOp(instruction.KindSub, instruction.TypeF64, instruction.Unsigned)
	case opF64Mul:
		d.binOp(instruction.KindMul, instruction.TypeF64, instruction.Unsigned)
	case opF64Div:
		d.binOp(instruction.KindDiv, instruction.TypeF64, instruction.Unsigned)
	case opF64Min:
		d.binOp(instruction.KindMin, instruction.TypeF64, instruction.Unsigned)
	case opF64Max:
		d.binOp(instruction.KindMax, instruction.TypeF64, instruction.Unsigned)
	case opF64Copysign:
		d.binOp(instruction.KindCopysign, instruction.TypeF64, instruction.Unsigned)

	case opI32WrapI64:
		d.unary()
		d.emit(instruction.Instruction{Kind: instruction.KindI32WrapI64})
	case opI32TruncF32S:
		d.convert(instruction.KindITruncFromF, instruction.TypeI32, instruction.TypeF32, instruction.Signed)
	case opI32TruncF32U:
		d.convert(instruction.KindITruncFromF, instruction.TypeI32, instruction.TypeF32, instruction.Unsigned)
	case opI32TruncF64S:
		d.convert(instruction.KindITruncFromF, instruction.TypeI32, instruction.TypeF64, instruction.Signed)
	case opI32TruncF64U:
		d.convert(instruction.KindITruncFromF, instruction.TypeI32, instruction.TypeF64, instruction.Unsigned)
	case opI64ExtendI32S:
		d.unary()
		d.emit(instruction.Instruction{Kind: instruction.KindExtend, Sign: instruction.Signed})
	case opI64ExtendI32U:
		d.unary()
		d.emit(instruction.Instruction{Kind: instruction.KindExtend, Sign: instruction.Unsigned})
	case opI64TruncF32S:
		d.convert(instruction.KindITruncFromF, instruction.TypeI64, instruction.TypeF32, instruction.Signed)
	case opI64TruncF32U:
		d.convert(instruction.KindITruncFromF, instruction.TypeI64, instruction.TypeF32, instruction.Unsigned)
	case opI64TruncF64S:
		d.convert(instruction.KindITruncFromF, instruction.TypeI64, instruction.TypeF64, instruction.Signed)
	case opI64TruncF64U:
		d.convert(instruction.KindITruncFromF, instruction.TypeI64, instruction.TypeF64, instruction.Unsigned)
	case opF32ConvertI32S:
		d.convert(instruction.KindFConvertFromI, instruction.TypeF32, instruction.TypeI32, instruction.Signed)
	case opF32ConvertI32U:
		d.convert(instruction.KindFConvertFromI, instruction.TypeF32, instruction.TypeI32, instruction.Unsigned)
	case opF32ConvertI64S:
		d.convert(instruction.KindFConvertFromI, instruction.TypeF32, instruction.TypeI64, instruction.Signed)
	case opF32ConvertI64U:
		d.convert(instruction.KindFConvertFromI, instruction.TypeF32, instruction.TypeI64, instruction.Unsigned)
	case opF32DemoteF64:
		d.unary()
		d.emit(instruction.Instruction{Kind: instruction.KindF32DemoteF64})
	case opF64ConvertI32S:
		d.convert(instruction.KindFConvertFromI, instruction.TypeF64, instruction.TypeI32, instruction.Signed)
	case opF64ConvertI32U:
		d.convert(instruction.KindFConvertFromI, instruction.TypeF64, instruction.TypeI32, instruction.Unsigned)
	case opF64ConvertI64S:
		d.convert(instruction.KindFConvertFromI, instruction.TypeF64, instruction.TypeI64, instruction.Signed)
	case opF64ConvertI64U:
		d.convert(instruction.KindFConvertFromI, instruction.TypeF64, instruction.TypeI64, instruction.Unsigned)
	case opF64PromoteF32:
		d.unary()
		d.emit(instruction.Instruction{Kind: instruction.KindF64PromoteF32})
	case opI32ReinterpretF32:
		d.unary()
		d.emit(instruction.Instruction{Kind: instruction.KindReinterpret, Type: instruction.TypeI32})
	case opI64ReinterpretF64:
		d.unary()
		d.emit(instruction.Instruction{Kind: instruction.KindReinterpret, Type: instruction.TypeI64})
	case opF32ReinterpretI32:
		d.unary()
		d.emit(instruction.Instruction{Kind: instruction.KindReinterpret, Type: instruction.TypeF32})
	case opF64ReinterpretI64:
		d.unary()
		d.emit(instruction.Instruction{Kind: instruction.KindReinterpret, Type: instruction.TypeF64})

	case opI32Extend8S:
		d.unary()
		d.emit(instruction.Instruction{Kind: instruction.KindSignExtend, Type: instruction.TypeI32, U1: 8})
	case opI32Extend16S:
		d.unary()
		d.emit(instruction.Instruction{Kind: instruction.KindSignExtend, Type: instruction.TypeI32, U1: 16})
	case opI64Extend8S:
		d.unary()
		d.emit(instruction.Instruction{Kind: instruction.KindSignExtend, Type: instruction.TypeI64, U1: 8})
	case opI64Extend16S:
		d.unary()
		d.emit(instruction.Instruction{Kind: instruction.KindSignExtend, Type: instruction.TypeI64, U1: 16})
	case opI64Extend32S:
		d.unary()
		d.emit(instruction.Instruction{Kind: instruction.KindSignExtend, Type: instruction.TypeI64, U1: 32})

	default:
		return wasm.NewDecodeError(off, wasm.InvalidSectionID, "unknown opcode")
	}
	return nil
}

func (d *funcDecoder) unary()    { /* pop 1 push 1: net zero, nothing to track */ }
func (d *funcDecoder) binOp(kind instruction.Kind, t instruction.NumType, sign instruction.Signedness) {
	d.pop(1) // binary ops net pop-2-push-1; only the net -1 matters for depth tracking.
	d.emit(instruction.Instruction{Kind: kind, Type: t, Sign: sign})
}
func (d *funcDecoder) unaryOp(kind instruction.Kind, t instruction.NumType) {
	d.emit(instruction.Instruction{Kind: kind, Type: t})
}
func (d *funcDecoder) cmp(kind instruction.Kind, t instruction.NumType, sign instruction.Signedness) {
	d.pop(1) // two operands in, one i32 boolean out: net -1.
	d.emit(instruction.Instruction{Kind: kind, Type: t, Sign: sign})
}
func (d *funcDecoder) convert(kind instruction.Kind, to, from instruction.NumType, sign instruction.Signedness) {
	d.emit(instruction.Instruction{Kind: kind, Type: to, Sign: sign, U2: uint64(from)})
}

func (d *funcDecoder) load(r *reader, t instruction.NumType) error {
	m, err := d.memarg(r)
	if err != nil {
		return err
	}
	d.emit(instruction.Instruction{Kind: instruction.KindLoad, Type: t, U2: m})
	return nil
}

func (d *funcDecoder) loadN(r *reader, kind instruction.Kind, t instruction.NumType, sign instruction.Signedness) error {
	m, err := d.memarg(r)
	if err != nil {
		return err
	}
	d.emit(instruction.Instruction{Kind: kind, Type: t, Sign: sign, U2: m})
	return nil
}

func (d *funcDecoder) store(r *reader, kind instruction.Kind, t instruction.NumType) error {
	m, err := d.memarg(r)
	if err != nil {
		return err
	}
	d.pop(2)
	d.emit(instruction.Instruction{Kind: kind, Type: t, U2: m})
	return nil
}
