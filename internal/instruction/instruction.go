// Package instruction defines the flat, pre-decoded representation of a
// function body that internal/wasm/binary produces and
// internal/engine/interpreter executes directly, with no second lowering
// pass between decode and execution.
package instruction

// Kind identifies an Instruction's operation. Values deliberately mirror the
// groupings of the Wasm Core 1.0 opcode table (control, parametric,
// variable, memory, numeric) rather than raw opcode bytes, since several
// distinct opcodes (the four integer loads of a given width, signed and
// unsigned) collapse to one Kind parameterized by Type.
type Kind byte

const (
	KindUnreachable Kind = iota
	KindNop
	// KindLabel is a no-op for the interpreter and validator. The decoder
	// does not emit it: branch targets point directly at the first
	// instruction after a loop header or block end.
	KindLabel
	KindBr
	KindBrIf
	// KindBrIfZero is not a Wasm opcode: it is how the decoder lowers `if`'s
	// implicit "jump to else-or-end when the condition is zero" into the
	// flat instruction stream.
	KindBrIfZero
	KindBrTable
	KindReturn
	KindCall
	KindCallIndirect
	KindDrop
	KindSelect
	KindLocalGet
	KindLocalSet
	KindLocalTee
	KindGlobalGet
	KindGlobalSet
	KindLoad
	KindLoad8
	KindLoad16
	KindLoad32
	KindStore
	KindStore8
	KindStore16
	KindStore32
	KindMemorySize
	KindMemoryGrow
	KindConstI32
	KindConstI64
	KindConstF32
	KindConstF64
	KindEq
	KindNe
	KindEqz
	KindLt
	KindGt
	KindLe
	KindGe
	KindAdd
	KindSub
	KindMul
	KindClz
	KindCtz
	KindPopcnt
	KindDiv
	KindRem
	KindAnd
	KindOr
	KindXor
	KindShl
	KindShr
	KindRotl
	KindRotr
	KindAbs
	KindNeg
	KindCeil
	KindFloor
	KindTrunc
	KindNearest
	KindSqrt
	KindMin
	KindMax
	KindCopysign
	KindI32WrapI64
	KindITruncFromF
	KindFConvertFromI
	KindF32DemoteF64
	KindF64PromoteF32
	KindReinterpret
	KindExtend // i32 -> i64, signed or unsigned per Signed
	KindSignExtend
	KindEnd // marks the function body's final "end", a no-op executed as a return.
)

// NumType is the numeric type a Kind like Add or Const applies to.
type NumType byte

const (
	TypeI32 NumType = iota
	TypeI64
	TypeF32
	TypeF64
)

// Signedness distinguishes the signed/unsigned variants of comparisons,
// shifts, div/rem, and conversions that share one Kind.
type Signedness byte

const (
	Unsigned Signedness = iota
	Signed
)

// Instruction is one entry of a function body's flattened instruction
// stream. Only the fields relevant to Kind are populated; the rest are
// zero. This trades a few bytes of padding for a single flat []Instruction
// slice with no indirection, matching the teacher's own flat-interpreterOp
// design but folding what the teacher does in two passes (wazeroir then
// interpreterOp) into the single pass internal/wasm/binary performs.
type Instruction struct {
	Kind Kind

	Type NumType
	Sign Signedness

	// U1/U2 carry Kind-specific immediates: local/global/function/type
	// indices, branch depths, the pre-resolved absolute jump target (an
	// index into the same []Instruction slice) for control instructions,
	// memory access alignment/offset pairs.
	U1, U2 uint64

	// F32/F64 hold the immediate for ConstF32/ConstF64 (kept as separate
	// fields rather than bit-packed into U1 for readability at the call
	// site; U1 is reused for ConstI32/ConstI64 instead).
	F32 float32
	F64 float64

	// BrTable holds a br_table instruction's jump targets, one per label
	// index plus the trailing default at the end, each pre-resolved to an
	// absolute Instruction index the same way Br/BrIf are.
	BrTable []BrTarget
}

// BrTarget is one resolved branch target of a br_table: where to jump and
// how many values the branch's label expects on the stack, used to pop the
// correct operand count for stack-polymorphic code.
type BrTarget struct {
	Target    uint64
	Arity     uint32
	PopValues uint32
}
