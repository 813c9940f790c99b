package binary

// Opcode bytes from the Wasm Core 1.0 binary format, plus the
// sign-extension instructions (0xc0-0xc4) the teacher's interpreter already
// supports and which this decoder carries along as a natural, low-risk
// enrichment (they require no new value types or control-flow shape).
const (
	opUnreachable = 0x00
	opNop         = 0x01
	opBlock       = 0x02
	opLoop        = 0x03
	opIf          = 0x04
	opElse        = 0x05
	opEnd         = 0x0b
	opBr          = 0x0c
	opBrIf        = 0x0d
	opBrTable     = 0x0e
	opReturn      = 0x0f
	opCall        = 0x10
	opCallIndirect = 0x11

	opDrop   = 0x1a
	opSelect = 0x1b

	opLocalGet  = 0x20
	opLocalSet  = 0x21
	opLocalTee  = 0x22
	opGlobalGet = 0x23
	opGlobalSet = 0x24

	opI32Load  = 0x28
	opI64Load  = 0x29
	opF32Load  = 0x2a
	opF64Load  = 0x2b
	opI32Load8S  = 0x2c
	opI32Load8U  = 0x2d
	opI32Load16S = 0x2e
	opI32Load16U = 0x2f
	opI64Load8S  = 0x30
	opI64Load8U  = 0x31
	opI64Load16S = 0x32
	opI64Load16U = 0x33
	opI64Load32S = 0x34
	opI64Load32U = 0x35
	opI32Store   = 0x36
	opI64Store   = 0x37
	opF32Store   = 0x38
	opF64Store   = 0x39
	opI32Store8  = 0x3a
	opI32Store16 = 0x3b
	opI64Store8  = 0x3c
	opI64Store16 = 0x3d
	opI64Store32 = 0x3e
	opMemorySize = 0x3f
	opMemoryGrow = 0x40

	opI32Const = 0x41
	opI64Const = 0x42
	opF32Const = 0x43
	opF64Const = 0x44

	opI32Eqz = 0x45
	opI32Eq  = 0x46
	opI32Ne  = 0x47
	opI32LtS = 0x48
	opI32LtU = 0x49
	opI32GtS = 0x4a
	opI32GtU = 0x4b
	opI32LeS = 0x4c
	opI32LeU = 0x4d
	opI32GeS = 0x4e
	opI32GeU = 0x4f

	opI64Eqz = 0x50
	opI64Eq  = 0x51
	opI64Ne  = 0x52
	opI64LtS = 0x53
	opI64LtU = 0x54
	opI64GtS = 0x55
	opI64GtU = 0x56
	opI64LeS = 0x57
	opI64LeU = 0x58
	opI64GeS = 0x59
	opI64GeU = 0x5a

	opF32Eq = 0x5b
	opF32Ne = 0x5c
	opF32Lt = 0x5d
	opF32Gt = 0x5e
	opF32Le = 0x5f
	opF32Ge = 0x60

	opF64Eq = 0x61
	opF64Ne = 0x62
	opF64Lt = 0x63
	opF64Gt = 0x64
	opF64Le = 0x65
	opF64Ge = 0x66

	opI32Clz    = 0x67
	opI32Ctz    = 0x68
	opI32Popcnt = 0x69
	opI32Add    = 0x6a
	opI32Sub    = 0x6b
	opI32Mul    = 0x6c
	opI32DivS   = 0x6d
	opI32DivU   = 0x6e
	opI32RemS   = 0x6f
	opI32RemU   = 0x70
	opI32And    = 0x71
	opI32Or     = 0x72
	opI32Xor    = 0x73
	opI32Shl    = 0x74
	opI32ShrS   = 0x75
	opI32ShrU   = 0x76
	opI32Rotl   = 0x77
	opI32Rotr   = 0x78

	opI64Clz    = 0x79
	opI64Ctz    = 0x7a
	opI64Popcnt = 0x7b
	opI64Add    = 0x7c
	opI64Sub    = 0x7d
	opI64Mul    = 0x7e
	opI64DivS   = 0x7f
	opI64DivU   = 0x80
	opI64RemS   = 0x81
	opI64RemU   = 0x82
	opI64And    = 0x83
	opI64Or     = 0x84
	opI64Xor    = 0x85
	opI64Shl    = 0x86
	opI64ShrS   = 0x87
	opI64ShrU   = 0x88
	opI64Rotl   = 0x89
	opI64Rotr   = 0x8a

	opF32Abs      = 0x8b
	opF32Neg      = 0x8c
	opF32Ceil     = 0x8d
	opF32Floor    = 0x8e
	opF32Trunc    = 0x8f
	opF32Nearest  = 0x90
	opF32Sqrt     = 0x91
	opF32Add      = 0x92
	opF32Sub      = 0x93
	opF32Mul      = 0x94
	opF32Div      = 0x95
	opF32Min      = 0x96
	opF32Max      = 0x97
	opF32Copysign = 0x98

	opF64Abs      = 0x99
	opF64Neg      = 0x9a
	opF64Ceil     = 0x9b
	opF64Floor    = 0x9c
	opF64Trunc    = 0x9d
	opF64Nearest  = 0x9e
	opF64Sqrt     = 0x9f
	opF64Add      = 0xa0
	opF64Sub      = 0xa1
	opF64Mul      = 0xa2
	opF64Div      = 0xa3
	opF64Min      = 0xa4
	opF64Max      = 0xa5
	opF64Copysign = 0xa6

	opI32WrapI64      = 0xa7
	opI32TruncF32S    = 0xa8
	opI32TruncF32U    = 0xa9
	opI32TruncF64S    = 0xaa
	opI32TruncF64U    = 0xab
	opI64ExtendI32S   = 0xac
	opI64ExtendI32U   = 0xad
	opI64TruncF32S    = 0xae
	opI64TruncF32U    = 0xaf
	opI64TruncF64S    = 0xb0
	opI64TruncF64U    = 0xb1
	opF32ConvertI32S  = 0xb2
	opF32ConvertI32U  = 0xb3
	opF32ConvertI64S  = 0xb4
	opF32ConvertI64U  = 0xb5
	opF32DemoteF64    = 0xb6
	opF64ConvertI32S  = 0xb7
	opF64ConvertI32U  = 0xb8
	opF64ConvertI64S  = 0xb9
	opF64ConvertI64U  = 0xba
	opF64PromoteF32   = 0xbb
	opI32ReinterpretF32 = 0xbc
	opI64ReinterpretF64 = 0xbd
	opF32ReinterpretI32 = 0xbe
	opF64ReinterpretI64 = 0xbf

	opI32Extend8S  = 0xc0
	opI32Extend16S = 0xc1
	opI64Extend8S  = 0xc2
	opI64Extend16S = 0xc3
	opI64Extend32S = 0xc4
)

// blockTypeEmpty and the single-result blocktype sentinels, per the s33
// LEB encoding of the binary format's blocktype production (§4.3).
const (
	blockTypeEmpty int64 = -64
	blockTypeI32   int64 = -1
	blockTypeI64   int64 = -2
	blockTypeF32   int64 = -3
	blockTypeF64   int64 = -4
)
