// Package moremath implements the floating-point operations the Wasm spec
// requires that diverge from Go's math package: NaN-propagating min/max and
// round-half-to-even rounding for the nearest instructions.
package moremath

import "math"

// Canonical/arithmetic NaN bit patterns, used by the conformance runner to
// classify a NaN result rather than compare it bit-for-bit: Wasm leaves NaN
// payload bits unspecified except for these two classes. Canonical NaN has
// the all-zero payload with only its MSB set, with either sign (the
// CanonicalNaNBitsMask constants clear only the sign bit); arithmetic NaN is
// any NaN with that payload MSB set (a superset of canonical).
const (
	F32ExponentMask            uint32 = 0x7f800000
	F32ArithmeticNaNPayloadMSB uint32 = 0x00400000
	F32CanonicalNaNBits        uint32 = F32ExponentMask | F32ArithmeticNaNPayloadMSB
	F32CanonicalNaNBitsMask    uint32 = 0x7fffffff

	F64ExponentMask            uint64 = 0x7ff0000000000000
	F64ArithmeticNaNPayloadMSB uint64 = 0x0008000000000000
	F64CanonicalNaNBits        uint64 = F64ExponentMask | F64ArithmeticNaNPayloadMSB
	F64CanonicalNaNBitsMask    uint64 = 0x7fffffffffffffff
)

// math.Min doen't comply with the Wasm spec, so we borrow from the original
// with a change that either one of NaN results in NaN even if another is -Inf.
// https://github.com/golang/go/blob/1d20a362d0ca4898d77865e314ef6f73582daef0/src/math/dim.go#L74-L91
func WasmCompatMin(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.NaN()
	case math.IsInf(x, -1) || math.IsInf(y, -1):
		return math.Inf(-1)
	case x == 0 && x == y:
		if math.Signbit(x) {
			return x
		}
		return y
	}
	if x < y {
		return x
	}
	return y
}

// math.Max doen't comply with the Wasm spec, so we borrow from the original
// with a change that either one of NaN results in NaN even if another is Inf.
// https://github.com/golang/go/blob/1d20a362d0ca4898d77865e314ef6f73582daef0/src/math/dim.go#L42-L59
func WasmCompatMax(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.NaN()
	case math.IsInf(x, 1) || math.IsInf(y, 1):
		return math.Inf(1)

	case x == 0 && x == y:
		if math.Signbit(x) {
			return y
		}
		return x
	}
	if x > y {
		return x
	}
	return y
}

// WasmCompatNearestF32 implements the f32.nearest instruction: round to the
// nearest integral value, ties to even, propagating NaN/Inf/zero unchanged.
func WasmCompatNearestF32(f float32) float32 {
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) || f == 0 {
		return f
	}
	return float32(math.RoundToEven(float64(f)))
}

// WasmCompatNearestF64 is the float64 counterpart of WasmCompatNearestF32.
func WasmCompatNearestF64(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f == 0 {
		return f
	}
	return math.RoundToEven(f)
}
