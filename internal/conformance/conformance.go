// Package conformance is a small Command-model test harness in the style of
// the WebAssembly spec's own test suite (the "wast2json" command format):
// a sequence of module definitions and assertions run in order against one
// shared runtime.Runtime. Unlike the upstream suite, commands here build
// wasm.Module values directly in Go rather than decoding real .wasm/.json
// fixture pairs from disk, since no upstream corpus is vendored into this
// repository; the two forms describe the same thing, one via bytes and one
// via the struct the bytes would decode to.
package conformance

import (
	"errors"
	"fmt"
	"testing"

	"github.com/wasmatix/corewasm/api"
	"github.com/wasmatix/corewasm/internal/moremath"
	"github.com/wasmatix/corewasm/internal/trap"
	"github.com/wasmatix/corewasm/internal/wasm"
	"github.com/wasmatix/corewasm/runtime"
)

// CommandType identifies one step of a conformance script.
type CommandType int

const (
	// Module instantiates a pre-built *wasm.Module under Name (or an
	// auto-generated name), becoming the default target of later actions.
	Module CommandType = iota
	// PerformAction invokes an export with no assertion on the result,
	// useful for running side-effecting setup between assertions.
	PerformAction
	// AssertReturn invokes an export and requires the results equal Expected
	// exactly (bit for bit on floats, so NaN results belong in
	// AssertReturnCanonicalNaN/AssertReturnArithmeticNaN instead).
	AssertReturn
	// AssertReturnCanonicalNaN requires a single floating-point result whose
	// bits, ignoring the sign bit, are exactly the canonical NaN for its width.
	AssertReturnCanonicalNaN
	// AssertReturnArithmeticNaN requires a single floating-point result that
	// is a NaN with the arithmetic-NaN payload MSB set (a superset of
	// canonical, per the spec's "NaN propagation need not be canonical"
	// allowance).
	AssertReturnArithmeticNaN
	// AssertTrap invokes an export and requires it fail with the given
	// trap.Reason.
	AssertTrap
	// AssertMalformed decodes Raw and requires a decode-time error.
	AssertMalformed
	// AssertInvalid decodes Raw, then validates it, and requires a
	// validation-time error (decoding itself must succeed).
	AssertInvalid
)

// Action names the export to invoke and the arguments to pass.
type Action struct {
	// ModuleName selects which instantiated module to call; "" means "the
	// module most recently instantiated by a Module command", exactly as
	// the upstream format's implicit "last module" rule works.
	ModuleName string
	Field      string
	Args       []uint64
}

// Command is one step of a conformance script. Only the fields relevant to
// Type are read.
type Command struct {
	Type CommandType

	// Set for Module.
	Name       string
	ModuleData *wasm.Module

	// Set for AssertMalformed/AssertInvalid.
	Raw []byte

	// Set for PerformAction/AssertReturn/AssertTrap/AssertReturn*NaN.
	Action Action

	// Set for AssertReturn.
	Expected []uint64

	// Set for AssertTrap.
	TrapReason trap.Reason

	// Float width for AssertReturnCanonicalNaN/AssertReturnArithmeticNaN:
	// api.ValueTypeF32 or api.ValueTypeF64.
	NaNType api.ValueType
}

// Harness runs a Command script against one shared runtime.Runtime, the way
// a single .wast file's commands all share one store and module namespace.
type Harness struct {
	rt   *runtime.Runtime
	last string
	anon int
}

// NewHarness allocates a Harness with a fresh Runtime.
func NewHarness() *Harness {
	return &Harness{rt: runtime.New()}
}

// Run executes cmds in order. Each command is reported as its own subtest
// named by index and type, mirroring the upstream runner's per-command
// t.Run; a command whose assertion doesn't hold fails its subtest (and so
// t), and the commands after it still run.
func (h *Harness) Run(t *testing.T, cmds []Command) {
	t.Helper()
	for i, c := range cmds {
		c := c
		t.Run(fmt.Sprintf("%d/%s", i, commandTypeName(c.Type)), func(t *testing.T) {
			h.runOne(t, c)
		})
	}
}

func (h *Harness) runOne(t *testing.T, c Command) {
	t.Helper()
	switch c.Type {
	case Module:
		name := c.Name
		if name == "" {
			h.anon++
			name = fmt.Sprintf("anon%d", h.anon)
		}
		if err := runtime.ValidateModule(c.ModuleData); err != nil {
			t.Fatalf("test script built an invalid module: %v", err)
		}
		if _, err := h.rt.Instantiate(c.ModuleData, name); err != nil {
			t.Fatalf("instantiate %q: %v", name, err)
		}
		h.last = name

	case PerformAction:
		if _, err := h.invoke(c.Action); err != nil {
			t.Fatalf("invoke %s: %v", c.Action.Field, err)
		}

	case AssertReturn:
		results, err := h.invoke(c.Action)
		if err != nil {
			t.Fatalf("invoke %s: %v", c.Action.Field, err)
		}
		if len(results) != len(c.Expected) {
			t.Fatalf("invoke %s: got %d results, want %d", c.Action.Field, len(results), len(c.Expected))
		}
		for i := range results {
			if results[i] != c.Expected[i] {
				t.Fatalf("invoke %s: result[%d] = %#x, want %#x", c.Action.Field, i, results[i], c.Expected[i])
			}
		}

	case AssertReturnCanonicalNaN:
		h.assertNaN(t, c, true)

	case AssertReturnArithmeticNaN:
		h.assertNaN(t, c, false)

	case AssertTrap:
		_, err := h.invoke(c.Action)
		var tr *trap.Trap
		if !errors.As(err, &tr) {
			t.Fatalf("invoke %s: want trap %s, got %v", c.Action.Field, c.TrapReason, err)
		}
		if tr.Reason != c.TrapReason {
			t.Fatalf("invoke %s: want trap %s, got %s", c.Action.Field, c.TrapReason, tr.Reason)
		}

	case AssertMalformed:
		if _, err := runtime.DecodeModule(c.Raw); err == nil {
			t.Fatalf("decode: want malformed error, got none")
		}

	case AssertInvalid:
		m, err := runtime.DecodeModule(c.Raw)
		if err != nil {
			t.Fatalf("decode: want success, got %v", err)
		}
		if err := runtime.ValidateModule(m); err == nil {
			t.Fatalf("validate: want invalid error, got none")
		}

	default:
		t.Fatalf("unsupported command type %v", c.Type)
	}
}

func (h *Harness) assertNaN(t *testing.T, c Command, canonicalOnly bool) {
	t.Helper()
	results, err := h.invoke(c.Action)
	if err != nil {
		t.Fatalf("invoke %s: %v", c.Action.Field, err)
	}
	if len(results) != 1 {
		t.Fatalf("invoke %s: got %d results, want 1 NaN result", c.Action.Field, len(results))
	}
	if !isExpectedNaN(results[0], c.NaNType, canonicalOnly) {
		t.Fatalf("invoke %s: result %#x is not the expected NaN class", c.Action.Field, results[0])
	}
}

func (h *Harness) invoke(a Action) ([]uint64, error) {
	name := a.ModuleName
	if name == "" {
		name = h.last
	}
	inst := h.rt.Registry.Lookup(name)
	if inst == nil {
		return nil, fmt.Errorf("conformance: module %q not instantiated", name)
	}
	return h.rt.Invoke(inst, a.Field, a.Args)
}

// isExpectedNaN classifies a raw result value against the requested NaN
// class: canonicalOnly requires the canonical NaN bit pattern with either
// sign, otherwise any NaN
// with the arithmetic-NaN payload MSB set (which canonical NaN also has)
// passes, per the spec's "arithmetic NaN" allowance.
func isExpectedNaN(v uint64, t api.ValueType, canonicalOnly bool) bool {
	if t == api.ValueTypeF32 {
		bits := uint32(v)
		if canonicalOnly {
			return bits&moremath.F32CanonicalNaNBitsMask == moremath.F32CanonicalNaNBits
		}
		return bits&moremath.F32ExponentMask == moremath.F32ExponentMask &&
			bits&moremath.F32ArithmeticNaNPayloadMSB == moremath.F32ArithmeticNaNPayloadMSB
	}
	bits := v
	if canonicalOnly {
		return bits&moremath.F64CanonicalNaNBitsMask == moremath.F64CanonicalNaNBits
	}
	return bits&moremath.F64ExponentMask == moremath.F64ExponentMask &&
		bits&moremath.F64ArithmeticNaNPayloadMSB == moremath.F64ArithmeticNaNPayloadMSB
}

func commandTypeName(t CommandType) string {
	switch t {
	case Module:
		return "module"
	case PerformAction:
		return "action"
	case AssertReturn:
		return "assert_return"
	case AssertReturnCanonicalNaN:
		return "assert_return_canonical_nan"
	case AssertReturnArithmeticNaN:
		return "assert_return_arithmetic_nan"
	case AssertTrap:
		return "assert_trap"
	case AssertMalformed:
		return "assert_malformed"
	case AssertInvalid:
		return "assert_invalid"
	default:
		return "unknown"
	}
}
