package binary

import (
	"github.com/wasmatix/corewasm/internal/instruction"
	"github.com/wasmatix/corewasm/internal/wasm"
)

func decodeCodeSection(mod *wasm.Module, r *reader) ([]wasm.Code, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if int(n) != len(mod.FunctionSection) {
		return nil, wasm.NewDecodeError(r.offset(), wasm.SectionSizeMismatch, "code/function section count mismatch")
	}
	out := make([]wasm.Code, n)
	for i := range out {
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		bodyStart := r.offset()
		body, err := r.bytes(int(size))
		if err != nil {
			return nil, err
		}
		typeIdx := mod.FunctionSection[i]
		if int(typeIdx) >= len(mod.TypeSection) {
			return nil, wasm.NewDecodeError(bodyStart, wasm.InvalidSectionID, "function type index out of range")
		}
		sig := mod.TypeSection[typeIdx]
		code, err := decodeFunctionBody(mod, sig, body, bodyStart)
		if err != nil {
			return nil, err
		}
		code.BodySize = size
		out[i] = code
	}
	return out, nil
}

// ctrlFrame tracks one level of structured control-flow nesting during the
// single-pass flattening decode: where a branch to this label jumps, and
// which pending branch instructions still need that target patched in once
// it is known (forward branches to a block/if's "end", resolved only when
// the matching end is reached).
type ctrlFrame struct {
	isLoop            bool
	arity             uint32 // the block's own result arity: 0 or 1.
	labelArity        uint32 // arity carried by a branch TO this label: same as arity for block/if, always 0 for loop.
	stackDepthAtEntry int
	loopTarget        uint64  // valid when isLoop: the absolute index branches jump to.
	endPatches        []patch // pending target patches, resolved to "position right after this frame's end".
	ifJumpIdx         int     // index of the pending KindBrIfZero for an `if` header; -1 once resolved or not an if.
}

// patch identifies one Target field a forward branch left unresolved: a
// plain instruction's U1 (brTableSlot < 0) or one entry of a br_table's
// BrTarget list.
type patch struct {
	instrIdx    int
	brTableSlot int
}

func decodeFunctionBody(mod *wasm.Module, sig *wasm.FunctionType, raw []byte, baseOffset int) (wasm.Code, error) {
	r := newReader(raw)

	groupCount, err := r.u32()
	if err != nil {
		return wasm.Code{}, err
	}
	var locals []byte // value types, expanded
	for i := uint32(0); i < groupCount; i++ {
		cnt, err := r.u32()
		if err != nil {
			return wasm.Code{}, err
		}
		vt, err := decodeValueType(r)
		if err != nil {
			return wasm.Code{}, err
		}
		for j := uint32(0); j < cnt; j++ {
			locals = append(locals, vt)
		}
	}

	d := &funcDecoder{
		mod:     mod,
		sig:     sig,
		nLocals: len(sig.Params) + len(locals),
		frames:  []ctrlFrame{{arity: resultArity(sig), labelArity: resultArity(sig), stackDepthAtEntry: 0, ifJumpIdx: -1}},
	}
	if err := d.decodeInstructions(r); err != nil {
		return wasm.Code{}, err
	}
	return wasm.Code{LocalTypes: locals, Body: d.body}, nil
}

func resultArity(sig *wasm.FunctionType) uint32 {
	return uint32(len(sig.Results))
}

// funcDecoder holds the mutable state threaded through one function body's
// decode: the emitted instruction stream, the control-frame stack used to
// resolve branch targets, and the abstract operand-stack depth counter used
// only to compute how many extra values a taken branch must discard beneath
// its result arity (internal/validate is the authority on whether the
// module is actually well-typed; this counter exists purely so the
// interpreter knows how to restore stack height on a branch, and is
// accurate for any validated module).
type funcDecoder struct {
	mod     *wasm.Module
	sig     *wasm.FunctionType
	nLocals int
	body    []instruction.Instruction
	frames  []ctrlFrame
	depth   int
	// unreachable marks code after an unconditional transfer (unreachable,
	// br, return) until the next else/end at the current nesting level;
	// depth bookkeeping is frozen during it since no value it computes is
	// ever observed at runtime.
	unreachable bool
}

func (d *funcDecoder) emit(in instruction.Instruction) int {
	d.body = append(d.body, in)
	return len(d.body) - 1
}

func (d *funcDecoder) pop(n int) {
	if d.unreachable {
		return
	}
	d.depth -= n
}

func (d *funcDecoder) push(n int) {
	if d.unreachable {
		return
	}
	d.depth += n
}

func (d *funcDecoder) curFrame() *ctrlFrame { return &d.frames[len(d.frames)-1] }

// branchInfo computes the (arity, popValues) pair for a branch to the label
// at nesting depth l (0 = innermost). The branch target itself, and the
// pending patch for a forward branch to a block/if's end, are handled by
// resolveTarget.
func (d *funcDecoder) branchInfo(l uint32, instrIdx int) (arity uint32, popValues uint32) {
	f := &d.frames[len(d.frames)-1-int(l)]
	arity = f.labelArity
	if d.unreachable {
		return arity, 0
	}
	pv := d.depth - f.stackDepthAtEntry - int(arity)
	if pv < 0 {
		pv = 0
	}
	return arity, uint32(pv)
}

func (d *funcDecoder) resolveTarget(l uint32, instrIdx int) uint64 {
	f := &d.frames[len(d.frames)-1-int(l)]
	if f.isLoop {
		return f.loopTarget
	}
	f.endPatches = append(f.endPatches, patch{instrIdx: instrIdx, brTableSlot: -1})
	return 0 // patched once the matching end is decoded.
}

func (d *funcDecoder) patchTargets(patches []patch, target uint64) {
	for _, p := range patches {
		if p.brTableSlot < 0 {
			d.body[p.instrIdx].U1 = target
		} else {
			d.body[p.instrIdx].BrTable[p.brTableSlot].Target = target
		}
	}
}

func (d *funcDecoder) decodeInstructions(r *reader) error {
	for {
		off := r.offset()
		op, err := r.byte()
		if err != nil {
			return err
		}
		switch op {
		case opUnreachable:
			d.emit(instruction.Instruction{Kind: instruction.KindUnreachable})
			d.unreachable = true
		case opNop:
			d.emit(instruction.Instruction{Kind: instruction.KindNop})
		case opBlock, opLoop, opIf:
			bt, err := r.s33()
			if err != nil {
				return err
			}
			arity, err := blockArity(bt, off)
			if err != nil {
				return err
			}
			frame := ctrlFrame{arity: arity, labelArity: arity, stackDepthAtEntry: d.depth, ifJumpIdx: -1}
			switch op {
			case opLoop:
				frame.isLoop = true
				frame.labelArity = 0
				frame.loopTarget = uint64(len(d.body))
			case opIf:
				d.pop(1) // the condition
				idx := d.emit(instruction.Instruction{Kind: instruction.KindBrIfZero})
				frame.ifJumpIdx = idx
			}
			d.frames = append(d.frames, frame)
		case opElse:
			f := d.curFrame()
			if f.ifJumpIdx < 0 {
				return wasm.NewDecodeError(off, wasm.MalformedConstantExpression, "else without matching if")
			}
			// Normal fallthrough out of the "then" branch must skip the
			// "else" branch entirely; unconditional Br recorded as an
			// end-patch like any other forward branch to this frame's end.
			skipIdx := d.emit(instruction.Instruction{Kind: instruction.KindBr})
			f.endPatches = append(f.endPatches, patch{instrIdx: skipIdx, brTableSlot: -1})
			d.body[f.ifJumpIdx].U1 = uint64(len(d.body))
			f.ifJumpIdx = -1
			d.unreachable = false
			d.depth = f.stackDepthAtEntry
		case opEnd:
			f := d.frames[len(d.frames)-1]
			if f.ifJumpIdx >= 0 {
				// `if` with no `else`: Wasm requires such an if to have
				// arity 0 (neither this decoder nor internal/validate checks
				// it), so the jump-if-zero target is simply here.
				d.body[f.ifJumpIdx].U1 = uint64(len(d.body))
			}
			if len(d.frames) == 1 {
				// Function-level end.
				d.patchTargets(f.endPatches, uint64(len(d.body)))
				d.emit(instruction.Instruction{Kind: instruction.KindEnd})
				return nil
			}
			d.patchTargets(f.endPatches, uint64(len(d.body)))
			d.frames = d.frames[:len(d.frames)-1]
			d.unreachable = false
			d.depth = f.stackDepthAtEntry + int(f.arity)
		case opBr:
			l, err := r.u32()
			if err != nil {
				return err
			}
			idx := d.emit(instruction.Instruction{Kind: instruction.KindBr})
			arity, popValues := d.branchInfo(l, idx)
			target := d.resolveTarget(l, idx)
			d.body[idx].U1 = target
			d.body[idx].U2 = packArityPop(arity, popValues)
			d.unreachable = true
		case opBrIf:
			l, err := r.u32()
			if err != nil {
				return err
			}
			d.pop(1) // condition
			idx := d.emit(instruction.Instruction{Kind: instruction.KindBrIf})
			arity, popValues := d.branchInfo(l, idx)
			target := d.resolveTarget(l, idx)
			d.body[idx].U1 = target
			d.body[idx].U2 = packArityPop(arity, popValues)
		case opBrTable:
			count, err := r.u32()
			if err != nil {
				return err
			}
			labels := make([]uint32, count+1)
			for i := uint32(0); i < count; i++ {
				if labels[i], err = r.u32(); err != nil {
					return err
				}
			}
			if labels[count], err = r.u32(); err != nil {
				return err
			}
			d.pop(1) // index
			targets := make([]instruction.BrTarget, count+1)
			for i, l := range labels {
				targets[i] = d.brTableTarget(l)
			}
			idx := d.emit(instruction.Instruction{Kind: instruction.KindBrTable, BrTable: targets})
			for slot, l := range labels {
				f := &d.frames[len(d.frames)-1-int(l)]
				if !f.isLoop {
					f.endPatches = append(f.endPatches, patch{instrIdx: idx, brTableSlot: slot})
				}
			}
			d.unreachable = true
		case opReturn:
			idx := d.emit(instruction.Instruction{Kind: instruction.KindReturn})
			arity := resultArity(d.sig)
			popValues := uint32(0)
			if !d.unreachable {
				pv := d.depth - 0 - int(arity)
				if pv < 0 {
					pv = 0
				}
				popValues = uint32(pv)
			}
			d.body[idx].U2 = packArityPop(arity, popValues)
			d.unreachable = true
		case opCall:
			idx, err := r.u32()
			if err != nil {
				return err
			}
			if ft, err := d.mod.TypeOfFunction(idx); err == nil {
				d.pop(len(ft.Params))
				d.push(len(ft.Results))
			}
			d.emit(instruction.Instruction{Kind: instruction.KindCall, U1: uint64(idx)})
		case opCallIndirect:
			typeIdx, err := r.u32()
			if err != nil {
				return err
			}
			if _, err := r.byte(); err != nil { // reserved table index, must be 0.
				return err
			}
			d.pop(1) // the table index operand.
			if int(typeIdx) < len(d.mod.TypeSection) {
				ft := d.mod.TypeSection[typeIdx]
				d.pop(len(ft.Params))
				d.push(len(ft.Results))
			}
			d.emit(instruction.Instruction{Kind: instruction.KindCallIndirect, U1: uint64(typeIdx)})
		case opDrop:
			d.pop(1)
			d.emit(instruction.Instruction{Kind: instruction.KindDrop})
		case opSelect:
			d.pop(2)
			d.emit(instruction.Instruction{Kind: instruction.KindSelect})
		case opLocalGet, opLocalSet, opLocalTee:
			idx, err := r.u32()
			if err != nil {
				return err
			}
			if int(idx) >= d.nLocals {
				return wasm.NewDecodeError(off, wasm.InvalidSectionID, "local index out of range")
			}
			var kind instruction.Kind
			switch op {
			case opLocalGet:
				kind = instruction.KindLocalGet
				d.push(1)
			case opLocalSet:
				kind = instruction.KindLocalSet
				d.pop(1)
			default:
				kind = instruction.KindLocalTee
			}
			d.emit(instruction.Instruction{Kind: kind, U1: uint64(idx)})
		case opGlobalGet, opGlobalSet:
			idx, err := r.u32()
			if err != nil {
				return err
			}
			if op == opGlobalGet {
				d.push(1)
				d.emit(instruction.Instruction{Kind: instruction.KindGlobalGet, U1: uint64(idx)})
			} else {
				d.pop(1)
				d.emit(instruction.Instruction{Kind: instruction.KindGlobalSet, U1: uint64(idx)})
			}
		case opMemorySize, opMemoryGrow:
			if _, err := r.byte(); err != nil { // reserved, must be 0.
				return err
			}
			if op == opMemorySize {
				d.push(1)
				d.emit(instruction.Instruction{Kind: instruction.KindMemorySize})
			} else {
				d.emit(instruction.Instruction{Kind: instruction.KindMemoryGrow})
			}
		case opI32Const:
			v, err := r.s32()
			if err != nil {
				return err
			}
			d.push(1)
			d.emit(instruction.Instruction{Kind: instruction.KindConstI32, U1: uint64(uint32(v))})
		case opI64Const:
			v, err := r.s64()
			if err != nil {
				return err
			}
			d.push(1)
			d.emit(instruction.Instruction{Kind: instruction.KindConstI64, U1: uint64(v)})
		case opF32Const:
			v, err := r.f32()
			if err != nil {
				return err
			}
			d.push(1)
			d.emit(instruction.Instruction{Kind: instruction.KindConstF32, F32: v})
		case opF64Const:
			v, err := r.f64()
			if err != nil {
				return err
			}
			d.push(1)
			d.emit(instruction.Instruction{Kind: instruction.KindConstF64, F64: v})
		default:
			if err := d.decodeMemOrNumeric(r, op, off); err != nil {
				return err
			}
		}
	}
}

// brTableTarget resolves one br_table entry the same way a plain br would,
// but without emitting its own Instruction (br_table keeps all targets
// inline in BrTable).
func (d *funcDecoder) brTableTarget(l uint32) instruction.BrTarget {
	f := &d.frames[len(d.frames)-1-int(l)]
	arity := f.labelArity
	popValues := uint32(0)
	if !d.unreachable {
		pv := d.depth - f.stackDepthAtEntry - int(arity)
		if pv < 0 {
			pv = 0
		}
		popValues = uint32(pv)
	}
	var target uint64
	if f.isLoop {
		target = f.loopTarget
	}
	// Unresolved (non-loop) targets are left 0 here; decodeInstructions'
	// opBrTable case records an end patch for each such slot.
	return instruction.BrTarget{Target: target, Arity: arity, PopValues: popValues}
}

func blockArity(bt int64, off int) (uint32, error) {
	switch bt {
	case blockTypeEmpty:
		return 0, nil
	case blockTypeI32, blockTypeI64, blockTypeF32, blockTypeF64:
		return 1, nil
	default:
		return 0, wasm.NewDecodeError(off, wasm.InvalidValueType, "multi-value block types are not supported")
	}
}

func packArityPop(arity, popValues uint32) uint64 {
	return uint64(arity)<<32 | uint64(popValues)
}

// UnpackArityPop is the interpreter-side counterpart of packArityPop.
func UnpackArityPop(u2 uint64) (arity, popValues uint32) {
	return uint32(u2 >> 32), uint32(u2)
}
