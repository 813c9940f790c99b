package binary

import (
	"github.com/wasmatix/corewasm/api"
	"github.com/wasmatix/corewasm/internal/wasm"
)

// sectionID identifies one of the eleven standard Wasm sections, or the
// custom section 0.
type sectionID byte

const (
	sectionCustom sectionID = iota
	sectionType
	sectionImport
	sectionFunction
	sectionTable
	sectionMemory
	sectionGlobal
	sectionExport
	sectionStart
	sectionElement
	sectionCode
	sectionData
)

func decodeValueType(r *reader) (api.ValueType, error) {
	off := r.offset()
	b, err := r.byte()
	if err != nil {
		return 0, err
	}
	switch b {
	case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64, api.ValueTypeExternref:
		return b, nil
	}
	return 0, wasm.NewDecodeError(off, wasm.InvalidValueType, "")
}

func decodeLimits(r *reader) (wasm.LimitsType, error) {
	flag, err := r.byte()
	if err != nil {
		return wasm.LimitsType{}, err
	}
	min, err := r.u32()
	if err != nil {
		return wasm.LimitsType{}, err
	}
	lim := wasm.LimitsType{Min: min}
	if flag == 1 {
		max, err := r.u32()
		if err != nil {
			return wasm.LimitsType{}, err
		}
		lim.Max = &max
	}
	return lim, nil
}

func decodeTableType(r *reader) (wasm.TableType, error) {
	off := r.offset()
	elem, err := r.byte()
	if err != nil {
		return wasm.TableType{}, err
	}
	if elem != wasm.RefTypeFuncref {
		return wasm.TableType{}, wasm.NewDecodeError(off, wasm.InvalidValueType, "unsupported table element type")
	}
	limits, err := decodeLimits(r)
	if err != nil {
		return wasm.TableType{}, err
	}
	return wasm.TableType{ElemType: elem, Limits: limits}, nil
}

func decodeGlobalType(r *reader) (wasm.GlobalType, error) {
	vt, err := decodeValueType(r)
	if err != nil {
		return wasm.GlobalType{}, err
	}
	mut, err := r.byte()
	if err != nil {
		return wasm.GlobalType{}, err
	}
	return wasm.GlobalType{ValType: vt, Mutable: mut == 1}, nil
}

// decodeTypeSection reads the (type) section: a vector of func types, each
// tagged with the 0x60 functype marker.
func decodeTypeSection(r *reader) ([]*wasm.FunctionType, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]*wasm.FunctionType, n)
	for i := range out {
		off := r.offset()
		tag, err := r.byte()
		if err != nil {
			return nil, err
		}
		if tag != 0x60 {
			return nil, wasm.NewDecodeError(off, wasm.InvalidSectionID, "expected functype tag 0x60")
		}
		np, err := r.u32()
		if err != nil {
			return nil, err
		}
		params := make([]api.ValueType, np)
		for j := range params {
			if params[j], err = decodeValueType(r); err != nil {
				return nil, err
			}
		}
		nr, err := r.u32()
		if err != nil {
			return nil, err
		}
		results := make([]api.ValueType, nr)
		for j := range results {
			if results[j], err = decodeValueType(r); err != nil {
				return nil, err
			}
		}
		out[i] = &wasm.FunctionType{Params: params, Results: results}
	}
	return out, nil
}

func decodeImportSection(r *reader) ([]wasm.Import, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.Import, n)
	for i := range out {
		mod, err := r.name()
		if err != nil {
			return nil, err
		}
		name, err := r.name()
		if err != nil {
			return nil, err
		}
		off := r.offset()
		kind, err := r.byte()
		if err != nil {
			return nil, err
		}
		imp := wasm.Import{Type: kind, Module: mod, Name: name}
		switch kind {
		case api.ExternTypeFunc:
			if imp.DescFunc, err = r.u32(); err != nil {
				return nil, err
			}
		case api.ExternTypeTable:
			if imp.DescTable, err = decodeTableType(r); err != nil {
				return nil, err
			}
		case api.ExternTypeMemory:
			if imp.DescMem, err = decodeLimits(r); err != nil {
				return nil, err
			}
		case api.ExternTypeGlobal:
			if imp.DescGlobal, err = decodeGlobalType(r); err != nil {
				return nil, err
			}
		default:
			return nil, wasm.NewDecodeError(off, wasm.MalformedImportKind, "")
		}
		out[i] = imp
	}
	return out, nil
}

func decodeFunctionSection(r *reader) ([]wasm.Index, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.Index, n)
	for i := range out {
		if out[i], err = r.u32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeTableSection(r *reader) ([]wasm.TableType, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.TableType, n)
	for i := range out {
		if out[i], err = decodeTableType(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeMemorySection(r *reader) ([]wasm.MemoryType, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.MemoryType, n)
	for i := range out {
		if out[i], err = decodeLimits(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeGlobalSection(r *reader) ([]wasm.GlobalInit, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.GlobalInit, n)
	for i := range out {
		gt, err := decodeGlobalType(r)
		if err != nil {
			return nil, err
		}
		init, err := decodeConstantExpression(r)
		if err != nil {
			return nil, err
		}
		out[i] = wasm.GlobalInit{Type: gt, Init: init}
	}
	return out, nil
}

func decodeExportSection(r *reader) ([]wasm.Export, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.Export, n)
	for i := range out {
		name, err := r.name()
		if err != nil {
			return nil, err
		}
		off := r.offset()
		kind, err := r.byte()
		if err != nil {
			return nil, err
		}
		switch kind {
		case api.ExternTypeFunc, api.ExternTypeTable, api.ExternTypeMemory, api.ExternTypeGlobal:
		default:
			return nil, wasm.NewDecodeError(off, wasm.MalformedImportKind, "invalid export kind")
		}
		idx, err := r.u32()
		if err != nil {
			return nil, err
		}
		out[i] = wasm.Export{Type: kind, Name: name, Index: idx}
	}
	return out, nil
}

func decodeStartSection(r *reader) (wasm.Index, error) {
	return r.u32()
}

func decodeElementSection(r *reader) ([]wasm.ElementSegment, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.ElementSegment, n)
	for i := range out {
		tableIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		offset, err := decodeConstantExpression(r)
		if err != nil {
			return nil, err
		}
		cnt, err := r.u32()
		if err != nil {
			return nil, err
		}
		init := make([]wasm.Index, cnt)
		for j := range init {
			if init[j], err = r.u32(); err != nil {
				return nil, err
			}
		}
		out[i] = wasm.ElementSegment{TableIndex: tableIdx, Offset: offset, Init: init}
	}
	return out, nil
}

func decodeDataSection(r *reader) ([]wasm.DataSegment, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.DataSegment, n)
	for i := range out {
		memIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		offset, err := decodeConstantExpression(r)
		if err != nil {
			return nil, err
		}
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		init, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		cp := make([]byte, len(init))
		copy(cp, init)
		out[i] = wasm.DataSegment{MemoryIndex: memIdx, Offset: offset, Init: cp}
	}
	return out, nil
}

// decodeConstantExpression decodes one of the four *.const opcodes or
// global.get, terminated by end, per the restricted instruction set Wasm
// 1.0 allows in global initializers and segment offsets.
func decodeConstantExpression(r *reader) (wasm.ConstantExpression, error) {
	off := r.offset()
	op, err := r.byte()
	if err != nil {
		return wasm.ConstantExpression{}, err
	}
	var data []byte
	switch op {
	case wasm.OpcodeI32Const:
		v, err := r.s32()
		if err != nil {
			return wasm.ConstantExpression{}, err
		}
		data = u64le(uint64(uint32(v)))
	case wasm.OpcodeI64Const:
		v, err := r.s64()
		if err != nil {
			return wasm.ConstantExpression{}, err
		}
		data = u64le(uint64(v))
	case wasm.OpcodeF32Const:
		v, err := r.f32()
		if err != nil {
			return wasm.ConstantExpression{}, err
		}
		data = u64le(uint64(api.EncodeF32(v)))
	case wasm.OpcodeF64Const:
		v, err := r.f64()
		if err != nil {
			return wasm.ConstantExpression{}, err
		}
		data = u64le(api.EncodeF64(v))
	case wasm.OpcodeGlobalGet:
		idx, err := r.u32()
		if err != nil {
			return wasm.ConstantExpression{}, err
		}
		data = u64le(uint64(idx))
	default:
		return wasm.ConstantExpression{}, wasm.NewDecodeError(off, wasm.MalformedConstantExpression, "")
	}
	end, err := r.byte()
	if err != nil {
		return wasm.ConstantExpression{}, err
	}
	if end != wasm.OpcodeEnd {
		return wasm.ConstantExpression{}, wasm.NewDecodeError(r.offset(), wasm.MalformedConstantExpression, "missing end")
	}
	return wasm.ConstantExpression{Opcode: op, Data: data}, nil
}

func u64le(v uint64) []byte {
	return []byte{
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
		byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56),
	}
}

// decodeNameSection decodes the optional custom "name" section: module name
// (subsection 0), function names (subsection 1), local names (subsection 2).
// Malformed or unrecognized subsections are skipped rather than rejected,
// matching the spec's treatment of custom sections as non-normative.
func decodeNameSection(b []byte) *wasm.NameSection {
	r := newReader(b)
	ns := &wasm.NameSection{FunctionNames: map[wasm.Index]string{}, LocalNames: map[wasm.Index]map[wasm.Index]string{}}
	for r.remaining() > 0 {
		id, err := r.byte()
		if err != nil {
			break
		}
		size, err := r.u32()
		if err != nil {
			break
		}
		payload, err := r.bytes(int(size))
		if err != nil {
			break
		}
		sub := newReader(payload)
		switch id {
		case 0:
			if name, err := sub.name(); err == nil {
				ns.ModuleName = name
			}
		case 1:
			if n, err := sub.u32(); err == nil {
				for i := uint32(0); i < n; i++ {
					idx, err := sub.u32()
					if err != nil {
						break
					}
					name, err := sub.name()
					if err != nil {
						break
					}
					ns.FunctionNames[idx] = name
				}
			}
		case 2:
			if n, err := sub.u32(); err == nil {
				for i := uint32(0); i < n; i++ {
					fnIdx, err := sub.u32()
					if err != nil {
						break
					}
					cnt, err := sub.u32()
					if err != nil {
						break
					}
					locals := map[wasm.Index]string{}
					for j := uint32(0); j < cnt; j++ {
						localIdx, err := sub.u32()
						if err != nil {
							break
						}
						name, err := sub.name()
						if err != nil {
							break
						}
						locals[localIdx] = name
					}
					ns.LocalNames[fnIdx] = locals
				}
			}
		}
	}
	return ns
}
