package binary

import (
	"bytes"

	"github.com/wasmatix/corewasm/internal/wasm"
)

var magic = []byte{0x00, 0x61, 0x73, 0x6d} // "\0asm"
var version = []byte{0x01, 0x00, 0x00, 0x00}

// DecodeModule parses raw as a WebAssembly 1.0 binary module, returning the
// fully decoded, but not yet validated or linked, Module. Only malformedness
// of the bytes themselves is detected here (internal/validate.Validate is
// responsible for type-level soundness).
func DecodeModule(raw []byte) (*wasm.Module, error) {
	r := newReader(raw)

	head, err := r.bytes(4)
	if err != nil || !bytes.Equal(head, magic) {
		return nil, wasm.NewDecodeError(0, wasm.MagicHeaderNotDetected, "")
	}
	ver, err := r.bytes(4)
	if err != nil || !bytes.Equal(ver, version) {
		return nil, wasm.NewDecodeError(4, wasm.UnsupportedTextform, "unsupported binary version")
	}

	mod := &wasm.Module{ID: wasm.ModuleIDFrom(raw)}

	var lastID sectionID = sectionCustom
	seenNonCustom := map[sectionID]bool{}
	for r.remaining() > 0 {
		off := r.offset()
		idByte, err := r.byte()
		if err != nil {
			return nil, err
		}
		id := sectionID(idByte)
		if id > sectionData {
			return nil, wasm.NewDecodeError(off, wasm.InvalidSectionID, "")
		}
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		payload, err := r.bytes(int(size))
		if err != nil {
			return nil, err
		}

		if id != sectionCustom {
			// Standard sections must appear at most once, in ascending order.
			if id <= lastID && lastID != sectionCustom {
				return nil, wasm.NewDecodeError(off, wasm.InvalidSectionID, "sections out of order")
			}
			if seenNonCustom[id] {
				return nil, wasm.NewDecodeError(off, wasm.InvalidSectionID, "duplicate section")
			}
			seenNonCustom[id] = true
			lastID = id
		}

		sr := newReader(payload)
		if err := decodeSection(mod, id, sr); err != nil {
			return nil, err
		}
		if id != sectionCustom && sr.remaining() != 0 {
			return nil, wasm.NewDecodeError(off, wasm.SectionSizeMismatch, "")
		}
	}
	return mod, nil
}

func decodeSection(mod *wasm.Module, id sectionID, r *reader) error {
	var err error
	switch id {
	case sectionCustom:
		name, nameErr := r.name()
		if nameErr != nil {
			return nil // malformed custom sections are ignored, not fatal.
		}
		if name == "name" {
			rest := r.b[r.pos:]
			mod.NameSection = decodeNameSection(rest)
			r.pos = len(r.b)
		} else {
			r.pos = len(r.b)
		}
	case sectionType:
		mod.TypeSection, err = decodeTypeSection(r)
	case sectionImport:
		mod.ImportSection, err = decodeImportSection(r)
	case sectionFunction:
		mod.FunctionSection, err = decodeFunctionSection(r)
	case sectionTable:
		mod.TableSection, err = decodeTableSection(r)
	case sectionMemory:
		mod.MemorySection, err = decodeMemorySection(r)
	case sectionGlobal:
		mod.GlobalSection, err = decodeGlobalSection(r)
	case sectionExport:
		mod.ExportSection, err = decodeExportSection(r)
	case sectionStart:
		var idx wasm.Index
		idx, err = decodeStartSection(r)
		if err == nil {
			mod.StartSection = &idx
		}
	case sectionElement:
		mod.ElementSection, err = decodeElementSection(r)
	case sectionCode:
		mod.CodeSection, err = decodeCodeSection(mod, r)
	case sectionData:
		mod.DataSection, err = decodeDataSection(r)
	}
	return err
}
