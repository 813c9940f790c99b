package binary

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmatix/corewasm/api"
	"github.com/wasmatix/corewasm/internal/wasm"
)

func u32le(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func section(id sectionID, payload []byte) []byte {
	out := []byte{byte(id)}
	out = append(out, uleb(uint32(len(payload)))...)
	return append(out, payload...)
}

// uleb encodes v as unsigned LEB128, minimal form.
func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

func emptyModuleBytes() []byte {
	return append([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})
}

func TestDecodeModule_EmptyModule(t *testing.T) {
	m, err := DecodeModule(emptyModuleBytes())
	require.NoError(t, err)
	require.Empty(t, m.TypeSection)
	require.Empty(t, m.FunctionSection)
}

func TestDecodeModule_BadMagic(t *testing.T) {
	raw := []byte{0x00, 0x61, 0x73, 0x00, 0x01, 0x00, 0x00, 0x00}
	_, err := DecodeModule(raw)
	var de *wasm.DecodeError
	require.ErrorAs(t, err, &de)
	require.Equal(t, wasm.MagicHeaderNotDetected, de.Code)
}

func TestDecodeModule_BadVersion(t *testing.T) {
	raw := []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00}
	_, err := DecodeModule(raw)
	var de *wasm.DecodeError
	require.ErrorAs(t, err, &de)
	require.Equal(t, wasm.UnsupportedTextform, de.Code)
}

func TestDecodeModule_TypeSection(t *testing.T) {
	// One func type: (i32, i32) -> (i32).
	typePayload := append(uleb(1),
		append([]byte{0x60},
			append(uleb(2), append([]byte{api.ValueTypeI32, api.ValueTypeI32},
				append(uleb(1), api.ValueTypeI32)...)...)...)...)

	raw := emptyModuleBytes()
	raw = append(raw, section(sectionType, typePayload)...)

	m, err := DecodeModule(raw)
	require.NoError(t, err)
	require.Len(t, m.TypeSection, 1)
	require.Equal(t, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, m.TypeSection[0].Params)
	require.Equal(t, []api.ValueType{api.ValueTypeI32}, m.TypeSection[0].Results)
}

func TestDecodeModule_SectionsOutOfOrder(t *testing.T) {
	raw := emptyModuleBytes()
	raw = append(raw, section(sectionFunction, uleb(0))...)
	raw = append(raw, section(sectionType, uleb(0))...)

	_, err := DecodeModule(raw)
	var de *wasm.DecodeError
	require.ErrorAs(t, err, &de)
	require.Equal(t, wasm.InvalidSectionID, de.Code)
}

func TestDecodeModule_DuplicateSection(t *testing.T) {
	raw := emptyModuleBytes()
	raw = append(raw, section(sectionType, uleb(0))...)
	raw = append(raw, section(sectionType, uleb(0))...)

	_, err := DecodeModule(raw)
	var de *wasm.DecodeError
	require.ErrorAs(t, err, &de)
	require.Equal(t, wasm.InvalidSectionID, de.Code)
}

func TestDecodeModule_TruncatedSection(t *testing.T) {
	raw := emptyModuleBytes()
	// Declare a type section of length 5 but supply no payload bytes at all.
	raw = append(raw, byte(sectionType))
	raw = append(raw, u32leb5()...)

	_, err := DecodeModule(raw)
	require.Error(t, err)
}

func u32leb5() []byte { return uleb(5) }
