// Package binary decodes a WebAssembly 1.0 binary module into an
// internal/wasm.Module: the preamble, section framing, and per-section
// contents, including the flattened instruction stream of every function
// body.
package binary

import (
	"encoding/binary"
	"io"
	"math"
	"unicode/utf8"

	"github.com/wasmatix/corewasm/internal/leb128"
	"github.com/wasmatix/corewasm/internal/wasm"
)

// reader is a cursor over a module's raw bytes, tracking Offset for
// DecodeError diagnostics and exposing the primitive reads every section
// decoder builds on.
type reader struct {
	b   []byte
	pos int
}

func newReader(b []byte) *reader { return &reader{b: b} }

func (r *reader) offset() int { return r.pos }

func (r *reader) remaining() int { return len(r.b) - r.pos }

func (r *reader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

func (r *reader) ReadByte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	c := r.b[r.pos]
	r.pos++
	return c, nil
}

func (r *reader) byte() (byte, error) {
	off := r.offset()
	c, err := r.ReadByte()
	if err != nil {
		return 0, wasm.NewDecodeError(off, wasm.UnexpectedEnd, "expected one byte")
	}
	return c, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	off := r.offset()
	if r.remaining() < n {
		return nil, wasm.NewDecodeError(off, wasm.UnexpectedEnd, "expected more bytes")
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) u32() (uint32, error) {
	off := r.offset()
	v, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return 0, wrapLEB(off, err)
	}
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	off := r.offset()
	v, _, err := leb128.DecodeUint64(r)
	if err != nil {
		return 0, wrapLEB(off, err)
	}
	return v, nil
}

func (r *reader) s32() (int32, error) {
	off := r.offset()
	v, _, err := leb128.DecodeInt32(r)
	if err != nil {
		return 0, wrapLEB(off, err)
	}
	return v, nil
}

func (r *reader) s33() (int64, error) {
	off := r.offset()
	v, _, err := leb128.DecodeInt33AsInt64(r)
	if err != nil {
		return 0, wrapLEB(off, err)
	}
	return v, nil
}

func (r *reader) s64() (int64, error) {
	off := r.offset()
	v, _, err := leb128.DecodeInt64(r)
	if err != nil {
		return 0, wrapLEB(off, err)
	}
	return v, nil
}

func wrapLEB(off int, err error) error {
	switch err {
	case leb128.ErrIntegerRepresentationTooLong:
		return wasm.NewDecodeError(off, wasm.IntegerRepresentationTooLong, err.Error())
	case leb128.ErrIntegerOverflow:
		return wasm.NewDecodeError(off, wasm.IntegerOverflow, err.Error())
	default:
		return wasm.NewDecodeError(off, wasm.UnexpectedEnd, err.Error())
	}
}

func (r *reader) f32() (float32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

func (r *reader) f64() (float64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// name decodes a Wasm "name": a u32 byte length followed by that many UTF-8
// bytes, validated per the binary format's InvalidUTF8Encoding requirement.
func (r *reader) name() (string, error) {
	off := r.offset()
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", wasm.NewDecodeError(off, wasm.InvalidUTF8Encoding, "")
	}
	return string(b), nil
}
