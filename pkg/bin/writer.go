package bin

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Writer is Reader's encoding counterpart: it emits the primitive
// little-endian types of a Lua 5.1 binary chunk.
type Writer struct {
	w   io.Writer
	pos int64
}

// NewWriter wraps w for primitive encoding.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Bytes writes b in full.
func (w *Writer) Bytes(b []byte) error {
	n, err := w.w.Write(b)
	w.pos += int64(n)
	if err != nil {
		return fmt.Errorf("bin: write %d bytes at offset %d: %w", len(b), w.pos-int64(n), err)
	}
	return nil
}

// Uint8 writes one unsigned byte.
func (w *Writer) Uint8(v uint8) error {
	return w.Bytes([]byte{v})
}

// Bool writes one byte encoding a boolean (1 for true, 0 for false).
func (w *Writer) Bool(v bool) error {
	if v {
		return w.Uint8(1)
	}
	return w.Uint8(0)
}

// Uint32 writes a 4-byte little-endian unsigned integer.
func (w *Writer) Uint32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return w.Bytes(b[:])
}

// Int32 writes a 4-byte little-endian signed integer.
func (w *Writer) Int32(v int32) error {
	return w.Uint32(uint32(v))
}

// Uint64 writes an 8-byte little-endian unsigned integer.
func (w *Writer) Uint64(v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return w.Bytes(b[:])
}

// Float64 writes an 8-byte IEEE-754 double.
func (w *Writer) Float64(v float64) error {
	return w.Uint64(math.Float64bits(v))
}

// String writes a length-prefixed string in the chunk format Reader's
// String expects: an empty string is a bare zero size, a nonzero
// string's size counts the trailing NUL terminator that follows it.
func (w *Writer) String(s string) error {
	if s == "" {
		return w.Uint64(0)
	}
	if err := w.Uint64(uint64(len(s) + 1)); err != nil {
		return err
	}
	if err := w.Bytes([]byte(s)); err != nil {
		return err
	}
	return w.Uint8(0)
}
