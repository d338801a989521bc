// Package bin decodes the primitive little-endian types used by a Lua
// 5.1 binary chunk: fixed-width integers, an IEEE-754 double, and
// length-prefixed strings.
package bin

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Reader wraps a byte source positioned at the start of a Lua 5.1
// binary chunk (or any sub-slice of one). All multi-byte reads are
// little-endian, matching the chunk profile this package supports.
type Reader struct {
	r   io.Reader
	pos int64
}

// NewReader wraps r for primitive decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Pos returns the number of bytes consumed so far, for error messages.
func (r *Reader) Pos() int64 {
	return r.pos
}

// Bytes reads exactly n bytes, failing with an error wrapping
// io.ErrUnexpectedEOF on a short read.
func (r *Reader) Bytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(r.r, buf)
	r.pos += int64(read)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("bin: read %d bytes at offset %d: %w", n, r.pos-int64(read), io.ErrUnexpectedEOF)
		}
		return nil, fmt.Errorf("bin: read %d bytes at offset %d: %w", n, r.pos-int64(read), err)
	}
	return buf, nil
}

// Uint8 reads one unsigned byte.
func (r *Reader) Uint8() (uint8, error) {
	b, err := r.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Bool reads one byte as a boolean (nonzero is true), the encoding
// used for the chunk header's flag bytes and Boolean constants.
func (r *Reader) Bool() (bool, error) {
	b, err := r.Uint8()
	return b != 0, err
}

// Uint32 reads a 4-byte little-endian unsigned integer (Lua's `int`
// and the encoded size of an instruction array / code block).
func (r *Reader) Uint32() (uint32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Int32 reads a 4-byte little-endian signed integer.
func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

// Uint64 reads an 8-byte little-endian unsigned integer (Lua's
// `size_t`, used as the length prefix of strings).
func (r *Reader) Uint64() (uint64, error) {
	b, err := r.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Float64 reads an 8-byte IEEE-754 double (Lua's `lua_Number`).
func (r *Reader) Float64() (float64, error) {
	b, err := r.Bytes(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// String reads a length-prefixed string: an 8-byte little-endian size,
// then that many bytes. A size of 0 denotes the empty/nil string and
// no following bytes are read. A nonzero size includes one trailing
// NUL terminator, which is stripped; the remaining bytes are returned
// as-is, without UTF-8 validation.
func (r *Reader) String() (string, error) {
	size, err := r.Uint64()
	if err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	b, err := r.Bytes(int(size))
	if err != nil {
		return "", err
	}
	return string(b[:len(b)-1]), nil
}
