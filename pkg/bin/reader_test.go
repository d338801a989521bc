package bin

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestUint8(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x42}))
	v, err := r.Uint8()
	if err != nil {
		t.Fatalf("Uint8: %v", err)
	}
	if v != 0x42 {
		t.Errorf("got %#x, want 0x42", v)
	}
}

func TestUint32LittleEndian(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x04, 0x03, 0x02, 0x01}))
	v, err := r.Uint32()
	if err != nil {
		t.Fatalf("Uint32: %v", err)
	}
	if v != 0x01020304 {
		t.Errorf("got %#x, want 0x01020304", v)
	}
}

func TestUint64LittleEndian(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{1, 0, 0, 0, 0, 0, 0, 0}))
	v, err := r.Uint64()
	if err != nil {
		t.Fatalf("Uint64: %v", err)
	}
	if v != 1 {
		t.Errorf("got %d, want 1", v)
	}
}

func TestFloat64(t *testing.T) {
	// 1.5 in IEEE-754 little-endian bytes.
	r := NewReader(bytes.NewReader([]byte{0, 0, 0, 0, 0, 0, 0xf8, 0x3f}))
	v, err := r.Float64()
	if err != nil {
		t.Fatalf("Float64: %v", err)
	}
	if v != 1.5 {
		t.Errorf("got %v, want 1.5", v)
	}
}

func TestStringEmpty(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0, 0, 0, 0, 0, 0, 0, 0}))
	s, err := r.String()
	if err != nil {
		t.Fatalf("String: %v", err)
	}
	if s != "" {
		t.Errorf("got %q, want empty", s)
	}
}

func TestStringStripsNUL(t *testing.T) {
	// size = 6 (5 chars + NUL)
	buf := []byte{6, 0, 0, 0, 0, 0, 0, 0}
	buf = append(buf, []byte("hello\x00")...)
	r := NewReader(bytes.NewReader(buf))
	s, err := r.String()
	if err != nil {
		t.Fatalf("String: %v", err)
	}
	if s != "hello" {
		t.Errorf("got %q, want %q", s, "hello")
	}
}

func TestShortReadIsUnexpectedEOF(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{1, 2}))
	_, err := r.Bytes(4)
	if err == nil {
		t.Fatal("expected error on short read")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("got %v, want wrapped io.ErrUnexpectedEOF", err)
	}
}

func TestBool(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x00, 0x01, 0xFF}))
	for i, want := range []bool{false, true, true} {
		got, err := r.Bool()
		if err != nil {
			t.Fatalf("Bool[%d]: %v", i, err)
		}
		if got != want {
			t.Errorf("Bool[%d] = %v, want %v", i, got, want)
		}
	}
}
