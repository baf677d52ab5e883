package storage

import (
	"testing"
)

func TestFloat32Codec(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, 3.14159}
	out, err := decodeFloat32s(encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d values, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("value %d = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestDecodeFloat32s_CorruptBlob(t *testing.T) {
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for blob not divisible by 4")
	}
}

func TestDecodeFloat32s_Empty(t *testing.T) {
	out, err := decodeFloat32s(nil)
	if err != nil {
		t.Fatalf("decode nil: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("got %d values, want 0", len(out))
	}
}
