package database

import (
	"math"
	"testing"
)

func TestEncodeDecodeVector(t *testing.T) {
	v := []float32{0.1, -0.5, 2.25, 0, math.Pi}

	buf := EncodeVector(v)
	got, err := DecodeVector(buf, len(v))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if len(got) != len(v) {
		t.Fatalf("expected %d elements, got %d", len(v), len(got))
	}
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("element %d: expected %f, got %f", i, v[i], got[i])
		}
	}
}

func TestEncodeVector_Length(t *testing.T) {
	v := make([]float32, 128)
	buf := EncodeVector(v)

	if len(buf) != 4+4*128 {
		t.Errorf("expected %d bytes, got %d", 4+4*128, len(buf))
	}
}

func TestDecodeVector_Rejections(t *testing.T) {
	valid := EncodeVector([]float32{1, 2, 3})

	tests := []struct {
		name string
		buf  []byte
		dim  int
	}{
		{"too short for header", []byte{0, 0}, 3},
		{"declared count disagrees with dim", valid, 4},
		{"truncated payload", valid[:len(valid)-2], 3},
		{"trailing garbage", append(append([]byte{}, valid...), 0xFF), 3},
		{"empty blob", nil, 3},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeVector(tc.buf, tc.dim); err == nil {
				t.Error("expected decode to fail, got nil error")
			}
		})
	}
}

func TestDecodeVector_ZeroDim(t *testing.T) {
	buf := EncodeVector(nil)

	got, err := DecodeVector(buf, 0)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty vector, got %d elements", len(got))
	}
}
