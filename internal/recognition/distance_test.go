package recognition

import (
	"math"
	"testing"
)

func TestL2Distance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"pythagorean", []float32{0, 0}, []float32{3, 4}, 5},
		{"single axis", []float32{0, 0, 0}, []float32{0.5, 0, 0}, 0.5},
		{"negative components", []float32{-1, 0}, []float32{1, 0}, 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := L2Distance(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("L2Distance(%v, %v) = %f, want %f", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestL2Distance_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
	}{
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}},
		{"both empty", nil, nil},
		{"one empty", []float32{1}, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := L2Distance(tc.a, tc.b); !math.IsInf(got, 1) {
				t.Errorf("expected +Inf for invalid input, got %f", got)
			}
		})
	}
}

func TestL2Distance_Symmetric(t *testing.T) {
	a := []float32{0.1, -0.4, 2.5}
	b := []float32{-1.2, 0.8, 0.3}

	if L2Distance(a, b) != L2Distance(b, a) {
		t.Error("expected distance to be symmetric")
	}
}
