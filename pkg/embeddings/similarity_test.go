package embeddings

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	const tol = 1e-9

	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical vectors", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite vectors", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal vectors", []float32{1, 0}, []float32{0, 1}, 0},
		{"scale invariant", []float32{3, 4}, []float32{6, 8}, 1},
		{"zero query vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"zero candidate vector", []float32{1, 1}, []float32{0, 0}, 0},
		{"45 degrees", []float32{1, 0}, []float32{1, 1}, 1 / math.Sqrt2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if math.Abs(got-tt.want) > tol {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
		if err != ErrDimensionMismatch {
			t.Errorf("expected ErrDimensionMismatch, got %v", err)
		}
	})
}

func TestMagnitude(t *testing.T) {
	if got := Magnitude([]float32{3, 4}); math.Abs(got-5) > 1e-9 {
		t.Errorf("Magnitude() = %v, want 5", got)
	}

	if got := Magnitude(nil); got != 0 {
		t.Errorf("Magnitude(nil) = %v, want 0", got)
	}
}

func TestIsFinite(t *testing.T) {
	if !IsFinite([]float32{0.1, -2}) {
		t.Error("finite vector reported as non-finite")
	}

	if IsFinite([]float32{0.1, float32(math.NaN())}) {
		t.Error("NaN component not detected")
	}

	if IsFinite([]float32{float32(math.Inf(1))}) {
		t.Error("Inf component not detected")
	}
}
