// Package embeddings provides utilities for embedding vectors (cosine similarity, magnitude).
package embeddings

import (
	"errors"
	"math"
)

// ErrDimensionMismatch is returned when two vectors do not have the same length.
var ErrDimensionMismatch = errors.New("embeddings: vector dimension mismatch")

// Magnitude returns the L2 norm of the vector, accumulated in float64.
func Magnitude(vector []float32) float64 {
	var sumSquares float64

	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}

	return math.Sqrt(sumSquares)
}

// CosineSimilarity returns dot(a,b) / (|a|*|b|) in [-1, 1].
// An all-zero vector on either side has no direction; its similarity is defined as 0.
// Vectors of different lengths return ErrDimensionMismatch.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}

	var dot, normA, normB float64

	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))

	// Rounding can push parallel vectors a hair past ±1.
	return math.Max(-1, math.Min(1, sim)), nil
}

// IsFinite reports whether every component of the vector is a finite number.
func IsFinite(vector []float32) bool {
	for _, v := range vector {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}

	return true
}
