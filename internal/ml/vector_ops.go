package ml

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/novafeed/riptide/pkg/models"
)

// Vector operations shared by the clusterer, matcher and rankers. All
// functions are pure; length mismatches fail with models.ErrInvalidDimension
// because they indicate a programming error upstream.

// CosineSimilarity returns the cosine of the angle between a and b in
// [-1, 1]. Either vector having zero norm yields 0.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("cosine similarity: %w: %d vs %d", models.ErrInvalidDimension, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}

	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := floats.Dot(a, b) / (normA * normB)

	// Guard against floating error pushing the result out of range.
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim, nil
}

// EuclideanDistance returns the L2 distance between a and b.
func EuclideanDistance(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("euclidean distance: %w: %d vs %d", models.ErrInvalidDimension, len(a), len(b))
	}
	return floats.Distance(a, b, 2), nil
}

// ManhattanDistance returns the L1 distance between a and b.
func ManhattanDistance(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("manhattan distance: %w: %d vs %d", models.ErrInvalidDimension, len(a), len(b))
	}
	return floats.Distance(a, b, 1), nil
}

// NormalizeL2 returns a unit-norm copy of v. The zero vector (and the empty
// vector) comes back unchanged.
func NormalizeL2(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)

	norm := floats.Norm(out, 2)
	if norm == 0 {
		return out
	}
	floats.Scale(1/norm, out)
	return out
}

// CombineVectors returns the element-wise weighted sum of vectors. Weights
// are renormalized to sum to 1 first; vectors of unequal length are
// zero-padded to the longest. One weight per vector is required.
func CombineVectors(vectors [][]float64, weights []float64) ([]float64, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("combine vectors: %w: no input vectors", models.ErrInvalidDimension)
	}
	if len(vectors) != len(weights) {
		return nil, fmt.Errorf("combine vectors: %w: %d vectors, %d weights", models.ErrInvalidDimension, len(vectors), len(weights))
	}

	var weightSum float64
	for _, w := range weights {
		weightSum += w
	}
	if weightSum == 0 {
		return nil, fmt.Errorf("combine vectors: %w: weights sum to zero", models.ErrInvalidConfig)
	}

	maxLen := 0
	for _, v := range vectors {
		if len(v) > maxLen {
			maxLen = len(v)
		}
	}

	combined := make([]float64, maxLen)
	for i, v := range vectors {
		w := weights[i] / weightSum
		// AddScaled needs equal lengths; pad the shorter vectors.
		if len(v) < maxLen {
			padded := make([]float64, maxLen)
			copy(padded, v)
			v = padded
		}
		floats.AddScaled(combined, w, v)
	}
	return combined, nil
}

// AverageVectors returns the element-wise arithmetic mean of vectors, which
// must all share one length.
func AverageVectors(vectors [][]float64) ([]float64, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("average vectors: %w: no input vectors", models.ErrInvalidDimension)
	}

	dim := len(vectors[0])
	avg := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("average vectors: %w: %d vs %d", models.ErrInvalidDimension, dim, len(v))
		}
		floats.Add(avg, v)
	}
	floats.Scale(1/float64(len(vectors)), avg)
	return avg, nil
}
