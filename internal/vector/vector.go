// Package vector holds the float32 vector math shared by the embedding model
// and the in-process store.
package vector

import "math"

// Zero returns a zero vector of the given dimension.
func Zero(dims int) []float32 { return make([]float32, dims) }

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// IsFinite reports whether v contains no NaN or Inf components.
func IsFinite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Normalize returns a unit-length copy of v. Zero vectors are returned as a zero copy.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	n := Norm(v)
	if n == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// Cosine returns the cosine similarity of a and b in [-1, 1].
// Mismatched lengths and zero vectors have similarity 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Score converts a cosine similarity into the reported score:
// 1 minus the cosine distance, with the distance capped to [0, 1].
func Score(similarity float64) float64 {
	return ScoreFromDistance(1 - similarity)
}

// ScoreFromDistance converts a cosine distance (as returned by Valkey/Redis KNN)
// into a score in [0, 1].
func ScoreFromDistance(distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	return 1 - math.Min(1, math.Max(0, distance))
}
