package vectorstore

import "math"

// cosineDistance is 1 - cos(a, b), clamped to [0, 1]. Mismatched or zero
// vectors are maximally distant.
func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return clampDistance(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}

func clampDistance(d float64) float64 {
	if math.IsNaN(d) {
		return 1
	}
	return math.Max(0, math.Min(1, d))
}
