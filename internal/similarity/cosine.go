package similarity

import (
	"math"

	"github.com/DRSN-tech/product-identity/pkg/e"
)

// Cosine возвращает косинусное сходство a и b, ограниченное диапазоном [0,1].
// Нулевая норма любого из векторов даёт 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, e.ErrEmptyVector
	}
	if len(a) != len(b) {
		return 0, e.ErrDimensionMismatch
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

	return clamp01(dot / (math.Sqrt(normA) * math.Sqrt(normB))), nil
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
