package embeddings

import (
	"errors"
	"fmt"
	"math"
)

var ErrZeroVector = errors.New("embedding has zero norm")

// EnsureDim L2-normalises vec and forces it to dim entries: longer vectors are truncated,
// shorter ones zero-padded, and the result is renormalised.
func EnsureDim(vec []float32, dim int) ([]float32, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty embedding")
	}
	out := make([]float32, dim)
	n := copy(out, vec)
	for i := 0; i < n; i++ {
		if math.IsNaN(float64(out[i])) || math.IsInf(float64(out[i]), 0) {
			return nil, fmt.Errorf("embedding has non-finite value at %d", i)
		}
	}
	norm := l2(out)
	if norm == 0 {
		return nil, ErrZeroVector
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out, nil
}

func l2(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
