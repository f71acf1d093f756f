package nn

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// normEpsilon guards against division by zero for degenerate inputs.
const normEpsilon = 1e-12

// Normalize returns row-wise L2-normalized copies of the input rows.
func Normalize(rows [][]float32) [][]float32 {
	out := make([][]float32, len(rows))
	for i, row := range rows {
		norm := float32(math.Sqrt(float64(vek32.Dot(row, row))))
		if norm < normEpsilon {
			norm = normEpsilon
		}
		dst := make([]float32, len(row))
		copy(dst, row)
		vek32.MulNumber_Inplace(dst, 1/norm)
		out[i] = dst
	}
	return out
}

// NormalizeBackward maps gradients with respect to normalized rows back
// to gradients with respect to the pre-normalization rows:
//
//	d/du (u/‖u‖) · g  =  (g − n(n·g)) / ‖u‖   with n = u/‖u‖
func NormalizeBackward(pre, grad [][]float32) [][]float32 {
	out := make([][]float32, len(pre))
	for i, u := range pre {
		norm := float32(math.Sqrt(float64(vek32.Dot(u, u))))
		if norm < normEpsilon {
			norm = normEpsilon
		}
		g := grad[i]
		proj := vek32.Dot(u, g) / (norm * norm)
		dst := make([]float32, len(u))
		for j := range u {
			dst[j] = (g[j] - u[j]*proj) / norm
		}
		out[i] = dst
	}
	return out
}
