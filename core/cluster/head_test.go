package cluster

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddings(n, dim int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = make([]float32, dim)
		for j := range rows[i] {
			rows[i][j] = float32(rng.NormFloat64())
		}
	}
	return rows
}

func TestLoss_MatchesLossAndGrad(t *testing.T) {
	h := NewHead(rand.New(rand.NewSource(1)), 8, 4, 0.1)
	q := embeddings(3, 8, 2)
	k := embeddings(3, 8, 3)

	want := h.Loss(q, k)
	got, _ := h.LossAndGrad(q, k)

	assert.InDelta(t, float64(want), float64(got), 1e-6)
}

// TestLoss_RewardsConfidence: sharper category logits mean a more
// confident assignment and a lower (more negative) penalty.
func TestLoss_RewardsConfidence(t *testing.T) {
	h := NewHead(rand.New(rand.NewSource(4)), 4, 4, 1.0)
	// Identity-ish projection so inputs control sharpness directly.
	for i := range h.proj.W.Data {
		h.proj.W.Data[i] = 0
	}
	for c := 0; c < 4; c++ {
		h.proj.W.Data[c*4+c] = 1
	}

	uniform := [][]float32{{1, 1, 1, 1}}
	confident := [][]float32{{10, 0, 0, 0}}

	assert.Less(t,
		float64(h.Loss(confident, confident)),
		float64(h.Loss(uniform, uniform)))
}

func TestLossAndGrad_QueryGradFiniteDifference(t *testing.T) {
	h := NewHead(rand.New(rand.NewSource(5)), 6, 3, 0.1)
	q := embeddings(2, 6, 6)
	k := embeddings(2, 6, 7)

	_, dq := h.LossAndGrad(q, k)

	const eps = 1e-2
	for j := 0; j < 6; j++ {
		orig := q[0][j]
		q[0][j] = orig + eps
		plus := float64(h.Loss(q, k))
		q[0][j] = orig - eps
		minus := float64(h.Loss(q, k))
		q[0][j] = orig

		numeric := (plus - minus) / (2 * eps)
		assert.InDelta(t, numeric, float64(dq[0][j]), 5e-2, "dq[0][%d]", j)
	}
}

func TestLossAndGrad_HeadParamFiniteDifference(t *testing.T) {
	h := NewHead(rand.New(rand.NewSource(8)), 4, 3, 0.2)
	q := embeddings(2, 4, 9)
	k := embeddings(2, 4, 10)

	for _, p := range h.Params() {
		p.ZeroGrad()
	}
	h.LossAndGrad(q, k)

	w := h.proj.W
	const eps = 1e-2
	for _, idx := range []int{0, 5, 11} {
		orig := w.Data[idx]
		w.Data[idx] = orig + eps
		plus := float64(h.Loss(q, k))
		w.Data[idx] = orig - eps
		minus := float64(h.Loss(q, k))
		w.Data[idx] = orig

		numeric := (plus - minus) / (2 * eps)
		assert.InDelta(t, numeric, float64(w.Grad[idx]), 5e-2, "dW[%d]", idx)
	}
}

func TestLossAndGrad_AccumulatesBothBranches(t *testing.T) {
	h := NewHead(rand.New(rand.NewSource(11)), 4, 2, 0.1)
	q := embeddings(2, 4, 12)
	k := embeddings(2, 4, 13)

	for _, p := range h.Params() {
		p.ZeroGrad()
	}
	h.LossAndGrad(q, k)

	var nonZero int
	for _, g := range h.proj.W.Grad {
		if g != 0 {
			nonZero++
		}
	}
	require.Positive(t, nonZero, "head gradients must accumulate")
}
