// Package cluster implements the optional auxiliary clustering loss: a
// shared linear projection soft-assigns query and key embeddings to a
// fixed number of categories, and the loss rewards confident,
// low-entropy assignments for both augmented views jointly.
package cluster

import (
	"math"
	"math/rand"

	"github.com/adalundhe/contrail/core/nn"
)

// Head is the shared projection from embedding space to category
// logits, with the inverse-temperature scale alpha applied inside the
// softmax.
type Head struct {
	proj       *nn.Linear
	alpha      float32
	categories int
}

// NewHead creates a clustering head over embDim-dimensional embeddings.
func NewHead(rng *rand.Rand, embDim, categories int, alpha float32) *Head {
	return &Head{
		proj:       nn.NewLinear(rng, "cluster", embDim, categories),
		alpha:      alpha,
		categories: categories,
	}
}

// Params returns the head's trainable parameters.
func (h *Head) Params() []*nn.Param { return h.proj.Params() }

// Categories returns the number of target categories.
func (h *Head) Categories() int { return h.categories }

// Loss evaluates the clustering penalty without touching gradients:
//
//	−(Σ softmax(α·zq)⊙zq + Σ softmax(α·zk)⊙zk) / α
//
// summed over all rows and categories of both views.
func (h *Head) Loss(q, k [][]float32) float32 {
	zq := h.proj.Forward(q)
	zk := h.proj.Forward(k)
	return -(assignmentScore(zq, h.alpha) + assignmentScore(zk, h.alpha)) / h.alpha
}

// LossAndGrad evaluates the penalty, accumulates the head's parameter
// gradients from both branches, and returns the gradient with respect
// to the query embeddings. Key embeddings carry no gradients, so the
// key branch contributes only to the head parameters.
func (h *Head) LossAndGrad(q, k [][]float32) (float32, [][]float32) {
	zq := h.proj.Forward(q)
	dq := h.proj.Backward(h.scoreGrad(zq))
	lossQ := assignmentScore(zq, h.alpha)

	zk := h.proj.Forward(k)
	h.proj.Backward(h.scoreGrad(zk))
	lossK := assignmentScore(zk, h.alpha)

	return -(lossQ + lossK) / h.alpha, dq
}

// scoreGrad returns d(−score/α)/dz for one branch. With s = softmax(αz)
// and f = Σ_c s_c·z_c per row:
//
//	d/dz_c [−f/α] = −s_c/α − s_c·(z_c − f)
func (h *Head) scoreGrad(z [][]float32) [][]float32 {
	grads := make([][]float32, len(z))
	for i, row := range z {
		s := softmax(row, h.alpha)
		var f float32
		for c := range row {
			f += s[c] * row[c]
		}
		g := make([]float32, len(row))
		for c := range row {
			g[c] = -s[c]/h.alpha - s[c]*(row[c]-f)
		}
		grads[i] = g
	}
	return grads
}

// assignmentScore computes Σ softmax(α·z)⊙z over all rows.
func assignmentScore(z [][]float32, alpha float32) float32 {
	var total float64
	for _, row := range z {
		s := softmax(row, alpha)
		for c := range row {
			total += float64(s[c]) * float64(row[c])
		}
	}
	return float32(total)
}

// softmax computes softmax(alpha·row) with max subtraction for
// stability.
func softmax(row []float32, alpha float32) []float32 {
	maxVal := alpha * row[0]
	for _, v := range row[1:] {
		if alpha*v > maxVal {
			maxVal = alpha * v
		}
	}
	var sum float64
	out := make([]float32, len(row))
	for c, v := range row {
		e := math.Exp(float64(alpha*v - maxVal))
		out[c] = float32(e)
		sum += e
	}
	for c := range out {
		out[c] = float32(float64(out[c]) / sum)
	}
	return out
}
