// Package contrast assembles the InfoNCE contrastive classification
// problem: one positive similarity and K negative similarities per
// example, temperature-scaled, with the positive always at column 0.
package contrast

import (
	"fmt"

	"github.com/viterin/vek/vek32"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/adalundhe/contrail/core/queue"
)

// AssembleQueueLogits builds batch×(1+N) logits from normalized query
// and key embeddings with the full queue as negatives:
// column 0 is qᵢ·kᵢ, columns 1..N are qᵢ·queueⱼ, all divided by the
// softmax temperature. Targets are implicitly all zero.
func AssembleQueueLogits(q, k [][]float32, negatives *queue.Queue, temperature float32) [][]float32 {
	batch := len(q)
	dim := negatives.Dim()
	n := negatives.Capacity()

	flatQ := make([]float32, batch*dim)
	for i, row := range q {
		copy(flatQ[i*dim:], row)
	}

	// q·queueᵀ for all pairs in one GEMM.
	neg := make([]float32, batch*n)
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: batch, Cols: dim, Stride: dim, Data: flatQ},
		blas32.General{Rows: n, Cols: dim, Stride: dim, Data: negatives.Data()},
		0,
		blas32.General{Rows: batch, Cols: n, Stride: n, Data: neg},
	)

	logits := make([][]float32, batch)
	for i := range logits {
		row := make([]float32, 1+n)
		row[0] = vek32.Dot(q[i], k[i])
		copy(row[1:], neg[i*n:(i+1)*n])
		vek32.MulNumber_Inplace(row, 1/temperature)
		logits[i] = row
	}
	return logits
}

// QueueLogitsBackward maps gradients on the scaled logits back to
// gradients on the query embeddings for the queue path:
//
//	dqᵢ = (dlᵢ₀·kᵢ + Σⱼ dlᵢⱼ·queueⱼ) / T
func QueueLogitsBackward(dlogits [][]float32, k [][]float32, negatives *queue.Queue, temperature float32) [][]float32 {
	batch := len(dlogits)
	dim := negatives.Dim()
	n := negatives.Capacity()

	flatDneg := make([]float32, batch*n)
	for i, row := range dlogits {
		if len(row) != 1+n {
			panic(fmt.Sprintf("contrast: dlogits row %d has width %d, want %d", i, len(row), 1+n))
		}
		copy(flatDneg[i*n:], row[1:])
	}

	// dlₙₑ₉·queue accumulates the negative contribution.
	flatDq := make([]float32, batch*dim)
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: batch, Cols: n, Stride: n, Data: flatDneg},
		blas32.General{Rows: n, Cols: dim, Stride: dim, Data: negatives.Data()},
		0,
		blas32.General{Rows: batch, Cols: dim, Stride: dim, Data: flatDq},
	)

	inv := 1 / temperature
	dq := make([][]float32, batch)
	for i := range dq {
		row := make([]float32, dim)
		copy(row, flatDq[i*dim:(i+1)*dim])
		for j := range row {
			row[j] = (row[j] + dlogits[i][0]*k[i][j]) * inv
		}
		dq[i] = row
	}
	return dq
}

// AssembleKNNLogits builds batch×(1+topk) logits where each query's
// negatives are its own mined neighbor set.
func AssembleKNNLogits(q, k [][]float32, neighbors [][][]float32, temperature float32) [][]float32 {
	batch := len(q)
	logits := make([][]float32, batch)
	for i := range logits {
		topk := len(neighbors[i])
		row := make([]float32, 1+topk)
		row[0] = vek32.Dot(q[i], k[i])
		for j, neighbor := range neighbors[i] {
			row[1+j] = vek32.Dot(q[i], neighbor)
		}
		vek32.MulNumber_Inplace(row, 1/temperature)
		logits[i] = row
	}
	return logits
}

// KNNLogitsBackward maps scaled-logit gradients back to query-embedding
// gradients for the KNN path.
func KNNLogitsBackward(dlogits [][]float32, k [][]float32, neighbors [][][]float32, temperature float32) [][]float32 {
	batch := len(dlogits)
	inv := 1 / temperature

	dq := make([][]float32, batch)
	for i := range dq {
		dim := len(k[i])
		row := make([]float32, dim)
		for j := range row {
			row[j] = dlogits[i][0] * k[i][j]
		}
		for j, neighbor := range neighbors[i] {
			g := dlogits[i][1+j]
			for d := range row {
				row[d] += g * neighbor[d]
			}
		}
		vek32.MulNumber_Inplace(row, inv)
		dq[i] = row
	}
	return dq
}
