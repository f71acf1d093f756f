package contrast

import (
	"math"
)

// CrossEntropy computes the mean categorical cross-entropy of the
// logits against the synthetic target: the positive class at index 0 in
// every row. Uses log-sum-exp for numerical stability.
func CrossEntropy(logits [][]float32) float32 {
	var total float64
	for _, row := range logits {
		maxLogit := row[0]
		for _, v := range row[1:] {
			if v > maxLogit {
				maxLogit = v
			}
		}
		var sumExp float64
		for _, v := range row {
			sumExp += math.Exp(float64(v - maxLogit))
		}
		logSumExp := float64(maxLogit) + math.Log(sumExp)
		total += logSumExp - float64(row[0])
	}
	return float32(total / float64(len(logits)))
}

// CrossEntropyBackward returns the gradient of CrossEntropy with
// respect to the logits: (softmax(row) − onehot₀) / batch.
func CrossEntropyBackward(logits [][]float32) [][]float32 {
	batch := len(logits)
	grads := make([][]float32, batch)
	for i, row := range logits {
		maxLogit := row[0]
		for _, v := range row[1:] {
			if v > maxLogit {
				maxLogit = v
			}
		}
		var sumExp float64
		exps := make([]float64, len(row))
		for j, v := range row {
			exps[j] = math.Exp(float64(v - maxLogit))
			sumExp += exps[j]
		}

		g := make([]float32, len(row))
		for j := range g {
			g[j] = float32(exps[j] / sumExp / float64(batch))
		}
		g[0] -= 1 / float32(batch)
		grads[i] = g
	}
	return grads
}

// PrecisionAtK returns, for each k, the fraction of rows whose positive
// logit (column 0) ranks within the top k of its row. Ties are broken
// in favor of the positive, matching the convention that an equal score
// counts as retrieved.
func PrecisionAtK(logits [][]float32, ks ...int) []float64 {
	hits := make([]int, len(ks))
	for _, row := range logits {
		rank := positiveRank(row)
		for i, k := range ks {
			if rank <= k {
				hits[i]++
			}
		}
	}
	out := make([]float64, len(ks))
	for i := range out {
		out[i] = float64(hits[i]) / float64(len(logits))
	}
	return out
}

// positiveRank returns the 1-based rank of row[0] among all entries.
func positiveRank(row []float32) int {
	rank := 1
	for _, v := range row[1:] {
		if v > row[0] {
			rank++
		}
	}
	return rank
}
