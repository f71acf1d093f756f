package trainer

import "math/rand"

// SyntheticBatcher generates paired views by perturbing a shared base
// sample with independent Gaussian noise, mimicking two augmentations
// of the same input. Useful for smoke tests and benchmarking the loop
// without a dataset.
type SyntheticBatcher struct {
	rng      *rand.Rand
	batch    int
	dim      int
	noiseStd float64
}

// NewSyntheticBatcher creates a batcher emitting batch pairs of
// dim-dimensional rows. noiseStd controls how far the two views drift
// from their shared base.
func NewSyntheticBatcher(seed int64, batch, dim int, noiseStd float64) *SyntheticBatcher {
	return &SyntheticBatcher{
		rng:      rand.New(rand.NewSource(seed)),
		batch:    batch,
		dim:      dim,
		noiseStd: noiseStd,
	}
}

// NextBatch emits the next pair of views.
func (b *SyntheticBatcher) NextBatch() (imgQ, imgK [][]float32) {
	imgQ = make([][]float32, b.batch)
	imgK = make([][]float32, b.batch)
	for i := 0; i < b.batch; i++ {
		imgQ[i] = make([]float32, b.dim)
		imgK[i] = make([]float32, b.dim)
		for j := 0; j < b.dim; j++ {
			base := b.rng.NormFloat64()
			imgQ[i][j] = float32(base + b.noiseStd*b.rng.NormFloat64())
			imgK[i][j] = float32(base + b.noiseStd*b.rng.NormFloat64())
		}
	}
	return imgQ, imgK
}
