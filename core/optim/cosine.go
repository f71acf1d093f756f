package optim

import "math"

// CosineSchedule anneals the learning rate from the base value to zero
// over the configured maximum epoch count:
//
//	lr(e) = base · (1 + cos(π·e/maxEpochs)) / 2
type CosineSchedule struct {
	base      float32
	maxEpochs int
}

// NewCosineSchedule creates a schedule spanning maxEpochs epochs.
func NewCosineSchedule(base float32, maxEpochs int) *CosineSchedule {
	if maxEpochs < 1 {
		maxEpochs = 1
	}
	return &CosineSchedule{base: base, maxEpochs: maxEpochs}
}

// LR returns the learning rate for the given zero-based epoch. Epochs
// past the configured span stay at the final value.
func (s *CosineSchedule) LR(epoch int) float32 {
	if epoch > s.maxEpochs {
		epoch = s.maxEpochs
	}
	progress := float64(epoch) / float64(s.maxEpochs)
	return s.base * float32(0.5*(1+math.Cos(math.Pi*progress)))
}
