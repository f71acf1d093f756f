// Package encoder manages the query/key encoder pair at the heart of
// momentum-contrastive training: two structurally identical backbones
// where the key side is updated only by exponential moving-average
// blending from the query side.
package encoder

import (
	"fmt"

	"github.com/viterin/vek/vek32"

	"github.com/adalundhe/contrail/core/nn"
)

// Pair holds the query and key encoders. Key parameters start as an
// exact copy of the query parameters and are frozen: gradient descent
// never touches them, only MomentumUpdate does.
type Pair struct {
	Query nn.Backbone
	Key   nn.Backbone
}

// NewPair builds two encoders from the same factory, copies query
// parameters into the key encoder elementwise, and freezes the key side.
// The factory must be deterministic in architecture; parameter values
// are overwritten by the copy regardless.
func NewPair(build func() (nn.Backbone, error)) (*Pair, error) {
	query, err := build()
	if err != nil {
		return nil, fmt.Errorf("build query encoder: %w", err)
	}
	key, err := build()
	if err != nil {
		return nil, fmt.Errorf("build key encoder: %w", err)
	}

	qp, kp := query.Params(), key.Params()
	if len(qp) != len(kp) {
		return nil, fmt.Errorf("encoder: parameter schema mismatch: query has %d tensors, key has %d", len(qp), len(kp))
	}
	for i := range kp {
		kp[i].CopyDataFrom(qp[i])
		kp[i].Freeze()
	}

	return &Pair{Query: query, Key: key}, nil
}

// MomentumUpdate blends query parameters into key parameters:
// key ← key·m + query·(1−m), elementwise per parameter pair. The key
// side carries no gradient buffers, so the mutation is purely numeric.
// Must run once per training step, before the key forward pass.
func (p *Pair) MomentumUpdate(m float32) {
	qp, kp := p.Query.Params(), p.Key.Params()
	for i := range kp {
		vek32.MulNumber_Inplace(kp[i].Data, m)
		blended := vek32.MulNumber(qp[i].Data, 1-m)
		vek32.Add_Inplace(kp[i].Data, blended)
	}
}
