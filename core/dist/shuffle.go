package dist

import (
	"fmt"
	"math/rand"
)

// ShuffleCoordinator applies the cross-worker batch shuffle used around
// the key-encoder forward pass. Shuffling decorrelates batch-norm
// statistics from positive-pair identity; since no gradients flow to
// the key encoder, the permutation needs no gradient routing.
//
// Under single-worker or non-synchronous execution both Shuffle and
// Unshuffle are pass-throughs.
type ShuffleCoordinator struct {
	coll Collective
	rng  *rand.Rand
}

// NewShuffleCoordinator creates a coordinator over the given collective.
// The seed drives rank 0's permutation draws; other ranks receive the
// permutation by broadcast and never consume their own randomness.
func NewShuffleCoordinator(coll Collective, seed int64) *ShuffleCoordinator {
	return &ShuffleCoordinator{
		coll: coll,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Shuffle gathers the local batch across all workers, applies a single
// globally-agreed random permutation, and returns this worker's slice of
// the permuted global batch along with the inverse permutation needed to
// undo it. The returned inverse is nil in pass-through mode.
func (s *ShuffleCoordinator) Shuffle(local [][]float32) ([][]float32, []int) {
	if !MultiWorker(s.coll) {
		return local, nil
	}

	localBatch := len(local)
	gathered := s.coll.AllGatherRows(local)
	total := len(gathered)

	var perm []int
	if s.coll.Rank() == 0 {
		perm = s.rng.Perm(total)
	}
	perm = s.coll.BroadcastInts(perm, 0)
	if len(perm) != total {
		panic(fmt.Sprintf("dist: broadcast permutation has length %d, want %d", len(perm), total))
	}

	inverse := make([]int, total)
	for i, p := range perm {
		inverse[p] = i
	}

	return selectSlice(gathered, perm, s.coll.Rank(), localBatch), inverse
}

// Unshuffle re-gathers the key-encoder outputs and restores this
// worker's rows to their original local order using the inverse
// permutation returned by Shuffle.
func (s *ShuffleCoordinator) Unshuffle(local [][]float32, inverse []int) [][]float32 {
	if !MultiWorker(s.coll) {
		return local
	}

	gathered := s.coll.AllGatherRows(local)
	return selectSlice(gathered, inverse, s.coll.Rank(), len(local))
}

// selectSlice indexes gathered rows by this rank's window of the
// permutation: indices [rank·batch, (rank+1)·batch).
func selectSlice(gathered [][]float32, perm []int, rank, localBatch int) [][]float32 {
	out := make([][]float32, localBatch)
	offset := rank * localBatch
	for i := range out {
		out[i] = gathered[perm[offset+i]]
	}
	return out
}
