// Package dist abstracts the collective-communication layer used by
// data-parallel training. The learner depends only on this contract, so
// single-process runs and in-process worker groups share the same code
// paths as a real multi-host deployment would.
package dist

// Collective exposes the blocking collective primitives the training
// core needs. Gather operations concatenate by ascending worker rank;
// every worker must reach each collective call in the same order, and
// each call blocks until all peers arrive.
type Collective interface {
	// AllGatherRows gathers a row batch from every worker and returns
	// the concatenation in rank order. Every worker receives the full
	// gathered batch.
	AllGatherRows(local [][]float32) [][]float32

	// BroadcastInts distributes root's slice to every worker. Workers
	// other than root may pass nil.
	BroadcastInts(buf []int, root int) []int

	// Rank is this worker's index in [0, WorldSize).
	Rank() int

	// WorldSize is the number of parallel workers.
	WorldSize() int

	// Synchronous reports whether the run uses synchronous data-parallel
	// semantics. Distributed-only paths (batch shuffling, cross-worker
	// gathers) degrade to no-ops when false or when WorldSize is 1.
	Synchronous() bool
}

// MultiWorker reports whether c requires the cross-worker code paths.
func MultiWorker(c Collective) bool {
	return c != nil && c.Synchronous() && c.WorldSize() > 1
}

// SingleProcess is the identity Collective for single-worker runs.
type SingleProcess struct{}

// AllGatherRows returns the local batch unchanged.
func (SingleProcess) AllGatherRows(local [][]float32) [][]float32 { return local }

// BroadcastInts returns the buffer unchanged.
func (SingleProcess) BroadcastInts(buf []int, root int) []int { return buf }

// Rank returns 0.
func (SingleProcess) Rank() int { return 0 }

// WorldSize returns 1.
func (SingleProcess) WorldSize() int { return 1 }

// Synchronous returns false.
func (SingleProcess) Synchronous() bool { return false }

var _ Collective = SingleProcess{}
