// Package queue implements the fixed-capacity negative-sample queue: a
// rolling buffer of the most recent key embeddings, overwritten oldest
// first. The training module owns two instances, one fed by training
// batches and one by validation batches, so the two never mix.
package queue

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/viterin/vek/vek32"

	"github.com/adalundhe/contrail/core/dist"
)

// Queue is a pre-allocated capacity×dim buffer of key embeddings with a
// circular write pointer. Storage is fixed at construction; Enqueue
// never allocates. Queue is not safe for concurrent use — the
// single-threaded-per-worker execution model makes locking unnecessary.
type Queue struct {
	dim       int
	capacity  int
	batchSize int

	data []float32
	ptr  int
}

// New creates a queue whose slots are initialized with L2-normalized
// Gaussian noise, matching the behavior of a freshly constructed model
// before any real keys arrive.
func New(rng *rand.Rand, dim, capacity, batchSize int) *Queue {
	if dim <= 0 || capacity <= 0 || batchSize <= 0 {
		panic(fmt.Sprintf("queue: invalid dimensions dim=%d capacity=%d batch=%d", dim, capacity, batchSize))
	}
	q := &Queue{
		dim:       dim,
		capacity:  capacity,
		batchSize: batchSize,
		data:      make([]float32, capacity*dim),
	}
	for i := range q.data {
		q.data[i] = float32(rng.NormFloat64())
	}
	for s := 0; s < capacity; s++ {
		slot := q.Slot(s)
		norm := float32(math.Sqrt(float64(vek32.Dot(slot, slot))))
		if norm > 0 {
			vek32.MulNumber_Inplace(slot, 1/norm)
		}
	}
	return q
}

// Enqueue writes a batch of key embeddings into the queue at the write
// pointer and advances it modulo capacity.
//
// Under synchronous multi-worker execution the keys are first gathered
// across all workers in rank order, so every replica enqueues the same
// full batch and replicated queues stay identical.
//
// If the gathered batch size does not equal the configured batch size —
// a final under-sized batch — the enqueue is silently skipped: neither
// the contents nor the pointer change. Skipping, not erroring, preserves
// queue alignment.
func (q *Queue) Enqueue(keys [][]float32, coll dist.Collective) {
	if dist.MultiWorker(coll) {
		keys = coll.AllGatherRows(keys)
	}
	if len(keys) != q.batchSize {
		return
	}

	for i, key := range keys {
		if len(key) != q.dim {
			panic(fmt.Sprintf("queue: key %d has dimension %d, want %d", i, len(key), q.dim))
		}
		copy(q.Slot((q.ptr+i)%q.capacity), key)
	}
	q.ptr = (q.ptr + len(keys)) % q.capacity
}

// Slot returns a mutable view of the i-th embedding slot.
func (q *Queue) Slot(i int) []float32 {
	return q.data[i*q.dim : (i+1)*q.dim]
}

// Data returns the flat capacity×dim row-major storage, suitable for
// direct use as a BLAS matrix. Callers must not resize it.
func (q *Queue) Data() []float32 { return q.data }

// Pointer returns the next write offset, in [0, Capacity).
func (q *Queue) Pointer() int { return q.ptr }

// Capacity returns the number of embedding slots.
func (q *Queue) Capacity() int { return q.capacity }

// Dim returns the embedding dimension.
func (q *Queue) Dim() int { return q.dim }

// BatchSize returns the configured training batch size enforced by
// Enqueue.
func (q *Queue) BatchSize() int { return q.batchSize }

// Restore overwrites the queue contents and pointer, used when loading
// a checkpoint. The data length must match capacity×dim exactly.
func (q *Queue) Restore(data []float32, ptr int) error {
	if len(data) != len(q.data) {
		return fmt.Errorf("queue: restore size %d, want %d", len(data), len(q.data))
	}
	if ptr < 0 || ptr >= q.capacity {
		return fmt.Errorf("queue: restore pointer %d out of range [0,%d)", ptr, q.capacity)
	}
	copy(q.data, data)
	q.ptr = ptr
	return nil
}
