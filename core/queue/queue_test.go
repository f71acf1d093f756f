package queue

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/contrail/core/dist"
)

func keyBatch(n, dim int, base float32) [][]float32 {
	keys := make([][]float32, n)
	for i := range keys {
		keys[i] = make([]float32, dim)
		for j := range keys[i] {
			keys[i][j] = base + float32(i)
		}
	}
	return keys
}

func TestNew_SlotsNormalized(t *testing.T) {
	q := New(rand.New(rand.NewSource(1)), 8, 16, 4)

	for s := 0; s < q.Capacity(); s++ {
		var sum float64
		for _, v := range q.Slot(s) {
			sum += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, sum, 1e-5, "slot %d", s)
	}
}

// TestEnqueue_Circularity covers pointer arithmetic across wraparound:
// enqueueing B batches advances the pointer to (B·batch) mod capacity,
// and the oldest entries are overwritten first.
func TestEnqueue_Circularity(t *testing.T) {
	const dim, capacity, batch = 4, 16, 4
	q := New(rand.New(rand.NewSource(2)), dim, capacity, batch)

	wantPtrs := []int{4, 8, 12, 0, 4}
	for b := 0; b < len(wantPtrs); b++ {
		q.Enqueue(keyBatch(batch, dim, float32(1000*(b+1))), dist.SingleProcess{})
		assert.Equal(t, wantPtrs[b], q.Pointer(), "after batch %d", b)
	}

	// After 5 batches into a 4-batch queue, slots 0..3 hold batch 5
	// (which overwrote batch 1) and slots 4..15 hold batches 2..4.
	assert.Equal(t, float32(5000), q.Slot(0)[0])
	assert.Equal(t, float32(2000), q.Slot(4)[0])
	assert.Equal(t, float32(3000), q.Slot(8)[0])
	assert.Equal(t, float32(4000), q.Slot(12)[0])
}

func TestEnqueue_SkipOnMismatchedBatch(t *testing.T) {
	const dim, capacity, batch = 4, 16, 4
	q := New(rand.New(rand.NewSource(3)), dim, capacity, batch)

	before := append([]float32(nil), q.Data()...)

	q.Enqueue(keyBatch(batch-1, dim, 1), dist.SingleProcess{})
	assert.Equal(t, 0, q.Pointer())
	assert.Equal(t, before, q.Data(), "undersized batch must not mutate the queue")

	q.Enqueue(keyBatch(batch+1, dim, 1), dist.SingleProcess{})
	assert.Equal(t, 0, q.Pointer())
	assert.Equal(t, before, q.Data(), "oversized batch must not mutate the queue")
}

// TestEnqueue_MultiWorkerGather checks that every replica gathers the
// full cross-worker batch in rank order and that replicated queues stay
// bit-identical.
func TestEnqueue_MultiWorkerGather(t *testing.T) {
	const world, local, dim = 2, 2, 4
	const capacity, batch = 8, world * local
	group := dist.NewLocalGroup(world)

	queues := make([]*Queue, world)
	for rank := range queues {
		// Same seed per replica: replicas start identical.
		queues[rank] = New(rand.New(rand.NewSource(7)), dim, capacity, batch)
	}

	var wg sync.WaitGroup
	for rank := 0; rank < world; rank++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			queues[r].Enqueue(keyBatch(local, dim, float32(100*(r+1))), group.Worker(r))
		}(rank)
	}
	wg.Wait()

	for rank := 0; rank < world; rank++ {
		require.Equal(t, batch, queues[rank].Pointer(), "rank %d", rank)
	}
	assert.Equal(t, queues[0].Data(), queues[1].Data(), "replicas must stay bit-identical")

	// Rank-ascending order: rank 0's keys land before rank 1's.
	assert.Equal(t, float32(100), queues[0].Slot(0)[0])
	assert.Equal(t, float32(101), queues[0].Slot(1)[0])
	assert.Equal(t, float32(200), queues[0].Slot(2)[0])
	assert.Equal(t, float32(201), queues[0].Slot(3)[0])
}

func TestEnqueue_MultiWorkerUndersizedSkipped(t *testing.T) {
	const world, dim, capacity, batch = 2, 4, 8, 8
	group := dist.NewLocalGroup(world)

	queues := make([]*Queue, world)
	for rank := range queues {
		queues[rank] = New(rand.New(rand.NewSource(9)), dim, capacity, batch)
	}
	before := append([]float32(nil), queues[0].Data()...)

	// Each worker contributes 3 rows: gathered batch is 6 != 8.
	var wg sync.WaitGroup
	for rank := 0; rank < world; rank++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			queues[r].Enqueue(keyBatch(3, dim, 1), group.Worker(r))
		}(rank)
	}
	wg.Wait()

	for rank := 0; rank < world; rank++ {
		assert.Equal(t, 0, queues[rank].Pointer(), "rank %d", rank)
		assert.Equal(t, before, queues[rank].Data(), "rank %d", rank)
	}
}

func TestRestore(t *testing.T) {
	q := New(rand.New(rand.NewSource(4)), 2, 4, 2)

	data := make([]float32, 8)
	for i := range data {
		data[i] = float32(i)
	}
	require.NoError(t, q.Restore(data, 2))
	assert.Equal(t, data, q.Data())
	assert.Equal(t, 2, q.Pointer())

	assert.Error(t, q.Restore(make([]float32, 3), 0))
	assert.Error(t, q.Restore(data, 4))
}
