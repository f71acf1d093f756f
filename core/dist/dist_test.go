package dist

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runWorkers executes fn concurrently for every rank and waits.
func runWorkers(world int, fn func(rank int)) {
	var wg sync.WaitGroup
	for rank := 0; rank < world; rank++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			fn(r)
		}(rank)
	}
	wg.Wait()
}

func rankRows(rank, n, dim int) [][]float32 {
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = make([]float32, dim)
		for j := range rows[i] {
			rows[i][j] = float32(rank*100 + i)
		}
	}
	return rows
}

func TestSingleProcess_Identity(t *testing.T) {
	c := SingleProcess{}
	rows := rankRows(0, 4, 2)

	assert.Equal(t, rows, c.AllGatherRows(rows))
	assert.Equal(t, []int{3, 1, 2}, c.BroadcastInts([]int{3, 1, 2}, 0))
	assert.Equal(t, 1, c.WorldSize())
	assert.False(t, c.Synchronous())
	assert.False(t, MultiWorker(c))
}

func TestLocalGroup_AllGatherRankOrder(t *testing.T) {
	const world, local = 4, 3
	group := NewLocalGroup(world)

	results := make([][][]float32, world)
	runWorkers(world, func(rank int) {
		results[rank] = group.Worker(rank).AllGatherRows(rankRows(rank, local, 2))
	})

	for rank := 0; rank < world; rank++ {
		require.Len(t, results[rank], world*local)
		for i, row := range results[rank] {
			wantRank := i / local
			wantIdx := i % local
			assert.Equal(t, float32(wantRank*100+wantIdx), row[0],
				"rank %d, gathered row %d", rank, i)
		}
	}
}

func TestLocalGroup_BroadcastFromRoot(t *testing.T) {
	const world = 3
	group := NewLocalGroup(world)
	rootPerm := []int{2, 0, 1, 4, 3, 5}

	results := make([][]int, world)
	runWorkers(world, func(rank int) {
		w := group.Worker(rank)
		var buf []int
		if rank == 0 {
			buf = rootPerm
		}
		results[rank] = w.BroadcastInts(buf, 0)
	})

	for rank := 0; rank < world; rank++ {
		assert.Equal(t, rootPerm, results[rank], "rank %d", rank)
	}
}

func TestLocalGroup_RepeatedCollectivesStayAligned(t *testing.T) {
	const world, rounds = 3, 8
	group := NewLocalGroup(world)

	runWorkers(world, func(rank int) {
		w := group.Worker(rank)
		for round := 0; round < rounds; round++ {
			gathered := w.AllGatherRows(rankRows(rank, 1, 1))
			assert.Len(t, gathered, world)

			var buf []int
			if rank == 0 {
				buf = []int{round}
			}
			got := w.BroadcastInts(buf, 0)
			assert.Equal(t, []int{round}, got)
		}
	})
}

func TestShuffle_SingleWorkerPassThrough(t *testing.T) {
	s := NewShuffleCoordinator(SingleProcess{}, 1)
	rows := rankRows(0, 4, 2)

	shuffled, inv := s.Shuffle(rows)

	assert.Equal(t, rows, shuffled)
	assert.Nil(t, inv)
	assert.Equal(t, rows, s.Unshuffle(shuffled, inv))
}

// TestShuffle_RoundTrip verifies that unshuffle(identity(shuffle(x)))
// restores every worker's batch exactly, for several world sizes.
func TestShuffle_RoundTrip(t *testing.T) {
	for _, world := range []int{2, 3, 4} {
		const local = 4
		group := NewLocalGroup(world)

		restored := make([][][]float32, world)
		runWorkers(world, func(rank int) {
			coord := NewShuffleCoordinator(group.Worker(rank), 7)
			shuffled, inv := coord.Shuffle(rankRows(rank, local, 3))
			restored[rank] = coord.Unshuffle(shuffled, inv)
		})

		for rank := 0; rank < world; rank++ {
			assert.Equal(t, rankRows(rank, local, 3), restored[rank],
				"world %d rank %d", world, rank)
		}
	}
}

// TestShuffle_PermutationIsGlobal checks that all workers applied one
// single permutation: the multiset of rows after shuffling equals the
// multiset before.
func TestShuffle_PermutationIsGlobal(t *testing.T) {
	const world, local = 2, 8
	group := NewLocalGroup(world)

	seen := make([]map[float32]int, world)
	runWorkers(world, func(rank int) {
		coord := NewShuffleCoordinator(group.Worker(rank), 99)
		shuffled, _ := coord.Shuffle(rankRows(rank, local, 1))
		counts := make(map[float32]int)
		for _, row := range shuffled {
			counts[row[0]]++
		}
		seen[rank] = counts
	})

	merged := make(map[float32]int)
	for _, counts := range seen {
		for v, n := range counts {
			merged[v] += n
		}
	}

	want := make(map[float32]int)
	for rank := 0; rank < world; rank++ {
		for _, row := range rankRows(rank, local, 1) {
			want[row[0]]++
		}
	}
	assert.Equal(t, want, merged)
}
