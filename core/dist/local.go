package dist

import (
	"fmt"
	"sync"
)

// LocalGroup implements Collective for W workers running as goroutines
// inside one process. Every collective call is a full-world rendezvous:
// workers deposit their contribution, the last arrival publishes the
// combined result and advances the generation counter, and everyone
// reads the published result for their generation.
//
// All workers must issue the same sequence of collective calls; the
// generation counter enforces that stragglers from one call cannot mix
// state with the next.
type LocalGroup struct {
	world int

	mu   sync.Mutex
	cond *sync.Cond

	arrived    int
	generation uint64

	rowSlots   [][][]float32
	rowsOut    [][]float32
	intDeposit []int
	intOut     []int
}

// NewLocalGroup creates a rendezvous group for the given world size.
func NewLocalGroup(world int) *LocalGroup {
	if world < 1 {
		panic(fmt.Sprintf("dist: world size must be >= 1, got %d", world))
	}
	g := &LocalGroup{
		world:    world,
		rowSlots: make([][][]float32, world),
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// WorldSize returns the number of workers in the group.
func (g *LocalGroup) WorldSize() int { return g.world }

// Worker returns the Collective handle for the given rank.
func (g *LocalGroup) Worker(rank int) Collective {
	if rank < 0 || rank >= g.world {
		panic(fmt.Sprintf("dist: rank %d out of range [0,%d)", rank, g.world))
	}
	return &localWorker{group: g, rank: rank}
}

// rendezvous blocks until all workers have called it for the current
// generation. publish runs exactly once, on the last arrival, while the
// lock is held. The caller must hold g.mu.
func (g *LocalGroup) rendezvous(publish func()) {
	gen := g.generation
	g.arrived++
	if g.arrived == g.world {
		if publish != nil {
			publish()
		}
		g.arrived = 0
		g.generation++
		g.cond.Broadcast()
		return
	}
	for gen == g.generation {
		g.cond.Wait()
	}
}

type localWorker struct {
	group *LocalGroup
	rank  int
}

func (w *localWorker) AllGatherRows(local [][]float32) [][]float32 {
	g := w.group
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rowSlots[w.rank] = local
	g.rendezvous(func() {
		var total int
		for _, rows := range g.rowSlots {
			total += len(rows)
		}
		out := make([][]float32, 0, total)
		for rank := 0; rank < g.world; rank++ {
			for _, row := range g.rowSlots[rank] {
				dst := make([]float32, len(row))
				copy(dst, row)
				out = append(out, dst)
			}
			g.rowSlots[rank] = nil
		}
		g.rowsOut = out
	})

	return g.rowsOut
}

func (w *localWorker) BroadcastInts(buf []int, root int) []int {
	g := w.group
	g.mu.Lock()
	defer g.mu.Unlock()

	if w.rank == root {
		g.intDeposit = append([]int(nil), buf...)
	}
	g.rendezvous(func() {
		g.intOut = g.intDeposit
		g.intDeposit = nil
	})

	return g.intOut
}

func (w *localWorker) Rank() int         { return w.rank }
func (w *localWorker) WorldSize() int    { return w.group.world }
func (w *localWorker) Synchronous() bool { return w.group.world > 1 }

var _ Collective = (*localWorker)(nil)
