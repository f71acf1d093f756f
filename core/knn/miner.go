package knn

import (
	"container/heap"
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/adalundhe/contrail/core/queue"
)

// DefaultBlockSize bounds how many queue slots are scored at once. The
// working set per block is batch×DefaultBlockSize floats instead of the
// full batch×capacity matrix.
const DefaultBlockSize = 1024

// Miner retrieves, per query, the topk queue entries of smallest
// distance under the configured metric.
type Miner struct {
	metric    Metric
	topk      int
	blockSize int
}

// NewMiner creates a miner. topk must be positive; the metric must be
// one of the defined metrics.
func NewMiner(metric Metric, topk int) (*Miner, error) {
	if topk <= 0 {
		return nil, fmt.Errorf("knn: topk must be positive, got %d", topk)
	}
	if _, err := metric.distance([]float32{1}, []float32{1}, 1); err != nil {
		return nil, err
	}
	return &Miner{metric: metric, topk: topk, blockSize: DefaultBlockSize}, nil
}

// Metric returns the configured distance metric.
func (m *Miner) Metric() Metric { return m.metric }

// TopK returns the configured neighbor count.
func (m *Miner) TopK() int { return m.topk }

// Mine scans the entire queue and returns each query's topk nearest
// entries as copied embedding vectors, shape batch×topk×dim. The scan
// proceeds block by block: dot products for a block come from one GEMM,
// per-metric distances are folded into bounded per-query heaps, and the
// block scratch is reused, so memory stays O(batch·(blockSize+topk)).
func (m *Miner) Mine(queries [][]float32, q *queue.Queue) ([][][]float32, error) {
	batch := len(queries)
	dim := q.Dim()
	capacity := q.Capacity()
	topk := m.topk
	if topk > capacity {
		topk = capacity
	}

	flatQ := make([]float32, batch*dim)
	for i, row := range queries {
		if len(row) != dim {
			return nil, fmt.Errorf("knn: query %d has dimension %d, want %d", i, len(row), dim)
		}
		copy(flatQ[i*dim:], row)
	}

	heaps := make([]candidateHeap, batch)
	for i := range heaps {
		heaps[i] = make(candidateHeap, 0, topk+1)
	}

	block := m.blockSize
	if block > capacity {
		block = capacity
	}
	dots := make([]float32, batch*block)

	for start := 0; start < capacity; start += block {
		end := start + block
		if end > capacity {
			end = capacity
		}
		rows := end - start

		blockData := q.Data()[start*dim : end*dim]
		blas32.Gemm(blas.NoTrans, blas.Trans, 1,
			blas32.General{Rows: batch, Cols: dim, Stride: dim, Data: flatQ},
			blas32.General{Rows: rows, Cols: dim, Stride: dim, Data: blockData},
			0,
			blas32.General{Rows: batch, Cols: rows, Stride: rows, Data: dots[:batch*rows]},
		)

		for i := 0; i < batch; i++ {
			h := &heaps[i]
			for j := 0; j < rows; j++ {
				d, err := m.metric.distance(queries[i], q.Slot(start+j), dots[i*rows+j])
				if err != nil {
					return nil, err
				}
				if h.Len() < topk {
					heap.Push(h, candidate{index: start + j, dist: d})
				} else if d < (*h)[0].dist {
					(*h)[0] = candidate{index: start + j, dist: d}
					heap.Fix(h, 0)
				}
			}
		}
	}

	neighbors := make([][][]float32, batch)
	for i := range neighbors {
		neighbors[i] = make([][]float32, heaps[i].Len())
		for j, cand := range heaps[i] {
			dst := make([]float32, dim)
			copy(dst, q.Slot(cand.index))
			neighbors[i][j] = dst
		}
	}
	return neighbors, nil
}

// candidate pairs a queue slot with its distance to one query.
type candidate struct {
	index int
	dist  float32
}

// candidateHeap is a max-heap on distance, so the worst retained
// candidate sits at the root and is evicted first.
type candidateHeap []candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }

func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
