package knn

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/contrail/core/queue"
)

func randomRows(n, dim int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = make([]float32, dim)
		for j := range rows[i] {
			// Keep first coordinates positive so the hyperbolic metric
			// stays well-behaved in tests.
			rows[i][j] = rng.Float32() + 0.1
		}
	}
	return rows
}

// bruteForce computes the reference distance for a query/slot pair.
func bruteForce(m Metric, q, c []float32) float64 {
	var dot, sq, l1 float64
	for i := range q {
		dot += float64(q[i]) * float64(c[i])
		d := float64(q[i]) - float64(c[i])
		sq += d * d
		l1 += math.Abs(d)
	}
	switch m {
	case Euclidean:
		return sq
	case Manhattan:
		return l1
	case Angular:
		return -dot
	case Hyperbolic:
		return sq / (float64(q[0]) * float64(c[0]))
	case AngularHyperbolic:
		return -dot + sq/(float64(q[0])*float64(c[0]))
	}
	panic("unknown metric")
}

func TestParseMetric(t *testing.T) {
	for name, want := range map[string]Metric{
		"euclidean":  Euclidean,
		"manhattan":  Manhattan,
		"angular":    Angular,
		"hyperbolic": Hyperbolic,
		"ang+hyper":  AngularHyperbolic,
	} {
		got, err := ParseMetric(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
		assert.Equal(t, name, got.String())
	}
}

func TestParseMetric_Unknown(t *testing.T) {
	_, err := ParseMetric("cosine")
	assert.ErrorIs(t, err, ErrUnsupportedMetric)
}

func TestNewMiner_Validation(t *testing.T) {
	_, err := NewMiner(Euclidean, 0)
	assert.Error(t, err)

	_, err = NewMiner(Metric(42), 5)
	assert.ErrorIs(t, err, ErrUnsupportedMetric)
}

// TestMine_MatchesBruteForce checks the block-streamed top-k against an
// exhaustive reference for every metric.
func TestMine_MatchesBruteForce(t *testing.T) {
	const dim, capacity, batch, topk = 6, 64, 3, 5
	q := queue.New(rand.New(rand.NewSource(1)), dim, capacity, batch)
	// Overwrite slots so first coordinates are positive for hyperbolic.
	for s := 0; s < capacity; s++ {
		copy(q.Slot(s), randomRows(1, dim, int64(100+s))[0])
	}
	queries := randomRows(batch, dim, 2)

	for _, metric := range []Metric{Euclidean, Manhattan, Angular, Hyperbolic, AngularHyperbolic} {
		miner, err := NewMiner(metric, topk)
		require.NoError(t, err, metric.String())
		// Force multiple blocks to exercise the streaming path.
		miner.blockSize = 16

		neighbors, err := miner.Mine(queries, q)
		require.NoError(t, err, metric.String())
		require.Len(t, neighbors, batch)

		for i := range queries {
			require.Len(t, neighbors[i], topk, metric.String())

			// Reference: sort all slots by distance, take topk.
			dists := make([]float64, capacity)
			for s := 0; s < capacity; s++ {
				dists[s] = bruteForce(metric, queries[i], q.Slot(s))
			}
			sorted := append([]float64(nil), dists...)
			sort.Float64s(sorted)
			worstAllowed := sorted[topk-1]

			for _, neighbor := range neighbors[i] {
				got := bruteForce(metric, queries[i], neighbor)
				assert.LessOrEqual(t, got, worstAllowed+1e-5,
					"%s query %d returned a non-topk neighbor", metric.String(), i)
			}
		}
	}
}

func TestMine_TopKClampedToCapacity(t *testing.T) {
	const dim, capacity, batch = 4, 8, 2
	q := queue.New(rand.New(rand.NewSource(3)), dim, capacity, batch)
	miner, err := NewMiner(Angular, capacity*4)
	require.NoError(t, err)

	neighbors, err := miner.Mine(randomRows(batch, dim, 4), q)
	require.NoError(t, err)

	for i := range neighbors {
		assert.Len(t, neighbors[i], capacity)
	}
}

func TestMine_DimensionMismatch(t *testing.T) {
	q := queue.New(rand.New(rand.NewSource(5)), 4, 8, 2)
	miner, err := NewMiner(Euclidean, 2)
	require.NoError(t, err)

	_, err = miner.Mine([][]float32{{1, 2, 3}}, q)
	assert.Error(t, err)
}

// TestMine_CopiesNeighbors ensures mined vectors are copies: mutating
// them must not corrupt the queue.
func TestMine_CopiesNeighbors(t *testing.T) {
	const dim, capacity, batch = 4, 8, 2
	q := queue.New(rand.New(rand.NewSource(6)), dim, capacity, batch)
	before := append([]float32(nil), q.Data()...)

	miner, err := NewMiner(Angular, 3)
	require.NoError(t, err)
	neighbors, err := miner.Mine(randomRows(batch, dim, 7), q)
	require.NoError(t, err)

	neighbors[0][0][0] = 12345
	assert.Equal(t, before, q.Data())
}
