// Package knn mines hard negatives for contrastive training: for each
// query embedding it retrieves the top-k nearest queue entries under a
// selectable distance metric, streaming the queue in blocks so the full
// batch×N distance matrix is never materialized.
package knn

import (
	"errors"
	"fmt"

	"github.com/viterin/vek/vek32"
)

// ErrUnsupportedMetric is returned for metric names with no defined
// distance. Mining fails fast rather than guessing a default.
var ErrUnsupportedMetric = errors.New("knn: unsupported metric")

// Metric selects the pairwise distance used for neighbor retrieval.
type Metric int

const (
	// Euclidean is the squared L2 distance ‖x−y‖².
	Euclidean Metric = iota
	// Manhattan is the L1 distance Σ|xᵢ−yᵢ|.
	Manhattan
	// Angular is the negative dot product −x·y.
	Angular
	// Hyperbolic is the squared L2 distance scaled by the product of
	// first coordinates: ‖x−y‖² / (x₀·y₀).
	Hyperbolic
	// AngularHyperbolic is the sum of Angular and Hyperbolic.
	AngularHyperbolic
)

var metricNames = map[string]Metric{
	"euclidean":  Euclidean,
	"manhattan":  Manhattan,
	"angular":    Angular,
	"hyperbolic": Hyperbolic,
	"ang+hyper":  AngularHyperbolic,
}

// ParseMetric resolves a metric name. Unknown names are an error, not a
// fallback.
func ParseMetric(name string) (Metric, error) {
	m, ok := metricNames[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMetric, name)
	}
	return m, nil
}

// String returns the canonical metric name.
func (m Metric) String() string {
	for name, metric := range metricNames {
		if metric == m {
			return name
		}
	}
	return fmt.Sprintf("Metric(%d)", int(m))
}

// distance evaluates the metric for a single query/candidate pair.
// dot is the precomputed q·c (computed per block via GEMM by the miner).
func (m Metric) distance(q, c []float32, dot float32) (float32, error) {
	switch m {
	case Euclidean:
		return sqDist(q, c, dot), nil
	case Manhattan:
		var sum float32
		for i := range q {
			d := q[i] - c[i]
			if d < 0 {
				d = -d
			}
			sum += d
		}
		return sum, nil
	case Angular:
		return -dot, nil
	case Hyperbolic:
		return sqDist(q, c, dot) / (q[0] * c[0]), nil
	case AngularHyperbolic:
		return -dot + sqDist(q, c, dot)/(q[0]*c[0]), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedMetric, int(m))
	}
}

// sqDist computes ‖q−c‖² from precomputed norms and the dot product.
func sqDist(q, c []float32, dot float32) float32 {
	d := vek32.Dot(q, q) + vek32.Dot(c, c) - 2*dot
	if d < 0 {
		d = 0
	}
	return d
}
