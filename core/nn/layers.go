package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Layer is a differentiable transformation over row batches.
// Forward caches whatever Backward needs; layers are therefore not safe
// for concurrent use and must see a Forward before each Backward.
type Layer interface {
	Forward(x [][]float32) [][]float32
	Backward(grad [][]float32) [][]float32
	Params() []*Param
}

// Linear is a fully-connected layer: y = x·Wᵀ + b.
// W is stored row-major as out×in.
type Linear struct {
	W *Param
	B *Param

	in  int
	out int

	lastIn [][]float32
}

// NewLinear creates a linear layer with scaled-normal initialization
// (stddev 1/sqrt(in)) drawn from rng, so replicas seeded identically
// construct identical weights.
func NewLinear(rng *rand.Rand, name string, in, out int) *Linear {
	l := &Linear{
		W:   NewParam(name+".weight", out*in),
		B:   NewParam(name+".bias", out),
		in:  in,
		out: out,
	}
	scale := 1.0 / math.Sqrt(float64(in))
	for i := range l.W.Data {
		l.W.Data[i] = float32(rng.NormFloat64() * scale)
	}
	return l
}

// Forward computes y = x·Wᵀ + b for a batch of rows.
func (l *Linear) Forward(x [][]float32) [][]float32 {
	batch := len(x)
	l.lastIn = x

	flatX := flatten(x, l.in)
	flatY := make([]float32, batch*l.out)

	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: batch, Cols: l.in, Stride: l.in, Data: flatX},
		blas32.General{Rows: l.out, Cols: l.in, Stride: l.in, Data: l.W.Data},
		0,
		blas32.General{Rows: batch, Cols: l.out, Stride: l.out, Data: flatY},
	)

	out := unflatten(flatY, batch, l.out)
	for _, row := range out {
		for j := range row {
			row[j] += l.B.Data[j]
		}
	}
	return out
}

// Backward accumulates dW and db from the cached input and returns the
// gradient with respect to the input: dx = dy·W.
func (l *Linear) Backward(grad [][]float32) [][]float32 {
	if l.lastIn == nil {
		panic("nn: Linear.Backward called before Forward")
	}
	batch := len(grad)

	flatIn := flatten(l.lastIn, l.in)
	flatDy := flatten(grad, l.out)

	if l.W.Grad != nil {
		// dW += dyᵀ·x
		blas32.Gemm(blas.Trans, blas.NoTrans, 1,
			blas32.General{Rows: batch, Cols: l.out, Stride: l.out, Data: flatDy},
			blas32.General{Rows: batch, Cols: l.in, Stride: l.in, Data: flatIn},
			1,
			blas32.General{Rows: l.out, Cols: l.in, Stride: l.in, Data: l.W.Grad},
		)
		for _, row := range grad {
			for j := range row {
				l.B.Grad[j] += row[j]
			}
		}
	}

	flatDx := make([]float32, batch*l.in)
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: batch, Cols: l.out, Stride: l.out, Data: flatDy},
		blas32.General{Rows: l.out, Cols: l.in, Stride: l.in, Data: l.W.Data},
		0,
		blas32.General{Rows: batch, Cols: l.in, Stride: l.in, Data: flatDx},
	)
	return unflatten(flatDx, batch, l.in)
}

// Params returns the layer's weight and bias.
func (l *Linear) Params() []*Param {
	return []*Param{l.W, l.B}
}

// InputDim returns the layer's input width.
func (l *Linear) InputDim() int { return l.in }

// OutputDim returns the layer's output width.
func (l *Linear) OutputDim() int { return l.out }

// ReLU applies max(0, x) elementwise.
type ReLU struct {
	mask [][]bool
}

// Forward applies the rectifier and records the active mask.
func (r *ReLU) Forward(x [][]float32) [][]float32 {
	out := make([][]float32, len(x))
	r.mask = make([][]bool, len(x))
	for i, row := range x {
		out[i] = make([]float32, len(row))
		r.mask[i] = make([]bool, len(row))
		for j, v := range row {
			if v > 0 {
				out[i][j] = v
				r.mask[i][j] = true
			}
		}
	}
	return out
}

// Backward zeroes gradients where the forward input was non-positive.
func (r *ReLU) Backward(grad [][]float32) [][]float32 {
	out := make([][]float32, len(grad))
	for i, row := range grad {
		out[i] = make([]float32, len(row))
		for j, g := range row {
			if r.mask[i][j] {
				out[i][j] = g
			}
		}
	}
	return out
}

// Params returns nil; ReLU has no parameters.
func (r *ReLU) Params() []*Param { return nil }

// Sequential chains layers in order.
type Sequential struct {
	Layers []Layer
}

// Forward runs the layers front to back.
func (s *Sequential) Forward(x [][]float32) [][]float32 {
	for _, l := range s.Layers {
		x = l.Forward(x)
	}
	return x
}

// Backward runs the layers back to front.
func (s *Sequential) Backward(grad [][]float32) [][]float32 {
	for i := len(s.Layers) - 1; i >= 0; i-- {
		grad = s.Layers[i].Backward(grad)
	}
	return grad
}

// Params collects parameters from every layer, in layer order.
func (s *Sequential) Params() []*Param {
	var params []*Param
	for _, l := range s.Layers {
		params = append(params, l.Params()...)
	}
	return params
}

func flatten(rows [][]float32, dim int) []float32 {
	flat := make([]float32, len(rows)*dim)
	for i, row := range rows {
		if len(row) != dim {
			panic(fmt.Sprintf("nn: row %d has width %d, want %d", i, len(row), dim))
		}
		copy(flat[i*dim:], row)
	}
	return flat
}

func unflatten(flat []float32, rows, dim int) [][]float32 {
	out := make([][]float32, rows)
	for i := range out {
		out[i] = flat[i*dim : (i+1)*dim : (i+1)*dim]
	}
	return out
}
