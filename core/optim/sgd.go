// Package optim provides the gradient-descent optimizer and learning-
// rate schedule used by the contrastive learner: momentum SGD with
// weight decay, annealed on a cosine over the configured epoch span.
package optim

import (
	"github.com/adalundhe/contrail/core/nn"
)

// SGD implements stochastic gradient descent with classical momentum
// and L2 weight decay:
//
//	g  ← grad + wd·param
//	buf ← momentum·buf + g
//	param ← param − lr·buf
//
// Frozen parameters are rejected at construction; they are updated by
// momentum blending, never by the optimizer.
type SGD struct {
	params      []*nn.Param
	momentum    float32
	weightDecay float32
	bufs        [][]float32
}

// NewSGD creates an optimizer over the given trainable parameters.
func NewSGD(params []*nn.Param, momentum, weightDecay float32) *SGD {
	for _, p := range params {
		if p.Frozen() {
			panic("optim: frozen parameter " + p.Name + " passed to SGD")
		}
	}
	bufs := make([][]float32, len(params))
	for i, p := range params {
		bufs[i] = make([]float32, len(p.Data))
	}
	return &SGD{
		params:      params,
		momentum:    momentum,
		weightDecay: weightDecay,
		bufs:        bufs,
	}
}

// Step applies one update at the given learning rate.
func (o *SGD) Step(lr float32) {
	for i, p := range o.params {
		buf := o.bufs[i]
		for j := range p.Data {
			g := p.Grad[j] + o.weightDecay*p.Data[j]
			buf[j] = o.momentum*buf[j] + g
			p.Data[j] -= lr * buf[j]
		}
	}
}

// ZeroGrad clears every parameter's gradient buffer. Call before each
// training step's backward pass.
func (o *SGD) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

// Params returns the parameters managed by the optimizer.
func (o *SGD) Params() []*nn.Param { return o.params }
