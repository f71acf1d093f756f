// Package nn provides the small trainable-layer toolkit used by the
// contrastive learner: flat float32 parameters with explicit gradient
// buffers, linear/relu layers with manual backward passes, and row-wise
// L2 normalization.
package nn

// Param is a named, flat parameter tensor. Grad is nil for frozen
// parameters; frozen parameters are mutated only by explicit blending,
// never by an optimizer.
type Param struct {
	Name string
	Data []float32
	Grad []float32
}

// NewParam creates a trainable parameter of the given size, zero-filled,
// with an allocated gradient buffer.
func NewParam(name string, size int) *Param {
	return &Param{
		Name: name,
		Data: make([]float32, size),
		Grad: make([]float32, size),
	}
}

// Freeze drops the gradient buffer. A frozen parameter is invisible to
// optimizers.
func (p *Param) Freeze() {
	p.Grad = nil
}

// Frozen reports whether the parameter tracks gradients.
func (p *Param) Frozen() bool {
	return p.Grad == nil
}

// ZeroGrad clears the gradient buffer. No-op for frozen parameters.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// CopyDataFrom overwrites this parameter's values with src's values.
// Panics if sizes differ; mismatched parameter schemas are programmer
// errors, not runtime conditions.
func (p *Param) CopyDataFrom(src *Param) {
	if len(p.Data) != len(src.Data) {
		panic("nn: parameter size mismatch in CopyDataFrom")
	}
	copy(p.Data, src.Data)
}
