package nn

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrUnknownBackbone is returned when Resolve is given a name with no
// registered architecture.
var ErrUnknownBackbone = errors.New("nn: unknown backbone")

// Backbone maps an input batch to an embedding batch and supports a
// manual backward pass over its own parameters.
type Backbone interface {
	Forward(x [][]float32) [][]float32
	Backward(grad [][]float32) [][]float32
	Params() []*Param

	// PenultimateDim is the feature width feeding the final projection,
	// used when widening the output head.
	PenultimateDim() int
}

// BackboneSpec describes how to instantiate a named backbone.
type BackboneSpec struct {
	InputDim int
	EmbDim   int

	// WideHead inserts a hidden linear layer of the penultimate width
	// followed by a ReLU before the final projection.
	WideHead bool

	// Seed drives weight initialization. Two backbones built from equal
	// specs and equal seeds are parameter-identical.
	Seed int64
}

// mlpBackbone is a fully-connected trunk plus a projection head.
type mlpBackbone struct {
	net    *Sequential
	penult int
}

func (m *mlpBackbone) Forward(x [][]float32) [][]float32  { return m.net.Forward(x) }
func (m *mlpBackbone) Backward(g [][]float32) [][]float32 { return m.net.Backward(g) }
func (m *mlpBackbone) Params() []*Param                   { return m.net.Params() }
func (m *mlpBackbone) PenultimateDim() int                { return m.penult }

// buildMLP assembles trunk hidden widths, an optional widened head, and
// the final projection to the embedding dimension.
func buildMLP(rng *rand.Rand, spec BackboneSpec, hidden []int) *mlpBackbone {
	var layers []Layer
	in := spec.InputDim
	for i, width := range hidden {
		layers = append(layers, NewLinear(rng, fmt.Sprintf("trunk%d", i), in, width), &ReLU{})
		in = width
	}
	if spec.WideHead {
		layers = append(layers, NewLinear(rng, "head", in, in), &ReLU{})
	}
	layers = append(layers, NewLinear(rng, "proj", in, spec.EmbDim))
	return &mlpBackbone{net: &Sequential{Layers: layers}, penult: in}
}

// Resolve instantiates a backbone by architecture name. Callers with a
// custom Backbone implementation bypass Resolve entirely; anything that
// accepts a name also accepts a Backbone.
func Resolve(name string, spec BackboneSpec) (Backbone, error) {
	rng := rand.New(rand.NewSource(spec.Seed))
	switch name {
	case "linear":
		return buildMLP(rng, spec, nil), nil
	case "mlp":
		return buildMLP(rng, spec, []int{512}), nil
	case "mlp-wide":
		return buildMLP(rng, spec, []int{1024, 512}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackbone, name)
	}
}
