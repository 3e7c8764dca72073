package layers

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// layer is one runnable stage of a Network. backward must be called after
// forward and consumes the activations cached by it.
type layer interface {
	forward(x *mat.Dense, train bool, rng *rand.Rand) *mat.Dense
	backward(grad *mat.Dense) *mat.Dense
	params() []*mat.Dense
	grads() []*mat.Dense
}

// Network executes a compiled ModelSpec on the CPU. Inputs are matrices of
// one sample per row.
type Network struct {
	spec   *ModelSpec
	layers []layer
}

// NewNetwork builds the layers of spec with weights drawn from rng.
func NewNetwork(spec *ModelSpec, rng *rand.Rand) (*Network, error) {
	if spec == nil || !spec.Compiled {
		return nil, fmt.Errorf("model not compiled")
	}
	n := &Network{spec: spec}
	for i, ls := range spec.Layers {
		switch ls.Type {
		case Dense:
			in := ls.Parameters["input_size"].(int)
			out := ls.Parameters["output_size"].(int)
			n.layers = append(n.layers, newDenseLayer(in, out, getBoolParam(ls.Parameters, "use_bias", true), rng))
		case ReLU:
			n.layers = append(n.layers, &leakyReLULayer{})
		case LeakyReLU:
			n.layers = append(n.layers, &leakyReLULayer{slope: getFloatParam(ls.Parameters, "negative_slope", 0.01)})
		case Sigmoid:
			n.layers = append(n.layers, &sigmoidLayer{})
		case Tanh:
			n.layers = append(n.layers, &tanhLayer{})
		case Dropout:
			n.layers = append(n.layers, &dropoutLayer{rate: getFloatParam(ls.Parameters, "rate", 0)})
		default:
			return nil, fmt.Errorf("layer %d (%s): unsupported type %s", i, ls.Name, ls.Type)
		}
	}
	return n, nil
}

// Spec returns the compiled model the network was built from.
func (n *Network) Spec() *ModelSpec {
	return n.spec
}

// Forward computes scores for x. In train mode dropout layers draw their
// masks from rng; in eval mode rng is unused and may be nil.
func (n *Network) Forward(x *mat.Dense, train bool, rng *rand.Rand) (*mat.Dense, error) {
	_, cols := x.Dims()
	if cols != n.spec.InputSize() {
		return nil, fmt.Errorf("input has %d features, model expects %d", cols, n.spec.InputSize())
	}
	out := x
	for _, l := range n.layers {
		out = l.forward(out, train, rng)
	}
	return out, nil
}

// Backward propagates the gradient of the loss with respect to the last
// Forward output and fills every layer's parameter gradients.
func (n *Network) Backward(grad *mat.Dense) {
	for i := len(n.layers) - 1; i >= 0; i-- {
		grad = n.layers[i].backward(grad)
	}
}

// Parameters returns the trainable matrices in ModelSpec.ParameterShapes order.
func (n *Network) Parameters() []*mat.Dense {
	var ps []*mat.Dense
	for _, l := range n.layers {
		ps = append(ps, l.params()...)
	}
	return ps
}

// Gradients returns the gradients of the last Backward, aligned with Parameters.
func (n *Network) Gradients() []*mat.Dense {
	var gs []*mat.Dense
	for _, l := range n.layers {
		gs = append(gs, l.grads()...)
	}
	return gs
}

type denseLayer struct {
	w, b   *mat.Dense // b is nil without bias
	dw, db *mat.Dense
	input  *mat.Dense
}

// newDenseLayer uses He initialization scaled for ReLU stacks.
func newDenseLayer(in, out int, bias bool, rng *rand.Rand) *denseLayer {
	std := math.Sqrt(2 / float64(in))
	data := make([]float64, in*out)
	for i := range data {
		data[i] = rng.NormFloat64() * std
	}
	l := &denseLayer{
		w:  mat.NewDense(in, out, data),
		dw: mat.NewDense(in, out, nil),
	}
	if bias {
		l.b = mat.NewDense(1, out, nil)
		l.db = mat.NewDense(1, out, nil)
	}
	return l
}

func (l *denseLayer) forward(x *mat.Dense, _ bool, _ *rand.Rand) *mat.Dense {
	l.input = x
	var y mat.Dense
	y.Mul(x, l.w)
	if l.b != nil {
		bias := l.b.RawRowView(0)
		rows, _ := y.Dims()
		for r := 0; r < rows; r++ {
			row := y.RawRowView(r)
			for c := range row {
				row[c] += bias[c]
			}
		}
	}
	return &y
}

func (l *denseLayer) backward(grad *mat.Dense) *mat.Dense {
	l.dw.Mul(l.input.T(), grad)
	if l.b != nil {
		sums := l.db.RawRowView(0)
		for c := range sums {
			sums[c] = 0
		}
		rows, _ := grad.Dims()
		for r := 0; r < rows; r++ {
			for c, v := range grad.RawRowView(r) {
				sums[c] += v
			}
		}
	}
	var dx mat.Dense
	dx.Mul(grad, l.w.T())
	return &dx
}

func (l *denseLayer) params() []*mat.Dense {
	if l.b == nil {
		return []*mat.Dense{l.w}
	}
	return []*mat.Dense{l.w, l.b}
}

func (l *denseLayer) grads() []*mat.Dense {
	if l.db == nil {
		return []*mat.Dense{l.dw}
	}
	return []*mat.Dense{l.dw, l.db}
}

// leakyReLULayer is a plain ReLU when slope is zero.
type leakyReLULayer struct {
	slope float64
	input *mat.Dense
}

func (l *leakyReLULayer) forward(x *mat.Dense, _ bool, _ *rand.Rand) *mat.Dense {
	l.input = x
	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return l.slope * v
	}, x)
	return &y
}

func (l *leakyReLULayer) backward(grad *mat.Dense) *mat.Dense {
	var dx mat.Dense
	dx.Apply(func(i, j int, g float64) float64 {
		if l.input.At(i, j) > 0 {
			return g
		}
		return l.slope * g
	}, grad)
	return &dx
}

func (l *leakyReLULayer) params() []*mat.Dense { return nil }
func (l *leakyReLULayer) grads() []*mat.Dense  { return nil }

type sigmoidLayer struct {
	output *mat.Dense
}

func (l *sigmoidLayer) forward(x *mat.Dense, _ bool, _ *rand.Rand) *mat.Dense {
	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 { return 1 / (1 + math.Exp(-v)) }, x)
	l.output = &y
	return &y
}

func (l *sigmoidLayer) backward(grad *mat.Dense) *mat.Dense {
	var dx mat.Dense
	dx.Apply(func(i, j int, g float64) float64 {
		y := l.output.At(i, j)
		return g * y * (1 - y)
	}, grad)
	return &dx
}

func (l *sigmoidLayer) params() []*mat.Dense { return nil }
func (l *sigmoidLayer) grads() []*mat.Dense  { return nil }

type tanhLayer struct {
	output *mat.Dense
}

func (l *tanhLayer) forward(x *mat.Dense, _ bool, _ *rand.Rand) *mat.Dense {
	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, x)
	l.output = &y
	return &y
}

func (l *tanhLayer) backward(grad *mat.Dense) *mat.Dense {
	var dx mat.Dense
	dx.Apply(func(i, j int, g float64) float64 {
		y := l.output.At(i, j)
		return g * (1 - y*y)
	}, grad)
	return &dx
}

func (l *tanhLayer) params() []*mat.Dense { return nil }
func (l *tanhLayer) grads() []*mat.Dense  { return nil }

// dropoutLayer zeroes inputs with probability rate and scales survivors by
// 1/(1-rate) in train mode. It is the identity in eval mode.
type dropoutLayer struct {
	rate float64
	mask *mat.Dense // nil when the last forward was a pass-through
}

func (l *dropoutLayer) forward(x *mat.Dense, train bool, rng *rand.Rand) *mat.Dense {
	if !train || l.rate == 0 {
		l.mask = nil
		return x
	}
	rows, cols := x.Dims()
	keep := 1 / (1 - l.rate)
	mask := make([]float64, rows*cols)
	for i := range mask {
		if rng.Float64() >= l.rate {
			mask[i] = keep
		}
	}
	l.mask = mat.NewDense(rows, cols, mask)
	var y mat.Dense
	y.MulElem(x, l.mask)
	return &y
}

func (l *dropoutLayer) backward(grad *mat.Dense) *mat.Dense {
	if l.mask == nil {
		return grad
	}
	var dx mat.Dense
	dx.MulElem(grad, l.mask)
	return &dx
}

func (l *dropoutLayer) params() []*mat.Dense { return nil }
func (l *dropoutLayer) grads() []*mat.Dense  { return nil }
