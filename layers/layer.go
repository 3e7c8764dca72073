package layers

import (
	"fmt"
	"strings"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	Dense LayerType = iota
	ReLU
	Dropout
	LeakyReLU
	Sigmoid
	Tanh
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case ReLU:
		return "ReLU"
	case Dropout:
		return "Dropout"
	case LeakyReLU:
		return "LeakyReLU"
	case Sigmoid:
		return "Sigmoid"
	case Tanh:
		return "Tanh"
	default:
		return "Unknown"
	}
}

// LayerSpec defines layer configuration. It carries no execution state;
// NewNetwork turns a compiled ModelSpec into runnable layers.
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	// Shape information (computed during model compilation)
	InputShape  []int `json:"input_shape,omitempty"`
	OutputShape []int `json:"output_shape,omitempty"`

	// Parameter metadata (computed during model compilation)
	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`
}

// ModelSpec defines a complete neural network model as layer configuration
type ModelSpec struct {
	Layers []LayerSpec `json:"layers"`

	// Compiled model information
	TotalParameters int64   `json:"total_parameters"`
	ParameterShapes [][]int `json:"parameter_shapes"`
	InputShape      []int   `json:"input_shape"`
	OutputShape     []int   `json:"output_shape"`
	Compiled        bool    `json:"compiled"`
}

// LayerFactory creates layer specifications (configuration only)
type LayerFactory struct{}

// NewFactory creates a new layer factory
func NewFactory() *LayerFactory {
	return &LayerFactory{}
}

// CreateDenseSpec creates a dense layer specification. An inputSize of zero
// leaves the input size to be inferred by Compile.
func (lf *LayerFactory) CreateDenseSpec(inputSize, outputSize int, useBias bool, name string) LayerSpec {
	spec := LayerSpec{
		Type: Dense,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size": outputSize,
			"use_bias":    useBias,
		},
	}
	if inputSize > 0 {
		spec.Parameters["input_size"] = inputSize
	}
	return spec
}

// CreateReLUSpec creates a ReLU activation specification
func (lf *LayerFactory) CreateReLUSpec(name string) LayerSpec {
	return LayerSpec{Type: ReLU, Name: name, Parameters: map[string]interface{}{}}
}

// CreateLeakyReLUSpec creates a Leaky ReLU activation specification
func (lf *LayerFactory) CreateLeakyReLUSpec(negativeSlope float64, name string) LayerSpec {
	return LayerSpec{
		Type: LeakyReLU,
		Name: name,
		Parameters: map[string]interface{}{
			"negative_slope": negativeSlope,
		},
	}
}

// CreateSigmoidSpec creates a Sigmoid activation specification
func (lf *LayerFactory) CreateSigmoidSpec(name string) LayerSpec {
	return LayerSpec{Type: Sigmoid, Name: name, Parameters: map[string]interface{}{}}
}

// CreateTanhSpec creates a Tanh activation specification
func (lf *LayerFactory) CreateTanhSpec(name string) LayerSpec {
	return LayerSpec{Type: Tanh, Name: name, Parameters: map[string]interface{}{}}
}

// CreateDropoutSpec creates a Dropout layer specification
func (lf *LayerFactory) CreateDropoutSpec(rate float64, name string) LayerSpec {
	return LayerSpec{
		Type: Dropout,
		Name: name,
		Parameters: map[string]interface{}{
			"rate": rate,
		},
	}
}

// ModelBuilder assembles layer specs and computes their shapes.
type ModelBuilder struct {
	layers     []LayerSpec
	inputShape []int
}

// NewModelBuilder creates a builder for inputs of shape [batch, features...].
func NewModelBuilder(inputShape []int) *ModelBuilder {
	return &ModelBuilder{
		inputShape: append([]int(nil), inputShape...),
	}
}

// AddLayer adds a generic layer to the model
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	mb.layers = append(mb.layers, layer)
	return mb
}

// AddDense adds a dense layer. The input size is computed during Compile.
func (mb *ModelBuilder) AddDense(outputSize int, useBias bool, name string) *ModelBuilder {
	return mb.AddLayer(NewFactory().CreateDenseSpec(0, outputSize, useBias, name))
}

// AddReLU adds a ReLU activation to the model
func (mb *ModelBuilder) AddReLU(name string) *ModelBuilder {
	return mb.AddLayer(NewFactory().CreateReLUSpec(name))
}

// AddLeakyReLU adds a Leaky ReLU activation to the model
func (mb *ModelBuilder) AddLeakyReLU(negativeSlope float64, name string) *ModelBuilder {
	return mb.AddLayer(NewFactory().CreateLeakyReLUSpec(negativeSlope, name))
}

// AddSigmoid adds a Sigmoid activation to the model
func (mb *ModelBuilder) AddSigmoid(name string) *ModelBuilder {
	return mb.AddLayer(NewFactory().CreateSigmoidSpec(name))
}

// AddTanh adds a Tanh activation to the model
func (mb *ModelBuilder) AddTanh(name string) *ModelBuilder {
	return mb.AddLayer(NewFactory().CreateTanhSpec(name))
}

// AddDropout adds a Dropout layer to the model
// Dropout is only active in training mode
func (mb *ModelBuilder) AddDropout(rate float64, name string) *ModelBuilder {
	return mb.AddLayer(NewFactory().CreateDropoutSpec(rate, name))
}

// Compile computes shapes and parameter counts for every layer.
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if len(mb.layers) == 0 {
		return nil, fmt.Errorf("cannot compile empty model")
	}
	if len(mb.inputShape) < 2 {
		return nil, fmt.Errorf("input shape %v must be [batch, features...]", mb.inputShape)
	}

	model := &ModelSpec{
		Layers:     make([]LayerSpec, len(mb.layers)),
		InputShape: append([]int(nil), mb.inputShape...),
	}

	currentShape := mb.inputShape
	var allParameterShapes [][]int
	totalParams := int64(0)

	for i, src := range mb.layers {
		layer := src
		layer.Parameters = make(map[string]interface{}, len(src.Parameters)+1)
		for k, v := range src.Parameters {
			layer.Parameters[k] = v
		}
		layer.InputShape = append([]int(nil), currentShape...)

		outputShape, paramShapes, paramCount, err := computeLayerInfo(&layer, currentShape)
		if err != nil {
			return nil, fmt.Errorf("failed to compute layer %d (%s) info: %v", i, layer.Name, err)
		}

		layer.OutputShape = outputShape
		layer.ParameterShapes = paramShapes
		layer.ParameterCount = paramCount
		model.Layers[i] = layer

		allParameterShapes = append(allParameterShapes, paramShapes...)
		totalParams += paramCount
		currentShape = outputShape
	}

	model.OutputShape = currentShape
	model.ParameterShapes = allParameterShapes
	model.TotalParameters = totalParams
	model.Compiled = true

	return model, nil
}

func computeLayerInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	switch layer.Type {
	case Dense:
		return computeDenseInfo(layer, inputShape)
	case Dropout:
		rate := getFloatParam(layer.Parameters, "rate", 0)
		if rate < 0 || rate >= 1 {
			return nil, nil, 0, fmt.Errorf("dropout rate must be in [0, 1), got %g", rate)
		}
		return computeActivationInfo(inputShape)
	case LeakyReLU:
		if getFloatParam(layer.Parameters, "negative_slope", 0.01) < 0 {
			return nil, nil, 0, fmt.Errorf("negative slope cannot be negative")
		}
		return computeActivationInfo(inputShape)
	case ReLU, Sigmoid, Tanh:
		return computeActivationInfo(inputShape)
	default:
		return nil, nil, 0, fmt.Errorf("unsupported layer type: %s", layer.Type.String())
	}
}

// computeDenseInfo flattens every dimension except batch into the input size.
func computeDenseInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	outputSize, ok := layer.Parameters["output_size"].(int)
	if !ok || outputSize <= 0 {
		return nil, nil, 0, fmt.Errorf("missing or invalid output_size parameter")
	}
	useBias := getBoolParam(layer.Parameters, "use_bias", true)

	inputSize := 1
	for _, d := range inputShape[1:] {
		inputSize *= d
	}
	if inputSize <= 0 {
		return nil, nil, 0, fmt.Errorf("invalid input shape %v", inputShape)
	}
	if declared, ok := layer.Parameters["input_size"].(int); ok && declared != inputSize {
		return nil, nil, 0, fmt.Errorf("declared input_size %d does not match incoming %d", declared, inputSize)
	}
	layer.Parameters["input_size"] = inputSize

	paramShapes := [][]int{{inputSize, outputSize}}
	paramCount := int64(inputSize * outputSize)
	if useBias {
		paramShapes = append(paramShapes, []int{1, outputSize})
		paramCount += int64(outputSize)
	}

	return []int{inputShape[0], outputSize}, paramShapes, paramCount, nil
}

// Activation layers don't change shape and have no parameters
func computeActivationInfo(inputShape []int) ([]int, [][]int, int64, error) {
	return append([]int(nil), inputShape...), [][]int{}, 0, nil
}

// Summary returns a human-readable model summary
func (ms *ModelSpec) Summary() string {
	if !ms.Compiled {
		return "Model not compiled"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Model Summary:\n")
	fmt.Fprintf(&b, "Input Shape: %v\n", ms.InputShape)
	fmt.Fprintf(&b, "Output Shape: %v\n", ms.OutputShape)
	fmt.Fprintf(&b, "Total Parameters: %d\n", ms.TotalParameters)
	fmt.Fprintf(&b, "Layers: %d\n\n", len(ms.Layers))

	for i, layer := range ms.Layers {
		fmt.Fprintf(&b, "Layer %d: %s (%s)\n", i+1, layer.Name, layer.Type.String())
		fmt.Fprintf(&b, "  Input:  %v\n", layer.InputShape)
		fmt.Fprintf(&b, "  Output: %v\n", layer.OutputShape)
		fmt.Fprintf(&b, "  Params: %d\n", layer.ParameterCount)
		if len(layer.Parameters) > 0 {
			fmt.Fprintf(&b, "  Config: %v\n", layer.Parameters)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// InputSize is the number of features per sample.
func (ms *ModelSpec) InputSize() int {
	n := 1
	for _, d := range ms.InputShape[1:] {
		n *= d
	}
	return n
}

// OutputSize is the number of scores per sample.
func (ms *ModelSpec) OutputSize() int {
	return ms.OutputShape[len(ms.OutputShape)-1]
}

func getBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := params[key].(bool); ok {
		return val
	}
	return defaultValue
}

func getFloatParam(params map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := params[key].(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	}
	return defaultValue
}

// DefaultNegativeSlope is the LeakyReLU slope used by Build.
const DefaultNegativeSlope = 0.01

// ParseActivation maps an activation name to its layer type. The empty name
// selects ReLU.
func ParseActivation(name string) (LayerType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "relu":
		return ReLU, nil
	case "leaky_relu":
		return LeakyReLU, nil
	case "sigmoid":
		return Sigmoid, nil
	case "tanh":
		return Tanh, nil
	default:
		return 0, fmt.Errorf("unknown activation %q (want relu, leaky_relu, sigmoid or tanh)", name)
	}
}

// AddActivation adds the activation layer of the given type.
func (mb *ModelBuilder) AddActivation(activation LayerType, name string) *ModelBuilder {
	switch activation {
	case LeakyReLU:
		return mb.AddLeakyReLU(DefaultNegativeSlope, name)
	case Sigmoid:
		return mb.AddSigmoid(name)
	case Tanh:
		return mb.AddTanh(name)
	case ReLU:
		return mb.AddReLU(name)
	default:
		// Compile rejects the unknown type
		return mb.AddLayer(LayerSpec{Type: activation, Name: name})
	}
}

// Build compiles a multilayer perceptron for inputs of the given per-sample
// shape: each hidden size gets a Dense+activation (+Dropout when dropout > 0)
// block, and a final Dense produces one score per class.
func Build(sampleShape []int, hidden []int, classes int, dropout float64, activation LayerType) (*ModelSpec, error) {
	builder := NewModelBuilder(append([]int{-1}, sampleShape...))
	if dropout > 0 {
		builder.AddDropout(dropout, "input_dropout")
	}
	prefix := strings.ToLower(activation.String())
	for i, size := range hidden {
		builder.AddDense(size, true, fmt.Sprintf("hidden%d", i+1)).
			AddActivation(activation, fmt.Sprintf("%s%d", prefix, i+1))
		if dropout > 0 {
			builder.AddDropout(dropout, fmt.Sprintf("dropout%d", i+1))
		}
	}
	builder.AddDense(classes, true, "logits")
	return builder.Compile()
}
