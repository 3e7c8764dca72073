package optimizer

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Optimizer defines the common interface for all optimizers.
// Parameters are updated in place; slot buffers (momentum, variance) are
// allocated on the first Step and are part of the exported state so that a
// restored optimizer continues exactly where the saved one stopped.
type Optimizer interface {
	// Step applies one update. grads[i] must have the shape of params[i].
	Step(params, grads []*mat.Dense) error

	// GetState extracts optimizer state for checkpointing.
	GetState() (*State, error)

	// LoadState restores state produced by GetState of the same optimizer type.
	LoadState(state *State) error

	// GetStepCount returns the number of steps taken.
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate.
	UpdateLearningRate(lr float64)

	// LearningRate returns the current learning rate.
	LearningRate() float64
}

// State represents the complete state of an optimizer.
type State struct {
	Type      string
	StepCount uint64
	Buffers   [][]byte // mat.Dense.MarshalBinary output, one per slot
}

// Config selects and configures an optimizer by name.
type Config struct {
	Name         string // "sgd", "adam" or "rmsprop"
	LearningRate float64
	Momentum     float64 // sgd and rmsprop
	WeightDecay  float64
}

// New builds the optimizer named in config with that optimizer's defaults
// for everything config does not set.
func New(config Config) (Optimizer, error) {
	switch strings.ToLower(config.Name) {
	case "", "sgd":
		c := DefaultSGDConfig()
		c.LearningRate = config.LearningRate
		c.Momentum = config.Momentum
		c.WeightDecay = config.WeightDecay
		return NewSGDOptimizer(c)
	case "adam":
		c := DefaultAdamConfig()
		c.LearningRate = config.LearningRate
		c.WeightDecay = config.WeightDecay
		return NewAdamOptimizer(c)
	case "rmsprop":
		c := DefaultRMSPropConfig()
		c.LearningRate = config.LearningRate
		c.Momentum = config.Momentum
		c.WeightDecay = config.WeightDecay
		return NewRMSPropOptimizer(c)
	default:
		return nil, fmt.Errorf("unknown optimizer %q", config.Name)
	}
}

func validateStateType(optimizerType string, state *State) error {
	if state == nil {
		return fmt.Errorf("%s: nil state", optimizerType)
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
