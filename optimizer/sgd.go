package optimizer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

const sgdType = "SGD"

// SGDOptimizerState is stochastic gradient descent with optional momentum.
type SGDOptimizerState struct {
	config    SGDConfig
	velocity  []*mat.Dense // only if momentum > 0
	stepCount uint64
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Momentum     float64 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay  float64 // L2 regularization coefficient
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// NewSGDOptimizer creates a new SGD optimizer
func NewSGDOptimizer(config SGDConfig) (*SGDOptimizerState, error) {
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 || config.Momentum >= 1 {
		return nil, fmt.Errorf("momentum must be in [0, 1): %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires momentum > 0")
	}
	return &SGDOptimizerState{config: config}, nil
}

// Step performs v = mu*v + g and p -= lr*v (or lr*(g + mu*v) for Nesterov).
func (sgd *SGDOptimizerState) Step(params, grads []*mat.Dense) error {
	if err := checkShapes(params, grads); err != nil {
		return err
	}

	if sgd.config.Momentum > 0 {
		v, err := ensureSlots("momentum", sgd.velocity, params)
		if err != nil {
			return err
		}
		sgd.velocity = v
	}

	for i, p := range params {
		g := effectiveGrad(p, grads[i], sgd.config.WeightDecay)
		if sgd.config.Momentum > 0 {
			v := sgd.velocity[i]
			v.Scale(sgd.config.Momentum, v)
			v.Add(v, g)
			if sgd.config.Nesterov {
				var look mat.Dense
				look.Scale(sgd.config.Momentum, v)
				g.Add(g, &look)
			} else {
				g.Copy(v)
			}
		}
		g.Scale(sgd.config.LearningRate, g)
		p.Sub(p, g)
	}

	sgd.stepCount++
	return nil
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGDOptimizerState) GetState() (*State, error) {
	buffers, err := marshalBuffers(sgd.velocity)
	if err != nil {
		return nil, err
	}
	return &State{Type: sgdType, StepCount: sgd.stepCount, Buffers: buffers}, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGDOptimizerState) LoadState(state *State) error {
	if err := validateStateType(sgdType, state); err != nil {
		return err
	}
	groups, err := unmarshalBuffers(state.Buffers, 1)
	if err != nil {
		return err
	}
	if groups[0] != nil && sgd.config.Momentum == 0 {
		return fmt.Errorf("state carries momentum buffers but momentum is disabled")
	}
	sgd.velocity = groups[0]
	sgd.stepCount = state.StepCount
	return nil
}

// GetStepCount returns the current optimization step number
func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.stepCount
}

// UpdateLearningRate updates the learning rate
func (sgd *SGDOptimizerState) UpdateLearningRate(lr float64) {
	sgd.config.LearningRate = lr
}

// LearningRate returns the current learning rate
func (sgd *SGDOptimizerState) LearningRate() float64 {
	return sgd.config.LearningRate
}
