package optimizer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const adamType = "Adam"

// AdamOptimizerState holds the Adam moment estimates.
type AdamOptimizerState struct {
	config    AdamConfig
	momentum  []*mat.Dense // First moment for each weight tensor
	variance  []*mat.Dense // Second moment for each weight tensor
	stepCount uint64
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64 // Momentum decay (typically 0.9)
	Beta2        float64 // Variance decay (typically 0.999)
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamOptimizer creates a new Adam optimizer
func NewAdamOptimizer(config AdamConfig) (*AdamOptimizerState, error) {
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1): %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1): %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	return &AdamOptimizerState{config: config}, nil
}

// Step performs a single bias-corrected Adam update.
func (adam *AdamOptimizerState) Step(params, grads []*mat.Dense) error {
	if err := checkShapes(params, grads); err != nil {
		return err
	}
	m, err := ensureSlots("momentum", adam.momentum, params)
	if err != nil {
		return err
	}
	v, err := ensureSlots("variance", adam.variance, params)
	if err != nil {
		return err
	}
	adam.momentum, adam.variance = m, v

	adam.stepCount++
	t := float64(adam.stepCount)
	c := adam.config
	correction1 := 1 - math.Pow(c.Beta1, t)
	correction2 := 1 - math.Pow(c.Beta2, t)

	for i, p := range params {
		g := effectiveGrad(p, grads[i], c.WeightDecay)
		mi, vi := m[i], v[i]
		rows, cols := p.Dims()
		for r := 0; r < rows; r++ {
			for col := 0; col < cols; col++ {
				gv := g.At(r, col)
				mv := c.Beta1*mi.At(r, col) + (1-c.Beta1)*gv
				vv := c.Beta2*vi.At(r, col) + (1-c.Beta2)*gv*gv
				mi.Set(r, col, mv)
				vi.Set(r, col, vv)

				mHat := mv / correction1
				vHat := vv / correction2
				p.Set(r, col, p.At(r, col)-c.LearningRate*mHat/(math.Sqrt(vHat)+c.Epsilon))
			}
		}
	}
	return nil
}

// GetState extracts optimizer state for checkpointing
func (adam *AdamOptimizerState) GetState() (*State, error) {
	buffers, err := marshalBuffers(adam.momentum, adam.variance)
	if err != nil {
		return nil, err
	}
	return &State{Type: adamType, StepCount: adam.stepCount, Buffers: buffers}, nil
}

// LoadState restores optimizer state from checkpoint
func (adam *AdamOptimizerState) LoadState(state *State) error {
	if err := validateStateType(adamType, state); err != nil {
		return err
	}
	groups, err := unmarshalBuffers(state.Buffers, 2)
	if err != nil {
		return err
	}
	adam.momentum, adam.variance = groups[0], groups[1]
	adam.stepCount = state.StepCount
	return nil
}

// GetStepCount returns the current optimization step number
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.stepCount
}

// UpdateLearningRate updates the learning rate
func (adam *AdamOptimizerState) UpdateLearningRate(lr float64) {
	adam.config.LearningRate = lr
}

// LearningRate returns the current learning rate
func (adam *AdamOptimizerState) LearningRate() float64 {
	return adam.config.LearningRate
}
