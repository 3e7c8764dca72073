package optimizer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const rmspropType = "RMSProp"

// RMSPropOptimizerState scales each step by a running average of squared
// gradients.
type RMSPropOptimizerState struct {
	config     RMSPropConfig
	squaredAvg []*mat.Dense
	momentum   []*mat.Dense // only if momentum > 0
	gradAvg    []*mat.Dense // only if centered
	stepCount  uint64
}

// RMSPropConfig holds configuration for RMSProp optimizer
type RMSPropConfig struct {
	LearningRate float64
	Alpha        float64 // Smoothing constant
	Epsilon      float64
	WeightDecay  float64
	Momentum     float64
	Centered     bool
}

// DefaultRMSPropConfig returns default RMSProp optimizer configuration
func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{
		LearningRate: 0.01,
		Alpha:        0.99,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
		Momentum:     0.0,
		Centered:     false,
	}
}

// NewRMSPropOptimizer creates a new RMSProp optimizer
func NewRMSPropOptimizer(config RMSPropConfig) (*RMSPropOptimizerState, error) {
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Alpha < 0 || config.Alpha >= 1 {
		return nil, fmt.Errorf("alpha must be in [0, 1): %f", config.Alpha)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", config.Epsilon)
	}
	if config.Momentum < 0 || config.Momentum >= 1 {
		return nil, fmt.Errorf("momentum must be in [0, 1): %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	return &RMSPropOptimizerState{config: config}, nil
}

// Step performs a single RMSProp update.
func (rms *RMSPropOptimizerState) Step(params, grads []*mat.Dense) error {
	if err := checkShapes(params, grads); err != nil {
		return err
	}
	c := rms.config

	var err error
	if rms.squaredAvg, err = ensureSlots("squared average", rms.squaredAvg, params); err != nil {
		return err
	}
	if c.Momentum > 0 {
		if rms.momentum, err = ensureSlots("momentum", rms.momentum, params); err != nil {
			return err
		}
	}
	if c.Centered {
		if rms.gradAvg, err = ensureSlots("gradient average", rms.gradAvg, params); err != nil {
			return err
		}
	}

	for i, p := range params {
		g := effectiveGrad(p, grads[i], c.WeightDecay)
		rows, cols := p.Dims()
		for r := 0; r < rows; r++ {
			for col := 0; col < cols; col++ {
				gv := g.At(r, col)
				sq := c.Alpha*rms.squaredAvg[i].At(r, col) + (1-c.Alpha)*gv*gv
				rms.squaredAvg[i].Set(r, col, sq)

				denom := sq
				if c.Centered {
					ga := c.Alpha*rms.gradAvg[i].At(r, col) + (1-c.Alpha)*gv
					rms.gradAvg[i].Set(r, col, ga)
					denom -= ga * ga
				}
				update := gv / (math.Sqrt(denom) + c.Epsilon)

				if c.Momentum > 0 {
					buf := c.Momentum*rms.momentum[i].At(r, col) + update
					rms.momentum[i].Set(r, col, buf)
					update = buf
				}
				p.Set(r, col, p.At(r, col)-c.LearningRate*update)
			}
		}
	}

	rms.stepCount++
	return nil
}

// GetState extracts optimizer state for checkpointing. Buffers are laid
// out as squared averages, then momentum, then gradient averages; absent
// groups are filled with zero matrices so the layout stays fixed.
func (rms *RMSPropOptimizerState) GetState() (*State, error) {
	if rms.squaredAvg == nil {
		return &State{Type: rmspropType, StepCount: rms.stepCount}, nil
	}
	buffers, err := marshalBuffers(rms.squaredAvg, orZeros(rms.momentum, rms.squaredAvg), orZeros(rms.gradAvg, rms.squaredAvg))
	if err != nil {
		return nil, err
	}
	return &State{Type: rmspropType, StepCount: rms.stepCount, Buffers: buffers}, nil
}

// LoadState restores optimizer state from checkpoint
func (rms *RMSPropOptimizerState) LoadState(state *State) error {
	if err := validateStateType(rmspropType, state); err != nil {
		return err
	}
	groups, err := unmarshalBuffers(state.Buffers, 3)
	if err != nil {
		return err
	}
	rms.squaredAvg = groups[0]
	rms.momentum, rms.gradAvg = nil, nil
	if rms.config.Momentum > 0 {
		rms.momentum = groups[1]
	}
	if rms.config.Centered {
		rms.gradAvg = groups[2]
	}
	rms.stepCount = state.StepCount
	return nil
}

// GetStepCount returns the current optimization step number
func (rms *RMSPropOptimizerState) GetStepCount() uint64 {
	return rms.stepCount
}

// UpdateLearningRate updates the learning rate
func (rms *RMSPropOptimizerState) UpdateLearningRate(lr float64) {
	rms.config.LearningRate = lr
}

// LearningRate returns the current learning rate
func (rms *RMSPropOptimizerState) LearningRate() float64 {
	return rms.config.LearningRate
}

func orZeros(group, like []*mat.Dense) []*mat.Dense {
	if group != nil {
		return group
	}
	zeros := make([]*mat.Dense, len(like))
	for i, m := range like {
		r, c := m.Dims()
		zeros[i] = mat.NewDense(r, c, nil)
	}
	return zeros
}
