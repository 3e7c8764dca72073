package optimizer

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestDefaultAdamConfig(t *testing.T) {
	config := DefaultAdamConfig()
	if config.LearningRate != 0.001 || config.Beta1 != 0.9 || config.Beta2 != 0.999 || config.Epsilon != 1e-8 {
		t.Errorf("unexpected defaults %+v", config)
	}
}

func TestAdamParameterValidation(t *testing.T) {
	base := DefaultAdamConfig()
	mutations := map[string]func(c *AdamConfig){
		"NegativeLR":  func(c *AdamConfig) { c.LearningRate = -1 },
		"Beta1":       func(c *AdamConfig) { c.Beta1 = 1 },
		"Beta2":       func(c *AdamConfig) { c.Beta2 = -0.1 },
		"Epsilon":     func(c *AdamConfig) { c.Epsilon = 0 },
		"WeightDecay": func(c *AdamConfig) { c.WeightDecay = -1 },
	}
	for name, mutate := range mutations {
		c := base
		mutate(&c)
		if _, err := NewAdamOptimizer(c); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	// After bias correction the first update is lr * g / |g|.
	adam, err := NewAdamOptimizer(AdamConfig{LearningRate: 0.01, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8})
	if err != nil {
		t.Fatal(err)
	}
	p := mat.NewDense(1, 2, []float64{1, 1})
	g := mat.NewDense(1, 2, []float64{2, -0.5})
	if err := adam.Step([]*mat.Dense{p}, []*mat.Dense{g}); err != nil {
		t.Fatal(err)
	}
	if !approxEqual(p.At(0, 0), 0.99, 1e-6) {
		t.Errorf("got %v, want 0.99", p.At(0, 0))
	}
	if !approxEqual(p.At(0, 1), 1.01, 1e-6) {
		t.Errorf("got %v, want 1.01", p.At(0, 1))
	}
	if adam.GetStepCount() != 1 {
		t.Errorf("Expected step count 1, got %d", adam.GetStepCount())
	}
}
