package training

import (
	"math"
	"testing"
)

func TestStepLRScheduler(t *testing.T) {
	scheduler := NewStepLRScheduler(2, 0.1)
	baseLR := 0.1

	tests := []struct {
		epoch      int
		expectedLR float64
	}{
		{0, 0.1},    // Initial
		{1, 0.1},    // No change yet
		{2, 0.01},   // First reduction
		{3, 0.01},   // Same
		{4, 0.001},  // Second reduction
		{5, 0.001},  // Same
		{6, 0.0001}, // Third reduction
	}

	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, baseLR)
		if math.Abs(lr-tt.expectedLR) > 1e-8 {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}
}

func TestExponentialLRScheduler(t *testing.T) {
	scheduler := NewExponentialLRScheduler(0.9)
	baseLR := 0.1

	tests := []struct {
		epoch      int
		expectedLR float64
	}{
		{0, 0.1},
		{1, 0.09},
		{2, 0.081},
		{3, 0.0729},
		{4, 0.06561},
		{5, 0.059049},
	}

	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, baseLR)
		if math.Abs(lr-tt.expectedLR) > 1e-8 {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}
}

func TestCosineAnnealingLRScheduler(t *testing.T) {
	scheduler := NewCosineAnnealingLRScheduler(5, 0.0001)
	baseLR := 0.01

	tests := []struct {
		epoch      int
		expectedLR float64
		tolerance  float64
	}{
		{0, 0.01, 1e-6},     // Initial (max)
		{5, 0.0001, 1e-6},   // Final (min)
		{2, 0.006580, 1e-6}, // Midpoint calculation
	}

	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, baseLR)
		if math.Abs(lr-tt.expectedLR) > tt.tolerance {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}

	lr := scheduler.GetLR(10, baseLR)
	if lr != 0.0001 {
		t.Errorf("Beyond TMax: expected LR %f, got %f", 0.0001, lr)
	}
}

func TestParseScheduler(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		wantErr  bool
	}{
		{"", "ConstantLR", false},
		{"constant", "ConstantLR", false},
		{"step", "StepLR", false},
		{"Exponential", "ExponentialLR", false},
		{"cosine", "CosineAnnealingLR", false},
		{"plateau", "", true},
	}

	for _, tt := range tests {
		s, err := ParseScheduler(tt.name, 9)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.name, err)
		}
		if s.GetName() != tt.expected {
			t.Errorf("%q: expected %s, got %s", tt.name, tt.expected, s.GetName())
		}
	}

	step, _ := ParseScheduler("step", 9)
	if lr := step.GetLR(3, 1.0); math.Abs(lr-0.1) > 1e-12 {
		t.Errorf("step schedule over 9 epochs: expected 0.1 at epoch 3, got %f", lr)
	}
}
