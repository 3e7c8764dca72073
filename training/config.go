package training

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tsawler/go-trainer/checkpoints"
	"github.com/tsawler/go-trainer/layers"
	"github.com/tsawler/go-trainer/optimizer"
)

// Config holds configuration for a training run
type Config struct {
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	LearningRate float64 `json:"learning_rate"`
	Device       string  `json:"device"`      // "cpu", "cuda", "gpu" or "auto"
	DataDir      string  `json:"data_dir"`    // Dataset root
	OutDir       string  `json:"out_dir"`     // Checkpoints, metrics and curves
	ResumeFrom   string  `json:"resume_from"` // Checkpoint to resume from ("" = fresh run)
	LogEvery     int     `json:"log_every"`   // Print training stats every N batches (0 = never)
	Seed         int64   `json:"seed"`

	Workers  int `json:"workers"`  // Batch assembly goroutines (0 = logical CPUs)
	Prefetch int `json:"prefetch"` // Batches assembled ahead of the learner

	CheckpointFormat string `json:"checkpoint_format"` // "binary" or "json"
	KeepCheckpoints  int    `json:"keep_checkpoints"`  // 0 = keep all
	MetricsDB        string `json:"metrics_db"`        // SQLite mirror of the metrics table ("" = disabled)
	Scheduler        string `json:"scheduler"`         // "constant", "step", "exponential" or "cosine"
	StrictRecords    bool   `json:"strict_records"`    // Reject files with trailing partial records
	ProgressBar      bool   `json:"progress_bar"`
	PlotURL          string `json:"plot_url"` // Plotting sidecar that receives curves at the end ("" = disabled)

	// Fraction of the training split held out for per-epoch evaluation.
	// When zero, epochs evaluate on the test split.
	ValidationSplit float64 `json:"validation_split"`

	// Learner
	Hidden      []int   `json:"hidden"`     // Hidden layer sizes (empty = softmax regression)
	Dropout     float64 `json:"dropout"`    // Dropout rate on inputs and hidden layers
	Activation  string  `json:"activation"` // "relu", "leaky_relu", "sigmoid" or "tanh"
	Optimizer   string  `json:"optimizer"`  // "sgd", "adam" or "rmsprop"
	Momentum    float64 `json:"momentum"`
	WeightDecay float64 `json:"weight_decay"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		Epochs:           10,
		BatchSize:        64,
		LearningRate:     1e-3,
		Device:           "cpu",
		DataDir:          "data",
		OutDir:           "runs",
		LogEvery:         100,
		Seed:             42,
		Prefetch:         2,
		CheckpointFormat: "binary",
		Scheduler:        "constant",
		Activation:       "relu",
		Optimizer:        "adam",
		Momentum:         0.9,
	}
}

// LoadConfig reads a JSON configuration file. Fields missing from the file
// keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Epochs < 1:
		return fmt.Errorf("epochs must be at least 1, got %d", c.Epochs)
	case c.BatchSize < 1:
		return fmt.Errorf("batch_size must be at least 1, got %d", c.BatchSize)
	case c.LearningRate <= 0:
		return fmt.Errorf("learning_rate must be positive, got %g", c.LearningRate)
	case c.LogEvery < 0:
		return fmt.Errorf("log_every must not be negative, got %d", c.LogEvery)
	case c.Workers < 0:
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	case c.Prefetch < 0:
		return fmt.Errorf("prefetch must not be negative, got %d", c.Prefetch)
	case c.KeepCheckpoints < 0:
		return fmt.Errorf("keep_checkpoints must not be negative, got %d", c.KeepCheckpoints)
	case c.PlotURL != "" && !strings.HasPrefix(c.PlotURL, "http://") && !strings.HasPrefix(c.PlotURL, "https://"):
		return fmt.Errorf("plot_url must be an http(s) URL, got %q", c.PlotURL)
	case c.DataDir == "":
		return fmt.Errorf("data_dir must be set")
	case c.OutDir == "":
		return fmt.Errorf("out_dir must be set")
	case c.ValidationSplit < 0 || c.ValidationSplit >= 1:
		return fmt.Errorf("validation_split must be in [0, 1), got %g", c.ValidationSplit)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("dropout must be in [0, 1), got %g", c.Dropout)
	case c.Momentum < 0 || c.Momentum >= 1:
		return fmt.Errorf("momentum must be in [0, 1), got %g", c.Momentum)
	case c.WeightDecay < 0:
		return fmt.Errorf("weight_decay must not be negative, got %g", c.WeightDecay)
	}
	for _, size := range c.Hidden {
		if size < 1 {
			return fmt.Errorf("hidden layer sizes must be positive, got %v", c.Hidden)
		}
	}
	if _, err := checkpoints.ParseFormat(c.CheckpointFormat); err != nil {
		return err
	}
	if _, err := ParseScheduler(c.Scheduler, c.Epochs); err != nil {
		return err
	}
	if _, err := layers.ParseActivation(c.Activation); err != nil {
		return err
	}
	if _, err := optimizer.New(c.OptimizerConfig()); err != nil {
		return err
	}
	return nil
}

// OptimizerConfig returns the optimizer settings of the run.
func (c Config) OptimizerConfig() optimizer.Config {
	return optimizer.Config{
		Name:         c.Optimizer,
		LearningRate: c.LearningRate,
		Momentum:     c.Momentum,
		WeightDecay:  c.WeightDecay,
	}
}
