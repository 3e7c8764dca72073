package training

import (
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-trainer/vision/dataloader"
)

// Mode selects training or evaluation behavior of a Learner.
type Mode int

const (
	ModeTrain Mode = iota
	ModeEval
)

func (m Mode) String() string {
	switch m {
	case ModeTrain:
		return "train"
	case ModeEval:
		return "eval"
	default:
		return "unknown"
	}
}

// Learner is the model backend driven by the runner. Scores are returned as
// a [batch_size, num_classes] matrix of unnormalized class scores.
//
// In ModeEval a Learner must not change its parameters and must disable any
// stochastic behavior such as dropout.
type Learner interface {
	// SetMode switches between training and evaluation behavior.
	SetMode(mode Mode)

	// Predict scores a batch without changing parameters.
	Predict(batch *dataloader.Batch) (*mat.Dense, error)

	// TrainStep scores a batch, computes the mean cross-entropy loss
	// against batch.Labels and updates parameters to reduce it. The scores
	// are the ones the loss was computed from, before the update.
	TrainStep(batch *dataloader.Batch) (loss float64, scores *mat.Dense, err error)

	// ExportState serializes parameters and optimizer state.
	ExportState() ([]byte, error)

	// ImportState restores state produced by ExportState.
	ImportState(state []byte) error
}

// Seeder is implemented by Learners with internal randomness. The session
// reseeds it at the start of every epoch so resumed runs are reproducible.
type Seeder interface {
	Reseed(seed int64)
}

// LearningRateSetter is implemented by Learners that accept a learning rate
// chosen by a schedule.
type LearningRateSetter interface {
	SetLearningRate(lr float64)
}
