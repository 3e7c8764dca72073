package training

import (
	"context"
	"fmt"

	"github.com/tsawler/go-trainer/vision/dataloader"
)

// BatchSource starts one pass over a dataset. *dataloader.DataLoader
// implements it.
type BatchSource interface {
	Pass(ctx context.Context) *dataloader.Pass
}

// EpochResult summarizes one pass. Loss and Accuracy are weighted by the
// number of samples in each batch.
type EpochResult struct {
	Loss     float64
	Accuracy float64
	Samples  int
	Batches  int

	// Confusion is filled by evaluation passes when the runner knows the
	// number of classes.
	Confusion *ConfusionMatrix
}

// Progress is a snapshot of the running statistics within a pass.
type Progress struct {
	Mode     Mode
	Epoch    int
	Batch    int // batches processed so far
	Batches  int // batches in the pass
	Samples  int
	Loss     float64
	Accuracy float64
}

// ProgressFunc receives periodic progress snapshots.
type ProgressFunc func(Progress)

// EpochRunner drives a Learner through one pass in train or eval mode.
type EpochRunner struct {
	// ReportEvery calls OnProgress after every ReportEvery batches.
	// Zero disables reporting.
	ReportEvery int
	OnProgress  ProgressFunc

	// NumClasses enables the confusion matrix for evaluation passes.
	NumClasses int
}

// Run processes every batch of one pass exactly once. In ModeTrain the
// learner updates itself after each batch; in ModeEval it only predicts.
func (r *EpochRunner) Run(ctx context.Context, src BatchSource, learner Learner, mode Mode, epoch int) (EpochResult, error) {
	learner.SetMode(mode)

	pass := src.Pass(ctx)
	defer pass.Close()

	var confusion *ConfusionMatrix
	if mode == ModeEval && r.NumClasses > 0 {
		confusion = NewConfusionMatrix(r.NumClasses)
	}

	var (
		lossSum float64
		correct int
		seen    int
		batches int
	)

	for {
		batch, err := pass.Next()
		if err != nil {
			return EpochResult{}, fmt.Errorf("batch %d: %w", batches+1, err)
		}
		if batch == nil {
			break
		}

		loss, n, err := r.step(batch, learner, mode, confusion)
		if err != nil {
			return EpochResult{}, fmt.Errorf("batch %d: %w", batches+1, err)
		}

		size := batch.Size()
		lossSum += loss * float64(size)
		correct += n
		seen += size
		batches++

		if r.ReportEvery > 0 && r.OnProgress != nil && batches%r.ReportEvery == 0 {
			r.OnProgress(Progress{
				Mode:     mode,
				Epoch:    epoch,
				Batch:    batches,
				Batches:  pass.Len(),
				Samples:  seen,
				Loss:     lossSum / float64(seen),
				Accuracy: float64(correct) / float64(seen),
			})
		}
	}

	if seen == 0 {
		return EpochResult{}, fmt.Errorf("%s pass produced no samples", mode)
	}

	return EpochResult{
		Loss:      lossSum / float64(seen),
		Accuracy:  float64(correct) / float64(seen),
		Samples:   seen,
		Batches:   batches,
		Confusion: confusion,
	}, nil
}

// step runs one batch and returns its mean loss and number of correct
// predictions.
func (r *EpochRunner) step(batch *dataloader.Batch, learner Learner, mode Mode, confusion *ConfusionMatrix) (float64, int, error) {
	if mode == ModeTrain {
		loss, scores, err := learner.TrainStep(batch)
		if err != nil {
			return 0, 0, fmt.Errorf("train step: %w", err)
		}
		correct, err := CountCorrect(scores, batch.Labels)
		if err != nil {
			return 0, 0, err
		}
		return loss, correct, nil
	}

	scores, err := learner.Predict(batch)
	if err != nil {
		return 0, 0, fmt.Errorf("predict: %w", err)
	}
	loss, err := CrossEntropy(scores, batch.Labels)
	if err != nil {
		return 0, 0, err
	}
	correct, err := CountCorrect(scores, batch.Labels)
	if err != nil {
		return 0, 0, err
	}
	if confusion != nil {
		if err := confusion.Update(scores, batch.Labels); err != nil {
			return 0, 0, err
		}
	}
	return loss, correct, nil
}
