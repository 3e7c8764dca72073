// Package trainerr defines the failure taxonomy shared by the dataset,
// checkpoint, metrics and training packages.
package trainerr

import (
	"errors"
	"fmt"
)

// ErrTruncatedRecord is wrapped by a FileAccessError when strict framing is
// enabled and a source file ends in a partial record.
var ErrTruncatedRecord = errors.New("file length is not a multiple of the record size")

// ErrLabelOutOfRange is wrapped when a record's label has no class name.
var ErrLabelOutOfRange = errors.New("label out of range")

// FileAccessError reports a source file or checkpoint path that could not be
// opened, read or written.
type FileAccessError struct {
	Path string
	Op   string // "open", "read", "write", ...
	Err  error
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileAccessError) Unwrap() error { return e.Err }

// DatasetEmptyError reports a split for which every source file was read
// but zero records were decoded.
type DatasetEmptyError struct {
	Root  string
	Split string
}

func (e *DatasetEmptyError) Error() string {
	return fmt.Sprintf("no %s records loaded, check dataset path: %s", e.Split, e.Root)
}

// CorruptCheckpointError reports a checkpoint file that exists but cannot be
// parsed. Absence is not an error and never produces this type.
type CorruptCheckpointError struct {
	Path string
	Err  error
}

func (e *CorruptCheckpointError) Error() string {
	return fmt.Sprintf("corrupt checkpoint %s: %v", e.Path, e.Err)
}

func (e *CorruptCheckpointError) Unwrap() error { return e.Err }

// MetricsWriteError reports a metrics store that could not be created or
// appended to.
type MetricsWriteError struct {
	Path string
	Err  error
}

func (e *MetricsWriteError) Error() string {
	return fmt.Sprintf("write metrics %s: %v", e.Path, e.Err)
}

func (e *MetricsWriteError) Unwrap() error { return e.Err }

// Stage names a step of the training run for error reporting.
type Stage string

const (
	StageDataset    Stage = "dataset"
	StageResume     Stage = "resume"
	StageTrain      Stage = "train"
	StageEval       Stage = "eval"
	StageMetrics    Stage = "metrics"
	StageCheckpoint Stage = "checkpoint"
)

// StageError attaches the run stage and epoch to a terminal failure.
// Epoch is 0 for failures that happen before the first epoch starts.
type StageError struct {
	Stage Stage
	Epoch int
	Err   error
}

func (e *StageError) Error() string {
	if e.Epoch > 0 {
		return fmt.Sprintf("%s failed at epoch %d: %v", e.Stage, e.Epoch, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
