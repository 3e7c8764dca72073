package training

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/tsawler/go-trainer/checkpoints"
	"github.com/tsawler/go-trainer/metrics"
	"github.com/tsawler/go-trainer/trainerr"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateFresh State = iota
	StateResuming
	StateRunning
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateResuming:
		return "resuming"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SessionConfig holds the values a Session needs besides its collaborators.
type SessionConfig struct {
	Epochs       int
	LearningRate float64
	Seed         int64
	ResumeFrom   string // Checkpoint to resume from ("" = fresh run)

	Scheduler  LRScheduler // nil keeps the learning rate constant
	Checkpoint CheckpointConfig

	ReportEvery int
	OnProgress  ProgressFunc

	ClassNames []string
	CurvesPath string           // "" disables curves.json
	Plots      *PlottingService // nil disables the end of run upload

	// Test is evaluated once after the last epoch when epochs evaluate on a
	// validation split (nil = skip).
	Test BatchSource
}

// Session runs epochs of train, eval, metrics append and checkpoint, in
// that order, until the target epoch count is reached.
type Session struct {
	config  SessionConfig
	learner Learner
	train   BatchSource
	eval    BatchSource
	log     metrics.Log
	logger  *log.Logger

	runner      *EpochRunner
	checkpoints *CheckpointManager
	scheduler   LRScheduler
	curves      *VisualizationCollector

	state   State
	epoch   int
	history []metrics.Row
}

// NewSession wires a session. The session does not own the metrics log;
// the caller closes it.
func NewSession(config SessionConfig, learner Learner, train, eval BatchSource, metricsLog metrics.Log, logger *log.Logger) *Session {
	scheduler := config.Scheduler
	if scheduler == nil {
		scheduler = &NoOpScheduler{}
	}

	s := &Session{
		config:  config,
		learner: learner,
		train:   train,
		eval:    eval,
		log:     metricsLog,
		logger:  logger,
		runner: &EpochRunner{
			ReportEvery: config.ReportEvery,
			OnProgress:  config.OnProgress,
			NumClasses:  len(config.ClassNames),
		},
		checkpoints: NewCheckpointManager(config.Checkpoint, logger),
		scheduler:   scheduler,
		state:       StateFresh,
	}
	if config.CurvesPath != "" || config.Plots != nil {
		s.curves = NewVisualizationCollector(fmt.Sprintf("%T", learner))
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Epoch returns the epoch being run, or the last one attempted.
func (s *Session) Epoch() int {
	return s.epoch
}

// History returns the rows appended to the metrics log by this session.
func (s *Session) History() []metrics.Row {
	return append([]metrics.Row(nil), s.history...)
}

// EpochSeed derives the random seed used for epoch from the run seed.
func EpochSeed(seed int64, epoch int) int64 {
	// splitmix64 finalizer
	z := uint64(seed) + uint64(epoch)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}

// Run executes the session. The context is checked between epochs and
// passed to the batch pipelines.
func (s *Session) Run(ctx context.Context) error {
	start, err := s.resume()
	if err != nil {
		return s.fail(trainerr.StageResume, 0, err)
	}

	if start > s.config.Epochs {
		s.logger.Printf("checkpoint already covers %d of %d epochs, nothing to do", start-1, s.config.Epochs)
	}

	for epoch := start; epoch <= s.config.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return s.fail(trainerr.StageTrain, epoch, err)
		}
		s.state = StateRunning
		s.epoch = epoch

		if err := s.runEpoch(ctx, epoch); err != nil {
			s.state = StateFailed
			return err
		}
	}

	if err := s.runTest(ctx); err != nil {
		return err
	}

	s.state = StateDone
	s.uploadPlots(ctx)
	return nil
}

// runTest scores the learner on the held-out test split. Nothing is written
// to the metrics log.
func (s *Session) runTest(ctx context.Context) error {
	if s.config.Test == nil {
		return nil
	}
	res, err := s.runner.Run(ctx, s.config.Test, s.learner, ModeEval, s.config.Epochs)
	if err != nil {
		return s.fail(trainerr.StageEval, s.config.Epochs, err)
	}
	s.logger.Printf("test: loss=%.4f acc=%.4f samples=%d", res.Loss, res.Accuracy, res.Samples)
	if res.Confusion != nil {
		s.logger.Printf("test %s", formatMacro(res.Confusion))
	}
	return nil
}

// resume returns the first epoch to run.
func (s *Session) resume() (int, error) {
	if s.config.ResumeFrom == "" {
		return 1, nil
	}

	s.state = StateResuming
	epoch, found, err := s.checkpoints.RestoreCheckpoint(s.learner, s.config.ResumeFrom)
	if err != nil {
		return 0, err
	}
	if !found {
		s.logger.Printf("resume file not found, starting fresh: %s", s.config.ResumeFrom)
		s.state = StateFresh
		return 1, nil
	}

	s.logger.Printf("resumed from epoch %d (%s)", epoch, s.config.ResumeFrom)
	return epoch + 1, nil
}

func (s *Session) runEpoch(ctx context.Context, epoch int) error {
	lr := s.scheduler.GetLR(epoch-1, s.config.LearningRate)
	if setter, ok := s.learner.(LearningRateSetter); ok {
		setter.SetLearningRate(lr)
	}

	seed := EpochSeed(s.config.Seed, epoch)
	if seeder, ok := s.train.(Seeder); ok {
		seeder.Reseed(seed)
	}
	if seeder, ok := s.learner.(Seeder); ok {
		seeder.Reseed(seed)
	}

	trainRes, err := s.runner.Run(ctx, s.train, s.learner, ModeTrain, epoch)
	if err != nil {
		return s.fail(trainerr.StageTrain, epoch, err)
	}

	evalRes, err := s.runner.Run(ctx, s.eval, s.learner, ModeEval, epoch)
	if err != nil {
		return s.fail(trainerr.StageEval, epoch, err)
	}

	row := metrics.Row{
		Epoch:         epoch,
		TrainLoss:     trainRes.Loss,
		TrainAccuracy: trainRes.Accuracy,
		ValLoss:       evalRes.Loss,
		ValAccuracy:   evalRes.Accuracy,
	}
	if err := s.log.Append(row); err != nil {
		return s.fail(trainerr.StageMetrics, epoch, err)
	}
	s.history = append(s.history, row)

	path, err := s.checkpoints.SaveCheckpoint(s.learner, epoch, checkpoints.Metadata{
		Description:  fmt.Sprintf("epoch %d of %d", epoch, s.config.Epochs),
		LearningRate: lr,
		Seed:         s.config.Seed,
	})
	if err != nil {
		return s.fail(trainerr.StageCheckpoint, epoch, err)
	}

	s.logger.Printf("epoch %d/%d: train_loss=%.4f train_acc=%.4f val_loss=%.4f val_acc=%.4f lr=%.6g checkpoint=%s",
		epoch, s.config.Epochs, row.TrainLoss, row.TrainAccuracy, row.ValLoss, row.ValAccuracy, lr, path)

	if evalRes.Confusion != nil {
		s.logger.Printf("epoch %d %s", epoch, formatMacro(evalRes.Confusion))
		s.logger.Printf("epoch %d per-class accuracy: %s", epoch, s.formatPerClass(evalRes.Confusion))
	}
	s.recordCurves(row, lr, evalRes.Confusion)
	return nil
}

func formatMacro(cm *ConfusionMatrix) string {
	parts := make([]string, 0, len(MacroMetrics))
	for _, m := range MacroMetrics {
		parts = append(parts, fmt.Sprintf("%s=%.3f", m, cm.GetMetric(m)))
	}
	return strings.Join(parts, " ")
}

func (s *Session) formatPerClass(cm *ConfusionMatrix) string {
	parts := make([]string, 0, cm.NumClasses)
	for class, acc := range cm.PerClassAccuracy() {
		name := fmt.Sprintf("%d", class)
		if class < len(s.config.ClassNames) {
			name = s.config.ClassNames[class]
		}
		parts = append(parts, fmt.Sprintf("%s=%.3f", name, acc))
	}
	return strings.Join(parts, " ")
}

// recordCurves updates curves.json. Plot output is advisory and never fails
// the epoch.
func (s *Session) recordCurves(row metrics.Row, lr float64, cm *ConfusionMatrix) {
	if s.curves == nil {
		return
	}
	s.curves.RecordEpoch(row.Epoch, row.TrainLoss, row.TrainAccuracy, row.ValLoss, row.ValAccuracy, lr)
	if cm != nil {
		s.curves.RecordConfusionMatrix(cm.Matrix, s.config.ClassNames)
	}
	if s.config.CurvesPath == "" {
		return
	}
	if err := s.curves.WriteJSON(s.config.CurvesPath); err != nil {
		s.logger.Printf("warning: %v", err)
	}
}

// uploadPlots sends the collected plots to the plotting sidecar. Like
// curves.json it is advisory.
func (s *Session) uploadPlots(ctx context.Context) {
	if s.config.Plots == nil || s.curves == nil || len(s.history) == 0 {
		return
	}
	if err := s.config.Plots.CheckHealth(ctx); err != nil {
		s.logger.Printf("warning: plotting service unavailable, skipping upload: %v", err)
		return
	}
	resp, err := s.config.Plots.SendCollector(ctx, s.curves)
	if err != nil {
		s.logger.Printf("warning: plot upload: %v", err)
		return
	}
	s.logger.Printf("sent %d plots to %s%s", resp.Summary.Successful, s.config.Plots.BaseURL(), resp.DashboardURL)
}

func (s *Session) fail(stage trainerr.Stage, epoch int, err error) error {
	s.state = StateFailed
	return &trainerr.StageError{Stage: stage, Epoch: epoch, Err: err}
}
