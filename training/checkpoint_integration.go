package training

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/tsawler/go-trainer/checkpoints"
	"github.com/tsawler/go-trainer/trainerr"
)

// CheckpointConfig configures checkpoint saving behavior
type CheckpointConfig struct {
	SaveDirectory   string             // Directory to save checkpoints
	MaxCheckpoints  int                // Maximum number of checkpoints to keep (0 = unlimited)
	Format          checkpoints.Format // Binary or JSON
	FilenamePattern string             // Pattern for checkpoint filenames, takes the epoch
}

// DefaultCheckpointConfig returns a sensible default configuration
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		SaveDirectory:   "./checkpoints",
		Format:          checkpoints.FormatBinary,
		FilenamePattern: "checkpoint_epoch_%d",
	}
}

// CheckpointManager names, writes and prunes per-epoch checkpoints
type CheckpointManager struct {
	config     CheckpointConfig
	store      *checkpoints.Store
	logger     *log.Logger
	savedFiles []string // Track saved checkpoint files for cleanup
}

// NewCheckpointManager creates a new checkpoint manager
func NewCheckpointManager(config CheckpointConfig, logger *log.Logger) *CheckpointManager {
	return &CheckpointManager{
		config: config,
		store:  checkpoints.NewStore(config.Format),
		logger: logger,
	}
}

// Path returns the checkpoint file for epoch.
func (cm *CheckpointManager) Path(epoch int) string {
	pattern := cm.config.FilenamePattern
	if pattern == "" {
		pattern = "checkpoint_epoch_%d"
	}
	filename := fmt.Sprintf(pattern, epoch) + "." + cm.config.Format.Extension()
	return filepath.Join(cm.config.SaveDirectory, filename)
}

// SaveCheckpoint exports the learner's state and writes it tagged with
// epoch. It returns the path written.
func (cm *CheckpointManager) SaveCheckpoint(learner Learner, epoch int, meta checkpoints.Metadata) (string, error) {
	state, err := learner.ExportState()
	if err != nil {
		return "", fmt.Errorf("failed to export learner state: %w", err)
	}

	if err := os.MkdirAll(cm.config.SaveDirectory, 0o755); err != nil {
		return "", fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	path := cm.Path(epoch)
	ckpt := &checkpoints.Checkpoint{
		Epoch:        epoch,
		LearnerState: state,
		Metadata:     meta,
	}
	if err := cm.store.Save(path, ckpt); err != nil {
		return "", err
	}

	cm.savedFiles = append(cm.savedFiles, path)

	// A failed cleanup never fails the save
	if err := cm.cleanupOldCheckpoints(); err != nil {
		cm.logger.Printf("warning: failed to clean up old checkpoints: %v", err)
	}
	return path, nil
}

// RestoreCheckpoint loads path into learner. It returns the stored epoch and
// found == false when the file does not exist.
func (cm *CheckpointManager) RestoreCheckpoint(learner Learner, path string) (epoch int, found bool, err error) {
	ckpt, found, err := cm.store.Load(path)
	if err != nil || !found {
		return 0, found, err
	}
	if err := learner.ImportState(ckpt.LearnerState); err != nil {
		return 0, true, &trainerr.CorruptCheckpointError{Path: path, Err: fmt.Errorf("restore learner state: %w", err)}
	}
	return ckpt.Epoch, true, nil
}

func (cm *CheckpointManager) cleanupOldCheckpoints() error {
	if cm.config.MaxCheckpoints <= 0 || len(cm.savedFiles) <= cm.config.MaxCheckpoints {
		return nil
	}

	toRemove := len(cm.savedFiles) - cm.config.MaxCheckpoints
	for i := 0; i < toRemove; i++ {
		if err := os.Remove(cm.savedFiles[i]); err != nil && !os.IsNotExist(err) {
			cm.savedFiles = cm.savedFiles[i:]
			return fmt.Errorf("failed to remove old checkpoint %s: %w", cm.savedFiles[0], err)
		}
	}
	cm.savedFiles = cm.savedFiles[toRemove:]
	return nil
}
