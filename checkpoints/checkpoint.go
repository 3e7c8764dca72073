package checkpoints

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tsawler/go-trainer/trainerr"
)

// Format defines the serialization format
type Format int

const (
	FormatBinary Format = iota
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Extension returns the file extension used for checkpoints in this format.
func (f Format) Extension() string {
	if f == FormatJSON {
		return "json"
	}
	return "ckpt"
}

// ParseFormat maps a configuration value to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "binary", "ckpt":
		return FormatBinary, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("unsupported checkpoint format: %q", s)
	}
}

// Checkpoint is everything needed to resume a run: the learner's opaque
// state and the last epoch that fully completed before it was written.
type Checkpoint struct {
	Epoch        int      `json:"epoch"`
	LearnerState []byte   `json:"learner_state"`
	Metadata     Metadata `json:"metadata"`
}

// Metadata contains checkpoint metadata
type Metadata struct {
	Version      string    `json:"version"`
	Framework    string    `json:"framework"`
	CreatedAt    time.Time `json:"created_at"`
	Description  string    `json:"description,omitempty"`
	LearningRate float64   `json:"learning_rate,omitempty"`
	Seed         int64     `json:"seed,omitempty"`
}

const (
	framework     = "go-trainer"
	formatVersion = "1.0.0"
)

// Store reads and writes single-file checkpoints. Save always writes the
// configured format; Load accepts either format.
type Store struct {
	format Format
	now    func() time.Time
}

// NewStore creates a checkpoint store that saves in the given format.
func NewStore(format Format) *Store {
	return &Store{
		format: format,
		now:    time.Now,
	}
}

// Format returns the format used by Save.
func (s *Store) Format() Format {
	return s.format
}

// Save writes ckpt to path atomically: readers see either the previous file
// or the complete new one.
func (s *Store) Save(path string, ckpt *Checkpoint) error {
	if ckpt == nil {
		return fmt.Errorf("nil checkpoint")
	}
	if ckpt.Epoch < 1 {
		return fmt.Errorf("checkpoint epoch must be at least 1, got %d", ckpt.Epoch)
	}

	// Ensure metadata is set
	if ckpt.Metadata.Framework == "" {
		ckpt.Metadata.Framework = framework
		ckpt.Metadata.Version = formatVersion
	}
	if ckpt.Metadata.CreatedAt.IsZero() {
		ckpt.Metadata.CreatedAt = s.now().UTC()
	}

	var data []byte
	var err error
	switch s.format {
	case FormatBinary:
		data, err = encodeBinary(ckpt)
	case FormatJSON:
		data, err = encodeJSON(ckpt)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", s.format)
	}
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return &trainerr.FileAccessError{Path: path, Op: "write", Err: err}
	}
	return nil
}

// Load reads the checkpoint at path. A missing file is reported with
// found == false and a nil error so callers can fall back to a fresh run.
// An existing file that cannot be parsed yields a CorruptCheckpointError.
func (s *Store) Load(path string) (ckpt *Checkpoint, found bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &trainerr.FileAccessError{Path: path, Op: "read", Err: err}
	}

	if bytes.HasPrefix(data, binaryMagic) {
		ckpt, err = decodeBinary(data)
	} else {
		ckpt, err = decodeJSON(data)
	}
	if err != nil {
		return nil, false, &trainerr.CorruptCheckpointError{Path: path, Err: err}
	}
	if ckpt.Epoch < 1 {
		return nil, false, &trainerr.CorruptCheckpointError{
			Path: path,
			Err:  fmt.Errorf("invalid epoch %d", ckpt.Epoch),
		}
	}

	return ckpt, true, nil
}

// encodeJSON encodes the checkpoint as pretty-printed JSON
func encodeJSON(ckpt *Checkpoint) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(ckpt); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeJSON decodes a JSON checkpoint, rejecting unknown fields and
// trailing data
func decodeJSON(data []byte) (*Checkpoint, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	var ckpt Checkpoint
	if err := decoder.Decode(&ckpt); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("unexpected data after checkpoint")
	}
	if ckpt.Metadata.Framework == "" {
		return nil, fmt.Errorf("missing checkpoint metadata")
	}
	return &ckpt, nil
}
