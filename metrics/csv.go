package metrics

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/tsawler/go-trainer/trainerr"
)

// CSVLog writes rows to a comma-separated file with a fixed header.
type CSVLog struct {
	path string
	file *os.File
	w    *csv.Writer
}

// OpenCSV creates or truncates path and writes the header.
func OpenCSV(path string) (*CSVLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, &trainerr.MetricsWriteError{Path: path, Err: err}
	}

	l := &CSVLog{path: path, file: f, w: csv.NewWriter(f)}
	if err := l.write(Header); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// Path returns the file being written.
func (l *CSVLog) Path() string {
	return l.path
}

// Append writes one row and syncs the file.
func (l *CSVLog) Append(row Row) error {
	return l.write(row.Record())
}

func (l *CSVLog) write(record []string) error {
	if l.file == nil {
		return &trainerr.MetricsWriteError{Path: l.path, Err: os.ErrClosed}
	}
	if err := l.w.Write(record); err != nil {
		return &trainerr.MetricsWriteError{Path: l.path, Err: err}
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return &trainerr.MetricsWriteError{Path: l.path, Err: err}
	}
	if err := l.file.Sync(); err != nil {
		return &trainerr.MetricsWriteError{Path: l.path, Err: fmt.Errorf("sync: %w", err)}
	}
	return nil
}

// Close closes the file. Further appends fail.
func (l *CSVLog) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return &trainerr.MetricsWriteError{Path: l.path, Err: err}
	}
	return nil
}
