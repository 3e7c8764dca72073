// Package metrics records one row of results per completed epoch.
package metrics

import (
	"errors"
	"strconv"
)

// Header names the tracked fields in column order.
var Header = []string{"epoch", "train_loss", "train_accuracy", "val_loss", "val_accuracy"}

// Row holds the results of one completed epoch.
type Row struct {
	Epoch         int
	TrainLoss     float64
	TrainAccuracy float64
	ValLoss       float64
	ValAccuracy   float64
}

// Record formats the row in Header order.
func (r Row) Record() []string {
	return []string{
		strconv.Itoa(r.Epoch),
		formatFloat(r.TrainLoss),
		formatFloat(r.TrainAccuracy),
		formatFloat(r.ValLoss),
		formatFloat(r.ValAccuracy),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// Log is an append-only per-epoch record store. Append returns only after
// the row is durable.
type Log interface {
	Append(row Row) error
	Close() error
}

// MultiLog appends every row to each of its logs in order.
type MultiLog []Log

// Multi combines logs into one.
func Multi(logs ...Log) MultiLog {
	return MultiLog(logs)
}

// Append stops at the first failing log.
func (m MultiLog) Append(row Row) error {
	for _, l := range m {
		if err := l.Append(row); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every log and returns the joined errors.
func (m MultiLog) Close() error {
	var errs []error
	for _, l := range m {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
