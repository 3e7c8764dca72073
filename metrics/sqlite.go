package metrics

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tsawler/go-trainer/trainerr"
)

// SQLiteLog mirrors the metrics table into a SQLite database so runs can be
// queried with SQL.
type SQLiteLog struct {
	path string
	db   *sql.DB
	now  func() time.Time
}

// OpenSQLite opens the database at path and recreates the metrics table.
func OpenSQLite(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &trainerr.MetricsWriteError{Path: path, Err: err}
	}

	for _, stmt := range []string{
		`DROP TABLE IF EXISTS epochs`,
		`CREATE TABLE epochs(
			epoch INTEGER PRIMARY KEY,
			ts REAL NOT NULL,
			train_loss REAL NOT NULL,
			train_accuracy REAL NOT NULL,
			val_loss REAL NOT NULL,
			val_accuracy REAL NOT NULL
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, &trainerr.MetricsWriteError{Path: path, Err: err}
		}
	}

	return &SQLiteLog{path: path, db: db, now: time.Now}, nil
}

// Append inserts one row. SQLite commits the implicit transaction before
// Exec returns.
func (l *SQLiteLog) Append(row Row) error {
	ts := float64(l.now().UnixNano()) / 1e9
	_, err := l.db.Exec(
		`INSERT INTO epochs(epoch, ts, train_loss, train_accuracy, val_loss, val_accuracy) VALUES(?, ?, ?, ?, ?, ?)`,
		row.Epoch, ts, row.TrainLoss, row.TrainAccuracy, row.ValLoss, row.ValAccuracy,
	)
	if err != nil {
		return &trainerr.MetricsWriteError{Path: l.path, Err: err}
	}
	return nil
}

// Rows returns every stored row ordered by epoch.
func (l *SQLiteLog) Rows() ([]Row, error) {
	rows, err := l.db.Query(`SELECT epoch, train_loss, train_accuracy, val_loss, val_accuracy FROM epochs ORDER BY epoch`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Epoch, &r.TrainLoss, &r.TrainAccuracy, &r.ValLoss, &r.ValAccuracy); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (l *SQLiteLog) Close() error {
	if err := l.db.Close(); err != nil {
		return &trainerr.MetricsWriteError{Path: l.path, Err: err}
	}
	return nil
}
