package bench

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const createRuns = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	workers INTEGER NOT NULL,
	started_at TIMESTAMP NOT NULL,
	elapsed_ns INTEGER NOT NULL,
	panicked INTEGER NOT NULL DEFAULT 0
);`

const createCaseResults = `
CREATE TABLE IF NOT EXISTS case_results (
	run_id TEXT NOT NULL REFERENCES runs(id),
	name TEXT NOT NULL,
	frames INTEGER NOT NULL,
	points INTEGER NOT NULL,
	elapsed_ns INTEGER NOT NULL,
	frames_per_sec REAL NOT NULL,
	mean_frame_ns INTEGER NOT NULL,
	max_frame_ns INTEGER NOT NULL,
	PRIMARY KEY (run_id, name)
);`

// RunRecord is a stored run summary.
type RunRecord struct {
	ID        string        `db:"id"`
	Workers   int           `db:"workers"`
	StartedAt time.Time     `db:"started_at"`
	Elapsed   time.Duration `db:"elapsed_ns"`
	Panicked  int64         `db:"panicked"`
	Frames    int           `db:"frames"`
}

// Store keeps benchmark history in SQLite.
type Store struct {
	logger *slog.Logger
	db     *sqlx.DB
}

// OpenStore opens or creates the history database at path.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite3", fmt.Sprintf("%s?cache=shared&mode=rwc&_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Store{db: db, logger: logger}

	ctx := context.Background()
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, createRuns); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, createCaseResults)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cannot create history tables: %w", err)
	}

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save records a report and its case results.
func (s *Store) Save(ctx context.Context, report Report) error {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO runs (id, workers, started_at, elapsed_ns, panicked) VALUES ($1, $2, $3, $4, $5)`,
			report.RunID, report.Workers, report.StartedAt.UTC(), int64(report.Elapsed), report.Panicked)
		if err != nil {
			return err
		}

		for _, c := range report.Cases {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO case_results (run_id, name, frames, points, elapsed_ns, frames_per_sec, mean_frame_ns, max_frame_ns)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				report.RunID, c.Name, c.Frames, c.Points, int64(c.Elapsed), c.FramesPerSec, int64(c.MeanFrame), int64(c.MaxFrame))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("run saved", slog.String("run_id", report.RunID))
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	var records []RunRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT r.id, r.workers, r.started_at, r.elapsed_ns, r.panicked, COALESCE(SUM(c.frames), 0) AS frames
		FROM runs r LEFT JOIN case_results c ON c.run_id = r.id
		GROUP BY r.id
		ORDER BY r.id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Cases returns the stored case results for a run.
func (s *Store) Cases(ctx context.Context, runID string) ([]CaseResult, error) {
	var results []CaseResult
	err := s.db.SelectContext(ctx, &results, `
		SELECT name, frames, points, elapsed_ns, frames_per_sec, mean_frame_ns, max_frame_ns
		FROM case_results WHERE run_id = $1 ORDER BY name`, runID)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) inTx(ctx context.Context, cb func(*sqlx.Tx) error) (err error) {
	tx, beginErr := s.db.BeginTxx(ctx, nil)
	if beginErr != nil {
		return fmt.Errorf("cannot start tx: %w", beginErr)
	}

	defer func() {
		if rec := recover(); rec != nil {
			_ = tx.Rollback()
			panic(rec)
		}
	}()

	if err = cb(tx); err != nil {
		return rollback(tx, err)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("cannot commit tx: %w", commitErr)
	}

	return nil
}

func rollback(tx *sqlx.Tx, err error) error {
	if rollbackErr := tx.Rollback(); rollbackErr != nil {
		return fmt.Errorf("cannot roll back tx after error (tx error: %v), original error: %w", rollbackErr, err)
	}
	return err
}
