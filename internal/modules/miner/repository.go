// Package miner orchestrates batch miner runs and keeps their audit trail.
package miner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/lessons/internal/domain"
	"github.com/rs/zerolog"
)

// RunRepository handles miner run audit records
// Database: learning.db (miner_runs table)
type RunRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRunRepository creates a new miner run repository
func NewRunRepository(db *sql.DB, log zerolog.Logger) *RunRepository {
	return &RunRepository{
		db:  db,
		log: log.With().Str("repo", "miner_runs").Logger(),
	}
}

const runColumns = `run_id, book, started_at, completed_at, status,
	n_events_scanned, n_subsets_evaluated, n_stats_retained, n_overrides_created,
	snapshot_version, error`

// Start records a run in the running state
func (r *RunRepository) Start(ctx context.Context, run *domain.MinerRun) error {
	var book sql.NullString
	if run.Book != nil {
		book = sql.NullString{String: *run.Book, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO miner_runs (run_id, book, started_at, status) VALUES (?, ?, ?, ?)`,
		run.RunID, book, run.StartedAt.UnixMilli(), string(domain.MinerRunRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to insert miner run: %w", err)
	}
	return nil
}

// CompleteTx marks a run completed inside the publishing transaction
func (r *RunRepository) CompleteTx(ctx context.Context, tx *sql.Tx, run *domain.MinerRun) error {
	if run.CompletedAt == nil || run.SnapshotVersion == nil {
		return fmt.Errorf("completed run %s needs completion time and snapshot version", run.RunID)
	}

	res, err := tx.ExecContext(ctx, `UPDATE miner_runs SET
		status = ?, completed_at = ?,
		n_events_scanned = ?, n_subsets_evaluated = ?, n_stats_retained = ?, n_overrides_created = ?,
		snapshot_version = ?
		WHERE run_id = ? AND status = ?`,
		string(domain.MinerRunCompleted), run.CompletedAt.UnixMilli(),
		run.EventsScanned, run.SubsetsEvaluated, run.StatsRetained, run.OverridesCreated,
		*run.SnapshotVersion,
		run.RunID, string(domain.MinerRunRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to complete miner run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", run.RunID, domain.ErrMinerRunNotFound)
	}
	return nil
}

// MarkFailed records the failure of a running run
func (r *RunRepository) MarkFailed(ctx context.Context, run *domain.MinerRun) error {
	var msg sql.NullString
	if run.Error != nil {
		msg = sql.NullString{String: *run.Error, Valid: true}
	}
	var completedAt sql.NullInt64
	if run.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: run.CompletedAt.UnixMilli(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `UPDATE miner_runs SET
		status = ?, completed_at = ?, n_events_scanned = ?, n_subsets_evaluated = ?, error = ?
		WHERE run_id = ? AND status = ?`,
		string(domain.MinerRunFailed), completedAt, run.EventsScanned, run.SubsetsEvaluated, msg,
		run.RunID, string(domain.MinerRunRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to mark miner run failed: %w", err)
	}
	return nil
}

// FailStale marks runs left in the running state by a previous process as failed.
// It returns the number of runs updated.
func (r *RunRepository) FailStale(ctx context.Context, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE miner_runs SET status = ?, completed_at = ?, error = ? WHERE status = ?`,
		string(domain.MinerRunFailed), at.UnixMilli(), "interrupted by restart", string(domain.MinerRunRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale miner runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

// Get returns one run
func (r *RunRepository) Get(ctx context.Context, runID string) (*domain.MinerRun, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM miner_runs WHERE run_id = ?", runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrMinerRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns the most recent runs, newest first
func (r *RunRepository) List(ctx context.Context, limit int) ([]domain.MinerRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM miner_runs ORDER BY started_at DESC, run_id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query miner runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.MinerRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating miner runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*domain.MinerRun, error) {
	var (
		run         domain.MinerRun
		book, msg   sql.NullString
		status      string
		startedAt   int64
		completedAt sql.NullInt64
		version     sql.NullInt64
	)
	err := row.Scan(&run.RunID, &book, &startedAt, &completedAt, &status,
		&run.EventsScanned, &run.SubsetsEvaluated, &run.StatsRetained, &run.OverridesCreated,
		&version, &msg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan miner run: %w", err)
	}

	run.Status = domain.MinerRunStatus(status)
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	if book.Valid {
		run.Book = &book.String
	}
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64).UTC()
		run.CompletedAt = &t
	}
	if version.Valid {
		run.SnapshotVersion = &version.Int64
	}
	if msg.Valid {
		run.Error = &msg.String
	}
	return &run, nil
}
