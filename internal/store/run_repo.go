package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/classletter/newsletter-engine/internal/domain"
)

// RunRepo handles persistence for WorkflowRun rows. Artifacts, events and
// reports live in their own tables and are not loaded here.
type RunRepo struct{}

const runColumns = `run_id, phase, state_version, degraded, transcript, config_json, user_id, session_id, last_error, last_event_seq, created_at_unix, updated_at_unix`

// CreateTx inserts a new run within an existing transaction.
func (r *RunRepo) CreateTx(ctx context.Context, tx *sql.Tx, run domain.WorkflowRun) error {
	const q = `INSERT INTO runs (` + runColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		run.ID,
		string(run.Phase),
		run.StateVersion,
		run.Degraded,
		run.Transcript,
		configJSON(run),
		run.UserID,
		run.SessionID,
		run.LastError,
		run.LastEventSeq,
		run.CreatedAtUnix,
		run.UpdatedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateStateTx updates a run within a transaction using optimistic locking.
// The update only succeeds if the current state_version matches the expected version.
func (r *RunRepo) UpdateStateTx(ctx context.Context, tx *sql.Tx, run domain.WorkflowRun) error {
	const q = `UPDATE runs SET
		phase = ?,
		state_version = state_version + 1,
		degraded = ?,
		last_error = ?,
		last_event_seq = ?,
		updated_at_unix = ?
	WHERE run_id = ? AND state_version = ?`

	res, err := tx.ExecContext(ctx, q,
		string(run.Phase),
		run.Degraded,
		run.LastError,
		run.LastEventSeq,
		run.UpdatedAtUnix,
		run.ID,
		run.StateVersion,
	)
	if err != nil {
		return fmt.Errorf("update run state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrOptimisticLock
	}
	return nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepo) GetByID(ctx context.Context, db *sql.DB, runID string) (*domain.WorkflowRun, error) {
	const q = `SELECT ` + runColumns + ` FROM runs WHERE run_id = ?`

	run, err := scanRun(db.QueryRowContext(ctx, q, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRecent returns up to limit runs, most recently updated first.
func (r *RunRepo) ListRecent(ctx context.Context, db *sql.DB, limit int) ([]domain.WorkflowRun, error) {
	const q = `SELECT ` + runColumns + ` FROM runs ORDER BY updated_at_unix DESC, run_id ASC LIMIT ?`

	rows, err := db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.WorkflowRun, error) {
	var run domain.WorkflowRun
	var phase, cfg string
	err := row.Scan(&run.ID, &phase, &run.StateVersion, &run.Degraded, &run.Transcript, &cfg,
		&run.UserID, &run.SessionID, &run.LastError, &run.LastEventSeq, &run.CreatedAtUnix, &run.UpdatedAtUnix)
	if err != nil {
		return nil, err
	}
	run.Phase = domain.Phase(phase)
	if cfg != "" && cfg != "{}" {
		run.Config = []byte(cfg)
	}
	return &run, nil
}

func configJSON(run domain.WorkflowRun) string {
	if len(run.Config) == 0 {
		return "{}"
	}
	return string(run.Config)
}
