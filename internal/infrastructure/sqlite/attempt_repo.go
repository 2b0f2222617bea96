package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/skylift/skylift-server/internal/domain"
)

// AttemptRepo implements [domain.AttemptRepository] backed by SQLite.
// Phase mutations are compare-and-swap on the expected current phase.
type AttemptRepo struct {
	DB *sql.DB
}

func (r *AttemptRepo) Create(ctx context.Context, a domain.DeploymentAttempt) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO attempts (run_id, repository, environment, version, artifact_ref,
		                       target_env, target_label, phase, outcome, reason, detail,
		                       started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.Build.Repository, a.Build.Environment, a.Build.Version, a.ArtifactRef,
		a.Target.Environment, a.Target.Label, string(a.Phase), string(a.Outcome),
		string(a.Reason), a.Detail, toNanos(a.StartedAt), toNanos(a.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("attempt %q: %w", a.RunID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (r *AttemptRepo) Get(ctx context.Context, runID string) (domain.DeploymentAttempt, error) {
	row := r.DB.QueryRowContext(ctx, selectAttempt+` WHERE run_id = ?`, runID)
	return scanAttempt(row)
}

func (r *AttemptRepo) AdvancePhase(ctx context.Context, runID string, from, to domain.Phase) error {
	if !from.CanAdvance(to) {
		return fmt.Errorf("%w: phase %s cannot advance to %s", domain.ErrInvalidArgument, from, to)
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE attempts SET phase = ? WHERE run_id = ? AND phase = ?`,
		string(to), runID, string(from),
	)
	if err != nil {
		return fmt.Errorf("advance phase: %w", err)
	}
	return r.casOutcome(ctx, res, runID)
}

func (r *AttemptRepo) Finalize(ctx context.Context, runID string, from domain.Phase, outcome domain.Outcome, reason domain.FailureReason, detail string, completedAt time.Time) error {
	to := domain.PhaseCompleted
	if outcome != domain.OutcomeSucceeded {
		to = domain.PhaseFailed
	}
	if !from.CanAdvance(to) {
		return fmt.Errorf("%w: phase %s cannot finalize to %s", domain.ErrInvalidArgument, from, to)
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE attempts SET phase = ?, outcome = ?, reason = ?, detail = ?, completed_at = ?
		 WHERE run_id = ? AND phase = ?`,
		string(to), string(outcome), string(reason), detail, toNanos(completedAt),
		runID, string(from),
	)
	if err != nil {
		return fmt.Errorf("finalize attempt: %w", err)
	}
	return r.casOutcome(ctx, res, runID)
}

// casOutcome maps a zero-row conditional update to ErrConflict when the
// row exists in another phase, or ErrNotFound when it does not exist.
func (r *AttemptRepo) casOutcome(ctx context.Context, res sql.Result, runID string) error {
	n, _ := res.RowsAffected()
	if n > 0 {
		return nil
	}
	var exists int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM attempts WHERE run_id = ?`, runID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("attempt %q: %w", runID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check attempt: %w", err)
	}
	return fmt.Errorf("attempt %q: %w", runID, domain.ErrConflict)
}

func (r *AttemptRepo) OldestActive(ctx context.Context, key domain.TargetKey) (domain.DeploymentAttempt, error) {
	row := r.DB.QueryRowContext(ctx,
		selectAttempt+` WHERE target_env = ? AND target_label = ? AND phase NOT IN (?, ?)
		 ORDER BY started_at, run_id LIMIT 1`,
		key.Environment, key.Label, string(domain.PhaseCompleted), string(domain.PhaseFailed),
	)
	return scanAttempt(row)
}

func (r *AttemptRepo) PutOperation(ctx context.Context, op domain.StackSetOperation) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO stackset_operations (run_id, account, region, handle, status, error_detail, last_polled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, account, region) DO UPDATE SET
		     handle = excluded.handle,
		     status = excluded.status,
		     error_detail = excluded.error_detail,
		     last_polled_at = excluded.last_polled_at`,
		op.RunID, op.Account, op.Region, op.Handle, string(op.Status), op.ErrorDetail,
		toNanos(op.LastPolledAt),
	)
	if err != nil {
		return fmt.Errorf("put operation: %w", err)
	}
	return nil
}

func (r *AttemptRepo) ListOperations(ctx context.Context, runID string) ([]domain.StackSetOperation, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT run_id, account, region, handle, status, error_detail, last_polled_at
		 FROM stackset_operations WHERE run_id = ? ORDER BY account, region`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []domain.StackSetOperation
	for rows.Next() {
		var op domain.StackSetOperation
		var status string
		var lastPolled int64
		if err := rows.Scan(&op.RunID, &op.Account, &op.Region, &op.Handle, &status, &op.ErrorDetail, &lastPolled); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op.Status = domain.OperationStatus(status)
		op.LastPolledAt = fromNanos(lastPolled)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

const selectAttempt = `SELECT run_id, repository, environment, version, artifact_ref,
       target_env, target_label, phase, outcome, reason, detail, started_at, completed_at
  FROM attempts`

func scanAttempt(s scanner) (domain.DeploymentAttempt, error) {
	var a domain.DeploymentAttempt
	var phase, outcome, reason string
	var startedAt, completedAt int64
	err := s.Scan(&a.RunID, &a.Build.Repository, &a.Build.Environment, &a.Build.Version,
		&a.ArtifactRef, &a.Target.Environment, &a.Target.Label, &phase, &outcome,
		&reason, &a.Detail, &startedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return a, fmt.Errorf("scan attempt: %w", err)
	}
	a.Phase = domain.Phase(phase)
	a.Outcome = domain.Outcome(outcome)
	a.Reason = domain.FailureReason(reason)
	a.StartedAt = fromNanos(startedAt)
	a.CompletedAt = fromNanos(completedAt)
	return a, nil
}
