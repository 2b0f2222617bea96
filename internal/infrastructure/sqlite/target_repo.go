package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/skylift/skylift-server/internal/domain"
)

// TargetRepo implements [domain.TargetRepository] backed by SQLite.
type TargetRepo struct {
	DB *sql.DB
}

func (r *TargetRepo) Put(ctx context.Context, t domain.Target) error {
	accounts, err := json.Marshal(t.Accounts)
	if err != nil {
		return fmt.Errorf("marshal accounts: %w", err)
	}
	regions, err := json.Marshal(t.Regions)
	if err != nil {
		return fmt.Errorf("marshal regions: %w", err)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put target: %w", err)
	}
	defer tx.Rollback()

	if t.Default {
		// Exactly one default per environment: demote any other profile
		// in the same write.
		if _, err := tx.ExecContext(ctx,
			`UPDATE targets SET is_default = 0 WHERE environment = ? AND label != ?`,
			t.Environment, t.Label,
		); err != nil {
			return fmt.Errorf("clear previous default: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO targets (environment, label, accounts, regions, downstream, is_default)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(environment, label) DO UPDATE SET
		     accounts = excluded.accounts,
		     regions = excluded.regions,
		     downstream = excluded.downstream,
		     is_default = excluded.is_default`,
		t.Environment, t.Label, string(accounts), string(regions), t.Downstream, boolToInt(t.Default),
	); err != nil {
		return fmt.Errorf("upsert target: %w", err)
	}

	return tx.Commit()
}

func (r *TargetRepo) Get(ctx context.Context, key domain.TargetKey) (domain.Target, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT environment, label, accounts, regions, downstream, is_default
		 FROM targets WHERE environment = ? AND label = ?`,
		key.Environment, key.Label,
	)
	return scanTarget(row)
}

func (r *TargetRepo) GetDefault(ctx context.Context, environment string) (domain.Target, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT environment, label, accounts, regions, downstream, is_default
		 FROM targets WHERE environment = ? AND is_default = 1`,
		environment,
	)
	t, err := scanTarget(row)
	if errors.Is(err, domain.ErrNotFound) {
		return t, fmt.Errorf("environment %q: %w", environment, domain.ErrNotConfigured)
	}
	return t, err
}

func (r *TargetRepo) List(ctx context.Context, environment string) ([]domain.Target, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT environment, label, accounts, regions, downstream, is_default
		 FROM targets WHERE environment = ? ORDER BY label`,
		environment,
	)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var targets []domain.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (r *TargetRepo) Delete(ctx context.Context, key domain.TargetKey) error {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM targets WHERE environment = ? AND label = ?`,
		key.Environment, key.Label,
	)
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("target %s/%s: %w", key.Environment, key.Label, domain.ErrNotFound)
	}
	return nil
}

func scanTarget(s scanner) (domain.Target, error) {
	var t domain.Target
	var accountsJSON, regionsJSON string
	var isDefault int
	if err := s.Scan(&t.Environment, &t.Label, &accountsJSON, &regionsJSON, &t.Downstream, &isDefault); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return t, fmt.Errorf("scan target: %w", err)
	}
	if err := json.Unmarshal([]byte(accountsJSON), &t.Accounts); err != nil {
		return t, fmt.Errorf("unmarshal accounts: %w", err)
	}
	if err := json.Unmarshal([]byte(regionsJSON), &t.Regions); err != nil {
		return t, fmt.Errorf("unmarshal regions: %w", err)
	}
	t.Default = isDefault != 0
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
