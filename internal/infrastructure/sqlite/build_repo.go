package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/skylift/skylift-server/internal/domain"
)

// BuildRepo implements [domain.BuildRepository] backed by SQLite.
type BuildRepo struct {
	DB *sql.DB
}

func (r *BuildRepo) Create(ctx context.Context, b domain.Build) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO builds (repository, environment, version, artifact_ref, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		b.Repository, b.Environment, b.Version, b.ArtifactRef, toNanos(b.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("build %s: %w", b.Key(), domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert build: %w", err)
	}
	return nil
}

func (r *BuildRepo) Get(ctx context.Context, key domain.BuildKey) (domain.Build, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT repository, environment, version, artifact_ref, created_at
		 FROM builds WHERE repository = ? AND environment = ? AND version = ?`,
		key.Repository, key.Environment, key.Version,
	)
	return scanBuild(row)
}

func (r *BuildRepo) ListByEnvironment(ctx context.Context, environment string) ([]domain.Build, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT repository, environment, version, artifact_ref, created_at
		 FROM builds WHERE environment = ? ORDER BY created_at`,
		environment,
	)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()

	var builds []domain.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(s scanner) (domain.Build, error) {
	var b domain.Build
	var createdAt int64
	if err := s.Scan(&b.Repository, &b.Environment, &b.Version, &b.ArtifactRef, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return b, fmt.Errorf("scan build: %w", err)
	}
	b.CreatedAt = fromNanos(createdAt)
	return b, nil
}
