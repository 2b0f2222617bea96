package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/skylift/skylift-server/internal/domain"
)

// PromotionRepo implements [domain.PromotionRepository] backed by SQLite.
// The primary key on source_run_id is what makes promotion at-most-once:
// the second insert for the same run collides and reports ErrAlreadyExists.
type PromotionRepo struct {
	DB *sql.DB
}

func (r *PromotionRepo) Create(ctx context.Context, sourceRunID, environment string, createdAt time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO promotions (source_run_id, environment, created_at) VALUES (?, ?, ?)`,
		sourceRunID, environment, toNanos(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("promotion for run %q: %w", sourceRunID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert promotion: %w", err)
	}
	return nil
}
