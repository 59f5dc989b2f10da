package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pesio-ai/be-pr-approvals/internal/database"
	"github.com/pesio-ai/be-pr-approvals/internal/errors"
)

// BranchRepository persists branch records.
type BranchRepository struct {
	db *database.DB
}

// NewBranchRepository creates a new BranchRepository.
func NewBranchRepository(db *database.DB) *BranchRepository {
	return &BranchRepository{db: db}
}

// Upsert inserts or updates a branch.
func (r *BranchRepository) Upsert(ctx context.Context, b *Branch) error {
	query := `
		INSERT INTO branches (code, name, manager_code)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE
		SET name         = EXCLUDED.name,
		    manager_code = EXCLUDED.manager_code,
		    updated_at   = NOW()
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query, b.Code, b.Name, b.ManagerCode).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to upsert branch")
	}
	return nil
}

// GetByCode retrieves a branch.
func (r *BranchRepository) GetByCode(ctx context.Context, code string) (*Branch, error) {
	query := `
		SELECT code, name, manager_code, created_at, updated_at
		FROM branches
		WHERE code = $1
	`

	b := &Branch{}
	err := r.db.QueryRow(ctx, query, code).Scan(&b.Code, &b.Name, &b.ManagerCode, &b.CreatedAt, &b.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("branch", code)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get branch")
	}
	return b, nil
}

// List returns all branches ordered by code.
func (r *BranchRepository) List(ctx context.Context) ([]*Branch, error) {
	query := `
		SELECT code, name, manager_code, created_at, updated_at
		FROM branches
		ORDER BY code
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list branches")
	}
	defer rows.Close()

	var out []*Branch
	for rows.Next() {
		b := &Branch{}
		if err := rows.Scan(&b.Code, &b.Name, &b.ManagerCode, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan branch")
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
