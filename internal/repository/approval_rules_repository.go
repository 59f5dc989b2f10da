package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pesio-ai/be-pr-approvals/internal/database"
	"github.com/pesio-ai/be-pr-approvals/internal/errors"
)

// ApprovalRulesRepository handles the per-branch branch_approval_rules table.
// There is no cache: every read goes to the database so routing always sees
// the latest committed rule.
type ApprovalRulesRepository struct {
	db *database.DB
}

// NewApprovalRulesRepository creates a new ApprovalRulesRepository.
func NewApprovalRulesRepository(db *database.DB) *ApprovalRulesRepository {
	return &ApprovalRulesRepository{db: db}
}

// GetByBranch returns the rule row for a branch, or a NOT_FOUND error when the
// branch has never been configured.
func (r *ApprovalRulesRepository) GetByBranch(ctx context.Context, branchCode string) (*ApprovalRule, error) {
	query := `
		SELECT branch_code, need_branch_manager_approval, note, updated_by, updated_at
		FROM branch_approval_rules
		WHERE branch_code = $1
	`

	rule, err := r.scanRule(r.db.QueryRow(ctx, query, branchCode))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_rule", branchCode)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval rule")
	}
	return rule, nil
}

// Upsert writes the rule; last writer wins. UpdatedAt is assigned by the
// database clock.
func (r *ApprovalRulesRepository) Upsert(ctx context.Context, rule *ApprovalRule) error {
	query := `
		INSERT INTO branch_approval_rules
		    (branch_code, need_branch_manager_approval, note, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (branch_code) DO UPDATE
		SET need_branch_manager_approval = EXCLUDED.need_branch_manager_approval,
		    note                         = EXCLUDED.note,
		    updated_by                   = EXCLUDED.updated_by,
		    updated_at                   = NOW()
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		rule.BranchCode,
		rule.NeedBranchManagerApproval,
		rule.Note,
		rule.UpdatedBy,
	).Scan(&rule.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save approval rule")
	}
	rule.IsDefault = false
	return nil
}

// List returns every configured rule ordered by branch.
func (r *ApprovalRulesRepository) List(ctx context.Context) ([]*ApprovalRule, error) {
	query := `
		SELECT branch_code, need_branch_manager_approval, note, updated_by, updated_at
		FROM branch_approval_rules
		ORDER BY branch_code ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	var rules []*ApprovalRule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *ApprovalRulesRepository) scanRule(row rowScanner) (*ApprovalRule, error) {
	rule := &ApprovalRule{}
	err := row.Scan(
		&rule.BranchCode,
		&rule.NeedBranchManagerApproval,
		&rule.Note,
		&rule.UpdatedBy,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rule, nil
}
