package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pesio-ai/be-pr-approvals/internal/database"
	"github.com/pesio-ai/be-pr-approvals/internal/errors"
)

// AssignmentRepository reads buyer assignments. Writes happen inside
// PurchaseRequestRepository.Save; a partial unique index enforces one active
// assignment per purchase request.
type AssignmentRepository struct {
	db *database.DB
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(db *database.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// GetActive returns the non-deleted assignment of a purchase request, or nil
// when none exists.
func (r *AssignmentRepository) GetActive(ctx context.Context, prID string) (*Assignment, error) {
	query := `
		SELECT id, purchase_request_id, buyer_code, assigned_by, assigned_at, deleted_at
		FROM purchase_request_assignments
		WHERE purchase_request_id = $1 AND deleted_at IS NULL
	`

	a := &Assignment{}
	err := r.db.QueryRow(ctx, query, prID).Scan(
		&a.ID,
		&a.PurchaseRequestID,
		&a.BuyerCode,
		&a.AssignedBy,
		&a.AssignedAt,
		&a.DeletedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get assignment")
	}
	return a, nil
}

func insertAssignment(ctx context.Context, tx pgx.Tx, a *Assignment) error {
	query := `
		INSERT INTO purchase_request_assignments
		    (id, purchase_request_id, buyer_code, assigned_by, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := tx.Exec(ctx, query, a.ID, a.PurchaseRequestID, a.BuyerCode, a.AssignedBy, a.AssignedAt)
	if database.IsUniqueViolation(err) {
		return ErrAssignmentConflict
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create assignment")
	}
	return nil
}

func retireAssignment(ctx context.Context, tx pgx.Tx, id string) error {
	query := `
		UPDATE purchase_request_assignments
		SET deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	tag, err := tx.Exec(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to retire assignment")
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.ErrCodeConflict, "assignment already retired")
	}
	return nil
}
