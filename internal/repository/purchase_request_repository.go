package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pesio-ai/be-pr-approvals/internal/database"
	"github.com/pesio-ai/be-pr-approvals/internal/errors"
)

// PurchaseRequestRepository persists purchase requests. Every state change
// goes through Save, which applies an optimistic version check so that two
// concurrent transitions on the same request cannot both commit.
type PurchaseRequestRepository struct {
	db *database.DB
}

// NewPurchaseRequestRepository creates a new PurchaseRequestRepository.
func NewPurchaseRequestRepository(db *database.DB) *PurchaseRequestRepository {
	return &PurchaseRequestRepository{db: db}
}

const purchaseRequestColumns = `
	id, title, requester_code, branch_code, category, amount, currency, description,
	status, COALESCE(current_plan_id::text, ''), current_stage, version,
	submitted_at, created_at, updated_at`

// Create inserts a new draft purchase request.
func (r *PurchaseRequestRepository) Create(ctx context.Context, pr *PurchaseRequest) error {
	query := `
		INSERT INTO purchase_requests
		    (id, title, requester_code, branch_code, category, amount, currency,
		     description, status, current_stage, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7,
		        $8, $9, $10, 1)
		RETURNING version, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		pr.ID,
		pr.Title,
		pr.RequesterCode,
		pr.BranchCode,
		pr.Category,
		pr.Amount,
		pr.Currency,
		pr.Description,
		pr.Status.String(),
		pr.CurrentStage,
	).Scan(&pr.Version, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create purchase request")
	}
	return nil
}

// GetByID retrieves a purchase request with its current plan.
func (r *PurchaseRequestRepository) GetByID(ctx context.Context, id string) (*PurchaseRequest, error) {
	query := `SELECT ` + purchaseRequestColumns + ` FROM purchase_requests WHERE id = $1`

	pr, planID, err := scanPurchaseRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("purchase_request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get purchase request")
	}
	if planID != "" {
		if pr.Plan, err = loadPlan(ctx, r.db, planID); err != nil {
			return nil, err
		}
	}
	return pr, nil
}

// ListAwaiting returns every purchase request with a pending stage.
func (r *PurchaseRequestRepository) ListAwaiting(ctx context.Context) ([]*PurchaseRequest, error) {
	query := `SELECT ` + purchaseRequestColumns + `
		FROM purchase_requests
		WHERE status LIKE '%\_PENDING'
		ORDER BY submitted_at ASC NULLS LAST, created_at ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending purchase requests")
	}

	type pending struct {
		pr     *PurchaseRequest
		planID string
	}
	var items []pending
	for rows.Next() {
		pr, planID, err := scanPurchaseRequest(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan purchase request")
		}
		items = append(items, pending{pr: pr, planID: planID})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending purchase requests")
	}

	out := make([]*PurchaseRequest, 0, len(items))
	for _, it := range items {
		if it.planID != "" {
			if it.pr.Plan, err = loadPlan(ctx, r.db, it.planID); err != nil {
				return nil, err
			}
		}
		out = append(out, it.pr)
	}
	return out, nil
}

// UpdateDetails changes requester-editable fields under the version check.
func (r *PurchaseRequestRepository) UpdateDetails(ctx context.Context, pr *PurchaseRequest, expectedVersion int64) error {
	query := `
		UPDATE purchase_requests
		SET title       = $3,
		    category    = $4,
		    amount      = $5,
		    currency    = $6,
		    description = $7,
		    version     = version + 1,
		    updated_at  = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		pr.ID,
		expectedVersion,
		pr.Title,
		pr.Category,
		pr.Amount,
		pr.Currency,
		pr.Description,
	).Scan(&pr.Version, &pr.UpdatedAt)
	if err == pgx.ErrNoRows {
		return ErrVersionConflict
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update purchase request")
	}
	return nil
}

// Save persists a transition atomically: the status/pointer update, an
// optional new plan, history entries and assignment changes. The update only
// applies when the stored version equals expectedVersion; otherwise
// ErrVersionConflict is returned and nothing is written.
func (r *PurchaseRequestRepository) Save(ctx context.Context, pr *PurchaseRequest, expectedVersion int64, change Change) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var planID *string
		if pr.Plan != nil {
			planID = &pr.Plan.ID
		}

		query := `
			UPDATE purchase_requests
			SET status          = $3,
			    current_plan_id = $4,
			    current_stage   = $5,
			    branch_code     = $6,
			    submitted_at    = $7,
			    version         = version + 1,
			    updated_at      = NOW()
			WHERE id = $1 AND version = $2
			RETURNING version, updated_at
		`

		err := tx.QueryRow(ctx, query,
			pr.ID,
			expectedVersion,
			pr.Status.String(),
			planID,
			pr.CurrentStage,
			pr.BranchCode,
			pr.SubmittedAt,
		).Scan(&pr.Version, &pr.UpdatedAt)
		if err == pgx.ErrNoRows {
			return ErrVersionConflict
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update purchase request")
		}

		if change.NewPlan != nil {
			if err := insertPlan(ctx, tx, change.NewPlan); err != nil {
				return err
			}
		}
		for _, entry := range change.History {
			if err := appendHistory(ctx, tx, entry); err != nil {
				return err
			}
		}
		if change.RetireAssignmentID != "" {
			if err := retireAssignment(ctx, tx, change.RetireAssignmentID); err != nil {
				return err
			}
		}
		if change.Assign != nil {
			if err := insertAssignment(ctx, tx, change.Assign); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanPurchaseRequest(row rowScanner) (*PurchaseRequest, string, error) {
	pr := &PurchaseRequest{}
	var status, planID string
	err := row.Scan(
		&pr.ID,
		&pr.Title,
		&pr.RequesterCode,
		&pr.BranchCode,
		&pr.Category,
		&pr.Amount,
		&pr.Currency,
		&pr.Description,
		&status,
		&planID,
		&pr.CurrentStage,
		&pr.Version,
		&pr.SubmittedAt,
		&pr.CreatedAt,
		&pr.UpdatedAt,
	)
	if err != nil {
		return nil, "", err
	}
	if pr.Status, err = ParseStatus(status); err != nil {
		return nil, "", err
	}
	return pr, planID, nil
}
