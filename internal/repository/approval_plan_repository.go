package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pesio-ai/be-pr-approvals/internal/database"
	"github.com/pesio-ai/be-pr-approvals/internal/errors"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ApprovalPlanRepository stores frozen plans and their stages. Plans are
// written together with the purchase request transition that created them
// (see PurchaseRequestRepository.Save), so only reads are public.
type ApprovalPlanRepository struct {
	db *database.DB
}

// NewApprovalPlanRepository creates a new ApprovalPlanRepository.
func NewApprovalPlanRepository(db *database.DB) *ApprovalPlanRepository {
	return &ApprovalPlanRepository{db: db}
}

// GetByID loads a plan with its stages.
func (r *ApprovalPlanRepository) GetByID(ctx context.Context, id string) (*ApprovalPlan, error) {
	return loadPlan(ctx, r.db, id)
}

// ListByPurchaseRequest returns every plan ever routed for a purchase
// request, oldest first. Superseded plans stay readable for audit.
func (r *ApprovalPlanRepository) ListByPurchaseRequest(ctx context.Context, prID string) ([]*ApprovalPlan, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM approval_plans
		WHERE purchase_request_id = $1
		ORDER BY routed_at ASC
	`, prID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval plans")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval plans")
	}

	plans := make([]*ApprovalPlan, 0, len(ids))
	for _, id := range ids {
		plan, err := loadPlan(ctx, r.db, id)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// insertPlan writes a plan header and all its stages.
func insertPlan(ctx context.Context, tx pgx.Tx, plan *ApprovalPlan) error {
	ruleJSON, err := json.Marshal(plan.Rule)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rule snapshot")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO approval_plans
		    (id, purchase_request_id, rule_snapshot, hierarchy_generation, routed_by, routed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		plan.ID,
		plan.PurchaseRequestID,
		ruleJSON,
		int64(plan.HierarchyGeneration),
		plan.RoutedBy,
		plan.RoutedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval plan")
	}

	stageQuery := `
		INSERT INTO approval_plan_stages
		    (plan_id, stage_index, kind, responsible_code, responsible_role,
		     auto_satisfied_by, manually_assigned)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, s := range plan.Stages {
		_, err := tx.Exec(ctx, stageQuery,
			plan.ID,
			s.Index,
			string(s.Kind),
			nullIfEmpty(s.ResponsibleCode),
			nullIfEmpty(string(s.ResponsibleRole)),
			s.AutoSatisfiedBy,
			s.ManuallyAssigned,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval plan stage")
		}
	}
	return nil
}

func loadPlan(ctx context.Context, q querier, id string) (*ApprovalPlan, error) {
	plan := &ApprovalPlan{}
	var ruleJSON []byte
	var generation int64

	err := q.QueryRow(ctx, `
		SELECT id, purchase_request_id, rule_snapshot, hierarchy_generation, routed_by, routed_at
		FROM approval_plans
		WHERE id = $1
	`, id).Scan(
		&plan.ID,
		&plan.PurchaseRequestID,
		&ruleJSON,
		&generation,
		&plan.RoutedBy,
		&plan.RoutedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_plan", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval plan")
	}
	plan.HierarchyGeneration = uint64(generation)
	if err := json.Unmarshal(ruleJSON, &plan.Rule); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal rule snapshot")
	}

	rows, err := q.Query(ctx, `
		SELECT stage_index, kind, COALESCE(responsible_code, ''), COALESCE(responsible_role, ''),
		       auto_satisfied_by, manually_assigned
		FROM approval_plan_stages
		WHERE plan_id = $1
		ORDER BY stage_index ASC
	`, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval plan stages")
	}
	defer rows.Close()

	for rows.Next() {
		var s PlanStage
		var kind, role string
		if err := rows.Scan(&s.Index, &kind, &s.ResponsibleCode, &role, &s.AutoSatisfiedBy, &s.ManuallyAssigned); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval plan stage")
		}
		s.Kind = StageKind(kind)
		s.ResponsibleRole = Role(role)
		plan.Stages = append(plan.Stages, s)
	}
	return plan, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
