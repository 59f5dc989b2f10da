package service

import (
	"context"

	"github.com/pesio-ai/be-pr-approvals/internal/hierarchy"
	"github.com/pesio-ai/be-pr-approvals/internal/repository"
)

// EmployeeRepositoryInterface stores employees.
type EmployeeRepositoryInterface interface {
	UpsertMany(ctx context.Context, employees []*repository.Employee) error
	DeactivateExcept(ctx context.Context, keep []string) (int, error)
	GetByCode(ctx context.Context, code string) (*repository.Employee, error)
	ListActive(ctx context.Context) ([]*repository.Employee, error)
}

// BranchRepositoryInterface stores branches.
type BranchRepositoryInterface interface {
	Upsert(ctx context.Context, b *repository.Branch) error
	GetByCode(ctx context.Context, code string) (*repository.Branch, error)
	List(ctx context.Context) ([]*repository.Branch, error)
}

// RulesRepositoryInterface stores per-branch approval rules.
type RulesRepositoryInterface interface {
	GetByBranch(ctx context.Context, branchCode string) (*repository.ApprovalRule, error)
	Upsert(ctx context.Context, rule *repository.ApprovalRule) error
	List(ctx context.Context) ([]*repository.ApprovalRule, error)
}

// PurchaseRequestRepositoryInterface stores purchase requests. Save and
// UpdateDetails must fail with repository.ErrVersionConflict when the stored
// version differs from expectedVersion.
type PurchaseRequestRepositoryInterface interface {
	Create(ctx context.Context, pr *repository.PurchaseRequest) error
	GetByID(ctx context.Context, id string) (*repository.PurchaseRequest, error)
	ListAwaiting(ctx context.Context) ([]*repository.PurchaseRequest, error)
	UpdateDetails(ctx context.Context, pr *repository.PurchaseRequest, expectedVersion int64) error
	Save(ctx context.Context, pr *repository.PurchaseRequest, expectedVersion int64, change repository.Change) error
}

// AssignmentRepositoryInterface reads buyer assignments.
type AssignmentRepositoryInterface interface {
	GetActive(ctx context.Context, prID string) (*repository.Assignment, error)
}

// HistoryRepositoryInterface reads the decision trail.
type HistoryRepositoryInterface interface {
	GetByPurchaseRequest(ctx context.Context, prID string) ([]*repository.HistoryEntry, error)
}

// PlanRepositoryInterface reads approval plans, including superseded ones.
type PlanRepositoryInterface interface {
	ListByPurchaseRequest(ctx context.Context, prID string) ([]*repository.ApprovalPlan, error)
}

// HierarchySource supplies the most recently completed organization snapshot.
type HierarchySource interface {
	Current(ctx context.Context) (*hierarchy.Resolution, error)
}

// HierarchyRebuilder schedules a snapshot rebuild after organization changes.
type HierarchyRebuilder interface {
	HierarchySource
	RebuildAsync()
}

// NotificationPublisherInterface publishes purchase request lifecycle events.
// Implementations must not fail the caller.
type NotificationPublisherInterface interface {
	PublishPurchaseRequestEvent(ctx context.Context, eventType, prID, branchCode, actorCode string, recipients []string, payload map[string]interface{})
}
