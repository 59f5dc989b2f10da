package repository

import (
	"time"

	"github.com/pesio-ai/be-pr-approvals/internal/errors"
	"github.com/shopspring/decimal"
)

// ── Organization ─────────────────────────────────────────────────────────────

// Role is a system role held by an employee.
type Role string

const (
	RoleRequestor      Role = "REQUESTOR"
	RoleDepartmentHead Role = "DEPARTMENT_HEAD"
	RoleBranchManager  Role = "BRANCH_MANAGER"
	RoleBuyer          Role = "BUYER"
	RoleBuyerLeader    Role = "BUYER_LEADER"
	RoleBuyerManager   Role = "BUYER_MANAGER"
	RoleAccountant     Role = "ACCOUNTANT"
	RoleWarehouse      Role = "WAREHOUSE"
	RoleBGD            Role = "BGD" // board of directors; administrative authority
)

// KnownRoles lists every role accepted on import.
var KnownRoles = map[Role]bool{
	RoleRequestor:      true,
	RoleDepartmentHead: true,
	RoleBranchManager:  true,
	RoleBuyer:          true,
	RoleBuyerLeader:    true,
	RoleBuyerManager:   true,
	RoleAccountant:     true,
	RoleWarehouse:      true,
	RoleBGD:            true,
}

// HasRole reports whether roles contains r.
func HasRole(roles []Role, r Role) bool {
	for _, have := range roles {
		if have == r {
			return true
		}
	}
	return false
}

// Employee is one person in the organization. Employees are never hard
// deleted; Active=false is the soft delete.
type Employee struct {
	Code              string
	FullName          string
	Email             string
	BranchCode        string
	DepartmentCode    string
	JobTitle          string
	Roles             []Role
	DirectManagerCode *string
	Active            bool
	DeactivatedAt     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasRole reports whether the employee holds r.
func (e *Employee) HasRole(r Role) bool { return HasRole(e.Roles, r) }

// ManagerCode returns the direct manager code or "".
func (e *Employee) ManagerCode() string {
	if e.DirectManagerCode == nil {
		return ""
	}
	return *e.DirectManagerCode
}

// Branch groups employees. ManagerCode, when set, names *the* branch manager
// and takes precedence over role-based discovery.
type Branch struct {
	Code        string
	Name        string
	ManagerCode *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ── Governance ───────────────────────────────────────────────────────────────

// ApprovalRule is the single governance record of a branch.
type ApprovalRule struct {
	BranchCode                string
	NeedBranchManagerApproval bool
	Note                      string
	UpdatedBy                 string
	UpdatedAt                 time.Time
	// IsDefault is true when no rule row exists and the fail-safe default
	// was returned instead.
	IsDefault bool
}

// ── Purchase requests ────────────────────────────────────────────────────────

// PlanStage is one position in a frozen approval plan.
type PlanStage struct {
	Index int       `json:"index"`
	Kind  StageKind `json:"kind"`
	// ResponsibleCode is the employee who must decide. Empty for role-based
	// stages (buyer leader) and assignment-based stages (buyer).
	ResponsibleCode string `json:"responsibleCode,omitempty"`
	ResponsibleRole Role   `json:"responsibleRole,omitempty"`
	// AutoSatisfiedBy holds the index of an earlier stage whose approval by
	// the same person also satisfies this stage.
	AutoSatisfiedBy  *int `json:"autoSatisfiedBy,omitempty"`
	ManuallyAssigned bool `json:"manuallyAssigned,omitempty"`
}

// ApprovalPlan is computed once per submission and never mutated.
type ApprovalPlan struct {
	ID                  string       `json:"id"`
	PurchaseRequestID   string       `json:"purchaseRequestId"`
	Stages              []PlanStage  `json:"stages"`
	Rule                ApprovalRule `json:"rule"`
	HierarchyGeneration uint64       `json:"hierarchyGeneration"`
	RoutedAt            time.Time    `json:"routedAt"`
	RoutedBy            string       `json:"routedBy"`
}

// Stage returns the stage at index i, or nil.
func (p *ApprovalPlan) Stage(i int) *PlanStage {
	if p == nil || i < 0 || i >= len(p.Stages) {
		return nil
	}
	return &p.Stages[i]
}

// HasStage reports whether the plan contains a stage of the given kind.
func (p *ApprovalPlan) HasStage(kind StageKind) bool {
	if p == nil {
		return false
	}
	for _, s := range p.Stages {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

// Kinds lists the plan's stage kinds in order.
func (p *ApprovalPlan) Kinds() []StageKind {
	if p == nil {
		return nil
	}
	out := make([]StageKind, len(p.Stages))
	for i, s := range p.Stages {
		out[i] = s.Kind
	}
	return out
}

// NoStage marks a purchase request without a current stage.
const NoStage = -1

// PurchaseRequest is the approvable unit.
type PurchaseRequest struct {
	ID            string
	Title         string
	RequesterCode string
	BranchCode    string
	Category      string
	Amount        decimal.Decimal
	Currency      string
	Description   *string
	Status        Status
	Plan          *ApprovalPlan
	// CurrentStage indexes Plan.Stages while a stage is pending, NoStage
	// otherwise.
	CurrentStage int
	Version      int64
	SubmittedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Current returns the pending stage, or nil.
func (pr *PurchaseRequest) Current() *PlanStage {
	if !pr.Status.IsPending() {
		return nil
	}
	return pr.Plan.Stage(pr.CurrentStage)
}

// Clone returns a deep copy; plans are copied so callers can mutate freely.
func (pr *PurchaseRequest) Clone() *PurchaseRequest {
	if pr == nil {
		return nil
	}
	out := *pr
	if pr.Description != nil {
		d := *pr.Description
		out.Description = &d
	}
	if pr.SubmittedAt != nil {
		t := *pr.SubmittedAt
		out.SubmittedAt = &t
	}
	out.Plan = pr.Plan.Clone()
	return &out
}

// Clone returns a deep copy of the plan.
func (p *ApprovalPlan) Clone() *ApprovalPlan {
	if p == nil {
		return nil
	}
	out := *p
	out.Stages = make([]PlanStage, len(p.Stages))
	for i, s := range p.Stages {
		if s.AutoSatisfiedBy != nil {
			v := *s.AutoSatisfiedBy
			s.AutoSatisfiedBy = &v
		}
		out.Stages[i] = s
	}
	return &out
}

// HistoryEntry is one immutable decision record.
type HistoryEntry struct {
	ID                string
	PurchaseRequestID string
	PlanID            string
	StageIndex        int
	Stage             StageKind
	Decision          Decision
	ActorCode         string
	Reason            *string
	StatusBefore      Status
	StatusAfter       Status
	AutoSatisfied     bool
	Metadata          map[string]interface{}
	OccurredAt        time.Time
}

// Assignment links a purchase request in the buying phase to a buyer.
type Assignment struct {
	ID                string
	PurchaseRequestID string
	BuyerCode         string
	AssignedBy        string
	AssignedAt        time.Time
	DeletedAt         *time.Time
}

// Change is everything persisted atomically with one purchase request
// transition.
type Change struct {
	History []*HistoryEntry
	// NewPlan is set on (re)submission.
	NewPlan *ApprovalPlan
	// Assign creates the active assignment.
	Assign *Assignment
	// RetireAssignmentID soft-deletes the named assignment.
	RetireAssignmentID string
}

// ErrVersionConflict is returned when a purchase request was modified
// between read and write.
var ErrVersionConflict = errors.New(errors.ErrCodeConflict, "purchase request was modified concurrently; reload and retry")

// ErrAssignmentConflict is returned when a second active assignment would be
// created for the same purchase request.
var ErrAssignmentConflict = errors.New(errors.ErrCodeConflict, "purchase request already has an active assignment")

// Actor is the authenticated employee performing an operation.
type Actor struct {
	Code  string
	Roles []Role
}

// HasRole reports whether the actor holds r.
func (a Actor) HasRole(r Role) bool { return HasRole(a.Roles, r) }
