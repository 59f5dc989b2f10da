// Package approvalsv1 defines the procurement.approvals.v1 wire contract
// shared by the HTTP API, the gRPC service and its clients. Messages travel
// as google.protobuf.Struct on gRPC and as plain JSON over HTTP.
package approvalsv1

import (
	"time"

	"github.com/pesio-ai/be-pr-approvals/internal/hierarchy"
	"github.com/pesio-ai/be-pr-approvals/internal/repository"
	"github.com/pesio-ai/be-pr-approvals/internal/service"
)

// ── Resources ────────────────────────────────────────────────────────────────

// PurchaseRequest is the external view of a purchase request.
type PurchaseRequest struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	RequesterCode    string     `json:"requesterCode"`
	BranchCode       string     `json:"branchCode,omitempty"`
	Category         string     `json:"category,omitempty"`
	Amount           string     `json:"amount"`
	Currency         string     `json:"currency"`
	Description      *string    `json:"description,omitempty"`
	Status           string     `json:"status"`
	CurrentStage     int        `json:"currentStage"`
	CurrentStageKind string     `json:"currentStageKind,omitempty"`
	Version          int64      `json:"version"`
	Plan             *Plan      `json:"plan,omitempty"`
	SubmittedAt      *time.Time `json:"submittedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Stage is one position of a plan.
type Stage struct {
	Index            int    `json:"index"`
	Kind             string `json:"kind"`
	ResponsibleCode  string `json:"responsibleCode,omitempty"`
	ResponsibleRole  string `json:"responsibleRole,omitempty"`
	AutoSatisfiedBy  *int   `json:"autoSatisfiedBy,omitempty"`
	ManuallyAssigned bool   `json:"manuallyAssigned,omitempty"`
}

// Plan is a frozen approval plan.
type Plan struct {
	ID                  string    `json:"id"`
	PurchaseRequestID   string    `json:"purchaseRequestId"`
	Stages              []Stage   `json:"stages"`
	Rule                Rule      `json:"rule"`
	HierarchyGeneration uint64    `json:"hierarchyGeneration"`
	RoutedAt            time.Time `json:"routedAt"`
	RoutedBy            string    `json:"routedBy,omitempty"`
}

// Rule is a branch approval rule.
type Rule struct {
	BranchCode                string     `json:"branchCode"`
	NeedBranchManagerApproval bool       `json:"needBranchManagerApproval"`
	Note                      string     `json:"note,omitempty"`
	UpdatedBy                 string     `json:"updatedBy,omitempty"`
	UpdatedAt                 *time.Time `json:"updatedAt,omitempty"`
	IsDefault                 bool       `json:"isDefault"`
}

// HistoryEntry is one recorded decision.
type HistoryEntry struct {
	ID            string                 `json:"id"`
	PlanID        string                 `json:"planId,omitempty"`
	StageIndex    int                    `json:"stageIndex"`
	Stage         string                 `json:"stage,omitempty"`
	Decision      string                 `json:"decision"`
	ActorCode     string                 `json:"actorCode"`
	Reason        *string                `json:"reason,omitempty"`
	StatusBefore  string                 `json:"statusBefore"`
	StatusAfter   string                 `json:"statusAfter"`
	AutoSatisfied bool                   `json:"autoSatisfied,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt    time.Time              `json:"occurredAt"`
}

// Assignment is the active buyer assignment.
type Assignment struct {
	ID         string    `json:"id"`
	BuyerCode  string    `json:"buyerCode"`
	AssignedBy string    `json:"assignedBy"`
	AssignedAt time.Time `json:"assignedAt"`
}

// Branch is an organizational branch.
type Branch struct {
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	ManagerCode *string `json:"managerCode,omitempty"`
}

// BranchHierarchy is the reporting forest of one branch.
type BranchHierarchy struct {
	BranchCode    string                `json:"branchCode"`
	ManagerStatus string                `json:"branchManagerStatus"`
	ManagerCode   string                `json:"branchManagerCode,omitempty"`
	Explicit      bool                  `json:"explicit,omitempty"`
	Candidates    []string              `json:"candidates,omitempty"`
	Roots         []*hierarchy.TreeNode `json:"roots"`
}

// Hierarchy is a resolved organization snapshot.
type Hierarchy struct {
	Generation uint64              `json:"generation"`
	BuiltAt    time.Time           `json:"builtAt"`
	Employees  int                 `json:"employees"`
	Branches   []BranchHierarchy   `json:"branches"`
	Anomalies  []hierarchy.Anomaly `json:"anomalies"`
}

// ── Requests ─────────────────────────────────────────────────────────────────

// CreateRequest creates a draft.
type CreateRequest struct {
	Title       string  `json:"title"`
	Category    string  `json:"category"`
	Amount      string  `json:"amount"`
	Currency    string  `json:"currency"`
	Description *string `json:"description,omitempty"`
	// Version is the expected version when updating a draft; 0 skips the check.
	Version int64 `json:"version,omitempty"`
}

// GetRequestRequest fetches one purchase request.
type GetRequestRequest struct {
	ID string `json:"id"`
}

// SubmitRequestRequest submits a draft or a returned request.
type SubmitRequestRequest struct {
	ID                string `json:"id"`
	ManualManagerCode string `json:"manualManagerCode,omitempty"`
}

// ApplyDecisionRequest applies one decision.
type ApplyDecisionRequest struct {
	ID            string `json:"id"`
	Decision      string `json:"decision"`
	Reason        string `json:"reason,omitempty"`
	ExpectedStage *int   `json:"expectedStage,omitempty"`
	Assignee      string `json:"assignee,omitempty"`
}

// ReassignRequest moves the buying stage to another buyer.
type ReassignRequest struct {
	Assignee string `json:"assignee"`
	Reason   string `json:"reason,omitempty"`
}

// GetRuleRequest reads a branch rule.
type GetRuleRequest struct {
	BranchCode string `json:"branchCode"`
}

// SetRuleRequest replaces a branch rule.
type SetRuleRequest struct {
	BranchCode                string `json:"branchCode"`
	NeedBranchManagerApproval bool   `json:"needBranchManagerApproval"`
	Note                      string `json:"note,omitempty"`
}

// ResolveHierarchyRequest optionally narrows the snapshot to one branch.
type ResolveHierarchyRequest struct {
	BranchCode string `json:"branchCode,omitempty"`
}

// ImportEmployeesRequest carries one import batch.
type ImportEmployeesRequest struct {
	Rows              []service.EmployeeRow `json:"rows"`
	DeactivateMissing bool                  `json:"deactivateMissing"`
}

// UpsertBranchRequest creates or replaces a branch.
type UpsertBranchRequest struct {
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	ManagerCode *string `json:"managerCode,omitempty"`
}

// ── Responses ────────────────────────────────────────────────────────────────

// HistoryResponse lists a purchase request's decisions.
type HistoryResponse struct {
	PurchaseRequestID string          `json:"purchaseRequestId"`
	Entries           []*HistoryEntry `json:"entries"`
	Plans             []*Plan         `json:"plans,omitempty"`
}

// ListResponse lists purchase requests.
type ListResponse struct {
	PurchaseRequests []*PurchaseRequest `json:"purchaseRequests"`
	Total            int                `json:"total"`
}

// RulesResponse lists stored rules.
type RulesResponse struct {
	Rules []*Rule `json:"rules"`
}

// ImportEmployeesResponse reports an import.
type ImportEmployeesResponse = service.ImportResult

// ── Conversions ──────────────────────────────────────────────────────────────

// FromPurchaseRequest converts a domain purchase request.
func FromPurchaseRequest(pr *repository.PurchaseRequest) *PurchaseRequest {
	if pr == nil {
		return nil
	}
	out := &PurchaseRequest{
		ID:            pr.ID,
		Title:         pr.Title,
		RequesterCode: pr.RequesterCode,
		BranchCode:    pr.BranchCode,
		Category:      pr.Category,
		Amount:        pr.Amount.String(),
		Currency:      pr.Currency,
		Description:   pr.Description,
		Status:        pr.Status.String(),
		CurrentStage:  pr.CurrentStage,
		Version:       pr.Version,
		Plan:          FromPlan(pr.Plan),
		SubmittedAt:   pr.SubmittedAt,
		CreatedAt:     pr.CreatedAt,
		UpdatedAt:     pr.UpdatedAt,
	}
	if cur := pr.Current(); cur != nil {
		out.CurrentStageKind = string(cur.Kind)
	}
	return out
}

// FromPurchaseRequests converts a slice.
func FromPurchaseRequests(prs []*repository.PurchaseRequest) []*PurchaseRequest {
	out := make([]*PurchaseRequest, 0, len(prs))
	for _, pr := range prs {
		out = append(out, FromPurchaseRequest(pr))
	}
	return out
}

// FromPlan converts a domain plan.
func FromPlan(p *repository.ApprovalPlan) *Plan {
	if p == nil {
		return nil
	}
	out := &Plan{
		ID:                  p.ID,
		PurchaseRequestID:   p.PurchaseRequestID,
		Stages:              make([]Stage, len(p.Stages)),
		Rule:                *FromRule(&p.Rule),
		HierarchyGeneration: p.HierarchyGeneration,
		RoutedAt:            p.RoutedAt,
		RoutedBy:            p.RoutedBy,
	}
	for i, s := range p.Stages {
		out.Stages[i] = Stage{
			Index:            s.Index,
			Kind:             string(s.Kind),
			ResponsibleCode:  s.ResponsibleCode,
			ResponsibleRole:  string(s.ResponsibleRole),
			AutoSatisfiedBy:  s.AutoSatisfiedBy,
			ManuallyAssigned: s.ManuallyAssigned,
		}
	}
	return out
}

// FromRule converts a domain rule.
func FromRule(r *repository.ApprovalRule) *Rule {
	if r == nil {
		return nil
	}
	out := &Rule{
		BranchCode:                r.BranchCode,
		NeedBranchManagerApproval: r.NeedBranchManagerApproval,
		Note:                      r.Note,
		UpdatedBy:                 r.UpdatedBy,
		IsDefault:                 r.IsDefault,
	}
	if !r.UpdatedAt.IsZero() {
		t := r.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

// FromHistory converts history entries.
func FromHistory(entries []*repository.HistoryEntry) []*HistoryEntry {
	out := make([]*HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, &HistoryEntry{
			ID:            e.ID,
			PlanID:        e.PlanID,
			StageIndex:    e.StageIndex,
			Stage:         string(e.Stage),
			Decision:      string(e.Decision),
			ActorCode:     e.ActorCode,
			Reason:        e.Reason,
			StatusBefore:  e.StatusBefore.String(),
			StatusAfter:   e.StatusAfter.String(),
			AutoSatisfied: e.AutoSatisfied,
			Metadata:      e.Metadata,
			OccurredAt:    e.OccurredAt,
		})
	}
	return out
}

// FromAssignment converts the active assignment.
func FromAssignment(a *repository.Assignment) *Assignment {
	if a == nil {
		return nil
	}
	return &Assignment{ID: a.ID, BuyerCode: a.BuyerCode, AssignedBy: a.AssignedBy, AssignedAt: a.AssignedAt}
}

// FromBranch converts a branch.
func FromBranch(b *repository.Branch) *Branch {
	if b == nil {
		return nil
	}
	return &Branch{Code: b.Code, Name: b.Name, ManagerCode: b.ManagerCode}
}

// FromResolution renders a hierarchy snapshot. An empty branchCode renders
// every branch.
func FromResolution(res *hierarchy.Resolution, branchCode string) *Hierarchy {
	out := &Hierarchy{
		Generation: res.Generation,
		BuiltAt:    res.BuiltAt,
		Employees:  res.Size(),
		Branches:   []BranchHierarchy{},
		Anomalies:  []hierarchy.Anomaly{},
	}
	codes := res.BranchCodes()
	if branchCode != "" {
		codes = []string{branchCode}
	}
	for _, code := range codes {
		bh := BranchHierarchy{BranchCode: code, Roots: res.Forest(code)}
		if bm := res.BranchManager(code); bm != nil {
			bh.ManagerStatus = string(bm.Status)
			bh.Explicit = bm.Explicit
			bh.Candidates = bm.Candidates
			if bm.Manager != nil {
				bh.ManagerCode = bm.Manager.Code
			}
		}
		if bh.Roots == nil {
			bh.Roots = []*hierarchy.TreeNode{}
		}
		out.Branches = append(out.Branches, bh)
	}
	for _, a := range res.Anomalies() {
		if branchCode == "" || a.BranchCode == branchCode {
			out.Anomalies = append(out.Anomalies, a)
		}
	}
	return out
}
