// Package memory provides in-process repositories with the same contracts as
// the PostgreSQL ones. Values are copied on the way in and out so callers
// observe the same isolation they would get from a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pesio-ai/be-pr-approvals/internal/errors"
	"github.com/pesio-ai/be-pr-approvals/internal/repository"
)

// EmployeeRepository is an in-memory employee store.
type EmployeeRepository struct {
	mu        sync.RWMutex
	employees map[string]*repository.Employee
	now       func() time.Time
}

// NewEmployeeRepository creates an empty EmployeeRepository.
func NewEmployeeRepository() *EmployeeRepository {
	return &EmployeeRepository{employees: map[string]*repository.Employee{}, now: time.Now}
}

// UpsertMany inserts or replaces employees, reactivating them.
func (r *EmployeeRepository) UpsertMany(_ context.Context, employees []*repository.Employee) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, e := range employees {
		stored := copyEmployee(e)
		if prev, ok := r.employees[e.Code]; ok {
			stored.CreatedAt = prev.CreatedAt
		} else {
			stored.CreatedAt = now
		}
		stored.UpdatedAt = now
		stored.Active = true
		stored.DeactivatedAt = nil
		r.employees[e.Code] = stored

		e.CreatedAt, e.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
		e.Active, e.DeactivatedAt = true, nil
	}
	return nil
}

// DeactivateExcept soft-deletes active employees not listed in keep.
func (r *EmployeeRepository) DeactivateExcept(_ context.Context, keep []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make(map[string]bool, len(keep))
	for _, code := range keep {
		kept[code] = true
	}
	now := r.now()
	n := 0
	for code, e := range r.employees {
		if e.Active && !kept[code] {
			e.Active = false
			e.DeactivatedAt = &now
			e.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// GetByCode returns an employee, active or not.
func (r *EmployeeRepository) GetByCode(_ context.Context, code string) (*repository.Employee, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.employees[code]
	if !ok {
		return nil, errors.NotFound("employee", code)
	}
	return copyEmployee(e), nil
}

// ListActive returns active employees ordered by code.
func (r *EmployeeRepository) ListActive(_ context.Context) ([]*repository.Employee, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*repository.Employee, 0, len(r.employees))
	for _, e := range r.employees {
		if e.Active {
			out = append(out, copyEmployee(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func copyEmployee(e *repository.Employee) *repository.Employee {
	out := *e
	out.Roles = append([]repository.Role(nil), e.Roles...)
	if e.DirectManagerCode != nil {
		m := *e.DirectManagerCode
		out.DirectManagerCode = &m
	}
	if e.DeactivatedAt != nil {
		t := *e.DeactivatedAt
		out.DeactivatedAt = &t
	}
	return &out
}

// BranchRepository is an in-memory branch store.
type BranchRepository struct {
	mu       sync.RWMutex
	branches map[string]*repository.Branch
}

// NewBranchRepository creates an empty BranchRepository.
func NewBranchRepository() *BranchRepository {
	return &BranchRepository{branches: map[string]*repository.Branch{}}
}

// Upsert inserts or replaces a branch.
func (r *BranchRepository) Upsert(_ context.Context, b *repository.Branch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	stored := copyBranch(b)
	if prev, ok := r.branches[b.Code]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	r.branches[b.Code] = stored
	b.CreatedAt, b.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	return nil
}

// GetByCode returns a branch.
func (r *BranchRepository) GetByCode(_ context.Context, code string) (*repository.Branch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.branches[code]
	if !ok {
		return nil, errors.NotFound("branch", code)
	}
	return copyBranch(b), nil
}

// List returns all branches ordered by code.
func (r *BranchRepository) List(_ context.Context) ([]*repository.Branch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*repository.Branch, 0, len(r.branches))
	for _, b := range r.branches {
		out = append(out, copyBranch(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func copyBranch(b *repository.Branch) *repository.Branch {
	out := *b
	if b.ManagerCode != nil {
		m := *b.ManagerCode
		out.ManagerCode = &m
	}
	return &out
}

// RulesRepository is an in-memory per-branch rule store.
type RulesRepository struct {
	mu    sync.RWMutex
	rules map[string]repository.ApprovalRule
	now   func() time.Time
}

// NewRulesRepository creates an empty RulesRepository.
func NewRulesRepository() *RulesRepository {
	return &RulesRepository{rules: map[string]repository.ApprovalRule{}, now: time.Now}
}

// GetByBranch returns the rule or NOT_FOUND.
func (r *RulesRepository) GetByBranch(_ context.Context, branchCode string) (*repository.ApprovalRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[branchCode]
	if !ok {
		return nil, errors.NotFound("approval_rule", branchCode)
	}
	return &rule, nil
}

// Upsert stores the rule with a store-assigned timestamp.
func (r *RulesRepository) Upsert(_ context.Context, rule *repository.ApprovalRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule.UpdatedAt = r.now()
	rule.IsDefault = false
	r.rules[rule.BranchCode] = *rule
	return nil
}

// List returns all rules ordered by branch.
func (r *RulesRepository) List(_ context.Context) ([]*repository.ApprovalRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*repository.ApprovalRule, 0, len(r.rules))
	for _, rule := range r.rules {
		rule := rule
		out = append(out, &rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BranchCode < out[j].BranchCode })
	return out, nil
}
