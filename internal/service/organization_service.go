package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/pesio-ai/be-pr-approvals/internal/errors"
	"github.com/pesio-ai/be-pr-approvals/internal/hierarchy"
	"github.com/pesio-ai/be-pr-approvals/internal/logger"
	"github.com/pesio-ai/be-pr-approvals/internal/repository"
)

// EmployeeRow is one validated-or-not row supplied by the import pipeline.
type EmployeeRow struct {
	Code              string   `json:"employeeCode"`
	FullName          string   `json:"fullName"`
	Email             string   `json:"email"`
	BranchCode        string   `json:"branchCode"`
	DepartmentCode    string   `json:"departmentCode"`
	JobTitle          string   `json:"jobTitle"`
	Roles             []string `json:"systemRoles"`
	DirectManagerCode string   `json:"directManagerCode,omitempty"`
}

// RowError explains why an import row was not applied.
type RowError struct {
	Row    int    `json:"row"`
	Code   string `json:"employeeCode,omitempty"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ImportResult summarises an employee import.
type ImportResult struct {
	Imported    int        `json:"imported"`
	Deactivated int        `json:"deactivated"`
	Rejected    []RowError `json:"rejected"`
}

// OrganizationService maintains employees and branches and exposes the
// hierarchy snapshot.
type OrganizationService struct {
	employeeRepo EmployeeRepositoryInterface
	branchRepo   BranchRepositoryInterface
	hierarchy    HierarchyRebuilder
	log          *logger.Logger
}

// NewOrganizationService creates a new OrganizationService.
func NewOrganizationService(
	employeeRepo EmployeeRepositoryInterface,
	branchRepo BranchRepositoryInterface,
	hierarchy HierarchyRebuilder,
	log *logger.Logger,
) *OrganizationService {
	return &OrganizationService{
		employeeRepo: employeeRepo,
		branchRepo:   branchRepo,
		hierarchy:    hierarchy,
		log:          log.Component("organization"),
	}
}

// ImportEmployees applies every fully valid row and reports the rest. With
// deactivateMissing, active employees absent from the batch are soft-deleted.
// A hierarchy rebuild is scheduled once the batch is stored.
func (s *OrganizationService) ImportEmployees(ctx context.Context, actor repository.Actor, rows []EmployeeRow, deactivateMissing bool) (*ImportResult, error) {
	if !actor.HasRole(repository.RoleBGD) {
		return nil, errors.New(errors.ErrCodeForbidden, "only BGD may import employees")
	}
	if len(rows) == 0 {
		return nil, errors.InvalidInput("rows", "at least one row is required")
	}

	result := &ImportResult{Rejected: []RowError{}}
	seen := make(map[string]int, len(rows))
	keep := make([]string, 0, len(rows))
	valid := make([]*repository.Employee, 0, len(rows))

	for i, row := range rows {
		code := strings.TrimSpace(row.Code)
		if code != "" {
			keep = append(keep, code)
		}
		if first, dup := seen[code]; dup && code != "" {
			result.Rejected = append(result.Rejected, RowError{
				Row: i + 1, Code: code, Field: "employeeCode",
				Reason: fmt.Sprintf("duplicate of row %d", first),
			})
			continue
		}
		seen[code] = i + 1

		emp, rowErr := parseEmployeeRow(row)
		if rowErr != nil {
			rowErr.Row = i + 1
			result.Rejected = append(result.Rejected, *rowErr)
			continue
		}
		valid = append(valid, emp)
	}

	if len(valid) > 0 {
		if err := s.employeeRepo.UpsertMany(ctx, valid); err != nil {
			return nil, err
		}
	}
	result.Imported = len(valid)

	if deactivateMissing {
		n, err := s.employeeRepo.DeactivateExcept(ctx, keep)
		if err != nil {
			return nil, err
		}
		result.Deactivated = n
	}

	s.log.Info().
		Str("actor", actor.Code).
		Int("imported", result.Imported).
		Int("rejected", len(result.Rejected)).
		Int("deactivated", result.Deactivated).
		Msg("Employee import completed")

	s.hierarchy.RebuildAsync()
	return result, nil
}

func parseEmployeeRow(row EmployeeRow) (*repository.Employee, *RowError) {
	code := strings.TrimSpace(row.Code)
	required := []struct {
		field, value string
	}{
		{"employeeCode", code},
		{"fullName", row.FullName},
		{"email", row.Email},
		{"branchCode", row.BranchCode},
		{"departmentCode", row.DepartmentCode},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return nil, &RowError{Code: code, Field: r.field, Reason: "is required"}
		}
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(row.Email))
	if err != nil {
		return nil, &RowError{Code: code, Field: "email", Reason: "is not a valid address"}
	}

	roles := make([]repository.Role, 0, len(row.Roles))
	for _, raw := range row.Roles {
		role := repository.Role(strings.ToUpper(strings.TrimSpace(raw)))
		if role == "" {
			continue
		}
		if !repository.KnownRoles[role] {
			return nil, &RowError{Code: code, Field: "systemRoles", Reason: fmt.Sprintf("unknown role %q", raw)}
		}
		if !repository.HasRole(roles, role) {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		roles = append(roles, repository.RoleRequestor)
	}

	emp := &repository.Employee{
		Code:           code,
		FullName:       strings.TrimSpace(row.FullName),
		Email:          strings.ToLower(addr.Address),
		BranchCode:     strings.TrimSpace(row.BranchCode),
		DepartmentCode: strings.TrimSpace(row.DepartmentCode),
		JobTitle:       strings.TrimSpace(row.JobTitle),
		Roles:          roles,
		Active:         true,
	}
	if m := strings.TrimSpace(row.DirectManagerCode); m != "" {
		emp.DirectManagerCode = &m
	}
	return emp, nil
}

// UpsertBranch creates or updates a branch. A non-empty managerCode names the
// branch manager explicitly.
func (s *OrganizationService) UpsertBranch(ctx context.Context, actor repository.Actor, code, name string, managerCode *string) (*repository.Branch, error) {
	if !actor.HasRole(repository.RoleBGD) {
		return nil, errors.New(errors.ErrCodeForbidden, "only BGD may change branches")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.InvalidInput("code", "branch code is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = code
	}

	b := &repository.Branch{Code: code, Name: name}
	if managerCode != nil {
		if m := strings.TrimSpace(*managerCode); m != "" {
			manager, err := s.employeeRepo.GetByCode(ctx, m)
			if err != nil {
				return nil, err
			}
			if !manager.Active || manager.BranchCode != code || !manager.HasRole(repository.RoleBranchManager) {
				return nil, errors.InvalidInput("managerCode",
					fmt.Sprintf("%q is not an active BRANCH_MANAGER of branch %q", m, code))
			}
			b.ManagerCode = &m
		}
	}

	if err := s.branchRepo.Upsert(ctx, b); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("branch_code", code).
		Str("actor", actor.Code).
		Msg("Branch saved")

	s.hierarchy.RebuildAsync()
	return b, nil
}

// ListBranches returns all branches.
func (s *OrganizationService) ListBranches(ctx context.Context) ([]*repository.Branch, error) {
	return s.branchRepo.List(ctx)
}

// ResolveHierarchy returns the most recently completed organization snapshot.
func (s *OrganizationService) ResolveHierarchy(ctx context.Context) (*hierarchy.Resolution, error) {
	return s.hierarchy.Current(ctx)
}
