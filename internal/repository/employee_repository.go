package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pesio-ai/be-pr-approvals/internal/database"
	"github.com/pesio-ai/be-pr-approvals/internal/errors"
)

// EmployeeRepository persists employee snapshots produced by the import
// pipeline.
type EmployeeRepository struct {
	db *database.DB
}

// NewEmployeeRepository creates a new EmployeeRepository.
func NewEmployeeRepository(db *database.DB) *EmployeeRepository {
	return &EmployeeRepository{db: db}
}

const employeeColumns = `
	code, full_name, email, branch_code, department_code, job_title,
	system_roles, direct_manager_code, is_active, deactivated_at,
	created_at, updated_at`

// UpsertMany inserts or updates every employee in one transaction. Upserted
// rows are (re)activated.
func (r *EmployeeRepository) UpsertMany(ctx context.Context, employees []*Employee) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO employees
			    (code, full_name, email, branch_code, department_code, job_title,
			     system_roles, direct_manager_code, is_active, deactivated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, NULL)
			ON CONFLICT (code) DO UPDATE
			SET full_name           = EXCLUDED.full_name,
			    email               = EXCLUDED.email,
			    branch_code         = EXCLUDED.branch_code,
			    department_code     = EXCLUDED.department_code,
			    job_title           = EXCLUDED.job_title,
			    system_roles        = EXCLUDED.system_roles,
			    direct_manager_code = EXCLUDED.direct_manager_code,
			    is_active           = TRUE,
			    deactivated_at      = NULL,
			    updated_at          = NOW()
			RETURNING created_at, updated_at
		`

		for _, e := range employees {
			err := tx.QueryRow(ctx, query,
				e.Code,
				e.FullName,
				e.Email,
				e.BranchCode,
				e.DepartmentCode,
				e.JobTitle,
				rolesToStrings(e.Roles),
				e.DirectManagerCode,
			).Scan(&e.CreatedAt, &e.UpdatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to upsert employee "+e.Code)
			}
			e.Active = true
			e.DeactivatedAt = nil
		}
		return nil
	})
}

// DeactivateExcept soft-deletes every active employee whose code is not in
// keep. Returns the number of rows deactivated.
func (r *EmployeeRepository) DeactivateExcept(ctx context.Context, keep []string) (int, error) {
	query := `
		UPDATE employees
		SET is_active      = FALSE,
		    deactivated_at = NOW(),
		    updated_at     = NOW()
		WHERE is_active
		  AND NOT (code = ANY($1))
	`

	tag, err := r.db.Exec(ctx, query, keep)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to deactivate employees")
	}
	return int(tag.RowsAffected()), nil
}

// GetByCode retrieves an employee, active or not.
func (r *EmployeeRepository) GetByCode(ctx context.Context, code string) (*Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE code = $1`

	e, err := scanEmployee(r.db.QueryRow(ctx, query, code))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("employee", code)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get employee")
	}
	return e, nil
}

// ListActive returns all active employees ordered by code.
func (r *EmployeeRepository) ListActive(ctx context.Context) ([]*Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE is_active ORDER BY code`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list employees")
	}
	defer rows.Close()

	var out []*Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan employee")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmployee(row rowScanner) (*Employee, error) {
	e := &Employee{}
	var roles []string
	err := row.Scan(
		&e.Code,
		&e.FullName,
		&e.Email,
		&e.BranchCode,
		&e.DepartmentCode,
		&e.JobTitle,
		&roles,
		&e.DirectManagerCode,
		&e.Active,
		&e.DeactivatedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Roles = make([]Role, len(roles))
	for i, role := range roles {
		e.Roles[i] = Role(role)
	}
	return e, nil
}

func rolesToStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, role := range roles {
		out[i] = string(role)
	}
	return out
}
