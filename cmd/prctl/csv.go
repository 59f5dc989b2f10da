package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	pb "github.com/pesio-ai/be-pr-approvals/internal/proto/approvalsv1"
	"github.com/pesio-ai/be-pr-approvals/internal/service"
)

var (
	employeeColumns = []string{"employeeCode", "fullName", "email", "branchCode", "departmentCode", "jobTitle", "systemRoles", "directManagerCode"}
	employeeRequired = []string{"employeeCode", "fullName", "email", "branchCode", "departmentCode"}

	branchColumns  = []string{"code", "name", "managerCode"}
	branchRequired = []string{"code", "name"}
)

// csvTable is a header-indexed CSV file. Column names match case-insensitively.
type csvTable struct {
	index map[string]int
	rows  [][]string
	lines []int
}

func readCSV(r io.Reader, known, required []string) (*csvTable, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	canonical := make(map[string]string, len(known))
	for _, k := range known {
		canonical[strings.ToLower(k)] = k
	}

	t := &csvTable{index: make(map[string]int)}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
		name, ok := canonical[strings.ToLower(h)]
		if !ok {
			return nil, fmt.Errorf("unknown column %q", h)
		}
		if _, dup := t.index[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		t.index[name] = i
	}
	for _, req := range required {
		if _, ok := t.index[req]; !ok {
			return nil, fmt.Errorf("missing column %q", req)
		}
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if blank(rec) {
			continue
		}
		line, _ := cr.FieldPos(0)
		t.rows = append(t.rows, rec)
		t.lines = append(t.lines, line)
	}
	return t, nil
}

func (t *csvTable) get(row []string, col string) string {
	i, ok := t.index[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// parseEmployeesCSV reads an employee export. Field validation is left to the
// server, which reports rejected rows individually.
func parseEmployeesCSV(r io.Reader) ([]service.EmployeeRow, error) {
	t, err := readCSV(r, employeeColumns, employeeRequired)
	if err != nil {
		return nil, err
	}
	out := make([]service.EmployeeRow, 0, len(t.rows))
	for _, rec := range t.rows {
		out = append(out, service.EmployeeRow{
			Code:              t.get(rec, "employeeCode"),
			FullName:          t.get(rec, "fullName"),
			Email:             t.get(rec, "email"),
			BranchCode:        t.get(rec, "branchCode"),
			DepartmentCode:    t.get(rec, "departmentCode"),
			JobTitle:          t.get(rec, "jobTitle"),
			Roles:             splitRoles(t.get(rec, "systemRoles")),
			DirectManagerCode: t.get(rec, "directManagerCode"),
		})
	}
	return out, nil
}

// parseBranchesCSV reads a branch list. An empty managerCode clears the
// explicit manager.
func parseBranchesCSV(r io.Reader) ([]pb.UpsertBranchRequest, error) {
	t, err := readCSV(r, branchColumns, branchRequired)
	if err != nil {
		return nil, err
	}
	out := make([]pb.UpsertBranchRequest, 0, len(t.rows))
	for i, rec := range t.rows {
		b := pb.UpsertBranchRequest{
			Code: t.get(rec, "code"),
			Name: t.get(rec, "name"),
		}
		if b.Code == "" {
			return nil, fmt.Errorf("line %d: code is required", t.lines[i])
		}
		if m := t.get(rec, "managerCode"); m != "" {
			b.ManagerCode = &m
		}
		out = append(out, b)
	}
	return out, nil
}

func splitRoles(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ';' || r == '|' })
	roles := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.ToUpper(strings.TrimSpace(f)); f != "" {
			roles = append(roles, f)
		}
	}
	return roles
}
