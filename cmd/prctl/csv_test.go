package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmployeesCSV(t *testing.T) {
	in := "\uFEFFEmployeeCode,fullName,email,branchCode,departmentCode,systemRoles,directManagerCode\n" +
		"E1, Alice ,alice@example.com,HN,OPS,requestor;Buyer,M1\n" +
		"\n" +
		"M1,Bob,bob@example.com,HN,OPS,DEPARTMENT_HEAD|BRANCH_MANAGER,\n"

	rows, err := parseEmployeesCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "E1", rows[0].Code)
	assert.Equal(t, "Alice", rows[0].FullName)
	assert.Equal(t, []string{"REQUESTOR", "BUYER"}, rows[0].Roles)
	assert.Equal(t, "M1", rows[0].DirectManagerCode)
	assert.Empty(t, rows[0].JobTitle)

	assert.Equal(t, []string{"DEPARTMENT_HEAD", "BRANCH_MANAGER"}, rows[1].Roles)
	assert.Empty(t, rows[1].DirectManagerCode)
}

func TestParseEmployeesCSV_HeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "empty file"},
		{"missing column", "employeeCode,fullName,email,branchCode\n", `missing column "departmentCode"`},
		{"unknown column", "employeeCode,salary\n", `unknown column "salary"`},
		{"duplicate column", "email,EMAIL\n", `duplicate column "EMAIL"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseEmployeesCSV(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseBranchesCSV(t *testing.T) {
	in := "code,name,managerCode\nHN,Ha Noi,BM1\nHCM,Ho Chi Minh,\n"

	branches, err := parseBranchesCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, branches, 2)
	require.NotNil(t, branches[0].ManagerCode)
	assert.Equal(t, "BM1", *branches[0].ManagerCode)
	assert.Nil(t, branches[1].ManagerCode)

	_, err = parseBranchesCSV(strings.NewReader("code,name\n,Nowhere\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestSplitRoles(t *testing.T) {
	assert.Empty(t, splitRoles(""))
	assert.Equal(t, []string{"BGD"}, splitRoles(" bgd ;;"))
}
