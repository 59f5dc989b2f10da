package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pb "github.com/pesio-ai/be-pr-approvals/internal/proto/approvalsv1"
	"github.com/pesio-ai/be-pr-approvals/internal/service"
)

func newDraft(t *testing.T, s *testServer, as string) *pb.PurchaseRequest {
	t.Helper()
	var pr pb.PurchaseRequest
	rec := s.do(http.MethodPost, "/api/v1/purchase-requests", as, pb.CreateRequest{
		Title: "Laptops", Category: "IT", Amount: "1250.50", Currency: "vnd",
	}, &pr)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return &pr
}

func TestHTTP_FullLifecycle(t *testing.T) {
	s := newTestServer(t)
	draft := newDraft(t, s, "E")
	assert.Equal(t, "DRAFT", draft.Status)
	assert.Equal(t, "1250.5", draft.Amount)
	assert.Equal(t, "VND", draft.Currency)

	base := "/api/v1/purchase-requests/" + draft.ID
	var pr pb.PurchaseRequest

	rec := s.do(http.MethodPost, base+"/submit", "E", nil, &pr)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "MANAGER_PENDING", pr.Status)
	require.NotNil(t, pr.Plan)
	require.Len(t, pr.Plan.Stages, 4)
	assert.True(t, pr.Plan.Rule.IsDefault)

	var pending pb.ListResponse
	s.do(http.MethodGet, "/api/v1/approvals/pending", "M1", nil, &pending)
	require.Equal(t, 1, pending.Total)
	assert.Equal(t, draft.ID, pending.PurchaseRequests[0].ID)

	zero := 0
	rec = s.do(http.MethodPost, base+"/decisions", "M1", pb.ApplyDecisionRequest{Decision: "approve", ExpectedStage: &zero}, &pr)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "BRANCH_MANAGER_PENDING", pr.Status)

	rec = s.do(http.MethodPost, base+"/decisions", "BM1", pb.ApplyDecisionRequest{Decision: "APPROVE"}, &pr)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "BUYER_LEADER_PENDING", pr.Status)

	rec = s.do(http.MethodPost, base+"/decisions", "BL", pb.ApplyDecisionRequest{Decision: "APPROVE", Assignee: "B1"}, &pr)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "BUYER_PENDING", pr.Status)

	var assignment pb.Assignment
	rec = s.do(http.MethodGet, base+"/assignment", "BL", nil, &assignment)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "B1", assignment.BuyerCode)

	rec = s.do(http.MethodPost, base+"/decisions", "B1", pb.ApplyDecisionRequest{Decision: "APPROVE"}, &pr)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PURCHASED", pr.Status)

	var history pb.HistoryResponse
	rec = s.do(http.MethodGet, base+"/history", "E", nil, &history)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, history.Entries, 5)
	assert.Equal(t, "SUBMIT", history.Entries[0].Decision)
	assert.Equal(t, "PURCHASED", history.Entries[4].StatusAfter)
	assert.Len(t, history.Plans, 1)
}

func TestHTTP_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	draft := newDraft(t, s, "E")
	base := "/api/v1/purchase-requests/" + draft.ID

	tests := []struct {
		name     string
		method   string
		path     string
		as       string
		body     interface{}
		wantHTTP int
		wantCode string
	}{
		{"no credentials", http.MethodGet, base, "", nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown id", http.MethodGet, "/api/v1/purchase-requests/nope", "E", nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad amount", http.MethodPost, "/api/v1/purchase-requests", "E", pb.CreateRequest{Title: "x", Category: "y", Amount: "abc", Currency: "VND"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown field", http.MethodPost, "/api/v1/purchase-requests", "E", map[string]string{"bogus": "1"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown decision", http.MethodPost, base + "/decisions", "M1", pb.ApplyDecisionRequest{Decision: "MAYBE"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"decision on draft", http.MethodPost, base + "/decisions", "M1", pb.ApplyDecisionRequest{Decision: "APPROVE"}, http.StatusConflict, "CONFLICT"},
		{"submit by stranger", http.MethodPost, base + "/submit", "M1", nil, http.StatusForbidden, "FORBIDDEN"},
		{"rule by non admin", http.MethodPut, "/api/v1/branches/HN/rule", "E", pb.SetRuleRequest{NeedBranchManagerApproval: false}, http.StatusForbidden, "FORBIDDEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.as, tt.body, nil)
			assert.Equal(t, tt.wantHTTP, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, errorCode(t, rec))
		})
	}
}

func TestHTTP_RoutingFailureIsUnprocessable(t *testing.T) {
	s := newTestServer(t)
	draft := newDraft(t, s, "ORPHAN")
	base := "/api/v1/purchase-requests/" + draft.ID

	rec := s.do(http.MethodPost, base+"/submit", "ORPHAN", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "ROUTING_FAILED", errorCode(t, rec))

	var pr pb.PurchaseRequest
	rec = s.do(http.MethodPost, base+"/submit", "ADMIN", pb.SubmitRequestRequest{ManualManagerCode: "M1"}, &pr)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "M1", pr.Plan.Stages[0].ResponsibleCode)
	assert.True(t, pr.Plan.Stages[0].ManuallyAssigned)
}

func TestHTTP_StaleStageConflict(t *testing.T) {
	s := newTestServer(t)
	draft := newDraft(t, s, "E")
	base := "/api/v1/purchase-requests/" + draft.ID
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, base+"/submit", "E", nil, nil).Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, base+"/decisions", "M1", pb.ApplyDecisionRequest{Decision: "APPROVE"}, nil).Code)

	zero := 0
	rec := s.do(http.MethodPost, base+"/decisions", "BM1", pb.ApplyDecisionRequest{Decision: "APPROVE", ExpectedStage: &zero}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHTTP_RulesAndBranches(t *testing.T) {
	s := newTestServer(t)

	var rule pb.Rule
	rec := s.do(http.MethodGet, "/api/v1/branches/HN/rule", "E", nil, &rule)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, rule.NeedBranchManagerApproval)
	assert.True(t, rule.IsDefault)

	rec = s.do(http.MethodPut, "/api/v1/branches/HN/rule", "ADMIN", pb.SetRuleRequest{NeedBranchManagerApproval: false, Note: "small"}, &rule)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, rule.NeedBranchManagerApproval)
	assert.Equal(t, "ADMIN", rule.UpdatedBy)

	var rules pb.RulesResponse
	s.do(http.MethodGet, "/api/v1/rules", "E", nil, &rules)
	require.Len(t, rules.Rules, 1)

	// the new rule applies to the next submission
	draft := newDraft(t, s, "E")
	var pr pb.PurchaseRequest
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/purchase-requests/"+draft.ID+"/submit", "E", nil, &pr).Code)
	assert.Len(t, pr.Plan.Stages, 3)

	manager := "BM1"
	var branch pb.Branch
	rec = s.do(http.MethodPut, "/api/v1/branches/HN", "ADMIN", pb.UpsertBranchRequest{Name: "Ha Noi", ManagerCode: &manager}, &branch)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Ha Noi", branch.Name)
}

func TestHTTP_HierarchyAndImport(t *testing.T) {
	s := newTestServer(t)

	var result service.ImportResult
	rec := s.do(http.MethodPost, "/api/v1/organization/employees/import", "ADMIN", pb.ImportEmployeesRequest{
		Rows: []service.EmployeeRow{
			{Code: "N1", FullName: "New One", Email: "n1@example.com", BranchCode: "HN", DepartmentCode: "OPS", DirectManagerCode: "M1"},
			{Code: "N2", FullName: "New Two", Email: "broken", BranchCode: "HN", DepartmentCode: "OPS"},
		},
	}, &result)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, result.Imported)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, "N2", result.Rejected[0].Code)
	s.holder.Wait()

	var h pb.Hierarchy
	rec = s.do(http.MethodGet, "/api/v1/organization/hierarchy?branch=HN", "E", nil, &h)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.Branches, 1)
	assert.Equal(t, "BM1", h.Branches[0].ManagerCode)
	assert.Equal(t, "RESOLVED", h.Branches[0].ManagerStatus)
	assert.Equal(t, 8, h.Employees)

	var orphaned bool
	for _, a := range h.Anomalies {
		if a.Kind == "ORPHANED_MANAGER" && a.EmployeeCode == "ORPHAN" {
			orphaned = true
		}
	}
	assert.True(t, orphaned)
}
