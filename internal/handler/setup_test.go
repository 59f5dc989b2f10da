package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-pr-approvals/internal/auth"
	"github.com/pesio-ai/be-pr-approvals/internal/hierarchy"
	"github.com/pesio-ai/be-pr-approvals/internal/logger"
	"github.com/pesio-ai/be-pr-approvals/internal/middleware"
	"github.com/pesio-ai/be-pr-approvals/internal/repository"
	"github.com/pesio-ai/be-pr-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-pr-approvals/internal/service"
)

type testServer struct {
	t         *testing.T
	employees *memory.EmployeeRepository
	holder    *hierarchy.Holder
	requests  *service.PurchaseRequestService
	rules     *service.RuleService
	org       *service.OrganizationService
	auth      *auth.Authenticator
	http      http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	log := logger.Nop()

	employees := memory.NewEmployeeRepository()
	branches := memory.NewBranchRepository()
	prs := memory.NewPurchaseRequestRepository()
	require.NoError(t, employees.UpsertMany(ctx, organization()))

	holder := hierarchy.NewHolder(employees, branches, log)
	_, err := holder.Rebuild(ctx)
	require.NoError(t, err)

	rules := service.NewRuleService(memory.NewRulesRepository(), log)
	router := service.NewRouter(holder, rules, log)
	requests := service.NewPurchaseRequestService(prs, prs, prs, prs, employees, holder, router, service.NewStateMachine(), nil, log)
	org := service.NewOrganizationService(employees, branches, holder, log)

	s := &testServer{
		t:         t,
		employees: employees,
		holder:    holder,
		requests:  requests,
		rules:     rules,
		org:       org,
		auth:      auth.NewAuthenticator("", true),
	}

	r := mux.NewRouter()
	NewHTTPHandler(requests, rules, org, log).Register(r)
	s.http = middleware.Authenticate(s.auth)(r)
	return s
}

func employee(code, manager string, roles ...repository.Role) *repository.Employee {
	e := &repository.Employee{
		Code:           code,
		FullName:       "Employee " + code,
		Email:          strings.ToLower(code) + "@example.com",
		BranchCode:     "HN",
		DepartmentCode: "OPS",
		Roles:          roles,
		Active:         true,
	}
	if manager != "" {
		e.DirectManagerCode = &manager
	}
	return e
}

// organization is branch HN: E reports to M1, M1 to BM1, BL leads B1 and
// ORPHAN reports to someone who does not exist.
func organization() []*repository.Employee {
	return []*repository.Employee{
		employee("BM1", "", repository.RoleBranchManager),
		employee("M1", "BM1", repository.RoleDepartmentHead),
		employee("E", "M1", repository.RoleRequestor),
		employee("ORPHAN", "GHOST", repository.RoleRequestor),
		employee("BL", "BM1", repository.RoleBuyerLeader),
		employee("B1", "BL", repository.RoleBuyer),
		employee("ADMIN", "", repository.RoleBGD),
	}
}

// do sends a request as the given employee (dev headers) and decodes the
// JSON response into out when out is non-nil.
func (s *testServer) do(method, path, as string, body interface{}, out interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		e, err := s.employees.GetByCode(context.Background(), as)
		require.NoError(s.t, err)
		roles := make([]string, len(e.Roles))
		for i, r := range e.Roles {
			roles[i] = string(r)
		}
		req.Header.Set(auth.HeaderEmployeeCode, as)
		req.Header.Set(auth.HeaderEmployeeRoles, strings.Join(roles, ","))
	}

	rec := httptest.NewRecorder()
	s.http.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body["code"]
}
