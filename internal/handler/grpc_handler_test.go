package handler

import (
	"context"
	"net"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/pesio-ai/be-pr-approvals/internal/client"
	"github.com/pesio-ai/be-pr-approvals/internal/errors"
	"github.com/pesio-ai/be-pr-approvals/internal/logger"
	pb "github.com/pesio-ai/be-pr-approvals/internal/proto/approvalsv1"
	"github.com/pesio-ai/be-pr-approvals/internal/repository"
	"github.com/pesio-ai/be-pr-approvals/internal/service"
)

// startGRPC serves the engine over an in-memory listener and returns a
// client factory bound to it.
func startGRPC(t *testing.T, s *testServer) func(as string) *client.EngineGRPCClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(s.auth.UnaryServerInterceptor()))
	RegisterApprovalEngineServer(srv, NewGRPCHandler(s.requests, s.rules, s.org, logger.Nop()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return func(as string) *client.EngineGRPCClient {
		creds := client.Credentials{}
		if as != "" {
			e, err := s.employees.GetByCode(context.Background(), as)
			require.NoError(t, err)
			creds.EmployeeCode = as
			for _, r := range e.Roles {
				creds.Roles = append(creds.Roles, string(r))
			}
		}
		c, err := client.NewEngineGRPCClient("passthrough:///bufnet", creds,
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		)
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		return c
	}
}

func TestGRPC_SubmitAndDecide(t *testing.T) {
	s := newTestServer(t)
	dial := startGRPC(t, s)
	ctx := context.Background()

	draft, err := s.requests.Create(ctx, repository.Actor{Code: "E"}, service.PurchaseRequestInput{
		Title: "Chairs", Category: "Furniture", Amount: decimal.NewFromInt(300), Currency: "VND",
	})
	require.NoError(t, err)

	pr, err := dial("E").SubmitRequest(ctx, pb.SubmitRequestRequest{ID: draft.ID})
	require.NoError(t, err)
	assert.Equal(t, "MANAGER_PENDING", pr.Status)
	assert.Equal(t, "MANAGER", pr.CurrentStageKind)
	require.NotNil(t, pr.Plan)
	assert.Equal(t, "M1", pr.Plan.Stages[0].ResponsibleCode)

	_, err = dial("BM1").ApplyDecision(ctx, pb.ApplyDecisionRequest{ID: draft.ID, Decision: "APPROVE"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	pr, err = dial("M1").ApplyDecision(ctx, pb.ApplyDecisionRequest{ID: draft.ID, Decision: "RETURN", Reason: "add a quote"})
	require.NoError(t, err)
	assert.Equal(t, "MANAGER_RETURNED", pr.Status)
	assert.Equal(t, int64(3), pr.Version)

	got, err := dial("E").GetRequest(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, pr.Status, got.Status)
	assert.Equal(t, "300", got.Amount)
}

func TestGRPC_RulesHierarchyAndImport(t *testing.T) {
	s := newTestServer(t)
	dial := startGRPC(t, s)
	ctx := context.Background()

	rule, err := dial("E").GetRule(ctx, "HN")
	require.NoError(t, err)
	assert.True(t, rule.IsDefault)

	_, err = dial("E").SetRule(ctx, pb.SetRuleRequest{BranchCode: "HN"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	rule, err = dial("ADMIN").SetRule(ctx, pb.SetRuleRequest{BranchCode: "HN", NeedBranchManagerApproval: false, Note: "pilot"})
	require.NoError(t, err)
	assert.False(t, rule.NeedBranchManagerApproval)
	assert.Equal(t, "pilot", rule.Note)

	result, err := dial("ADMIN").ImportEmployees(ctx, pb.ImportEmployeesRequest{
		Rows: []service.EmployeeRow{
			{Code: "M2", FullName: "M2", Email: "m2@example.com", BranchCode: "HN", DepartmentCode: "OPS", Roles: []string{"DEPARTMENT_HEAD"}, DirectManagerCode: "BM1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	s.holder.Wait()

	h, err := dial("E").ResolveHierarchy(ctx, "HN")
	require.NoError(t, err)
	require.Len(t, h.Branches, 1)
	assert.Equal(t, "BM1", h.Branches[0].ManagerCode)
	assert.Len(t, h.Branches[0].Roots, 3) // BM1, ADMIN and ORPHAN
}

func TestGRPC_Unauthenticated(t *testing.T) {
	s := newTestServer(t)
	dial := startGRPC(t, s)

	_, err := dial("").GetRule(context.Background(), "HN")
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestMapErrorToGRPC(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{errors.NotFound("purchase_request", "x"), codes.NotFound},
		{errors.InvalidInput("amount", "bad"), codes.InvalidArgument},
		{repository.ErrVersionConflict, codes.Aborted},
		{service.ErrNoResolvableManager, codes.FailedPrecondition},
		{errors.New(errors.ErrCodeForbidden, "no"), codes.PermissionDenied},
		{errors.New(errors.ErrCodeUnauthorized, "who"), codes.Unauthenticated},
		{context.DeadlineExceeded, codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(mapErrorToGRPC(tt.err)), tt.err.Error())
	}
	assert.NoError(t, mapErrorToGRPC(nil))
}
