package handler

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-pr-approvals/internal/auth"
	"github.com/pesio-ai/be-pr-approvals/internal/errors"
	"github.com/pesio-ai/be-pr-approvals/internal/logger"
	pb "github.com/pesio-ai/be-pr-approvals/internal/proto/approvalsv1"
	"github.com/pesio-ai/be-pr-approvals/internal/service"
)

// ApprovalEngineServer is the server API of procurement.approvals.v1.ApprovalEngine.
type ApprovalEngineServer interface {
	GetRequest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitRequest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApplyDecision(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetRule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveHierarchy(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ImportEmployees(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpsertBranch(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ApprovalEngineServiceDesc describes the service for grpc.Server.RegisterService.
var ApprovalEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: pb.ServiceName,
	HandlerType: (*ApprovalEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(pb.MethodGetRequest, ApprovalEngineServer.GetRequest),
		unary(pb.MethodSubmitRequest, ApprovalEngineServer.SubmitRequest),
		unary(pb.MethodApplyDecision, ApprovalEngineServer.ApplyDecision),
		unary(pb.MethodGetRule, ApprovalEngineServer.GetRule),
		unary(pb.MethodSetRule, ApprovalEngineServer.SetRule),
		unary(pb.MethodResolveHierarchy, ApprovalEngineServer.ResolveHierarchy),
		unary(pb.MethodImportEmployees, ApprovalEngineServer.ImportEmployees),
		unary(pb.MethodUpsertBranch, ApprovalEngineServer.UpsertBranch),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "procurement/approvals/v1/approvals.proto",
}

// RegisterApprovalEngineServer registers srv on s.
func RegisterApprovalEngineServer(s grpc.ServiceRegistrar, srv ApprovalEngineServer) {
	s.RegisterService(&ApprovalEngineServiceDesc, srv)
}

func unary(method string, call func(ApprovalEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(ApprovalEngineServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: pb.FullMethod(method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(server, ctx, req.(*structpb.Struct))
			})
		},
	}
}

var _ ApprovalEngineServer = (*GRPCHandler)(nil)

// GRPCHandler implements ApprovalEngineServer
type GRPCHandler struct {
	requests *service.PurchaseRequestService
	rules    *service.RuleService
	org      *service.OrganizationService
	logger   *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(requests *service.PurchaseRequestService, rules *service.RuleService, org *service.OrganizationService, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{
		requests: requests,
		rules:    rules,
		org:      org,
		logger:   log.Component("grpc"),
	}
}

// GetRequest returns one purchase request.
func (h *GRPCHandler) GetRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req pb.GetRequestRequest
	if err := pb.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	h.logger.Info().Str("id", req.ID).Msg("gRPC GetRequest called")

	pr, err := h.requests.Get(ctx, req.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to get purchase request")
		return nil, mapErrorToGRPC(err)
	}
	return encode(pb.FromPurchaseRequest(pr))
}

// SubmitRequest routes and submits a purchase request.
func (h *GRPCHandler) SubmitRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := auth.RequireActor(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	var req pb.SubmitRequestRequest
	if err := pb.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	h.logger.Info().
		Str("id", req.ID).
		Str("submitted_by", actor.Code).
		Msg("gRPC SubmitRequest called")

	pr, err := h.requests.Submit(ctx, req.ID, actor, service.SubmitOptions{
		ManualManagerCode: strings.TrimSpace(req.ManualManagerCode),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to submit purchase request")
		return nil, mapErrorToGRPC(err)
	}
	return encode(pb.FromPurchaseRequest(pr))
}

// ApplyDecision applies one decision to the current stage.
func (h *GRPCHandler) ApplyDecision(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := auth.RequireActor(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	var req pb.ApplyDecisionRequest
	if err := pb.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	h.logger.Info().
		Str("id", req.ID).
		Str("decision", req.Decision).
		Str("acted_by", actor.Code).
		Msg("gRPC ApplyDecision called")

	decision, err := toDecision(req)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	pr, err := h.requests.Apply(ctx, req.ID, actor, decision)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to apply decision")
		return nil, mapErrorToGRPC(err)
	}
	return encode(pb.FromPurchaseRequest(pr))
}

// GetRule returns a branch rule, or the fail-safe default.
func (h *GRPCHandler) GetRule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req pb.GetRuleRequest
	if err := pb.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	h.logger.Info().Str("branch_code", req.BranchCode).Msg("gRPC GetRule called")

	rule, err := h.rules.GetRule(ctx, req.BranchCode)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return encode(pb.FromRule(rule))
}

// SetRule replaces a branch rule.
func (h *GRPCHandler) SetRule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := auth.RequireActor(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	var req pb.SetRuleRequest
	if err := pb.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	h.logger.Info().
		Str("branch_code", req.BranchCode).
		Bool("need_branch_manager_approval", req.NeedBranchManagerApproval).
		Str("updated_by", actor.Code).
		Msg("gRPC SetRule called")

	rule, err := h.rules.SetRule(ctx, req.BranchCode, req.NeedBranchManagerApproval, req.Note, actor)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to set rule")
		return nil, mapErrorToGRPC(err)
	}
	return encode(pb.FromRule(rule))
}

// ResolveHierarchy renders the current hierarchy snapshot.
func (h *GRPCHandler) ResolveHierarchy(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req pb.ResolveHierarchyRequest
	if err := pb.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	h.logger.Info().Str("branch_code", req.BranchCode).Msg("gRPC ResolveHierarchy called")

	res, err := h.org.ResolveHierarchy(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return encode(pb.FromResolution(res, strings.TrimSpace(req.BranchCode)))
}

// ImportEmployees applies an employee batch.
func (h *GRPCHandler) ImportEmployees(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := auth.RequireActor(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	var req pb.ImportEmployeesRequest
	if err := pb.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	h.logger.Info().
		Int("rows", len(req.Rows)).
		Bool("deactivate_missing", req.DeactivateMissing).
		Str("imported_by", actor.Code).
		Msg("gRPC ImportEmployees called")

	result, err := h.org.ImportEmployees(ctx, actor, req.Rows, req.DeactivateMissing)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to import employees")
		return nil, mapErrorToGRPC(err)
	}
	return encode(result)
}

// UpsertBranch creates or replaces a branch.
func (h *GRPCHandler) UpsertBranch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := auth.RequireActor(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	var req pb.UpsertBranchRequest
	if err := pb.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	h.logger.Info().Str("branch_code", req.Code).Msg("gRPC UpsertBranch called")

	b, err := h.org.UpsertBranch(ctx, actor, req.Code, req.Name, req.ManagerCode)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upsert branch")
		return nil, mapErrorToGRPC(err)
	}
	return encode(pb.FromBranch(b))
}

func encode(v interface{}) (*structpb.Struct, error) {
	s, err := pb.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	errMsg := err.Error()

	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, errMsg)
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, errMsg)
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.Unauthenticated, errMsg)
	case errors.ErrCodeForbidden:
		return status.Error(codes.PermissionDenied, errMsg)
	case errors.ErrCodeConflict:
		return status.Error(codes.Aborted, errMsg)
	case errors.ErrCodeRoutingFailed:
		return status.Error(codes.FailedPrecondition, errMsg)
	default:
		return status.Error(codes.Internal, errMsg)
	}
}
