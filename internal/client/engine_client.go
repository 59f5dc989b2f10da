package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	pb "github.com/pesio-ai/be-pr-approvals/internal/proto/approvalsv1"
)

// EngineGRPCClient calls the ApprovalEngine gRPC service.
type EngineGRPCClient struct {
	conn *grpc.ClientConn
}

// NewEngineGRPCClient creates a client for addr. Extra options are appended
// after the defaults, so tests can swap the dialer.
func NewEngineGRPCClient(addr string, creds Credentials, opts ...grpc.DialOption) (*EngineGRPCClient, error) {
	dial := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(withCredentials(creds)),
	}, opts...)
	conn, err := grpc.NewClient(addr, dial...)
	if err != nil {
		return nil, err
	}
	return &EngineGRPCClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *EngineGRPCClient) Close() error {
	return c.conn.Close()
}

// GetRequest fetches one purchase request.
func (c *EngineGRPCClient) GetRequest(ctx context.Context, id string) (*pb.PurchaseRequest, error) {
	out := &pb.PurchaseRequest{}
	if err := c.invoke(ctx, pb.MethodGetRequest, pb.GetRequestRequest{ID: id}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitRequest submits a draft or returned purchase request.
func (c *EngineGRPCClient) SubmitRequest(ctx context.Context, req pb.SubmitRequestRequest) (*pb.PurchaseRequest, error) {
	out := &pb.PurchaseRequest{}
	if err := c.invoke(ctx, pb.MethodSubmitRequest, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyDecision applies a decision to the current stage.
func (c *EngineGRPCClient) ApplyDecision(ctx context.Context, req pb.ApplyDecisionRequest) (*pb.PurchaseRequest, error) {
	out := &pb.PurchaseRequest{}
	if err := c.invoke(ctx, pb.MethodApplyDecision, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRule reads a branch rule.
func (c *EngineGRPCClient) GetRule(ctx context.Context, branchCode string) (*pb.Rule, error) {
	out := &pb.Rule{}
	if err := c.invoke(ctx, pb.MethodGetRule, pb.GetRuleRequest{BranchCode: branchCode}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetRule replaces a branch rule.
func (c *EngineGRPCClient) SetRule(ctx context.Context, req pb.SetRuleRequest) (*pb.Rule, error) {
	out := &pb.Rule{}
	if err := c.invoke(ctx, pb.MethodSetRule, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveHierarchy fetches the hierarchy snapshot; an empty branch returns all.
func (c *EngineGRPCClient) ResolveHierarchy(ctx context.Context, branchCode string) (*pb.Hierarchy, error) {
	out := &pb.Hierarchy{}
	if err := c.invoke(ctx, pb.MethodResolveHierarchy, pb.ResolveHierarchyRequest{BranchCode: branchCode}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ImportEmployees sends one employee batch.
func (c *EngineGRPCClient) ImportEmployees(ctx context.Context, req pb.ImportEmployeesRequest) (*pb.ImportEmployeesResponse, error) {
	out := &pb.ImportEmployeesResponse{}
	if err := c.invoke(ctx, pb.MethodImportEmployees, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertBranch creates or replaces a branch.
func (c *EngineGRPCClient) UpsertBranch(ctx context.Context, req pb.UpsertBranchRequest) (*pb.Branch, error) {
	out := &pb.Branch{}
	if err := c.invoke(ctx, pb.MethodUpsertBranch, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *EngineGRPCClient) invoke(ctx context.Context, method string, req, out interface{}) error {
	in, err := pb.Encode(req)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, pb.FullMethod(method), in, resp); err != nil {
		return err
	}
	return pb.Decode(resp, out)
}
