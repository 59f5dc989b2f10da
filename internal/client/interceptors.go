package client

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Credentials identify the caller of the approval engine. Token wins; the
// employee headers are only honoured by servers running in dev mode.
type Credentials struct {
	Token        string
	EmployeeCode string
	Roles        []string
}

func (c Credentials) pairs() []string {
	var kv []string
	if c.Token != "" {
		kv = append(kv, "authorization", "Bearer "+c.Token)
	}
	if c.EmployeeCode != "" {
		kv = append(kv, "x-employee-code", c.EmployeeCode)
	}
	if len(c.Roles) > 0 {
		kv = append(kv, "x-employee-roles", strings.Join(c.Roles, ","))
	}
	return kv
}

// withCredentials is a gRPC unary client interceptor that attaches the
// caller's credentials to every outgoing call. Incoming metadata is forwarded
// first so a service acting on behalf of a user keeps the user's token.
func withCredentials(creds Credentials) grpc.UnaryClientInterceptor {
	kv := creds.pairs()
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			ctx = metadata.NewOutgoingContext(ctx, md)
		}
		if len(kv) > 0 {
			ctx = metadata.AppendToOutgoingContext(ctx, kv...)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
