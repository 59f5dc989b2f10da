package approvalsv1

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "procurement.approvals.v1.ApprovalEngine"

// gRPC method names.
const (
	MethodGetRequest       = "GetRequest"
	MethodSubmitRequest    = "SubmitRequest"
	MethodApplyDecision    = "ApplyDecision"
	MethodGetRule          = "GetRule"
	MethodSetRule          = "SetRule"
	MethodResolveHierarchy = "ResolveHierarchy"
	MethodImportEmployees  = "ImportEmployees"
	MethodUpsertBranch     = "UpsertBranch"
)

// FullMethod returns "/<service>/<method>".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Encode converts a message into a protobuf Struct through its JSON form.
func Encode(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode %T: message must be a JSON object: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// Decode fills v from a protobuf Struct. A nil Struct decodes as empty.
func Decode(s *structpb.Struct, v interface{}) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
