package api

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-adapt/internal/engine"
	"github.com/miradorstack/mirador-adapt/internal/models"
)

const (
	defaultDecisionLimit = 20
	maxDecisionLimit     = 100
)

// StatusProvider is the read-only view of a running pipeline.
type StatusProvider interface {
	Statistics() engine.Statistics
	RecentDecisions(n int) []models.Decision
}

// StatusServer is the server API for the mirador.adapt.v1.Status service.
type StatusServer interface {
	GetStatistics(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	RecentDecisions(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type statusService struct {
	provider StatusProvider
}

// NewStatusService exposes provider over gRPC.
func NewStatusService(provider StatusProvider) StatusServer {
	return &statusService{provider: provider}
}

func (s *statusService) GetStatistics(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	out, err := ToProtoStruct(s.provider.Statistics())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode statistics: %v", err)
	}
	return out, nil
}

// RecentDecisions accepts an optional numeric "limit" field.
func (s *statusService) RecentDecisions(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit, err := DecisionLimit(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out, err := ToProtoStruct(map[string]any{"decisions": s.provider.RecentDecisions(limit)})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode decisions: %v", err)
	}
	return out, nil
}

// DecisionLimit reads the "limit" field, defaulting to 20 and capping at 100.
func DecisionLimit(req *structpb.Struct) (int, error) {
	if req == nil {
		return defaultDecisionLimit, nil
	}
	v, ok := req.GetFields()["limit"]
	if !ok {
		return defaultDecisionLimit, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("limit must be a number")
	}
	limit := int(n.NumberValue)
	switch {
	case limit < 1:
		return 0, fmt.Errorf("limit must be >= 1, got %d", limit)
	case limit > maxDecisionLimit:
		limit = maxDecisionLimit
	}
	return limit, nil
}

// ToProtoStruct converts v into a protobuf Struct through its JSON form, so
// json tags and text marshalers define the wire field names.
func ToProtoStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("value is not a JSON object: %w", err)
	}
	return structpb.NewStruct(fields)
}
