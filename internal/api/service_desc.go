package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "argo.insight.v1.InsightEngine"

// InsightEngineServer is the gRPC surface. Payloads are google.protobuf.Struct
// documents carrying the same JSON shapes as the HTTP API.
type InsightEngineServer interface {
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IngestMeasurements(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAnomalies(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListQueryHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SemanticSearch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	HealthCheck(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedInsightEngineServer can be embedded to satisfy
// InsightEngineServer with Unimplemented responses.
type UnimplementedInsightEngineServer struct{}

func (UnimplementedInsightEngineServer) Query(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Query not implemented")
}

func (UnimplementedInsightEngineServer) IngestMeasurements(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method IngestMeasurements not implemented")
}

func (UnimplementedInsightEngineServer) ListAnomalies(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListAnomalies not implemented")
}

func (UnimplementedInsightEngineServer) ListQueryHistory(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListQueryHistory not implemented")
}

func (UnimplementedInsightEngineServer) SemanticSearch(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method SemanticSearch not implemented")
}

func (UnimplementedInsightEngineServer) HealthCheck(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method HealthCheck not implemented")
}

type structCall func(InsightEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call structCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(InsightEngineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(InsightEngineServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var insightEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InsightEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Query", InsightEngineServer.Query),
		unaryMethod("IngestMeasurements", InsightEngineServer.IngestMeasurements),
		unaryMethod("ListAnomalies", InsightEngineServer.ListAnomalies),
		unaryMethod("ListQueryHistory", InsightEngineServer.ListQueryHistory),
		unaryMethod("SemanticSearch", InsightEngineServer.SemanticSearch),
		unaryMethod("HealthCheck", InsightEngineServer.HealthCheck),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "argo/insight/v1/insight_engine.proto",
}

// RegisterInsightEngineServer registers srv with s.
func RegisterInsightEngineServer(s grpc.ServiceRegistrar, srv InsightEngineServer) {
	s.RegisterService(&insightEngineServiceDesc, srv)
}

// FullMethod returns the invocation path of an InsightEngine method.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}
