package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "faultsim.v1.FaultSim"

// RPC method names.
const (
	MethodListTemplates        = "ListTemplates"
	MethodGetTemplate          = "GetTemplate"
	MethodUpsertTemplate       = "UpsertTemplate"
	MethodDeleteTemplate       = "DeleteTemplate"
	MethodInjectFaults         = "InjectFaults"
	MethodScheduleBatch        = "ScheduleBatch"
	MethodListInjectionsByRun  = "ListInjectionsByRun"
	MethodListActiveInjections = "ListActiveInjections"
	MethodClearRun             = "ClearRun"
	MethodQuerySeries          = "QuerySeries"
	MethodGetFrame             = "GetFrame"
	MethodListAlarms           = "ListAlarms"
	MethodListRuns             = "ListRuns"
	MethodSetTelemetryMode     = "SetTelemetryMode"
	MethodTuneGenerator        = "TuneGenerator"
	MethodHealthCheck          = "HealthCheck"
)

// FaultSimServer is the server API for the FaultSim service. Requests and
// responses are JSON-shaped google.protobuf.Struct messages.
type FaultSimServer interface {
	ListTemplates(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTemplate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpsertTemplate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteTemplate(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	InjectFaults(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ScheduleBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListInjectionsByRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListActiveInjections(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	QuerySeries(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetFrame(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAlarms(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetTelemetryMode(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	TuneGenerator(context.Context, *structpb.Struct) (*structpb.Struct, error)
	HealthCheck(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv FaultSimServer, ctx context.Context, in *structpb.Struct) (any, error)

func method(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(FaultSimServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(FaultSimServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// FaultSimServiceDesc describes the FaultSim service for grpc.Server.RegisterService.
var FaultSimServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FaultSimServer)(nil),
	Methods: []grpc.MethodDesc{
		method(MethodListTemplates, func(s FaultSimServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.ListTemplates(ctx, in)
		}),
		method(MethodGetTemplate, func(s FaultSimServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.GetTemplate(ctx, in)
		}),
		method(MethodUpsertTemplate, func(s FaultSimServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.UpsertTemplate(ctx, in)
		}),
		method(MethodDeleteTemplate, func(s FaultSimServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.DeleteTemplate(ctx, in)
		}),
		method(MethodInjectFaults, func(s FaultSimServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.InjectFaults(ctx, in)
		}),
		method(MethodScheduleBatch, func(s FaultSimServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.ScheduleBatch(ctx, in)
		}),
		method(MethodListInjectionsByRun, func(s FaultSimServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.ListInjectionsByRun(ctx, in)
		}),
		method(MethodListActiveInjections, func(s FaultSimServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.ListActiveInjections(ctx, in)
		}),
		method(MethodClearRun, func(s FaultSimServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.ClearRun(ctx, in)
		}),
		method(MethodQuerySeries, func(s FaultSimServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.QuerySeries(ctx, in)
		}),
		method(MethodGetFrame, func(s FaultSimServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.GetFrame(ctx, in)
		}),
		method(MethodListAlarms, func(s FaultSimServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.ListAlarms(ctx, in)
		}),
		method(MethodListRuns, func(s FaultSimServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.ListRuns(ctx, in)
		}),
		method(MethodSetTelemetryMode, func(s FaultSimServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.SetTelemetryMode(ctx, in)
		}),
		method(MethodTuneGenerator, func(s FaultSimServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.TuneGenerator(ctx, in)
		}),
		method(MethodHealthCheck, func(s FaultSimServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.HealthCheck(ctx, in)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "faultsim/v1/faultsim.proto",
}

// RegisterFaultSimServer registers srv on s.
func RegisterFaultSimServer(s grpc.ServiceRegistrar, srv FaultSimServer) {
	s.RegisterService(&FaultSimServiceDesc, srv)
}

// Client invokes FaultSim methods over an established connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Call invokes method with a JSON-shaped request and returns the decoded response.
// Methods that return Empty yield an empty map.
func (c *Client) Call(ctx context.Context, method string, req map[string]any, opts ...grpc.CallOption) (map[string]any, error) {
	if req == nil {
		req = map[string]any{}
	}
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	fullMethod := "/" + ServiceName + "/" + method
	if method == MethodDeleteTemplate || method == MethodSetTelemetryMode {
		if err := c.conn.Invoke(ctx, fullMethod, in, new(emptypb.Empty), opts...); err != nil {
			return nil, err
		}
		return map[string]any{}, nil
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
