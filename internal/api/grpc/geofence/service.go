package geofence

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "geofencer.v1.GeofenceService"

// Full method names of the GeofenceService RPCs.
const (
	MonitorRegionFullMethodName   = "/" + ServiceName + "/MonitorRegion"
	UnmonitorRegionFullMethodName = "/" + ServiceName + "/UnmonitorRegion"
	GetStateFullMethodName        = "/" + ServiceName + "/GetState"
	RetryFullMethodName           = "/" + ServiceName + "/Retry"
	ReportFixFullMethodName       = "/" + ServiceName + "/ReportFix"
)

// GeofenceServiceServer is the server API for GeofenceService.
type GeofenceServiceServer interface {
	// MonitorRegion registers a region and returns its snapshot.
	MonitorRegion(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// UnmonitorRegion removes a region by id.
	UnmonitorRegion(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error)
	// GetState returns the scheduler state and every region snapshot.
	GetState(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	// Retry leaves the Failed state by reloading.
	Retry(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error)
	// ReportFix injects a location fix into the simulated provider.
	ReportFix(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
}

// GeofenceService_ServiceDesc describes GeofenceService for grpc.ServiceRegistrar.
//
//nolint:gochecknoglobals,revive,stylecheck // Mirrors generated descriptor naming.
var GeofenceService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GeofenceServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "MonitorRegion",
			Handler: unaryHandler(MonitorRegionFullMethodName, newStruct,
				func(srv GeofenceServiceServer, ctx context.Context, req *structpb.Struct) (proto.Message, error) {
					return srv.MonitorRegion(ctx, req)
				}),
		},
		{
			MethodName: "UnmonitorRegion",
			Handler: unaryHandler(UnmonitorRegionFullMethodName, newStringValue,
				func(srv GeofenceServiceServer, ctx context.Context, req *wrapperspb.StringValue) (proto.Message, error) {
					return srv.UnmonitorRegion(ctx, req)
				}),
		},
		{
			MethodName: "GetState",
			Handler: unaryHandler(GetStateFullMethodName, newEmpty,
				func(srv GeofenceServiceServer, ctx context.Context, req *emptypb.Empty) (proto.Message, error) {
					return srv.GetState(ctx, req)
				}),
		},
		{
			MethodName: "Retry",
			Handler: unaryHandler(RetryFullMethodName, newEmpty,
				func(srv GeofenceServiceServer, ctx context.Context, req *emptypb.Empty) (proto.Message, error) {
					return srv.Retry(ctx, req)
				}),
		},
		{
			MethodName: "ReportFix",
			Handler: unaryHandler(ReportFixFullMethodName, newStruct,
				func(srv GeofenceServiceServer, ctx context.Context, req *structpb.Struct) (proto.Message, error) {
					return srv.ReportFix(ctx, req)
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "geofencer/v1/geofence.proto",
}

// RegisterGeofenceServiceServer registers srv on s.
func RegisterGeofenceServiceServer(s grpc.ServiceRegistrar, srv GeofenceServiceServer) {
	s.RegisterService(&GeofenceService_ServiceDesc, srv)
}

// GeofenceServiceClient is the client API for GeofenceService.
type GeofenceServiceClient struct {
	// cc carries the calls.
	cc grpc.ClientConnInterface
}

// NewGeofenceServiceClient wraps a client connection.
func NewGeofenceServiceClient(cc grpc.ClientConnInterface) *GeofenceServiceClient {
	return &GeofenceServiceClient{cc: cc}
}

// MonitorRegion calls GeofenceService.MonitorRegion.
func (c *GeofenceServiceClient) MonitorRegion(
	ctx context.Context,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MonitorRegionFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// UnmonitorRegion calls GeofenceService.UnmonitorRegion.
func (c *GeofenceServiceClient) UnmonitorRegion(
	ctx context.Context,
	in *wrapperspb.StringValue,
	opts ...grpc.CallOption,
) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, UnmonitorRegionFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// GetState calls GeofenceService.GetState.
func (c *GeofenceServiceClient) GetState(
	ctx context.Context,
	in *emptypb.Empty,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetStateFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// Retry calls GeofenceService.Retry.
func (c *GeofenceServiceClient) Retry(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, RetryFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// ReportFix calls GeofenceService.ReportFix.
func (c *GeofenceServiceClient) ReportFix(
	ctx context.Context,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, ReportFixFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func newStruct() *structpb.Struct              { return new(structpb.Struct) }
func newStringValue() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }
func newEmpty() *emptypb.Empty                { return new(emptypb.Empty) }

// unaryHandler adapts a typed call into a grpc.MethodHandler that decodes the
// request and honours the server interceptor chain.
func unaryHandler[T proto.Message](
	fullMethod string,
	newRequest func() T,
	call func(srv GeofenceServiceServer, ctx context.Context, req T) (proto.Message, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newRequest()
		if err := dec(in); err != nil {
			return nil, err
		}

		server, _ := srv.(GeofenceServiceServer)

		if interceptor == nil {
			return call(server, ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}

		handler := func(ctx context.Context, req any) (any, error) {
			typed, _ := req.(T)

			return call(server, ctx, typed)
		}

		return interceptor(ctx, in, info, handler)
	}
}
