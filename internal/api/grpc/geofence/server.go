package geofence

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	domain "github.com/oshokin/geofencer/internal/domain/geofence"
	"github.com/oshokin/geofencer/internal/logger"
	"github.com/oshokin/geofencer/internal/service/registry"
	"github.com/oshokin/geofencer/internal/service/scheduler"
	"github.com/oshokin/geofencer/internal/wire"
)

// Service abstracts the business operations the transport layer depends on.
type Service interface {
	MonitorRegion(ctx context.Context, id string, center domain.Coordinate, radius float64) (*domain.Region, error)
	UnmonitorRegion(ctx context.Context, id string) error
	CurrentState() scheduler.State
	Generation() uint64
	Regions() []domain.Snapshot
	Retry(ctx context.Context)
}

// FixSink accepts location fixes reported by clients.
type FixSink interface {
	Push(fix *domain.Fix)
}

// Server implements the GeofenceService gRPC API.
type Server struct {
	// service provides the business logic for geofence operations.
	service Service
	// fixes receives reported fixes; ReportFix is unimplemented when nil.
	fixes FixSink
	// now stamps fixes reported without a timestamp.
	now func() time.Time
}

var _ GeofenceServiceServer = (*Server)(nil)

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithFixSink enables ReportFix.
func WithFixSink(sink FixSink) ServerOption {
	return func(s *Server) {
		s.fixes = sink
	}
}

// NewServer wires the provided service implementation into a gRPC handler.
func NewServer(service Service, opts ...ServerOption) *Server {
	s := &Server{
		service: service,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// MonitorRegion registers a new region.
func (s *Server) MonitorRegion(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	spec, err := wire.RegionSpecFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	region, err := s.service.MonitorRegion(ctx, spec.ID, spec.Center, spec.Radius)
	if err != nil {
		return nil, toStatus(ctx, "monitor region", err)
	}

	logger.InfoKV(ctx, "Region monitored", "region_id", region.ID(), "radius", region.Radius(), "actor", actorField(ctx))

	return wire.SnapshotToStruct(region.Snapshot()), nil
}

// UnmonitorRegion removes a region; unknown ids are accepted.
func (s *Server) UnmonitorRegion(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "region id is required")
	}

	if err := s.service.UnmonitorRegion(ctx, req.GetValue()); err != nil {
		return nil, toStatus(ctx, "unmonitor region", err)
	}

	logger.InfoKV(ctx, "Region unmonitored", "region_id", req.GetValue(), "actor", actorField(ctx))

	return new(emptypb.Empty), nil
}

// GetState returns the scheduler state and every region.
func (s *Server) GetState(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return wire.StateToStruct(
		s.service.CurrentState().String(),
		s.service.Generation(),
		s.service.Regions(),
	), nil
}

// Retry requests a reload of the processing cycle.
func (s *Server) Retry(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	logger.InfoKV(ctx, "Retry requested", "actor", actorField(ctx))

	s.service.Retry(ctx)

	return new(emptypb.Empty), nil
}

// ReportFix pushes a client-provided fix into the positioning provider.
func (s *Server) ReportFix(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	if s.fixes == nil {
		return nil, status.Error(codes.Unimplemented, "positioning provider does not accept fixes")
	}

	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	fix, err := wire.FixFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if fix.Timestamp.IsZero() {
		fix.Timestamp = s.now()
	}

	s.fixes.Push(fix)

	logger.DebugKV(ctx, "Fix reported", "coordinate", fix.Coordinate.String())

	return new(emptypb.Empty), nil
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(ctx context.Context, operation string, err error) error {
	switch {
	case errors.Is(err, registry.ErrDuplicateRegion):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrInvalidRadius), errors.Is(err, domain.ErrInvalidCoordinate):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		logger.ErrorKV(ctx, "Request failed", "operation", operation, "error", err)

		return status.Errorf(codes.Internal, "unable to %s", operation)
	}
}
