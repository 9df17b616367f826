package geofence

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	domain "github.com/oshokin/geofencer/internal/domain/geofence"
	"github.com/oshokin/geofencer/internal/observability"
	"github.com/oshokin/geofencer/internal/service/registry"
	"github.com/oshokin/geofencer/internal/service/scheduler"
	"github.com/oshokin/geofencer/internal/wire"
)

// fakeService implements the geofence Service interface for unit testing the transport.
type fakeService struct {
	// regions is the in-memory registry.
	regions *registry.Registry
	// unmonitorErr is returned from UnmonitorRegion when set.
	unmonitorErr error
	// retries counts Retry calls.
	retries int

	mu sync.Mutex
}

func newFakeService() *fakeService {
	return &fakeService{regions: registry.New()}
}

func (f *fakeService) MonitorRegion(
	ctx context.Context,
	id string,
	center domain.Coordinate,
	radius float64,
) (*domain.Region, error) {
	region, err := domain.NewRegion(id, center, radius)
	if err != nil {
		return nil, err
	}

	if err := f.regions.Add(ctx, region); err != nil {
		return nil, err
	}

	return region, nil
}

func (f *fakeService) UnmonitorRegion(ctx context.Context, id string) error {
	if f.unmonitorErr != nil {
		return f.unmonitorErr
	}

	f.regions.Remove(ctx, id)

	return nil
}

func (f *fakeService) CurrentState() scheduler.State { return scheduler.StateProcessing }

func (f *fakeService) Generation() uint64 { return 4 }

func (f *fakeService) Regions() []domain.Snapshot {
	var out []domain.Snapshot
	for s := range f.regions.All() {
		out = append(out, s)
	}

	return out
}

func (f *fakeService) Retry(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.retries++
}

// fakeSink records pushed fixes.
type fakeSink struct {
	fixes []*domain.Fix
}

func (f *fakeSink) Push(fix *domain.Fix) { f.fixes = append(f.fixes, fix) }

func regionRequest(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()

	st, err := structpb.NewStruct(fields)
	require.NoError(t, err)

	return st
}

// TestServer_MonitorRegion_Validation ensures invalid requests return InvalidArgument errors.
func TestServer_MonitorRegion_Validation(t *testing.T) {
	t.Parallel()

	s := NewServer(newFakeService())

	_, err := s.MonitorRegion(context.Background(), nil)
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.MonitorRegion(context.Background(), regionRequest(t, map[string]any{"latitude": 1.0}))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.MonitorRegion(context.Background(), regionRequest(t, map[string]any{
		"latitude": 1.0, "longitude": 1.0, "radius": -5.0,
	}))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.MonitorRegion(context.Background(), regionRequest(t, map[string]any{
		"latitude": 100.0, "longitude": 1.0, "radius": 5.0,
	}))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

// TestServer_MonitorRegion_Duplicate maps duplicate ids to AlreadyExists.
func TestServer_MonitorRegion_Duplicate(t *testing.T) {
	t.Parallel()

	s := NewServer(newFakeService())
	request := regionRequest(t, map[string]any{"id": "home", "latitude": 1.0, "longitude": 1.0, "radius": 50.0})

	response, err := s.MonitorRegion(context.Background(), request)
	require.NoError(t, err)
	require.Equal(t, "home", response.GetFields()[wire.FieldID].GetStringValue())
	require.Equal(t, "unknown", response.GetFields()[wire.FieldProximity].GetStringValue())

	_, err = s.MonitorRegion(context.Background(), request)
	require.Equal(t, codes.AlreadyExists, status.Code(err))
}

// TestServer_UnmonitorRegion covers validation, unknown ids and internal failures.
func TestServer_UnmonitorRegion(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	s := NewServer(svc)

	_, err := s.UnmonitorRegion(context.Background(), nil)
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.UnmonitorRegion(context.Background(), wrapperspb.String("missing"))
	require.NoError(t, err)

	svc.unmonitorErr = errors.New("disk full")

	_, err = s.UnmonitorRegion(context.Background(), wrapperspb.String("missing"))
	require.Equal(t, codes.Internal, status.Code(err))
	require.NotContains(t, err.Error(), "disk full")
}

// TestServer_ReportFix covers the unimplemented path and timestamp stamping.
func TestServer_ReportFix(t *testing.T) {
	t.Parallel()

	request := regionRequest(t, map[string]any{"latitude": 10.0, "longitude": 20.0})

	_, err := NewServer(newFakeService()).ReportFix(context.Background(), request)
	require.Equal(t, codes.Unimplemented, status.Code(err))

	sink := new(fakeSink)
	stamp := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	s := NewServer(newFakeService(), WithFixSink(sink))
	s.now = func() time.Time { return stamp }

	_, err = s.ReportFix(context.Background(), request)
	require.NoError(t, err)
	require.Len(t, sink.fixes, 1)
	require.Equal(t, stamp, sink.fixes[0].Timestamp)
	require.InDelta(t, 20.0, sink.fixes[0].Coordinate.Longitude, 0)

	_, err = s.ReportFix(context.Background(), regionRequest(t, map[string]any{"latitude": 10.0}))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

// startBufconn serves s over an in-memory listener and returns a connected client.
func startBufconn(t *testing.T, s GeofenceServiceServer, opts ...grpc.ServerOption) *GeofenceServiceClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	grpcServer := grpc.NewServer(opts...)
	RegisterGeofenceServiceServer(grpcServer, s)

	go func() {
		_ = grpcServer.Serve(lis) //nolint:errcheck // Stopped by cleanup.
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		grpcServer.Stop()
	})

	return NewGeofenceServiceClient(conn)
}

// TestServiceDesc_Roundtrip drives every RPC through a real gRPC stack.
func TestServiceDesc_Roundtrip(t *testing.T) {
	t.Parallel()

	collector, err := observability.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	svc := newFakeService()
	sink := new(fakeSink)
	client := startBufconn(t, NewServer(svc, WithFixSink(sink)),
		grpc.ChainUnaryInterceptor(collector.UnaryServerInterceptor()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := range 2 {
		_, err = client.MonitorRegion(ctx, wire.RegionSpecToStruct(wire.RegionSpec{
			ID:     fmt.Sprintf("r%d", i),
			Center: domain.Coordinate{Latitude: float64(i), Longitude: 1},
			Radius: 25,
		}))
		require.NoError(t, err)
	}

	_, err = client.MonitorRegion(ctx, wire.RegionSpecToStruct(wire.RegionSpec{ID: "r0", Radius: 25}))
	require.Equal(t, codes.AlreadyExists, status.Code(err))

	_, err = client.UnmonitorRegion(ctx, wrapperspb.String("r1"))
	require.NoError(t, err)

	state, err := client.GetState(ctx, new(emptypb.Empty))
	require.NoError(t, err)
	require.Equal(t, "processing", state.GetFields()[wire.FieldState].GetStringValue())
	require.InDelta(t, 4.0, state.GetFields()[wire.FieldGeneration].GetNumberValue(), 0)

	regions := state.GetFields()[wire.FieldRegions].GetListValue().GetValues()
	require.Len(t, regions, 1)
	require.Equal(t, "r0", regions[0].GetStructValue().GetFields()[wire.FieldID].GetStringValue())

	_, err = client.Retry(ctx, new(emptypb.Empty))
	require.NoError(t, err)

	svc.mu.Lock()
	require.Equal(t, 1, svc.retries)
	svc.mu.Unlock()

	_, err = client.ReportFix(ctx, wire.FixToStruct(domain.Fix{Coordinate: domain.Coordinate{Latitude: 3, Longitude: 4}}))
	require.NoError(t, err)
	require.Len(t, sink.fixes, 1)

	require.InDelta(t, 2,
		testutil.ToFloat64(collector.RPCRequests.WithLabelValues("GeofenceService", "MonitorRegion", "OK")), 0)
	require.InDelta(t, 1,
		testutil.ToFloat64(collector.RPCRequests.WithLabelValues("GeofenceService", "MonitorRegion", "AlreadyExists")), 0)
}

// TestActorMetadata carries the actor from client to server context.
func TestActorMetadata(t *testing.T) {
	t.Parallel()

	ctx := AppendActor(context.Background(), Actor{Hostname: "host", Username: "oleg"})

	md, ok := metadata.FromOutgoingContext(ctx)
	require.True(t, ok)

	incoming := metadata.NewIncomingContext(context.Background(), md)

	actor, ok := ActorFromContext(incoming)
	require.True(t, ok)
	require.Equal(t, Actor{Hostname: "host", Username: "oleg"}, actor)
	require.Equal(t, "oleg@host", actorField(incoming))

	require.Equal(t, "unknown", actorField(context.Background()))
	require.Equal(t, context.Background(), AppendActor(context.Background(), Actor{}))
}
