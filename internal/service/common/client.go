//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	api "github.com/oshokin/geofencer/internal/api/grpc/geofence"
	"github.com/oshokin/geofencer/internal/config"
	"github.com/oshokin/geofencer/internal/domain/geofence"
	"github.com/oshokin/geofencer/internal/wire"
)

// Client wraps the gRPC GeofenceService client with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the geofencer server.
	conn *grpc.ClientConn
	// api is the GeofenceService client.
	api *api.GeofenceServiceClient

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
	// actor is attached to every call when set.
	actor api.Actor
	// dialOptions are appended to the default dial options.
	dialOptions []grpc.DialOption
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithActor attaches the actor to every call.
func WithActor(actor api.Actor) Option {
	return func(c *Client) {
		c.actor = actor
	}
}

// WithDialOptions appends gRPC dial options, e.g. a custom dialer in tests.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOptions = append(c.dialOptions, opts...)
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errRegionIDRequired is returned when an operation needs a region id.
	errRegionIDRequired = errors.New("region id must be provided")
)

// Dial establishes a gRPC connection to the geofencer server.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy until native TLS is added.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	client := &Client{
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	dialOptions := append(
		[]grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		},
		client.dialOptions...,
	)

	// Use the non-context NewClient API recommended by grpc-go
	// (DialContext is deprecated as of grpc-go v1.60+).
	conn, err := grpc.NewClient(address, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("dial geofencer server: %w", err)
	}

	client.conn = conn
	client.api = api.NewGeofenceServiceClient(conn)

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// MonitorRegion registers a region and returns its snapshot.
func (c *Client) MonitorRegion(ctx context.Context, spec wire.RegionSpec) (*structpb.Struct, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.MonitorRegion(callCtx, wire.RegionSpecToStruct(spec))
	if err != nil {
		return nil, fmt.Errorf("monitor region: %w", err)
	}

	return response, nil
}

// UnmonitorRegion removes a region by id.
func (c *Client) UnmonitorRegion(ctx context.Context, id string) error {
	if id == "" {
		return errRegionIDRequired
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if _, err := c.api.UnmonitorRegion(callCtx, wrapperspb.String(id)); err != nil {
		return fmt.Errorf("unmonitor region: %w", err)
	}

	return nil
}

// GetState retrieves the scheduler state and every region.
func (c *Client) GetState(ctx context.Context) (*structpb.Struct, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.GetState(callCtx, new(emptypb.Empty))
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}

	return response, nil
}

// Retry asks the server to restart the processing cycle.
func (c *Client) Retry(ctx context.Context) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if _, err := c.api.Retry(callCtx, new(emptypb.Empty)); err != nil {
		return fmt.Errorf("retry: %w", err)
	}

	return nil
}

// ReportFix pushes a location fix to the server's positioning provider.
func (c *Client) ReportFix(ctx context.Context, fix geofence.Fix) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if _, err := c.api.ReportFix(callCtx, wire.FixToStruct(fix)); err != nil {
		return fmt.Errorf("report fix: %w", err)
	}

	return nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline. The actor is
// attached as outgoing metadata.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = api.AppendActor(ctx, c.actor)

	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
