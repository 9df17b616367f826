package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/geofencer/internal/config"
	"github.com/oshokin/geofencer/internal/domain/geofence"
	"github.com/oshokin/geofencer/internal/logger"
	repository "github.com/oshokin/geofencer/internal/repository/regions"
	"github.com/oshokin/geofencer/internal/service/common"
	"github.com/oshokin/geofencer/internal/service/proximity"
	"github.com/oshokin/geofencer/internal/wire"
)

// Options configures the connection used by remote commands.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string

	// ServerAddress overrides server address from config when specified.
	ServerAddress string

	// Output receives command output, os.Stdout when nil.
	Output io.Writer
}

// defaultPollInterval defines the delay between state polls while waiting.
const defaultPollInterval = 1 * time.Second

// errRegionMissing is returned when a monitored region disappears while waiting.
var errRegionMissing = errors.New("region is no longer registered")

// Monitor registers a region. With wait it polls until the region has been evaluated.
func Monitor(ctx context.Context, opts *Options, spec wire.RegionSpec, wait bool) error {
	ctx = logger.WithName(ctx, "geofence-client")

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	response, err := client.MonitorRegion(ctx, spec)
	if err != nil {
		return err
	}

	id := response.GetFields()[wire.FieldID].GetStringValue()
	logger.InfoKV(ctx, "Region monitored", "region_id", id)

	if !wait {
		return printStruct(opts.output(), response)
	}

	// attempt tries once to find an evaluation, returns (completed, error).
	attempt := func() (bool, error) {
		state, err := client.GetState(ctx)
		if err != nil {
			// Log error but continue polling for transient failures.
			logger.ErrorKV(ctx, "GetState failed", "error", err)
			return false, nil
		}

		region, ok := findRegion(state, id)
		if !ok {
			return false, fmt.Errorf("%w: %s", errRegionMissing, id)
		}

		if region.GetFields()[wire.FieldEvaluatedAt].GetStringValue() == "" {
			return false, nil
		}

		return true, printStruct(opts.output(), region)
	}

	// Setup poll timer; the first evaluation takes at least one warm-up.
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			done, err := attempt()
			if err != nil {
				return err
			}

			if done {
				return nil
			}
		}
	}
}

// Unmonitor removes a region by id.
func Unmonitor(ctx context.Context, opts *Options, id string) error {
	ctx = logger.WithName(ctx, "geofence-client")

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	if err = client.UnmonitorRegion(ctx, id); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Region unmonitored", "region_id", id)

	return nil
}

// State prints the scheduler state and every region.
func State(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "geofence-client")

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	state, err := client.GetState(ctx)
	if err != nil {
		return err
	}

	return printStruct(opts.output(), state)
}

// Retry asks the server to restart a failed processing cycle.
func Retry(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "geofence-client")

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	if err = client.Retry(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "Retry requested")

	return nil
}

// ReportFix pushes a simulated location fix to the server.
func ReportFix(ctx context.Context, opts *Options, fix geofence.Fix) error {
	ctx = logger.WithName(ctx, "geofence-client")

	if err := fix.Coordinate.Validate(); err != nil {
		return err
	}

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	if err = client.ReportFix(ctx, fix); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Fix reported", "coordinate", fix.Coordinate.String())

	return nil
}

// Classify evaluates the regions stored in regionsFile against fix without a server.
func Classify(ctx context.Context, regionsFile string, fix geofence.Fix, maxMonitoringDistance float64, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}

	stored, err := repository.NewFileRepository(regionsFile).Load(ctx)
	if err != nil {
		return fmt.Errorf("load regions: %w", err)
	}

	snapshots := make([]geofence.Snapshot, 0, len(stored))
	for _, region := range stored {
		snapshots = append(snapshots, region.Snapshot())
	}

	partition, err := proximity.Classify(&fix, snapshots, maxMonitoringDistance)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}

	active := proximity.ActiveSet(partition, 0)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tCLASSIFICATION\tDISTANCE\tACTIVE")

	for _, snapshot := range snapshots {
		result := partition.Results[snapshot.ID]

		classification := result.Classification.String()
		if result.Excluded {
			classification += " (excluded)"
		}

		_, _ = fmt.Fprintf(tw, "%s\t%s\t%.1f\t%t\n",
			snapshot.ID, classification, result.Distance, slices.Contains(active, snapshot.ID))
	}

	return tw.Flush()
}

// connect loads the settings and dials the server.
func connect(ctx context.Context, opts *Options) (*common.Client, error) {
	cfg, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}

	// Use server address from options if provided, otherwise use config.
	serverAddress := cfg.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	// Identify current user and hostname for the server audit log.
	actor, err := common.DetectActor()
	if err != nil {
		return nil, err
	}

	logger.DebugKV(ctx, "Connecting to geofencer server", "server_address", serverAddress)

	return common.Dial(ctx, serverAddress,
		common.WithCallTimeout(cfg.Timeout),
		common.WithActor(actor),
	)
}

// loadSettings reads the config file, falling back to defaults when the file
// is missing but the server address was given explicitly.
func loadSettings(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)

	switch {
	case err == nil:
		return cfg, nil
	case errors.Is(err, os.ErrNotExist) && opts.ServerAddress != "":
		return config.Default(), nil
	default:
		return nil, err
	}
}

// findRegion returns the region with id from a GetState response.
func findRegion(state *structpb.Struct, id string) (*structpb.Struct, bool) {
	for _, value := range state.GetFields()[wire.FieldRegions].GetListValue().GetValues() {
		region := value.GetStructValue()
		if region.GetFields()[wire.FieldID].GetStringValue() == id {
			return region, true
		}
	}

	return nil, false
}

// printStruct writes st as indented JSON.
func printStruct(w io.Writer, st *structpb.Struct) error {
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	_, err = fmt.Fprintln(w, string(data))

	return err
}

func (o *Options) output() io.Writer {
	if o == nil || o.Output == nil {
		return os.Stdout
	}

	return o.Output
}
