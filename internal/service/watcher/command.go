package watcher

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/geofencer/internal/config"
	"github.com/oshokin/geofencer/internal/logger"
	"github.com/oshokin/geofencer/internal/service/common"
	"github.com/oshokin/geofencer/internal/wire"
)

// Options controls the watcher polling behavior and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ServerAddress provides an optional gRPC server address override.
	ServerAddress string
	// PollInterval defines the interval between state checks.
	PollInterval time.Duration
}

// DefaultPollInterval defines the polling interval when none is given.
const DefaultPollInterval = 5 * time.Second

// Transition describes how a region's proximity changed between two polls.
type Transition struct {
	// RegionID identifies the region.
	RegionID string
	// From is the previous proximity, empty for a new region.
	From string
	// To is the current proximity, empty for a removed region.
	To string
}

// Event names the transition.
func (t Transition) Event() string {
	switch {
	case t.To == "":
		return "removed"
	case t.From == "" || t.From == "unknown":
		return "discovered"
	case t.To == "inside":
		return "entered"
	case t.From == "inside":
		return "left"
	case t.To == "near":
		return "approached"
	default:
		return "receded"
	}
}

// Snapshot is the last known proximity of every region and the cycle state.
type Snapshot struct {
	// State is the scheduler state.
	State string
	// Proximity maps region id to proximity.
	Proximity map[string]string
	// order keeps region ids in server order.
	order []string
}

// NewSnapshot extracts proximity per region from a GetState response.
func NewSnapshot(state *structpb.Struct) Snapshot {
	s := Snapshot{
		State:     state.GetFields()[wire.FieldState].GetStringValue(),
		Proximity: make(map[string]string),
	}

	for _, value := range state.GetFields()[wire.FieldRegions].GetListValue().GetValues() {
		fields := value.GetStructValue().GetFields()
		id := fields[wire.FieldID].GetStringValue()

		s.Proximity[id] = fields[wire.FieldProximity].GetStringValue()
		s.order = append(s.order, id)
	}

	return s
}

// Diff lists transitions from prev to s: current regions in server order, then removed ones.
func (s Snapshot) Diff(prev Snapshot) []Transition {
	var transitions []Transition

	for _, id := range s.order {
		before, known := prev.Proximity[id]
		after := s.Proximity[id]

		if known && before == after {
			continue
		}

		if !known && after == "unknown" {
			continue
		}

		transitions = append(transitions, Transition{RegionID: id, From: before, To: after})
	}

	for _, id := range prev.order {
		if _, ok := s.Proximity[id]; !ok {
			transitions = append(transitions, Transition{RegionID: id, From: prev.Proximity[id]})
		}
	}

	return transitions
}

// Run polls the server state and logs changes until ctx is cancelled.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "geofence-watch")

	// Load settings from configuration file.
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	// Determine server address: command line argument overrides config.
	serverAddress := cfg.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	actor, err := common.DetectActor()
	if err != nil {
		return fmt.Errorf("detect actor: %w", err)
	}

	client, err := common.Dial(ctx, serverAddress, common.WithCallTimeout(cfg.Timeout), common.WithActor(actor))
	if err != nil {
		return fmt.Errorf("dial server: %w", err)
	}

	// Ensure connection cleanup on function exit.
	defer func() {
		_ = client.Close()
	}()

	logger.InfoKV(ctx, "Watching geofence state", "server_address", serverAddress, "interval", opts.PollInterval.String())

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	var last Snapshot

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")
			return nil
		case <-ticker.C:
			state, err := client.GetState(ctx)
			if err != nil {
				logger.ErrorKV(ctx, "Check state failed", "error", err)
				continue
			}

			last = report(ctx, last, NewSnapshot(state))
		}
	}
}

// report logs the differences between two snapshots and returns the current one.
func report(ctx context.Context, prev, current Snapshot) Snapshot {
	if prev.State != current.State {
		logger.InfoKV(ctx, "Processing cycle state changed", "from", prev.State, "to", current.State)
	}

	for _, t := range current.Diff(prev) {
		logger.InfoKV(ctx, "Region "+t.Event(), "region_id", t.RegionID, "from", t.From, "to", t.To)
	}

	return current
}
