package positioning

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/oshokin/geofencer/internal/domain/geofence"
	"github.com/oshokin/geofencer/internal/logger"
)

const (
	// DefaultMaximumMonitoringDistance is the largest region radius the simulator monitors.
	DefaultMaximumMonitoringDistance = 10_000.0
	// DefaultReplayInterval is the delay between replayed track fixes.
	DefaultReplayInterval = time.Second

	// eventBufferSize bounds the number of undelivered events.
	eventBufferSize = 32
)

var _ Provider = (*Simulator)(nil)

// Simulator is an in-memory Provider.
// It replays a recorded track while continuous updates are on and delivers
// fixes pushed by callers.
type Simulator struct {
	// mu protects every field below except events.
	mu sync.Mutex
	// status is the current authorization status.
	status AuthorizationStatus
	// continuous is true while fine-grained updates are on.
	continuous bool
	// coarse is true while significant-change updates are on.
	coarse bool
	// current is the most recent fix.
	current *geofence.Fix
	// monitored is the set of actively monitored region ids.
	monitored []string
	// track is the recorded route replayed by Run.
	track []geofence.Fix
	// next is the index of the next track fix.
	next int
	// interval is the delay between replayed fixes.
	interval time.Duration
	// maxDistance is reported by MaximumMonitoringDistance.
	maxDistance float64

	// events delivers provider events to the scheduler.
	events chan Event
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithTrack sets the fixes replayed by Run.
func WithTrack(fixes []geofence.Fix) SimulatorOption {
	return func(s *Simulator) {
		s.track = slices.Clone(fixes)
	}
}

// WithReplayInterval sets the delay between replayed fixes.
func WithReplayInterval(interval time.Duration) SimulatorOption {
	return func(s *Simulator) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithMaximumMonitoringDistance sets the largest radius the simulator monitors.
func WithMaximumMonitoringDistance(meters float64) SimulatorOption {
	return func(s *Simulator) {
		if meters > 0 {
			s.maxDistance = meters
		}
	}
}

// WithAuthorizationStatus presets the authorization status.
func WithAuthorizationStatus(status AuthorizationStatus) SimulatorOption {
	return func(s *Simulator) {
		s.status = status
	}
}

// NewSimulator creates a simulator with authorization not yet determined.
func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		interval:    DefaultReplayInterval,
		maxDistance: DefaultMaximumMonitoringDistance,
		events:      make(chan Event, eventBufferSize),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run replays the track until ctx is cancelled. Without a track it only waits.
func (s *Simulator) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "simulator")

	s.mu.Lock()
	hasTrack := len(s.track) > 0
	interval := s.interval
	s.mu.Unlock()

	if !hasTrack {
		<-ctx.Done()
		return nil
	}

	logger.InfoKV(ctx, "Replaying recorded track", "fixes", len(s.track), "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.replayNext(ctx)
		}
	}
}

// replayNext delivers the next track fix while continuous updates are on.
func (s *Simulator) replayNext(ctx context.Context) {
	s.mu.Lock()

	if !s.continuous || !s.status.Authorized() {
		s.mu.Unlock()
		return
	}

	fix := s.track[s.next%len(s.track)]
	s.next++
	s.mu.Unlock()

	fix.Timestamp = time.Now()

	logger.DebugKV(ctx, "Replayed fix", "coordinate", fix.Coordinate.String())
	s.Push(&fix)
}

// Push records fix as the current position and emits FixReceived when updates are on.
func (s *Simulator) Push(fix *geofence.Fix) {
	if fix == nil {
		return
	}

	fix = fix.Clone()
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.current = fix
	deliver := (s.continuous || s.coarse) && s.status.Authorized()
	s.mu.Unlock()

	if deliver {
		s.emit(FixReceived{Fix: fix.Clone()})
	}
}

// RequestAuthorization grants the requested level the first time it is asked.
func (s *Simulator) RequestAuthorization(_ context.Context, level AuthorizationLevel) error {
	s.mu.Lock()

	if s.status != StatusNotDetermined {
		s.mu.Unlock()
		return nil
	}

	s.status = StatusAuthorizedAlways
	if level == AuthorizationWhenInUse {
		s.status = StatusAuthorizedWhenInUse
	}

	status := s.status
	s.mu.Unlock()

	s.emit(AuthorizationChanged{Status: status})

	return nil
}

// SetAuthorizationStatus changes the status as if the user changed settings.
func (s *Simulator) SetAuthorizationStatus(status AuthorizationStatus) {
	s.mu.Lock()
	changed := s.status != status
	s.status = status
	s.mu.Unlock()

	if changed {
		s.emit(AuthorizationChanged{Status: status})
	}
}

// AuthorizationStatus returns the current authorization status.
func (s *Simulator) AuthorizationStatus() AuthorizationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// StartContinuousUpdates turns on fine-grained updates.
func (s *Simulator) StartContinuousUpdates(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.status.Authorized() {
		return ErrNotAuthorized
	}

	s.continuous = true

	return nil
}

// StartCoarseUpdates turns on significant-change updates.
func (s *Simulator) StartCoarseUpdates(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.status.Authorized() {
		return ErrNotAuthorized
	}

	s.coarse = true

	return nil
}

// StopAllUpdates turns every kind of update off.
func (s *Simulator) StopAllUpdates(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.continuous = false
	s.coarse = false

	return nil
}

// Updating reports whether continuous and coarse updates are on.
func (s *Simulator) Updating() (continuous, coarse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.continuous, s.coarse
}

// CurrentFix returns a copy of the most recent fix.
func (s *Simulator) CurrentFix() (*geofence.Fix, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil, false
	}

	return s.current.Clone(), true
}

// MaximumMonitoringDistance returns the largest radius the simulator monitors.
func (s *Simulator) MaximumMonitoringDistance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.maxDistance
}

// SetActivelyMonitored replaces the actively monitored set.
func (s *Simulator) SetActivelyMonitored(_ context.Context, regionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.monitored = slices.Clone(regionIDs)

	return nil
}

// Monitored returns the actively monitored region ids.
func (s *Simulator) Monitored() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.monitored)
}

// Events streams provider events.
func (s *Simulator) Events() <-chan Event {
	return s.events
}

// emit delivers ev without blocking; when the consumer lags the event is dropped,
// since the next fix supersedes it anyway.
func (s *Simulator) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		logger.Logger().Debugw("Dropping positioning event, consumer is behind", "event", ev)
	}
}
