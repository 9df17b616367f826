package scheduler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/oshokin/geofencer/internal/domain/geofence"
	"github.com/oshokin/geofencer/internal/logger"
	"github.com/oshokin/geofencer/internal/positioning"
	"github.com/oshokin/geofencer/internal/service/proximity"
)

const (
	// InterCycleDelay is the period between two reloads of the cycle.
	InterCycleDelay = 10 * time.Second
	// DeadlineBudget is how long classification may take once the start timer fired.
	DeadlineBudget = 6 * time.Second
	// DefaultMaxActiveRegions caps the regions handed to the provider.
	DefaultMaxActiveRegions = 20

	// eventQueueSize bounds the actor queue.
	eventQueueSize = 64
	// tracerName identifies spans produced by this package.
	tracerName = "github.com/oshokin/geofencer/internal/service/scheduler"
)

var (
	// ErrDeadlineExceeded is reported when a cycle does not classify in time.
	ErrDeadlineExceeded = errors.New("geofence processing deadline exceeded")
	// errAlreadyRunning is returned by a second concurrent Run call.
	errAlreadyRunning = errors.New("scheduler is already running")
)

// RegionSource is the region collection the scheduler evaluates.
type RegionSource interface {
	All() iter.Seq[geofence.Snapshot]
	Get(id string) (*geofence.Region, bool)
	Len() int
}

// ClassifyFunc partitions regions around a fix.
type ClassifyFunc func(
	fix *geofence.Fix,
	regions []geofence.Snapshot,
	maxMonitoringDistance float64,
) (*proximity.Partition, error)

// Report describes a completed cycle.
type Report struct {
	// Generation is the cycle generation.
	Generation uint64
	// Fix is the location the regions were evaluated against.
	Fix geofence.Fix
	// Partition is the classifier output.
	Partition *proximity.Partition
	// Active lists the regions handed to the provider for active monitoring.
	Active []string
	// Regions are snapshots taken after the evaluation was stored.
	Regions []geofence.Snapshot
	// CompletedAt is when the cycle completed.
	CompletedAt time.Time
}

// timerPurpose tells the start timer from the deadline timer.
type timerPurpose int

const (
	timerStart timerPurpose = iota + 1
	timerDeadline
)

// timerFired is queued when a timer expires.
type timerFired struct {
	purpose    timerPurpose
	generation uint64
}

// classified is queued when a classification finishes.
type classified struct {
	generation  uint64
	fix         *geofence.Fix
	regions     []geofence.Snapshot
	maxDistance float64
	partition   *proximity.Partition
	err         error
}

// Scheduler runs the processing cycle.
type Scheduler struct {
	// provider is the positioning service.
	provider positioning.Provider
	// regions is the evaluated region collection.
	regions RegionSource

	// interCycleDelay is the period between reloads.
	interCycleDelay time.Duration
	// deadlineBudget is the classification time budget.
	deadlineBudget time.Duration
	// maxActive caps the actively monitored set.
	maxActive int
	// classify partitions regions.
	classify ClassifyFunc
	// recorder receives telemetry.
	recorder Recorder
	// tracer produces classification spans.
	tracer trace.Tracer
	// onComplete is invoked after each successful cycle.
	onComplete func(ctx context.Context, report *Report)
	// onFailed is invoked when a cycle misses its deadline.
	onFailed func(ctx context.Context, err error)

	// state is written by the actor and read by anyone.
	state atomic.Int32
	// generation is written by the actor and read by anyone.
	generation atomic.Uint64
	// running guards against concurrent Run calls.
	running atomic.Bool

	// reloads coalesces reload requests.
	reloads chan struct{}
	// events is the actor queue.
	events chan any
	// done is closed when Run returns.
	done chan struct{}

	// The fields below are owned by the actor goroutine.

	// startTimer is armed between a reload and the start of classification.
	startTimer *time.Timer
	// deadlineTimer is armed while classification may run.
	deadlineTimer *time.Timer
	// classifying is true while a classification goroutine is in flight.
	classifying bool
	// cycleStartedAt is when the current deadline timer was armed.
	cycleStartedAt time.Time
}

// New creates a scheduler in StateIdle.
func New(provider positioning.Provider, regions RegionSource, opts ...Option) *Scheduler {
	s := &Scheduler{
		provider:        provider,
		regions:         regions,
		interCycleDelay: InterCycleDelay,
		deadlineBudget:  DeadlineBudget,
		maxActive:       DefaultMaxActiveRegions,
		classify:        proximity.Classify,
		recorder:        noopRecorder{},
		tracer:          otel.Tracer(tracerName),
		reloads:         make(chan struct{}, 1),
		events:          make(chan any, eventQueueSize),
		done:            make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// State returns the current state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Generation returns the current cycle generation.
func (s *Scheduler) Generation() uint64 {
	return s.generation.Load()
}

// Reload asks the actor to restart the cycle. It never blocks;
// concurrent requests collapse into one. The generation moves on before
// the request is queued, so results and timers already waiting for the
// actor are stale by the time it looks at them.
func (s *Scheduler) Reload() {
	s.generation.Add(1)

	select {
	case s.reloads <- struct{}{}:
	default:
	}
}

// Retry leaves StateFailed by restarting the cycle.
func (s *Scheduler) Retry() {
	s.Reload()
}

// Run processes events until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}

	defer close(s.done)

	ctx = logger.WithName(ctx, "scheduler")

	if s.regions.Len() > 0 {
		s.reload(ctx)
	}

	providerEvents := s.provider.Events()

	for {
		select {
		case <-ctx.Done():
			s.shutdown(context.WithoutCancel(ctx))
			return nil
		case <-s.reloads:
			s.reload(ctx)
		case ev := <-providerEvents:
			s.handleProviderEvent(ctx, ev)
		case ev := <-s.events:
			switch ev := ev.(type) {
			case timerFired:
				s.handleTimer(ctx, ev)
			case classified:
				s.handleClassified(ctx, ev)
			}
		}
	}
}

// post queues ev for the actor, giving up once Run has returned.
func (s *Scheduler) post(ev any) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// reload cancels the current cycle and, if regions remain, arms a new one.
func (s *Scheduler) reload(ctx context.Context) {
	generation := s.generation.Add(1)

	s.stopTimers()
	s.classifying = false

	if err := s.provider.StopAllUpdates(ctx); err != nil {
		logger.WarnKV(ctx, "Failed to stop location updates", "error", err)
	}

	if err := s.provider.SetActivelyMonitored(ctx, nil); err != nil {
		logger.WarnKV(ctx, "Failed to clear monitored regions", "error", err)
	}

	s.deactivateRegions()

	regions := s.regions.Len()
	if regions == 0 {
		logger.InfoKV(ctx, "No regions to monitor", "generation", generation)
		s.setState(ctx, StateIdle)

		return
	}

	logger.InfoKV(ctx, "Reloading geofences", "generation", generation, "regions", regions)
	s.arm(ctx, generation)
}

// reschedule starts the next periodic cycle without touching the monitored set.
func (s *Scheduler) reschedule(ctx context.Context) {
	generation := s.generation.Add(1)

	s.stopTimers()
	s.classifying = false

	if s.regions.Len() == 0 {
		s.setState(ctx, StateIdle)
		return
	}

	s.arm(ctx, generation)
}

// arm turns updates on and starts the warm-up timer of a cycle.
func (s *Scheduler) arm(ctx context.Context, generation uint64) {
	if err := s.provider.RequestAuthorization(ctx, positioning.AuthorizationAlways); err != nil {
		logger.WarnKV(ctx, "Authorization request failed", "error", err)
	}

	s.startUpdates(ctx)

	s.startTimer = time.AfterFunc(s.interCycleDelay-s.deadlineBudget, func() {
		s.post(timerFired{purpose: timerStart, generation: generation})
	})

	s.setState(ctx, StateProcessing)
	s.recorder.CycleStarted()
}

// startUpdates turns continuous and coarse updates on.
func (s *Scheduler) startUpdates(ctx context.Context) {
	if err := s.provider.StartContinuousUpdates(ctx); err != nil {
		logger.WarnKV(ctx, "Failed to start continuous updates", "error", err)
	}

	if err := s.provider.StartCoarseUpdates(ctx); err != nil {
		logger.WarnKV(ctx, "Failed to start coarse updates", "error", err)
	}
}

// handleTimer dispatches a timer expiry of the current generation.
func (s *Scheduler) handleTimer(ctx context.Context, ev timerFired) {
	if ev.generation != s.generation.Load() {
		logger.DebugKV(ctx, "Ignoring stale timer", "generation", ev.generation)
		return
	}

	switch ev.purpose {
	case timerStart:
		s.startProcessing(ctx, ev.generation)
	case timerDeadline:
		s.fail(ctx, ev.generation)
	}
}

// startProcessing arms the deadline and classifies the current fix, if any.
func (s *Scheduler) startProcessing(ctx context.Context, generation uint64) {
	s.startTimer = nil
	s.stopTimer(&s.deadlineTimer)

	s.cycleStartedAt = time.Now()
	s.deadlineTimer = time.AfterFunc(s.deadlineBudget, func() {
		s.post(timerFired{purpose: timerDeadline, generation: generation})
	})

	fix, ok := s.provider.CurrentFix()
	if !ok {
		logger.DebugKV(ctx, "No location fix yet, waiting for one", "generation", generation)
		return
	}

	s.attempt(ctx, generation, fix)
}

// attempt starts classification unless it is too early or one is in flight.
func (s *Scheduler) attempt(ctx context.Context, generation uint64, fix *geofence.Fix) {
	if s.deadlineTimer == nil || s.classifying {
		return
	}

	if fix == nil {
		logger.DebugKV(ctx, "Classification deferred", "error", proximity.ErrNoFixAvailable)
		return
	}

	s.classifying = true

	var (
		regions     = slices.Collect(s.regions.All())
		maxDistance = s.provider.MaximumMonitoringDistance()
		classify    = s.classify
	)

	go func() {
		_, span := s.tracer.Start(ctx, "geofence.classify", trace.WithAttributes(
			attribute.Int64("geofence.generation", int64(generation)), //nolint:gosec // Generations stay far below MaxInt64.
			attribute.Int("geofence.regions", len(regions)),
			attribute.Float64("geofence.max_monitoring_distance", maxDistance),
		))

		partition, err := classify(fix, regions, maxDistance)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Int("geofence.inside", len(partition.Inside)),
				attribute.Int("geofence.buckets", len(partition.Buckets)),
				attribute.Int("geofence.far", len(partition.Far)),
			)
		}

		span.End()

		s.post(classified{
			generation:  generation,
			fix:         fix,
			regions:     regions,
			maxDistance: maxDistance,
			partition:   partition,
			err:         err,
		})
	}()
}

// handleClassified applies the outcome of a classification.
func (s *Scheduler) handleClassified(ctx context.Context, ev classified) {
	if ev.generation != s.generation.Load() {
		logger.DebugKV(ctx, "Discarding result of superseded cycle",
			"generation", ev.generation,
			"current_generation", s.generation.Load(),
		)
		s.recorder.ResultDiscarded()

		return
	}

	s.classifying = false

	if ev.err != nil {
		logger.WarnKV(ctx, "Classification failed, waiting for the next fix", "error", ev.err)
		return
	}

	s.stopTimer(&s.deadlineTimer)

	var (
		now      = time.Now()
		active   = proximity.ActiveSet(ev.partition, s.maxActive)
		isActive = make(map[string]bool, len(active))
	)

	for _, id := range active {
		isActive[id] = true
	}

	for _, snapshot := range ev.regions {
		region, ok := s.regions.Get(snapshot.ID)
		if !ok {
			continue
		}

		result := ev.partition.Results[snapshot.ID]
		region.Apply(geofence.Evaluation{
			Distance:         result.Distance,
			Classification:   result.Classification,
			MonitoringRadius: math.Min(snapshot.Radius, ev.maxDistance),
			Active:           isActive[snapshot.ID],
			EvaluatedAt:      now,
		})
	}

	if err := s.provider.SetActivelyMonitored(ctx, active); err != nil {
		logger.WarnKV(ctx, "Failed to update monitored regions", "error", err)
	}

	report := &Report{
		Generation:  ev.generation,
		Fix:         *ev.fix,
		Partition:   ev.partition,
		Active:      active,
		Regions:     slices.Collect(s.regions.All()),
		CompletedAt: now,
	}

	logger.InfoKV(ctx, "Geofences classified",
		"generation", ev.generation,
		"inside", len(ev.partition.Inside),
		"near_buckets", len(ev.partition.Buckets),
		"far", len(ev.partition.Far),
		"excluded", len(ev.partition.Excluded),
		"active", len(active),
	)

	s.recorder.CycleCompleted(now.Sub(s.cycleStartedAt), report)

	if s.onComplete != nil {
		s.onComplete(ctx, report)
	}

	s.reschedule(ctx)
}

// handleProviderEvent reacts to fixes and authorization changes.
func (s *Scheduler) handleProviderEvent(ctx context.Context, ev positioning.Event) {
	switch ev := ev.(type) {
	case positioning.FixReceived:
		if s.State() != StateProcessing {
			return
		}

		s.attempt(ctx, s.generation.Load(), ev.Fix)
	case positioning.AuthorizationChanged:
		logger.InfoKV(ctx, "Location authorization changed", "status", ev.Status.String())

		if !ev.Status.Authorized() {
			logger.Warn(ctx, "Location access is not authorized, cycles will miss their deadline")
			return
		}

		if s.State() == StateProcessing {
			s.startUpdates(ctx)
		}
	}
}

// fail moves the scheduler to StateFailed after a missed deadline.
func (s *Scheduler) fail(ctx context.Context, generation uint64) {
	// Bump the generation so a late classification result is dropped.
	s.generation.Add(1)

	s.stopTimers()
	s.classifying = false

	if err := s.provider.StopAllUpdates(ctx); err != nil {
		logger.WarnKV(ctx, "Failed to stop location updates", "error", err)
	}

	err := fmt.Errorf("cycle %d: %w", generation, ErrDeadlineExceeded)

	logger.ErrorKV(ctx, "Geofence processing failed", "generation", generation, "error", err)
	s.setState(ctx, StateFailed)
	s.recorder.CycleFailed()

	if s.onFailed != nil {
		s.onFailed(ctx, err)
	}
}

// shutdown releases timers and updates when Run exits.
func (s *Scheduler) shutdown(ctx context.Context) {
	s.generation.Add(1)
	s.stopTimers()
	s.classifying = false

	if err := s.provider.StopAllUpdates(ctx); err != nil {
		logger.WarnKV(ctx, "Failed to stop location updates", "error", err)
	}

	s.setState(ctx, StateIdle)
	logger.Info(ctx, "Scheduler stopped")
}

// deactivateRegions clears the Active flag of every region.
func (s *Scheduler) deactivateRegions() {
	for snapshot := range s.regions.All() {
		if !snapshot.Active {
			continue
		}

		region, ok := s.regions.Get(snapshot.ID)
		if !ok {
			continue
		}

		evaluation := region.Evaluation()
		evaluation.Active = false
		region.Apply(evaluation)
	}
}

// setState stores the state and reports transitions.
func (s *Scheduler) setState(ctx context.Context, state State) {
	previous := State(s.state.Swap(int32(state)))
	if previous == state {
		return
	}

	logger.DebugKV(ctx, "State changed", "from", previous.String(), "to", state.String())
	s.recorder.StateChanged(state)
}

// stopTimers cancels both timers.
func (s *Scheduler) stopTimers() {
	s.stopTimer(&s.startTimer)
	s.stopTimer(&s.deadlineTimer)
}

// stopTimer cancels *t and clears it.
func (s *Scheduler) stopTimer(t **time.Timer) {
	if *t == nil {
		return
	}

	(*t).Stop()
	*t = nil
}
