package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/geofencer/internal/domain/geofence"
	"github.com/oshokin/geofencer/internal/positioning"
	"github.com/oshokin/geofencer/internal/service/proximity"
	"github.com/oshokin/geofencer/internal/service/registry"
)

// home is the location most fixes are reported at.
var home = geofence.Coordinate{Latitude: 59.9343, Longitude: 30.3351} //nolint:gochecknoglobals // Test fixture.

// countingRecorder counts recorder calls.
type countingRecorder struct {
	started   atomic.Int32
	completed atomic.Int32
	failed    atomic.Int32
	discarded atomic.Int32
}

func (r *countingRecorder) CycleStarted()                         { r.started.Add(1) }
func (r *countingRecorder) CycleCompleted(time.Duration, *Report) { r.completed.Add(1) }
func (r *countingRecorder) CycleFailed()                          { r.failed.Add(1) }
func (r *countingRecorder) ResultDiscarded()                      { r.discarded.Add(1) }
func (r *countingRecorder) StateChanged(State)                    {}

// harness wires a scheduler to a registry and a simulator inside a synctest bubble.
type harness struct {
	t         *testing.T
	sim       *positioning.Simulator
	registry  *registry.Registry
	scheduler *Scheduler
	recorder  *countingRecorder

	mu       sync.Mutex
	reports  []*Report
	failures []error

	cancel context.CancelFunc
	done   chan struct{}
}

// newHarness starts the scheduler. It must be called inside a bubble.
func newHarness(t *testing.T, simOpts []positioning.SimulatorOption, opts ...Option) *harness {
	t.Helper()

	sim := positioning.NewSimulator(simOpts...)

	return startHarness(t, sim, sim, opts...)
}

// startHarness runs a scheduler over provider, which is backed by sim.
func startHarness(t *testing.T, sim *positioning.Simulator, provider positioning.Provider, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		sim:      sim,
		registry: registry.New(),
		recorder: new(countingRecorder),
		done:     make(chan struct{}),
	}

	opts = append([]Option{
		WithRecorder(h.recorder),
		WithOnClassificationComplete(func(_ context.Context, report *Report) {
			h.mu.Lock()
			defer h.mu.Unlock()

			h.reports = append(h.reports, report)
		}),
		WithOnCycleFailed(func(_ context.Context, err error) {
			h.mu.Lock()
			defer h.mu.Unlock()

			h.failures = append(h.failures, err)
		}),
	}, opts...)

	h.scheduler = New(provider, h.registry, opts...)
	h.registry.Subscribe(func(context.Context, registry.Change) {
		h.scheduler.Reload()
	})

	var ctx context.Context

	ctx, h.cancel = context.WithCancel(t.Context())

	go func() {
		defer close(h.done)

		_ = h.scheduler.Run(ctx)
	}()

	synctest.Wait()

	return h
}

// stop cancels the scheduler and waits for Run to return.
func (h *harness) stop() {
	h.cancel()
	<-h.done
}

// add registers a region at meters north of home.
func (h *harness) add(id string, meters, radius float64) *geofence.Region {
	h.t.Helper()

	region, err := geofence.NewRegion(id, geofence.OffsetNorth(home, meters), radius)
	require.NoError(h.t, err)
	require.NoError(h.t, h.registry.Add(h.t.Context(), region))
	synctest.Wait()

	return region
}

// pushFix reports a fix at home.
func (h *harness) pushFix() {
	h.sim.Push(&geofence.Fix{Coordinate: home})
	synctest.Wait()
}

// advance sleeps inside the bubble and lets every goroutine settle.
func (h *harness) advance(d time.Duration) {
	time.Sleep(d)
	synctest.Wait()
}

// snapshot returns copies of the collected callbacks.
func (h *harness) snapshot() ([]*Report, []error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]*Report(nil), h.reports...), append([]error(nil), h.failures...)
}

// gatedProvider blocks the next StartContinuousUpdates call until gate is closed.
type gatedProvider struct {
	*positioning.Simulator

	armed atomic.Bool
	gate  chan struct{}
}

func (p *gatedProvider) StartContinuousUpdates(ctx context.Context) error {
	if p.armed.CompareAndSwap(true, false) {
		<-p.gate
	}

	return p.Simulator.StartContinuousUpdates(ctx)
}

// authorized presets the simulator as authorized.
func authorized() []positioning.SimulatorOption {
	return []positioning.SimulatorOption{
		positioning.WithAuthorizationStatus(positioning.StatusAuthorizedAlways),
	}
}

// TestScheduler_IdleWithoutRegions ensures an empty registry keeps the scheduler idle.
func TestScheduler_IdleWithoutRegions(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil)
		defer h.stop()

		require.Equal(t, StateIdle, h.scheduler.State())

		h.scheduler.Reload()
		h.advance(time.Minute)

		require.Equal(t, StateIdle, h.scheduler.State())
		require.Zero(t, h.recorder.started.Load())

		continuous, coarse := h.sim.Updating()
		require.False(t, continuous)
		require.False(t, coarse)
	})
}

// TestScheduler_CompletesCycle runs a full cycle with a fix available at the start timer.
func TestScheduler_CompletesCycle(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil)
		defer h.stop()

		h.sim.Push(&geofence.Fix{Coordinate: home})

		inside := h.add("inside", 0, 50)
		near := h.add("near", 123, 20)
		far := h.add("far", 400, 10)

		// Authorization was requested and updates turned on by the reload.
		require.Equal(t, StateProcessing, h.scheduler.State())
		require.Equal(t, positioning.StatusAuthorizedAlways, h.sim.AuthorizationStatus())

		continuous, coarse := h.sim.Updating()
		require.True(t, continuous)
		require.True(t, coarse)

		// Nothing happens during the warm-up.
		h.advance(InterCycleDelay - DeadlineBudget - time.Millisecond)

		reports, _ := h.snapshot()
		require.Empty(t, reports)

		h.advance(time.Millisecond)

		reports, failures := h.snapshot()
		require.Len(t, reports, 1)
		require.Empty(t, failures)

		report := reports[0]
		require.Equal(t, []string{"inside"}, report.Partition.Inside)
		require.Equal(t, map[int][]string{100: {"near"}}, report.Partition.Buckets)
		require.Equal(t, []string{"far"}, report.Partition.Far)
		require.Equal(t, []string{"inside", "near"}, report.Active)
		require.Equal(t, []string{"inside", "near"}, h.sim.Monitored())

		require.Equal(t, geofence.Inside(), inside.Evaluation().Classification)
		require.True(t, inside.Evaluation().Active)
		require.Equal(t, geofence.Near(100), near.Evaluation().Classification)
		require.InDelta(t, 103, near.Evaluation().Distance, 1e-6)
		require.Equal(t, geofence.Far(), far.Evaluation().Classification)
		require.False(t, far.Evaluation().Active)

		// The next cycle is scheduled instead of going idle.
		require.Equal(t, StateProcessing, h.scheduler.State())

		h.advance(InterCycleDelay - DeadlineBudget)

		reports, _ = h.snapshot()
		require.Len(t, reports, 2)
		require.Greater(t, reports[1].Generation, reports[0].Generation)
		require.Zero(t, h.recorder.failed.Load())
	})
}

// TestScheduler_EarlyFixIsDeferred checks a fix delivered during warm-up is not classified early.
func TestScheduler_EarlyFixIsDeferred(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, authorized())
		defer h.stop()

		h.add("a", 0, 30)

		h.advance(time.Second)
		h.pushFix()

		reports, _ := h.snapshot()
		require.Empty(t, reports)

		h.advance(InterCycleDelay - DeadlineBudget - time.Second)

		reports, _ = h.snapshot()
		require.Len(t, reports, 1)
	})
}

// TestScheduler_FixAfterStartTimer classifies the first fix that arrives before the deadline.
func TestScheduler_FixAfterStartTimer(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, authorized())
		defer h.stop()

		region := h.add("a", 0, 30)

		h.advance(InterCycleDelay - DeadlineBudget)

		reports, _ := h.snapshot()
		require.Empty(t, reports)

		h.advance(DeadlineBudget / 2)
		h.pushFix()

		reports, failures := h.snapshot()
		require.Len(t, reports, 1)
		require.Empty(t, failures)
		require.Equal(t, geofence.Inside(), region.Evaluation().Classification)

		// The old deadline was cancelled.
		h.advance(DeadlineBudget)

		require.Equal(t, StateProcessing, h.scheduler.State())
		require.Zero(t, h.recorder.failed.Load())
	})
}

// TestScheduler_DeadlineExceeded fails once when no fix arrives in time and stays failed.
func TestScheduler_DeadlineExceeded(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, authorized())
		defer h.stop()

		h.add("a", 0, 30)

		h.advance(InterCycleDelay - DeadlineBudget)
		require.Equal(t, StateProcessing, h.scheduler.State())

		h.advance(DeadlineBudget - time.Millisecond)
		require.Equal(t, StateProcessing, h.scheduler.State())

		h.advance(time.Millisecond)
		require.Equal(t, StateFailed, h.scheduler.State())

		_, failures := h.snapshot()
		require.Len(t, failures, 1)
		require.ErrorIs(t, failures[0], ErrDeadlineExceeded)

		// No automatic retry; a fix arriving now does nothing.
		h.pushFix()
		h.advance(time.Minute)

		reports, failures := h.snapshot()
		require.Empty(t, reports)
		require.Len(t, failures, 1)
		require.Equal(t, StateFailed, h.scheduler.State())
		require.Equal(t, int32(1), h.recorder.failed.Load())

		continuous, coarse := h.sim.Updating()
		require.False(t, continuous)
		require.False(t, coarse)

		// An explicit retry starts over and succeeds with the fix now available.
		h.scheduler.Retry()
		synctest.Wait()
		require.Equal(t, StateProcessing, h.scheduler.State())

		h.advance(InterCycleDelay - DeadlineBudget)

		reports, _ = h.snapshot()
		require.Len(t, reports, 1)
	})
}

// TestScheduler_MutationDiscardsInFlightResult drops results of a superseded generation.
func TestScheduler_MutationDiscardsInFlightResult(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var (
			release = make(chan struct{})
			calls   atomic.Int32
		)

		blocking := func(fix *geofence.Fix, regions []geofence.Snapshot, maxDistance float64) (*proximity.Partition, error) {
			if calls.Add(1) == 1 {
				<-release
			}

			return proximity.Classify(fix, regions, maxDistance)
		}

		h := newHarness(t, authorized(), WithClassifier(blocking))
		defer h.stop()

		h.pushFix()
		h.add("a", 0, 30)

		// Classification of generation one is now blocked in flight.
		h.advance(InterCycleDelay - DeadlineBudget)
		require.Equal(t, int32(1), calls.Load())

		firstGeneration := h.scheduler.Generation()

		h.add("b", 50, 5)
		require.Greater(t, h.scheduler.Generation(), firstGeneration)

		close(release)
		synctest.Wait()

		reports, failures := h.snapshot()
		require.Empty(t, reports)
		require.Empty(t, failures)
		require.Equal(t, int32(1), h.recorder.discarded.Load())

		// The new cycle runs normally and sees both regions.
		h.advance(InterCycleDelay - DeadlineBudget)

		reports, _ = h.snapshot()
		require.Len(t, reports, 1)
		require.Len(t, reports[0].Regions, 2)
		require.Equal(t, map[int][]string{40: {"b"}}, reports[0].Partition.Buckets)
	})
}

// TestScheduler_QueuedResultLosesToQueuedReload drops a result that is queued
// together with a reload while the actor is busy.
func TestScheduler_QueuedResultLosesToQueuedReload(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var (
			release = make(chan struct{})
			calls   atomic.Int32
		)

		blocking := func(fix *geofence.Fix, regions []geofence.Snapshot, maxDistance float64) (*proximity.Partition, error) {
			if calls.Add(1) == 1 {
				<-release
			}

			return proximity.Classify(fix, regions, maxDistance)
		}

		sim := positioning.NewSimulator(authorized()...)
		provider := &gatedProvider{Simulator: sim, gate: make(chan struct{})}

		h := startHarness(t, sim, provider, WithClassifier(blocking))
		defer h.stop()

		h.pushFix()
		h.add("a", 0, 30)

		h.advance(InterCycleDelay - DeadlineBudget)
		require.Equal(t, int32(1), calls.Load())

		// Park the actor inside the provider while handling an authorization change.
		provider.armed.Store(true)
		sim.SetAuthorizationStatus(positioning.StatusAuthorizedWhenInUse)
		synctest.Wait()

		// Queue the classification result, then a reload behind it.
		close(release)
		synctest.Wait()

		h.add("b", 50, 5)

		close(provider.gate)
		synctest.Wait()

		reports, failures := h.snapshot()
		require.Empty(t, reports)
		require.Empty(t, failures)
		require.Empty(t, sim.Monitored())
		require.Equal(t, int32(1), h.recorder.discarded.Load())
		require.Equal(t, StateProcessing, h.scheduler.State())

		h.advance(InterCycleDelay - DeadlineBudget)

		reports, _ = h.snapshot()
		require.Len(t, reports, 1)
		require.Len(t, reports[0].Regions, 2)
	})
}

// TestScheduler_LateResultAfterDeadline ignores a result that arrives after the failure.
func TestScheduler_LateResultAfterDeadline(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		release := make(chan struct{})

		slow := func(fix *geofence.Fix, regions []geofence.Snapshot, maxDistance float64) (*proximity.Partition, error) {
			<-release

			return proximity.Classify(fix, regions, maxDistance)
		}

		h := newHarness(t, authorized(), WithClassifier(slow))
		defer h.stop()

		h.pushFix()
		h.add("a", 0, 30)

		h.advance(InterCycleDelay)
		require.Equal(t, StateFailed, h.scheduler.State())

		close(release)
		synctest.Wait()

		reports, failures := h.snapshot()
		require.Empty(t, reports)
		require.Len(t, failures, 1)
		require.Equal(t, StateFailed, h.scheduler.State())
		require.Equal(t, int32(1), h.recorder.discarded.Load())
	})
}

// TestScheduler_RemovingLastRegionGoesIdle clears monitoring when the registry empties.
func TestScheduler_RemovingLastRegionGoesIdle(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, authorized())
		defer h.stop()

		h.pushFix()
		h.add("a", 0, 30)
		h.advance(InterCycleDelay - DeadlineBudget)
		require.Equal(t, []string{"a"}, h.sim.Monitored())

		h.registry.Remove(t.Context(), "a")
		synctest.Wait()

		require.Equal(t, StateIdle, h.scheduler.State())
		require.Empty(t, h.sim.Monitored())

		// No timer survives the reload.
		h.advance(time.Minute)

		_, failures := h.snapshot()
		require.Empty(t, failures)
		require.Equal(t, StateIdle, h.scheduler.State())
	})
}

// TestScheduler_OversizedRegionsAreNotMonitored keeps regions above the provider limit out of the active set.
func TestScheduler_OversizedRegionsAreNotMonitored(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, []positioning.SimulatorOption{
			positioning.WithAuthorizationStatus(positioning.StatusAuthorizedAlways),
			positioning.WithMaximumMonitoringDistance(1_000),
		})
		defer h.stop()

		h.pushFix()
		huge := h.add("huge", 0, 5_000)
		small := h.add("small", 0, 10)

		h.advance(InterCycleDelay - DeadlineBudget)

		require.Equal(t, []string{"small"}, h.sim.Monitored())

		evaluation := huge.Evaluation()
		require.Equal(t, geofence.Inside(), evaluation.Classification)
		require.InDelta(t, -5_000, evaluation.Distance, 1e-6)
		require.InDelta(t, 1_000, evaluation.MonitoringRadius, 0)
		require.False(t, evaluation.Active)

		require.InDelta(t, 10, small.Evaluation().MonitoringRadius, 0)
	})
}

// TestScheduler_MaxActiveRegions caps the monitored set.
func TestScheduler_MaxActiveRegions(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, authorized(), WithMaxActiveRegions(2))
		defer h.stop()

		h.pushFix()
		h.add("c", 150, 1)
		h.add("a", 0, 30)
		h.add("b", 60, 1)

		h.advance(InterCycleDelay - DeadlineBudget)

		require.Equal(t, []string{"a", "b"}, h.sim.Monitored())
	})
}

// TestScheduler_CustomTiming honours WithTiming.
func TestScheduler_CustomTiming(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, authorized(), WithTiming(3*time.Second, time.Second))
		defer h.stop()

		h.add("a", 0, 30)

		h.advance(2 * time.Second)
		h.advance(time.Second)

		require.Equal(t, StateFailed, h.scheduler.State())
	})
}

// TestScheduler_RunTwice rejects a second concurrent Run.
func TestScheduler_RunTwice(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil)
		defer h.stop()

		err := h.scheduler.Run(t.Context())
		require.True(t, errors.Is(err, errAlreadyRunning))
	})
}

// TestStateString covers state names.
func TestStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "processing", StateProcessing.String())
	require.Equal(t, "failed", StateFailed.String())
	require.Equal(t, "unknown", State(42).String())
}
