package geofencer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/oshokin/geofencer/internal/domain/geofence"
	"github.com/oshokin/geofencer/internal/logger"
	"github.com/oshokin/geofencer/internal/positioning"
	repository "github.com/oshokin/geofencer/internal/repository/regions"
	"github.com/oshokin/geofencer/internal/service/registry"
	"github.com/oshokin/geofencer/internal/service/scheduler"
)

// Manager owns the registry and the scheduler for one positioning provider.
type Manager struct {
	// regions holds the registered regions.
	regions *registry.Registry
	// scheduler runs the processing cycle.
	scheduler *scheduler.Scheduler
	// repo persists regions when set.
	repo repository.Repository
	// schedulerOpts are passed to the scheduler.
	schedulerOpts []scheduler.Option

	// mu serializes mutations with their persistence.
	mu sync.Mutex
}

// Option configures the Manager.
type Option func(*Manager)

// WithRepository seeds the registry from repo on start and persists every mutation.
func WithRepository(repo repository.Repository) Option {
	return func(m *Manager) {
		m.repo = repo
	}
}

// WithSchedulerOptions passes options through to the scheduler.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(m *Manager) {
		m.schedulerOpts = append(m.schedulerOpts, opts...)
	}
}

// WithOnClassificationComplete registers the completed-cycle observer.
func WithOnClassificationComplete(fn func(ctx context.Context, report *scheduler.Report)) Option {
	return WithSchedulerOptions(scheduler.WithOnClassificationComplete(fn))
}

// WithOnCycleFailed registers the missed-deadline observer.
func WithOnCycleFailed(fn func(ctx context.Context, err error)) Option {
	return WithSchedulerOptions(scheduler.WithOnCycleFailed(fn))
}

// New builds a Manager around provider. Nothing runs until Run is called.
func New(provider positioning.Provider, opts ...Option) *Manager {
	m := &Manager{
		regions: registry.New(),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.scheduler = scheduler.New(provider, m.regions, m.schedulerOpts...)

	m.regions.Subscribe(func(context.Context, registry.Change) {
		m.scheduler.Reload()
	})

	return m
}

// Run seeds the registry and drives the scheduler until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "manager")

	if err := m.seed(ctx); err != nil {
		return err
	}

	return m.scheduler.Run(ctx)
}

// MonitorRegion registers a region. An empty id is replaced with a generated one.
// When the registry cannot be persisted the region is unregistered again.
func (m *Manager) MonitorRegion(
	ctx context.Context,
	id string,
	center geofence.Coordinate,
	radius float64,
) (*geofence.Region, error) {
	region, err := geofence.NewRegion(id, center, radius)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err = m.regions.Add(ctx, region); err != nil {
		return nil, err
	}

	if err = m.persist(ctx); err != nil {
		// Undo the registration so a retry is not rejected as a duplicate.
		m.regions.Remove(ctx, region.ID())

		return nil, err
	}

	return region, nil
}

// UnmonitorRegion removes a region. Unknown ids are not an error.
func (m *Manager) UnmonitorRegion(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.regions.Remove(ctx, id) {
		logger.DebugKV(ctx, "Region to unmonitor not found", "region_id", id)
	}

	return m.persist(ctx)
}

// Region returns a registered region.
func (m *Manager) Region(id string) (*geofence.Region, bool) {
	return m.regions.Get(id)
}

// Regions returns snapshots of every region in registration order.
func (m *Manager) Regions() []geofence.Snapshot {
	return slices.Collect(m.regions.All())
}

// CurrentState returns the scheduler state.
func (m *Manager) CurrentState() scheduler.State {
	return m.scheduler.State()
}

// Generation returns the current cycle generation.
func (m *Manager) Generation() uint64 {
	return m.scheduler.Generation()
}

// Retry restarts the cycle, leaving the Failed state.
func (m *Manager) Retry(ctx context.Context) {
	logger.InfoKV(ctx, "Retrying processing cycle", "state", m.scheduler.State().String())

	m.scheduler.Retry()
}

// seed loads persisted regions into the registry.
func (m *Manager) seed(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}

	stored, err := m.repo.Load(ctx)

	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("load regions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, region := range stored {
		if err = m.regions.Add(ctx, region); err != nil {
			logger.WarnKV(ctx, "Skipping stored region", "region_id", region.ID(), "error", err)
		}
	}

	logger.InfoKV(ctx, "Regions restored", "regions", m.regions.Len())

	return nil
}

// persist writes the registry to the repository. Callers hold m.mu.
func (m *Manager) persist(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}

	if err := m.repo.Save(ctx, m.Regions()); err != nil {
		logger.ErrorKV(ctx, "Failed to persist regions", "error", err)

		return fmt.Errorf("persist regions: %w", err)
	}

	return nil
}
