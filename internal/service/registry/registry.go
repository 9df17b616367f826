package registry

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/oshokin/geofencer/internal/domain/geofence"
	"github.com/oshokin/geofencer/internal/logger"
)

var (
	// ErrDuplicateRegion matches every DuplicateRegionError.
	ErrDuplicateRegion = errors.New("duplicate region")
	// errRegionRequired is returned when Add receives a nil region.
	errRegionRequired = errors.New("region must be provided")
)

// DuplicateRegionError is returned when a region id is already registered.
type DuplicateRegionError struct {
	// ID is the colliding identifier.
	ID string
}

// Error implements error.
func (e *DuplicateRegionError) Error() string {
	return fmt.Sprintf("region %q is already monitored", e.ID)
}

// Is makes errors.Is(err, ErrDuplicateRegion) succeed.
func (e *DuplicateRegionError) Is(target error) bool {
	return target == ErrDuplicateRegion
}

// ChangeKind describes a registry mutation.
type ChangeKind int

const (
	// ChangeAdded is emitted after a region has been added.
	ChangeAdded ChangeKind = iota + 1
	// ChangeRemoved is emitted after a remove call, even for unknown ids.
	ChangeRemoved
	// ChangeCleared is emitted after the registry was emptied.
	ChangeCleared
)

// String implements fmt.Stringer.
func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	case ChangeCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Change is passed to subscribers after a mutation.
type Change struct {
	// Kind is what happened.
	Kind ChangeKind
	// RegionID is the affected region, empty for ChangeCleared.
	RegionID string
	// Size is the number of regions after the mutation.
	Size int
}

// Subscriber is notified after every mutation, outside the registry lock.
type Subscriber func(ctx context.Context, change Change)

// Registry is a concurrency-safe ordered set of regions.
type Registry struct {
	// mu protects regions, index and subscribers.
	mu sync.RWMutex
	// regions keeps insertion order.
	regions []*geofence.Region
	// index maps region ids to their handles.
	index map[string]*geofence.Region
	// subscribers are invoked after each mutation.
	subscribers []Subscriber
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		index: make(map[string]*geofence.Region),
	}
}

// Subscribe registers fn to be called after every mutation.
func (r *Registry) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.subscribers = append(r.subscribers, fn)
}

// Add appends region. It fails with *DuplicateRegionError when the id is taken,
// leaving the registry untouched.
func (r *Registry) Add(ctx context.Context, region *geofence.Region) error {
	if region == nil {
		return errRegionRequired
	}

	r.mu.Lock()

	if _, exists := r.index[region.ID()]; exists {
		r.mu.Unlock()

		return &DuplicateRegionError{ID: region.ID()}
	}

	r.regions = append(r.regions, region)
	r.index[region.ID()] = region
	size := len(r.regions)

	r.mu.Unlock()

	logger.DebugKV(ctx, "Region added", "region_id", region.ID(), "radius", region.Radius(), "size", size)
	r.notify(ctx, Change{Kind: ChangeAdded, RegionID: region.ID(), Size: size})

	return nil
}

// Remove deletes the region with the given id and reports whether it existed.
// Subscribers are notified either way.
func (r *Registry) Remove(ctx context.Context, id string) bool {
	r.mu.Lock()

	_, existed := r.index[id]
	if existed {
		delete(r.index, id)
		r.regions = slices.DeleteFunc(r.regions, func(region *geofence.Region) bool {
			return region.ID() == id
		})
	}

	size := len(r.regions)

	r.mu.Unlock()

	logger.DebugKV(ctx, "Region removed", "region_id", id, "existed", existed, "size", size)
	r.notify(ctx, Change{Kind: ChangeRemoved, RegionID: id, Size: size})

	return existed
}

// Clear removes every region.
func (r *Registry) Clear(ctx context.Context) {
	r.mu.Lock()
	r.regions = nil
	r.index = make(map[string]*geofence.Region)
	r.mu.Unlock()

	r.notify(ctx, Change{Kind: ChangeCleared})
}

// Get returns the live handle of the region with the given id.
func (r *Registry) Get(id string) (*geofence.Region, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	region, ok := r.index[id]

	return region, ok
}

// Len returns the number of registered regions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.regions)
}

// All yields snapshots of the registered regions in insertion order.
// Each iteration reads the registry afresh, so the sequence can be reused.
func (r *Registry) All() iter.Seq[geofence.Snapshot] {
	return func(yield func(geofence.Snapshot) bool) {
		r.mu.RLock()
		regions := slices.Clone(r.regions)
		r.mu.RUnlock()

		for _, region := range regions {
			if !yield(region.Snapshot()) {
				return
			}
		}
	}
}

// notify calls the subscribers with the registry lock released.
func (r *Registry) notify(ctx context.Context, change Change) {
	r.mu.RLock()
	subscribers := slices.Clone(r.subscribers)
	r.mu.RUnlock()

	for _, fn := range subscribers {
		fn(ctx, change)
	}
}
