package positioning

import (
	"context"
	"errors"

	"github.com/oshokin/geofencer/internal/domain/geofence"
)

// ErrNotAuthorized is returned when updates are requested without authorization.
var ErrNotAuthorized = errors.New("location access is not authorized")

// AuthorizationLevel is the access level requested from the provider.
type AuthorizationLevel int

const (
	// AuthorizationWhenInUse grants access while the application is active.
	AuthorizationWhenInUse AuthorizationLevel = iota + 1
	// AuthorizationAlways grants access in the background too.
	AuthorizationAlways
)

// String implements fmt.Stringer.
func (l AuthorizationLevel) String() string {
	switch l {
	case AuthorizationWhenInUse:
		return "when_in_use"
	case AuthorizationAlways:
		return "always"
	default:
		return "unknown"
	}
}

// AuthorizationStatus is the current authorization state of the provider.
type AuthorizationStatus int

const (
	// StatusNotDetermined means authorization has not been requested yet.
	StatusNotDetermined AuthorizationStatus = iota
	// StatusDenied means the user refused location access.
	StatusDenied
	// StatusAuthorizedWhenInUse means foreground access was granted.
	StatusAuthorizedWhenInUse
	// StatusAuthorizedAlways means background access was granted.
	StatusAuthorizedAlways
)

// Authorized reports whether fixes can be delivered.
func (s AuthorizationStatus) Authorized() bool {
	return s == StatusAuthorizedWhenInUse || s == StatusAuthorizedAlways
}

// String implements fmt.Stringer.
func (s AuthorizationStatus) String() string {
	switch s {
	case StatusDenied:
		return "denied"
	case StatusAuthorizedWhenInUse:
		return "authorized_when_in_use"
	case StatusAuthorizedAlways:
		return "authorized_always"
	default:
		return "not_determined"
	}
}

// Event is emitted by a Provider.
type Event interface {
	isEvent()
}

// FixReceived carries a fresh location fix.
type FixReceived struct {
	// Fix is the new position.
	Fix *geofence.Fix
}

// AuthorizationChanged reports a change of the authorization status.
type AuthorizationChanged struct {
	// Status is the new authorization status.
	Status AuthorizationStatus
}

func (FixReceived) isEvent()          {}
func (AuthorizationChanged) isEvent() {}

// Provider is the external positioning service.
type Provider interface {
	// RequestAuthorization asks for access; it is a no-op once determined.
	RequestAuthorization(ctx context.Context, level AuthorizationLevel) error
	// StartContinuousUpdates turns on fine-grained location updates.
	StartContinuousUpdates(ctx context.Context) error
	// StartCoarseUpdates turns on significant-change updates.
	StartCoarseUpdates(ctx context.Context) error
	// StopAllUpdates turns every kind of update off.
	StopAllUpdates(ctx context.Context) error
	// CurrentFix returns the most recent fix, if there is one.
	CurrentFix() (*geofence.Fix, bool)
	// MaximumMonitoringDistance is the largest radius the provider can monitor.
	MaximumMonitoringDistance() float64
	// SetActivelyMonitored replaces the set of actively monitored regions.
	SetActivelyMonitored(ctx context.Context, regionIDs []string) error
	// Events streams provider events. The channel is never closed.
	Events() <-chan Event
}
