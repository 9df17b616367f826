package scheduler

// State is the lifecycle state of the processing cycle.
type State int32

const (
	// StateIdle means no regions are registered and no timer is armed.
	StateIdle State = iota
	// StateProcessing means a cycle is in flight.
	StateProcessing
	// StateFailed means the last cycle missed its deadline.
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
