package scheduler

import "time"

// Recorder receives cycle telemetry.
type Recorder interface {
	// CycleStarted is called whenever a start timer is armed.
	CycleStarted()
	// CycleCompleted is called after a successful classification.
	CycleCompleted(elapsed time.Duration, report *Report)
	// CycleFailed is called when the deadline expires.
	CycleFailed()
	// ResultDiscarded is called for results of superseded cycles.
	ResultDiscarded()
	// StateChanged is called on every state transition.
	StateChanged(state State)
}

// noopRecorder discards everything.
type noopRecorder struct{}

func (noopRecorder) CycleStarted()                         {}
func (noopRecorder) CycleCompleted(time.Duration, *Report) {}
func (noopRecorder) CycleFailed()                          {}
func (noopRecorder) ResultDiscarded()                      {}
func (noopRecorder) StateChanged(State)                    {}
