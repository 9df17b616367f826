package scheduler

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTiming overrides the cycle period and the deadline budget.
// Values that would leave no warm-up delay are ignored.
func WithTiming(interCycleDelay, deadlineBudget time.Duration) Option {
	return func(s *Scheduler) {
		if deadlineBudget > 0 && interCycleDelay > deadlineBudget {
			s.interCycleDelay = interCycleDelay
			s.deadlineBudget = deadlineBudget
		}
	}
}

// WithMaxActiveRegions caps the number of actively monitored regions.
// Zero disables the cap.
func WithMaxActiveRegions(limit int) Option {
	return func(s *Scheduler) {
		if limit >= 0 {
			s.maxActive = limit
		}
	}
}

// WithClassifier replaces the classification function.
func WithClassifier(fn ClassifyFunc) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.classify = fn
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithTracer sets the tracer used for classification spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithOnClassificationComplete registers the completion callback.
// It runs on the actor goroutine and must not block.
func WithOnClassificationComplete(fn func(ctx context.Context, report *Report)) Option {
	return func(s *Scheduler) {
		s.onComplete = fn
	}
}

// WithOnCycleFailed registers the failure callback.
// It runs on the actor goroutine and must not block.
func WithOnCycleFailed(fn func(ctx context.Context, err error)) Option {
	return func(s *Scheduler) {
		s.onFailed = fn
	}
}
