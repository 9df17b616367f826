// Package scheduler drives the bounded-time geofence processing cycle.
//
// A single actor goroutine (Scheduler.Run) owns the cycle state. Registry
// mutations, timer expiries, provider events and classification results are
// queued to it and handled one at a time. Each cycle is tagged with a
// generation number; timer expiries and classification results carrying an
// older generation are dropped.
//
// Cycle timeline: a reload arms the start timer (InterCycleDelay minus
// DeadlineBudget), whose expiry arms the deadline timer and classifies the
// current fix. Completion stores the outcome in every region, hands the
// nearest regions to the provider and schedules the next cycle. Deadline
// expiry moves the scheduler to StateFailed until the next reload.
package scheduler
