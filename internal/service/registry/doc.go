// Package registry owns the set of monitored geofences.
//
// The Registry keeps regions in insertion order, rejects duplicate
// identifiers and notifies its subscribers after every mutation so the
// scheduler can restart its processing cycle.
package registry
