// Package geofencer wires the region registry, the processing cycle scheduler
// and a positioning provider into one Manager, and runs the geofence-server
// process around it.
//
// The Manager is an explicit context object: callers create it, run it under
// their own context and pass it to whatever needs to register regions.
package geofencer
