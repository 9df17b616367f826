// Package geofence contains the core domain types of the geofencer.
//
// It defines Coordinate and Fix (where the device is), Region (a circular
// geofence with immutable geometry and mutable evaluation state) and its
// read-only Snapshot, together with the Classification a region receives on
// every processing cycle.
package geofence
