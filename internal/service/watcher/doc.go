// Package watcher polls a geofencer server and logs region transitions
// (enter, approach, leave) and processing cycle state changes.
package watcher
