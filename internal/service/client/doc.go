// Package client implements the geofence-client commands.
//
// Every remote command connects to the geofencer server, performs one call
// and prints the outcome. Classify works offline against a regions file.
package client
