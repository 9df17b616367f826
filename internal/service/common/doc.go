// Package common holds helpers shared by several services.
//
// It provides a lightweight GeofenceService client wrapper with timeouts and
// utilities to detect the current system actor (hostname/username), which the
// client attaches to every call for the server's audit log.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
