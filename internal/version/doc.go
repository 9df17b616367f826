// Package version exposes geofencer build metadata.
//
// Version, Commit and BuildTime are set through -ldflags -X at build time.
// When they are left at their defaults, the VCS stamp embedded by the Go
// toolchain is used instead.
package version
