// Package config defines the geofencer settings shared by the binaries and
// provides helpers to load, validate and save them in YAML format.
//
// Environment variables prefixed with GEOFENCER_ override selected fields
// after the file has been read; see ApplyEnv.
package config
