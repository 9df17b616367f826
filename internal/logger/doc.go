// Package logger wraps zap for the geofencer binaries.
//
// A global sugared logger with a plain console encoder is created at start-up;
// components attach named or field-enriched copies to their context
// (WithName, WithKV, WithFields) and log through the package helpers, which
// always pick the logger out of the context first.
package logger
