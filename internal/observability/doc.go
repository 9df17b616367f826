// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for the geofencer.
//
// Collector implements the scheduler Recorder, exposes a gRPC interceptor for
// RPC counts and latencies, and serves the /metrics handler. InitTracing sets
// up the global tracer provider used for classification spans.
package observability
