// Package geofence implements the gRPC transport for the geofencer service.
//
// The service descriptor is declared by hand over protobuf well-known types
// (structpb, wrapperspb, emptypb), so no generated code is needed. The
// package exposes a server that calls into a provided business-service
// interface and a thin typed client.
package geofence
